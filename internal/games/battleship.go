package games

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// Battleship on a 10x10 grid with the classic fleet {5,4,3,3,2}. Fleets
// are placed from the match seed. Players alternate shots; firing out of
// range or at an already-shot cell forfeits the turn instead of erroring,
// so a flailing model loses tempo, not the match.

func init() { register(&battleshipEngine{}) }

const (
	bsGrid = 10
)

var bsFleet = []int{5, 4, 3, 3, 2}

type bsShip struct {
	Cells []int `json:"cells"` // row*10+col
	Hits  int   `json:"hits"`
}

type bsBoard struct {
	Ships []bsShip     `json:"ships"`
	Shots map[string]string `json:"shots"` // cell -> "hit"|"miss", shots fired AT this board
}

type bsState struct {
	Players  [2]string  `json:"players"`
	Boards   [2]bsBoard `json:"boards"`
	Turn     int        `json:"turn"` // index into Players
	Complete bool       `json:"complete"`
	Winner   string     `json:"winner"`
}

type battleshipEngine struct{}

func (e *battleshipEngine) Name() string { return TypeBattleship }

func placeFleet(rng *rand.Rand) []bsShip {
	occupied := map[int]bool{}
	ships := make([]bsShip, 0, len(bsFleet))
	for _, size := range bsFleet {
		for {
			horizontal := rng.Intn(2) == 0
			var row, col int
			if horizontal {
				row, col = rng.Intn(bsGrid), rng.Intn(bsGrid-size+1)
			} else {
				row, col = rng.Intn(bsGrid-size+1), rng.Intn(bsGrid)
			}
			cells := make([]int, size)
			clash := false
			for i := 0; i < size; i++ {
				c := row*bsGrid + col + i
				if !horizontal {
					c = (row+i)*bsGrid + col
				}
				if occupied[c] {
					clash = true
					break
				}
				cells[i] = c
			}
			if clash {
				continue
			}
			for _, c := range cells {
				occupied[c] = true
			}
			ships = append(ships, bsShip{Cells: cells})
			break
		}
	}
	return ships
}

func (e *battleshipEngine) Init(p1, p2 string, seed int64) (json.RawMessage, error) {
	rng := rand.New(rand.NewSource(seed))
	s := &bsState{
		Players: [2]string{p1, p2},
		Boards: [2]bsBoard{
			{Ships: placeFleet(rng), Shots: map[string]string{}},
			{Ships: placeFleet(rng), Shots: map[string]string{}},
		},
	}
	return json.Marshal(s)
}

func loadBS(state json.RawMessage) (*bsState, error) {
	var s bsState
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("battleship state: %w", err)
	}
	return &s, nil
}

func (s *bsState) playerIndex(player string) int {
	for i, p := range s.Players {
		if p == player {
			return i
		}
	}
	return -1
}

// parseTarget accepts "fire r,c", "r,c" or "B7"-style coordinates.
// Returns -1 when unparseable or out of range.
func parseTarget(action string) int {
	a := strings.TrimSpace(strings.ToLower(action))
	a = strings.TrimPrefix(a, "fire")
	a = strings.TrimSpace(a)

	if len(a) >= 2 && a[0] >= 'a' && a[0] <= 'j' {
		col := int(a[0] - 'a')
		row, err := strconv.Atoi(a[1:])
		if err != nil || row < 1 || row > bsGrid {
			return -1
		}
		return (row-1)*bsGrid + col
	}

	parts := strings.Split(a, ",")
	if len(parts) != 2 {
		return -1
	}
	row, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	col, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || row < 0 || row >= bsGrid || col < 0 || col >= bsGrid {
		return -1
	}
	return row*bsGrid + col
}

func (b *bsBoard) allSunk() bool {
	for _, ship := range b.Ships {
		if ship.Hits < len(ship.Cells) {
			return false
		}
	}
	return true
}

func (e *battleshipEngine) ProcessAction(state json.RawMessage, player, action string) (json.RawMessage, error) {
	s, err := loadBS(state)
	if err != nil {
		return nil, err
	}
	if s.Complete {
		return nil, ErrGameComplete
	}
	idx := s.playerIndex(player)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s is not in this match", ErrInvalidAction, player)
	}
	if idx != s.Turn {
		return nil, ErrNotYourTurn
	}

	target := parseTarget(action)
	enemy := &s.Boards[1-idx]
	key := strconv.Itoa(target)

	// Bad coordinates or a repeat shot forfeit the turn.
	if target >= 0 {
		if _, seen := enemy.Shots[key]; !seen {
			result := "miss"
			for i := range enemy.Ships {
				for _, c := range enemy.Ships[i].Cells {
					if c == target {
						enemy.Ships[i].Hits++
						result = "hit"
					}
				}
			}
			enemy.Shots[key] = result
			if enemy.allSunk() {
				s.Complete = true
				s.Winner = s.Players[idx]
			}
		}
	}

	if !s.Complete {
		s.Turn = 1 - idx
	}
	return json.Marshal(s)
}

func (e *battleshipEngine) ValidActions(state json.RawMessage, player string) ([]string, error) {
	s, err := loadBS(state)
	if err != nil {
		return nil, err
	}
	idx := s.playerIndex(player)
	if s.Complete || idx < 0 || idx != s.Turn {
		return nil, nil
	}
	// The full action space is every unshot cell; advertise the format
	// instead of a 100-entry list.
	return []string{"fire <row>,<col>"}, nil
}

func (e *battleshipEngine) CurrentTurn(state json.RawMessage) (string, error) {
	s, err := loadBS(state)
	if err != nil {
		return "", err
	}
	if s.Complete {
		return "", nil
	}
	return s.Players[s.Turn], nil
}

func (e *battleshipEngine) IsComplete(state json.RawMessage) (bool, error) {
	s, err := loadBS(state)
	if err != nil {
		return false, err
	}
	return s.Complete, nil
}

func (e *battleshipEngine) Winner(state json.RawMessage) (string, error) {
	s, err := loadBS(state)
	if err != nil {
		return "", err
	}
	return s.Winner, nil
}

// bsView is the redacted state: shot maps only, never ship positions.
type bsView struct {
	Players   [2]string         `json:"players"`
	YourShots map[string]string `json:"yourShots,omitempty"`
	TheirShots map[string]string `json:"theirShots,omitempty"`
	ShipsLeft [2]int            `json:"shipsLeft"`
	Turn      string            `json:"turn"`
	Complete  bool              `json:"complete"`
	Winner    string            `json:"winner,omitempty"`
}

func (e *battleshipEngine) View(state json.RawMessage, viewer string) (json.RawMessage, error) {
	s, err := loadBS(state)
	if err != nil {
		return nil, err
	}
	v := bsView{Players: s.Players, Complete: s.Complete, Winner: s.Winner}
	if !s.Complete {
		v.Turn = s.Players[s.Turn]
	}
	for i := range s.Boards {
		afloat := 0
		for _, ship := range s.Boards[i].Ships {
			if ship.Hits < len(ship.Cells) {
				afloat++
			}
		}
		v.ShipsLeft[i] = afloat
	}
	if idx := s.playerIndex(viewer); idx >= 0 {
		v.YourShots = s.Boards[1-idx].Shots // where the viewer has fired
		v.TheirShots = s.Boards[idx].Shots  // incoming fire on the viewer
	}
	return json.Marshal(&v)
}
