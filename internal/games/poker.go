package games

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// Heads-up no-limit hold'em, fixed stacks of 1000, escalating blinds, a
// capped number of hands. The match winner is whoever holds more chips
// when a player busts or the hand cap is reached.

func init() { register(&pokerEngine{}) }

const pokerStartChips = 1000

// pokerMaxHands is set from configuration at startup, before any match
// starts.
var pokerMaxHands = 5

// SetPokerMaxHands overrides the hand cap for new matches.
func SetPokerMaxHands(n int) {
	if n > 0 {
		pokerMaxHands = n
	}
}

// blindsFor returns (small, big) for a hand number.
func blindsFor(hand int) (int, int) {
	switch {
	case hand >= 5:
		return 50, 100
	case hand >= 3:
		return 25, 50
	default:
		return 10, 20
	}
}

// Streets.
const (
	streetPreflop = "preflop"
	streetFlop    = "flop"
	streetTurn    = "turn"
	streetRiver   = "river"
)

type pokerState struct {
	Players  [2]string `json:"players"`
	Seed     int64     `json:"seed"`
	Chips    [2]int    `json:"chips"`
	HandNum  int       `json:"handNum"`
	MaxHands int       `json:"maxHands"`
	Button   int       `json:"button"`

	Deck   []int  `json:"deck"`
	Hole   [2][]int `json:"hole"`
	Board  []int  `json:"board"`
	Street string `json:"street"`

	Pot   int    `json:"pot"`
	Bets  [2]int `json:"bets"` // committed this street
	ToAct int    `json:"toAct"`
	Acted [2]bool `json:"acted"`
	AllIn [2]bool `json:"allIn"`

	Log []string `json:"log"`

	Complete bool   `json:"complete"`
	Winner   string `json:"winner"`
}

type pokerEngine struct{}

func (e *pokerEngine) Name() string { return TypePoker }

func (e *pokerEngine) Init(p1, p2 string, seed int64) (json.RawMessage, error) {
	s := &pokerState{
		Players:  [2]string{p1, p2},
		Seed:     seed,
		Chips:    [2]int{pokerStartChips, pokerStartChips},
		MaxHands: pokerMaxHands,
		Button:   1, // startHand flips it, so hand 1 has player 0 on the button
	}
	s.startHand()
	return json.Marshal(s)
}

func loadPoker(state json.RawMessage) (*pokerState, error) {
	var s pokerState
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("poker state: %w", err)
	}
	return &s, nil
}

func (s *pokerState) playerIndex(player string) int {
	for i, p := range s.Players {
		if p == player {
			return i
		}
	}
	return -1
}

func (s *pokerState) startHand() {
	s.HandNum++
	s.Button = 1 - s.Button
	s.Street = streetPreflop
	s.Board = nil
	s.Pot = 0
	s.Bets = [2]int{}
	s.Acted = [2]bool{}
	s.AllIn = [2]bool{}

	rng := rand.New(rand.NewSource(s.Seed + int64(s.HandNum)))
	s.Deck = rng.Perm(52)
	s.Hole[0] = []int{s.draw(), s.draw()}
	s.Hole[1] = []int{s.draw(), s.draw()}

	sb, bb := blindsFor(s.HandNum)
	sbIdx, bbIdx := s.Button, 1-s.Button
	s.post(sbIdx, sb)
	s.post(bbIdx, bb)
	s.ToAct = sbIdx // heads-up: button posts the small blind and opens
	s.Log = append(s.Log, fmt.Sprintf("hand %d: blinds %d/%d, %s on the button",
		s.HandNum, sb, bb, s.Players[s.Button]))

	// A blind can put a short stack all-in before anyone acts.
	if s.AllIn[sbIdx] {
		s.Acted[sbIdx] = true
		s.ToAct = bbIdx
	}
	if s.AllIn[bbIdx] {
		s.Acted[bbIdx] = true
	}
	if s.AllIn[sbIdx] && s.AllIn[bbIdx] {
		s.maybeAdvance()
	}
}

func (s *pokerState) draw() int {
	c := s.Deck[0]
	s.Deck = s.Deck[1:]
	return c
}

// post commits chips from a player's stack into the street bet.
func (s *pokerState) post(idx, amount int) {
	if amount > s.Chips[idx] {
		amount = s.Chips[idx]
	}
	s.Chips[idx] -= amount
	s.Bets[idx] += amount
	s.Pot += amount
	if s.Chips[idx] == 0 {
		s.AllIn[idx] = true
	}
}

func (s *pokerState) bigBlind() int {
	_, bb := blindsFor(s.HandNum)
	return bb
}

// parseRaise extracts an amount from "raise 150" or "raise:150"; zero when
// absent.
func parseRaise(action string) int {
	f := strings.FieldsFunc(action, func(r rune) bool { return r == ' ' || r == ':' })
	if len(f) < 2 {
		return 0
	}
	n, err := strconv.Atoi(f[1])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// NormalizePokerAction maps common model mistakes onto legal actions:
// "allin"/"all in" to all-in, "bet" to raise, and call/raise with nothing
// to call or no chips behind down to check/call.
func NormalizePokerAction(state json.RawMessage, player, action string) string {
	s, err := loadPoker(state)
	if err != nil {
		return action
	}
	idx := s.playerIndex(player)
	if idx < 0 || s.Complete {
		return action
	}

	a := strings.ToLower(strings.TrimSpace(action))
	verb := a
	if f := strings.FieldsFunc(a, func(r rune) bool { return r == ' ' || r == ':' }); len(f) > 0 {
		verb = f[0]
	}
	toCall := s.Bets[1-idx] - s.Bets[idx]

	switch verb {
	case "allin", "all_in", "shove", "jam":
		return "all-in"
	case "bet":
		return "raise" + strings.TrimPrefix(a, "bet")
	case "call":
		if toCall <= 0 {
			return "check"
		}
	case "check":
		if toCall > 0 {
			return "call" // checking into a bet means calling it
		}
	case "raise":
		if s.AllIn[1-idx] {
			return "call" // nothing left to raise against
		}
	}
	return a
}

func (e *pokerEngine) ProcessAction(state json.RawMessage, player, action string) (json.RawMessage, error) {
	s, err := loadPoker(state)
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
	if idx != s.ToAct {
		return nil, ErrNotYourTurn
	}

	opp := 1 - idx
	toCall := s.Bets[opp] - s.Bets[idx]
	a := strings.ToLower(strings.TrimSpace(action))
	verb := a
	if f := strings.FieldsFunc(a, func(r rune) bool { return r == ' ' || r == ':' }); len(f) > 0 {
		verb = f[0]
	}

	switch verb {
	case "fold":
		s.Log = append(s.Log, s.Players[idx]+" folds")
		s.awardHand(opp)
		return json.Marshal(s)

	case "check":
		if toCall > 0 {
			return nil, fmt.Errorf("%w: cannot check facing a bet of %d", ErrInvalidAction, toCall)
		}
		s.Log = append(s.Log, s.Players[idx]+" checks")
		s.Acted[idx] = true

	case "call":
		if toCall <= 0 {
			return nil, fmt.Errorf("%w: nothing to call", ErrInvalidAction)
		}
		s.post(idx, toCall)
		s.Log = append(s.Log, fmt.Sprintf("%s calls %d", s.Players[idx], toCall))
		s.Acted[idx] = true

	case "raise":
		if s.AllIn[opp] {
			return nil, fmt.Errorf("%w: opponent is all-in", ErrInvalidAction)
		}
		raiseBy := parseRaise(a)
		min := s.bigBlind()
		if raiseBy < min {
			raiseBy = min
		}
		s.post(idx, toCall+raiseBy)
		s.Log = append(s.Log, fmt.Sprintf("%s raises to %d", s.Players[idx], s.Bets[idx]))
		s.Acted[idx] = true
		s.Acted[opp] = false

	case "all-in":
		s.post(idx, s.Chips[idx])
		s.Log = append(s.Log, s.Players[idx]+" is all-in for "+strconv.Itoa(s.Bets[idx]))
		s.Acted[idx] = true
		if s.Bets[idx] > s.Bets[opp] {
			s.Acted[opp] = false
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	s.maybeAdvance()
	return json.Marshal(s)
}

// maybeAdvance closes the betting round when both players have acted and
// the bets match, dealing the next street or reaching showdown.
func (s *pokerState) maybeAdvance() {
	opp := 1 - s.ToAct
	if !s.Acted[0] || !s.Acted[1] {
		s.ToAct = opp
		return
	}

	// Refund any uncalled excess when the shorter stack is all-in.
	if s.Bets[0] != s.Bets[1] {
		big := 0
		if s.Bets[1] > s.Bets[0] {
			big = 1
		}
		excess := s.Bets[big] - s.Bets[1-big]
		s.Bets[big] -= excess
		s.Chips[big] += excess
		s.Pot -= excess
		if s.Chips[big] > 0 {
			s.AllIn[big] = false
		}
	}

	if s.AllIn[0] || s.AllIn[1] {
		// No more betting; run the board out.
		for len(s.Board) < 5 {
			s.Board = append(s.Board, s.draw())
		}
		s.showdown()
		return
	}

	switch s.Street {
	case streetPreflop:
		s.Street = streetFlop
		s.Board = append(s.Board, s.draw(), s.draw(), s.draw())
	case streetFlop:
		s.Street = streetTurn
		s.Board = append(s.Board, s.draw())
	case streetTurn:
		s.Street = streetRiver
		s.Board = append(s.Board, s.draw())
	case streetRiver:
		s.showdown()
		return
	}

	s.Bets = [2]int{}
	s.Acted = [2]bool{}
	s.ToAct = 1 - s.Button // heads-up: non-button acts first postflop
	s.Log = append(s.Log, s.Street+": "+strings.Join(cardStrings(s.Board), " "))
}

func (s *pokerState) showdown() {
	score0 := evaluate7(append(append([]int{}, s.Hole[0]...), s.Board...))
	score1 := evaluate7(append(append([]int{}, s.Hole[1]...), s.Board...))
	s.Log = append(s.Log, fmt.Sprintf("showdown: %s shows %s (%s), %s shows %s (%s)",
		s.Players[0], strings.Join(cardStrings(s.Hole[0]), " "), handName(score0),
		s.Players[1], strings.Join(cardStrings(s.Hole[1]), " "), handName(score1)))

	switch {
	case score0 > score1:
		s.awardHand(0)
	case score1 > score0:
		s.awardHand(1)
	default:
		// Chopped pot; the odd chip goes to the button.
		half := s.Pot / 2
		s.Chips[0] += half
		s.Chips[1] += half
		s.Chips[s.Button] += s.Pot - 2*half
		s.Pot = 0
		s.Log = append(s.Log, "pot chopped")
		s.nextHandOrFinish()
	}
}

func (s *pokerState) awardHand(winner int) {
	s.Chips[winner] += s.Pot
	s.Log = append(s.Log, fmt.Sprintf("%s wins the pot (%d)", s.Players[winner], s.Pot))
	s.Pot = 0
	s.nextHandOrFinish()
}

func (s *pokerState) nextHandOrFinish() {
	if s.Chips[0] == 0 || s.Chips[1] == 0 || s.HandNum >= s.MaxHands {
		s.Complete = true
		switch {
		case s.Chips[0] > s.Chips[1]:
			s.Winner = s.Players[0]
		case s.Chips[1] > s.Chips[0]:
			s.Winner = s.Players[1]
		default:
			s.Winner = DrawWinner
		}
		return
	}
	s.startHand()
}

func (e *pokerEngine) ValidActions(state json.RawMessage, player string) ([]string, error) {
	s, err := loadPoker(state)
	if err != nil {
		return nil, err
	}
	idx := s.playerIndex(player)
	if s.Complete || idx < 0 || idx != s.ToAct {
		return nil, nil
	}
	toCall := s.Bets[1-idx] - s.Bets[idx]
	actions := []string{"fold"}
	if toCall > 0 {
		actions = append(actions, "call")
	} else {
		actions = append(actions, "check")
	}
	if !s.AllIn[1-idx] && s.Chips[idx] > toCall {
		actions = append(actions, "raise")
	}
	if s.Chips[idx] > 0 {
		actions = append(actions, "all-in")
	}
	return actions, nil
}

func (e *pokerEngine) CurrentTurn(state json.RawMessage) (string, error) {
	s, err := loadPoker(state)
	if err != nil {
		return "", err
	}
	if s.Complete {
		return "", nil
	}
	return s.Players[s.ToAct], nil
}

func (e *pokerEngine) IsComplete(state json.RawMessage) (bool, error) {
	s, err := loadPoker(state)
	if err != nil {
		return false, err
	}
	return s.Complete, nil
}

func (e *pokerEngine) Winner(state json.RawMessage) (string, error) {
	s, err := loadPoker(state)
	if err != nil {
		return "", err
	}
	return s.Winner, nil
}

// pokerView hides hole cards and the deck.
type pokerView struct {
	Players  [2]string `json:"players"`
	Chips    [2]int    `json:"chips"`
	HandNum  int       `json:"handNum"`
	MaxHands int       `json:"maxHands"`
	Street   string    `json:"street"`
	Board    []string  `json:"board"`
	Pot      int       `json:"pot"`
	Bets     [2]int    `json:"bets"`
	ToCall   int       `json:"toCall"`
	YourHole []string  `json:"yourHole,omitempty"`
	Turn     string    `json:"turn,omitempty"`
	Log      []string  `json:"log"`
	Complete bool      `json:"complete"`
	Winner   string    `json:"winner,omitempty"`
}

func (e *pokerEngine) View(state json.RawMessage, viewer string) (json.RawMessage, error) {
	s, err := loadPoker(state)
	if err != nil {
		return nil, err
	}
	v := pokerView{
		Players:  s.Players,
		Chips:    s.Chips,
		HandNum:  s.HandNum,
		MaxHands: s.MaxHands,
		Street:   s.Street,
		Board:    cardStrings(s.Board),
		Pot:      s.Pot,
		Bets:     s.Bets,
		Log:      s.Log,
		Complete: s.Complete,
		Winner:   s.Winner,
	}
	if idx := s.playerIndex(viewer); idx >= 0 {
		v.YourHole = cardStrings(s.Hole[idx])
		v.ToCall = s.Bets[1-idx] - s.Bets[idx]
		if v.ToCall < 0 {
			v.ToCall = 0
		}
	}
	if !s.Complete {
		v.Turn = s.Players[s.ToAct]
	}
	// Keep the log bounded in transit.
	if len(v.Log) > 20 {
		v.Log = v.Log[len(v.Log)-20:]
	}
	return json.Marshal(&v)
}
