package games

import (
	"encoding/json"
	"fmt"
)

// Rock-paper-scissors, best of three, hard cap at five rounds. Both
// players submit each round; the round scores once both choices are in.
// An unrecognized choice is replaced with a seed-derived one rather than
// rejected, so a confused model never stalls the match.

func init() { register(&rpsEngine{}) }

var rpsChoices = []string{"rock", "paper", "scissors"}

const (
	rpsWinTarget = 2
	rpsMaxRounds = 5
)

type rpsRound struct {
	P1 string `json:"p1"`
	P2 string `json:"p2"`
}

type rpsState struct {
	Players  [2]string  `json:"players"`
	Seed     int64      `json:"seed"`
	Pending  [2]string  `json:"pending"` // this round's choices, "" = not yet
	Rounds   []rpsRound `json:"rounds"`
	Score    [2]int     `json:"score"`
	Complete bool       `json:"complete"`
	Winner   string     `json:"winner"`
}

type rpsEngine struct{}

func (e *rpsEngine) Name() string { return TypeRPS }

func (e *rpsEngine) Init(p1, p2 string, seed int64) (json.RawMessage, error) {
	return json.Marshal(&rpsState{Players: [2]string{p1, p2}, Seed: seed})
}

func loadRPS(state json.RawMessage) (*rpsState, error) {
	var s rpsState
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("rps state: %w", err)
	}
	return &s, nil
}

func (s *rpsState) playerIndex(player string) int {
	for i, p := range s.Players {
		if p == player {
			return i
		}
	}
	return -1
}

func rpsBeats(a, b string) bool {
	switch a {
	case "rock":
		return b == "scissors"
	case "paper":
		return b == "rock"
	case "scissors":
		return b == "paper"
	}
	return false
}

func (e *rpsEngine) ProcessAction(state json.RawMessage, player, action string) (json.RawMessage, error) {
	s, err := loadRPS(state)
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
	if s.Pending[idx] != "" {
		return nil, fmt.Errorf("%w: choice already submitted this round", ErrInvalidAction)
	}

	valid := false
	for _, c := range rpsChoices {
		if action == c {
			valid = true
			break
		}
	}
	if !valid {
		// Randomize rather than reject.
		n := s.Seed + int64(len(s.Rounds))*3 + int64(idx)
		if n < 0 {
			n = -n
		}
		action = rpsChoices[n%3]
	}
	s.Pending[idx] = action

	if s.Pending[0] != "" && s.Pending[1] != "" {
		s.Rounds = append(s.Rounds, rpsRound{P1: s.Pending[0], P2: s.Pending[1]})
		switch {
		case rpsBeats(s.Pending[0], s.Pending[1]):
			s.Score[0]++
		case rpsBeats(s.Pending[1], s.Pending[0]):
			s.Score[1]++
		}
		s.Pending = [2]string{}
		e.settle(s)
	}
	return json.Marshal(s)
}

func (e *rpsEngine) settle(s *rpsState) {
	switch {
	case s.Score[0] >= rpsWinTarget:
		s.Complete, s.Winner = true, s.Players[0]
	case s.Score[1] >= rpsWinTarget:
		s.Complete, s.Winner = true, s.Players[1]
	case len(s.Rounds) >= rpsMaxRounds:
		s.Complete = true
		switch {
		case s.Score[0] > s.Score[1]:
			s.Winner = s.Players[0]
		case s.Score[1] > s.Score[0]:
			s.Winner = s.Players[1]
		default:
			s.Winner = DrawWinner
		}
	}
}

func (e *rpsEngine) ValidActions(state json.RawMessage, player string) ([]string, error) {
	s, err := loadRPS(state)
	if err != nil {
		return nil, err
	}
	idx := s.playerIndex(player)
	if s.Complete || idx < 0 || s.Pending[idx] != "" {
		return nil, nil
	}
	return append([]string(nil), rpsChoices...), nil
}

func (e *rpsEngine) CurrentTurn(state json.RawMessage) (string, error) {
	s, err := loadRPS(state)
	if err != nil {
		return "", err
	}
	if s.Complete {
		return "", nil
	}
	// Simultaneous game: report a waiting player if exactly one is pending.
	if s.Pending[0] == "" && s.Pending[1] != "" {
		return s.Players[0], nil
	}
	if s.Pending[1] == "" && s.Pending[0] != "" {
		return s.Players[1], nil
	}
	return "", nil
}

func (e *rpsEngine) IsComplete(state json.RawMessage) (bool, error) {
	s, err := loadRPS(state)
	if err != nil {
		return false, err
	}
	return s.Complete, nil
}

func (e *rpsEngine) Winner(state json.RawMessage) (string, error) {
	s, err := loadRPS(state)
	if err != nil {
		return "", err
	}
	return s.Winner, nil
}

func (e *rpsEngine) View(state json.RawMessage, viewer string) (json.RawMessage, error) {
	s, err := loadRPS(state)
	if err != nil {
		return nil, err
	}
	// Hide the opponent's pending choice; show only whether it landed.
	v := *s
	idx := s.playerIndex(viewer)
	for i := range v.Pending {
		if i != idx && v.Pending[i] != "" {
			v.Pending[i] = "submitted"
		}
	}
	v.Seed = 0
	return json.Marshal(&v)
}
