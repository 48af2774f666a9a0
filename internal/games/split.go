package games

import (
	"encoding/json"
	"fmt"
)

// Split-or-steal: one simultaneous decision each. Split/split and
// steal/steal are draws; a lone stealer takes the pot. Unrecognized
// choices default to split, the cooperative read of a confused response.

func init() { register(&splitEngine{}) }

type splitState struct {
	Players  [2]string `json:"players"`
	Choices  [2]string `json:"choices"` // "" until submitted
	Complete bool      `json:"complete"`
	Winner   string    `json:"winner"`
}

type splitEngine struct{}

func (e *splitEngine) Name() string { return TypeSplitOrSteal }

func (e *splitEngine) Init(p1, p2 string, seed int64) (json.RawMessage, error) {
	return json.Marshal(&splitState{Players: [2]string{p1, p2}})
}

func loadSplit(state json.RawMessage) (*splitState, error) {
	var s splitState
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("split state: %w", err)
	}
	return &s, nil
}

func (s *splitState) playerIndex(player string) int {
	for i, p := range s.Players {
		if p == player {
			return i
		}
	}
	return -1
}

func (e *splitEngine) ProcessAction(state json.RawMessage, player, action string) (json.RawMessage, error) {
	s, err := loadSplit(state)
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
	if s.Choices[idx] != "" {
		return nil, fmt.Errorf("%w: choice already submitted", ErrInvalidAction)
	}
	if action != "split" && action != "steal" {
		action = "split"
	}
	s.Choices[idx] = action

	if s.Choices[0] != "" && s.Choices[1] != "" {
		s.Complete = true
		switch {
		case s.Choices[0] == "steal" && s.Choices[1] == "split":
			s.Winner = s.Players[0]
		case s.Choices[1] == "steal" && s.Choices[0] == "split":
			s.Winner = s.Players[1]
		default:
			s.Winner = DrawWinner
		}
	}
	return json.Marshal(s)
}

func (e *splitEngine) ValidActions(state json.RawMessage, player string) ([]string, error) {
	s, err := loadSplit(state)
	if err != nil {
		return nil, err
	}
	idx := s.playerIndex(player)
	if s.Complete || idx < 0 || s.Choices[idx] != "" {
		return nil, nil
	}
	return []string{"split", "steal"}, nil
}

func (e *splitEngine) CurrentTurn(state json.RawMessage) (string, error) {
	s, err := loadSplit(state)
	if err != nil {
		return "", err
	}
	if s.Complete {
		return "", nil
	}
	if s.Choices[0] == "" && s.Choices[1] != "" {
		return s.Players[0], nil
	}
	if s.Choices[1] == "" && s.Choices[0] != "" {
		return s.Players[1], nil
	}
	return "", nil
}

func (e *splitEngine) IsComplete(state json.RawMessage) (bool, error) {
	s, err := loadSplit(state)
	if err != nil {
		return false, err
	}
	return s.Complete, nil
}

func (e *splitEngine) Winner(state json.RawMessage) (string, error) {
	s, err := loadSplit(state)
	if err != nil {
		return "", err
	}
	return s.Winner, nil
}

func (e *splitEngine) View(state json.RawMessage, viewer string) (json.RawMessage, error) {
	s, err := loadSplit(state)
	if err != nil {
		return nil, err
	}
	v := *s
	idx := s.playerIndex(viewer)
	if !v.Complete {
		for i := range v.Choices {
			if i != idx && v.Choices[i] != "" {
				v.Choices[i] = "submitted"
			}
		}
	}
	return json.Marshal(&v)
}
