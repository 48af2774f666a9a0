// Package social maintains the pairwise relationship graph: scores move
// on interactions and cross thresholds into FRIEND or RIVAL status.
package social

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"town/internal/store"
)

// Interaction kinds.
const (
	KindBond = "BOND"
	KindBeef = "BEEF"
)

const (
	scoreClamp      = 30
	deltaClamp      = 7
	friendThreshold = 10
	rivalThreshold  = -10
	friendDropBelow = 4  // FRIEND decays to NEUTRAL under this score
	rivalRiseAbove  = -4 // RIVAL decays to NEUTRAL over this score
	maxFriends      = 2
	pairCooldown    = 45 * time.Second
)

var (
	ErrSelfPair  = errors.New("agent cannot interact with itself")
	ErrWrongSign = errors.New("delta sign does not match interaction kind")
)

// Result describes what one interaction did to the pair.
type Result struct {
	Relationship *store.Relationship
	OnCooldown   bool // interaction ignored, nothing mutated
	StatusBefore string
	FriendCapHit bool // BOND crossed the threshold but a cap blocked FRIEND
}

// Service applies interactions to the relationship graph.
type Service struct {
	store *store.Store
	now   func() time.Time
}

// NewService creates the social graph service.
func NewService(st *store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// UpsertInteraction records one interaction between two agents. BOND
// deltas must be non-negative and BEEF deltas non-positive; a mismatched
// sign is rejected with ErrWrongSign. The delta is clamped to ±7 and the
// running score to ±30. Pairs on the 45s cooldown are left untouched. BOND pushing the score to the friend
// threshold promotes the pair to FRIEND unless either side already has two
// friends; BEEF reaching the rival threshold demotes to RIVAL. Decayed
// scores drop the pair back to NEUTRAL.
func (s *Service) UpsertInteraction(a, b, kind string, delta int) (*Result, error) {
	if a == b {
		return nil, ErrSelfPair
	}
	if kind != KindBond && kind != KindBeef {
		return nil, fmt.Errorf("social.UpsertInteraction: unknown kind %q", kind)
	}

	var res *Result
	err := s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		var err error
		res, err = s.apply(tx, a, b, kind, delta)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ApplyInteraction is UpsertInteraction inside an existing transaction,
// for callers already holding one (the conversation engine, match
// resolution).
func (s *Service) ApplyInteraction(tx *sqlx.Tx, a, b, kind string, delta int) (*Result, error) {
	if a == b {
		return nil, ErrSelfPair
	}
	return s.apply(tx, a, b, kind, delta)
}

func (s *Service) apply(tx *sqlx.Tx, a, b, kind string, delta int) (*Result, error) {
	rel, err := store.EnsureRelationship(tx, a, b)
	if err != nil {
		return nil, err
	}

	now := s.now()
	res := &Result{Relationship: rel, StatusBefore: rel.Status}
	if rel.LastInteractionAt.Valid && now.Sub(rel.LastInteractionAt.Time) < pairCooldown {
		res.OnCooldown = true
		return res, nil
	}

	if kind == KindBeef && delta > 0 {
		return nil, fmt.Errorf("social: %w: BEEF with delta %d", ErrWrongSign, delta)
	}
	if kind == KindBond && delta < 0 {
		return nil, fmt.Errorf("social: %w: BOND with delta %d", ErrWrongSign, delta)
	}
	delta = clampInt(delta, -deltaClamp, deltaClamp)
	rel.Score = clampInt(rel.Score+delta, -scoreClamp, scoreClamp)
	store.TouchInteraction(tx, rel, now)

	switch rel.Status {
	case store.RelNeutral:
		if kind == KindBond && rel.Score >= friendThreshold {
			capped, err := friendCapReached(tx, a, b)
			if err != nil {
				return nil, err
			}
			if capped {
				res.FriendCapHit = true
			} else {
				rel.Status = store.RelFriend
				rel.FriendSince.Time, rel.FriendSince.Valid = now, true
			}
		} else if kind == KindBeef && rel.Score <= rivalThreshold {
			rel.Status = store.RelRival
			rel.RivalSince.Time, rel.RivalSince.Valid = now, true
		}
	case store.RelFriend:
		if rel.Score < friendDropBelow {
			rel.Status = store.RelNeutral
			rel.FriendSince.Valid = false
		}
	case store.RelRival:
		if rel.Score > rivalRiseAbove {
			rel.Status = store.RelNeutral
			rel.RivalSince.Valid = false
		}
	}

	if err := store.UpdateRelationship(tx, rel); err != nil {
		return nil, err
	}
	return res, nil
}

func friendCapReached(tx *sqlx.Tx, a, b string) (bool, error) {
	for _, id := range []string{a, b} {
		n, err := store.CountFriends(tx, id)
		if err != nil {
			return false, err
		}
		if n >= maxFriends {
			return true, nil
		}
	}
	return false, nil
}

// Standing summarizes an agent's social position for prompts and the API.
type Standing struct {
	Friends []string
	Rivals  []string
}

// GetStanding lists the agent's friends and rivals.
func (s *Service) GetStanding(agentID string) (*Standing, error) {
	rows, err := store.ListRelationships(s.store.DB(), agentID)
	if err != nil {
		return nil, err
	}
	st := &Standing{}
	for _, r := range rows {
		other := r.AgentA
		if other == agentID {
			other = r.AgentB
		}
		switch r.Status {
		case store.RelFriend:
			st.Friends = append(st.Friends, other)
		case store.RelRival:
			st.Rivals = append(st.Rivals, other)
		}
	}
	return st, nil
}
