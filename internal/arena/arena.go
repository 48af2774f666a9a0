// Package arena orchestrates wagered 1v1 matches: escrowed wagers, turn
// sequencing over the game engines, settlement with rake and Elo, and
// cleanup of abandoned games.
package arena

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"town/internal/games"
	"town/internal/llm"
	"town/internal/social"
	"town/internal/store"
)

const (
	// MinWager is the smallest stake a match accepts.
	MinWager = 10

	rakeBps = 500 // 5% of the pot

	staleAfter = 30 * time.Minute

	lockHighWater = 100
)

var (
	ErrPrecondition = errors.New("match precondition failed")
	ErrNotInMatch   = errors.New("agent is not in this match")
	ErrMatchState   = errors.New("match is not in the right state")
)

// ResolveHook runs after settlement commits, off the hot path. Hooks must
// be idempotent by match id; the arena deduplicates best-effort only
// within one process lifetime.
type ResolveHook func(matchID string)

type matchLock struct {
	mu   sync.Mutex
	done bool // match reached a terminal state; lock is evictable
}

// Service is the match orchestrator.
type Service struct {
	store  *store.Store
	social *social.Service
	llm    llm.Client
	model  string

	hookMu    sync.Mutex
	hooks     []ResolveHook
	hookSeen  map[string]bool

	locksMu sync.Mutex
	locks   map[string]*matchLock
}

// NewService creates the arena. llm may be nil; AI turns then use
// archetype heuristics only.
func NewService(st *store.Store, soc *social.Service, client llm.Client, model string) *Service {
	return &Service{
		store:    st,
		social:   soc,
		llm:      client,
		model:    model,
		hookSeen: map[string]bool{},
		locks:    map[string]*matchLock{},
	}
}

// OnResolve registers a post-settlement hook.
func (s *Service) OnResolve(h ResolveHook) {
	s.hookMu.Lock()
	s.hooks = append(s.hooks, h)
	s.hookMu.Unlock()
}

// lockFor returns the serialization lock for a match, evicting dead locks
// when the table grows past the high-water mark.
func (s *Service) lockFor(matchID string) *matchLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if len(s.locks) > lockHighWater {
		for id, l := range s.locks {
			if l.done {
				delete(s.locks, id)
			}
		}
	}
	l, ok := s.locks[matchID]
	if !ok {
		l = &matchLock{}
		s.locks[matchID] = l
	}
	return l
}

func (s *Service) retireLock(matchID string) {
	s.locksMu.Lock()
	if l, ok := s.locks[matchID]; ok {
		l.done = true
	}
	s.locksMu.Unlock()
}

// checkEligible verifies an agent can enter a wagered match.
func checkEligible(tx *sqlx.Tx, agentID string, wager int64) (*store.Agent, error) {
	a, err := store.GetAgent(tx, agentID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive {
		return nil, fmt.Errorf("%w: %s is inactive", ErrPrecondition, a.Name)
	}
	if a.IsInMatch {
		return nil, fmt.Errorf("%w: %s is already in a match", ErrPrecondition, a.Name)
	}
	if a.Bankroll < wager {
		return nil, fmt.Errorf("%w: %s cannot cover the wager", ErrPrecondition, a.Name)
	}
	return a, nil
}

// CreateMatch opens a match. With an opponent it starts immediately;
// without one it waits for a join. Every precondition failure rolls the
// whole thing back.
func (s *Service) CreateMatch(creatorID, opponentID, gameType string, wager int64) (*store.Match, error) {
	if wager < MinWager {
		return nil, fmt.Errorf("%w: wager %d below minimum %d", ErrPrecondition, wager, MinWager)
	}
	engine, err := games.Get(gameType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	if opponentID == creatorID {
		return nil, fmt.Errorf("%w: cannot challenge yourself", ErrPrecondition)
	}

	m := &store.Match{
		ID:       uuid.NewString(),
		GameType: gameType,
		Status:   store.MatchWaiting,
	}
	err = s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		creator, err := checkEligible(tx, creatorID, wager)
		if err != nil {
			return err
		}
		if err := store.AdjustBankroll(tx, creatorID, -wager); err != nil {
			return err
		}
		m.Player1ID = creator.ID
		m.WagerAmount = wager
		m.TotalPot = wager

		if opponentID != "" {
			opp, err := checkEligible(tx, opponentID, wager)
			if err != nil {
				return err
			}
			if err := store.AdjustBankroll(tx, opponentID, -wager); err != nil {
				return err
			}
			state, err := engine.Init(creator.ID, opp.ID, time.Now().UnixNano())
			if err != nil {
				return err
			}
			m.Player2ID = sql.NullString{String: opp.ID, Valid: true}
			m.TotalPot = 2 * wager
			m.Status = store.MatchActive
			m.GameState = string(state)
			m.StartedAt = sql.NullTime{Time: time.Now(), Valid: true}
			if turn, _ := engine.CurrentTurn(state); turn != "" {
				m.CurrentTurnID = sql.NullString{String: turn, Valid: true}
			}
			if err := store.SetAgentMatch(tx, opponentID, m.ID); err != nil {
				return err
			}
		}
		if err := store.SetAgentMatch(tx, creatorID, m.ID); err != nil {
			return err
		}
		return store.CreateMatch(tx, m)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Arena] match %s created: %s, wager %d, status %s", m.ID, gameType, wager, m.Status)
	return m, nil
}

// JoinMatch fills the open seat of a WAITING match and starts the game.
func (s *Service) JoinMatch(matchID, agentID string) (*store.Match, error) {
	var m *store.Match
	err := s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		var err error
		m, err = store.GetMatch(tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != store.MatchWaiting {
			return fmt.Errorf("%w: match is %s", ErrMatchState, m.Status)
		}
		if m.Player1ID == agentID {
			return fmt.Errorf("%w: cannot join your own match", ErrPrecondition)
		}
		if _, err := checkEligible(tx, agentID, m.WagerAmount); err != nil {
			return err
		}
		if err := store.AdjustBankroll(tx, agentID, -m.WagerAmount); err != nil {
			return err
		}

		engine, err := games.Get(m.GameType)
		if err != nil {
			return err
		}
		state, err := engine.Init(m.Player1ID, agentID, time.Now().UnixNano())
		if err != nil {
			return err
		}
		m.Player2ID = sql.NullString{String: agentID, Valid: true}
		m.TotalPot = 2 * m.WagerAmount
		m.Status = store.MatchActive
		m.GameState = string(state)
		m.StartedAt = sql.NullTime{Time: time.Now(), Valid: true}
		if turn, _ := engine.CurrentTurn(state); turn != "" {
			m.CurrentTurnID = sql.NullString{String: turn, Valid: true}
		} else {
			m.CurrentTurnID = sql.NullString{}
		}
		if err := store.SetAgentMatch(tx, agentID, m.ID); err != nil {
			return err
		}
		return store.UpdateMatch(tx, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MatchState is the redacted per-viewer picture of a match.
type MatchState struct {
	Match        *store.Match    `json:"match"`
	View         json.RawMessage `json:"view"`
	ValidActions []string        `json:"validActions,omitempty"`
	YourTurn     bool            `json:"yourTurn"`
}

// GetMatchState computes the viewer-specific state on demand. Spectators
// (any non-participant, viewer == "" included) get the redacted
// spectator view.
func (s *Service) GetMatchState(matchID, viewerID string) (*MatchState, error) {
	m, err := store.GetMatch(s.store.DB(), matchID)
	if err != nil {
		return nil, err
	}
	out := &MatchState{Match: m}
	if m.GameState == "" {
		return out, nil
	}
	engine, err := games.Get(m.GameType)
	if err != nil {
		return nil, err
	}

	viewer := viewerID
	if !m.HasPlayer(viewerID) {
		viewer = "" // spectator
	}
	view, err := engine.View(json.RawMessage(m.GameState), viewer)
	if err != nil {
		return nil, err
	}
	out.View = view
	if viewer != "" && m.Status == store.MatchActive {
		out.ValidActions, _ = engine.ValidActions(json.RawMessage(m.GameState), viewer)
		turn, _ := engine.CurrentTurn(json.RawMessage(m.GameState))
		out.YourTurn = turn == viewer || (turn == "" && len(out.ValidActions) > 0)
	}
	return out, nil
}

// SubmitMove applies one player action. Moves for the same match are
// serialized on a per-match lock; the engines reject out-of-turn play.
func (s *Service) SubmitMove(matchID, agentID, action, reasoning string, costCents int64) (*store.Match, error) {
	l := s.lockFor(matchID)
	l.mu.Lock()
	defer l.mu.Unlock()

	var m *store.Match
	err := s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		var err error
		m, err = store.GetMatch(tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != store.MatchActive {
			return fmt.Errorf("%w: match is %s", ErrMatchState, m.Status)
		}
		if !m.HasPlayer(agentID) {
			return ErrNotInMatch
		}
		engine, err := games.Get(m.GameType)
		if err != nil {
			return err
		}

		if m.GameType == games.TypePoker {
			action = games.NormalizePokerAction(json.RawMessage(m.GameState), agentID, action)
		}

		before := m.GameState
		state, err := engine.ProcessAction(json.RawMessage(m.GameState), agentID, action)
		if err != nil {
			return err
		}

		m.TurnNumber++
		m.GameState = string(state)
		if err := store.AppendMove(tx, &store.Move{
			MatchID:         matchID,
			TurnNumber:      m.TurnNumber,
			AgentID:         agentID,
			Action:          action,
			Reasoning:       reasoning,
			CostCents:       costCents,
			GameStateBefore: before,
		}); err != nil {
			return err
		}

		done, err := engine.IsComplete(state)
		if err != nil {
			return err
		}
		if done {
			winner, err := engine.Winner(state)
			if err != nil {
				return err
			}
			return s.resolve(tx, m, winner)
		}

		if turn, _ := engine.CurrentTurn(state); turn != "" {
			m.CurrentTurnID = sql.NullString{String: turn, Valid: true}
		} else {
			m.CurrentTurnID = sql.NullString{}
		}
		return store.UpdateMatch(tx, m)
	})
	if err != nil {
		return nil, err
	}
	if m.Status == store.MatchCompleted {
		s.afterResolve(m.ID)
	}
	if m.Status != store.MatchActive {
		s.retireLock(matchID)
	}
	return m, nil
}

// CancelMatch unwinds a WAITING or ACTIVE match, refunding both wagers in
// full.
func (s *Service) CancelMatch(matchID, reason string) error {
	l := s.lockFor(matchID)
	l.mu.Lock()
	defer l.mu.Unlock()

	err := s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		m, err := store.GetMatch(tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != store.MatchWaiting && m.Status != store.MatchActive {
			return fmt.Errorf("%w: match is %s", ErrMatchState, m.Status)
		}
		return s.cancelLocked(tx, m, reason)
	})
	if err != nil {
		return err
	}
	s.retireLock(matchID)
	return nil
}

func (s *Service) cancelLocked(tx *sqlx.Tx, m *store.Match, reason string) error {
	if err := store.AdjustBankroll(tx, m.Player1ID, m.WagerAmount); err != nil {
		return err
	}
	if err := store.SetAgentMatch(tx, m.Player1ID, ""); err != nil {
		return err
	}
	if m.Player2ID.Valid {
		if err := store.AdjustBankroll(tx, m.Player2ID.String, m.WagerAmount); err != nil {
			return err
		}
		if err := store.SetAgentMatch(tx, m.Player2ID.String, ""); err != nil {
			return err
		}
	}
	m.Status = store.MatchCancelled
	m.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
	m.CurrentTurnID = sql.NullString{}
	log.Printf("[Arena] match %s cancelled: %s", m.ID, reason)
	return store.UpdateMatch(tx, m)
}

// CleanupStaleMatches cancels matches stuck in WAITING or ACTIVE for over
// thirty minutes. Returns how many were unwound.
func (s *Service) CleanupStaleMatches() (int, error) {
	stale, err := store.ListStaleMatches(s.store.DB(), time.Now().Add(-staleAfter))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range stale {
		if err := s.CancelMatch(m.ID, "stale"); err != nil {
			log.Printf("[Arena] cleanup of %s failed: %v", m.ID, err)
			continue
		}
		n++
	}
	if n > 0 {
		log.Printf("[Arena] cleaned up %d stale matches", n)
	}
	return n, nil
}
