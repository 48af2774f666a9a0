// Package commands is the operator command queue: humans (or upstream
// bots) steer agents by queuing intents that the tick pipeline picks up
// by priority. SUGGEST is advisory, STRONG is insistent, OVERRIDE
// preempts the agent's own decision entirely.
package commands

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"town/internal/store"
)

var (
	ErrUnknownIntent   = errors.New("unknown command intent")
	ErrUnknownMode     = errors.New("unknown command mode")
	ErrIssuerForbidden = errors.New("issuer may not use this mode")
	ErrNotIssuer       = errors.New("only the issuer may cancel a command")
)

// Issuer types.
const (
	IssuerOperator = "OPERATOR"
	IssuerCrew     = "CREW"
	IssuerSystem   = "SYSTEM"
)

// The closed intent set. Anything else is rejected at enqueue time so the
// tick pipeline never sees junk.
var validIntents = map[string]bool{
	"claim_plot":     true,
	"start_build":    true,
	"do_work":        true,
	"complete_build": true,
	"buy_arena":      true,
	"sell_arena":     true,
	"play_arena":     true,
	"transfer_arena": true,
	"buy_skill":      true,
	"trade":          true,
	"rest":           true,
	"crew_raid":      true,
	"crew_defend":    true,
	"crew_farm":      true,
	"crew_trade":     true,
}

// modePriority maps command modes to their base priority.
var modePriority = map[string]int{
	store.ModeSuggest:  50,
	store.ModeStrong:   80,
	store.ModeOverride: 95,
}

// Service owns command lifecycle.
type Service struct {
	store *store.Store
}

// NewService creates the command service.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// CreateOpts shapes a new command.
type CreateOpts struct {
	AgentID        string
	IssuerType     string
	IssuerID       string // telegram user id or internal issuer tag
	IssuerVerified bool   // STRONG and OVERRIDE require a verified issuer
	Mode           string
	Intent         string
	Params         map[string]interface{}
	Constraints    map[string]interface{}
	PriorityBoost  int   // added to the mode's base, clamped to 0..100
	TTLTicks       int64 // 0 = never expires
	CurrentTick    int64
}

// Create validates and enqueues a command.
func (s *Service) Create(opts CreateOpts) (*store.AgentCommand, error) {
	base, ok := modePriority[opts.Mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}
	if !validIntents[opts.Intent] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, opts.Intent)
	}
	if (opts.Mode == store.ModeStrong || opts.Mode == store.ModeOverride) && !opts.IssuerVerified {
		return nil, fmt.Errorf("%w: %s requires a verified issuer", ErrIssuerForbidden, opts.Mode)
	}

	priority := base + opts.PriorityBoost
	if priority < 0 {
		priority = 0
	}
	if priority > 100 {
		priority = 100
	}

	params, _ := json.Marshal(opts.Params)
	constraints, _ := json.Marshal(opts.Constraints)
	audit, _ := json.Marshal(map[string]interface{}{
		"issuerType": opts.IssuerType,
		"issuerId":   opts.IssuerID,
		"verified":   opts.IssuerVerified,
	})

	cmd := &store.AgentCommand{
		ID:                   uuid.NewString(),
		AgentID:              opts.AgentID,
		IssuerType:           opts.IssuerType,
		IssuerTelegramUserID: opts.IssuerID,
		Mode:                 opts.Mode,
		Intent:               opts.Intent,
		Params:               string(params),
		Constraints:          string(constraints),
		AuditMeta:            string(audit),
		Priority:             priority,
		CreatedTick:          opts.CurrentTick,
		Status:               store.CommandQueued,
	}
	if opts.TTLTicks > 0 {
		cmd.ExpiresAtTick = sql.NullInt64{Int64: opts.CurrentTick + opts.TTLTicks, Valid: true}
	}

	err := s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		if _, err := store.GetAgent(tx, opts.AgentID); err != nil {
			return err
		}
		return store.InsertCommand(tx, cmd)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Commands] queued %s %s for %s (priority %d)", cmd.Mode, cmd.Intent, cmd.AgentID, cmd.Priority)
	return cmd, nil
}

// AcceptNext expires stale commands for the agent, then claims the
// highest-priority QUEUED one via compare-and-set. Returns ErrNotFound
// when the queue is empty.
func (s *Service) AcceptNext(tx *sqlx.Tx, agentID string, currentTick int64) (*store.AgentCommand, error) {
	if _, err := store.ExpireQueuedCommands(tx, agentID, currentTick); err != nil {
		return nil, err
	}
	for {
		cmd, err := store.NextQueuedCommand(tx, agentID)
		if err != nil {
			return nil, err
		}
		err = store.TransitionCommand(tx, cmd.ID, store.CommandQueued, store.CommandAccepted, "")
		if errors.Is(err, store.ErrConflict) {
			continue // raced with a cancel; take the next one
		}
		if err != nil {
			return nil, err
		}
		cmd.Status = store.CommandAccepted
		return cmd, nil
	}
}

// MarkExecuted finishes an accepted command with a result payload.
func (s *Service) MarkExecuted(tx *sqlx.Tx, id, result string) error {
	return store.TransitionCommand(tx, id, store.CommandAccepted, store.CommandExecuted, result)
}

// MarkRejected finishes an accepted command that the agent could not or
// would not carry out.
func (s *Service) MarkRejected(tx *sqlx.Tx, id, reason string) error {
	return store.TransitionCommand(tx, id, store.CommandAccepted, store.CommandRejected, reason)
}

// Cancel cancels one QUEUED command. Only the original issuer (or SYSTEM)
// may cancel.
func (s *Service) Cancel(id, issuerID string) error {
	return s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		cmd, err := store.GetCommand(tx, id)
		if err != nil {
			return err
		}
		if cmd.IssuerTelegramUserID != issuerID && cmd.IssuerType != IssuerSystem {
			return ErrNotIssuer
		}
		return store.TransitionCommand(tx, id, store.CommandQueued, store.CommandCancelled, "cancelled by issuer")
	})
}

// CancelAll cancels every QUEUED command for an agent (used when an agent
// deactivates).
func (s *Service) CancelAll(agentID, reason string) (int64, error) {
	var n int64
	err := s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		var err error
		n, err = store.CancelQueuedCommands(tx, agentID, reason)
		return err
	})
	return n, err
}
