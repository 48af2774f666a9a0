package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Command modes and statuses.
const (
	ModeSuggest  = "SUGGEST"
	ModeStrong   = "STRONG"
	ModeOverride = "OVERRIDE"

	CommandQueued    = "QUEUED"
	CommandAccepted  = "ACCEPTED"
	CommandExecuted  = "EXECUTED"
	CommandRejected  = "REJECTED"
	CommandExpired   = "EXPIRED"
	CommandCancelled = "CANCELLED"
)

// AgentCommand is one queued operator intent.
type AgentCommand struct {
	ID                   string        `db:"id"`
	AgentID              string        `db:"agent_id"`
	IssuerType           string        `db:"issuer_type"`
	IssuerTelegramUserID string        `db:"issuer_telegram_user_id"`
	Mode                 string        `db:"mode"`
	Intent               string        `db:"intent"`
	Params               string        `db:"params"`
	Constraints          string        `db:"constraints"`
	AuditMeta            string        `db:"audit_meta"`
	Priority             int           `db:"priority"`
	CreatedTick          int64         `db:"created_tick"`
	ExpiresAtTick        sql.NullInt64 `db:"expires_at_tick"`
	Status               string        `db:"status"`
	Result               string        `db:"result"`
	CreatedAt            time.Time     `db:"created_at"`
}

// IsTerminal reports whether the command status can never transition again.
func (c *AgentCommand) IsTerminal() bool {
	switch c.Status {
	case CommandExecuted, CommandRejected, CommandExpired, CommandCancelled:
		return true
	}
	return false
}

// InsertCommand writes a new command row.
func InsertCommand(q Queryer, c *AgentCommand) error {
	_, err := q.Exec(`
		INSERT INTO agent_commands (id, agent_id, issuer_type, issuer_telegram_user_id,
			mode, intent, params, constraints, audit_meta, priority, created_tick,
			expires_at_tick, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AgentID, c.IssuerType, c.IssuerTelegramUserID,
		c.Mode, c.Intent, c.Params, c.Constraints, c.AuditMeta, c.Priority, c.CreatedTick,
		c.ExpiresAtTick, c.Status)
	if err != nil {
		return translate(fmt.Errorf("store.InsertCommand: %w", err))
	}
	return nil
}

// GetCommand fetches one command.
func GetCommand(q Queryer, id string) (*AgentCommand, error) {
	var c AgentCommand
	err := q.Get(&c, `SELECT * FROM agent_commands WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetCommand: %w", err)
	}
	return &c, nil
}

// NextQueuedCommand returns the highest-priority QUEUED command for an
// agent, ties broken by creation time ascending.
func NextQueuedCommand(q Queryer, agentID string) (*AgentCommand, error) {
	var c AgentCommand
	err := q.Get(&c, `
		SELECT * FROM agent_commands
		WHERE agent_id = ? AND status = ?
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT 1`, agentID, CommandQueued)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.NextQueuedCommand: %w", err)
	}
	return &c, nil
}

// TransitionCommand moves a command from one status to another atomically
// (compare-and-set). Returns ErrConflict when the row was not in `from`.
func TransitionCommand(q Queryer, id, from, to, result string) error {
	res, err := q.Exec(`
		UPDATE agent_commands SET status = ?, result = ?
		WHERE id = ? AND status = ?`, to, result, id, from)
	if err != nil {
		return fmt.Errorf("store.TransitionCommand: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// ExpireQueuedCommands marks every QUEUED command for the agent whose TTL
// elapsed before currentTick as EXPIRED. Returns the number expired.
func ExpireQueuedCommands(q Queryer, agentID string, currentTick int64) (int64, error) {
	res, err := q.Exec(`
		UPDATE agent_commands SET status = ?
		WHERE agent_id = ? AND status = ?
			AND expires_at_tick IS NOT NULL AND expires_at_tick < ?`,
		CommandExpired, agentID, CommandQueued, currentTick)
	if err != nil {
		return 0, fmt.Errorf("store.ExpireQueuedCommands: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CancelQueuedCommands cancels every QUEUED command for the agent.
func CancelQueuedCommands(q Queryer, agentID, reason string) (int64, error) {
	res, err := q.Exec(`
		UPDATE agent_commands SET status = ?, result = ?
		WHERE agent_id = ? AND status = ?`,
		CommandCancelled, reason, agentID, CommandQueued)
	if err != nil {
		return 0, fmt.Errorf("store.CancelQueuedCommands: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
