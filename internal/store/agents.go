package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientFunds is returned when a debit would push a balance
// negative.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Agent archetypes bias action selection, temperature and fallback lines.
const (
	ArchetypeShark     = "SHARK"
	ArchetypeRock      = "ROCK"
	ArchetypeChameleon = "CHAMELEON"
	ArchetypeDegen     = "DEGEN"
	ArchetypeGrinder   = "GRINDER"
)

// Archetypes lists every valid archetype.
var Archetypes = []string{ArchetypeShark, ArchetypeRock, ArchetypeChameleon, ArchetypeDegen, ArchetypeGrinder}

// Agent is one inhabitant of the town.
type Agent struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	OwnerWallet    string         `db:"owner_wallet"`
	APIKeyHash     string         `db:"api_key_hash"`
	Archetype      string         `db:"archetype"`
	Model          string         `db:"model"`
	Bankroll       int64          `db:"bankroll"`
	ReserveBalance int64          `db:"reserve_balance"`
	Health         int            `db:"health"`
	Elo            int            `db:"elo"`
	Wins           int            `db:"wins"`
	Losses         int            `db:"losses"`
	Draws          int            `db:"draws"`
	TotalWagered   int64          `db:"total_wagered"`
	TotalWon       int64          `db:"total_won"`
	APICostCents   int64          `db:"api_cost_cents"`
	RiskTolerance  float64        `db:"risk_tolerance"`
	MaxWagerPct    float64        `db:"max_wager_percent"`
	IsActive       bool           `db:"is_active"`
	IsExternal     bool           `db:"is_external"`
	IsInMatch      bool           `db:"is_in_match"`
	CurrentMatchID sql.NullString `db:"current_match_id"`
	CrewID         sql.NullString `db:"crew_id"`
	Scratchpad     string         `db:"scratchpad"`
	LastActionType string         `db:"last_action_type"`
	LastReasoning  string         `db:"last_reasoning"`
	LastNarrative  string         `db:"last_narrative"`
	LastTargetPlot sql.NullInt64  `db:"last_target_plot"`
	LastTickAt     int64          `db:"last_tick_at"`
	CreatedAt      time.Time      `db:"created_at"`
}

// Profit is totalWon - totalWagered.
func (a *Agent) Profit() int64 {
	return a.TotalWon - a.TotalWagered
}

// CreateAgent inserts a new agent row. Name uniqueness surfaces as
// ErrConflict.
func CreateAgent(q Queryer, a *Agent) error {
	_, err := q.Exec(`
		INSERT INTO agents (id, name, owner_wallet, api_key_hash, archetype, model,
			bankroll, reserve_balance, health, elo, risk_tolerance, max_wager_percent,
			is_active, is_external, crew_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.OwnerWallet, a.APIKeyHash, a.Archetype, a.Model,
		a.Bankroll, a.ReserveBalance, a.Health, a.Elo, a.RiskTolerance, a.MaxWagerPct,
		a.IsActive, a.IsExternal, a.CrewID)
	if err != nil {
		return translate(fmt.Errorf("store.CreateAgent: %w", err))
	}
	return nil
}

// GetAgent fetches one agent by id.
func GetAgent(q Queryer, id string) (*Agent, error) {
	var a Agent
	err := q.Get(&a, `SELECT * FROM agents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetAgent: %w", err)
	}
	return &a, nil
}

// GetAgentByName fetches one agent by display name.
func GetAgentByName(q Queryer, name string) (*Agent, error) {
	var a Agent
	err := q.Get(&a, `SELECT * FROM agents WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetAgentByName: %w", err)
	}
	return &a, nil
}

// ListActiveAgents returns active agents ordered by name, up to limit
// (0 = no limit).
func ListActiveAgents(q Queryer, limit int) ([]Agent, error) {
	query := `SELECT * FROM agents WHERE is_active ORDER BY name`
	var agents []Agent
	var err error
	if limit > 0 {
		err = q.Select(&agents, query+` LIMIT ?`, limit)
	} else {
		err = q.Select(&agents, query)
	}
	if err != nil {
		return nil, fmt.Errorf("store.ListActiveAgents: %w", err)
	}
	return agents, nil
}

// ListPairableAgents returns active agents not in a match whose bankroll
// meets minBankroll. Used by the pairing scheduler.
func ListPairableAgents(q Queryer, minBankroll int64) ([]Agent, error) {
	var agents []Agent
	err := q.Select(&agents, `
		SELECT * FROM agents
		WHERE is_active AND NOT is_in_match AND bankroll >= ?
		ORDER BY name`, minBankroll)
	if err != nil {
		return nil, fmt.Errorf("store.ListPairableAgents: %w", err)
	}
	return agents, nil
}

// AdjustBankroll applies a signed delta to an agent's bankroll. Debits that
// would go negative return ErrInsufficientFunds without mutating.
func AdjustBankroll(q Queryer, agentID string, delta int64) error {
	return adjustBalance(q, agentID, "bankroll", delta)
}

// AdjustReserve applies a signed delta to an agent's reserve balance.
func AdjustReserve(q Queryer, agentID string, delta int64) error {
	return adjustBalance(q, agentID, "reserve_balance", delta)
}

func adjustBalance(q Queryer, agentID, column string, delta int64) error {
	if delta < 0 {
		var current int64
		err := q.Get(&current, `SELECT `+column+` FROM agents WHERE id = ?`, agentID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store.adjustBalance read: %w", err)
		}
		if current+delta < 0 {
			return ErrInsufficientFunds
		}
	}
	res, err := q.Exec(`UPDATE agents SET `+column+` = `+column+` + ? WHERE id = ?`, delta, agentID)
	if err != nil {
		return translate(fmt.Errorf("store.adjustBalance: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustHealth applies a signed delta to health, clamped to 0..100.
func AdjustHealth(q Queryer, agentID string, delta int) error {
	_, err := q.Exec(`
		UPDATE agents
		SET health = MAX(0, MIN(100, health + ?))
		WHERE id = ?`, delta, agentID)
	if err != nil {
		return fmt.Errorf("store.AdjustHealth: %w", err)
	}
	return nil
}

// SetRiskProfile writes the play-style ratios.
func SetRiskProfile(q Queryer, agentID string, risk, maxWager float64) error {
	res, err := q.Exec(`UPDATE agents SET risk_tolerance = ?, max_wager_percent = ? WHERE id = ?`,
		risk, maxWager, agentID)
	if err != nil {
		return fmt.Errorf("store.SetRiskProfile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAgentMatch marks an agent as in (or out of) a match. matchID == ""
// clears the flag.
func SetAgentMatch(q Queryer, agentID, matchID string) error {
	var cur interface{}
	inMatch := matchID != ""
	if inMatch {
		cur = matchID
	}
	res, err := q.Exec(`UPDATE agents SET is_in_match = ?, current_match_id = ? WHERE id = ?`,
		inMatch, cur, agentID)
	if err != nil {
		return fmt.Errorf("store.SetAgentMatch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAgentCost accumulates inference spend on the agent row.
func RecordAgentCost(q Queryer, agentID string, costCents int64) error {
	_, err := q.Exec(`UPDATE agents SET api_cost_cents = api_cost_cents + ? WHERE id = ?`,
		costCents, agentID)
	if err != nil {
		return fmt.Errorf("store.RecordAgentCost: %w", err)
	}
	return nil
}

// UpdateAgentMemory writes the post-tick memory fields in one statement.
func UpdateAgentMemory(q Queryer, agentID, scratchpad, actionType, reasoning, narrative string, targetPlot sql.NullInt64, tick int64) error {
	_, err := q.Exec(`
		UPDATE agents
		SET scratchpad = ?, last_action_type = ?, last_reasoning = ?,
			last_narrative = ?, last_target_plot = ?, last_tick_at = ?
		WHERE id = ?`,
		scratchpad, actionType, reasoning, narrative, targetPlot, tick, agentID)
	if err != nil {
		return fmt.Errorf("store.UpdateAgentMemory: %w", err)
	}
	return nil
}

// SetAgentCrew assigns the agent to a crew.
func SetAgentCrew(q Queryer, agentID, crewID string) error {
	_, err := q.Exec(`UPDATE agents SET crew_id = ? WHERE id = ?`, crewID, agentID)
	if err != nil {
		return fmt.Errorf("store.SetAgentCrew: %w", err)
	}
	return nil
}
