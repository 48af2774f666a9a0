package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Swap sides.
const (
	SideBuyArena  = "BUY_ARENA"
	SideSellArena = "SELL_ARENA"
)

// EconomyPool is the singleton constant-product pool plus the named budget
// buckets.
type EconomyPool struct {
	ID                    int       `db:"id"`
	ReserveBalance        int64     `db:"reserve_balance"`
	ArenaBalance          int64     `db:"arena_balance"`
	FeeBps                int64     `db:"fee_bps"`
	OpsBudget             int64     `db:"ops_budget"`
	PvPBudget             int64     `db:"pvp_budget"`
	RescueBudget          int64     `db:"rescue_budget"`
	InsuranceBudget       int64     `db:"insurance_budget"`
	CumulativeFeesReserve int64     `db:"cumulative_fees_reserve"`
	CumulativeFeesArena   int64     `db:"cumulative_fees_arena"`
	UpdatedAt             time.Time `db:"updated_at"`
}

// K is the constant-product invariant reserve*arena.
func (p *EconomyPool) K() int64 {
	return p.ReserveBalance * p.ArenaBalance
}

// EconomySwap is one append-only swap record.
type EconomySwap struct {
	ID          string    `db:"id"`
	AgentID     string    `db:"agent_id"`
	Side        string    `db:"side"`
	AmountIn    int64     `db:"amount_in"`
	Fee         int64     `db:"fee"`
	AmountOut   int64     `db:"amount_out"`
	PriceBefore string    `db:"price_before"`
	PriceAfter  string    `db:"price_after"`
	CreatedAt   time.Time `db:"created_at"`
	CreatedMs   int64     `db:"created_ms"`
}

// LedgerEntry is one double-entry row; entries sharing an entry_group
// commit together.
type LedgerEntry struct {
	ID         int64     `db:"id"`
	EntryGroup string    `db:"entry_group"`
	Account    string    `db:"account"`
	Debit      int64     `db:"debit"`
	Credit     int64     `db:"credit"`
	Memo       string    `db:"memo"`
	CreatedAt  time.Time `db:"created_at"`
}

// AgentStake is a backer's position on an agent.
type AgentStake struct {
	ID               string    `db:"id"`
	BackerID         string    `db:"backer_id"`
	AgentID          string    `db:"agent_id"`
	Amount           int64     `db:"amount"`
	TotalYieldEarned int64     `db:"total_yield_earned"`
	IsActive         bool      `db:"is_active"`
	CreatedAt        time.Time `db:"created_at"`
}

// InitEconomyPool seeds the singleton pool row if it does not exist yet.
func InitEconomyPool(q Queryer, reserve, arena, feeBps int64) error {
	_, err := q.Exec(`
		INSERT INTO economy_pool (id, reserve_balance, arena_balance, fee_bps)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, reserve, arena, feeBps)
	if err != nil {
		return translate(fmt.Errorf("store.InitEconomyPool: %w", err))
	}
	return nil
}

// GetEconomyPool reads the singleton pool row.
func GetEconomyPool(q Queryer) (*EconomyPool, error) {
	var p EconomyPool
	err := q.Get(&p, `SELECT * FROM economy_pool WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetEconomyPool: %w", err)
	}
	return &p, nil
}

// UpdateEconomyPool writes the mutable pool fields. The schema CHECKs keep
// reserves positive and budgets non-negative.
func UpdateEconomyPool(q Queryer, p *EconomyPool) error {
	_, err := q.Exec(`
		UPDATE economy_pool
		SET reserve_balance = ?, arena_balance = ?, fee_bps = ?,
			ops_budget = ?, pvp_budget = ?, rescue_budget = ?, insurance_budget = ?,
			cumulative_fees_reserve = ?, cumulative_fees_arena = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`,
		p.ReserveBalance, p.ArenaBalance, p.FeeBps,
		p.OpsBudget, p.PvPBudget, p.RescueBudget, p.InsuranceBudget,
		p.CumulativeFeesReserve, p.CumulativeFeesArena)
	if err != nil {
		return translate(fmt.Errorf("store.UpdateEconomyPool: %w", err))
	}
	return nil
}

// AppendSwap writes one swap record.
func AppendSwap(q Queryer, sw *EconomySwap) error {
	if sw.CreatedMs == 0 {
		sw.CreatedMs = time.Now().UnixMilli()
	}
	_, err := q.Exec(`
		INSERT INTO economy_swaps (id, agent_id, side, amount_in, fee, amount_out,
			price_before, price_after, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sw.ID, sw.AgentID, sw.Side, sw.AmountIn, sw.Fee, sw.AmountOut,
		sw.PriceBefore, sw.PriceAfter, sw.CreatedMs)
	if err != nil {
		return translate(fmt.Errorf("store.AppendSwap: %w", err))
	}
	return nil
}

// ListSwapsSince returns swaps newer than sinceMs, oldest first.
func ListSwapsSince(q Queryer, sinceMs int64, limit int) ([]EconomySwap, error) {
	var swaps []EconomySwap
	err := q.Select(&swaps, `
		SELECT * FROM economy_swaps WHERE created_ms > ?
		ORDER BY created_ms ASC, id ASC LIMIT ?`, sinceMs, limit)
	if err != nil {
		return nil, fmt.Errorf("store.ListSwapsSince: %w", err)
	}
	return swaps, nil
}

// AppendLedger writes one ledger row.
func AppendLedger(q Queryer, e *LedgerEntry) error {
	_, err := q.Exec(`
		INSERT INTO economy_ledger (entry_group, account, debit, credit, memo)
		VALUES (?, ?, ?, ?, ?)`,
		e.EntryGroup, e.Account, e.Debit, e.Credit, e.Memo)
	if err != nil {
		return fmt.Errorf("store.AppendLedger: %w", err)
	}
	return nil
}

// CreateStake inserts a stake row.
func CreateStake(q Queryer, st *AgentStake) error {
	_, err := q.Exec(`
		INSERT INTO agent_stakes (id, backer_id, agent_id, amount, total_yield_earned, is_active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.BackerID, st.AgentID, st.Amount, st.TotalYieldEarned, st.IsActive)
	if err != nil {
		return translate(fmt.Errorf("store.CreateStake: %w", err))
	}
	return nil
}

// GetStake fetches one stake.
func GetStake(q Queryer, id string) (*AgentStake, error) {
	var st AgentStake
	err := q.Get(&st, `SELECT * FROM agent_stakes WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetStake: %w", err)
	}
	return &st, nil
}

// ListActiveStakes returns the active stakes backing an agent.
func ListActiveStakes(q Queryer, agentID string) ([]AgentStake, error) {
	var stakes []AgentStake
	err := q.Select(&stakes, `
		SELECT * FROM agent_stakes WHERE agent_id = ? AND is_active
		ORDER BY created_at ASC, id ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("store.ListActiveStakes: %w", err)
	}
	return stakes, nil
}

// CreditStakeYield adds yield to a stake.
func CreditStakeYield(q Queryer, stakeID string, amount int64) error {
	_, err := q.Exec(`
		UPDATE agent_stakes SET total_yield_earned = total_yield_earned + ?
		WHERE id = ? AND is_active`, amount, stakeID)
	if err != nil {
		return fmt.Errorf("store.CreditStakeYield: %w", err)
	}
	return nil
}

// DeactivateStake marks a stake inactive (unstaked).
func DeactivateStake(q Queryer, stakeID string) error {
	res, err := q.Exec(`UPDATE agent_stakes SET is_active = FALSE WHERE id = ? AND is_active`, stakeID)
	if err != nil {
		return fmt.Errorf("store.DeactivateStake: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
