package economy

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"town/internal/store"
)

const auditBaselineKey = "economy_audit_baseline"

// AuditReport is one audit pass over every value-holding account.
type AuditReport struct {
	AgentBankrolls     int64   `json:"agentBankrolls"`
	AgentReserves      int64   `json:"agentReserves"`
	PoolReserve        int64   `json:"poolReserve"`
	PoolArena          int64   `json:"poolArena"`
	PoolBudgets        int64   `json:"poolBudgets"`
	TownTreasuries     int64   `json:"townTreasuries"`
	CrewTreasuries     int64   `json:"crewTreasuries"`
	Total              int64   `json:"total"`
	DriftSinceBaseline int64   `json:"driftSinceBaseline"`
	HasBaseline        bool    `json:"hasBaseline"`
	Violations         []string `json:"violations,omitempty"`
}

// Healthy reports whether no structural violations were found.
func (r *AuditReport) Healthy() bool { return len(r.Violations) == 0 }

// snapshot totals every value-holding account under one transaction.
func snapshot(tx *sqlx.Tx) (*AuditReport, error) {
	var r AuditReport
	err := tx.Get(&r.AgentBankrolls, `SELECT COALESCE(SUM(bankroll), 0) FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("economy.snapshot: %w", err)
	}
	if err := tx.Get(&r.AgentReserves, `SELECT COALESCE(SUM(reserve_balance), 0) FROM agents`); err != nil {
		return nil, fmt.Errorf("economy.snapshot: %w", err)
	}
	if err := tx.Get(&r.TownTreasuries, `SELECT COALESCE(SUM(treasury), 0) FROM towns`); err != nil {
		return nil, fmt.Errorf("economy.snapshot: %w", err)
	}
	if err := tx.Get(&r.CrewTreasuries, `SELECT COALESCE(SUM(treasury), 0) FROM crews`); err != nil {
		return nil, fmt.Errorf("economy.snapshot: %w", err)
	}

	pool, err := store.GetEconomyPool(tx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if pool != nil {
		r.PoolReserve = pool.ReserveBalance
		r.PoolArena = pool.ArenaBalance
		r.PoolBudgets = pool.OpsBudget + pool.PvPBudget + pool.RescueBudget + pool.InsuranceBudget

		for _, b := range []struct {
			name string
			val  int64
		}{
			{"opsBudget", pool.OpsBudget},
			{"pvpBudget", pool.PvPBudget},
			{"rescueBudget", pool.RescueBudget},
			{"insuranceBudget", pool.InsuranceBudget},
		} {
			if b.val < 0 {
				r.Violations = append(r.Violations,
					fmt.Sprintf("NON_NEGATIVE_POOL_BUDGETS: %s = %d", b.name, b.val))
			}
		}
		if pool.ReserveBalance <= 0 || pool.ArenaBalance <= 0 {
			r.Violations = append(r.Violations, "POOL_RESERVES_POSITIVE")
		}
	}

	r.Total = r.AgentBankrolls + r.AgentReserves +
		r.PoolReserve + r.PoolArena + r.PoolBudgets +
		r.TownTreasuries + r.CrewTreasuries
	return &r, nil
}

// Audit totals the economy and compares against the stored baseline.
// Internal flows move value between accounts, so drift should stay zero
// between baselines; a nonzero drift means value was minted or destroyed
// outside a recognized entry point.
func (s *Service) Audit() (*AuditReport, error) {
	var report *AuditReport
	err := s.store.WithTx(func(tx *sqlx.Tx) error {
		r, err := snapshot(tx)
		if err != nil {
			return err
		}
		raw, err := store.GetState(tx, auditBaselineKey, "")
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if raw != "" {
			var baseline int64
			if err := json.Unmarshal([]byte(raw), &baseline); err == nil {
				r.HasBaseline = true
				r.DriftSinceBaseline = r.Total - baseline
			}
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// SetBaseline records the current total as the audit baseline, resetting
// drift to zero.
func (s *Service) SetBaseline() (*AuditReport, error) {
	var report *AuditReport
	err := s.store.WithTx(func(tx *sqlx.Tx) error {
		r, err := snapshot(tx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(r.Total)
		if err != nil {
			return err
		}
		if err := store.SetState(tx, auditBaselineKey, string(raw)); err != nil {
			return err
		}
		r.HasBaseline = true
		r.DriftSinceBaseline = 0
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
