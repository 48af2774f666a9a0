// Package goals assigns and tracks per-agent goals across three horizons.
// Progress is recomputed from the world state on every refresh; completed
// and failed goals apply their reward or penalty exactly once.
package goals

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"town/internal/store"
)

// Tracker keeps every agent holding one ACTIVE goal per horizon.
type Tracker struct {
	store *store.Store
}

// NewTracker creates the goal tracker.
func NewTracker(st *store.Store) *Tracker {
	return &Tracker{store: st}
}

// metricValue reads the current value of a goal metric for an agent.
func metricValue(tx *sqlx.Tx, agent *store.Agent, metric, zone, townID string) (int64, error) {
	switch metric {
	case store.MetricBankroll:
		return agent.Bankroll, nil
	case store.MetricWinsTotal:
		return int64(agent.Wins), nil
	case store.MetricClaimedOrUCTotal:
		n, err := store.CountHoldingsByOwner(tx, agent.ID, townID)
		return int64(n), err
	case store.MetricBuiltTotal:
		n, err := store.CountBuiltByOwner(tx, agent.ID, townID, "")
		return int64(n), err
	case store.MetricBuiltInZone:
		n, err := store.CountBuiltByOwner(tx, agent.ID, townID, zone)
		return int64(n), err
	case store.MetricAPICallsTotal:
		n, err := store.SumAPICallsByOwner(tx, agent.ID)
		return int64(n), err
	}
	return 0, fmt.Errorf("goals.metricValue: unknown metric %q", metric)
}

// Refresh brings an agent's goal stack up to date at the given tick:
// missing horizons get a deterministic template assignment, progress is
// recomputed, and goals that hit their target or deadline terminate with
// their reward or penalty. A horizon whose goal just terminated gets its
// replacement in the same pass, so every agent leaves Refresh holding one
// ACTIVE goal per horizon. Returns the ACTIVE goals after the pass.
func (t *Tracker) Refresh(tx *sqlx.Tx, agent *store.Agent, townID string, tick int64) ([]store.Goal, error) {
	for _, horizon := range store.Horizons {
		g, err := store.GetActiveGoal(tx, agent.ID, horizon)
		if errors.Is(err, store.ErrNotFound) {
			if err := t.assign(tx, agent, townID, horizon, tick); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		terminal, err := t.advance(tx, agent, g, tick)
		if err != nil {
			return nil, err
		}
		if terminal {
			if err := t.assign(tx, agent, townID, horizon, tick); err != nil {
				return nil, err
			}
		}
	}
	return store.ListActiveGoals(tx, agent.ID)
}

func (t *Tracker) assign(tx *sqlx.Tx, agent *store.Agent, townID, horizon string, tick int64) error {
	tpl := pickTemplate(townID, agent.ID, horizon, agent.Archetype)
	baseline, err := metricValue(tx, agent, tpl.Metric, tpl.Zone, townID)
	if err != nil {
		return err
	}

	reward, _ := json.Marshal(tpl.Reward)
	penalty, _ := json.Marshal(tpl.Penalty)
	g := &store.Goal{
		ID:             uuid.NewString(),
		AgentID:        agent.ID,
		Horizon:        horizon,
		TemplateKey:    tpl.Key,
		Title:          tpl.Title,
		Metric:         tpl.Metric,
		Zone:           tpl.Zone,
		TownID:         townID,
		TargetValue:    baseline + tpl.TargetDelta,
		ProgressValue:  baseline,
		StartedTick:    tick,
		Status:         store.GoalActive,
		RewardProfile:  string(reward),
		PenaltyProfile: string(penalty),
	}
	if tpl.DeadlineTick > 0 {
		g.DeadlineTick = sql.NullInt64{Int64: tick + tpl.DeadlineTick, Valid: true}
	}
	err = store.CreateGoal(tx, g)
	if errors.Is(err, store.ErrConflict) {
		// Another path assigned this horizon concurrently; keep theirs.
		return nil
	}
	return err
}

// advance recomputes one goal's progress. It reports whether the goal
// left ACTIVE so the caller can assign a replacement.
func (t *Tracker) advance(tx *sqlx.Tx, agent *store.Agent, g *store.Goal, tick int64) (bool, error) {
	value, err := metricValue(tx, agent, g.Metric, g.Zone, g.TownID)
	if err != nil {
		return false, err
	}

	switch {
	case value >= g.TargetValue:
		if err := store.UpdateGoalProgress(tx, g.ID, value, store.GoalCompleted); err != nil {
			return false, err
		}
		log.Printf("[Goals] %s completed %s (%s)", agent.Name, g.Title, g.Horizon)
		return true, applyProfile(tx, agent.ID, g.RewardProfile)
	case g.DeadlineTick.Valid && tick > g.DeadlineTick.Int64:
		if err := store.UpdateGoalProgress(tx, g.ID, value, store.GoalFailed); err != nil {
			return false, err
		}
		log.Printf("[Goals] %s failed %s (%s)", agent.Name, g.Title, g.Horizon)
		return true, applyProfile(tx, agent.ID, g.PenaltyProfile)
	default:
		return false, store.UpdateGoalProgress(tx, g.ID, value, store.GoalActive)
	}
}

// applyProfile applies a reward or penalty. Bankroll rewards draw from the
// pool's ops budget and clip to what the budget holds; penalties return
// bankroll to the ops budget and clip to what the agent holds. Value is
// never minted.
func applyProfile(tx *sqlx.Tx, agentID, raw string) error {
	var p Profile
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fmt.Errorf("goals.applyProfile: %w", err)
	}

	if p.Bankroll != 0 {
		pool, err := store.GetEconomyPool(tx)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		amount := p.Bankroll
		if pool != nil {
			if amount > 0 && amount > pool.OpsBudget {
				amount = pool.OpsBudget
			}
			if amount < 0 {
				agent, err := store.GetAgent(tx, agentID)
				if err != nil {
					return err
				}
				if -amount > agent.Bankroll {
					amount = -agent.Bankroll
				}
			}
			if amount != 0 {
				pool.OpsBudget -= amount
				if err := store.UpdateEconomyPool(tx, pool); err != nil {
					return err
				}
				if err := store.AdjustBankroll(tx, agentID, amount); err != nil {
					return err
				}
			}
		}
	}
	if p.Health != 0 {
		if err := store.AdjustHealth(tx, agentID, p.Health); err != nil {
			return err
		}
	}
	return nil
}

// PromptBlock renders the active goals as plain lines for the decision
// prompt.
func PromptBlock(goals []store.Goal) string {
	if len(goals) == 0 {
		return "No active goals."
	}
	var b strings.Builder
	for _, g := range goals {
		fmt.Fprintf(&b, "- [%s] %s: %d/%d", g.Horizon, g.Title, g.ProgressValue, g.TargetValue)
		if g.DeadlineTick.Valid {
			fmt.Fprintf(&b, " (deadline tick %d)", g.DeadlineTick.Int64)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
