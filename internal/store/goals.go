package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Goal horizons, metrics and statuses.
const (
	HorizonShort = "SHORT"
	HorizonMid   = "MID"
	HorizonLong  = "LONG"

	MetricClaimedOrUCTotal = "CLAIMED_OR_UC_TOTAL"
	MetricBuiltInZone      = "BUILT_IN_ZONE"
	MetricBuiltTotal       = "BUILT_TOTAL"
	MetricBankroll         = "BANKROLL"
	MetricWinsTotal        = "WINS_TOTAL"
	MetricAPICallsTotal    = "API_CALLS_TOTAL"

	GoalActive    = "ACTIVE"
	GoalCompleted = "COMPLETED"
	GoalFailed    = "FAILED"
)

// Horizons lists the three goal horizons.
var Horizons = []string{HorizonShort, HorizonMid, HorizonLong}

// Goal is one persistent per-agent goal.
type Goal struct {
	ID             string        `db:"id"`
	AgentID        string        `db:"agent_id"`
	Horizon        string        `db:"horizon"`
	TemplateKey    string        `db:"template_key"`
	Title          string        `db:"title"`
	Metric         string        `db:"metric"`
	Zone           string        `db:"zone"`
	TownID         string        `db:"town_id"`
	TargetValue    int64         `db:"target_value"`
	ProgressValue  int64         `db:"progress_value"`
	StartedTick    int64         `db:"started_tick"`
	DeadlineTick   sql.NullInt64 `db:"deadline_tick"`
	Status         string        `db:"status"`
	RewardProfile  string        `db:"reward_profile"`
	PenaltyProfile string        `db:"penalty_profile"`
	CreatedAt      time.Time     `db:"created_at"`
}

// CreateGoal inserts a goal row. The partial unique index enforces at most
// one ACTIVE goal per (agent, horizon); a violation surfaces as ErrConflict.
func CreateGoal(q Queryer, g *Goal) error {
	_, err := q.Exec(`
		INSERT INTO goals (id, agent_id, horizon, template_key, title, metric, zone,
			town_id, target_value, progress_value, started_tick, deadline_tick, status,
			reward_profile, penalty_profile)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.AgentID, g.Horizon, g.TemplateKey, g.Title, g.Metric, g.Zone,
		g.TownID, g.TargetValue, g.ProgressValue, g.StartedTick, g.DeadlineTick, g.Status,
		g.RewardProfile, g.PenaltyProfile)
	if err != nil {
		return translate(fmt.Errorf("store.CreateGoal: %w", err))
	}
	return nil
}

// GetActiveGoal returns the ACTIVE goal for (agent, horizon), or
// ErrNotFound.
func GetActiveGoal(q Queryer, agentID, horizon string) (*Goal, error) {
	var g Goal
	err := q.Get(&g, `
		SELECT * FROM goals WHERE agent_id = ? AND horizon = ? AND status = ?`,
		agentID, horizon, GoalActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetActiveGoal: %w", err)
	}
	return &g, nil
}

// ListActiveGoals returns all ACTIVE goals for an agent ordered by horizon.
func ListActiveGoals(q Queryer, agentID string) ([]Goal, error) {
	var goals []Goal
	err := q.Select(&goals, `
		SELECT * FROM goals WHERE agent_id = ? AND status = ?
		ORDER BY CASE horizon WHEN 'SHORT' THEN 0 WHEN 'MID' THEN 1 ELSE 2 END`,
		agentID, GoalActive)
	if err != nil {
		return nil, fmt.Errorf("store.ListActiveGoals: %w", err)
	}
	return goals, nil
}

// UpdateGoalProgress writes progress and status. Terminal rows are never
// touched; the WHERE clause guards the terminality invariant.
func UpdateGoalProgress(q Queryer, goalID string, progress int64, status string) error {
	_, err := q.Exec(`
		UPDATE goals SET progress_value = ?, status = ?
		WHERE id = ? AND status = ?`,
		progress, status, goalID, GoalActive)
	if err != nil {
		return fmt.Errorf("store.UpdateGoalProgress: %w", err)
	}
	return nil
}
