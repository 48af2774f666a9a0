package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Relationship statuses.
const (
	RelNeutral = "NEUTRAL"
	RelFriend  = "FRIEND"
	RelRival   = "RIVAL"
)

// Relationship is the symmetric pair row; agent_a < agent_b always.
type Relationship struct {
	ID                int64        `db:"id"`
	AgentA            string       `db:"agent_a"`
	AgentB            string       `db:"agent_b"`
	Status            string       `db:"status"`
	Score             int          `db:"score"`
	Interactions      int          `db:"interactions"`
	LastInteractionAt sql.NullTime `db:"last_interaction_at"`
	FriendSince       sql.NullTime `db:"friend_since"`
	RivalSince        sql.NullTime `db:"rival_since"`
}

// OrderPair normalizes two agent ids into (low, high).
func OrderPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// GetRelationship fetches the pair row for (a, b) in either order,
// creating nothing. Returns ErrNotFound when no row exists.
func GetRelationship(q Queryer, a, b string) (*Relationship, error) {
	lo, hi := OrderPair(a, b)
	var r Relationship
	err := q.Get(&r, `SELECT * FROM relationships WHERE agent_a = ? AND agent_b = ?`, lo, hi)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetRelationship: %w", err)
	}
	return &r, nil
}

// EnsureRelationship fetches the pair row, inserting a NEUTRAL one when
// absent.
func EnsureRelationship(q Queryer, a, b string) (*Relationship, error) {
	r, err := GetRelationship(q, a, b)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	lo, hi := OrderPair(a, b)
	_, err = q.Exec(`INSERT INTO relationships (agent_a, agent_b, status, score) VALUES (?, ?, ?, 0)`,
		lo, hi, RelNeutral)
	if err != nil {
		return nil, translate(fmt.Errorf("store.EnsureRelationship: %w", err))
	}
	return GetRelationship(q, a, b)
}

// UpdateRelationship persists the mutable relationship fields.
func UpdateRelationship(q Queryer, r *Relationship) error {
	res, err := q.Exec(`
		UPDATE relationships
		SET status = ?, score = ?, interactions = ?, last_interaction_at = ?,
			friend_since = ?, rival_since = ?
		WHERE id = ?`,
		r.Status, r.Score, r.Interactions, r.LastInteractionAt,
		r.FriendSince, r.RivalSince, r.ID)
	if err != nil {
		return fmt.Errorf("store.UpdateRelationship: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountFriends returns how many FRIEND rows an agent appears in.
func CountFriends(q Queryer, agentID string) (int, error) {
	var n int
	err := q.Get(&n, `
		SELECT COUNT(*) FROM relationships
		WHERE status = ? AND (agent_a = ? OR agent_b = ?)`,
		RelFriend, agentID, agentID)
	if err != nil {
		return 0, fmt.Errorf("store.CountFriends: %w", err)
	}
	return n, nil
}

// ListFriends returns the ids of an agent's friends.
func ListFriends(q Queryer, agentID string) ([]string, error) {
	var rows []Relationship
	err := q.Select(&rows, `
		SELECT * FROM relationships
		WHERE status = ? AND (agent_a = ? OR agent_b = ?)`,
		RelFriend, agentID, agentID)
	if err != nil {
		return nil, fmt.Errorf("store.ListFriends: %w", err)
	}
	friends := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.AgentA == agentID {
			friends = append(friends, r.AgentB)
		} else {
			friends = append(friends, r.AgentA)
		}
	}
	return friends, nil
}

// ListRelationships returns every pair row involving an agent.
func ListRelationships(q Queryer, agentID string) ([]Relationship, error) {
	var rows []Relationship
	err := q.Select(&rows, `
		SELECT * FROM relationships WHERE agent_a = ? OR agent_b = ?`,
		agentID, agentID)
	if err != nil {
		return nil, fmt.Errorf("store.ListRelationships: %w", err)
	}
	return rows, nil
}

// TouchInteraction bumps the interaction counter and timestamp.
func TouchInteraction(q Queryer, r *Relationship, at time.Time) {
	r.Interactions++
	r.LastInteractionAt = sql.NullTime{Time: at, Valid: true}
}
