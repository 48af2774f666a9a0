package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Match statuses.
const (
	MatchWaiting   = "WAITING"
	MatchActive    = "ACTIVE"
	MatchCompleted = "COMPLETED"
	MatchCancelled = "CANCELLED"
)

// Match is one 1v1 wagered game.
type Match struct {
	ID             string         `db:"id"`
	GameType       string         `db:"game_type"`
	Player1ID      string         `db:"player1_id"`
	Player2ID      sql.NullString `db:"player2_id"`
	WagerAmount    int64          `db:"wager_amount"`
	TotalPot       int64          `db:"total_pot"`
	RakeAmount     int64          `db:"rake_amount"`
	Status         string         `db:"status"`
	CurrentTurnID  sql.NullString `db:"current_turn_id"`
	TurnNumber     int            `db:"turn_number"`
	GameState      string         `db:"game_state"`
	WinnerID       sql.NullString `db:"winner_id"`
	IsDraw         bool           `db:"is_draw"`
	SkipPrediction bool           `db:"skip_prediction"`
	CreatedAt      time.Time      `db:"created_at"`
	StartedAt      sql.NullTime   `db:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
}

// HasPlayer reports whether agentID is a participant.
func (m *Match) HasPlayer(agentID string) bool {
	return m.Player1ID == agentID || (m.Player2ID.Valid && m.Player2ID.String == agentID)
}

// Opponent returns the other player's id, or "" when unknown.
func (m *Match) Opponent(agentID string) string {
	if m.Player1ID == agentID && m.Player2ID.Valid {
		return m.Player2ID.String
	}
	if m.Player2ID.Valid && m.Player2ID.String == agentID {
		return m.Player1ID
	}
	return ""
}

// Move is one append-only move record.
type Move struct {
	ID              int64     `db:"id"`
	MatchID         string    `db:"match_id"`
	TurnNumber      int       `db:"turn_number"`
	AgentID         string    `db:"agent_id"`
	Action          string    `db:"action"`
	Reasoning       string    `db:"reasoning"`
	CostCents       int64     `db:"cost_cents"`
	LatencyMs       int64     `db:"latency_ms"`
	GameStateBefore string    `db:"game_state_before"`
	CreatedAt       time.Time `db:"created_at"`
}

// OpponentRecord tracks one agent's history against one opponent.
type OpponentRecord struct {
	AgentID       string       `db:"agent_id"`
	OpponentID    string       `db:"opponent_id"`
	MatchesPlayed int          `db:"matches_played"`
	Wins          int          `db:"wins"`
	Losses        int          `db:"losses"`
	Draws         int          `db:"draws"`
	LastPlayedAt  sql.NullTime `db:"last_played_at"`
}

// CreateMatch inserts a match row.
func CreateMatch(q Queryer, m *Match) error {
	_, err := q.Exec(`
		INSERT INTO matches (id, game_type, player1_id, player2_id, wager_amount,
			total_pot, rake_amount, status, current_turn_id, turn_number, game_state,
			skip_prediction, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.GameType, m.Player1ID, m.Player2ID, m.WagerAmount,
		m.TotalPot, m.RakeAmount, m.Status, m.CurrentTurnID, m.TurnNumber, m.GameState,
		m.SkipPrediction, m.StartedAt)
	if err != nil {
		return translate(fmt.Errorf("store.CreateMatch: %w", err))
	}
	return nil
}

// GetMatch fetches one match.
func GetMatch(q Queryer, id string) (*Match, error) {
	var m Match
	err := q.Get(&m, `SELECT * FROM matches WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetMatch: %w", err)
	}
	return &m, nil
}

// UpdateMatch persists the mutable match fields.
func UpdateMatch(q Queryer, m *Match) error {
	res, err := q.Exec(`
		UPDATE matches
		SET player2_id = ?, status = ?, current_turn_id = ?, turn_number = ?,
			game_state = ?, winner_id = ?, is_draw = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		m.Player2ID, m.Status, m.CurrentTurnID, m.TurnNumber,
		m.GameState, m.WinnerID, m.IsDraw, m.StartedAt, m.CompletedAt, m.ID)
	if err != nil {
		return translate(fmt.Errorf("store.UpdateMatch: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMatch removes a match row. Only used by the createMatch rollback
// path before any move exists.
func DeleteMatch(q Queryer, id string) error {
	_, err := q.Exec(`DELETE FROM matches WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store.DeleteMatch: %w", err)
	}
	return nil
}

// ListStaleMatches returns WAITING/ACTIVE matches created before cutoff.
func ListStaleMatches(q Queryer, cutoff time.Time) ([]Match, error) {
	var matches []Match
	err := q.Select(&matches, `
		SELECT * FROM matches
		WHERE status IN (?, ?) AND created_at < ?`,
		MatchWaiting, MatchActive, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store.ListStaleMatches: %w", err)
	}
	return matches, nil
}

// ListMatchesSince returns matches created after sinceMs (unix ms), oldest
// first, capped at limit.
func ListMatchesSince(q Queryer, sinceMs int64, limit int) ([]Match, error) {
	var matches []Match
	err := q.Select(&matches, `
		SELECT * FROM matches
		WHERE created_at > ?
		ORDER BY created_at ASC
		LIMIT ?`, time.UnixMilli(sinceMs).UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("store.ListMatchesSince: %w", err)
	}
	return matches, nil
}

// AppendMove writes one move record.
func AppendMove(q Queryer, mv *Move) error {
	_, err := q.Exec(`
		INSERT INTO moves (match_id, turn_number, agent_id, action, reasoning,
			cost_cents, latency_ms, game_state_before)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		mv.MatchID, mv.TurnNumber, mv.AgentID, mv.Action, mv.Reasoning,
		mv.CostCents, mv.LatencyMs, mv.GameStateBefore)
	if err != nil {
		return fmt.Errorf("store.AppendMove: %w", err)
	}
	return nil
}

// ListMoves returns a match's moves in turn order.
func ListMoves(q Queryer, matchID string) ([]Move, error) {
	var moves []Move
	err := q.Select(&moves, `
		SELECT * FROM moves WHERE match_id = ? ORDER BY turn_number ASC, id ASC`, matchID)
	if err != nil {
		return nil, fmt.Errorf("store.ListMoves: %w", err)
	}
	return moves, nil
}

// GetOpponentRecord returns the record of agent vs opponent; a zero record
// when none exists yet.
func GetOpponentRecord(q Queryer, agentID, opponentID string) (*OpponentRecord, error) {
	var r OpponentRecord
	err := q.Get(&r, `
		SELECT * FROM opponent_records WHERE agent_id = ? AND opponent_id = ?`,
		agentID, opponentID)
	if errors.Is(err, sql.ErrNoRows) {
		return &OpponentRecord{AgentID: agentID, OpponentID: opponentID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetOpponentRecord: %w", err)
	}
	return &r, nil
}

// BumpOpponentRecord upserts one direction of the pairwise record.
// outcome is "win", "loss" or "draw" from agentID's perspective.
func BumpOpponentRecord(q Queryer, agentID, opponentID, outcome string, at time.Time) error {
	var w, l, d int
	switch outcome {
	case "win":
		w = 1
	case "loss":
		l = 1
	case "draw":
		d = 1
	}
	_, err := q.Exec(`
		INSERT INTO opponent_records (agent_id, opponent_id, matches_played, wins, losses, draws, last_played_at)
		VALUES (?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(agent_id, opponent_id) DO UPDATE SET
			matches_played = matches_played + 1,
			wins = wins + excluded.wins,
			losses = losses + excluded.losses,
			draws = draws + excluded.draws,
			last_played_at = excluded.last_played_at`,
		agentID, opponentID, w, l, d, at)
	if err != nil {
		return fmt.Errorf("store.BumpOpponentRecord: %w", err)
	}
	return nil
}

// RecordMatchOutcome updates win/loss/draw counters and wager accounting
// on the agent row. wagered adds to total_wagered, won adds to total_won.
func RecordMatchOutcome(q Queryer, agentID, outcome string, wagered, won int64) error {
	var col string
	switch outcome {
	case "win":
		col = "wins"
	case "loss":
		col = "losses"
	case "draw":
		col = "draws"
	default:
		return fmt.Errorf("store.RecordMatchOutcome: unknown outcome %q", outcome)
	}
	_, err := q.Exec(`
		UPDATE agents
		SET `+col+` = `+col+` + 1,
			total_wagered = total_wagered + ?,
			total_won = total_won + ?
		WHERE id = ?`, wagered, won, agentID)
	if err != nil {
		return fmt.Errorf("store.RecordMatchOutcome: %w", err)
	}
	return nil
}

// SetElo writes a new rating.
func SetElo(q Queryer, agentID string, elo int) error {
	_, err := q.Exec(`UPDATE agents SET elo = ? WHERE id = ?`, elo, agentID)
	if err != nil {
		return fmt.Errorf("store.SetElo: %w", err)
	}
	return nil
}
