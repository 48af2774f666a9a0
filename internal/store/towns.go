package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Plot zones and statuses.
const (
	ZoneResidential   = "RESIDENTIAL"
	ZoneCommercial    = "COMMERCIAL"
	ZoneCivic         = "CIVIC"
	ZoneIndustrial    = "INDUSTRIAL"
	ZoneEntertainment = "ENTERTAINMENT"

	PlotEmpty             = "EMPTY"
	PlotClaimed           = "CLAIMED"
	PlotUnderConstruction = "UNDER_CONSTRUCTION"
	PlotBuilt             = "BUILT"

	TownActive   = "ACTIVE"
	TownComplete = "COMPLETE"
)

// Town event kinds, in the order scenario feeds expect them.
const (
	EventTownCreated    = "TOWN_CREATED"
	EventPlotClaimed    = "PLOT_CLAIMED"
	EventBuildStarted   = "BUILD_STARTED"
	EventBuildCompleted = "BUILD_COMPLETED"
	EventTownCompleted  = "TOWN_COMPLETED"
	EventAgentChat      = "AGENT_CHAT"
	EventCustom         = "CUSTOM"
)

// Town is a shared map of plots with a treasury funded by claim/build
// contributions.
type Town struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Status    string    `db:"status"`
	PlotCount int       `db:"plot_count"`
	Treasury  int64     `db:"treasury"`
	CreatedAt time.Time `db:"created_at"`
}

// Plot is one cell of a town, the atomic build unit.
type Plot struct {
	TownID       string         `db:"town_id"`
	PlotIndex    int            `db:"plot_index"`
	Zone         string         `db:"zone"`
	Status       string         `db:"status"`
	OwnerID      sql.NullString `db:"owner_id"`
	BuilderID    sql.NullString `db:"builder_id"`
	BuildingType string         `db:"building_type"`
	BuildingName string         `db:"building_name"`
	APICallsUsed int            `db:"api_calls_used"`
	TotalInvest  int64          `db:"total_invested"`
	QualityScore int            `db:"quality_score"`
}

// TownEvent is one row of the append-only town feed.
type TownEvent struct {
	ID        int64         `db:"id"`
	TownID    string        `db:"town_id"`
	Kind      string        `db:"kind"`
	AgentID   string        `db:"agent_id"`
	PlotIndex sql.NullInt64 `db:"plot_index"`
	Message   string        `db:"message"`
	Metadata  string        `db:"metadata"`
	CreatedMs int64         `db:"created_ms"`
	CreatedAt time.Time     `db:"created_at"`
}

// CreateTown inserts the town row and its plot grid in one pass. Plot
// zones cycle through the five zone kinds.
func CreateTown(q Queryer, t *Town, zones []string) error {
	_, err := q.Exec(`INSERT INTO towns (id, name, status, plot_count, treasury) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Status, t.PlotCount, t.Treasury)
	if err != nil {
		return translate(fmt.Errorf("store.CreateTown: %w", err))
	}
	for i := 0; i < t.PlotCount; i++ {
		zone := zones[i%len(zones)]
		_, err := q.Exec(`INSERT INTO plots (town_id, plot_index, zone, status) VALUES (?, ?, ?, ?)`,
			t.ID, i, zone, PlotEmpty)
		if err != nil {
			return translate(fmt.Errorf("store.CreateTown plot %d: %w", i, err))
		}
	}
	return nil
}

// GetTown fetches a town by id.
func GetTown(q Queryer, id string) (*Town, error) {
	var t Town
	err := q.Get(&t, `SELECT * FROM towns WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetTown: %w", err)
	}
	return &t, nil
}

// GetActiveTown returns the most recently created ACTIVE town.
func GetActiveTown(q Queryer) (*Town, error) {
	var t Town
	err := q.Get(&t, `SELECT * FROM towns WHERE status = ? ORDER BY created_at DESC LIMIT 1`, TownActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetActiveTown: %w", err)
	}
	return &t, nil
}

// GetPlot fetches one plot.
func GetPlot(q Queryer, townID string, index int) (*Plot, error) {
	var p Plot
	err := q.Get(&p, `SELECT * FROM plots WHERE town_id = ? AND plot_index = ?`, townID, index)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetPlot: %w", err)
	}
	return &p, nil
}

// ListPlots returns every plot of a town ordered by index.
func ListPlots(q Queryer, townID string) ([]Plot, error) {
	var plots []Plot
	err := q.Select(&plots, `SELECT * FROM plots WHERE town_id = ? ORDER BY plot_index`, townID)
	if err != nil {
		return nil, fmt.Errorf("store.ListPlots: %w", err)
	}
	return plots, nil
}

// ListPlotsByOwner returns the plots an agent owns in a town.
func ListPlotsByOwner(q Queryer, townID, ownerID string) ([]Plot, error) {
	var plots []Plot
	err := q.Select(&plots, `
		SELECT * FROM plots WHERE town_id = ? AND owner_id = ? ORDER BY plot_index`,
		townID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store.ListPlotsByOwner: %w", err)
	}
	return plots, nil
}

// UpdatePlot persists the mutable plot fields.
func UpdatePlot(q Queryer, p *Plot) error {
	res, err := q.Exec(`
		UPDATE plots
		SET zone = ?, status = ?, owner_id = ?, builder_id = ?, building_type = ?,
			building_name = ?, api_calls_used = ?, total_invested = ?, quality_score = ?
		WHERE town_id = ? AND plot_index = ?`,
		p.Zone, p.Status, p.OwnerID, p.BuilderID, p.BuildingType,
		p.BuildingName, p.APICallsUsed, p.TotalInvest, p.QualityScore,
		p.TownID, p.PlotIndex)
	if err != nil {
		return fmt.Errorf("store.UpdatePlot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPlotsByStatus returns how many plots in a town have the given
// status.
func CountPlotsByStatus(q Queryer, townID, status string) (int, error) {
	var n int
	err := q.Get(&n, `SELECT COUNT(*) FROM plots WHERE town_id = ? AND status = ?`, townID, status)
	if err != nil {
		return 0, fmt.Errorf("store.CountPlotsByStatus: %w", err)
	}
	return n, nil
}

// CountBuiltByOwner counts BUILT plots owned by an agent, optionally
// filtered by zone and/or town ("" = any).
func CountBuiltByOwner(q Queryer, ownerID, townID, zone string) (int, error) {
	query := `SELECT COUNT(*) FROM plots WHERE owner_id = ? AND status = ?`
	args := []interface{}{ownerID, PlotBuilt}
	if townID != "" {
		query += ` AND town_id = ?`
		args = append(args, townID)
	}
	if zone != "" {
		query += ` AND zone = ?`
		args = append(args, zone)
	}
	var n int
	if err := q.Get(&n, query, args...); err != nil {
		return 0, fmt.Errorf("store.CountBuiltByOwner: %w", err)
	}
	return n, nil
}

// CountHoldingsByOwner counts CLAIMED or UNDER_CONSTRUCTION plots owned by
// an agent, optionally scoped to one town.
func CountHoldingsByOwner(q Queryer, ownerID, townID string) (int, error) {
	query := `SELECT COUNT(*) FROM plots WHERE owner_id = ? AND status IN (?, ?)`
	args := []interface{}{ownerID, PlotClaimed, PlotUnderConstruction}
	if townID != "" {
		query += ` AND town_id = ?`
		args = append(args, townID)
	}
	var n int
	if err := q.Get(&n, query, args...); err != nil {
		return 0, fmt.Errorf("store.CountHoldingsByOwner: %w", err)
	}
	return n, nil
}

// SumAPICallsByOwner totals api_calls_used across an agent's plots.
func SumAPICallsByOwner(q Queryer, ownerID string) (int, error) {
	var n int
	err := q.Get(&n, `SELECT COALESCE(SUM(api_calls_used), 0) FROM plots WHERE owner_id = ?`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("store.SumAPICallsByOwner: %w", err)
	}
	return n, nil
}

// AdjustTownTreasury applies a signed delta to the town treasury.
func AdjustTownTreasury(q Queryer, townID string, delta int64) error {
	res, err := q.Exec(`UPDATE towns SET treasury = treasury + ? WHERE id = ?`, delta, townID)
	if err != nil {
		return translate(fmt.Errorf("store.AdjustTownTreasury: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTownStatus updates the town lifecycle status.
func SetTownStatus(q Queryer, townID, status string) error {
	_, err := q.Exec(`UPDATE towns SET status = ? WHERE id = ?`, status, townID)
	if err != nil {
		return fmt.Errorf("store.SetTownStatus: %w", err)
	}
	return nil
}

// AppendEvent writes one row to the town feed.
func AppendEvent(q Queryer, e *TownEvent) error {
	if e.CreatedMs == 0 {
		e.CreatedMs = time.Now().UnixMilli()
	}
	_, err := q.Exec(`
		INSERT INTO town_events (town_id, kind, agent_id, plot_index, message, metadata, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.TownID, e.Kind, e.AgentID, e.PlotIndex, e.Message, e.Metadata, e.CreatedMs)
	if err != nil {
		return fmt.Errorf("store.AppendEvent: %w", err)
	}
	return nil
}

// ListEventsSince returns events newer than sinceMs, oldest first, capped
// at limit.
func ListEventsSince(q Queryer, townID string, sinceMs int64, limit int) ([]TownEvent, error) {
	var events []TownEvent
	err := q.Select(&events, `
		SELECT * FROM town_events
		WHERE town_id = ? AND created_ms > ?
		ORDER BY created_ms ASC, id ASC
		LIMIT ?`, townID, sinceMs, limit)
	if err != nil {
		return nil, fmt.Errorf("store.ListEventsSince: %w", err)
	}
	return events, nil
}

// ListRecentEvents returns the newest events for a town, newest first.
func ListRecentEvents(q Queryer, townID string, limit int) ([]TownEvent, error) {
	var events []TownEvent
	err := q.Select(&events, `
		SELECT * FROM town_events
		WHERE town_id = ?
		ORDER BY created_ms DESC, id DESC
		LIMIT ?`, townID, limit)
	if err != nil {
		return nil, fmt.Errorf("store.ListRecentEvents: %w", err)
	}
	return events, nil
}
