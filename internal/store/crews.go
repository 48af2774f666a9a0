package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Crew order strategies and statuses.
const (
	StrategyRaid   = "RAID"
	StrategyDefend = "DEFEND"
	StrategyFarm   = "FARM"
	StrategyTrade  = "TRADE"

	OrderQueued    = "QUEUED"
	OrderExecuted  = "EXECUTED"
	OrderCancelled = "CANCELLED"
)

// Crew is one of the three standing crews.
type Crew struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Territory int64     `db:"territory"`
	Treasury  int64     `db:"treasury"`
	Momentum  float64   `db:"momentum"`
	WarScore  float64   `db:"war_score"`
	CreatedAt time.Time `db:"created_at"`
}

// CrewOrder is a coarse strategic request that materializes as an agent
// command.
type CrewOrder struct {
	ID          string    `db:"id"`
	CrewID      string    `db:"crew_id"`
	AgentID     string    `db:"agent_id"`
	Strategy    string    `db:"strategy"`
	Intensity   int       `db:"intensity"`
	Status      string    `db:"status"`
	CommandID   string    `db:"command_id"`
	CreatedTick int64     `db:"created_tick"`
	CreatedAt   time.Time `db:"created_at"`
}

// CrewBattle records one epoch resolution.
type CrewBattle struct {
	ID             int64     `db:"id"`
	EpochTick      int64     `db:"epoch_tick"`
	WinnerCrewID   string    `db:"winner_crew_id"`
	LoserCrewID    string    `db:"loser_crew_id"`
	TerritorySwing int64     `db:"territory_swing"`
	TreasurySwing  int64     `db:"treasury_swing"`
	Summary        string    `db:"summary"`
	CreatedAt      time.Time `db:"created_at"`
}

// CreateCrew inserts a crew row.
func CreateCrew(q Queryer, c *Crew) error {
	_, err := q.Exec(`
		INSERT INTO crews (id, name, territory, treasury, momentum, war_score)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Territory, c.Treasury, c.Momentum, c.WarScore)
	if err != nil {
		return translate(fmt.Errorf("store.CreateCrew: %w", err))
	}
	return nil
}

// GetCrew fetches one crew.
func GetCrew(q Queryer, id string) (*Crew, error) {
	var c Crew
	err := q.Get(&c, `SELECT * FROM crews WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetCrew: %w", err)
	}
	return &c, nil
}

// GetCrewByName fetches one crew by name.
func GetCrewByName(q Queryer, name string) (*Crew, error) {
	var c Crew
	err := q.Get(&c, `SELECT * FROM crews WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetCrewByName: %w", err)
	}
	return &c, nil
}

// ListCrews returns every crew.
func ListCrews(q Queryer) ([]Crew, error) {
	var crews []Crew
	err := q.Select(&crews, `SELECT * FROM crews ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store.ListCrews: %w", err)
	}
	return crews, nil
}

// UpdateCrew persists the mutable crew fields.
func UpdateCrew(q Queryer, c *Crew) error {
	res, err := q.Exec(`
		UPDATE crews SET territory = ?, treasury = ?, momentum = ?, war_score = ?
		WHERE id = ?`,
		c.Territory, c.Treasury, c.Momentum, c.WarScore, c.ID)
	if err != nil {
		return fmt.Errorf("store.UpdateCrew: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertCrewOrder writes a crew order row.
func InsertCrewOrder(q Queryer, o *CrewOrder) error {
	_, err := q.Exec(`
		INSERT INTO crew_orders (id, crew_id, agent_id, strategy, intensity, status,
			command_id, created_tick)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.CrewID, o.AgentID, o.Strategy, o.Intensity, o.Status,
		o.CommandID, o.CreatedTick)
	if err != nil {
		return translate(fmt.Errorf("store.InsertCrewOrder: %w", err))
	}
	return nil
}

// HeadCrewOrder returns the oldest QUEUED crew order for an agent.
func HeadCrewOrder(q Queryer, agentID string) (*CrewOrder, error) {
	var o CrewOrder
	err := q.Get(&o, `
		SELECT * FROM crew_orders
		WHERE agent_id = ? AND status = ?
		ORDER BY created_at ASC, id ASC LIMIT 1`, agentID, OrderQueued)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store.HeadCrewOrder: %w", err)
	}
	return &o, nil
}

// SetCrewOrderStatus transitions a QUEUED crew order.
func SetCrewOrderStatus(q Queryer, orderID, status string) error {
	_, err := q.Exec(`UPDATE crew_orders SET status = ? WHERE id = ? AND status = ?`,
		status, orderID, OrderQueued)
	if err != nil {
		return fmt.Errorf("store.SetCrewOrderStatus: %w", err)
	}
	return nil
}

// SetCrewOrderStatusByCommand transitions the QUEUED crew order backing a
// given agent command. No-op when the command has no crew order.
func SetCrewOrderStatusByCommand(q Queryer, commandID, status string) error {
	_, err := q.Exec(`UPDATE crew_orders SET status = ? WHERE command_id = ? AND status = ?`,
		status, commandID, OrderQueued)
	if err != nil {
		return fmt.Errorf("store.SetCrewOrderStatusByCommand: %w", err)
	}
	return nil
}

// AppendCrewBattle writes one epoch resolution record.
func AppendCrewBattle(q Queryer, b *CrewBattle) error {
	_, err := q.Exec(`
		INSERT INTO crew_battles (epoch_tick, winner_crew_id, loser_crew_id,
			territory_swing, treasury_swing, summary)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.EpochTick, b.WinnerCrewID, b.LoserCrewID,
		b.TerritorySwing, b.TreasurySwing, b.Summary)
	if err != nil {
		return fmt.Errorf("store.AppendCrewBattle: %w", err)
	}
	return nil
}
