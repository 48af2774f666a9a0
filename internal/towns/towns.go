// Package towns runs the shared build loop: agents claim plots, fund
// construction, put in work and finish buildings. Claim and build fees
// split between the town treasury and the economy pool's budget buckets;
// the treasury pays out as yield to property owners.
package towns

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"town/internal/config"
	"town/internal/economy"
	"town/internal/store"
)

var (
	ErrPlotTaken      = errors.New("plot is not claimable")
	ErrNotOwner       = errors.New("plot belongs to someone else")
	ErrWrongStatus    = errors.New("plot is not in the right state")
	ErrNotEnoughWork  = errors.New("building needs more work")
	ErrTownNotActive  = errors.New("town is not active")
)

const (
	ClaimCost = 50
	BuildCost = 100

	// Share of the treasury paid out per yield distribution, in bps.
	yieldRateBps = 1000
)

// minCallsByZone is the work requirement to finish a building, by zone.
var minCallsByZone = map[string]int{
	store.ZoneResidential:   3,
	store.ZoneCommercial:    4,
	store.ZoneCivic:         5,
	store.ZoneIndustrial:    4,
	store.ZoneEntertainment: 4,
}

// MinCalls returns the work requirement for a zone.
func MinCalls(zone string) int {
	if n, ok := minCallsByZone[zone]; ok {
		return n
	}
	return 4
}

// Service owns the town lifecycle.
type Service struct {
	store      *store.Store
	claimSplit config.SplitBps
	buildSplit config.SplitBps
}

// NewService creates the town service.
func NewService(st *store.Store, claimSplit, buildSplit config.SplitBps) *Service {
	return &Service{store: st, claimSplit: claimSplit, buildSplit: buildSplit}
}

var zoneCycle = []string{
	store.ZoneResidential, store.ZoneCommercial, store.ZoneCivic,
	store.ZoneIndustrial, store.ZoneEntertainment,
}

// CreateTown opens a new town with a plot grid and announces it on the
// event feed.
func (s *Service) CreateTown(name string, plotCount int) (*store.Town, error) {
	town := &store.Town{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    store.TownActive,
		PlotCount: plotCount,
	}
	err := s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		if err := store.CreateTown(tx, town, zoneCycle); err != nil {
			return err
		}
		return store.AppendEvent(tx, &store.TownEvent{
			TownID:  town.ID,
			Kind:    store.EventTownCreated,
			Message: fmt.Sprintf("%s founded with %d plots", name, plotCount),
		})
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Towns] created %s (%s) with %d plots", name, town.ID, plotCount)
	return town, nil
}

// activePlot loads the town and plot, requiring the town to be ACTIVE.
func activePlot(tx *sqlx.Tx, townID string, plotIndex int) (*store.Town, *store.Plot, error) {
	town, err := store.GetTown(tx, townID)
	if err != nil {
		return nil, nil, err
	}
	if town.Status != store.TownActive {
		return nil, nil, ErrTownNotActive
	}
	plot, err := store.GetPlot(tx, townID, plotIndex)
	if err != nil {
		return nil, nil, err
	}
	return town, plot, nil
}

// Claim takes an EMPTY plot for the agent. The claim fee is debited from
// the agent's bankroll and split across the treasury and pool budgets.
func (s *Service) Claim(tx *sqlx.Tx, agentID, townID string, plotIndex int) (*store.Plot, error) {
	_, plot, err := activePlot(tx, townID, plotIndex)
	if err != nil {
		return nil, err
	}
	if plot.Status != store.PlotEmpty {
		return nil, fmt.Errorf("%w: plot %d is %s", ErrPlotTaken, plotIndex, plot.Status)
	}

	if err := store.AdjustBankroll(tx, agentID, -ClaimCost); err != nil {
		return nil, err
	}
	if _, err := economy.SplitContribution(tx, townID, ClaimCost, s.claimSplit, "plot claim"); err != nil {
		return nil, err
	}

	plot.Status = store.PlotClaimed
	plot.OwnerID = sql.NullString{String: agentID, Valid: true}
	plot.TotalInvest += ClaimCost
	if err := store.UpdatePlot(tx, plot); err != nil {
		return nil, err
	}

	err = store.AppendEvent(tx, &store.TownEvent{
		TownID:    townID,
		Kind:      store.EventPlotClaimed,
		AgentID:   agentID,
		PlotIndex: sql.NullInt64{Int64: int64(plotIndex), Valid: true},
		Message:   fmt.Sprintf("plot %d (%s) claimed", plotIndex, plot.Zone),
	})
	if err != nil {
		return nil, err
	}
	return plot, nil
}

// StartBuild moves a CLAIMED plot the agent owns into construction.
func (s *Service) StartBuild(tx *sqlx.Tx, agentID, townID string, plotIndex int, buildingType, buildingName string) (*store.Plot, error) {
	_, plot, err := activePlot(tx, townID, plotIndex)
	if err != nil {
		return nil, err
	}
	if !plot.OwnerID.Valid || plot.OwnerID.String != agentID {
		return nil, ErrNotOwner
	}
	if plot.Status != store.PlotClaimed {
		return nil, fmt.Errorf("%w: plot %d is %s", ErrWrongStatus, plotIndex, plot.Status)
	}

	if err := store.AdjustBankroll(tx, agentID, -BuildCost); err != nil {
		return nil, err
	}
	if _, err := economy.SplitContribution(tx, townID, BuildCost, s.buildSplit, "build"); err != nil {
		return nil, err
	}

	plot.Status = store.PlotUnderConstruction
	plot.BuilderID = sql.NullString{String: agentID, Valid: true}
	plot.BuildingType = buildingType
	plot.BuildingName = buildingName
	plot.TotalInvest += BuildCost
	if err := store.UpdatePlot(tx, plot); err != nil {
		return nil, err
	}

	err = store.AppendEvent(tx, &store.TownEvent{
		TownID:    townID,
		Kind:      store.EventBuildStarted,
		AgentID:   agentID,
		PlotIndex: sql.NullInt64{Int64: int64(plotIndex), Valid: true},
		Message:   fmt.Sprintf("construction started on plot %d: %s", plotIndex, buildingName),
	})
	if err != nil {
		return nil, err
	}
	return plot, nil
}

// DoWork logs one unit of work on a plot under construction. Work from
// non-owners counts too; helping out is allowed.
func (s *Service) DoWork(tx *sqlx.Tx, agentID, townID string, plotIndex int) (*store.Plot, error) {
	_, plot, err := activePlot(tx, townID, plotIndex)
	if err != nil {
		return nil, err
	}
	if plot.Status != store.PlotUnderConstruction {
		return nil, fmt.Errorf("%w: plot %d is %s", ErrWrongStatus, plotIndex, plot.Status)
	}
	plot.APICallsUsed++
	if err := store.UpdatePlot(tx, plot); err != nil {
		return nil, err
	}
	return plot, nil
}

// CompleteBuild finishes a building once its zone's work requirement is
// met. Quality reflects investment beyond the minimum. When the last plot
// finishes, the town completes and the feed records both events in order.
func (s *Service) CompleteBuild(tx *sqlx.Tx, agentID, townID string, plotIndex int) (*store.Plot, error) {
	town, plot, err := activePlot(tx, townID, plotIndex)
	if err != nil {
		return nil, err
	}
	if !plot.OwnerID.Valid || plot.OwnerID.String != agentID {
		return nil, ErrNotOwner
	}
	if plot.Status != store.PlotUnderConstruction {
		return nil, fmt.Errorf("%w: plot %d is %s", ErrWrongStatus, plotIndex, plot.Status)
	}
	need := MinCalls(plot.Zone)
	if plot.APICallsUsed < need {
		return nil, fmt.Errorf("%w: %d/%d", ErrNotEnoughWork, plot.APICallsUsed, need)
	}

	plot.Status = store.PlotBuilt
	plot.QualityScore = 50 + 10*(plot.APICallsUsed-need)
	if plot.QualityScore > 100 {
		plot.QualityScore = 100
	}
	if err := store.UpdatePlot(tx, plot); err != nil {
		return nil, err
	}

	err = store.AppendEvent(tx, &store.TownEvent{
		TownID:    townID,
		Kind:      store.EventBuildCompleted,
		AgentID:   agentID,
		PlotIndex: sql.NullInt64{Int64: int64(plotIndex), Valid: true},
		Message:   fmt.Sprintf("%s finished on plot %d (quality %d)", plot.BuildingName, plotIndex, plot.QualityScore),
	})
	if err != nil {
		return nil, err
	}

	built, err := store.CountPlotsByStatus(tx, townID, store.PlotBuilt)
	if err != nil {
		return nil, err
	}
	if built >= town.PlotCount {
		if err := store.SetTownStatus(tx, townID, store.TownComplete); err != nil {
			return nil, err
		}
		err = store.AppendEvent(tx, &store.TownEvent{
			TownID:  townID,
			Kind:    store.EventTownCompleted,
			Message: fmt.Sprintf("%s is complete: every plot built", town.Name),
		})
		if err != nil {
			return nil, err
		}
		log.Printf("[Towns] %s complete", town.Name)
	}
	return plot, nil
}

// DistributeYield pays a slice of the town treasury to owners of BUILT
// plots, weighted by quality score. Returns the amount distributed.
func (s *Service) DistributeYield(townID string) (int64, error) {
	var total int64
	err := s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		total = 0
		town, err := store.GetTown(tx, townID)
		if err != nil {
			return err
		}
		budget := town.Treasury * yieldRateBps / 10000
		if budget <= 0 {
			return nil
		}

		plots, err := store.ListPlots(tx, townID)
		if err != nil {
			return err
		}
		weight := int64(0)
		for _, p := range plots {
			if p.Status == store.PlotBuilt && p.OwnerID.Valid {
				weight += int64(p.QualityScore)
			}
		}
		if weight == 0 {
			return nil
		}

		for _, p := range plots {
			if p.Status != store.PlotBuilt || !p.OwnerID.Valid {
				continue
			}
			share := budget * int64(p.QualityScore) / weight
			if share <= 0 {
				continue
			}
			if err := store.AdjustBankroll(tx, p.OwnerID.String, share); err != nil {
				return err
			}
			total += share
		}
		if total > 0 {
			if err := store.AdjustTownTreasury(tx, townID, -total); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if total > 0 {
		log.Printf("[Towns] distributed %d yield from %s", total, townID)
	}
	return total, nil
}
