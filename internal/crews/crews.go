// Package crews runs the standing crew war: every agent belongs to one
// of three crews by archetype, crews queue coarse orders that surface as
// agent commands, and every twelfth tick the war score decides who takes
// territory and treasury from whom.
package crews

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"town/internal/commands"
	"town/internal/store"
)

// EpochTicks is how often ResolveEpoch scores the war.
const EpochTicks = 12

const (
	territoryMin = 1
	territoryMax = 4
	treasuryCap  = 180
	decayFactor  = 0.55
)

var (
	ErrBadStrategy  = errors.New("unknown crew strategy")
	ErrBadIntensity = errors.New("crew order intensity must be 1..3")
)

// The three standing crews. Membership is a pure function of archetype so
// rosters never need storing.
var crewRoster = []struct {
	ID   string
	Name string
}{
	{"crew-rollers", "The Rollers"},
	{"crew-masons", "The Masons"},
	{"crew-drifters", "The Drifters"},
}

var validStrategies = map[string]bool{
	store.StrategyRaid:   true,
	store.StrategyDefend: true,
	store.StrategyFarm:   true,
	store.StrategyTrade:  true,
}

// Service owns crew membership, orders and epoch resolution.
type Service struct {
	store    *store.Store
	commands *commands.Service
}

func NewService(st *store.Store, cmds *commands.Service) *Service {
	return &Service{store: st, commands: cmds}
}

// EnsureCrews creates the three crew rows if they do not exist yet.
func (s *Service) EnsureCrews() error {
	return s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		for _, c := range crewRoster {
			err := store.CreateCrew(tx, &store.Crew{ID: c.ID, Name: c.Name})
			if err != nil && !errors.Is(err, store.ErrConflict) {
				return err
			}
		}
		return nil
	})
}

// CrewFor maps an archetype to its crew id. The mapping cycles the
// archetype catalog across the three crews, so it is stable as long as
// the catalog order is.
func CrewFor(archetype string) string {
	for i, a := range store.Archetypes {
		if a == archetype {
			return crewRoster[i%len(crewRoster)].ID
		}
	}
	return crewRoster[0].ID
}

// QueueOrder records a crew order for an agent and materializes it as a
// command on the agent's queue. Intensity 1 is a suggestion; 2 and 3
// press harder.
func (s *Service) QueueOrder(agentID, strategy string, intensity int, tick int64) (*store.CrewOrder, error) {
	if !validStrategies[strategy] {
		return nil, fmt.Errorf("%w: %q", ErrBadStrategy, strategy)
	}
	if intensity < 1 || intensity > 3 {
		return nil, fmt.Errorf("%w: %d", ErrBadIntensity, intensity)
	}

	agent, err := store.GetAgent(s.store.DB(), agentID)
	if err != nil {
		return nil, err
	}
	crewID := CrewFor(agent.Archetype)

	mode := store.ModeSuggest
	if intensity >= 2 {
		mode = store.ModeStrong
	}
	cmd, err := s.commands.Create(commands.CreateOpts{
		AgentID:        agentID,
		IssuerType:     commands.IssuerCrew,
		IssuerID:       crewID,
		IssuerVerified: true,
		Mode:           mode,
		Intent:         "crew_" + strings.ToLower(strategy),
		Params:         map[string]interface{}{"strategy": strategy, "intensity": intensity},
		PriorityBoost:  intensity,
		TTLTicks:       EpochTicks,
		CurrentTick:    tick,
	})
	if err != nil {
		return nil, err
	}

	order := &store.CrewOrder{
		ID:          uuid.NewString(),
		CrewID:      crewID,
		AgentID:     agentID,
		Strategy:    strategy,
		Intensity:   intensity,
		Status:      store.OrderQueued,
		CommandID:   cmd.ID,
		CreatedTick: tick,
	}
	err = s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		if err := store.InsertCrewOrder(tx, order); err != nil {
			return err
		}
		// Issuing an order raises the crew's war footing.
		crew, err := store.GetCrew(tx, crewID)
		if err != nil {
			return err
		}
		crew.WarScore += float64(intensity)
		return store.UpdateCrew(tx, crew)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Crews] %s ordered %s (intensity %d) for %s", crewID, strategy, intensity, agentID)
	return order, nil
}

// OrderDone marks the crew order backing a command as executed. The agent
// loop calls this when the executed action matched a queued crew intent.
func (s *Service) OrderDone(tx *sqlx.Tx, commandID string) error {
	return store.SetCrewOrderStatusByCommand(tx, commandID, store.OrderExecuted)
}

// OrderDropped cancels the crew order backing a command.
func (s *Service) OrderDropped(tx *sqlx.Tx, commandID string) error {
	return store.SetCrewOrderStatusByCommand(tx, commandID, store.OrderCancelled)
}

// ResolveEpoch scores the war if tick lands on an epoch boundary. The
// crew with the highest war score beats the one with the lowest:
// territory and treasury swing from loser to winner, then every crew's
// war score decays. Returns the battle record, or nil off-epoch or when
// the scores are flat.
func (s *Service) ResolveEpoch(tick int64) (*store.CrewBattle, error) {
	if tick == 0 || tick%EpochTicks != 0 {
		return nil, nil
	}

	var battle *store.CrewBattle
	err := s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		battle = nil
		crews, err := store.ListCrews(tx)
		if err != nil {
			return err
		}
		if len(crews) < 2 {
			return nil
		}

		hi, lo := 0, 0
		for i := range crews {
			if crews[i].WarScore > crews[hi].WarScore {
				hi = i
			}
			if crews[i].WarScore < crews[lo].WarScore {
				lo = i
			}
		}
		winner, loser := &crews[hi], &crews[lo]
		gap := winner.WarScore - loser.WarScore

		if gap > 0 {
			territory := int64(math.Floor(gap / 10))
			if territory < territoryMin {
				territory = territoryMin
			}
			if territory > territoryMax {
				territory = territoryMax
			}
			if territory > loser.Territory {
				territory = loser.Territory
			}

			treasury := loser.Treasury * 8 / 100
			if treasury > loser.Treasury {
				treasury = loser.Treasury
			}
			if treasury > treasuryCap {
				treasury = treasuryCap
			}

			winner.Territory += territory
			loser.Territory -= territory
			winner.Treasury += treasury
			loser.Treasury -= treasury
			winner.Momentum++
			loser.Momentum = 0

			battle = &store.CrewBattle{
				EpochTick:      tick,
				WinnerCrewID:   winner.ID,
				LoserCrewID:    loser.ID,
				TerritorySwing: territory,
				TreasurySwing:  treasury,
				Summary: fmt.Sprintf("%s took %d territory and %d tokens from %s",
					winner.Name, territory, treasury, loser.Name),
			}
			if err := store.AppendCrewBattle(tx, battle); err != nil {
				return err
			}
		}

		for i := range crews {
			crews[i].WarScore *= decayFactor
			if err := store.UpdateCrew(tx, &crews[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if battle != nil {
		log.Printf("[Crews] epoch %d: %s", tick, battle.Summary)
	}
	return battle, nil
}
