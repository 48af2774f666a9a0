package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"town/internal/store"
	"town/internal/towns"
)

// Observation is the immutable world snapshot a tick decides against.
type Observation struct {
	Agent      *store.Agent
	Town       *store.Town
	OwnPlots   []store.Plot
	OpenPlots  []int
	Peers      []store.Agent
	Events     []store.TownEvent
	Pool       *store.EconomyPool
	CommandCue *store.AgentCommand // queue head, for prompt building only
	CrewCue    *store.CrewOrder
}

const (
	peerLimit  = 8
	eventLimit = 10
)

// observe assembles the snapshot under one read transaction.
func observe(tx *sqlx.Tx, agentID string) (*Observation, error) {
	agent, err := store.GetAgent(tx, agentID)
	if err != nil {
		return nil, err
	}
	obs := &Observation{Agent: agent}

	town, err := store.GetActiveTown(tx)
	if err == nil {
		obs.Town = town
		if obs.OwnPlots, err = store.ListPlotsByOwner(tx, town.ID, agentID); err != nil {
			return nil, err
		}
		plots, err := store.ListPlots(tx, town.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range plots {
			if p.Status == store.PlotEmpty {
				obs.OpenPlots = append(obs.OpenPlots, p.PlotIndex)
			}
		}
		if obs.Events, err = store.ListRecentEvents(tx, town.ID, eventLimit); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	peers, err := store.ListActiveAgents(tx, peerLimit+1)
	if err != nil {
		return nil, err
	}
	for _, p := range peers {
		if p.ID != agentID && len(obs.Peers) < peerLimit {
			obs.Peers = append(obs.Peers, p)
		}
	}

	if obs.Pool, err = store.GetEconomyPool(tx); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if cue, err := store.NextQueuedCommand(tx, agentID); err == nil {
		obs.CommandCue = cue
	}
	if cue, err := store.HeadCrewOrder(tx, agentID); err == nil {
		obs.CrewCue = cue
	}
	return obs, nil
}

// promptText renders the observation for the decision prompt.
func (o *Observation) promptText() string {
	var b strings.Builder
	a := o.Agent
	fmt.Fprintf(&b, "You are %s (%s). Bankroll %d, reserve %d, health %d, elo %d.\n",
		a.Name, a.Archetype, a.Bankroll, a.ReserveBalance, a.Health, a.Elo)

	if o.Town != nil {
		fmt.Fprintf(&b, "Town %q: %d plots, %d open. You own %d plot(s).\n",
			o.Town.Name, o.Town.PlotCount, len(o.OpenPlots), len(o.OwnPlots))
		for _, p := range o.OwnPlots {
			fmt.Fprintf(&b, "  plot %d [%s] %s, work %d/%d\n",
				p.PlotIndex, p.Zone, p.Status, p.APICallsUsed, towns.MinCalls(p.Zone))
		}
	} else {
		b.WriteString("No active town right now.\n")
	}

	if len(o.Peers) > 0 {
		names := make([]string, 0, len(o.Peers))
		for _, p := range o.Peers {
			names = append(names, p.Name)
		}
		fmt.Fprintf(&b, "Around town: %s.\n", strings.Join(names, ", "))
	}
	if o.Pool != nil {
		fmt.Fprintf(&b, "Exchange pool: %d reserve / %d arena.\n",
			o.Pool.ReserveBalance, o.Pool.ArenaBalance)
	}
	for _, e := range o.Events {
		fmt.Fprintf(&b, "Recent: [%s] %s\n", e.Kind, e.Message)
	}
	return b.String()
}
