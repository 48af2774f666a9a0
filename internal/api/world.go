package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"town/internal/store"
	"town/internal/towns"
)

type townView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	PlotCount int        `json:"plotCount"`
	Treasury  int64      `json:"treasury"`
	Plots     []plotView `json:"plots"`
}

type plotView struct {
	PlotIndex    int    `json:"plotIndex"`
	Zone         string `json:"zone"`
	Status       string `json:"status"`
	OwnerID      string `json:"ownerId,omitempty"`
	BuildingType string `json:"buildingType,omitempty"`
	BuildingName string `json:"buildingName,omitempty"`
	APICallsUsed int    `json:"apiCallsUsed"`
	MinCalls     int    `json:"minCalls"`
	TotalInvest  int64  `json:"totalInvested"`
	QualityScore int    `json:"qualityScore"`
}

type eventView struct {
	ID        int64  `json:"id"`
	TownID    string `json:"townId"`
	Kind      string `json:"kind"`
	AgentID   string `json:"agentId,omitempty"`
	PlotIndex *int64 `json:"plotIndex,omitempty"`
	Message   string `json:"message"`
	Metadata  string `json:"metadata,omitempty"`
	CreatedMs int64  `json:"createdMs"`
}

func eventViews(events []store.TownEvent) []eventView {
	out := make([]eventView, 0, len(events))
	for i := range events {
		e := &events[i]
		out = append(out, eventView{
			ID:        e.ID,
			TownID:    e.TownID,
			Kind:      e.Kind,
			AgentID:   e.AgentID,
			PlotIndex: nullableInt(e.PlotIndex),
			Message:   e.Message,
			Metadata:  e.Metadata,
			CreatedMs: e.CreatedMs,
		})
	}
	return out
}

func (s *Server) townView(t *store.Town) (*townView, error) {
	plots, err := store.ListPlots(s.store.DB(), t.ID)
	if err != nil {
		return nil, err
	}
	tv := &townView{
		ID:        t.ID,
		Name:      t.Name,
		Status:    t.Status,
		PlotCount: t.PlotCount,
		Treasury:  t.Treasury,
		Plots:     make([]plotView, 0, len(plots)),
	}
	for i := range plots {
		p := &plots[i]
		tv.Plots = append(tv.Plots, plotView{
			PlotIndex:    p.PlotIndex,
			Zone:         p.Zone,
			Status:       p.Status,
			OwnerID:      p.OwnerID.String,
			BuildingType: p.BuildingType,
			BuildingName: p.BuildingName,
			APICallsUsed: p.APICallsUsed,
			MinCalls:     towns.MinCalls(p.Zone),
			TotalInvest:  p.TotalInvest,
			QualityScore: p.QualityScore,
		})
	}
	return tv, nil
}

func (s *Server) handleGetTown(w http.ResponseWriter, r *http.Request) {
	town, err := store.GetActiveTown(s.store.DB())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	tv, err := s.townView(town)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, tv)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := store.ListActiveAgents(s.store.DB(), 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]agentPublic, 0, len(agents))
	for i := range agents {
		out = append(out, publicView(&agents[i]))
	}
	writeJSON(w, out)
}

// handleLeaderboard ranks active agents by Elo, profit as tiebreaker.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	agents, err := store.ListActiveAgents(s.store.DB(), 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].Elo != agents[j].Elo {
			return agents[i].Elo > agents[j].Elo
		}
		return agents[i].Profit() > agents[j].Profit()
	})
	out := make([]agentPublic, 0, len(agents))
	for i := range agents {
		out = append(out, publicView(&agents[i]))
	}
	writeJSON(w, out)
}

const eventPageLimit = 50

type eventsSinceResponse struct {
	TownEvents []eventView         `json:"townEvents"`
	Swaps      []store.EconomySwap `json:"swaps"`
	Matches    []store.Match       `json:"matches"`
}

// handleEventsSince returns everything that happened after ?since= (ms
// epoch), each slice capped at 50 rows.
func (s *Server) handleEventsSince(w http.ResponseWriter, r *http.Request) {
	sinceMs, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)

	resp := eventsSinceResponse{
		TownEvents: []eventView{},
		Swaps:      []store.EconomySwap{},
		Matches:    []store.Match{},
	}

	town, err := store.GetActiveTown(s.store.DB())
	if err == nil {
		events, err := store.ListEventsSince(s.store.DB(), town.ID, sinceMs, eventPageLimit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp.TownEvents = eventViews(events)
	} else if !errors.Is(err, store.ErrNotFound) {
		writeServiceError(w, err)
		return
	}

	swaps, err := store.ListSwapsSince(s.store.DB(), sinceMs, eventPageLimit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if swaps != nil {
		resp.Swaps = swaps
	}

	matches, err := store.ListMatchesSince(s.store.DB(), sinceMs, eventPageLimit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if matches != nil {
		resp.Matches = matches
	}

	writeJSON(w, resp)
}

type crewView struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Territory int64   `json:"territory"`
	Treasury  int64   `json:"treasury"`
	Momentum  float64 `json:"momentum"`
	WarScore  float64 `json:"warScore"`
}

func (s *Server) handleListCrews(w http.ResponseWriter, r *http.Request) {
	crews, err := store.ListCrews(s.store.DB())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]crewView, 0, len(crews))
	for _, c := range crews {
		out = append(out, crewView{
			ID:        c.ID,
			Name:      c.Name,
			Territory: c.Territory,
			Treasury:  c.Treasury,
			Momentum:  c.Momentum,
			WarScore:  c.WarScore,
		})
	}
	writeJSON(w, out)
}
