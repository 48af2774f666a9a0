package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"town/internal/agent"
	"town/internal/arena"
	"town/internal/extagent"
	"town/internal/store"
)

type registerRequest struct {
	Name      string `json:"name"`
	Archetype string `json:"archetype,omitempty"`
	Model     string `json:"model,omitempty"`
	Wallet    string `json:"wallet,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	reg, err := s.adapter.Register(extagent.RegisterOpts{
		Name:      req.Name,
		Archetype: req.Archetype,
		Model:     req.Model,
		Wallet:    req.Wallet,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, reg)
}

// agentSelf is the authenticated agent's full view of itself.
type agentSelf struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Archetype      string `json:"archetype"`
	Model          string `json:"model,omitempty"`
	Bankroll       int64  `json:"bankroll"`
	ReserveBalance int64  `json:"reserveBalance"`
	Health         int    `json:"health"`
	Elo            int    `json:"elo"`
	Wins           int    `json:"wins"`
	Losses         int    `json:"losses"`
	Draws          int    `json:"draws"`
	TotalWagered   int64  `json:"totalWagered"`
	TotalWon       int64  `json:"totalWon"`
	APICostCents   int64  `json:"apiCostCents"`
	IsInMatch      bool   `json:"isInMatch"`
	CurrentMatchID string `json:"currentMatchId,omitempty"`
	CrewID         string `json:"crewId,omitempty"`
	Scratchpad     string `json:"scratchpad,omitempty"`
	LastActionType string `json:"lastActionType,omitempty"`
	LastNarrative  string `json:"lastNarrative,omitempty"`
	LastTickAt     int64  `json:"lastTickAt"`
}

// agentPublic is what other agents and spectators see.
type agentPublic struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Archetype      string `json:"archetype"`
	Bankroll       int64  `json:"bankroll"`
	Health         int    `json:"health"`
	Elo            int    `json:"elo"`
	Wins           int    `json:"wins"`
	Losses         int    `json:"losses"`
	Draws          int    `json:"draws"`
	CrewID         string `json:"crewId,omitempty"`
	IsInMatch      bool   `json:"isInMatch"`
	LastActionType string `json:"lastActionType,omitempty"`
	LastNarrative  string `json:"lastNarrative,omitempty"`
}

func selfView(a *store.Agent) agentSelf {
	return agentSelf{
		ID:             a.ID,
		Name:           a.Name,
		Archetype:      a.Archetype,
		Model:          a.Model,
		Bankroll:       a.Bankroll,
		ReserveBalance: a.ReserveBalance,
		Health:         a.Health,
		Elo:            a.Elo,
		Wins:           a.Wins,
		Losses:         a.Losses,
		Draws:          a.Draws,
		TotalWagered:   a.TotalWagered,
		TotalWon:       a.TotalWon,
		APICostCents:   a.APICostCents,
		IsInMatch:      a.IsInMatch,
		CurrentMatchID: a.CurrentMatchID.String,
		CrewID:         a.CrewID.String,
		Scratchpad:     a.Scratchpad,
		LastActionType: a.LastActionType,
		LastNarrative:  a.LastNarrative,
		LastTickAt:     a.LastTickAt,
	}
}

func publicView(a *store.Agent) agentPublic {
	return agentPublic{
		ID:             a.ID,
		Name:           a.Name,
		Archetype:      a.Archetype,
		Bankroll:       a.Bankroll,
		Health:         a.Health,
		Elo:            a.Elo,
		Wins:           a.Wins,
		Losses:         a.Losses,
		Draws:          a.Draws,
		CrewID:         a.CrewID.String,
		IsInMatch:      a.IsInMatch,
		LastActionType: a.LastActionType,
		LastNarrative:  a.LastNarrative,
	}
}

type observeResponse struct {
	Town         *townView          `json:"town"`
	Self         agentSelf          `json:"self"`
	OtherAgents  []agentPublic      `json:"otherAgents"`
	RecentEvents []eventView        `json:"recentEvents"`
	Economy      *economyView       `json:"economy"`
	Wheel        wheelView          `json:"wheel"`
	ActiveMatch  *arena.MatchState  `json:"activeMatch,omitempty"`
}

type wheelView struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	a, err := store.GetAgent(s.store.DB(), agentID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := observeResponse{
		Self:  selfView(a),
		Wheel: wheelView{Enabled: !s.disableWheel},
	}

	town, err := store.GetActiveTown(s.store.DB())
	if err == nil {
		tv, err := s.townView(town)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp.Town = tv

		events, err := store.ListRecentEvents(s.store.DB(), town.ID, 20)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp.RecentEvents = eventViews(events)
	} else if !errors.Is(err, store.ErrNotFound) {
		writeServiceError(w, err)
		return
	}
	if resp.RecentEvents == nil {
		resp.RecentEvents = []eventView{}
	}

	agents, err := store.ListActiveAgents(s.store.DB(), 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp.OtherAgents = []agentPublic{}
	for i := range agents {
		if agents[i].ID == a.ID {
			continue
		}
		resp.OtherAgents = append(resp.OtherAgents, publicView(&agents[i]))
	}

	pool, err := store.GetEconomyPool(s.store.DB())
	if err == nil {
		resp.Economy = economyViewOf(pool)
	} else if !errors.Is(err, store.ErrNotFound) {
		writeServiceError(w, err)
		return
	}

	if a.IsInMatch && a.CurrentMatchID.Valid {
		state, err := s.arena.GetMatchState(a.CurrentMatchID.String, a.ID)
		if err == nil {
			resp.ActiveMatch = state
		}
	}

	writeJSON(w, resp)
}

type actRequest struct {
	Type      string                 `json:"type"`
	Reasoning string                 `json:"reasoning"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type actResponse struct {
	Success       bool      `json:"success"`
	Narrative     string    `json:"narrative,omitempty"`
	Error         string    `json:"error,omitempty"`
	Code          string    `json:"code,omitempty"`
	InferenceCost int64     `json:"inferenceCost"`
	AgentState    agentSelf `json:"agentState"`
}

func (s *Server) handleAct(w http.ResponseWriter, r *http.Request) {
	var req actRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	id := agentID(r)
	res, err := s.adapter.Act(r.Context(), id, extagent.ActRequest{
		Type:      req.Type,
		Reasoning: req.Reasoning,
		Details:   req.Details,
	}, s.currentTick())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	a, err := store.GetAgent(s.store.DB(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := actResponse{
		Success:    res.Success,
		Narrative:  res.Narrative,
		AgentState: selfView(a),
	}
	if res.Success {
		if res.Action != "rest" {
			resp.InferenceCost = 1
		}
		writeJSON(w, resp)
		return
	}

	resp.Error = res.Blocked
	if res.Blocked == agent.BlockedInferenceCost {
		resp.Code = "PAYMENT_REQUIRED"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(resp)
		return
	}
	resp.Code = "ACTION_BLOCKED"
	writeJSON(w, resp)
}

type pokerMoveRequest struct {
	Action    string `json:"action"`
	Amount    int64  `json:"amount,omitempty"`
	Reasoning string `json:"reasoning"`
	Quip      string `json:"quip,omitempty"`
}

type pokerMoveResponse struct {
	Success   bool            `json:"success"`
	GameState json.RawMessage `json:"gameState"`
	MatchOver bool            `json:"matchOver"`
}

func (s *Server) handlePokerMove(w http.ResponseWriter, r *http.Request) {
	var req pokerMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	id := agentID(r)
	a, err := store.GetAgent(s.store.DB(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !a.IsInMatch || !a.CurrentMatchID.Valid {
		writeError(w, http.StatusConflict, "NOT_IN_MATCH", "agent is not in a match")
		return
	}
	matchID := a.CurrentMatchID.String

	action := req.Action
	if req.Amount > 0 {
		action = fmt.Sprintf("%s %d", req.Action, req.Amount)
	}
	reasoning := req.Reasoning
	if req.Quip != "" {
		reasoning = fmt.Sprintf("%s (%q)", reasoning, req.Quip)
	}

	m, err := s.arena.SubmitMove(matchID, id, action, reasoning, 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	state, err := s.arena.GetMatchState(matchID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, pokerMoveResponse{
		Success:   true,
		GameState: state.View,
		MatchOver: m.Status != store.MatchActive,
	})
}

// nullableInt renders sql.NullInt64 for JSON responses.
func nullableInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return &n.Int64
}
