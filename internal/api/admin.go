package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"town/internal/commands"
	"town/internal/store"
)

type queueCommandRequest struct {
	AgentID       string                 `json:"agentId,omitempty"` // defaults to the caller's agent
	Mode          string                 `json:"mode"`
	Intent        string                 `json:"intent"`
	Params        map[string]interface{} `json:"params,omitempty"`
	Constraints   map[string]interface{} `json:"constraints,omitempty"`
	PriorityBoost int                    `json:"priorityBoost,omitempty"`
	TTLTicks      int64                  `json:"ttlTicks,omitempty"`
}

// handleQueueCommand enqueues an operator command. Token holders may only
// steer the agent their token resolves to.
func (s *Server) handleQueueCommand(w http.ResponseWriter, r *http.Request) {
	var req queueCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	caller := agentID(r)
	target := req.AgentID
	if target == "" {
		target = caller
	}
	if target != caller {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "token may only command its own agent")
		return
	}

	cmd, err := s.commands.Create(commands.CreateOpts{
		AgentID:        target,
		IssuerType:     commands.IssuerOperator,
		IssuerID:       caller,
		IssuerVerified: true,
		Mode:           req.Mode,
		Intent:         req.Intent,
		Params:         req.Params,
		Constraints:    req.Constraints,
		PriorityBoost:  req.PriorityBoost,
		TTLTicks:       req.TTLTicks,
		CurrentTick:    s.currentTick(),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, cmd)
}

func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.Cancel(chi.URLParam(r, "id"), agentID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "cancelled"})
}

type crewOrderRequest struct {
	Strategy  string `json:"strategy"`
	Intensity int    `json:"intensity"`
}

func (s *Server) handleQueueCrewOrder(w http.ResponseWriter, r *http.Request) {
	var req crewOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	order, err := s.crews.QueueOrder(agentID(r), req.Strategy, req.Intensity, s.currentTick())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, order)
}

type testFundRequest struct {
	AgentID  string `json:"agentId"`
	Bankroll int64  `json:"bankroll"`
	Reserve  int64  `json:"reserve"`
}

func (s *Server) handleTestFund(w http.ResponseWriter, r *http.Request) {
	var req testFundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	err := s.store.WithTx(func(tx *sqlx.Tx) error {
		if req.Bankroll != 0 {
			if err := store.AdjustBankroll(tx, req.AgentID, req.Bankroll); err != nil {
				return err
			}
		}
		if req.Reserve != 0 {
			return store.AdjustReserve(tx, req.AgentID, req.Reserve)
		}
		return nil
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	a, err := store.GetAgent(s.store.DB(), req.AgentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, selfView(a))
}

// handleTestBaseline re-baselines the economy audit so funded test value
// does not read as drift.
func (s *Server) handleTestBaseline(w http.ResponseWriter, r *http.Request) {
	report, err := s.economy.SetBaseline()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, report)
}
