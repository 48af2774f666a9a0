package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"town/internal/store"
)

type challengeRequest struct {
	OpponentID string `json:"opponentId"`
	GameType   string `json:"gameType"`
	Wager      int64  `json:"wager"`
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	m, err := s.arena.CreateMatch(agentID(r), req.OpponentID, req.GameType, req.Wager)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, m)
}

func (s *Server) handleJoinMatch(w http.ResponseWriter, r *http.Request) {
	m, err := s.arena.JoinMatch(chi.URLParam(r, "id"), agentID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, m)
}

// handleGetMatch returns the viewer-filtered match state. A bearer token
// is optional; anonymous viewers get the spectator view.
func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	viewerID := ""
	if token := bearerToken(r); token != "" {
		if id, err := s.adapter.Authenticate(token); err == nil {
			viewerID = id
		}
	}

	state, err := s.arena.GetMatchState(chi.URLParam(r, "id"), viewerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, state)
}

type moveRequest struct {
	Action    string `json:"action"`
	Reasoning string `json:"reasoning,omitempty"`
}

func (s *Server) handleSubmitMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	matchID := chi.URLParam(r, "id")
	id := agentID(r)
	if _, err := s.arena.SubmitMove(matchID, id, req.Action, req.Reasoning, 0); err != nil {
		writeServiceError(w, err)
		return
	}

	state, err := s.arena.GetMatchState(matchID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, state)
}

func (s *Server) handleCancelMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")
	m, err := store.GetMatch(s.store.DB(), matchID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !m.HasPlayer(agentID(r)) {
		writeError(w, http.StatusForbidden, "NOT_IN_MATCH", "only a participant may cancel")
		return
	}

	if err := s.arena.CancelMatch(matchID, "cancelled by participant"); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": store.MatchCancelled})
}
