package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"town/internal/arena"
	"town/internal/commands"
	"town/internal/crews"
	"town/internal/economy"
	"town/internal/extagent"
	"town/internal/games"
	"town/internal/store"
)

// apiError is the wire shape of every failure.
type apiError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{Code: code, Error: msg})
}

// writeServiceError maps domain errors onto status codes. Unrecognized
// errors are surfaced as a generic 500 without leaking detail.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, store.ErrInsufficientFunds):
		writeError(w, http.StatusBadRequest, "INSUFFICIENT_FUNDS", err.Error())
	case errors.Is(err, arena.ErrPrecondition):
		writeError(w, http.StatusBadRequest, "PRECONDITION", err.Error())
	case errors.Is(err, arena.ErrNotInMatch):
		writeError(w, http.StatusForbidden, "NOT_IN_MATCH", err.Error())
	case errors.Is(err, arena.ErrMatchState):
		writeError(w, http.StatusConflict, "MATCH_STATE", err.Error())
	case errors.Is(err, games.ErrNotYourTurn):
		writeError(w, http.StatusConflict, "NOT_YOUR_TURN", err.Error())
	case errors.Is(err, games.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, "INVALID_ACTION", err.Error())
	case errors.Is(err, games.ErrUnknownGame):
		writeError(w, http.StatusBadRequest, "UNKNOWN_GAME", err.Error())
	case errors.Is(err, games.ErrGameComplete):
		writeError(w, http.StatusConflict, "GAME_COMPLETE", err.Error())
	case errors.Is(err, economy.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
	case errors.Is(err, economy.ErrSlippage):
		writeError(w, http.StatusConflict, "SLIPPAGE", err.Error())
	case errors.Is(err, economy.ErrPoolUnavailable):
		writeError(w, http.StatusServiceUnavailable, "POOL_UNAVAILABLE", err.Error())
	case errors.Is(err, economy.ErrStakeInactive):
		writeError(w, http.StatusConflict, "STAKE_INACTIVE", err.Error())
	case errors.Is(err, economy.ErrFundingUnavailable):
		writeError(w, http.StatusServiceUnavailable, "FUNDING_UNAVAILABLE", err.Error())
	case errors.Is(err, extagent.ErrBadName), errors.Is(err, extagent.ErrBadArchtype):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, extagent.ErrNameTaken):
		writeError(w, http.StatusConflict, "NAME_TAKEN", err.Error())
	case errors.Is(err, extagent.ErrBadToken):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case errors.Is(err, commands.ErrUnknownIntent), errors.Is(err, commands.ErrUnknownMode):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, commands.ErrIssuerForbidden), errors.Is(err, commands.ErrNotIssuer):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, crews.ErrBadStrategy), errors.Is(err, crews.ErrBadIntensity):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
