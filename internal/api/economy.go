package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"town/internal/economy"
	"town/internal/store"
)

type economyView struct {
	ReserveBalance        int64  `json:"reserveBalance"`
	ArenaBalance          int64  `json:"arenaBalance"`
	FeeBps                int64  `json:"feeBps"`
	Price                 string `json:"price"` // reserve per arena token
	OpsBudget             int64  `json:"opsBudget"`
	PvPBudget             int64  `json:"pvpBudget"`
	RescueBudget          int64  `json:"rescueBudget"`
	InsuranceBudget       int64  `json:"insuranceBudget"`
	CumulativeFeesReserve int64  `json:"cumulativeFeesReserve"`
	CumulativeFeesArena   int64  `json:"cumulativeFeesArena"`
}

func economyViewOf(p *store.EconomyPool) *economyView {
	price := "0"
	if p.ArenaBalance > 0 {
		q := float64(p.ReserveBalance) / float64(p.ArenaBalance)
		price = strconv.FormatFloat(q, 'f', 6, 64)
	}
	return &economyView{
		ReserveBalance:        p.ReserveBalance,
		ArenaBalance:          p.ArenaBalance,
		FeeBps:                p.FeeBps,
		Price:                 price,
		OpsBudget:             p.OpsBudget,
		PvPBudget:             p.PvPBudget,
		RescueBudget:          p.RescueBudget,
		InsuranceBudget:       p.InsuranceBudget,
		CumulativeFeesReserve: p.CumulativeFeesReserve,
		CumulativeFeesArena:   p.CumulativeFeesArena,
	}
}

type quoteView struct {
	Side        string `json:"side"`
	AmountIn    int64  `json:"amountIn"`
	Fee         int64  `json:"fee"`
	AmountOut   int64  `json:"amountOut"`
	PriceBefore string `json:"priceBefore"`
	PriceAfter  string `json:"priceAfter"`
}

func quoteViewOf(q *economy.Quote) quoteView {
	return quoteView{
		Side:        q.Side,
		AmountIn:    q.AmountIn,
		Fee:         q.Fee,
		AmountOut:   q.AmountOut,
		PriceBefore: q.PriceBefore.String(),
		PriceAfter:  q.PriceAfter.String(),
	}
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	side := r.URL.Query().Get("side")
	amount, _ := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)

	q, err := s.economy.Quote(side, amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, quoteViewOf(q))
}

type swapRequest struct {
	Side         string `json:"side"`
	AmountIn     int64  `json:"amountIn"`
	MinAmountOut int64  `json:"minAmountOut,omitempty"`
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	q, err := s.economy.Swap(agentID(r), req.Side, req.AmountIn, economy.SwapOpts{
		MinAmountOut: req.MinAmountOut,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, quoteViewOf(q))
}

type depositRequest struct {
	TxHash string `json:"txHash"`
}

type depositResponse struct {
	Credited       int64 `json:"credited"`
	ReserveBalance int64 `json:"reserveBalance"`
}

// handleDeposit credits a verified on-chain deposit to the caller's
// reserve. Returns 503 when no chain RPC is configured.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	id := agentID(r)
	credited, err := s.funding.VerifyAndCredit(r.Context(), id, req.TxHash)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	a, err := store.GetAgent(s.store.DB(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, depositResponse{Credited: credited, ReserveBalance: a.ReserveBalance})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.economy.Audit()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, report)
}

type stakeRequest struct {
	AgentID string `json:"agentId"`
	Amount  int64  `json:"amount"`
}

type stakeView struct {
	ID               string `json:"id"`
	BackerID         string `json:"backerId"`
	AgentID          string `json:"agentId"`
	Amount           int64  `json:"amount"`
	TotalYieldEarned int64  `json:"totalYieldEarned"`
	IsActive         bool   `json:"isActive"`
}

func stakeViewOf(st *store.AgentStake) stakeView {
	return stakeView{
		ID:               st.ID,
		BackerID:         st.BackerID,
		AgentID:          st.AgentID,
		Amount:           st.Amount,
		TotalYieldEarned: st.TotalYieldEarned,
		IsActive:         st.IsActive,
	}
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	st, err := s.economy.Stake(agentID(r), req.AgentID, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, stakeViewOf(st))
}

type unstakeRequest struct {
	StakeID string `json:"stakeId"`
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	var req unstakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	st, err := s.economy.Unstake(agentID(r), req.StakeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, stakeViewOf(st))
}
