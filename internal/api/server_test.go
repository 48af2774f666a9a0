package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"town/internal/agent"
	"town/internal/arena"
	"town/internal/chat"
	"town/internal/commands"
	"town/internal/config"
	"town/internal/crews"
	"town/internal/economy"
	"town/internal/extagent"
	"town/internal/games"
	"town/internal/goals"
	"town/internal/social"
	"town/internal/store"
	"town/internal/towns"
)

var testSplit = config.SplitBps{Town: 5000, Ops: 2500, PvP: 1500, Insurance: 1000}

type fixedTick int64

func (t fixedTick) CurrentTick() int64 { return int64(t) }

func setup(t *testing.T) (*store.Store, *Server, http.Handler) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := store.InitEconomyPool(s.DB(), 1_000_000, 1_000_000, 100); err != nil {
		t.Fatalf("InitEconomyPool: %v", err)
	}

	soc := social.NewService(s)
	cmds := commands.NewService(s)
	cr := crews.NewService(s, cmds)
	if err := cr.EnsureCrews(); err != nil {
		t.Fatalf("EnsureCrews: %v", err)
	}
	tw := towns.NewService(s, testSplit, testSplit)
	if _, err := tw.CreateTown("Testville", 5); err != nil {
		t.Fatalf("CreateTown: %v", err)
	}
	ec := economy.NewService(s, 4000)
	ar := arena.NewService(s, soc, nil, "")
	ch := chat.NewService(s, soc, nil, "")
	p := agent.NewPipeline(s, goals.NewTracker(s), cmds, cr, tw, ec, ar, ch, nil, "")
	ad := extagent.NewAdapter(s, p)

	cfg := &config.Config{EnableTestUtils: true, TestUtilsKey: "secret"}
	fund := economy.NewFundingVerifier(s, nil)
	srv := NewServer(s, ad, ec, fund, ar, tw, cr, cmds, fixedTick(7), cfg)
	return s, srv, srv.Router()
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s response (%d): %v\n%s", method, path, w.Code, err, w.Body.String())
		}
	}
	return w
}

func register(t *testing.T, h http.Handler, name string) extagent.Registration {
	t.Helper()
	var reg extagent.Registration
	w := doJSON(t, h, "POST", "/api/agents/register", "",
		map[string]string{"name": name, "archetype": store.ArchetypeRock}, &reg)
	if w.Code != http.StatusOK {
		t.Fatalf("register %s: %d %s", name, w.Code, w.Body.String())
	}
	return reg
}

func fund(t *testing.T, h http.Handler, agentID string, bankroll, reserve int64) {
	t.Helper()
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(map[string]interface{}{
		"agentId": agentID, "bankroll": bankroll, "reserve": reserve,
	})
	req := httptest.NewRequest("POST", "/api/test-utils/fund", &buf)
	req.Header.Set("X-Test-Utils-Key", "secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("fund: %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterAndObserve(t *testing.T) {
	_, _, h := setup(t)
	alice := register(t, h, "alice")
	register(t, h, "bob")

	if alice.Bankroll != 50 || alice.ReserveBalance != 100 {
		t.Errorf("starting balances = %d/%d", alice.Bankroll, alice.ReserveBalance)
	}

	var obs observeResponse
	w := doJSON(t, h, "GET", "/api/agents/observe", alice.AccessToken, nil, &obs)
	if w.Code != http.StatusOK {
		t.Fatalf("observe: %d %s", w.Code, w.Body.String())
	}
	if obs.Self.Name != "alice" {
		t.Errorf("self = %q", obs.Self.Name)
	}
	if obs.Town == nil || obs.Town.Name != "Testville" || len(obs.Town.Plots) != 5 {
		t.Errorf("town view = %+v", obs.Town)
	}
	if len(obs.OtherAgents) != 1 || obs.OtherAgents[0].Name != "bob" {
		t.Errorf("otherAgents = %+v", obs.OtherAgents)
	}
	if obs.Economy == nil || obs.Economy.ReserveBalance != 1_000_000 {
		t.Errorf("economy view = %+v", obs.Economy)
	}
	if !obs.Wheel.Enabled {
		t.Error("wheel disabled by default")
	}
	if len(obs.RecentEvents) == 0 {
		t.Error("no recent events; town founding should be on the feed")
	}
}

func TestObserveRequiresToken(t *testing.T) {
	_, _, h := setup(t)

	var apiErr apiError
	w := doJSON(t, h, "GET", "/api/agents/observe", "", nil, &apiErr)
	if w.Code != http.StatusUnauthorized || apiErr.Code != "UNAUTHORIZED" {
		t.Errorf("no token: %d %+v", w.Code, apiErr)
	}

	w = doJSON(t, h, "GET", "/api/agents/observe", "bogus", nil, &apiErr)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: %d", w.Code)
	}
}

func TestActChargesAndReportsInference(t *testing.T) {
	s, _, h := setup(t)
	alice := register(t, h, "alice")
	fund(t, h, alice.AgentID, 100, 0)

	var res actResponse
	w := doJSON(t, h, "POST", "/api/agents/act", alice.AccessToken,
		map[string]interface{}{"type": "claim_plot", "reasoning": "land grab"}, &res)
	if w.Code != http.StatusOK {
		t.Fatalf("act: %d %s", w.Code, w.Body.String())
	}
	if !res.Success || res.InferenceCost != 1 {
		t.Errorf("act response = %+v", res)
	}
	// 50 starting plus the 100 top-up, 50 claim fee, 1 inference token.
	if res.AgentState.Bankroll != 99 {
		t.Errorf("bankroll = %d, want 99", res.AgentState.Bankroll)
	}

	a, _ := store.GetAgent(s.DB(), alice.AgentID)
	if a.LastActionType != "claim_plot" {
		t.Errorf("last action = %q", a.LastActionType)
	}
}

func TestActPaymentRequired(t *testing.T) {
	_, _, h := setup(t)
	alice := register(t, h, "alice")
	register(t, h, "bob") // trading needs a peer
	fund(t, h, alice.AgentID, -50, 0)

	var res actResponse
	w := doJSON(t, h, "POST", "/api/agents/act", alice.AccessToken,
		map[string]interface{}{"type": "trade", "reasoning": "broke but chatty"}, &res)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("act: %d %s", w.Code, w.Body.String())
	}
	if res.Success || res.Code != "PAYMENT_REQUIRED" || res.InferenceCost != 0 {
		t.Errorf("response = %+v", res)
	}
}

func TestActBlockedKeepsZeroInferenceCost(t *testing.T) {
	_, _, h := setup(t)
	alice := register(t, h, "alice")

	// start_build without a claimed plot is rejected in validation.
	var res actResponse
	w := doJSON(t, h, "POST", "/api/agents/act", alice.AccessToken,
		map[string]interface{}{"type": "start_build", "reasoning": "skipping ahead"}, &res)
	if w.Code != http.StatusOK {
		t.Fatalf("act: %d %s", w.Code, w.Body.String())
	}
	if res.Success || res.Error == "" || res.InferenceCost != 0 {
		t.Errorf("response = %+v", res)
	}
}

func TestEventsSinceShape(t *testing.T) {
	_, _, h := setup(t)

	var resp eventsSinceResponse
	w := doJSON(t, h, "GET", "/api/events?since=0", "", nil, &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("events: %d %s", w.Code, w.Body.String())
	}
	if len(resp.TownEvents) == 0 {
		t.Error("townEvents empty; founding event expected")
	}
	if resp.Swaps == nil || resp.Matches == nil {
		t.Error("swaps/matches must be empty slices, not null")
	}
	if len(resp.TownEvents) > eventPageLimit {
		t.Errorf("townEvents = %d rows, cap is %d", len(resp.TownEvents), eventPageLimit)
	}
}

func TestQuoteAndSwap(t *testing.T) {
	s, _, h := setup(t)
	alice := register(t, h, "alice")

	var q quoteView
	w := doJSON(t, h, "GET", "/api/economy/quote?side=BUY_ARENA&amount=100", "", nil, &q)
	if w.Code != http.StatusOK {
		t.Fatalf("quote: %d %s", w.Code, w.Body.String())
	}
	if q.AmountOut <= 0 || q.Fee != 1 {
		t.Errorf("quote = %+v", q)
	}

	// Spends the full 100-token starting reserve.
	w = doJSON(t, h, "POST", "/api/economy/swap", alice.AccessToken,
		map[string]interface{}{"side": "BUY_ARENA", "amountIn": 100}, &q)
	if w.Code != http.StatusOK {
		t.Fatalf("swap: %d %s", w.Code, w.Body.String())
	}

	a, _ := store.GetAgent(s.DB(), alice.AgentID)
	if a.ReserveBalance != 0 {
		t.Errorf("reserve = %d, want 0", a.ReserveBalance)
	}
	if a.Bankroll != 50+q.AmountOut {
		t.Errorf("bankroll = %d, want %d", a.Bankroll, 50+q.AmountOut)
	}

	var apiErr apiError
	w = doJSON(t, h, "POST", "/api/economy/swap", alice.AccessToken,
		map[string]interface{}{"side": "BUY_ARENA", "amountIn": 50}, &apiErr)
	if w.Code != http.StatusBadRequest || apiErr.Code != "INSUFFICIENT_FUNDS" {
		t.Errorf("overdrawn swap: %d %+v", w.Code, apiErr)
	}
}

func TestChallengeJoinAndSpectate(t *testing.T) {
	_, _, h := setup(t)
	alice := register(t, h, "alice")
	bob := register(t, h, "bob")
	fund(t, h, alice.AgentID, 500, 0)
	fund(t, h, bob.AgentID, 500, 0)

	var m store.Match
	w := doJSON(t, h, "POST", "/api/arena/challenge", alice.AccessToken,
		map[string]interface{}{"opponentId": bob.AgentID, "gameType": games.TypeRPS, "wager": 100}, &m)
	if w.Code != http.StatusOK {
		t.Fatalf("challenge: %d %s", w.Code, w.Body.String())
	}
	if m.Status != store.MatchWaiting {
		t.Errorf("status = %q, want WAITING", m.Status)
	}

	w = doJSON(t, h, "POST", "/api/arena/matches/"+m.ID+"/join", bob.AccessToken, nil, &m)
	if w.Code != http.StatusOK {
		t.Fatalf("join: %d %s", w.Code, w.Body.String())
	}
	if m.Status != store.MatchActive || m.TotalPot != 200 {
		t.Errorf("joined match = %+v", m)
	}

	// Anonymous spectators get the filtered view without valid actions.
	var state arena.MatchState
	w = doJSON(t, h, "GET", "/api/arena/matches/"+m.ID, "", nil, &state)
	if w.Code != http.StatusOK {
		t.Fatalf("spectate: %d %s", w.Code, w.Body.String())
	}
	if state.ValidActions != nil {
		t.Errorf("spectator got valid actions: %v", state.ValidActions)
	}

	w = doJSON(t, h, "POST", "/api/arena/matches/"+m.ID+"/move", alice.AccessToken,
		map[string]interface{}{"action": "rock"}, &state)
	if w.Code != http.StatusOK {
		t.Fatalf("move: %d %s", w.Code, w.Body.String())
	}

	// An outsider may not cancel.
	carol := register(t, h, "carol")
	var apiErr apiError
	w = doJSON(t, h, "POST", "/api/arena/matches/"+m.ID+"/cancel", carol.AccessToken, nil, &apiErr)
	if w.Code != http.StatusForbidden {
		t.Errorf("outsider cancel: %d", w.Code)
	}
}

func TestDepositWithoutChainRPC(t *testing.T) {
	_, _, h := setup(t)
	alice := register(t, h, "alice")

	var apiErr apiError
	w := doJSON(t, h, "POST", "/api/economy/deposit", alice.AccessToken,
		map[string]string{"txHash": "0xabc"}, &apiErr)
	if w.Code != http.StatusServiceUnavailable || apiErr.Code != "FUNDING_UNAVAILABLE" {
		t.Errorf("deposit: %d %+v", w.Code, apiErr)
	}
}

func TestPokerMoveOutsideMatch(t *testing.T) {
	_, _, h := setup(t)
	alice := register(t, h, "alice")

	var apiErr apiError
	w := doJSON(t, h, "POST", "/api/agents/poker-move", alice.AccessToken,
		map[string]interface{}{"action": "check", "reasoning": "idle"}, &apiErr)
	if w.Code != http.StatusConflict || apiErr.Code != "NOT_IN_MATCH" {
		t.Errorf("poker move: %d %+v", w.Code, apiErr)
	}
}

func TestQueueCommandSelfOnly(t *testing.T) {
	s, _, h := setup(t)
	alice := register(t, h, "alice")
	bob := register(t, h, "bob")

	var cmd store.AgentCommand
	w := doJSON(t, h, "POST", "/api/commands", alice.AccessToken,
		map[string]interface{}{"mode": store.ModeSuggest, "intent": "do_work"}, &cmd)
	if w.Code != http.StatusOK {
		t.Fatalf("queue command: %d %s", w.Code, w.Body.String())
	}
	if cmd.AgentID != alice.AgentID || cmd.CreatedTick != 7 {
		t.Errorf("command = %+v", cmd)
	}
	if got, _ := store.GetCommand(s.DB(), cmd.ID); got.Status != store.CommandQueued {
		t.Errorf("status = %q", got.Status)
	}

	var apiErr apiError
	w = doJSON(t, h, "POST", "/api/commands", alice.AccessToken,
		map[string]interface{}{"agentId": bob.AgentID, "mode": store.ModeSuggest, "intent": "rest"}, &apiErr)
	if w.Code != http.StatusForbidden {
		t.Errorf("cross-agent command: %d %+v", w.Code, apiErr)
	}
}

func TestCrewOrderEndpoint(t *testing.T) {
	_, _, h := setup(t)
	alice := register(t, h, "alice")

	var order store.CrewOrder
	w := doJSON(t, h, "POST", "/api/crews/orders", alice.AccessToken,
		map[string]interface{}{"strategy": "FARM", "intensity": 2}, &order)
	if w.Code != http.StatusOK {
		t.Fatalf("crew order: %d %s", w.Code, w.Body.String())
	}
	if order.Strategy != "FARM" || order.CommandID == "" {
		t.Errorf("order = %+v", order)
	}

	var apiErr apiError
	w = doJSON(t, h, "POST", "/api/crews/orders", alice.AccessToken,
		map[string]interface{}{"strategy": "PILLAGE", "intensity": 1}, &apiErr)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad strategy: %d %+v", w.Code, apiErr)
	}
}

func TestTestUtilsGate(t *testing.T) {
	t.Run("wrong key", func(t *testing.T) {
		_, _, h := setup(t)
		req := httptest.NewRequest("POST", "/api/test-utils/fund", bytes.NewBufferString("{}"))
		req.Header.Set("X-Test-Utils-Key", "wrong")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Errorf("wrong key: %d", w.Code)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		s, _, _ := setup(t)
		soc := social.NewService(s)
		cmds := commands.NewService(s)
		cr := crews.NewService(s, cmds)
		tw := towns.NewService(s, testSplit, testSplit)
		ec := economy.NewService(s, 4000)
		ar := arena.NewService(s, soc, nil, "")
		ch := chat.NewService(s, soc, nil, "")
		p := agent.NewPipeline(s, goals.NewTracker(s), cmds, cr, tw, ec, ar, ch, nil, "")
		srv := NewServer(s, extagent.NewAdapter(s, p), ec, economy.NewFundingVerifier(s, nil),
			ar, tw, cr, cmds, fixedTick(0), &config.Config{})
		h := srv.Router()

		req := httptest.NewRequest("POST", "/api/test-utils/fund", bytes.NewBufferString("{}"))
		req.Header.Set("X-Test-Utils-Key", "secret")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("disabled test-utils: %d", w.Code)
		}
	})
}

func TestLeaderboardOrdersByElo(t *testing.T) {
	s, _, h := setup(t)
	alice := register(t, h, "alice")
	bob := register(t, h, "bob")
	if err := store.SetElo(s.DB(), bob.AgentID, 1700); err != nil {
		t.Fatalf("SetElo: %v", err)
	}
	_ = alice

	var board []agentPublic
	w := doJSON(t, h, "GET", "/api/leaderboard", "", nil, &board)
	if w.Code != http.StatusOK {
		t.Fatalf("leaderboard: %d %s", w.Code, w.Body.String())
	}
	if len(board) != 2 || board[0].Name != "bob" {
		t.Errorf("board = %+v", board)
	}
}

func TestDisableWheelSurfaces(t *testing.T) {
	s, _, _ := setup(t)
	soc := social.NewService(s)
	cmds := commands.NewService(s)
	cr := crews.NewService(s, cmds)
	tw := towns.NewService(s, testSplit, testSplit)
	ec := economy.NewService(s, 4000)
	ar := arena.NewService(s, soc, nil, "")
	ch := chat.NewService(s, soc, nil, "")
	p := agent.NewPipeline(s, goals.NewTracker(s), cmds, cr, tw, ec, ar, ch, nil, "")
	srv := NewServer(s, extagent.NewAdapter(s, p), ec, economy.NewFundingVerifier(s, nil),
		ar, tw, cr, cmds, fixedTick(0), &config.Config{DisableWheel: true})
	h := srv.Router()

	reg := register(t, h, "alice")
	var obs observeResponse
	w := doJSON(t, h, "GET", "/api/agents/observe", reg.AccessToken, nil, &obs)
	if w.Code != http.StatusOK {
		t.Fatalf("observe: %d %s", w.Code, w.Body.String())
	}
	if obs.Wheel.Enabled {
		t.Error("wheel should surface as disabled")
	}
}
