// Package api is the HTTP boundary: registration and bearer-token auth
// for externally controlled agents, read endpoints for the town and
// economy, the match endpoints, and a WebSocket hub that mirrors the
// town event feed to connected clients.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"town/internal/arena"
	"town/internal/commands"
	"town/internal/config"
	"town/internal/crews"
	"town/internal/economy"
	"town/internal/extagent"
	"town/internal/store"
	"town/internal/towns"
)

// TickSource exposes the simulation clock to handlers that stamp
// tick-relative work (commands, external acts).
type TickSource interface {
	CurrentTick() int64
}

type Server struct {
	store    *store.Store
	adapter  *extagent.Adapter
	economy  *economy.Service
	funding  *economy.FundingVerifier
	arena    *arena.Service
	towns    *towns.Service
	crews    *crews.Service
	commands *commands.Service
	ticks    TickSource

	hub      *Hub
	upgrader websocket.Upgrader

	disableWheel    bool
	enableTestUtils bool
	testUtilsKey    string
}

func NewServer(st *store.Store, ad *extagent.Adapter, ec *economy.Service, fund *economy.FundingVerifier,
	ar *arena.Service, tw *towns.Service, cr *crews.Service, cm *commands.Service,
	ticks TickSource, cfg *config.Config) *Server {
	s := &Server{
		store:    st,
		adapter:  ad,
		economy:  ec,
		funding:  fund,
		arena:    ar,
		towns:    tw,
		crews:    cr,
		commands: cm,
		ticks:    ticks,
		hub:      NewHub(),

		disableWheel:    cfg.DisableWheel,
		enableTestUtils: cfg.EnableTestUtils,
		testUtilsKey:    cfg.TestUtilsKey,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	// Mirror the town feed onto the socket once a match settles.
	ar.OnResolve(func(matchID string) {
		m, err := store.GetMatch(st.DB(), matchID)
		if err != nil {
			return
		}
		s.hub.Broadcast(map[string]interface{}{"type": "match", "match": m})
	})
	return s
}

// Hub exposes the broadcast hub so the schedulers can push events.
func (s *Server) Hub() *Hub { return s.hub }

// Shutdown disconnects websocket clients.
func (s *Server) Shutdown() {
	s.hub.Stop()
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Test-Utils-Key"},
		AllowCredentials: false,
	}))

	r.Route("/api", func(r chi.Router) {
		// Open routes.
		r.Post("/agents/register", s.handleRegister)
		r.Get("/town", s.handleGetTown)
		r.Get("/agents", s.handleListAgents)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/events", s.handleEventsSince)
		r.Get("/crews", s.handleListCrews)
		r.Get("/economy/quote", s.handleQuote)
		r.Get("/economy/audit", s.handleAudit)
		r.Get("/arena/matches/{id}", s.handleGetMatch)

		// Bearer-token routes.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAgent)
			r.Get("/agents/observe", s.handleObserve)
			r.Post("/agents/act", s.handleAct)
			r.Post("/agents/poker-move", s.handlePokerMove)
			r.Post("/economy/swap", s.handleSwap)
			r.Post("/economy/deposit", s.handleDeposit)
			r.Post("/economy/stake", s.handleStake)
			r.Post("/economy/unstake", s.handleUnstake)
			r.Post("/arena/challenge", s.handleChallenge)
			r.Post("/arena/matches/{id}/join", s.handleJoinMatch)
			r.Post("/arena/matches/{id}/move", s.handleSubmitMove)
			r.Post("/arena/matches/{id}/cancel", s.handleCancelMatch)
			r.Post("/commands", s.handleQueueCommand)
			r.Delete("/commands/{id}", s.handleCancelCommand)
			r.Post("/crews/orders", s.handleQueueCrewOrder)
		})

		// Test hooks, disabled unless explicitly configured.
		r.Group(func(r chi.Router) {
			r.Use(s.requireTestUtils)
			r.Post("/test-utils/fund", s.handleTestFund)
			r.Post("/test-utils/audit-baseline", s.handleTestBaseline)
		})
	})

	r.Get("/ws", s.handleWebSocket)

	return r
}

type ctxKey int

const ctxAgentID ctxKey = iota

// requireAgent resolves the bearer token to an agent id and stores it on
// the request context.
func (s *Server) requireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		agentID, err := s.adapter.Authenticate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxAgentID, agentID)))
	})
}

// requireTestUtils gates the test hooks behind the configured key.
func (s *Server) requireTestUtils(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.enableTestUtils || s.testUtilsKey == "" {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "not found")
			return
		}
		if r.Header.Get("X-Test-Utils-Key") != s.testUtilsKey {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "bad test-utils key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func agentID(r *http.Request) string {
	id, _ := r.Context().Value(ctxAgentID).(string)
	return id
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func (s *Server) currentTick() int64 {
	if s.ticks == nil {
		return 0
	}
	return s.ticks.CurrentTick()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// BroadcastEvent pushes one town event to every websocket client.
func (s *Server) BroadcastEvent(e *store.TownEvent) {
	s.hub.Broadcast(map[string]interface{}{"type": "event", "event": e})
}
