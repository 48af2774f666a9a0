package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"town/internal/agent"
	"town/internal/api"
	"town/internal/arena"
	"town/internal/chat"
	"town/internal/commands"
	"town/internal/config"
	"town/internal/crews"
	"town/internal/economy"
	"town/internal/extagent"
	"town/internal/games"
	"town/internal/goals"
	"town/internal/llm"
	"town/internal/sim"
	"town/internal/social"
	"town/internal/store"
	"town/internal/towns"
)

func main() {
	cfg := config.Load()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	if err := store.InitEconomyPool(st.DB(), cfg.EconomyInitReserve, cfg.EconomyInitArena, cfg.EconomyFeeBps); err != nil {
		log.Fatalf("Failed to seed economy pool: %v", err)
	}
	games.SetPokerMaxHands(cfg.PokerMaxHands)

	var client llm.Client
	if cfg.LLMAPIKey != "" {
		client = llm.NewThrottled(llm.NewOpenAI(cfg.LLMAPIKey, cfg.LLMBaseURL), cfg.LLMCallsPerSec, 2)
		log.Printf("LLM provider enabled (model %s)", cfg.LLMModel)
	} else {
		log.Printf("No LLM key configured; agents run on archetype fallbacks")
	}

	soc := social.NewService(st)
	cmds := commands.NewService(st)
	cr := crews.NewService(st, cmds)
	if err := cr.EnsureCrews(); err != nil {
		log.Fatalf("Failed to seed crews: %v", err)
	}
	tw := towns.NewService(st, cfg.ClaimSplit, cfg.BuildSplit)
	ec := economy.NewService(st, cfg.FeeInsuranceBps)
	ar := arena.NewService(st, soc, client, cfg.LLMModel)
	ch := chat.NewService(st, soc, client, cfg.LLMModel)
	pipeline := agent.NewPipeline(st, goals.NewTracker(st), cmds, cr, tw, ec, ar, ch, client, cfg.LLMModel)

	adapter := extagent.NewAdapter(st, pipeline)
	adapter.AllowLegacyAPIKeys = cfg.AllowLegacyAPIKeys

	// First boot: open a town and pin the audit baseline.
	if _, err := store.GetActiveTown(st.DB()); errors.Is(err, store.ErrNotFound) {
		if _, err := tw.CreateTown(cfg.TownName, cfg.TownPlots); err != nil {
			log.Fatalf("Failed to create town: %v", err)
		}
	} else if err != nil {
		log.Fatalf("Failed to read town: %v", err)
	}
	if report, err := ec.Audit(); err != nil {
		log.Fatalf("Economy audit failed: %v", err)
	} else if !report.HasBaseline {
		if _, err := ec.SetBaseline(); err != nil {
			log.Fatalf("Failed to set audit baseline: %v", err)
		}
	}

	driver := sim.NewDriver(st, pipeline, ar, cr, tw, sim.Options{
		TickInterval:    cfg.TickInterval,
		PairingInterval: cfg.PairingInterval,
	})
	// Chain-funded deposits stay disabled until an RPC client is wired in.
	fund := economy.NewFundingVerifier(st, nil)
	server := api.NewServer(st, adapter, ec, fund, ar, tw, cr, cmds, driver, cfg)

	if err := driver.Start(); err != nil {
		log.Fatalf("Failed to start simulation: %v", err)
	}

	// Mirror new town events onto the websocket feed.
	stopFeed := make(chan struct{})
	go func() {
		lastMs := time.Now().UnixMilli()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stopFeed:
				return
			case <-ticker.C:
			}
			town, err := store.GetActiveTown(st.DB())
			if err != nil {
				continue
			}
			events, err := store.ListEventsSince(st.DB(), town.ID, lastMs, 50)
			if err != nil {
				continue
			}
			for i := range events {
				server.BroadcastEvent(&events[i])
				if events[i].CreatedMs > lastMs {
					lastMs = events[i].CreatedMs
				}
			}
		}
	}()

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router(),
	}
	go func() {
		log.Printf("Serving on http://localhost:%s (db %s, tick %s)", cfg.Port, cfg.DBPath, cfg.TickInterval)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutting down")

	close(stopFeed)
	driver.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	server.Shutdown()
}
