// Package sim drives the simulation clock: the agent tick loop, the
// match pairing scheduler, stale-match cleanup and town yield payouts.
// Each loop is a plain ticker goroutine stopped through one channel.
package sim

import (
	"context"
	"log"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"town/internal/agent"
	"town/internal/arena"
	"town/internal/crews"
	"town/internal/games"
	"town/internal/store"
	"town/internal/towns"
)

const (
	tickStateKey = "current_tick"

	// pairing scheduler parameters
	pairMinBankroll = 200
	pairWager       = 200
	driveInterval   = 300 * time.Millisecond
	driveCap        = 20 // turns before a stuck match is cancelled
)

// Options tunes the driver cadences. Zero values fall back to defaults.
type Options struct {
	TickInterval    time.Duration
	PairingInterval time.Duration
	CleanupInterval time.Duration
	YieldInterval   time.Duration
	Workers         int
}

func (o *Options) withDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = 20 * time.Second
	}
	if o.PairingInterval <= 0 {
		o.PairingInterval = 75 * time.Second
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 5 * time.Minute
	}
	if o.YieldInterval <= 0 {
		o.YieldInterval = 10 * time.Minute
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
}

// Driver owns the scheduler goroutines.
type Driver struct {
	store    *store.Store
	pipeline *agent.Pipeline
	arena    *arena.Service
	crews    *crews.Service
	towns    *towns.Service
	opts     Options

	mu      sync.Mutex
	tick    int64
	ticking map[string]bool // per-agent serialization
	pairing bool            // single-flight guard for the pairing sweep

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDriver wires the scheduler. Call Start to begin.
func NewDriver(st *store.Store, p *agent.Pipeline, ar *arena.Service, cr *crews.Service, tw *towns.Service, opts Options) *Driver {
	opts.withDefaults()
	return &Driver{
		store:    st,
		pipeline: p,
		arena:    ar,
		crews:    cr,
		towns:    tw,
		opts:     opts,
		ticking:  map[string]bool{},
		stopCh:   make(chan struct{}),
	}
}

// Start restores the tick counter and launches the loops.
func (d *Driver) Start() error {
	raw, err := store.GetState(d.store.DB(), tickStateKey, "0")
	if err != nil {
		return err
	}
	d.tick, _ = strconv.ParseInt(raw, 10, 64)
	log.Printf("[Sim] starting at tick %d", d.tick)

	d.loop(d.opts.TickInterval, d.runTickRound)
	d.loop(d.opts.PairingInterval, d.runPairing)
	d.loop(d.opts.CleanupInterval, d.runCleanup)
	d.loop(d.opts.YieldInterval, d.runYield)
	return nil
}

// Stop halts every loop and waits for in-flight work.
func (d *Driver) Stop() {
	close(d.stopCh)
	d.wg.Wait()
	log.Printf("[Sim] stopped at tick %d", d.CurrentTick())
}

// CurrentTick returns the simulation clock.
func (d *Driver) CurrentTick() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tick
}

func (d *Driver) loop(interval time.Duration, fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-d.stopCh:
				return
			case <-t.C:
				fn()
			}
		}
	}()
}

// runTickRound advances the clock one tick, resolves crew epochs and runs
// the pipeline for every active agent through a bounded worker pool.
func (d *Driver) runTickRound() {
	d.mu.Lock()
	d.tick++
	tick := d.tick
	d.mu.Unlock()

	if err := store.SetState(d.store.DB(), tickStateKey, strconv.FormatInt(tick, 10)); err != nil {
		log.Printf("[Sim] tick persist failed: %v", err)
	}
	if _, err := d.crews.ResolveEpoch(tick); err != nil {
		log.Printf("[Sim] crew epoch failed at tick %d: %v", tick, err)
	}

	agents, err := store.ListActiveAgents(d.store.DB(), 0)
	if err != nil {
		log.Printf("[Sim] agent list failed: %v", err)
		return
	}

	sem := make(chan struct{}, d.opts.Workers)
	var wg sync.WaitGroup
	for _, a := range agents {
		if !d.claimAgent(a.ID) {
			continue // previous tick still running for this agent
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer func() {
				d.releaseAgent(id)
				<-sem
				wg.Done()
			}()
			ctx, cancel := context.WithTimeout(context.Background(), d.opts.TickInterval)
			defer cancel()
			if _, err := d.pipeline.Tick(ctx, id, tick); err != nil {
				log.Printf("[Sim] tick %d failed for %s: %v", tick, id, err)
			}
		}(a.ID)
	}
	wg.Wait()
}

func (d *Driver) claimAgent(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ticking[id] {
		return false
	}
	d.ticking[id] = true
	return true
}

func (d *Driver) releaseAgent(id string) {
	d.mu.Lock()
	delete(d.ticking, id)
	d.mu.Unlock()
}

// runPairing matches two idle, funded agents into an RPS game and drives
// it to completion. Sweeps never overlap.
func (d *Driver) runPairing() {
	d.mu.Lock()
	if d.pairing {
		d.mu.Unlock()
		return
	}
	d.pairing = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.pairing = false
		d.mu.Unlock()
	}()

	candidates, err := store.ListPairableAgents(d.store.DB(), pairMinBankroll)
	if err != nil {
		log.Printf("[Sim] pairing list failed: %v", err)
		return
	}
	if len(candidates) < 2 {
		return
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	a, b := candidates[0], candidates[1]

	m, err := d.arena.CreateMatch(a.ID, b.ID, games.TypeRPS, pairWager)
	if err != nil {
		log.Printf("[Sim] pairing %s vs %s failed: %v", a.Name, b.Name, err)
		return
	}
	log.Printf("[Sim] paired %s vs %s in match %s", a.Name, b.Name, m.ID)
	d.driveMatch(m.ID)
}

// driveMatch plays AI turns until the match leaves ACTIVE, cancelling
// at driveCap so a stuck pairing never squats on both players.
func (d *Driver) driveMatch(matchID string) {
	for i := 0; i < driveCap; i++ {
		select {
		case <-d.stopCh:
			return
		case <-time.After(driveInterval):
		}

		m, err := store.GetMatch(d.store.DB(), matchID)
		if err != nil {
			log.Printf("[Sim] drive read failed for %s: %v", matchID, err)
			return
		}
		if m.Status != store.MatchActive {
			return
		}
		turn := m.CurrentTurnID.String
		if turn == "" {
			// Simultaneous phase: let either player act.
			turn = m.Player1ID
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err = d.arena.PlayAITurn(ctx, matchID, turn)
		cancel()
		if err != nil && m.Player2ID.Valid {
			// Not this player's turn in a simultaneous game; try the other.
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_, err = d.arena.PlayAITurn(ctx, matchID, m.Player2ID.String)
			cancel()
			if err != nil {
				log.Printf("[Sim] drive move failed for %s: %v", matchID, err)
			}
		}
	}
	// Ran out of patience; unwind rather than leave both players locked.
	if err := d.arena.CancelMatch(matchID, "drive cap reached"); err != nil {
		log.Printf("[Sim] drive-cap cancel failed for %s: %v", matchID, err)
	}
}

// runCleanup unwinds matches stuck past the staleness window.
func (d *Driver) runCleanup() {
	if _, err := d.arena.CleanupStaleMatches(); err != nil {
		log.Printf("[Sim] cleanup failed: %v", err)
	}
}

// runYield pays building owners from the active town's treasury.
func (d *Driver) runYield() {
	town, err := store.GetActiveTown(d.store.DB())
	if err != nil {
		return
	}
	paid, err := d.towns.DistributeYield(town.ID)
	if err != nil {
		log.Printf("[Sim] yield distribution failed: %v", err)
		return
	}
	if paid > 0 {
		log.Printf("[Sim] distributed %d yield in %s", paid, town.Name)
	}
}
