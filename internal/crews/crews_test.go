package crews

import (
	"errors"
	"math"
	"testing"

	"github.com/jmoiron/sqlx"

	"town/internal/commands"
	"town/internal/store"
)

func setup(t *testing.T) (*store.Store, *Service) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	svc := NewService(s, commands.NewService(s))
	if err := svc.EnsureCrews(); err != nil {
		t.Fatalf("EnsureCrews: %v", err)
	}
	return s, svc
}

func seedAgent(t *testing.T, s *store.Store, id, archetype string) {
	t.Helper()
	err := store.CreateAgent(s.DB(), &store.Agent{
		ID: id, Name: id, Archetype: archetype,
		Bankroll: 1000, Health: 100, Elo: 1500, IsActive: true,
	})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
}

func setCrew(t *testing.T, s *store.Store, id string, territory, treasury int64, warScore float64) {
	t.Helper()
	c, err := store.GetCrew(s.DB(), id)
	if err != nil {
		t.Fatalf("GetCrew %s: %v", id, err)
	}
	c.Territory, c.Treasury, c.WarScore = territory, treasury, warScore
	if err := store.UpdateCrew(s.DB(), c); err != nil {
		t.Fatalf("UpdateCrew %s: %v", id, err)
	}
}

func TestEnsureCrewsIdempotent(t *testing.T) {
	s, svc := setup(t)
	if err := svc.EnsureCrews(); err != nil {
		t.Fatalf("second EnsureCrews: %v", err)
	}
	crews, err := store.ListCrews(s.DB())
	if err != nil {
		t.Fatalf("ListCrews: %v", err)
	}
	if len(crews) != 3 {
		t.Errorf("got %d crews, want 3", len(crews))
	}
}

func TestCrewForCoversAllArchetypes(t *testing.T) {
	seen := map[string]bool{}
	for _, a := range store.Archetypes {
		id := CrewFor(a)
		if id == "" {
			t.Fatalf("no crew for %s", a)
		}
		// Stable across calls.
		if CrewFor(a) != id {
			t.Errorf("CrewFor(%s) unstable", a)
		}
		seen[id] = true
	}
	if len(seen) != 3 {
		t.Errorf("archetypes map to %d crews, want 3", len(seen))
	}
	if CrewFor("NOBODY") == "" {
		t.Error("unknown archetype got no crew")
	}
}

func TestQueueOrderValidation(t *testing.T) {
	s, svc := setup(t)
	seedAgent(t, s, "a", store.ArchetypeShark)

	if _, err := svc.QueueOrder("a", "PILLAGE", 1, 1); !errors.Is(err, ErrBadStrategy) {
		t.Errorf("bad strategy: got %v", err)
	}
	if _, err := svc.QueueOrder("a", store.StrategyRaid, 0, 1); !errors.Is(err, ErrBadIntensity) {
		t.Errorf("intensity 0: got %v", err)
	}
	if _, err := svc.QueueOrder("a", store.StrategyRaid, 4, 1); !errors.Is(err, ErrBadIntensity) {
		t.Errorf("intensity 4: got %v", err)
	}
	if _, err := svc.QueueOrder("ghost", store.StrategyRaid, 1, 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown agent: got %v", err)
	}
}

func TestQueueOrderCreatesLinkedCommand(t *testing.T) {
	s, svc := setup(t)
	seedAgent(t, s, "a", store.ArchetypeShark)
	crewID := CrewFor(store.ArchetypeShark)

	order, err := svc.QueueOrder("a", store.StrategyRaid, 2, 10)
	if err != nil {
		t.Fatalf("QueueOrder: %v", err)
	}
	if order.CrewID != crewID || order.Status != store.OrderQueued {
		t.Errorf("order = %+v", order)
	}

	cmd, err := store.GetCommand(s.DB(), order.CommandID)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if cmd.Intent != "crew_raid" || cmd.Mode != store.ModeStrong || cmd.AgentID != "a" {
		t.Errorf("command = %+v", cmd)
	}

	// Ordering raised the crew's war footing by the intensity.
	crew, _ := store.GetCrew(s.DB(), crewID)
	if crew.WarScore != 2 {
		t.Errorf("war score = %v, want 2", crew.WarScore)
	}

	head, err := store.HeadCrewOrder(s.DB(), "a")
	if err != nil {
		t.Fatalf("HeadCrewOrder: %v", err)
	}
	if head.ID != order.ID {
		t.Errorf("head = %s, want %s", head.ID, order.ID)
	}
}

func TestOrderDoneByCommand(t *testing.T) {
	s, svc := setup(t)
	seedAgent(t, s, "a", store.ArchetypeGrinder)

	order, err := svc.QueueOrder("a", store.StrategyFarm, 1, 1)
	if err != nil {
		t.Fatalf("QueueOrder: %v", err)
	}
	err = s.WithTx(func(tx *sqlx.Tx) error {
		return svc.OrderDone(tx, order.CommandID)
	})
	if err != nil {
		t.Fatalf("OrderDone: %v", err)
	}
	if _, err := store.HeadCrewOrder(s.DB(), "a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("order still queued: %v", err)
	}
}

func TestResolveEpochOffBoundary(t *testing.T) {
	_, svc := setup(t)
	for _, tick := range []int64{0, 1, 11, 13} {
		b, err := svc.ResolveEpoch(tick)
		if err != nil {
			t.Fatalf("ResolveEpoch(%d): %v", tick, err)
		}
		if b != nil {
			t.Errorf("tick %d resolved off-epoch: %+v", tick, b)
		}
	}
}

func TestResolveEpochSwingsAndDecays(t *testing.T) {
	s, svc := setup(t)
	setCrew(t, s, "crew-rollers", 10, 2000, 25)
	setCrew(t, s, "crew-masons", 10, 1000, 5)
	setCrew(t, s, "crew-drifters", 10, 500, 10)

	b, err := svc.ResolveEpoch(12)
	if err != nil {
		t.Fatalf("ResolveEpoch: %v", err)
	}
	if b == nil {
		t.Fatal("no battle on epoch tick")
	}
	if b.WinnerCrewID != "crew-rollers" || b.LoserCrewID != "crew-masons" {
		t.Fatalf("battle = %+v", b)
	}
	// gap 20 -> territory floor(20/10) = 2; treasury floor(1000*8%) = 80.
	if b.TerritorySwing != 2 || b.TreasurySwing != 80 {
		t.Errorf("swings = %d/%d, want 2/80", b.TerritorySwing, b.TreasurySwing)
	}

	winner, _ := store.GetCrew(s.DB(), "crew-rollers")
	loser, _ := store.GetCrew(s.DB(), "crew-masons")
	if winner.Territory != 12 || loser.Territory != 8 {
		t.Errorf("territory = %d/%d, want 12/8", winner.Territory, loser.Territory)
	}
	if winner.Treasury != 2080 || loser.Treasury != 920 {
		t.Errorf("treasury = %d/%d, want 2080/920", winner.Treasury, loser.Treasury)
	}
	if math.Abs(winner.WarScore-25*decayFactor) > 1e-9 {
		t.Errorf("winner war score = %v, want %v", winner.WarScore, 25*decayFactor)
	}
	if winner.Momentum != 1 || loser.Momentum != 0 {
		t.Errorf("momentum = %v/%v", winner.Momentum, loser.Momentum)
	}
}

func TestResolveEpochTreasuryCap(t *testing.T) {
	s, svc := setup(t)
	setCrew(t, s, "crew-rollers", 10, 0, 60)
	setCrew(t, s, "crew-masons", 10, 10_000, 0)
	setCrew(t, s, "crew-drifters", 10, 0, 30)

	b, err := svc.ResolveEpoch(24)
	if err != nil {
		t.Fatalf("ResolveEpoch: %v", err)
	}
	// gap 60 -> territory clamped to 4; treasury floor(10000*8%) = 800,
	// capped at 180.
	if b.TerritorySwing != 4 {
		t.Errorf("territory swing = %d, want 4", b.TerritorySwing)
	}
	if b.TreasurySwing != treasuryCap {
		t.Errorf("treasury swing = %d, want %d", b.TreasurySwing, treasuryCap)
	}
}

func TestResolveEpochFlatScoresStillDecay(t *testing.T) {
	s, svc := setup(t)
	setCrew(t, s, "crew-rollers", 10, 100, 8)
	setCrew(t, s, "crew-masons", 10, 100, 8)
	setCrew(t, s, "crew-drifters", 10, 100, 8)

	b, err := svc.ResolveEpoch(12)
	if err != nil {
		t.Fatalf("ResolveEpoch: %v", err)
	}
	if b != nil {
		t.Errorf("flat scores produced a battle: %+v", b)
	}
	c, _ := store.GetCrew(s.DB(), "crew-rollers")
	if math.Abs(c.WarScore-8*decayFactor) > 1e-9 {
		t.Errorf("war score = %v, want %v", c.WarScore, 8*decayFactor)
	}
}
