package store

import (
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateAgent(t *testing.T, s *Store, id, name string, bankroll int64) {
	t.Helper()
	err := CreateAgent(s.DB(), &Agent{
		ID: id, Name: name, Archetype: ArchetypeGrinder,
		Bankroll: bankroll, Health: 100, Elo: 1500, IsActive: true,
	})
	if err != nil {
		t.Fatalf("CreateAgent %s: %v", name, err)
	}
}

func TestCreateAgentDuplicateName(t *testing.T) {
	s := openTest(t)
	mustCreateAgent(t, s, "a1", "Vinnie", 500)

	err := CreateAgent(s.DB(), &Agent{ID: "a2", Name: "Vinnie", Archetype: ArchetypeShark})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate name: got %v, want ErrConflict", err)
	}
}

func TestAdjustBankroll(t *testing.T) {
	s := openTest(t)
	mustCreateAgent(t, s, "a1", "Vinnie", 100)

	if err := AdjustBankroll(s.DB(), "a1", -150); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraft: got %v, want ErrInsufficientFunds", err)
	}
	if err := AdjustBankroll(s.DB(), "a1", -100); err != nil {
		t.Fatalf("exact debit: %v", err)
	}
	a, err := GetAgent(s.DB(), "a1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if a.Bankroll != 0 {
		t.Errorf("bankroll = %d, want 0", a.Bankroll)
	}

	if err := AdjustBankroll(s.DB(), "missing", 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown agent: got %v, want ErrNotFound", err)
	}
}

func TestWithTxRollback(t *testing.T) {
	s := openTest(t)
	mustCreateAgent(t, s, "a1", "Vinnie", 100)
	mustCreateAgent(t, s, "a2", "Rocco", 0)

	boom := errors.New("boom")
	err := s.WithTx(func(tx *sqlx.Tx) error {
		if err := AdjustBankroll(tx, "a1", -50); err != nil {
			return err
		}
		if err := AdjustBankroll(tx, "a2", 50); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx: got %v, want boom", err)
	}

	a1, _ := GetAgent(s.DB(), "a1")
	a2, _ := GetAgent(s.DB(), "a2")
	if a1.Bankroll != 100 || a2.Bankroll != 0 {
		t.Errorf("balances after rollback = %d/%d, want 100/0", a1.Bankroll, a2.Bankroll)
	}
}

func TestAdjustHealthClamps(t *testing.T) {
	s := openTest(t)
	mustCreateAgent(t, s, "a1", "Vinnie", 0)

	if err := AdjustHealth(s.DB(), "a1", 50); err != nil {
		t.Fatalf("AdjustHealth: %v", err)
	}
	a, _ := GetAgent(s.DB(), "a1")
	if a.Health != 100 {
		t.Errorf("health = %d, want clamp at 100", a.Health)
	}
	if err := AdjustHealth(s.DB(), "a1", -500); err != nil {
		t.Fatalf("AdjustHealth: %v", err)
	}
	a, _ = GetAgent(s.DB(), "a1")
	if a.Health != 0 {
		t.Errorf("health = %d, want clamp at 0", a.Health)
	}
}

func TestTransitionCommandCAS(t *testing.T) {
	s := openTest(t)
	mustCreateAgent(t, s, "a1", "Vinnie", 0)

	cmd := &AgentCommand{
		ID: "c1", AgentID: "a1", IssuerType: "operator", Mode: ModeSuggest,
		Intent: "claim_plot", Params: "{}", Priority: 50, Status: CommandQueued,
	}
	if err := InsertCommand(s.DB(), cmd); err != nil {
		t.Fatalf("InsertCommand: %v", err)
	}

	if err := TransitionCommand(s.DB(), "c1", CommandQueued, CommandAccepted, ""); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	err := TransitionCommand(s.DB(), "c1", CommandQueued, CommandAccepted, "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second transition: got %v, want ErrConflict", err)
	}
}

func TestNextQueuedCommandOrdering(t *testing.T) {
	s := openTest(t)
	mustCreateAgent(t, s, "a1", "Vinnie", 0)

	for _, c := range []struct {
		id       string
		priority int
	}{{"low", 50}, {"high", 95}, {"mid", 80}} {
		cmd := &AgentCommand{
			ID: c.id, AgentID: "a1", IssuerType: "operator", Mode: ModeSuggest,
			Intent: "rest", Params: "{}", Priority: c.priority, Status: CommandQueued,
		}
		if err := InsertCommand(s.DB(), cmd); err != nil {
			t.Fatalf("InsertCommand %s: %v", c.id, err)
		}
	}

	got, err := NextQueuedCommand(s.DB(), "a1")
	if err != nil {
		t.Fatalf("NextQueuedCommand: %v", err)
	}
	if got.ID != "high" {
		t.Errorf("next command = %s, want high", got.ID)
	}
}

func TestGoalPartialUniqueIndex(t *testing.T) {
	s := openTest(t)
	mustCreateAgent(t, s, "a1", "Vinnie", 0)

	g := &Goal{
		ID: "g1", AgentID: "a1", Horizon: HorizonShort, TemplateKey: "t",
		Title: "x", Metric: MetricBankroll, TargetValue: 100, Status: GoalActive,
	}
	if err := CreateGoal(s.DB(), g); err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}

	g2 := *g
	g2.ID = "g2"
	if err := CreateGoal(s.DB(), &g2); !errors.Is(err, ErrConflict) {
		t.Fatalf("second active goal: got %v, want ErrConflict", err)
	}

	// A completed goal frees the slot.
	if err := UpdateGoalProgress(s.DB(), "g1", 100, GoalCompleted); err != nil {
		t.Fatalf("UpdateGoalProgress: %v", err)
	}
	if err := CreateGoal(s.DB(), &g2); err != nil {
		t.Fatalf("goal after completion: %v", err)
	}
}

func TestRelationshipOrdering(t *testing.T) {
	s := openTest(t)
	mustCreateAgent(t, s, "b", "Rocco", 0)
	mustCreateAgent(t, s, "a", "Vinnie", 0)

	if _, err := EnsureRelationship(s.DB(), "b", "a"); err != nil {
		t.Fatalf("EnsureRelationship: %v", err)
	}
	r1, err := GetRelationship(s.DB(), "a", "b")
	if err != nil {
		t.Fatalf("GetRelationship a,b: %v", err)
	}
	r2, err := GetRelationship(s.DB(), "b", "a")
	if err != nil {
		t.Fatalf("GetRelationship b,a: %v", err)
	}
	if r1.AgentA != "a" || r1.AgentB != "b" {
		t.Errorf("pair stored as (%s,%s), want (a,b)", r1.AgentA, r1.AgentB)
	}
	if r1.AgentA != r2.AgentA || r1.AgentB != r2.AgentB {
		t.Errorf("lookup order changed the row: %+v vs %+v", r1, r2)
	}
}

func TestStateRoundTrip(t *testing.T) {
	s := openTest(t)

	v, err := GetState(s.DB(), "tick", "0")
	if err != nil {
		t.Fatalf("GetState default: %v", err)
	}
	if v != "0" {
		t.Errorf("default = %q, want 0", v)
	}
	if err := SetState(s.DB(), "tick", "42"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := SetState(s.DB(), "tick", "43"); err != nil {
		t.Fatalf("SetState upsert: %v", err)
	}
	v, _ = GetState(s.DB(), "tick", "0")
	if v != "43" {
		t.Errorf("value = %q, want 43", v)
	}
}

func TestExpireQueuedCommands(t *testing.T) {
	s := openTest(t)
	mustCreateAgent(t, s, "a1", "Vinnie", 0)

	fresh := &AgentCommand{
		ID: "fresh", AgentID: "a1", IssuerType: "operator", Mode: ModeSuggest,
		Intent: "rest", Params: "{}", Priority: 50, Status: CommandQueued,
	}
	stale := &AgentCommand{
		ID: "stale", AgentID: "a1", IssuerType: "operator", Mode: ModeSuggest,
		Intent: "rest", Params: "{}", Priority: 50, Status: CommandQueued,
	}
	stale.ExpiresAtTick.Valid = true
	stale.ExpiresAtTick.Int64 = 5
	for _, c := range []*AgentCommand{fresh, stale} {
		if err := InsertCommand(s.DB(), c); err != nil {
			t.Fatalf("InsertCommand: %v", err)
		}
	}

	n, err := ExpireQueuedCommands(s.DB(), "a1", 10)
	if err != nil {
		t.Fatalf("ExpireQueuedCommands: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d commands, want 1", n)
	}
	got, _ := GetCommand(s.DB(), "stale")
	if got.Status != CommandExpired {
		t.Errorf("stale status = %s, want EXPIRED", got.Status)
	}
	got, _ = GetCommand(s.DB(), "fresh")
	if got.Status != CommandQueued {
		t.Errorf("fresh status = %s, want QUEUED", got.Status)
	}
}
