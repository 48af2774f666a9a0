package extagent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"town/internal/agent"
	"town/internal/arena"
	"town/internal/chat"
	"town/internal/commands"
	"town/internal/config"
	"town/internal/crews"
	"town/internal/economy"
	"town/internal/goals"
	"town/internal/social"
	"town/internal/store"
	"town/internal/towns"
)

var testSplit = config.SplitBps{Town: 5000, Ops: 2500, PvP: 1500, Insurance: 1000}

func setup(t *testing.T) (*store.Store, *Adapter) {
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

	return s, NewAdapter(s, p)
}

func TestRegisterValidation(t *testing.T) {
	_, ad := setup(t)

	if _, err := ad.Register(RegisterOpts{Name: ""}); !errors.Is(err, ErrBadName) {
		t.Errorf("empty name: got %v", err)
	}
	if _, err := ad.Register(RegisterOpts{Name: strings.Repeat("x", 21)}); !errors.Is(err, ErrBadName) {
		t.Errorf("long name: got %v", err)
	}
	if _, err := ad.Register(RegisterOpts{Name: "ok", Archetype: "WIZARD"}); !errors.Is(err, ErrBadArchtype) {
		t.Errorf("bad archetype: got %v", err)
	}

	if _, err := ad.Register(RegisterOpts{Name: "taken", Archetype: store.ArchetypeRock}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := ad.Register(RegisterOpts{Name: "taken", Archetype: store.ArchetypeRock}); !errors.Is(err, ErrNameTaken) {
		t.Errorf("duplicate name: got %v", err)
	}
}

func TestRegisterStartingBalances(t *testing.T) {
	s, ad := setup(t)

	user, err := ad.Register(RegisterOpts{Name: "user1", Archetype: store.ArchetypeDegen})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	// User-spawned agents start reserve-heavy: 100 reserve, 50 bankroll.
	if user.Bankroll != 50 || user.ReserveBalance != 100 {
		t.Errorf("user balances = %d/%d, want 50/100", user.Bankroll, user.ReserveBalance)
	}

	sys, err := ad.Register(RegisterOpts{Name: "house1", Archetype: store.ArchetypeShark, System: true})
	if err != nil {
		t.Fatalf("Register system: %v", err)
	}
	if sys.Bankroll != 0 || sys.ReserveBalance != systemReserve {
		t.Errorf("system balances = %d/%d, want 0/%d", sys.Bankroll, sys.ReserveBalance, systemReserve)
	}

	a, _ := store.GetAgent(s.DB(), user.AgentID)
	if !a.IsExternal || !a.IsActive {
		t.Errorf("agent flags = %+v", a)
	}
	if a.Elo != 1500 {
		t.Errorf("starting elo = %d, want 1500", a.Elo)
	}
	if a.RiskTolerance < 0.05 || a.RiskTolerance > 0.95 {
		t.Errorf("riskTolerance = %v, outside [0.05,0.95]", a.RiskTolerance)
	}
	if a.MaxWagerPct < 0.05 || a.MaxWagerPct > 0.6 {
		t.Errorf("maxWagerPercent = %v, outside [0.05,0.6]", a.MaxWagerPct)
	}
	// The token secret is never stored in the clear.
	secret := strings.TrimPrefix(user.AccessToken, user.AgentID+".")
	if a.APIKeyHash == secret || a.APIKeyHash == "" {
		t.Error("api key stored without hashing")
	}
}

func TestAuthenticate(t *testing.T) {
	_, ad := setup(t)
	reg, err := ad.Register(RegisterOpts{Name: "auth", Archetype: store.ArchetypeRock})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	id, err := ad.Authenticate(reg.AccessToken)
	if err != nil || id != reg.AgentID {
		t.Fatalf("Authenticate = %q, %v", id, err)
	}

	for _, bad := range []string{"", "junk", reg.AgentID + ".wrongsecret", "nope." + reg.AccessToken} {
		if _, err := ad.Authenticate(bad); !errors.Is(err, ErrBadToken) {
			t.Errorf("token %q: got %v, want ErrBadToken", bad, err)
		}
	}
}

func TestAuthenticateLegacyKey(t *testing.T) {
	_, ad := setup(t)
	reg, err := ad.Register(RegisterOpts{Name: "legacy", Archetype: store.ArchetypeRock})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	secret := strings.TrimPrefix(reg.AccessToken, reg.AgentID+".")

	if _, err := ad.Authenticate(secret); !errors.Is(err, ErrBadToken) {
		t.Errorf("legacy key accepted while disabled: %v", err)
	}
	ad.AllowLegacyAPIKeys = true
	id, err := ad.Authenticate(secret)
	if err != nil || id != reg.AgentID {
		t.Errorf("legacy auth = %q, %v", id, err)
	}
}

func TestActChargesInference(t *testing.T) {
	s, ad := setup(t)
	reg, err := ad.Register(RegisterOpts{Name: "actor", Archetype: store.ArchetypeGrinder})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Top up so the claim fee and the inference token both clear.
	if err := store.AdjustBankroll(s.DB(), reg.AgentID, 100); err != nil {
		t.Fatalf("AdjustBankroll: %v", err)
	}

	res, err := ad.Act(context.Background(), reg.AgentID, ActRequest{
		Type:      "claim_plot",
		Reasoning: "grabbing land early",
	}, 1)
	if err != nil {
		t.Fatalf("Act: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}

	a, _ := store.GetAgent(s.DB(), reg.AgentID)
	if a.Bankroll != userBankroll+100-towns.ClaimCost-1 {
		t.Errorf("bankroll = %d, want %d", a.Bankroll, userBankroll+100-towns.ClaimCost-1)
	}
	if a.LastActionType != "claim_plot" {
		t.Errorf("last action = %q", a.LastActionType)
	}
}

func TestActRestIsFree(t *testing.T) {
	s, ad := setup(t)
	reg, err := ad.Register(RegisterOpts{Name: "sleepy", Archetype: store.ArchetypeRock})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := ad.Act(context.Background(), reg.AgentID, ActRequest{Type: "rest"}, 1)
	if err != nil || !res.Success {
		t.Fatalf("Act = %+v, %v", res, err)
	}
	a, _ := store.GetAgent(s.DB(), reg.AgentID)
	if a.Bankroll != userBankroll {
		t.Errorf("bankroll = %d, want %d", a.Bankroll, userBankroll)
	}
}

func TestActUnknownActionBlocked(t *testing.T) {
	_, ad := setup(t)
	reg, err := ad.Register(RegisterOpts{Name: "odd", Archetype: store.ArchetypeRock})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := ad.Act(context.Background(), reg.AgentID, ActRequest{Type: "moonwalk"}, 1)
	if err != nil {
		t.Fatalf("Act: %v", err)
	}
	if res.Success || !strings.Contains(res.Blocked, "unknown action") {
		t.Errorf("result = %+v", res)
	}
}

func TestDeriveArchetypeStable(t *testing.T) {
	a := deriveArchetype("Vinnie")
	if a != deriveArchetype("vinnie") {
		t.Error("derivation is case-sensitive")
	}
	if !validArchetype(a) {
		t.Errorf("derived %q is not a valid archetype", a)
	}
}
