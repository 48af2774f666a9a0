package social

import (
	"errors"
	"testing"
	"time"

	"town/internal/store"
)

func openTest(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAgents(t *testing.T, s *store.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		err := store.CreateAgent(s.DB(), &store.Agent{
			ID: id, Name: id, Archetype: store.ArchetypeGrinder,
			Health: 100, Elo: 1500, IsActive: true,
		})
		if err != nil {
			t.Fatalf("CreateAgent %s: %v", id, err)
		}
	}
}

// testService returns a service with a controllable clock that starts far
// in the past and advances past the cooldown on each call.
func testService(s *store.Store) (*Service, *time.Time) {
	now := time.Now().Add(-time.Hour)
	svc := NewService(s)
	svc.now = func() time.Time { return now }
	return svc, &now
}

func TestSelfPairRejected(t *testing.T) {
	s := openTest(t)
	seedAgents(t, s, "a")
	svc := NewService(s)

	if _, err := svc.UpsertInteraction("a", "a", KindBond, 5); !errors.Is(err, ErrSelfPair) {
		t.Fatalf("got %v, want ErrSelfPair", err)
	}
}

func TestDeltaAndScoreClamps(t *testing.T) {
	s := openTest(t)
	seedAgents(t, s, "a", "b")
	svc, now := testService(s)

	res, err := svc.UpsertInteraction("a", "b", KindBond, 100)
	if err != nil {
		t.Fatalf("UpsertInteraction: %v", err)
	}
	if res.Relationship.Score != 7 {
		t.Errorf("score = %d, want delta clamped to 7", res.Relationship.Score)
	}

	for i := 0; i < 10; i++ {
		*now = now.Add(time.Minute)
		res, err = svc.UpsertInteraction("a", "b", KindBond, 7)
		if err != nil {
			t.Fatalf("UpsertInteraction: %v", err)
		}
	}
	if res.Relationship.Score != 30 {
		t.Errorf("score = %d, want cap at 30", res.Relationship.Score)
	}
}

func TestCooldownSkipsMutation(t *testing.T) {
	s := openTest(t)
	seedAgents(t, s, "a", "b")
	svc, now := testService(s)

	if _, err := svc.UpsertInteraction("a", "b", KindBond, 5); err != nil {
		t.Fatalf("UpsertInteraction: %v", err)
	}
	*now = now.Add(10 * time.Second) // inside the 45s window
	res, err := svc.UpsertInteraction("a", "b", KindBond, 5)
	if err != nil {
		t.Fatalf("UpsertInteraction: %v", err)
	}
	if !res.OnCooldown {
		t.Fatal("expected cooldown")
	}
	if res.Relationship.Score != 5 {
		t.Errorf("score = %d, want 5 (unchanged)", res.Relationship.Score)
	}

	*now = now.Add(time.Minute)
	res, _ = svc.UpsertInteraction("a", "b", KindBond, 5)
	if res.OnCooldown {
		t.Fatal("cooldown should have lapsed")
	}
}

func TestFriendAndRivalTransitions(t *testing.T) {
	s := openTest(t)
	seedAgents(t, s, "a", "b", "c")
	svc, now := testService(s)

	// Two bonds of +5 reach the friend threshold.
	svc.UpsertInteraction("a", "b", KindBond, 5)
	*now = now.Add(time.Minute)
	res, err := svc.UpsertInteraction("a", "b", KindBond, 5)
	if err != nil {
		t.Fatalf("UpsertInteraction: %v", err)
	}
	if res.Relationship.Status != store.RelFriend {
		t.Fatalf("status = %s, want FRIEND at score %d", res.Relationship.Status, res.Relationship.Score)
	}

	// Beef drags it back under 4 and FRIEND decays to NEUTRAL.
	*now = now.Add(time.Minute)
	res, _ = svc.UpsertInteraction("a", "b", KindBeef, -7)
	if res.Relationship.Status != store.RelNeutral {
		t.Errorf("status = %s, want NEUTRAL after decay (score %d)",
			res.Relationship.Status, res.Relationship.Score)
	}

	// Repeated beef crosses the rival threshold.
	for i := 0; i < 3; i++ {
		*now = now.Add(time.Minute)
		res, _ = svc.UpsertInteraction("a", "c", KindBeef, -7)
	}
	if res.Relationship.Status != store.RelRival {
		t.Errorf("status = %s, want RIVAL (score %d)", res.Relationship.Status, res.Relationship.Score)
	}
	if !res.Relationship.RivalSince.Valid {
		t.Error("rival_since not set")
	}
}

func TestMismatchedDeltaSignRejected(t *testing.T) {
	s := openTest(t)
	seedAgents(t, s, "a", "b")
	svc, _ := testService(s)

	if _, err := svc.UpsertInteraction("a", "b", KindBeef, 5); !errors.Is(err, ErrWrongSign) {
		t.Errorf("BEEF with +5: got %v, want ErrWrongSign", err)
	}
	if _, err := svc.UpsertInteraction("a", "b", KindBond, -5); !errors.Is(err, ErrWrongSign) {
		t.Errorf("BOND with -5: got %v, want ErrWrongSign", err)
	}

	// Nothing mutated by the rejected calls.
	res, err := svc.UpsertInteraction("a", "b", KindBeef, -5)
	if err != nil {
		t.Fatalf("UpsertInteraction: %v", err)
	}
	if res.Relationship.Score != -5 {
		t.Errorf("score = %d, want -5", res.Relationship.Score)
	}
}

func TestFriendCap(t *testing.T) {
	s := openTest(t)
	seedAgents(t, s, "hub", "f1", "f2", "f3")
	svc, now := testService(s)

	bond := func(a, b string) *Result {
		t.Helper()
		var res *Result
		for i := 0; i < 2; i++ {
			*now = now.Add(time.Minute)
			var err error
			res, err = svc.UpsertInteraction(a, b, KindBond, 5)
			if err != nil {
				t.Fatalf("UpsertInteraction %s/%s: %v", a, b, err)
			}
		}
		return res
	}

	if res := bond("hub", "f1"); res.Relationship.Status != store.RelFriend {
		t.Fatalf("first friend: status = %s", res.Relationship.Status)
	}
	if res := bond("hub", "f2"); res.Relationship.Status != store.RelFriend {
		t.Fatalf("second friend: status = %s", res.Relationship.Status)
	}

	res := bond("hub", "f3")
	if res.Relationship.Status != store.RelNeutral {
		t.Errorf("third friend: status = %s, want NEUTRAL", res.Relationship.Status)
	}
	if !res.FriendCapHit {
		t.Error("expected friendCapHit")
	}

	st, err := svc.GetStanding("hub")
	if err != nil {
		t.Fatalf("GetStanding: %v", err)
	}
	if len(st.Friends) != 2 {
		t.Errorf("friends = %v, want 2", st.Friends)
	}
}
