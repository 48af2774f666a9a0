package economy

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"

	"town/internal/config"
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

func seedPool(t *testing.T, s *store.Store, reserve, arena, feeBps int64) {
	t.Helper()
	if err := store.InitEconomyPool(s.DB(), reserve, arena, feeBps); err != nil {
		t.Fatalf("InitEconomyPool: %v", err)
	}
}

func seedAgent(t *testing.T, s *store.Store, id string, bankroll, reserve int64) {
	t.Helper()
	err := store.CreateAgent(s.DB(), &store.Agent{
		ID: id, Name: id, Archetype: store.ArchetypeGrinder,
		Bankroll: bankroll, ReserveBalance: reserve, Health: 100, Elo: 1500, IsActive: true,
	})
	if err != nil {
		t.Fatalf("CreateAgent %s: %v", id, err)
	}
}

func TestQuoteFloorMath(t *testing.T) {
	pool := &store.EconomyPool{ReserveBalance: 1_000_000, ArenaBalance: 1_000_000, FeeBps: 100}

	q, err := quoteAgainst(pool, store.SideBuyArena, 10_000)
	if err != nil {
		t.Fatalf("quoteAgainst: %v", err)
	}
	// fee = 10000*100/10000 = 100, inAfter = 9900
	// out = 1000000*9900/1009900 = 9802 (floored)
	if q.Fee != 100 {
		t.Errorf("fee = %d, want 100", q.Fee)
	}
	if q.AmountOut != 9802 {
		t.Errorf("amountOut = %d, want 9802", q.AmountOut)
	}
	if !q.PriceAfter.GreaterThan(q.PriceBefore) {
		t.Errorf("buying arena should raise the price: before=%s after=%s",
			q.PriceBefore, q.PriceAfter)
	}
}

func TestQuoteRejectsBadInput(t *testing.T) {
	pool := &store.EconomyPool{ReserveBalance: 1000, ArenaBalance: 1000, FeeBps: 100}

	if _, err := quoteAgainst(pool, store.SideBuyArena, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := quoteAgainst(pool, store.SideBuyArena, -5); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := quoteAgainst(pool, "SIDEWAYS", 100); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("bad side: got %v, want ErrInvalidAmount", err)
	}
	// Tiny trade that floors to zero output.
	if _, err := quoteAgainst(pool, store.SideBuyArena, 1); !errors.Is(err, ErrPoolUnavailable) {
		t.Errorf("dust trade: got %v, want ErrPoolUnavailable", err)
	}
}

func TestSwapPreservesProduct(t *testing.T) {
	s := openTest(t)
	seedPool(t, s, 1_000_000, 1_000_000, 100)
	seedAgent(t, s, "a1", 0, 50_000)

	svc := NewService(s, 4000)
	before, _ := store.GetEconomyPool(s.DB())
	kBefore := before.K()

	q, err := svc.Swap("a1", store.SideBuyArena, 10_000, SwapOpts{})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}

	after, _ := store.GetEconomyPool(s.DB())
	if after.K() < kBefore*99/100 {
		t.Errorf("k dropped too far: before=%d after=%d", kBefore, after.K())
	}

	a, _ := store.GetAgent(s.DB(), "a1")
	if a.ReserveBalance != 50_000-10_000 {
		t.Errorf("reserve = %d, want 40000", a.ReserveBalance)
	}
	if a.Bankroll != q.AmountOut {
		t.Errorf("bankroll = %d, want %d", a.Bankroll, q.AmountOut)
	}

	// Fee split 40% insurance / 60% ops.
	if after.InsuranceBudget != 40 || after.OpsBudget != 60 {
		t.Errorf("fee split = ins %d / ops %d, want 40/60", after.InsuranceBudget, after.OpsBudget)
	}
	if after.CumulativeFeesReserve != q.Fee {
		t.Errorf("cumulativeFeesReserve = %d, want %d", after.CumulativeFeesReserve, q.Fee)
	}

	swaps, err := store.ListSwapsSince(s.DB(), 0, 10)
	if err != nil {
		t.Fatalf("ListSwapsSince: %v", err)
	}
	if len(swaps) != 1 {
		t.Fatalf("swap records = %d, want 1", len(swaps))
	}
}

func TestSwapSlippageBound(t *testing.T) {
	s := openTest(t)
	seedPool(t, s, 1_000_000, 1_000_000, 100)
	seedAgent(t, s, "a1", 0, 50_000)

	svc := NewService(s, 4000)
	_, err := svc.Swap("a1", store.SideBuyArena, 10_000, SwapOpts{MinAmountOut: 99_999})
	if !errors.Is(err, ErrSlippage) {
		t.Fatalf("got %v, want ErrSlippage", err)
	}

	// Nothing moved.
	a, _ := store.GetAgent(s.DB(), "a1")
	if a.ReserveBalance != 50_000 || a.Bankroll != 0 {
		t.Errorf("balances mutated on slippage failure: %d/%d", a.ReserveBalance, a.Bankroll)
	}
}

func TestSwapInsufficientFunds(t *testing.T) {
	s := openTest(t)
	seedPool(t, s, 1_000_000, 1_000_000, 100)
	seedAgent(t, s, "a1", 0, 100)

	svc := NewService(s, 4000)
	_, err := svc.Swap("a1", store.SideBuyArena, 10_000, SwapOpts{})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestSwapSellSide(t *testing.T) {
	s := openTest(t)
	seedPool(t, s, 1_000_000, 1_000_000, 100)
	seedAgent(t, s, "a1", 20_000, 0)

	svc := NewService(s, 4000)
	q, err := svc.Swap("a1", store.SideSellArena, 20_000, SwapOpts{})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if q.PriceAfter.GreaterThanOrEqual(q.PriceBefore) {
		t.Errorf("selling arena should lower the price: before=%s after=%s",
			q.PriceBefore, q.PriceAfter)
	}

	after, _ := store.GetEconomyPool(s.DB())
	if after.CumulativeFeesArena != q.Fee {
		t.Errorf("cumulativeFeesArena = %d, want %d", after.CumulativeFeesArena, q.Fee)
	}
}

func TestSplitContribution(t *testing.T) {
	s := openTest(t)
	seedPool(t, s, 1_000_000, 1_000_000, 100)
	town := &store.Town{ID: "t1", Name: "Testville", Status: store.TownActive, PlotCount: 5}
	if err := store.CreateTown(s.DB(), town, []string{store.ZoneResidential}); err != nil {
		t.Fatalf("CreateTown: %v", err)
	}

	split := config.SplitBps{Town: 5000, Ops: 2500, PvP: 1500, Insurance: 1000}
	var c *Contribution
	err := s.WithTx(func(tx *sqlx.Tx) error {
		var err error
		c, err = SplitContribution(tx, "t1", 1000, split, "claim")
		return err
	})
	if err != nil {
		t.Fatalf("SplitContribution: %v", err)
	}

	if got := c.Town + c.Ops + c.PvP + c.Insurance; got != 1000 {
		t.Fatalf("pieces sum to %d, want 1000", got)
	}
	if c.Town != 500 || c.Ops != 250 || c.PvP != 150 || c.Insurance != 100 {
		t.Errorf("split = %+v, want 500/250/150/100", c)
	}

	town, _ = store.GetTown(s.DB(), "t1")
	if town.Treasury != 500 {
		t.Errorf("town treasury = %d, want 500", town.Treasury)
	}
	pool, _ := store.GetEconomyPool(s.DB())
	if pool.OpsBudget != 250 || pool.PvPBudget != 150 || pool.InsuranceBudget != 100 {
		t.Errorf("pool budgets = ops %d / pvp %d / ins %d",
			pool.OpsBudget, pool.PvPBudget, pool.InsuranceBudget)
	}
}

func TestSplitContributionRemainderToTown(t *testing.T) {
	s := openTest(t)
	seedPool(t, s, 1_000_000, 1_000_000, 100)
	town := &store.Town{ID: "t1", Name: "Testville", Status: store.TownActive, PlotCount: 5}
	if err := store.CreateTown(s.DB(), town, []string{store.ZoneResidential}); err != nil {
		t.Fatalf("CreateTown: %v", err)
	}

	// 7 does not divide cleanly; every shortfall from flooring lands in
	// the town share.
	split := config.SplitBps{Town: 5000, Ops: 2500, PvP: 1500, Insurance: 1000}
	var c *Contribution
	err := s.WithTx(func(tx *sqlx.Tx) error {
		var err error
		c, err = SplitContribution(tx, "t1", 7, split, "claim")
		return err
	})
	if err != nil {
		t.Fatalf("SplitContribution: %v", err)
	}
	if got := c.Town + c.Ops + c.PvP + c.Insurance; got != 7 {
		t.Errorf("pieces sum to %d, want 7", got)
	}
}

func TestAuditDriftAndViolations(t *testing.T) {
	s := openTest(t)
	seedPool(t, s, 1_000_000, 1_000_000, 100)
	seedAgent(t, s, "a1", 500, 100)
	seedAgent(t, s, "a2", 300, 0)

	svc := NewService(s, 4000)
	if _, err := svc.SetBaseline(); err != nil {
		t.Fatalf("SetBaseline: %v", err)
	}

	// Internal transfer: value moves, total holds.
	err := s.WithTx(func(tx *sqlx.Tx) error {
		if err := store.AdjustBankroll(tx, "a1", -200); err != nil {
			return err
		}
		return store.AdjustBankroll(tx, "a2", 200)
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	r, err := svc.Audit()
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if !r.HasBaseline {
		t.Fatal("audit lost its baseline")
	}
	if r.DriftSinceBaseline != 0 {
		t.Errorf("drift = %d, want 0 after internal transfer", r.DriftSinceBaseline)
	}
	if !r.Healthy() {
		t.Errorf("unexpected violations: %v", r.Violations)
	}

	// Minting shows up as drift.
	if err := store.AdjustBankroll(s.DB(), "a1", 999); err != nil {
		t.Fatalf("mint: %v", err)
	}
	r, _ = svc.Audit()
	if r.DriftSinceBaseline != 999 {
		t.Errorf("drift = %d, want 999 after mint", r.DriftSinceBaseline)
	}
}

func TestStakeAndYield(t *testing.T) {
	s := openTest(t)
	seedPool(t, s, 1_000_000, 1_000_000, 100)
	seedAgent(t, s, "fighter", 500, 0)
	seedAgent(t, s, "backer1", 1000, 0)
	seedAgent(t, s, "backer2", 1000, 0)

	svc := NewService(s, 4000)
	st1, err := svc.Stake("backer1", "fighter", 300)
	if err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if _, err := svc.Stake("backer2", "fighter", 100); err != nil {
		t.Fatalf("Stake: %v", err)
	}

	b1, _ := store.GetAgent(s.DB(), "backer1")
	if b1.Bankroll != 700 {
		t.Errorf("backer1 bankroll = %d, want 700", b1.Bankroll)
	}

	// payout 400 -> yield pool floor(400*0.3)=120, split 90/30 by stake.
	var paid int64
	err = s.WithTx(func(tx *sqlx.Tx) error {
		var err error
		paid, err = DistributeBackerYield(tx, "fighter", 400)
		return err
	})
	if err != nil {
		t.Fatalf("DistributeBackerYield: %v", err)
	}
	if paid != 120 {
		t.Errorf("yield pool = %d, want 120", paid)
	}
	b1, _ = store.GetAgent(s.DB(), "backer1")
	b2, _ := store.GetAgent(s.DB(), "backer2")
	if b1.Bankroll != 790 || b2.Bankroll != 930 {
		t.Errorf("backer bankrolls = %d/%d, want 790/930", b1.Bankroll, b2.Bankroll)
	}
	// The yield comes out of the fighter's bankroll.
	f, _ := store.GetAgent(s.DB(), "fighter")
	if f.Bankroll != 500-120 {
		t.Errorf("fighter bankroll = %d, want 380", f.Bankroll)
	}

	// Unstake returns principal only; yield already landed.
	if _, err := svc.Unstake("backer1", st1.ID); err != nil {
		t.Fatalf("Unstake: %v", err)
	}
	b1, _ = store.GetAgent(s.DB(), "backer1")
	if b1.Bankroll != 1090 {
		t.Errorf("backer1 bankroll after unstake = %d, want 1090", b1.Bankroll)
	}
	if _, err := svc.Unstake("backer1", st1.ID); !errors.Is(err, ErrStakeInactive) {
		t.Errorf("double unstake: got %v, want ErrStakeInactive", err)
	}
}

func TestYieldFlooringRemainderStaysWithWinner(t *testing.T) {
	s := openTest(t)
	seedPool(t, s, 1_000_000, 1_000_000, 100)
	seedAgent(t, s, "fighter", 500, 0)
	seedAgent(t, s, "backer1", 1000, 0)
	seedAgent(t, s, "backer2", 1000, 0)

	svc := NewService(s, 4000)
	if _, err := svc.Stake("backer1", "fighter", 100); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if _, err := svc.Stake("backer2", "fighter", 250); err != nil {
		t.Fatalf("Stake: %v", err)
	}

	// payout 110 -> pool floor(110*0.3)=33; shares floor to 9 and 23,
	// so only 32 moves and the odd token never leaves the fighter.
	var paid int64
	err := s.WithTx(func(tx *sqlx.Tx) error {
		var err error
		paid, err = DistributeBackerYield(tx, "fighter", 110)
		return err
	})
	if err != nil {
		t.Fatalf("DistributeBackerYield: %v", err)
	}
	if paid != 32 {
		t.Errorf("paid = %d, want 32", paid)
	}
	b1, _ := store.GetAgent(s.DB(), "backer1")
	b2, _ := store.GetAgent(s.DB(), "backer2")
	if b1.Bankroll != 900+9 || b2.Bankroll != 750+23 {
		t.Errorf("backer bankrolls = %d/%d, want 909/773", b1.Bankroll, b2.Bankroll)
	}
	f, _ := store.GetAgent(s.DB(), "fighter")
	if f.Bankroll != 500-32 {
		t.Errorf("fighter bankroll = %d, want 468", f.Bankroll)
	}
}

func TestTransfer(t *testing.T) {
	s := openTest(t)
	seedPool(t, s, 1_000_000, 1_000_000, 100)
	seedAgent(t, s, "a1", 200, 0)
	seedAgent(t, s, "a2", 50, 0)

	svc := NewService(s, 4000)
	if err := svc.Transfer("a1", "a2", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount: got %v", err)
	}
	if err := svc.Transfer("a1", "a1", 10); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("self transfer: got %v", err)
	}
	if err := svc.Transfer("a1", "ghost", 10); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown recipient: got %v", err)
	}
	if err := svc.Transfer("a1", "a2", 500); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Errorf("overdraw: got %v", err)
	}

	if err := svc.Transfer("a1", "a2", 75); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	a1, _ := store.GetAgent(s.DB(), "a1")
	a2, _ := store.GetAgent(s.DB(), "a2")
	if a1.Bankroll != 125 || a2.Bankroll != 125 {
		t.Errorf("bankrolls = %d/%d, want 125/125", a1.Bankroll, a2.Bankroll)
	}
}

func TestFundingVerifierUnavailable(t *testing.T) {
	s := openTest(t)
	v := NewFundingVerifier(s, nil)
	_, err := v.VerifyAndCredit(context.Background(), "a1", "0xabc")
	if !errors.Is(err, ErrFundingUnavailable) {
		t.Fatalf("got %v, want ErrFundingUnavailable", err)
	}
}

type fakeChain struct{ amount int64 }

func (f *fakeChain) VerifyDeposit(ctx context.Context, txHash string) (int64, error) {
	return f.amount, nil
}

func TestFundingVerifierCreditsOnce(t *testing.T) {
	s := openTest(t)
	seedAgent(t, s, "a1", 0, 0)

	v := NewFundingVerifier(s, &fakeChain{amount: 250})
	got, err := v.VerifyAndCredit(context.Background(), "a1", "0xabc")
	if err != nil {
		t.Fatalf("VerifyAndCredit: %v", err)
	}
	if got != 250 {
		t.Errorf("credited %d, want 250", got)
	}
	a, _ := store.GetAgent(s.DB(), "a1")
	if a.ReserveBalance != 250 {
		t.Errorf("reserve = %d, want 250", a.ReserveBalance)
	}

	// Replaying the same hash must not double-credit.
	if _, err := v.VerifyAndCredit(context.Background(), "a1", "0xabc"); !errors.Is(err, store.ErrConflict) {
		t.Errorf("replay: got %v, want ErrConflict", err)
	}
	a, _ = store.GetAgent(s.DB(), "a1")
	if a.ReserveBalance != 250 {
		t.Errorf("reserve after replay = %d, want 250", a.ReserveBalance)
	}
}
