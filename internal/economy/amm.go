// Package economy implements the off-chain constant-product market between
// the reserve currency and the arena token, plus the pool's budget
// accounting and the drift audit.
package economy

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"town/internal/store"
)

var (
	ErrInvalidAmount     = errors.New("swap amount must be positive")
	ErrSlippage          = errors.New("amount out below minimum")
	ErrPoolUnavailable   = errors.New("economy pool unavailable")
	ErrInsufficientFunds = store.ErrInsufficientFunds
)

// Quote is the result of pricing a swap against the current pool state.
type Quote struct {
	Side        string
	AmountIn    int64
	Fee         int64
	AmountOut   int64
	PriceBefore decimal.Decimal // reserve per arena token
	PriceAfter  decimal.Decimal
}

// Service is the offchain AMM over the singleton pool row.
type Service struct {
	store           *store.Store
	feeInsuranceBps int64 // share of each swap fee routed to insurance; rest to ops
}

// NewService creates the AMM service. feeInsuranceBps is clamped to
// 0..10000.
func NewService(st *store.Store, feeInsuranceBps int64) *Service {
	if feeInsuranceBps < 0 {
		feeInsuranceBps = 0
	}
	if feeInsuranceBps > 10000 {
		feeInsuranceBps = 10000
	}
	return &Service{store: st, feeInsuranceBps: feeInsuranceBps}
}

// priceOf returns reserve/arena as a decimal spot price.
func priceOf(reserve, arena int64) decimal.Decimal {
	if arena == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(reserve).DivRound(decimal.NewFromInt(arena), 12)
}

// quoteAgainst prices amountIn against an explicit pool state.
func quoteAgainst(pool *store.EconomyPool, side string, amountIn int64) (*Quote, error) {
	if amountIn <= 0 {
		return nil, ErrInvalidAmount
	}
	if side != store.SideBuyArena && side != store.SideSellArena {
		return nil, fmt.Errorf("%w: unknown side %q", ErrInvalidAmount, side)
	}

	fee := amountIn * pool.FeeBps / 10000
	inAfter := amountIn - fee

	r, a := pool.ReserveBalance, pool.ArenaBalance
	var out int64
	var rAfter, aAfter int64
	if side == store.SideBuyArena {
		out = a * inAfter / (r + inAfter)
		rAfter, aAfter = r+inAfter, a-out
	} else {
		out = r * inAfter / (a + inAfter)
		rAfter, aAfter = r-out, a+inAfter
	}
	if out <= 0 || rAfter <= 0 || aAfter <= 0 {
		return nil, ErrPoolUnavailable
	}

	return &Quote{
		Side:        side,
		AmountIn:    amountIn,
		Fee:         fee,
		AmountOut:   out,
		PriceBefore: priceOf(r, a),
		PriceAfter:  priceOf(rAfter, aAfter),
	}, nil
}

// Quote prices a swap without executing it.
func (s *Service) Quote(side string, amountIn int64) (*Quote, error) {
	pool, err := store.GetEconomyPool(s.store.DB())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPoolUnavailable
	}
	if err != nil {
		return nil, err
	}
	return quoteAgainst(pool, side, amountIn)
}

// SwapOpts tunes a swap.
type SwapOpts struct {
	MinAmountOut int64 // 0 = no slippage bound
}

// Swap executes a swap atomically: debit the caller's input asset, credit
// the output asset from the pool re-read under the transaction, retain
// fees, split them to the insurance/ops budgets, and append the swap and
// ledger rows.
func (s *Service) Swap(agentID, side string, amountIn int64, opts SwapOpts) (*Quote, error) {
	var q *Quote
	err := s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		pool, err := store.GetEconomyPool(tx)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPoolUnavailable
		}
		if err != nil {
			return err
		}

		q, err = quoteAgainst(pool, side, amountIn)
		if err != nil {
			return err
		}
		if opts.MinAmountOut > 0 && q.AmountOut < opts.MinAmountOut {
			return ErrSlippage
		}

		// Move the caller's balances.
		if side == store.SideBuyArena {
			if err := store.AdjustReserve(tx, agentID, -amountIn); err != nil {
				return err
			}
			if err := store.AdjustBankroll(tx, agentID, q.AmountOut); err != nil {
				return err
			}
			pool.ReserveBalance += amountIn - q.Fee
			pool.ArenaBalance -= q.AmountOut
			pool.CumulativeFeesReserve += q.Fee
		} else {
			if err := store.AdjustBankroll(tx, agentID, -amountIn); err != nil {
				return err
			}
			if err := store.AdjustReserve(tx, agentID, q.AmountOut); err != nil {
				return err
			}
			pool.ArenaBalance += amountIn - q.Fee
			pool.ReserveBalance -= q.AmountOut
			pool.CumulativeFeesArena += q.Fee
		}

		insurance := q.Fee * s.feeInsuranceBps / 10000
		pool.InsuranceBudget += insurance
		pool.OpsBudget += q.Fee - insurance

		if err := store.UpdateEconomyPool(tx, pool); err != nil {
			return err
		}

		group := uuid.NewString()
		sw := &store.EconomySwap{
			ID:          group,
			AgentID:     agentID,
			Side:        side,
			AmountIn:    amountIn,
			Fee:         q.Fee,
			AmountOut:   q.AmountOut,
			PriceBefore: q.PriceBefore.String(),
			PriceAfter:  q.PriceAfter.String(),
			CreatedMs:   time.Now().UnixMilli(),
		}
		if err := store.AppendSwap(tx, sw); err != nil {
			return err
		}

		entries := []store.LedgerEntry{
			{EntryGroup: group, Account: "agent:" + agentID, Debit: amountIn, Memo: side},
			{EntryGroup: group, Account: "agent:" + agentID, Credit: q.AmountOut, Memo: side},
			{EntryGroup: group, Account: "pool", Credit: amountIn - q.Fee, Debit: q.AmountOut, Memo: side},
			{EntryGroup: group, Account: "budget:insurance", Credit: insurance, Memo: "swap fee"},
			{EntryGroup: group, Account: "budget:ops", Credit: q.Fee - insurance, Memo: "swap fee"},
		}
		for i := range entries {
			if err := store.AppendLedger(tx, &entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// CreditArenaFees adds arena-denominated fees (match rake, beef tax) to the
// pool's cumulative arena fee counter inside an existing transaction.
func CreditArenaFees(tx *sqlx.Tx, amount int64, memo string) error {
	if amount <= 0 {
		return nil
	}
	pool, err := store.GetEconomyPool(tx)
	if err != nil {
		return err
	}
	pool.CumulativeFeesArena += amount
	if err := store.UpdateEconomyPool(tx, pool); err != nil {
		return err
	}
	return store.AppendLedger(tx, &store.LedgerEntry{
		EntryGroup: uuid.NewString(),
		Account:    "fees:arena",
		Credit:     amount,
		Memo:       memo,
	})
}
