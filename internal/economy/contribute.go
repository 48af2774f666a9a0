package economy

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"town/internal/config"
	"town/internal/store"
)

// Contribution is the result of splitting one payment across the town
// treasury and the pool budget buckets.
type Contribution struct {
	Town      int64
	Ops       int64
	PvP       int64
	Insurance int64
}

// SplitContribution divides amount by the basis-point split, credits the
// town treasury and the pool budgets, and appends ledger rows. The caller
// is expected to have already debited the payer inside the same
// transaction. Remainder from floor division lands in the town share so
// the pieces always sum to amount.
func SplitContribution(tx *sqlx.Tx, townID string, amount int64, split config.SplitBps, memo string) (*Contribution, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("economy.SplitContribution: %w", ErrInvalidAmount)
	}

	c := &Contribution{
		Ops:       amount * split.Ops / 10000,
		PvP:       amount * split.PvP / 10000,
		Insurance: amount * split.Insurance / 10000,
	}
	c.Town = amount - c.Ops - c.PvP - c.Insurance

	if c.Town > 0 {
		if err := store.AdjustTownTreasury(tx, townID, c.Town); err != nil {
			return nil, err
		}
	}

	pool, err := store.GetEconomyPool(tx)
	if err != nil {
		return nil, err
	}
	pool.OpsBudget += c.Ops
	pool.PvPBudget += c.PvP
	pool.InsuranceBudget += c.Insurance
	if err := store.UpdateEconomyPool(tx, pool); err != nil {
		return nil, err
	}

	group := uuid.NewString()
	entries := []store.LedgerEntry{
		{EntryGroup: group, Account: "town:" + townID, Credit: c.Town, Memo: memo},
		{EntryGroup: group, Account: "budget:ops", Credit: c.Ops, Memo: memo},
		{EntryGroup: group, Account: "budget:pvp", Credit: c.PvP, Memo: memo},
		{EntryGroup: group, Account: "budget:insurance", Credit: c.Insurance, Memo: memo},
	}
	for i := range entries {
		if entries[i].Credit == 0 {
			continue
		}
		if err := store.AppendLedger(tx, &entries[i]); err != nil {
			return nil, err
		}
	}
	return c, nil
}
