package economy

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"town/internal/store"
)

// Transfer moves ARENA tokens between two agents' bankrolls and records
// the movement as one ledger group.
func (s *Service) Transfer(fromID, toID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if fromID == toID {
		return fmt.Errorf("%w: cannot transfer to yourself", ErrInvalidAmount)
	}
	return s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		if _, err := store.GetAgent(tx, toID); err != nil {
			return err
		}
		if err := store.AdjustBankroll(tx, fromID, -amount); err != nil {
			return err
		}
		if err := store.AdjustBankroll(tx, toID, amount); err != nil {
			return err
		}
		group := uuid.NewString()
		entries := []store.LedgerEntry{
			{EntryGroup: group, Account: "agent:" + fromID, Debit: amount, Memo: "transfer"},
			{EntryGroup: group, Account: "agent:" + toID, Credit: amount, Memo: "transfer"},
		}
		for i := range entries {
			if err := store.AppendLedger(tx, &entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
}
