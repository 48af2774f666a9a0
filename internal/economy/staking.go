package economy

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"town/internal/store"
)

const backerYieldBps = 3000 // backers collectively earn 30% of match payouts

var ErrStakeInactive = errors.New("stake is not active")

// Stake moves amount from the backer's bankroll into a stake position on
// the agent.
func (s *Service) Stake(backerID, agentID string, amount int64) (*store.AgentStake, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	st := &store.AgentStake{
		ID:       uuid.NewString(),
		BackerID: backerID,
		AgentID:  agentID,
		Amount:   amount,
		IsActive: true,
	}
	err := s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		if _, err := store.GetAgent(tx, agentID); err != nil {
			return err
		}
		if err := store.AdjustBankroll(tx, backerID, -amount); err != nil {
			return err
		}
		return store.CreateStake(tx, st)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Unstake returns the principal to the backer and deactivates the stake.
// Accrued yield was already credited to the backer's bankroll as matches
// resolved.
func (s *Service) Unstake(backerID, stakeID string) (*store.AgentStake, error) {
	var st *store.AgentStake
	err := s.store.WithTxRetry(func(tx *sqlx.Tx) error {
		var err error
		st, err = store.GetStake(tx, stakeID)
		if err != nil {
			return err
		}
		if st.BackerID != backerID {
			return store.ErrNotFound
		}
		if !st.IsActive {
			return ErrStakeInactive
		}
		if err := store.DeactivateStake(tx, stakeID); err != nil {
			return err
		}
		return store.AdjustBankroll(tx, backerID, st.Amount)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// DistributeBackerYield moves the backers' share of a match payout from
// the winner's bankroll to the backers: a pool of floor(payout * 30%),
// split as floor(pool * stake / totalStaked) per stake. The flooring
// remainder is never paid out; it simply stays with the winner. Each
// movement lands in the ledger under one entry group. Returns the total
// yield transferred.
func DistributeBackerYield(tx *sqlx.Tx, agentID string, payout int64) (int64, error) {
	stakes, err := store.ListActiveStakes(tx, agentID)
	if err != nil {
		return 0, err
	}
	if len(stakes) == 0 || payout <= 0 {
		return 0, nil
	}

	pool := payout * backerYieldBps / 10000
	if pool <= 0 {
		return 0, nil
	}

	var totalStaked int64
	for _, st := range stakes {
		totalStaked += st.Amount
	}
	if totalStaked <= 0 {
		return 0, nil
	}

	paid := int64(0)
	shares := make([]int64, len(stakes))
	for i, st := range stakes {
		shares[i] = pool * st.Amount / totalStaked
		paid += shares[i]
	}
	if paid <= 0 {
		return 0, nil
	}

	if err := store.AdjustBankroll(tx, agentID, -paid); err != nil {
		return 0, fmt.Errorf("economy.DistributeBackerYield: %w", err)
	}
	group := uuid.NewString()
	if err := store.AppendLedger(tx, &store.LedgerEntry{
		EntryGroup: group, Account: "agent:" + agentID, Debit: paid, Memo: "backer yield",
	}); err != nil {
		return 0, err
	}
	for i, st := range stakes {
		if shares[i] <= 0 {
			continue
		}
		if err := store.AdjustBankroll(tx, st.BackerID, shares[i]); err != nil {
			return 0, fmt.Errorf("economy.DistributeBackerYield: %w", err)
		}
		if err := store.CreditStakeYield(tx, st.ID, shares[i]); err != nil {
			return 0, err
		}
		if err := store.AppendLedger(tx, &store.LedgerEntry{
			EntryGroup: group, Account: "agent:" + st.BackerID, Credit: shares[i], Memo: "backer yield",
		}); err != nil {
			return 0, err
		}
	}
	return paid, nil
}
