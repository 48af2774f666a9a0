package economy

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"

	"town/internal/store"
)

// ErrFundingUnavailable is returned when no chain RPC endpoint is
// configured, so deposits cannot be verified.
var ErrFundingUnavailable = errors.New("funding verification unavailable")

// ChainClient verifies token transfers on the funding chain. Implemented
// over JSON-RPC in deployments that configure MONAD_RPC_URL.
type ChainClient interface {
	// VerifyDeposit confirms that txHash transferred at least minAmount of
	// the arena token to the deposit address and returns the amount.
	VerifyDeposit(ctx context.Context, txHash string) (int64, error)
}

// FundingVerifier credits agent reserves from verified on-chain deposits.
// Each tx hash is credited at most once.
type FundingVerifier struct {
	store *store.Store
	chain ChainClient // nil when no RPC is configured
}

// NewFundingVerifier creates a verifier. chain may be nil, in which case
// every verification fails with ErrFundingUnavailable.
func NewFundingVerifier(st *store.Store, chain ChainClient) *FundingVerifier {
	return &FundingVerifier{store: st, chain: chain}
}

// VerifyAndCredit checks txHash on chain and credits the agent's reserve
// with the deposited amount. Replayed hashes return ErrConflict.
func (v *FundingVerifier) VerifyAndCredit(ctx context.Context, agentID, txHash string) (int64, error) {
	if v.chain == nil {
		return 0, ErrFundingUnavailable
	}
	if txHash == "" {
		return 0, fmt.Errorf("economy.VerifyAndCredit: %w", ErrInvalidAmount)
	}

	amount, err := v.chain.VerifyDeposit(ctx, txHash)
	if err != nil {
		return 0, fmt.Errorf("economy.VerifyAndCredit: %w", err)
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	key := "funding_tx:" + txHash
	err = v.store.WithTxRetry(func(tx *sqlx.Tx) error {
		prev, err := store.GetState(tx, key, "")
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if prev != "" {
			return store.ErrConflict
		}
		if err := store.SetState(tx, key, agentID); err != nil {
			return err
		}
		return store.AdjustReserve(tx, agentID, amount)
	})
	if err != nil {
		return 0, err
	}
	log.Printf("[Funding] credited %d reserve to %s from tx %s", amount, agentID, txHash)
	return amount, nil
}
