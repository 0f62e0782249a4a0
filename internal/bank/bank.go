// Package bank implements the client for the external banking service that
// settles all exchange trades. Funds move through a two-phase protocol:
// Reserve places a hold, then exactly one of Commit or Cancel resolves it.
package bank

import "context"

// Bank is the settlement interface consumed by the matching engine. The
// production implementation is the HTTP Client below; tests substitute a
// fake.
type Bank interface {
	// Check verifies the account can cover price without placing a hold.
	// Reserved balances are not counted.
	Check(ctx context.Context, bankID string, price int64) error

	// Reserve places a hold against the account. Negative price is a
	// debit-hold, positive a credit-hold. Returns the reservation id.
	Reserve(ctx context.Context, bankID string, price int64) (int64, error)

	// Commit finalizes a batch of holds, applying the transfers. With
	// valid reservation ids this does not fail; if it does, the caller
	// must treat the condition as fatal.
	Commit(ctx context.Context, reserveIDs []int64) error

	// Cancel releases a batch of holds without applying transfers.
	Cancel(ctx context.Context, reserveIDs []int64) error
}
