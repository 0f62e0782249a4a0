package model

import "errors"

// Domain error values. Callers branch on these with errors.Is; everything
// else is an unexpected failure that rolls back the open transaction.
var (
	// ErrParameterInvalid rejects a non-positive amount/price or an unknown
	// order side before anything is persisted.
	ErrParameterInvalid = errors.New("parameter invalid")

	// ErrOrderNotFound is returned when the referenced order does not exist
	// or belongs to a different user.
	ErrOrderNotFound = errors.New("order not found")

	// ErrUserNotFound is returned when the referenced exchange user does
	// not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrOrderAlreadyClosed is returned when a terminal order is referenced.
	// Benign inside the matching loop, caller-visible for cancellations.
	ErrOrderAlreadyClosed = errors.New("order is already closed")

	// ErrCreditInsufficient is returned when the bank rejects a check or
	// reservation for lack of available balance.
	ErrCreditInsufficient = errors.New("credit is insufficient")

	// ErrBankUserNotFound is returned when the bank does not know the
	// account identifier.
	ErrBankUserNotFound = errors.New("no bank user")

	// ErrNoOrderForTrade signals that a matching attempt could not gather
	// enough opposite liquidity. Benign: the caller tries the other side.
	ErrNoOrderForTrade = errors.New("no order for trade")

	// ErrEngineHalted is returned by every mutating operation after a bank
	// commit or cancel failed post-reservation. The ledger and the bank may
	// have diverged and no compensating transaction exists, so the engine
	// stops accepting writes.
	ErrEngineHalted = errors.New("engine halted: bank state may be inconsistent")
)
