package common

import (
	"errors"
)

// Authorization errors
var (
	// ErrNotOwner is used when an owner-only operation is called by another
	// identity
	ErrNotOwner = errors.New("caller is not the rollup owner")
	// ErrNotAccountOwner is used when an account is operated by an identity
	// that did not create it
	ErrNotAccountOwner = errors.New("caller is not the account owner")
)

// State validity errors
var (
	// ErrAccountExists is used when an identity tries to create a second
	// account
	ErrAccountExists = errors.New("account already exists for identity")
	// ErrInvalidAccount is used when the account index is 0 or bigger than
	// the number of created accounts
	ErrInvalidAccount = errors.New("invalid account index")
	// ErrInvalidAmount is used when an amount is 0 where not allowed or
	// exceeds MaxAmount
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientBalance is used when an account can not afford a debit
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidNonce is used when a tx nonce differs from the sender nonce
	ErrInvalidNonce = errors.New("invalid nonce")
	// ErrInvalidSignature is used when a tx is not authorized by the
	// sender key
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrAmountOverflow is used when a credit overflows the 256 bits balance
	ErrAmountOverflow = errors.New("balance overflow")
	// ErrFeeOverflow is used when the sum of the fees of a batch overflows
	ErrFeeOverflow = errors.New("total fees overflow")
	// ErrZeroAddress is used when the null identity is given where a real
	// identity is required
	ErrZeroAddress = errors.New("zero address")
)

// Proof and commitment errors
var (
	// ErrInvalidProof is used when a merkle inclusion proof does not lead
	// to the current state root
	ErrInvalidProof = errors.New("invalid merkle proof")
	// ErrStateRootMismatch is used when the root computed by applying a
	// batch differs from the declared one
	ErrStateRootMismatch = errors.New("state root mismatch")
	// ErrStaleRoot is used when a fold is requested against a root that is
	// not the current root of the tree
	ErrStaleRoot = errors.New("fold against a stale root")
)

// Batch shape errors
var (
	// ErrBatchTooLarge is used when a batch has more than BatchSize txs
	ErrBatchTooLarge = errors.New("batch too large")
	// ErrEmptyBatch is used when a batch has no txs
	ErrEmptyBatch = errors.New("empty batch")
)

// Lifecycle errors
var (
	// ErrContractPaused is used when a ledger mutation is requested while
	// the rollup is paused
	ErrContractPaused = errors.New("rollup is paused")
	// ErrNotPaused is used when unpausing a rollup that is active
	ErrNotPaused = errors.New("rollup is not paused")
	// ErrReentrantCall is used when a guarded operation is entered while
	// another one is in progress
	ErrReentrantCall = errors.New("reentrant call")
)

// ErrIdxOverflow is used when a given idx overflows the maximum capacity of
// the tree (2**NLevels - 1)
var ErrIdxOverflow = errors.New("idx overflow")
