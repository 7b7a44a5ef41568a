// Package withdrawal moves value out of the rollup.  A withdrawal is only
// accepted from the identity that created the account and with a proof that
// the current account state is committed in the current state root.
package withdrawal

import (
	"zkrollup/commitment"
	"zkrollup/common"
	"zkrollup/database/statedb"
	"zkrollup/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Instruction is the payout the host must perform once the withdrawal has
// been accepted
type Instruction struct {
	Idx    common.AccountIdx
	To     ethCommon.Address
	Amount *uint256.Int
	// StateRoot is the state root after the withdrawal
	StateRoot ethCommon.Hash
}

// Verifier validates and applies withdrawals
type Verifier struct {
	tree *commitment.Tree
}

// NewVerifier returns a Verifier checking proofs against tree
func NewVerifier(tree *commitment.Tree) *Verifier {
	return &Verifier{tree: tree}
}

// Withdraw debits amount from the account idx owned by caller and increments
// its nonce.  proof must show that the account, as it is before the
// withdrawal, is committed in the current state root.
func (v *Verifier) Withdraw(txn *statedb.Txn, caller ethCommon.Address, idx common.AccountIdx,
	amount *uint256.Int, proof []ethCommon.Hash) (*Instruction, error) {
	owner, err := txn.ResolveOwner(idx)
	if err != nil {
		return nil, err
	}
	if owner != caller {
		return nil, common.Wrap(common.ErrNotAccountOwner)
	}
	if amount.IsZero() || !common.ValidAmount(amount) {
		return nil, common.Wrap(common.ErrInvalidAmount)
	}
	account, err := txn.GetAccount(idx)
	if err != nil {
		return nil, err
	}
	if account.Balance.Lt(amount) {
		return nil, common.Wrap(common.ErrInsufficientBalance)
	}
	root, err := txn.StateRoot()
	if err != nil {
		return nil, err
	}
	if !v.tree.VerifyAccount(proof, root, idx, account) {
		return nil, common.Wrap(common.ErrInvalidProof)
	}

	if _, err := txn.Debit(idx, amount); err != nil {
		return nil, err
	}
	if _, err := txn.IncrementNonce(idx); err != nil {
		return nil, err
	}
	newRoot, err := txn.Fold(idx)
	if err != nil {
		return nil, err
	}
	log.Debugw("withdrawal applied", "idx", idx, "to", caller.Hex(), "amount", amount.Dec())
	return &Instruction{
		Idx:       idx,
		To:        caller,
		Amount:    new(uint256.Int).Set(amount),
		StateRoot: newRoot,
	}, nil
}
