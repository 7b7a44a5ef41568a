package statedb

import (
	"encoding/binary"
	"fmt"

	"zkrollup/common"
	"zkrollup/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/iden3/go-merkletree/db"
)

// Txn is an atomic set of writes to the ledger.  Reads through a Txn see its
// own pending writes.
type Txn struct {
	View
	tx db.Tx
}

// Commit makes all the writes of the Txn visible at once
func (t *Txn) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return common.Wrap(err)
	}
	return nil
}

// Close releases the Txn.  If the Txn has not been committed its writes are
// discarded.
func (t *Txn) Close() {
	t.tx.Close()
}

func (t *Txn) put(key, value []byte) error {
	return common.Wrap(t.tx.Put(key, value))
}

func (t *Txn) putAccount(account *common.Account) error {
	b := account.Bytes()
	return t.put(accountKey(account.Idx), b[:])
}

// CreateAccount creates the account of owner with the given public key hash,
// zero balance and zero nonce, and returns its idx.  The idx is the number
// of accounts after the creation.  The state root does not change, since the
// leaf of an empty account equals the leaf of an unused idx.
func (t *Txn) CreateAccount(owner ethCommon.Address, pubKeyHash ethCommon.Hash) (common.AccountIdx, error) {
	if owner == (ethCommon.Address{}) {
		return common.NoAccount, common.Wrap(common.ErrZeroAddress)
	}
	existing, err := t.IdxByOwner(owner)
	if err != nil {
		return common.NoAccount, err
	}
	if existing != common.NoAccount {
		return common.NoAccount, common.Wrap(common.ErrAccountExists)
	}
	total, err := t.TotalAccounts()
	if err != nil {
		return common.NoAccount, err
	}
	idx := common.AccountIdx(total + 1)
	if uint64(idx) >= uint64(1)<<uint(t.tree.NLevels()) {
		return common.NoAccount, common.Wrap(common.ErrIdxOverflow)
	}

	if err := t.putAccount(common.NewAccount(idx, pubKeyHash)); err != nil {
		return common.NoAccount, err
	}
	idxBytes := idx.Bytes()
	if err := t.put(ownerIdxKey(owner), idxBytes[:]); err != nil {
		return common.NoAccount, err
	}
	if err := t.put(idxOwnerKey(idx), owner.Bytes()); err != nil {
		return common.NoAccount, err
	}
	var totalBytes [8]byte
	binary.BigEndian.PutUint64(totalBytes[:], uint64(idx))
	if err := t.put(keyTotalAccounts, totalBytes[:]); err != nil {
		return common.NoAccount, err
	}
	log.Debugw("account created", "idx", idx, "owner", owner.Hex())
	return idx, nil
}

// Credit adds amount to the balance of the account idx.  The state tree is
// not updated, see Fold.
func (t *Txn) Credit(idx common.AccountIdx, amount *uint256.Int) (*common.Account, error) {
	account, err := t.GetAccount(idx)
	if err != nil {
		return nil, err
	}
	if _, overflow := account.Balance.AddOverflow(&account.Balance, amount); overflow {
		return nil, common.Wrap(common.ErrAmountOverflow)
	}
	return account, t.putAccount(account)
}

// Debit subtracts amount from the balance of the account idx.  The state
// tree is not updated, see Fold.
func (t *Txn) Debit(idx common.AccountIdx, amount *uint256.Int) (*common.Account, error) {
	account, err := t.GetAccount(idx)
	if err != nil {
		return nil, err
	}
	if _, underflow := account.Balance.SubOverflow(&account.Balance, amount); underflow {
		return nil, common.Wrap(common.ErrInsufficientBalance)
	}
	return account, t.putAccount(account)
}

// IncrementNonce increments by one the nonce of the account idx
func (t *Txn) IncrementNonce(idx common.AccountIdx) (*common.Account, error) {
	account, err := t.GetAccount(idx)
	if err != nil {
		return nil, err
	}
	account.Nonce.AddUint64(&account.Nonce, 1)
	return account, t.putAccount(account)
}

// Fold folds the current state of the account idx into the state root and
// returns the new root
func (t *Txn) Fold(idx common.AccountIdx) (ethCommon.Hash, error) {
	account, err := t.GetAccount(idx)
	if err != nil {
		return ethCommon.Hash{}, err
	}
	root, err := t.StateRoot()
	if err != nil {
		return ethCommon.Hash{}, err
	}
	return t.tree.FoldAccountUpdate(t.tx, root, idx, account)
}

// AddCollectedFees adds fees to the fees that are not credited to any account
func (t *Txn) AddCollectedFees(fees *uint256.Int) error {
	collected, err := t.CollectedFees()
	if err != nil {
		return err
	}
	if _, overflow := collected.AddOverflow(collected, fees); overflow {
		return common.Wrap(common.ErrFeeOverflow)
	}
	b := collected.Bytes32()
	return t.put(keyCollectedFees, b[:])
}

// PutBatch records the batch and sets the current batch to the next one.
// The batch must be the current batch.
func (t *Txn) PutBatch(batch *common.Batch) error {
	current, err := t.CurrentBatch()
	if err != nil {
		return err
	}
	if batch.BatchNum != current {
		return common.Wrap(fmt.Errorf("batch %d is not the current batch %d",
			batch.BatchNum, current))
	}
	if err := t.put(batchKey(batch.BatchNum), batch.Bytes()); err != nil {
		return err
	}
	return t.put(keyCurrentBatch, (batch.BatchNum + 1).Bytes())
}

// SetOwner sets the identity that administers the rollup
func (t *Txn) SetOwner(owner ethCommon.Address) error {
	return t.put(keyOwner, owner.Bytes())
}

// SetPaused sets the paused flag
func (t *Txn) SetPaused(paused bool) error {
	v := []byte{0}
	if paused {
		v[0] = 1
	}
	return t.put(keyPaused, v)
}
