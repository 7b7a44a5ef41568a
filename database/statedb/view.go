package statedb

import (
	"encoding/binary"
	"fmt"

	"zkrollup/commitment"
	"zkrollup/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/iden3/go-merkletree/db"
)

// View reads the ledger from a db.Storage or from a pending db.Tx
type View struct {
	r    commitment.Reader
	tree *commitment.Tree
}

func accountKey(idx common.AccountIdx) []byte {
	b := idx.Bytes()
	return append(append([]byte{}, PrefixKeyAccount...), b[:]...)
}

func ownerIdxKey(owner ethCommon.Address) []byte {
	return append(append([]byte{}, PrefixKeyOwnerIdx...), owner.Bytes()...)
}

func idxOwnerKey(idx common.AccountIdx) []byte {
	b := idx.Bytes()
	return append(append([]byte{}, PrefixKeyIdxOwner...), b[:]...)
}

func batchKey(batchNum common.BatchNum) []byte {
	return append(append([]byte{}, PrefixKeyBatch...), batchNum.Bytes()...)
}

// get returns nil without error when the key is not found
func (v *View) get(key []byte) ([]byte, error) {
	b, err := v.r.Get(key)
	if common.Unwrap(err) == db.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, common.Wrap(err)
	}
	return b, nil
}

// TotalAccounts returns the number of created accounts, which is also the
// highest assigned idx
func (v *View) TotalAccounts() (uint64, error) {
	b, err := v.get(keyTotalAccounts)
	if err != nil || b == nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, common.Wrap(fmt.Errorf("invalid total accounts length %d", len(b)))
	}
	return binary.BigEndian.Uint64(b), nil
}

// GetAccount returns the account idx.  Fails with ErrInvalidAccount if idx is
// 0 or has not been assigned.
func (v *View) GetAccount(idx common.AccountIdx) (*common.Account, error) {
	total, err := v.TotalAccounts()
	if err != nil {
		return nil, err
	}
	if idx == common.NoAccount || uint64(idx) > total {
		return nil, common.Wrap(common.ErrInvalidAccount)
	}
	b, err := v.get(accountKey(idx))
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, common.Wrap(fmt.Errorf("account %d missing in db", idx))
	}
	account, err := common.AccountFromBytes(b)
	if err != nil {
		return nil, common.Wrap(err)
	}
	account.Idx = idx
	return account, nil
}

// ResolveOwner returns the identity that created the account idx
func (v *View) ResolveOwner(idx common.AccountIdx) (ethCommon.Address, error) {
	b, err := v.get(idxOwnerKey(idx))
	if err != nil {
		return ethCommon.Address{}, err
	}
	if b == nil {
		return ethCommon.Address{}, common.Wrap(common.ErrInvalidAccount)
	}
	return ethCommon.BytesToAddress(b), nil
}

// IdxByOwner returns the account idx of the identity, or common.NoAccount if
// the identity has no account
func (v *View) IdxByOwner(owner ethCommon.Address) (common.AccountIdx, error) {
	b, err := v.get(ownerIdxKey(owner))
	if err != nil || b == nil {
		return common.NoAccount, err
	}
	return common.AccountIdxFromBytes(b)
}

// CurrentBatch returns the num of the next batch to be committed
func (v *View) CurrentBatch() (common.BatchNum, error) {
	b, err := v.get(keyCurrentBatch)
	if err != nil || b == nil {
		return 0, err
	}
	return common.BatchNumFromBytes(b)
}

// GetBatch returns a committed batch
func (v *View) GetBatch(batchNum common.BatchNum) (*common.Batch, error) {
	b, err := v.get(batchKey(batchNum))
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, common.Wrap(ErrBatchNotFound)
	}
	return common.BatchFromBytes(b)
}

// StateRoot returns the root of the state tree
func (v *View) StateRoot() (ethCommon.Hash, error) {
	return v.tree.Root(v.r)
}

// Proof returns the inclusion proof of the account idx against StateRoot
func (v *View) Proof(idx common.AccountIdx) ([]ethCommon.Hash, error) {
	if _, err := v.GetAccount(idx); err != nil {
		return nil, err
	}
	return v.tree.Proof(v.r, idx)
}

// CollectedFees returns the fees that have not been credited to any account
func (v *View) CollectedFees() (*uint256.Int, error) {
	b, err := v.get(keyCollectedFees)
	if err != nil {
		return nil, err
	}
	fees := new(uint256.Int)
	if b != nil {
		fees.SetBytes(b)
	}
	return fees, nil
}

// Owner returns the identity allowed to submit batches and administer the
// rollup
func (v *View) Owner() (ethCommon.Address, error) {
	b, err := v.get(keyOwner)
	if err != nil || b == nil {
		return ethCommon.Address{}, err
	}
	return ethCommon.BytesToAddress(b), nil
}

// Paused returns true if the ledger mutations are paused
func (v *View) Paused() (bool, error) {
	b, err := v.get(keyPaused)
	if err != nil || b == nil {
		return false, err
	}
	return len(b) == 1 && b[0] == 1, nil
}
