package rollup

import (
	"zkrollup/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Account returns the account idx
func (c *Controller) Account(idx common.AccountIdx) (*common.Account, error) {
	return c.sdb.View().GetAccount(idx)
}

// AccountIdx returns the account of identity, or common.NoAccount
func (c *Controller) AccountIdx(identity ethCommon.Address) (common.AccountIdx, error) {
	return c.sdb.View().IdxByOwner(identity)
}

// Batch returns the committed batch batchNum
func (c *Controller) Batch(batchNum common.BatchNum) (*common.Batch, error) {
	return c.sdb.View().GetBatch(batchNum)
}

// TotalAccounts returns the number of accounts
func (c *Controller) TotalAccounts() (uint64, error) {
	return c.sdb.View().TotalAccounts()
}

// CurrentBatch returns the num of the next batch
func (c *Controller) CurrentBatch() (common.BatchNum, error) {
	return c.sdb.View().CurrentBatch()
}

// CurrentStateRoot returns the current state root
func (c *Controller) CurrentStateRoot() (ethCommon.Hash, error) {
	return c.sdb.View().StateRoot()
}

// CollectedFees returns the fees not credited to any account
func (c *Controller) CollectedFees() (*uint256.Int, error) {
	return c.sdb.View().CollectedFees()
}

// Paused returns true if the rollup is paused
func (c *Controller) Paused() (bool, error) {
	return c.sdb.View().Paused()
}

// Owner returns the owner of the rollup
func (c *Controller) Owner() (ethCommon.Address, error) {
	return c.sdb.View().Owner()
}

// Proof returns the account idx with its inclusion proof against the
// current state root.  The reads are not isolated from concurrent commits,
// the host must serialize them with the mutations.
func (c *Controller) Proof(idx common.AccountIdx) (*common.Account, []ethCommon.Hash,
	ethCommon.Hash, error) {
	v := c.sdb.View()
	account, err := v.GetAccount(idx)
	if err != nil {
		return nil, nil, ethCommon.Hash{}, err
	}
	proof, err := v.Proof(idx)
	if err != nil {
		return nil, nil, ethCommon.Hash{}, err
	}
	root, err := v.StateRoot()
	if err != nil {
		return nil, nil, ethCommon.Hash{}, err
	}
	return account, proof, root, nil
}

// AccountAt returns the account idx as it was right after batchNum
func (c *Controller) AccountAt(batchNum common.BatchNum, idx common.AccountIdx) (*common.Account, error) {
	return c.sdb.AccountAt(batchNum, idx)
}

// ProofAt returns the account idx as it was right after batchNum, with its
// inclusion proof against the state root of batchNum
func (c *Controller) ProofAt(batchNum common.BatchNum, idx common.AccountIdx) (*common.Account,
	[]ethCommon.Hash, ethCommon.Hash, error) {
	return c.sdb.ProofAt(batchNum, idx)
}
