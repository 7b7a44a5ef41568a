/*
Package statedb is the account ledger of the rollup.

Every piece of state lives in a single kvdb under these key prefixes:

	a:<idx>        account bytes (PubKeyHash | Balance | Nonce)
	o:<address>    idx owned by an identity
	w:<idx>        identity owning an idx
	b:<batchNum>   committed batch
	n:...          state tree nodes, see commitment.Tree
	k:...          scalars (total accounts, current batch, collected fees,
	               rollup owner, paused flag, state tree parameters)

Reads go through a View, writes through a Txn.  A Txn wraps a single db.Tx:
nothing it writes is visible to other readers until Commit, and Close
without Commit discards every write, which gives the rollup operations
their all or nothing behaviour.
*/
package statedb

import (
	"bytes"
	"errors"
	"fmt"

	"zkrollup/commitment"
	"zkrollup/common"
	"zkrollup/database/kvdb"
	"zkrollup/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-merkletree/db"
)

var (
	// ErrBatchNotFound is used when a batch that has not been committed is
	// requested
	ErrBatchNotFound = errors.New("batch not found")
	// ErrTreeParamsMismatch is used when a StateDB is opened with a hasher
	// or a depth different from the ones it was created with
	ErrTreeParamsMismatch = errors.New("state tree parameters mismatch")

	// PrefixKeyAccount is the key prefix for accounts in the db
	PrefixKeyAccount = []byte("a:")
	// PrefixKeyOwnerIdx is the key prefix for owner address -> idx in the db
	PrefixKeyOwnerIdx = []byte("o:")
	// PrefixKeyIdxOwner is the key prefix for idx -> owner address in the db
	PrefixKeyIdxOwner = []byte("w:")
	// PrefixKeyBatch is the key prefix for batches in the db
	PrefixKeyBatch = []byte("b:")

	keyTotalAccounts = []byte("k:totalaccounts")
	keyCurrentBatch  = []byte("k:currentbatch")
	keyCollectedFees = []byte("k:collectedfees")
	keyOwner         = []byte("k:owner")
	keyPaused        = []byte("k:paused")
	keyTreeParams    = []byte("k:treeparams")
)

// Config of the StateDB
type Config struct {
	// Path where the state and its checkpoints will be stored
	Path string
	// Keep is the number of old checkpoints to keep.  If 0, all
	// checkpoints are kept.
	Keep int
	// NLevels is the depth of the state tree
	NLevels int
	// Hasher of the state tree
	Hasher commitment.Hasher
}

// StateDB represents the account ledger with its integrated state tree
type StateDB struct {
	cfg  Config
	db   *kvdb.KVDB
	tree *commitment.Tree
}

// NewStateDB opens the StateDB at cfg.Path
func NewStateDB(cfg Config) (*StateDB, error) {
	if cfg.Hasher == nil {
		cfg.Hasher = commitment.Keccak256Hasher{}
	}
	if cfg.NLevels == 0 {
		cfg.NLevels = commitment.DefaultNLevels
	}
	tree, err := commitment.NewTree(cfg.Hasher, cfg.NLevels)
	if err != nil {
		return nil, common.Wrap(err)
	}
	kv, err := kvdb.NewKVDB(kvdb.Config{Path: cfg.Path, Keep: cfg.Keep})
	if err != nil {
		return nil, common.Wrap(err)
	}
	s := &StateDB{
		cfg:  cfg,
		db:   kv,
		tree: tree,
	}
	if err := s.checkTreeParams(); err != nil {
		kv.Close()
		return nil, err
	}
	return s, nil
}

// checkTreeParams stores the hasher and depth of the state tree on the first
// open, and afterwards checks that they don't change
func (s *StateDB) checkTreeParams() error {
	params := []byte(fmt.Sprintf("%s/%d", s.tree.Hasher().Name(), s.tree.NLevels()))
	stored, err := s.db.DB().Get(keyTreeParams)
	if common.Unwrap(err) == db.ErrNotFound {
		tx, err := s.db.NewTx()
		if err != nil {
			return common.Wrap(err)
		}
		defer tx.Close()
		if err := tx.Put(keyTreeParams, params); err != nil {
			return common.Wrap(err)
		}
		return common.Wrap(tx.Commit())
	} else if err != nil {
		return common.Wrap(err)
	}
	if !bytes.Equal(stored, params) {
		log.Errorw("StateDB opened with other tree parameters",
			"stored", string(stored), "requested", string(params))
		return common.Wrap(ErrTreeParamsMismatch)
	}
	return nil
}

// Tree returns the state tree
func (s *StateDB) Tree() *commitment.Tree {
	return s.tree
}

// View returns a read only view of the committed state
func (s *StateDB) View() *View {
	return &View{r: s.db.DB(), tree: s.tree}
}

// Begin opens a Txn over the committed state
func (s *StateDB) Begin() (*Txn, error) {
	tx, err := s.db.NewTx()
	if err != nil {
		return nil, common.Wrap(err)
	}
	return &Txn{View: View{r: tx, tree: s.tree}, tx: tx}, nil
}

// MakeCheckpoint stores a checkpoint of the committed state as the state
// after batchNum
func (s *StateDB) MakeCheckpoint(batchNum common.BatchNum) error {
	log.Debugw("Making StateDB checkpoint", "batch", batchNum)
	return s.db.MakeCheckpoint(batchNum)
}

// ReadAt calls fn with a View of the state right after batchNum was
// committed
func (s *StateDB) ReadAt(batchNum common.BatchNum, fn func(v *View) error) error {
	return s.db.ReadCheckpoint(batchNum, func(sto db.Storage) error {
		return fn(&View{r: sto, tree: s.tree})
	})
}

// AccountAt returns the account idx as it was right after batchNum
func (s *StateDB) AccountAt(batchNum common.BatchNum, idx common.AccountIdx) (*common.Account, error) {
	var account *common.Account
	if err := s.ReadAt(batchNum, func(v *View) error {
		var err error
		account, err = v.GetAccount(idx)
		return err
	}); err != nil {
		return nil, common.Wrap(err)
	}
	return account, nil
}

// ProofAt returns the account idx as it was right after batchNum, together
// with its inclusion proof against the state root of batchNum
func (s *StateDB) ProofAt(batchNum common.BatchNum, idx common.AccountIdx) (*common.Account,
	[]ethCommon.Hash, ethCommon.Hash, error) {
	var account *common.Account
	var proof []ethCommon.Hash
	var root ethCommon.Hash
	if err := s.ReadAt(batchNum, func(v *View) error {
		var err error
		if account, err = v.GetAccount(idx); err != nil {
			return err
		}
		if proof, err = v.Proof(idx); err != nil {
			return err
		}
		root, err = v.StateRoot()
		return err
	}); err != nil {
		return nil, nil, ethCommon.Hash{}, common.Wrap(err)
	}
	return account, proof, root, nil
}

// Close closes the StateDB
func (s *StateDB) Close() {
	s.db.Close()
}
