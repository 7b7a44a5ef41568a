// Package historydb mirrors the committed batches and the withdrawal payouts
// of the rollup into PostgreSQL so they can be listed without walking the
// state checkpoints.
package historydb

import (
	"time"

	"zkrollup/common"
	"zkrollup/database"
	"zkrollup/withdrawal"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	"github.com/russross/meddler"
)

// MaxLimit is the maximum number of items returned by a paginated query
const MaxLimit = 2049

// Payout is a withdrawal that has been paid out to the account owner
type Payout struct {
	ItemID    uint64            `meddler:"item_id,pk" json:"itemId"`
	Idx       common.AccountIdx `meddler:"idx" json:"idx"`
	To        ethCommon.Address `meddler:"to_addr" json:"to"`
	Amount    uint256.Int       `meddler:"amount,u256" json:"amount"`
	StateRoot ethCommon.Hash    `meddler:"state_root" json:"stateRoot"`
	Timestamp time.Time         `meddler:"timestamp,utctime" json:"timestamp"`
}

// HistoryDB persist the historic of the rollup
type HistoryDB struct {
	dbRead     *sqlx.DB
	dbWrite    *sqlx.DB
	apiConnCon *database.APIConnectionController
	now        func() time.Time
}

// NewHistoryDB initialize the DB
func NewHistoryDB(dbRead, dbWrite *sqlx.DB, apiConnCon *database.APIConnectionController) *HistoryDB {
	return &HistoryDB{
		dbRead:     dbRead,
		dbWrite:    dbWrite,
		apiConnCon: apiConnCon,
		now:        time.Now,
	}
}

// DB returns a pointer to the HistoryDB.db. This method should be used only for
// internal testing purposes.
func (hdb *HistoryDB) DB() *sqlx.DB {
	return hdb.dbWrite
}

// AddBatch insert a Batch into the DB
func (hdb *HistoryDB) AddBatch(batch *common.Batch) error {
	return common.Wrap(meddler.Insert(hdb.dbWrite, "batch", batch))
}

// AddBatches insert Batches into the DB in a single transaction
func (hdb *HistoryDB) AddBatches(batches []common.Batch) (err error) {
	txn, err := hdb.dbWrite.Beginx()
	if err != nil {
		return common.Wrap(err)
	}
	defer func() {
		if err != nil {
			database.Rollback(txn)
		}
	}()
	for i := range batches {
		if err = meddler.Insert(txn, "batch", &batches[i]); err != nil {
			return common.Wrap(err)
		}
	}
	return common.Wrap(txn.Commit())
}

// GetBatch return the batch with the given batchNum
func (hdb *HistoryDB) GetBatch(batchNum common.BatchNum) (*common.Batch, error) {
	batch := &common.Batch{}
	err := meddler.QueryRow(
		hdb.dbRead, batch,
		"SELECT * FROM batch WHERE batch_num = $1;", batchNum,
	)
	return batch, common.Wrap(err)
}

// GetLastBatch returns the last batch stored in the DB
func (hdb *HistoryDB) GetLastBatch() (*common.Batch, error) {
	batch := &common.Batch{}
	err := meddler.QueryRow(
		hdb.dbRead, batch, "SELECT * FROM batch ORDER BY batch_num DESC LIMIT 1;",
	)
	return batch, common.Wrap(err)
}

// GetBatchesAPI returns up to limit batches starting at fromBatchNum in
// ascending order.  It is meant to be called from the API and competes for
// the connections of the APIConnectionController.
func (hdb *HistoryDB) GetBatchesAPI(fromBatchNum common.BatchNum, limit uint) ([]common.Batch, error) {
	cancel, err := hdb.apiConnCon.Acquire()
	defer cancel()
	if err != nil {
		return nil, common.Wrap(err)
	}
	defer hdb.apiConnCon.Release()
	if limit == 0 || limit > MaxLimit {
		limit = MaxLimit
	}
	var batches []*common.Batch
	err = meddler.QueryAll(
		hdb.dbRead, &batches,
		"SELECT * FROM batch WHERE batch_num >= $1 ORDER BY batch_num LIMIT $2;",
		fromBatchNum, limit,
	)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return database.SlicePtrsToSlice(batches).([]common.Batch), nil
}

// AddPayout insert the payout of an accepted withdrawal into the DB
func (hdb *HistoryDB) AddPayout(ins *withdrawal.Instruction) error {
	payout := &Payout{
		Idx:       ins.Idx,
		To:        ins.To,
		StateRoot: ins.StateRoot,
		Timestamp: hdb.now().UTC(),
	}
	payout.Amount.Set(ins.Amount)
	return common.Wrap(meddler.Insert(hdb.dbWrite, "payout", payout))
}

// GetPayouts returns the payouts of the account idx in insertion order
func (hdb *HistoryDB) GetPayouts(idx common.AccountIdx) ([]Payout, error) {
	var payouts []*Payout
	err := meddler.QueryAll(
		hdb.dbRead, &payouts,
		"SELECT * FROM payout WHERE idx = $1 ORDER BY item_id;", idx,
	)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return database.SlicePtrsToSlice(payouts).([]Payout), nil
}
