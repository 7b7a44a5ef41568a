/*
Package rollup exposes the operations of the rollup to its host.

Every operation that mutates the ledger runs inside the single writer guard
of the Controller and inside one statedb.Txn, so it either commits all its
writes and the new state root or nothing at all.  A call that enters the
guard while another operation holds it, such as a Transferer calling back
into the Controller during a withdrawal payout, fails with
common.ErrReentrantCall.

The Controller owns the lifecycle state of the rollup: the owner identity,
which is the only one allowed to submit batches and administer the rollup,
and the paused flag.  While paused, every ledger mutation fails with
common.ErrContractPaused.
*/
package rollup

import (
	"context"
	"time"

	"zkrollup/common"
	"zkrollup/database/statedb"
	"zkrollup/log"
	"zkrollup/metric"
	"zkrollup/signer"
	"zkrollup/txprocessor"
	"zkrollup/withdrawal"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/semaphore"
)

// Transferer moves value out of the rollup on behalf of the host.  A
// Transfer that returns an error has not moved any value.
type Transferer interface {
	Transfer(ctx context.Context, to ethCommon.Address, amount *uint256.Int) error
}

// History receives the committed batches and payouts, for example to mirror
// them in an external database.  Its errors are logged and do not affect
// the ledger.
type History interface {
	AddBatch(batch *common.Batch) error
	AddPayout(payout *withdrawal.Instruction) error
}

// Config of the Controller
type Config struct {
	// Owner is the initial owner of a new rollup.  Ignored if the ledger
	// already has an owner.
	Owner ethCommon.Address
	// FeeAccountIdx is the account credited with the batch fees, see
	// txprocessor.Config
	FeeAccountIdx common.AccountIdx
	// Now returns the timestamp of the batches.  Defaults to time.Now.
	Now func() time.Time
}

// Controller is the boundary of the rollup
type Controller struct {
	sdb         *statedb.StateDB
	processor   *txprocessor.TxProcessor
	withdrawals *withdrawal.Verifier
	transferer  Transferer
	history     History
	guard       *semaphore.Weighted
	// commit commits the Txn of a mutation
	commit func(txn *statedb.Txn) error
}

// NewController returns a Controller over sdb.  Txs are authorized with
// verifier and withdrawals are paid with transferer.  history may be nil.
func NewController(cfg Config, sdb *statedb.StateDB, verifier signer.Verifier,
	transferer Transferer, history History) (*Controller, error) {
	c := &Controller{
		sdb: sdb,
		processor: txprocessor.NewTxProcessor(sdb.Tree().Hasher(), verifier,
			txprocessor.Config{FeeAccountIdx: cfg.FeeAccountIdx, Now: cfg.Now}),
		withdrawals: withdrawal.NewVerifier(sdb.Tree()),
		transferer:  transferer,
		history:     history,
		guard:       semaphore.NewWeighted(1),
		commit:      (*statedb.Txn).Commit,
	}
	if err := c.init(cfg.Owner); err != nil {
		return nil, err
	}
	return c, nil
}

// init sets the owner of a new rollup and the gauges
func (c *Controller) init(owner ethCommon.Address) error {
	v := c.sdb.View()
	current, err := v.Owner()
	if err != nil {
		return err
	}
	if current == (ethCommon.Address{}) {
		if owner == (ethCommon.Address{}) {
			return common.Wrap(common.ErrZeroAddress)
		}
		txn, err := c.sdb.Begin()
		if err != nil {
			return err
		}
		defer txn.Close()
		if err := txn.SetOwner(owner); err != nil {
			return err
		}
		if err := txn.Commit(); err != nil {
			return err
		}
		log.Infow("rollup owner set", "owner", owner.Hex())
	}
	total, err := v.TotalAccounts()
	if err != nil {
		return err
	}
	metric.TotalAccounts.Set(float64(total))
	batchNum, err := v.CurrentBatch()
	if err != nil {
		return err
	}
	metric.CurrentBatch.Set(float64(batchNum))
	return nil
}

// enter takes the single writer guard.  The returned func releases it.
func (c *Controller) enter() (func(), error) {
	if !c.guard.TryAcquire(1) {
		return nil, common.Wrap(common.ErrReentrantCall)
	}
	return func() { c.guard.Release(1) }, nil
}

// mutate runs fn in the guard and in a Txn that is committed if fn succeeds.
// requireActive rejects the call while the rollup is paused.  onlyOwner
// rejects callers other than the owner.
func (c *Controller) mutate(operation string, caller ethCommon.Address, requireActive,
	onlyOwner bool, fn func(txn *statedb.Txn) error) (err error) {
	defer func() {
		if err != nil {
			metric.Rejections.WithLabelValues(operation, metric.Reason(err)).Inc()
			log.Debugw("operation rejected", "operation", operation,
				"caller", caller.Hex(), "err", common.Unwrap(err))
		}
	}()

	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()

	txn, err := c.sdb.Begin()
	if err != nil {
		return err
	}
	defer txn.Close()

	if onlyOwner {
		owner, err := txn.Owner()
		if err != nil {
			return err
		}
		if caller != owner {
			return common.Wrap(common.ErrNotOwner)
		}
	}
	if requireActive {
		paused, err := txn.Paused()
		if err != nil {
			return err
		}
		if paused {
			return common.Wrap(common.ErrContractPaused)
		}
	}
	if err := fn(txn); err != nil {
		return err
	}
	return c.commit(txn)
}

// CreateAccount creates the account of caller with the given public key
// hash
func (c *Controller) CreateAccount(caller ethCommon.Address,
	pubKeyHash ethCommon.Hash) (common.AccountIdx, error) {
	var idx common.AccountIdx
	err := c.mutate("create_account", caller, true, false, func(txn *statedb.Txn) error {
		var err error
		idx, err = txn.CreateAccount(caller, pubKeyHash)
		return err
	})
	if err != nil {
		return common.NoAccount, err
	}
	metric.AccountsCreated.Inc()
	metric.TotalAccounts.Set(float64(idx))
	log.Infow("account created", "idx", idx, "owner", caller.Hex())
	return idx, nil
}

// Deposit credits amount to the account idx.  The value is supplied by
// caller through the host.
func (c *Controller) Deposit(caller ethCommon.Address, idx common.AccountIdx,
	amount *uint256.Int) (*common.Account, error) {
	var account *common.Account
	err := c.mutate("deposit", caller, true, false, func(txn *statedb.Txn) error {
		if _, err := txn.GetAccount(idx); err != nil {
			return err
		}
		if amount.IsZero() || !common.ValidAmount(amount) {
			return common.Wrap(common.ErrInvalidAmount)
		}
		var err error
		if account, err = txn.Credit(idx, amount); err != nil {
			return err
		}
		_, err = txn.Fold(idx)
		return err
	})
	if err != nil {
		return nil, err
	}
	metric.Deposits.Inc()
	log.Infow("deposit", "idx", idx, "from", caller.Hex(), "amount", amount.Dec())
	return account, nil
}

// SubmitBatch applies txs and commits them as the next batch if the
// resulting state root is newStateRoot.  Only the owner can submit batches.
func (c *Controller) SubmitBatch(caller ethCommon.Address, txs []common.Tx,
	newStateRoot ethCommon.Hash) (*common.Batch, error) {
	start := time.Now()
	var batch *common.Batch
	err := c.mutate("submit_batch", caller, true, true, func(txn *statedb.Txn) error {
		out, err := c.processor.ProcessTxs(txn, txs, newStateRoot)
		if err != nil {
			return err
		}
		batch = out.Batch
		return nil
	})
	if err != nil {
		metric.MeasureDuration(metric.ProcessBatchDuration, start, "rejected")
		return nil, err
	}
	metric.MeasureDuration(metric.ProcessBatchDuration, start, "committed")
	metric.Batches.Inc()
	metric.ProcessedTxs.Add(float64(len(txs)))
	metric.CurrentBatch.Set(float64(batch.BatchNum + 1))

	// the batch is already committed, a missing checkpoint only affects
	// historic queries
	if err := c.sdb.MakeCheckpoint(batch.BatchNum); err != nil {
		log.Errorw("checkpoint failed", "batch", batch.BatchNum, "err", err)
	}
	if c.history != nil {
		if err := c.history.AddBatch(batch); err != nil {
			log.Errorw("history AddBatch failed", "batch", batch.BatchNum, "err", err)
		}
	}
	log.Infow("batch committed", "batch", batch.BatchNum, "txs", batch.NumTxs,
		"stateRoot", batch.StateRoot.Hex(), "totalFees", batch.TotalFees.Dec())
	return batch, nil
}

// PreviewBatch returns the roots and fees that SubmitBatch would commit for
// txs on the current state, without changing it
func (c *Controller) PreviewBatch(txs []common.Tx) (*txprocessor.ProcessTxOutput, error) {
	txn, err := c.sdb.Begin()
	if err != nil {
		return nil, err
	}
	defer txn.Close()
	return c.processor.PreviewTxs(txn, txs)
}

// Withdraw debits amount from the account idx of caller and pays it to
// caller through the Transferer.  If the payout fails the withdrawal is
// discarded.
func (c *Controller) Withdraw(ctx context.Context, caller ethCommon.Address, idx common.AccountIdx,
	amount *uint256.Int, proof []ethCommon.Hash) (*withdrawal.Instruction, error) {
	var payout *withdrawal.Instruction
	paid := false
	err := c.mutate("withdraw", caller, true, false, func(txn *statedb.Txn) error {
		var err error
		payout, err = c.withdrawals.Withdraw(txn, caller, idx, amount, proof)
		if err != nil {
			return err
		}
		// the guard is still held, so the transferer can not re-enter
		// the rollup, and nothing is committed until the value has been
		// transferred
		if err := c.transferer.Transfer(ctx, payout.To, payout.Amount); err != nil {
			return err
		}
		paid = true
		return nil
	})
	if err != nil {
		if paid {
			// the value left the rollup but the debit was not committed
			log.Errorw("withdrawal paid but not committed", "idx", idx,
				"to", payout.To.Hex(), "amount", payout.Amount.Dec(),
				"stateRoot", payout.StateRoot.Hex(), "err", err)
		}
		return nil, err
	}
	metric.Withdrawals.Inc()
	if c.history != nil {
		if err := c.history.AddPayout(payout); err != nil {
			log.Errorw("history AddPayout failed", "idx", idx, "err", err)
		}
	}
	log.Infow("withdrawal", "idx", idx, "to", caller.Hex(), "amount", amount.Dec())
	return payout, nil
}

// Pause stops every ledger mutation until Unpause
func (c *Controller) Pause(caller ethCommon.Address) error {
	err := c.mutate("pause", caller, true, true, func(txn *statedb.Txn) error {
		return txn.SetPaused(true)
	})
	if err == nil {
		log.Infow("rollup paused", "by", caller.Hex())
	}
	return err
}

// Unpause resumes the ledger mutations
func (c *Controller) Unpause(caller ethCommon.Address) error {
	err := c.mutate("unpause", caller, false, true, func(txn *statedb.Txn) error {
		paused, err := txn.Paused()
		if err != nil {
			return err
		}
		if !paused {
			return common.Wrap(common.ErrNotPaused)
		}
		return txn.SetPaused(false)
	})
	if err == nil {
		log.Infow("rollup unpaused", "by", caller.Hex())
	}
	return err
}

// TransferOwnership sets newOwner as the owner of the rollup
func (c *Controller) TransferOwnership(caller, newOwner ethCommon.Address) error {
	err := c.mutate("transfer_ownership", caller, false, true, func(txn *statedb.Txn) error {
		if newOwner == (ethCommon.Address{}) {
			return common.Wrap(common.ErrZeroAddress)
		}
		return txn.SetOwner(newOwner)
	})
	if err == nil {
		log.Infow("rollup ownership transferred", "from", caller.Hex(), "to", newOwner.Hex())
	}
	return err
}
