/*
Package txprocessor applies a batch of transfers to the ledger and commits the
result to the state root.

The main exposed method is ProcessTxs, which as general lines does:
  - rejects batches that are empty or have more than common.BatchSize txs
  - computes the TxRoot of the batch over the digests of its txs and the sum
    of its fees
  - for each tx, in order:
  - checks that both accounts exist, that amount and fee are below
    common.MaxAmount, that the signature is valid for the sender key hash,
    that the nonce is the sender nonce and that the sender can pay
    amount + fee
  - debits amount + fee from the sender and increments its nonce, credits
    amount to the receiver and credits the fee to the fee account (or to
    the collected fees when there is no fee account), folding every
    updated account into the state root
  - compares the resulting state root with the one declared by the
    submitter
  - records the Batch and advances the current batch

Every write goes to the given statedb.Txn.  On error the caller must discard
the Txn, so a rejected batch leaves no trace in the ledger.
*/
package txprocessor

import (
	"time"

	"zkrollup/commitment"
	"zkrollup/common"
	"zkrollup/database/statedb"
	"zkrollup/log"
	"zkrollup/signer"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config contains the TxProcessor configuration parameters
type Config struct {
	// FeeAccountIdx is the account credited with the fees.  If
	// common.NoAccount, fees are added to the collected fees of the
	// rollup.
	FeeAccountIdx common.AccountIdx
	// Now returns the timestamp of the processed batches.  Defaults to
	// time.Now.
	Now func() time.Time
}

// TxProcessor represents the TxProcessor object
type TxProcessor struct {
	hasher   commitment.Hasher
	verifier signer.Verifier
	config   Config
}

// ProcessTxOutput contains the output of the ProcessTxs and PreviewTxs
// methods
type ProcessTxOutput struct {
	// Batch is the recorded batch.  Nil in PreviewTxs.
	Batch     *common.Batch
	StateRoot ethCommon.Hash
	TxRoot    ethCommon.Hash
	TotalFees *uint256.Int
	// UpdatedAccounts contains the final state of each account updated by
	// the processed txs
	UpdatedAccounts map[common.AccountIdx]*common.Account
}

// NewTxProcessor returns a new TxProcessor
func NewTxProcessor(hasher commitment.Hasher, verifier signer.Verifier, config Config) *TxProcessor {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &TxProcessor{
		hasher:   hasher,
		verifier: verifier,
		config:   config,
	}
}

// ProcessTxs applies txs to txn and records them as the current batch if the
// resulting state root equals newStateRoot.  The Batch is marked as Verified
// once the state transition has been recomputed.
func (tp *TxProcessor) ProcessTxs(txn *statedb.Txn, txs []common.Tx,
	newStateRoot ethCommon.Hash) (*ProcessTxOutput, error) {
	out, err := tp.applyTxs(txn, txs)
	if err != nil {
		return nil, err
	}
	if out.StateRoot != newStateRoot {
		log.Debugw("state root mismatch", "computed", out.StateRoot.Hex(),
			"declared", newStateRoot.Hex())
		return nil, common.Wrap(common.ErrStateRootMismatch)
	}

	batchNum, err := txn.CurrentBatch()
	if err != nil {
		return nil, err
	}
	batch := &common.Batch{
		BatchNum:  batchNum,
		StateRoot: out.StateRoot,
		TxRoot:    out.TxRoot,
		Timestamp: tp.config.Now().UTC(),
		Verified:  true,
		TotalFees: *out.TotalFees,
		NumTxs:    len(txs),
	}
	if err := txn.PutBatch(batch); err != nil {
		return nil, err
	}
	out.Batch = batch
	log.Debugw("batch processed", "batch", batchNum, "txs", len(txs),
		"stateRoot", out.StateRoot.Hex(), "txRoot", out.TxRoot.Hex())
	return out, nil
}

// PreviewTxs applies txs to txn and returns the resulting roots without
// recording a batch.  The caller is expected to discard txn.
func (tp *TxProcessor) PreviewTxs(txn *statedb.Txn, txs []common.Tx) (*ProcessTxOutput, error) {
	return tp.applyTxs(txn, txs)
}

func (tp *TxProcessor) applyTxs(txn *statedb.Txn, txs []common.Tx) (*ProcessTxOutput, error) {
	if len(txs) > common.BatchSize {
		return nil, common.Wrap(common.ErrBatchTooLarge)
	}
	if len(txs) == 0 {
		return nil, common.Wrap(common.ErrEmptyBatch)
	}

	leaves := make([]ethCommon.Hash, len(txs))
	totalFees := new(uint256.Int)
	for i := range txs {
		leaves[i] = commitment.TxHash(tp.hasher, &txs[i])
		if _, overflow := totalFees.AddOverflow(totalFees, &txs[i].Fee); overflow {
			return nil, common.Wrap(common.ErrFeeOverflow)
		}
	}
	txRoot, err := commitment.MerkleRoot(tp.hasher, leaves)
	if err != nil {
		return nil, common.Wrap(err)
	}

	out := &ProcessTxOutput{
		TxRoot:          txRoot,
		TotalFees:       totalFees,
		UpdatedAccounts: make(map[common.AccountIdx]*common.Account),
	}
	for i := range txs {
		if err := tp.processTx(txn, &txs[i], out.UpdatedAccounts); err != nil {
			log.Debugw("tx rejected", "position", i, "tx", txs[i].String(),
				"err", common.Unwrap(err))
			return nil, err
		}
	}
	out.StateRoot, err = txn.StateRoot()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// checkTx validates tx against the current state of txn, returning the
// amount + fee to be debited from the sender
func (tp *TxProcessor) checkTx(txn *statedb.Txn, tx *common.Tx) (*uint256.Int, error) {
	sender, err := txn.GetAccount(tx.FromIdx)
	if err != nil {
		return nil, err
	}
	if _, err := txn.GetAccount(tx.ToIdx); err != nil {
		return nil, err
	}
	if !common.ValidAmount(&tx.Amount) || !common.ValidAmount(&tx.Fee) {
		return nil, common.Wrap(common.ErrInvalidAmount)
	}
	if err := tp.verifier.Verify(sender.PubKeyHash, tx); err != nil {
		return nil, err
	}
	if !tx.Nonce.Eq(&sender.Nonce) {
		return nil, common.Wrap(common.ErrInvalidNonce)
	}
	debit, err := tx.TotalDebit()
	if err != nil {
		return nil, err
	}
	if sender.Balance.Lt(debit) {
		return nil, common.Wrap(common.ErrInsufficientBalance)
	}
	return debit, nil
}

func (tp *TxProcessor) processTx(txn *statedb.Txn, tx *common.Tx,
	updated map[common.AccountIdx]*common.Account) error {
	debit, err := tp.checkTx(txn, tx)
	if err != nil {
		return err
	}

	if _, err := txn.Debit(tx.FromIdx, debit); err != nil {
		return err
	}
	sender, err := txn.IncrementNonce(tx.FromIdx)
	if err != nil {
		return err
	}
	if _, err := txn.Fold(tx.FromIdx); err != nil {
		return err
	}
	updated[sender.Idx] = sender

	receiver, err := txn.Credit(tx.ToIdx, &tx.Amount)
	if err != nil {
		return err
	}
	if _, err := txn.Fold(tx.ToIdx); err != nil {
		return err
	}
	updated[receiver.Idx] = receiver

	if tx.Fee.IsZero() {
		return nil
	}
	if tp.config.FeeAccountIdx == common.NoAccount {
		return txn.AddCollectedFees(&tx.Fee)
	}
	feeAccount, err := txn.Credit(tp.config.FeeAccountIdx, &tx.Fee)
	if err != nil {
		return err
	}
	if _, err := txn.Fold(tp.config.FeeAccountIdx); err != nil {
		return err
	}
	updated[feeAccount.Idx] = feeAccount
	return nil
}
