package api

import (
	"fmt"
	"time"

	"zkrollup/common"
	"zkrollup/withdrawal"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator"
	"github.com/holiman/uint256"
)

// Amounts are encoded as decimal strings and hashes as 0x prefixed hex
// strings so that no value loses precision in JSON.

// Account is the API representation of common.Account
type Account struct {
	AccountIndex uint64 `json:"accountIndex"`
	PubKeyHash   string `json:"pubKeyHash"`
	Balance      string `json:"balance"`
	Nonce        string `json:"nonce"`
}

// NewAccount returns the API representation of acc
func NewAccount(acc *common.Account) Account {
	return Account{
		AccountIndex: uint64(acc.Idx),
		PubKeyHash:   acc.PubKeyHash.Hex(),
		Balance:      acc.Balance.Dec(),
		Nonce:        acc.Nonce.Dec(),
	}
}

// AccountProof is an account with its inclusion proof against StateRoot
type AccountProof struct {
	Account   Account  `json:"account"`
	Proof     []string `json:"proof"`
	StateRoot string   `json:"stateRoot"`
}

// NewAccountProof returns the API representation of an account proof
func NewAccountProof(acc *common.Account, proof []ethCommon.Hash, root ethCommon.Hash) AccountProof {
	return AccountProof{
		Account:   NewAccount(acc),
		Proof:     hashesToStrings(proof),
		StateRoot: root.Hex(),
	}
}

// Batch is the API representation of common.Batch
type Batch struct {
	BatchNum  uint32    `json:"batchNum"`
	StateRoot string    `json:"stateRoot"`
	TxRoot    string    `json:"txRoot"`
	Timestamp time.Time `json:"timestamp"`
	Verified  bool      `json:"verified"`
	TotalFees string    `json:"totalFees"`
	NumTxs    int       `json:"numTxs"`
}

// NewBatch returns the API representation of batch
func NewBatch(batch *common.Batch) Batch {
	return Batch{
		BatchNum:  uint32(batch.BatchNum),
		StateRoot: batch.StateRoot.Hex(),
		TxRoot:    batch.TxRoot.Hex(),
		Timestamp: batch.Timestamp,
		Verified:  batch.Verified,
		TotalFees: batch.TotalFees.Dec(),
		NumTxs:    batch.NumTxs,
	}
}

// Batches is a page of batches
type Batches struct {
	Batches []Batch `json:"batches"`
}

// Preview is the result of applying a batch without committing it
type Preview struct {
	StateRoot string `json:"stateRoot"`
	TxRoot    string `json:"txRoot"`
	TotalFees string `json:"totalFees"`
}

// Payout is the API representation of withdrawal.Instruction
type Payout struct {
	AccountIndex uint64 `json:"accountIndex"`
	To           string `json:"to"`
	Amount       string `json:"amount"`
	StateRoot    string `json:"stateRoot"`
}

// NewPayout returns the API representation of ins
func NewPayout(ins *withdrawal.Instruction) Payout {
	return Payout{
		AccountIndex: uint64(ins.Idx),
		To:           ins.To.Hex(),
		Amount:       ins.Amount.Dec(),
		StateRoot:    ins.StateRoot.Hex(),
	}
}

// State is the global state of the rollup
type State struct {
	StateRoot     string `json:"stateRoot"`
	CurrentBatch  uint32 `json:"currentBatch"`
	TotalAccounts uint64 `json:"totalAccounts"`
	CollectedFees string `json:"collectedFees"`
	Paused        bool   `json:"paused"`
	Owner         string `json:"owner"`
}

// AccountIndex wraps the index of an account
type AccountIndex struct {
	AccountIndex uint64 `json:"accountIndex"`
}

// Tx is the API representation of common.Tx
type Tx struct {
	FromAccountIndex uint64 `json:"fromAccountIndex"`
	ToAccountIndex   uint64 `json:"toAccountIndex"`
	Amount           string `json:"amount" validate:"required,numeric"`
	Fee              string `json:"fee" validate:"required,numeric"`
	Nonce            string `json:"nonce" validate:"required,numeric"`
	Signature        string `json:"signature" validate:"required,hexbytes"`
}

// NewTx returns the API representation of tx
func NewTx(tx *common.Tx) Tx {
	return Tx{
		FromAccountIndex: uint64(tx.FromIdx),
		ToAccountIndex:   uint64(tx.ToIdx),
		Amount:           tx.Amount.Dec(),
		Fee:              tx.Fee.Dec(),
		Nonce:            tx.Nonce.Dec(),
		Signature:        hexutil.Encode(tx.Signature),
	}
}

// ToCommon parses the tx
func (tx *Tx) ToCommon() (*common.Tx, error) {
	out := &common.Tx{
		FromIdx: common.AccountIdx(tx.FromAccountIndex),
		ToIdx:   common.AccountIdx(tx.ToAccountIndex),
	}
	for _, f := range []struct {
		name string
		src  string
		dst  *uint256.Int
	}{
		{"amount", tx.Amount, &out.Amount},
		{"fee", tx.Fee, &out.Fee},
		{"nonce", tx.Nonce, &out.Nonce},
	} {
		if err := f.dst.SetFromDecimal(f.src); err != nil {
			return nil, common.Wrap(fmt.Errorf("invalid %s %q: %w", f.name, f.src, err))
		}
	}
	sig, err := hexutil.Decode(tx.Signature)
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("invalid signature: %w", err))
	}
	out.Signature = sig
	return out, nil
}

// CreateAccountRequest is the body of POST /v1/accounts
type CreateAccountRequest struct {
	PubKeyHash string `json:"pubKeyHash" validate:"required,hexhash"`
}

// DepositRequest is the body of POST /v1/accounts/:idx/deposits
type DepositRequest struct {
	Amount string `json:"amount" validate:"required,numeric"`
}

// SubmitBatchRequest is the body of POST /v1/batches
type SubmitBatchRequest struct {
	Transactions []Tx   `json:"transactions" validate:"dive"`
	NewStateRoot string `json:"newStateRoot" validate:"required,hexhash"`
}

// PreviewBatchRequest is the body of POST /v1/batches/preview
type PreviewBatchRequest struct {
	Transactions []Tx `json:"transactions" validate:"dive"`
}

// WithdrawRequest is the body of POST /v1/accounts/:idx/withdrawals
type WithdrawRequest struct {
	Amount string   `json:"amount" validate:"required,numeric"`
	Proof  []string `json:"proof" validate:"dive,hexhash"`
}

// OwnerRequest is the body of POST /v1/admin/owner
type OwnerRequest struct {
	Owner string `json:"owner" validate:"required,eth_addr"`
}

func parseAmount(s string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("invalid amount %q: %w", s, err))
	}
	return amount, nil
}

// newValidator returns the validator of the request bodies.  It adds the
// tags hexbytes, a 0x prefixed hex string, and hexhash, a 0x prefixed hex
// string of 32 bytes.
func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("hexbytes", func(fl validator.FieldLevel) bool {
		_, err := hexutil.Decode(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("hexhash", func(fl validator.FieldLevel) bool {
		_, err := parseHash(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

func parseHash(s string) (ethCommon.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != ethCommon.HashLength {
		return ethCommon.Hash{}, common.Wrap(fmt.Errorf("invalid hash %q", s))
	}
	return ethCommon.BytesToHash(b), nil
}

func parseHashes(ss []string) ([]ethCommon.Hash, error) {
	hashes := make([]ethCommon.Hash, len(ss))
	for i, s := range ss {
		h, err := parseHash(s)
		if err != nil {
			return nil, err
		}
		hashes[i] = h
	}
	return hashes, nil
}

func parseTxs(txs []Tx) ([]common.Tx, error) {
	out := make([]common.Tx, len(txs))
	for i := range txs {
		tx, err := txs[i].ToCommon()
		if err != nil {
			return nil, err
		}
		out[i] = *tx
	}
	return out, nil
}

func hashesToStrings(hashes []ethCommon.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return out
}
