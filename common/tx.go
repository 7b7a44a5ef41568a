package common

import (
	"fmt"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// txWordsLen is the length of the fixed part of the Tx byte representation:
// FromIdx | ToIdx | Amount | Fee | Nonce, 32 bytes each
const txWordsLen = 5 * 32

// TxSigningDomain prefixes the bytes a sender signs, so that a tx signature
// can not be replayed as a signature of any other message
var TxSigningDomain = []byte("zkrollup-tx")

// Tx is a transfer between two rollup accounts.  A Tx is only used while
// processing the batch it belongs to; only its digest is committed in the
// batch TxRoot.
type Tx struct {
	FromIdx   AccountIdx  `json:"fromAccountIndex"`
	ToIdx     AccountIdx  `json:"toAccountIndex"`
	Amount    uint256.Int `json:"amount"`
	Fee       uint256.Int `json:"fee"`
	Nonce     uint256.Int `json:"nonce"`
	Signature []byte      `json:"signature"`
}

func (tx *Tx) words() [txWordsLen]byte {
	var b [txWordsLen]byte
	from := uint256.NewInt(uint64(tx.FromIdx)).Bytes32()
	to := uint256.NewInt(uint64(tx.ToIdx)).Bytes32()
	amount := tx.Amount.Bytes32()
	fee := tx.Fee.Bytes32()
	nonce := tx.Nonce.Bytes32()
	copy(b[0:32], from[:])
	copy(b[32:64], to[:])
	copy(b[64:96], amount[:])
	copy(b[96:128], fee[:])
	copy(b[128:160], nonce[:])
	return b
}

// Bytes returns the packed representation of the Tx used to compute its
// digest: FromIdx, ToIdx, Amount, Fee, Nonce as 32 bytes big endian words
// followed by the raw Signature.
func (tx *Tx) Bytes() []byte {
	w := tx.words()
	b := make([]byte, 0, txWordsLen+len(tx.Signature))
	b = append(b, w[:]...)
	return append(b, tx.Signature...)
}

// SigningHash returns the keccak256 hash that the sender signs
func (tx *Tx) SigningHash() ethCommon.Hash {
	w := tx.words()
	return crypto.Keccak256Hash(TxSigningDomain, w[:])
}

// TotalDebit returns Amount + Fee, failing if the sum overflows
func (tx *Tx) TotalDebit() (*uint256.Int, error) {
	total, overflow := new(uint256.Int).AddOverflow(&tx.Amount, &tx.Fee)
	if overflow {
		return nil, Wrap(ErrAmountOverflow)
	}
	return total, nil
}

// String returns a human readable representation of the Tx
func (tx *Tx) String() string {
	return fmt.Sprintf("FromIdx: %d, ToIdx: %d, Amount: %s, Fee: %s, Nonce: %s",
		tx.FromIdx, tx.ToIdx, tx.Amount.Dec(), tx.Fee.Dec(), tx.Nonce.Dec())
}
