package common

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// AccountIdxBytesLen is the length of the AccountIdx byte representation
	AccountIdxBytesLen = 8
	// AccountBytesLen is the length of the Account byte representation:
	// PubKeyHash (32) | Balance (32) | Nonce (32)
	AccountBytesLen = 96
)

// AccountIdx represents the account index in the ledger and the position of
// its leaf in the state tree.  Idx 0 is never assigned.
type AccountIdx uint64

// Bytes returns a byte array representing the AccountIdx
func (idx AccountIdx) Bytes() [AccountIdxBytesLen]byte {
	var b [AccountIdxBytesLen]byte
	binary.BigEndian.PutUint64(b[:], uint64(idx))
	return b
}

// BigInt returns a *big.Int representing the AccountIdx
func (idx AccountIdx) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(idx))
}

// AccountIdxFromBytes returns AccountIdx from a byte array
func AccountIdxFromBytes(b []byte) (AccountIdx, error) {
	if len(b) != AccountIdxBytesLen {
		return 0, Wrap(fmt.Errorf("can not parse AccountIdx, bytes len %d, expected %d",
			len(b), AccountIdxBytesLen))
	}
	return AccountIdx(binary.BigEndian.Uint64(b)), nil
}

// Account is the ledger record of a rollup account.  Balance and Nonce are
// the only fields committed in the state tree leaf.
type Account struct {
	Idx        AccountIdx     `json:"accountIndex"`
	PubKeyHash ethCommon.Hash `json:"pubKeyHash"`
	Balance    uint256.Int    `json:"balance"`
	Nonce      uint256.Int    `json:"nonce"`
}

// NewAccount returns an empty Account for the given key hash
func NewAccount(idx AccountIdx, pubKeyHash ethCommon.Hash) *Account {
	return &Account{
		Idx:        idx,
		PubKeyHash: pubKeyHash,
	}
}

// Bytes returns the bytes representing the Account, each field padded to 32
// bytes big endian
func (a *Account) Bytes() [AccountBytesLen]byte {
	var b [AccountBytesLen]byte
	copy(b[0:32], a.PubKeyHash[:])
	balance := a.Balance.Bytes32()
	copy(b[32:64], balance[:])
	nonce := a.Nonce.Bytes32()
	copy(b[64:96], nonce[:])
	return b
}

// AccountFromBytes returns an Account from a byte array
func AccountFromBytes(b []byte) (*Account, error) {
	if len(b) != AccountBytesLen {
		return nil, Wrap(fmt.Errorf("can not parse Account, bytes len %d, expected %d",
			len(b), AccountBytesLen))
	}
	var a Account
	copy(a.PubKeyHash[:], b[0:32])
	a.Balance.SetBytes32(b[32:64])
	a.Nonce.SetBytes32(b[64:96])
	return &a, nil
}

// String returns a human readable representation of the Account
func (a *Account) String() string {
	return fmt.Sprintf("Idx: %d, PubKeyHash: %s, Balance: %s, Nonce: %s",
		a.Idx, a.PubKeyHash.Hex(), a.Balance.Dec(), a.Nonce.Dec())
}
