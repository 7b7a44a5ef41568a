package common

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
)

const (
	// BatchSize is the maximum number of txs in a batch
	BatchSize = 32
	// NoAccount is the reserved idx used as "no account" sentinel
	NoAccount = AccountIdx(0)
)

var (
	// MaxAmount is the ceiling of a single deposit, transfer, fee or
	// withdrawal amount (2**128 - 1)
	MaxAmount = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)

	// FieldSize is the order of the bn254 scalar field, used by the
	// circuit friendly hashers and BabyJubJub signatures
	FieldSize = fr.Modulus()
)

// InField reports whether v is a valid bn254 scalar field element
func InField(v *big.Int) bool {
	return v.Sign() >= 0 && v.Cmp(FieldSize) < 0
}

// ToField reduces v modulo FieldSize
func ToField(v *big.Int) *big.Int {
	return new(big.Int).Mod(v, FieldSize)
}

// ValidAmount reports whether amount fits in the per operation ceiling
func ValidAmount(amount *uint256.Int) bool {
	return !amount.Gt(MaxAmount)
}
