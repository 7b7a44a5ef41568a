/*
Package commitment implements the digest scheme that binds the ledger to a
single state root and the batches to a tx root.

Both roots are binary merkle trees built with the same Hasher and verified
with the same VerifyInclusion walk:

  - the state root is the root of a fixed depth indexed Tree where the leaf
    at position idx is LeafHash(balance, nonce) of the account idx.
  - the tx root of a batch is MerkleRoot over the tx digests, where an
    unpaired node at any level is hashed with itself.
*/
package commitment

import (
	"fmt"
	"math/big"

	"zkrollup/common"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

const (
	// HasherKeccak256 is the name of the keccak256 Hasher
	HasherKeccak256 = "keccak256"
	// HasherPoseidon is the name of the Poseidon (bn254) Hasher
	HasherPoseidon = "poseidon"
	// HasherMiMC is the name of the MiMC (bn254) Hasher
	HasherMiMC = "mimc"
)

// Hasher is the two-to-one compression function of the merkle trees
type Hasher interface {
	// Name of the hash function
	Name() string
	// HashPair returns the digest of left | right
	HashPair(left, right ethCommon.Hash) ethCommon.Hash
	// HashBytes returns the digest of an arbitrary length message
	HashBytes(data []byte) ethCommon.Hash
}

// NewHasher returns the Hasher with the given name
func NewHasher(name string) (Hasher, error) {
	switch name {
	case HasherKeccak256:
		return Keccak256Hasher{}, nil
	case HasherPoseidon:
		return PoseidonHasher{}, nil
	case HasherMiMC:
		return MiMCHasher{}, nil
	default:
		return nil, common.Wrap(fmt.Errorf("unknown hasher %q", name))
	}
}

// LeafHash returns the state tree leaf of an account with the given balance
// and nonce
func LeafHash(h Hasher, balance, nonce *uint256.Int) ethCommon.Hash {
	return h.HashPair(balance.Bytes32(), nonce.Bytes32())
}

// AccountLeaf returns the state tree leaf of the account
func AccountLeaf(h Hasher, account *common.Account) ethCommon.Hash {
	return LeafHash(h, &account.Balance, &account.Nonce)
}

// TxHash returns the digest of the tx that is committed in the tx root
func TxHash(h Hasher, tx *common.Tx) ethCommon.Hash {
	return h.HashBytes(tx.Bytes())
}

// Keccak256Hasher hashes with keccak256 over the packed inputs
type Keccak256Hasher struct{}

// Name implements Hasher
func (Keccak256Hasher) Name() string { return HasherKeccak256 }

// HashPair implements Hasher
func (Keccak256Hasher) HashPair(left, right ethCommon.Hash) ethCommon.Hash {
	return crypto.Keccak256Hash(left[:], right[:])
}

// HashBytes implements Hasher
func (Keccak256Hasher) HashBytes(data []byte) ethCommon.Hash {
	return crypto.Keccak256Hash(data)
}

// fieldElement interprets h as a big endian integer reduced into the bn254
// scalar field
func fieldElement(h ethCommon.Hash) *big.Int {
	return common.ToField(new(big.Int).SetBytes(h[:]))
}

// fieldHash reduces the keccak256 digest of data into the scalar field, so
// that messages of any length can be fed to the field hashers
func fieldHash(data []byte) ethCommon.Hash {
	return ethCommon.BigToHash(fieldElement(crypto.Keccak256Hash(data)))
}

// PoseidonHasher hashes with Poseidon over the bn254 scalar field.  Inputs
// are reduced modulo FieldSize.
type PoseidonHasher struct{}

// Name implements Hasher
func (PoseidonHasher) Name() string { return HasherPoseidon }

// HashPair implements Hasher
func (PoseidonHasher) HashPair(left, right ethCommon.Hash) ethCommon.Hash {
	out, err := poseidon.Hash([]*big.Int{fieldElement(left), fieldElement(right)})
	if err != nil {
		// unreachable: both inputs are reduced into the field
		panic(err)
	}
	return ethCommon.BigToHash(out)
}

// HashBytes implements Hasher
func (PoseidonHasher) HashBytes(data []byte) ethCommon.Hash {
	return fieldHash(data)
}

// MiMCHasher hashes with MiMC over the bn254 scalar field.  Inputs are reduced
// modulo FieldSize.
type MiMCHasher struct{}

// Name implements Hasher
func (MiMCHasher) Name() string { return HasherMiMC }

// HashPair implements Hasher
func (MiMCHasher) HashPair(left, right ethCommon.Hash) ethCommon.Hash {
	h := mimc.NewMiMC()
	l := ethCommon.BigToHash(fieldElement(left))
	r := ethCommon.BigToHash(fieldElement(right))
	if _, err := h.Write(l[:]); err != nil {
		panic(err)
	}
	if _, err := h.Write(r[:]); err != nil {
		panic(err)
	}
	return ethCommon.BytesToHash(h.Sum(nil))
}

// HashBytes implements Hasher
func (MiMCHasher) HashBytes(data []byte) ethCommon.Hash {
	return fieldHash(data)
}
