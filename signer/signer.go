// Package signer authorizes transfers: it derives the public key hash that
// is stored in an account and checks that a tx signature was produced by the
// key behind that hash.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"zkrollup/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/babyjub"
)

const (
	// SchemeECDSA signs with secp256k1 keys, as Ethereum accounts do
	SchemeECDSA = "ecdsa"
	// SchemeBabyJubJub signs with BabyJubJub keys over a Poseidon digest
	SchemeBabyJubJub = "babyjubjub"

	ecdsaSignatureLen = 65
	// bjjSignatureLen is the compressed public key (32) followed by the
	// compressed signature (64)
	bjjSignatureLen = 32 + 64
)

// Verifier checks that a tx is authorized by the key behind pubKeyHash
type Verifier interface {
	Verify(pubKeyHash ethCommon.Hash, tx *common.Tx) error
}

// NewVerifier returns the Verifier of the given scheme
func NewVerifier(scheme string) (Verifier, error) {
	switch scheme {
	case SchemeECDSA:
		return ECDSAVerifier{}, nil
	case SchemeBabyJubJub:
		return BabyJubJubVerifier{}, nil
	default:
		return nil, common.Wrap(fmt.Errorf("unknown signature scheme %q", scheme))
	}
}

// ECDSAPubKeyHash returns the key hash stored in the account of a secp256k1
// key, which is the keccak256 of the uncompressed public key without the
// 0x04 prefix
func ECDSAPubKeyHash(pk *ecdsa.PublicKey) ethCommon.Hash {
	return crypto.Keccak256Hash(crypto.FromECDSAPub(pk)[1:])
}

// SignECDSA signs the tx with a secp256k1 key
func SignECDSA(sk *ecdsa.PrivateKey, tx *common.Tx) error {
	h := tx.SigningHash()
	sig, err := crypto.Sign(h[:], sk)
	if err != nil {
		return common.Wrap(err)
	}
	tx.Signature = sig
	return nil
}

// ECDSAVerifier verifies 65 bytes [R | S | V] secp256k1 signatures of
// Tx.SigningHash
type ECDSAVerifier struct{}

// Verify implements Verifier
func (ECDSAVerifier) Verify(pubKeyHash ethCommon.Hash, tx *common.Tx) error {
	if len(tx.Signature) != ecdsaSignatureLen {
		return common.Wrap(common.ErrInvalidSignature)
	}
	h := tx.SigningHash()
	pk, err := crypto.SigToPub(h[:], tx.Signature)
	if err != nil {
		return common.Wrap(common.ErrInvalidSignature)
	}
	if ECDSAPubKeyHash(pk) != pubKeyHash {
		return common.Wrap(common.ErrInvalidSignature)
	}
	return nil
}

// BJJPubKeyHash returns the key hash stored in the account of a BabyJubJub
// key, which is the keccak256 of the compressed public key
func BJJPubKeyHash(pk babyjub.PublicKeyComp) ethCommon.Hash {
	return crypto.Keccak256Hash(pk[:])
}

// bjjMessage is the field element signed with BabyJubJub
func bjjMessage(tx *common.Tx) *big.Int {
	h := tx.SigningHash()
	return common.ToField(h.Big())
}

// SignBabyJubJub signs the tx with a BabyJubJub key
func SignBabyJubJub(sk *babyjub.PrivateKey, tx *common.Tx) {
	pkComp := sk.Public().Compress()
	sigComp := sk.SignPoseidon(bjjMessage(tx)).Compress()
	sig := make([]byte, 0, bjjSignatureLen)
	sig = append(sig, pkComp[:]...)
	tx.Signature = append(sig, sigComp[:]...)
}

// BabyJubJubVerifier verifies signatures made of the compressed public key
// followed by the compressed Poseidon signature of Tx.SigningHash reduced
// into the field
type BabyJubJubVerifier struct{}

// Verify implements Verifier
func (BabyJubJubVerifier) Verify(pubKeyHash ethCommon.Hash, tx *common.Tx) error {
	if len(tx.Signature) != bjjSignatureLen {
		return common.Wrap(common.ErrInvalidSignature)
	}
	var pkComp babyjub.PublicKeyComp
	copy(pkComp[:], tx.Signature[:32])
	if BJJPubKeyHash(pkComp) != pubKeyHash {
		return common.Wrap(common.ErrInvalidSignature)
	}
	pk, err := pkComp.Decompress()
	if err != nil {
		return common.Wrap(common.ErrInvalidSignature)
	}
	var sigComp babyjub.SignatureComp
	copy(sigComp[:], tx.Signature[32:])
	sig, err := sigComp.Decompress()
	if err != nil {
		return common.Wrap(common.ErrInvalidSignature)
	}
	if !pk.VerifyPoseidon(bjjMessage(tx), sig) {
		return common.Wrap(common.ErrInvalidSignature)
	}
	return nil
}
