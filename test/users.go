package test

import (
	"crypto/ecdsa"
	"fmt"

	"zkrollup/common"
	"zkrollup/signer"

	ethCommon "github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/iden3/go-iden3-crypto/babyjub"
)

// User is a test identity with deterministic keys derived from its name
type User struct {
	Name string
	Addr ethCommon.Address
	Key  *ecdsa.PrivateKey
	BJJ  babyjub.PrivateKey
	// Idx is the account of the user, set by the test once created
	Idx common.AccountIdx
}

// NewUser returns the User with the given name.  The same name always
// produces the same keys.
func NewUser(name string) *User {
	seed := ethCrypto.Keccak256([]byte(fmt.Sprintf("zkrollup test user %s", name)))
	key, err := ethCrypto.ToECDSA(seed)
	if err != nil {
		panic(err)
	}
	u := &User{
		Name: name,
		Addr: ethCrypto.PubkeyToAddress(key.PublicKey),
		Key:  key,
	}
	copy(u.BJJ[:], ethCrypto.Keccak256(seed))
	return u
}

// GenUsers returns a User for every name
func GenUsers(names ...string) map[string]*User {
	users := make(map[string]*User, len(names))
	for _, name := range names {
		users[name] = NewUser(name)
	}
	return users
}

// PubKeyHash returns the key hash of the user for the given signature scheme
func (u *User) PubKeyHash(scheme string) ethCommon.Hash {
	if scheme == signer.SchemeBabyJubJub {
		return signer.BJJPubKeyHash(u.BJJ.Public().Compress())
	}
	return signer.ECDSAPubKeyHash(&u.Key.PublicKey)
}

// Sign signs the tx with the key of the given scheme
func (u *User) Sign(scheme string, tx *common.Tx) {
	if scheme == signer.SchemeBabyJubJub {
		signer.SignBabyJubJub(&u.BJJ, tx)
		return
	}
	if err := signer.SignECDSA(u.Key, tx); err != nil {
		panic(err)
	}
}

// Transfer returns a tx from u to the account of to signed with the ECDSA key
// of u
func (u *User) Transfer(to *User, amount, fee *uint256.Int, nonce uint64) common.Tx {
	tx := common.Tx{
		FromIdx: u.Idx,
		ToIdx:   to.Idx,
	}
	tx.Amount.Set(amount)
	tx.Fee.Set(fee)
	tx.Nonce.SetUint64(nonce)
	u.Sign(signer.SchemeECDSA, &tx)
	return tx
}

// Ether returns n * 10**18
func Ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}
