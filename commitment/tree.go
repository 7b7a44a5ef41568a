package commitment

import (
	"encoding/binary"
	"fmt"

	"zkrollup/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/iden3/go-merkletree/db"
)

const (
	// DefaultNLevels is the default depth of the state tree
	DefaultNLevels = 24
	// MaxNLevels is the maximum depth of the state tree, bounded by the 48
	// bits of AccountIdx used by the rest of the node
	MaxNLevels = 48
)

// PrefixKeyNode is the key prefix of the state tree nodes in the db.  A node
// key is PrefixKeyNode | level (1 byte) | position (8 bytes).
var PrefixKeyNode = []byte("n:")

// Reader is the read side of a db.Storage or db.Tx
type Reader interface {
	Get(key []byte) ([]byte, error)
}

// Writer is the write side of a db.Tx
type Writer interface {
	Reader
	Put(key, value []byte) error
}

// Tree is the fixed depth indexed merkle tree committing to the accounts.  The
// leaf at position idx is LeafHash(balance, nonce) of the account idx, unused
// positions hold LeafHash(0, 0), and only the nodes that differ from an empty
// subtree are stored.
//
// Tree does not own any storage: every method receives the db.Storage or
// db.Tx to read from or write to, so the tree updates become visible with the
// rest of the writes of the same db.Tx.
type Tree struct {
	hasher  Hasher
	nLevels int
	// zeros[l] is the root of an empty subtree of height l
	zeros []ethCommon.Hash
}

// NewTree returns a Tree of nLevels levels hashed with h
func NewTree(h Hasher, nLevels int) (*Tree, error) {
	if nLevels < 1 || nLevels > MaxNLevels {
		return nil, common.Wrap(fmt.Errorf("invalid tree levels %d, must be in [1, %d]",
			nLevels, MaxNLevels))
	}
	zeros := make([]ethCommon.Hash, nLevels+1)
	zeros[0] = LeafHash(h, new(uint256.Int), new(uint256.Int))
	for l := 0; l < nLevels; l++ {
		zeros[l+1] = h.HashPair(zeros[l], zeros[l])
	}
	return &Tree{hasher: h, nLevels: nLevels, zeros: zeros}, nil
}

// Hasher returns the Hasher of the tree
func (t *Tree) Hasher() Hasher { return t.hasher }

// NLevels returns the depth of the tree, which is also the length of its
// proofs
func (t *Tree) NLevels() int { return t.nLevels }

// EmptyRoot returns the root of the tree without accounts
func (t *Tree) EmptyRoot() ethCommon.Hash { return t.zeros[t.nLevels] }

func nodeKey(level int, pos uint64) []byte {
	k := make([]byte, len(PrefixKeyNode)+1+8)
	copy(k, PrefixKeyNode)
	k[len(PrefixKeyNode)] = byte(level)
	binary.BigEndian.PutUint64(k[len(PrefixKeyNode)+1:], pos)
	return k
}

// nodeValue returns a new slice with the bytes of h.  Writers may keep the
// value passed to Put.
func nodeValue(h ethCommon.Hash) []byte {
	v := make([]byte, ethCommon.HashLength)
	copy(v, h[:])
	return v
}

func (t *Tree) checkIdx(idx common.AccountIdx) error {
	if uint64(idx) >= uint64(1)<<uint(t.nLevels) {
		return common.Wrap(common.ErrIdxOverflow)
	}
	return nil
}

func (t *Tree) node(r Reader, level int, pos uint64) (ethCommon.Hash, error) {
	v, err := r.Get(nodeKey(level, pos))
	if common.Unwrap(err) == db.ErrNotFound {
		return t.zeros[level], nil
	} else if err != nil {
		return ethCommon.Hash{}, common.Wrap(err)
	}
	return ethCommon.BytesToHash(v), nil
}

// Root returns the current root of the tree
func (t *Tree) Root(r Reader) (ethCommon.Hash, error) {
	return t.node(r, t.nLevels, 0)
}

// Leaf returns the leaf at position idx
func (t *Tree) Leaf(r Reader, idx common.AccountIdx) (ethCommon.Hash, error) {
	if err := t.checkIdx(idx); err != nil {
		return ethCommon.Hash{}, err
	}
	return t.node(r, 0, uint64(idx))
}

// Proof returns the siblings of the path from the leaf at idx to the root,
// ordered bottom-up.  The proof is valid for VerifyInclusion with index idx.
func (t *Tree) Proof(r Reader, idx common.AccountIdx) ([]ethCommon.Hash, error) {
	if err := t.checkIdx(idx); err != nil {
		return nil, err
	}
	siblings := make([]ethCommon.Hash, t.nLevels)
	pos := uint64(idx)
	for l := 0; l < t.nLevels; l++ {
		sib, err := t.node(r, l, pos^1)
		if err != nil {
			return nil, err
		}
		siblings[l] = sib
		pos >>= 1
	}
	return siblings, nil
}

// Update sets the leaf at idx and recomputes its path, returning the new root
func (t *Tree) Update(w Writer, idx common.AccountIdx, leaf ethCommon.Hash) (ethCommon.Hash, error) {
	if err := t.checkIdx(idx); err != nil {
		return ethCommon.Hash{}, err
	}
	pos := uint64(idx)
	cur := leaf
	if err := w.Put(nodeKey(0, pos), nodeValue(cur)); err != nil {
		return ethCommon.Hash{}, common.Wrap(err)
	}
	for l := 0; l < t.nLevels; l++ {
		sib, err := t.node(w, l, pos^1)
		if err != nil {
			return ethCommon.Hash{}, err
		}
		if pos&1 == 0 {
			cur = t.hasher.HashPair(cur, sib)
		} else {
			cur = t.hasher.HashPair(sib, cur)
		}
		pos >>= 1
		if err := w.Put(nodeKey(l+1, pos), nodeValue(cur)); err != nil {
			return ethCommon.Hash{}, common.Wrap(err)
		}
	}
	return cur, nil
}

// FoldAccountUpdate folds the new state of the account idx into root and
// returns the resulting root.  root must be the current root of the tree.
func (t *Tree) FoldAccountUpdate(w Writer, root ethCommon.Hash, idx common.AccountIdx,
	account *common.Account) (ethCommon.Hash, error) {
	current, err := t.Root(w)
	if err != nil {
		return ethCommon.Hash{}, err
	}
	if current != root {
		return ethCommon.Hash{}, common.Wrap(common.ErrStaleRoot)
	}
	return t.Update(w, idx, AccountLeaf(t.hasher, account))
}

// VerifyAccount reports whether proof shows that the account idx with the
// given state is committed in root
func (t *Tree) VerifyAccount(proof []ethCommon.Hash, root ethCommon.Hash,
	idx common.AccountIdx, account *common.Account) bool {
	if len(proof) != t.nLevels {
		return false
	}
	return VerifyInclusion(t.hasher, proof, root, AccountLeaf(t.hasher, account), uint64(idx))
}
