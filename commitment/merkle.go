package commitment

import (
	"errors"

	"zkrollup/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// ErrNoLeaves is used when a merkle root or proof is requested over an empty
// list of leaves
var ErrNoLeaves = errors.New("merkle tree without leaves")

// nextLevel hashes the nodes of a level pairwise.  The last node of a level
// with an odd number of nodes is hashed with itself.
func nextLevel(h Hasher, level []ethCommon.Hash) []ethCommon.Hash {
	next := make([]ethCommon.Hash, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 < len(level) {
			next = append(next, h.HashPair(level[i], level[i+1]))
		} else {
			next = append(next, h.HashPair(level[i], level[i]))
		}
	}
	return next
}

// MerkleRoot returns the root of the binary merkle tree built bottom-up over
// the given leaves.  A single leaf is its own root.
//
// Duplicating the odd node means that [a, b, c] and [a, b, c, c] have the same
// root.  Roots built with MerkleRoot only commit to a list of leaves together
// with its length, which batches record in NumTxs.
func MerkleRoot(h Hasher, leaves []ethCommon.Hash) (ethCommon.Hash, error) {
	if len(leaves) == 0 {
		return ethCommon.Hash{}, common.Wrap(ErrNoLeaves)
	}
	level := leaves
	for len(level) > 1 {
		level = nextLevel(h, level)
	}
	return level[0], nil
}

// MerkleProof returns the siblings from the leaf at index up to the root of
// MerkleRoot(h, leaves), ordered bottom-up
func MerkleProof(h Hasher, leaves []ethCommon.Hash, index uint64) ([]ethCommon.Hash, error) {
	if len(leaves) == 0 {
		return nil, common.Wrap(ErrNoLeaves)
	}
	if index >= uint64(len(leaves)) {
		return nil, common.Wrap(common.ErrIdxOverflow)
	}
	var siblings []ethCommon.Hash
	level := leaves
	for len(level) > 1 {
		sib := index ^ 1
		if sib >= uint64(len(level)) {
			sib = index
		}
		siblings = append(siblings, level[sib])
		level = nextLevel(h, level)
		index >>= 1
	}
	return siblings, nil
}

// VerifyInclusion walks the proof from leaf up to the root: at every level an
// even index hashes (current, sibling) and an odd index hashes
// (sibling, current).  The index must fit in len(proof) bits.
func VerifyInclusion(h Hasher, proof []ethCommon.Hash, root, leaf ethCommon.Hash,
	index uint64) bool {
	if index>>uint(len(proof)) != 0 {
		return false
	}
	cur := leaf
	for _, sib := range proof {
		if index&1 == 0 {
			cur = h.HashPair(cur, sib)
		} else {
			cur = h.HashPair(sib, cur)
		}
		index >>= 1
	}
	return cur == root
}
