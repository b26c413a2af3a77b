package statetree

import (
	"crypto/sha256"

	"github.com/shardfabric/dancore/pkg/types"
)

// depth is the number of bits in a LeafKey. Every tree is a binary sparse
// Merkle tree over this many levels, the same fan-out Jellyfish-style
// trees use, collapsed to leaves wherever a subtree holds at most one
// entry so empty space costs nothing to store.
const depth = 256

// placeholder[d] is the root hash of a fully empty subtree of height
// depth-d. placeholder[depth] is the empty leaf. State tree hashing uses
// sha256, the same primitive pkg/merkle/tree.go uses for its leaves and
// internal nodes; block and QC ids use Keccak256 instead, per
// types.HashEncoder.
var placeholder [depth + 1]types.Hash32

func init() {
	placeholder[depth] = types.Hash32{}
	for d := depth - 1; d >= 0; d-- {
		placeholder[d] = hashPair(placeholder[d+1], placeholder[d+1])
	}
}

func hashPair(left, right types.Hash32) types.Hash32 {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write(left[:])
	h.Write(right[:])
	var out types.Hash32
	copy(out[:], h.Sum(nil))
	return out
}

func hashLeaf(key, value types.Hash32) types.Hash32 {
	h := sha256.New()
	h.Write([]byte{0x00})
	h.Write(key[:])
	h.Write(value[:])
	var out types.Hash32
	copy(out[:], h.Sum(nil))
	return out
}

// LeafKeyFor derives the tree's 32-byte LeafKey for a substate id.
func LeafKeyFor(id types.SubstateId) types.Hash32 {
	return types.Hash32(sha256.Sum256([]byte(id)))
}

// ValueHashFor derives the value_hash stored at a leaf for a substate
// value.
func ValueHashFor(v types.SubstateValue) types.Hash32 {
	return types.Hash32(sha256.Sum256(v))
}

func bitAt(key types.Hash32, d int) int {
	byteIdx := d / 8
	bitIdx := 7 - uint(d%8)
	return int((key[byteIdx] >> bitIdx) & 1)
}
