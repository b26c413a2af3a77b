package statetree

import (
	"encoding/json"

	"github.com/shardfabric/dancore/pkg/types"
)

type nodeKind uint8

const (
	kindLeaf nodeKind = iota
	kindInternal
)

// node is the persisted shape of one non-empty tree node. Leaves carry the
// full LeafKey they were compressed down to, so a single occupied entry in
// an otherwise empty subtree costs one node instead of a chain of depth
// internal nodes.
type node struct {
	Kind  nodeKind     `json:"kind"`
	Leaf  types.Hash32 `json:"leaf,omitempty"`
	Value types.Hash32 `json:"value,omitempty"`
	Left  types.Hash32 `json:"left,omitempty"`
	Right types.Hash32 `json:"right,omitempty"`
}

func (n *node) hash() types.Hash32 {
	if n.Kind == kindLeaf {
		return hashLeaf(n.Leaf, n.Value)
	}
	return hashPair(n.Left, n.Right)
}

func encodeNode(n *node) []byte {
	b, err := json.Marshal(n)
	if err != nil {
		panic("statetree: node is always json-encodable: " + err.Error())
	}
	return b
}

func decodeNode(b []byte) (*node, error) {
	var n node
	if err := json.Unmarshal(b, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
