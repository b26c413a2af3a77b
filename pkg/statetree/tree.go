// Package statetree implements the per-shard Jellyfish-style sparse
// Merkle tree: a versioned, address-keyed authenticated map whose root
// anchors every committed block. Each tree is reconstructed in memory
// from the nodes a store.ReadTx has persisted for its shard, mutated by
// applying a block's substate changes, and the touched nodes are handed
// back to the caller to persist inside the same store.WriteTx that
// commits the block.
package statetree

import (
	"fmt"

	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/types"
)

// Tree is an in-memory view of one shard's authenticated state at a
// single version. It is not safe for concurrent use; callers hold the
// store's write lock for the duration of a mutation, mirroring
// pkg/merkle/tree.go's own single-owner construction pattern.
type Tree struct {
	shard   types.ShardGroup
	version uint64
	root    types.Hash32
	nodes   map[types.Hash32]*node
	stale   map[types.Hash32]bool
	touched map[types.Hash32]*node
}

// Load reconstructs a shard's tree as of its current durable version from
// a read transaction.
func Load(tx store.ReadTx, shard types.ShardGroup) (*Tree, error) {
	version, err := tx.StateTreeShardVersionGet(shard)
	if err != nil {
		return nil, fmt.Errorf("statetree: load shard version: %w", err)
	}
	root, err := tx.StateTreeRootGet(shard)
	if err != nil {
		return nil, fmt.Errorf("statetree: load root: %w", err)
	}
	if root.IsZero() {
		// A shard with nothing persisted yet reads back the zero value;
		// the tree's actual empty root is the depth-0 placeholder, never
		// the all-zero hash.
		root = placeholder[0]
	}
	stored, err := tx.StateTreeNodesGetAll(shard)
	if err != nil {
		return nil, fmt.Errorf("statetree: load nodes: %w", err)
	}
	nodes := make(map[types.Hash32]*node, len(stored))
	for _, sn := range stored {
		if sn.IsStale {
			continue
		}
		n, err := decodeNode(sn.Value)
		if err != nil {
			return nil, fmt.Errorf("statetree: decode node %s: %w", types.Hash32(sn.Key).String(), err)
		}
		nodes[types.Hash32(sn.Key)] = n
	}
	return &Tree{
		shard:   shard,
		version: version,
		root:    root,
		nodes:   nodes,
		stale:   make(map[types.Hash32]bool),
		touched: make(map[types.Hash32]*node),
	}, nil
}

// Root returns the tree's current root hash. An empty shard's root is
// placeholder[0], the depth-0 empty-subtree hash, never the all-zero hash.
func (t *Tree) Root() types.Hash32 { return t.root }

// Version returns the tree's current durable version.
func (t *Tree) Version() uint64 { return t.version }

// Get returns the value_hash stored at a substate's LeafKey, if present.
func (t *Tree) Get(leafKey types.Hash32) (types.Hash32, bool) {
	return t.get(t.root, 0, leafKey)
}

func (t *Tree) get(nodeHash types.Hash32, d int, leafKey types.Hash32) (types.Hash32, bool) {
	if nodeHash == placeholder[d] {
		return types.Hash32{}, false
	}
	n, ok := t.nodes[nodeHash]
	if !ok {
		return types.Hash32{}, false
	}
	if n.Kind == kindLeaf {
		if n.Leaf == leafKey {
			return n.Value, true
		}
		return types.Hash32{}, false
	}
	if bitAt(leafKey, d) == 0 {
		return t.get(n.Left, d+1, leafKey)
	}
	return t.get(n.Right, d+1, leafKey)
}

// ApplyChanges mutates the tree in place with a block's UP/DOWN substate
// changes and returns the resulting node diff: the nodes that must be
// persisted and the node hashes that became stale. It does not advance
// Version; that happens on commit, once the diff has actually been
// merged into the durable tree (see Merge).
func (t *Tree) ApplyChanges(changes []types.SubstateChange) Diff {
	t.stale = make(map[types.Hash32]bool)
	t.touched = make(map[types.Hash32]*node)
	for _, c := range changes {
		leafKey := LeafKeyFor(c.Id)
		switch c.Kind {
		case types.TransitionUp:
			t.root = t.insert(t.root, 0, leafKey, ValueHashFor(c.Value))
		case types.TransitionDown:
			t.root = t.insert(t.root, 0, leafKey, types.Hash32{})
		}
	}
	d := Diff{NewRoot: t.root}
	for h, n := range t.touched {
		d.Upserted = append(d.Upserted, store.StateTreeNode{
			ShardGroup: t.shard,
			Key:        h,
			Version:    t.version + 1,
			Value:      encodeNode(n),
		})
	}
	for h := range t.stale {
		if t.touched[h] != nil {
			continue
		}
		d.Stale = append(d.Stale, h)
	}
	return d
}

// Diff is the set of node-level changes one block's substate changes
// produced against a tree, ready to be persisted or discarded.
type Diff struct {
	NewRoot  types.Hash32
	Upserted []store.StateTreeNode
	Stale    [][32]byte
}

// Merge folds a run of previously pending diffs into a freshly loaded
// tree, one block at a time and in height order, advancing the tree's
// version once per diff. Callers invoke this at three-chain commit time
// against the diffs store.ReadTx.PendingStateTreeDiffsGet returned for
// heights up to and including the block being committed.
func Merge(tx store.ReadTx, shard types.ShardGroup, pending []store.PendingStateTreeDiff) (*Tree, Diff, error) {
	t, err := Load(tx, shard)
	if err != nil {
		return nil, Diff{}, err
	}
	var combined Diff
	for _, pd := range pending {
		d := t.ApplyChanges(pd.Changes)
		t.version++
		combined.NewRoot = d.NewRoot
		combined.Upserted = append(combined.Upserted, d.Upserted...)
		combined.Stale = append(combined.Stale, d.Stale...)
	}
	return t, combined, nil
}

func (t *Tree) newLeaf(key, value types.Hash32) types.Hash32 {
	n := &node{Kind: kindLeaf, Leaf: key, Value: value}
	h := n.hash()
	t.nodes[h] = n
	t.touched[h] = n
	return h
}

func (t *Tree) newInternal(left, right types.Hash32) types.Hash32 {
	n := &node{Kind: kindInternal, Left: left, Right: right}
	h := n.hash()
	t.nodes[h] = n
	t.touched[h] = n
	return h
}

func (t *Tree) insert(nodeHash types.Hash32, d int, leafKey, valueHash types.Hash32) types.Hash32 {
	newHash := t.insertInner(nodeHash, d, leafKey, valueHash)
	if newHash != nodeHash && nodeHash != placeholder[d] {
		t.stale[nodeHash] = true
	}
	return newHash
}

func (t *Tree) insertInner(nodeHash types.Hash32, d int, leafKey, valueHash types.Hash32) types.Hash32 {
	if nodeHash == placeholder[d] {
		if valueHash.IsZero() {
			return placeholder[d]
		}
		return t.newLeaf(leafKey, valueHash)
	}
	n := t.nodes[nodeHash]
	if n.Kind == kindLeaf {
		if n.Leaf == leafKey {
			if valueHash.IsZero() {
				return placeholder[d]
			}
			return t.newLeaf(leafKey, valueHash)
		}
		if valueHash.IsZero() {
			return nodeHash
		}
		return t.split(n, d, leafKey, valueHash)
	}
	newLeft, newRight := n.Left, n.Right
	if bitAt(leafKey, d) == 0 {
		newLeft = t.insert(n.Left, d+1, leafKey, valueHash)
	} else {
		newRight = t.insert(n.Right, d+1, leafKey, valueHash)
	}
	// A subtree left with one leaf or none after a delete collapses, so the
	// root matches the one inserting the remaining keys directly gives.
	switch {
	case newLeft == placeholder[d+1] && newRight == placeholder[d+1]:
		return placeholder[d]
	case newLeft == placeholder[d+1] && t.nodes[newRight] != nil && t.nodes[newRight].Kind == kindLeaf:
		return newRight
	case newRight == placeholder[d+1] && t.nodes[newLeft] != nil && t.nodes[newLeft].Kind == kindLeaf:
		return newLeft
	}
	return t.newInternal(newLeft, newRight)
}

// split pushes an existing compressed leaf down alongside a newly
// inserted key, materializing internal nodes only as far down as the two
// keys share a path.
func (t *Tree) split(existing *node, d int, leafKey, valueHash types.Hash32) types.Hash32 {
	existingBit := bitAt(existing.Leaf, d)
	newBit := bitAt(leafKey, d)
	if existingBit == newBit {
		child := t.split(existing, d+1, leafKey, valueHash)
		if existingBit == 0 {
			return t.newInternal(child, placeholder[d+1])
		}
		return t.newInternal(placeholder[d+1], child)
	}
	existingHash := t.newLeaf(existing.Leaf, existing.Value)
	newHash := t.newLeaf(leafKey, valueHash)
	if existingBit == 0 {
		return t.newInternal(existingHash, newHash)
	}
	return t.newInternal(newHash, existingHash)
}
