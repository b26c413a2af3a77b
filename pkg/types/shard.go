package types

import "fmt"

// Epoch is a membership interval: committees are constant within an epoch.
type Epoch uint64

// NodeHeight is a block height within a shard group's chain.
type NodeHeight uint64

// PublicKey identifies a validator. Validators are identified by their
// public-key bytes everywhere in the core; no separate numeric id exists.
type PublicKey []byte

// Hex returns the canonical hex form of the public key.
func (p PublicKey) Hex() string { return fmt.Sprintf("%x", []byte(p)) }

func (p PublicKey) Equal(o PublicKey) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// ShardGroup is a partition of the 32-bit shard-key space owned by one
// committee within an epoch. Start is inclusive, End is exclusive.
type ShardGroup struct {
	Start uint32
	End   uint32
}

// Contains reports whether a shard key falls within this group.
func (g ShardGroup) Contains(shardKey uint32) bool {
	return shardKey >= g.Start && shardKey < g.End
}

// String renders the group as "[start,end)".
func (g ShardGroup) String() string {
	return fmt.Sprintf("[%d,%d)", g.Start, g.End)
}

// Committee is the set of validators responsible for one shard group in
// one epoch. Membership is constant for the lifetime of the epoch.
type Committee struct {
	ShardGroup ShardGroup
	Epoch      Epoch
	Members    []PublicKey
}

// QuorumThreshold returns the minimum number of signatures a QC for this
// committee needs: the standard BFT super-majority, 2f+1 out of 3f+1.
func (c Committee) QuorumThreshold() int {
	n := len(c.Members)
	if n == 0 {
		return 0
	}
	f := (n - 1) / 3
	return 2*f + 1
}

// Contains reports whether pk is a member of the committee.
func (c Committee) Contains(pk PublicKey) bool {
	for _, m := range c.Members {
		if m.Equal(pk) {
			return true
		}
	}
	return false
}

// HeightEpoch is the (height, epoch) pair used to order the single-row
// scalar pointers (LeafBlock, LockedBlock, LastVoted, ...): a pointer is
// only ever replaced by a strictly higher pair.
type HeightEpoch struct {
	Height NodeHeight
	Epoch  Epoch
}

// Less reports whether h strictly precedes o: first by epoch, then by
// height within the epoch.
func (h HeightEpoch) Less(o HeightEpoch) bool {
	if h.Epoch != o.Epoch {
		return h.Epoch < o.Epoch
	}
	return h.Height < o.Height
}
