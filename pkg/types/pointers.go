package types

// BlockPointer is a single-row scalar pointer into the block chain of one
// shard group: LeafBlock, LockedBlock, LastExecuted and LastProposed all
// take this shape. A pointer only ever advances to a strictly higher
// (height, epoch) pair; callers must check HeightEpoch().Less before
// replacing one.
type BlockPointer struct {
	BlockId BlockId
	Height  NodeHeight
	Epoch   Epoch
}

// HeightEpoch returns the pair used to order pointer replacement.
func (p BlockPointer) HeightEpoch() HeightEpoch {
	return HeightEpoch{Height: p.Height, Epoch: p.Epoch}
}

// FromBlock builds a pointer at the block's own position.
func BlockPointerFromBlock(b *Block) BlockPointer {
	return BlockPointer{BlockId: b.Id, Height: b.Height, Epoch: b.Epoch}
}

// VotePointer is LastVoted/LastSentVote: the last block this node cast a
// vote for, so a restart never double-votes at the same or lower height.
type VotePointer struct {
	BlockId BlockId
	Height  NodeHeight
	Epoch   Epoch
}

func (p VotePointer) HeightEpoch() HeightEpoch {
	return HeightEpoch{Height: p.Height, Epoch: p.Epoch}
}

// HighQCPointer is the highest-height QC this node has observed for a
// shard group. It only ever advances.
type HighQCPointer struct {
	QC QuorumCertificate
}

func (p HighQCPointer) HeightEpoch() HeightEpoch {
	return p.QC.HeightEpoch()
}
