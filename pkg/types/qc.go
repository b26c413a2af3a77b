package types

// Decision is the outcome a committee reaches for one transaction or block.
type Decision string

const (
	DecisionCommit Decision = "Commit"
	DecisionAbort  Decision = "Abort"
)

// ValidatorSignature pairs a signer with its signature over a QC message.
type ValidatorSignature struct {
	PublicKey PublicKey
	Sig       []byte
}

// QuorumCertificate is a signed aggregate proving a super-majority of a
// committee voted the same decision on a block.
type QuorumCertificate struct {
	Id          Hash32
	BlockId     Hash32
	BlockHeight NodeHeight
	Epoch       Epoch
	ShardGroup  ShardGroup
	Decision    Decision
	Signatures  []ValidatorSignature
}

// ZeroQC is the QC a genesis block is justified by: no block, no
// signatures. Height comparisons against a zero QC are always skipped.
func ZeroQC(epoch Epoch, sg ShardGroup) QuorumCertificate {
	return QuorumCertificate{
		Id:         ZeroHash32,
		BlockId:    ZeroHash32,
		Epoch:      epoch,
		ShardGroup: sg,
		Decision:   DecisionCommit,
	}
}

// IsZero reports whether q is a zero QC (the justify of a genesis block).
func (q QuorumCertificate) IsZero() bool {
	return q.BlockId.IsZero()
}

// CalculateId recomputes the QC's content-addressed id. Callers must never
// trust an id carried on the wire; they recompute it and compare.
func (q QuorumCertificate) CalculateId() Hash32 {
	if q.IsZero() {
		return ZeroHash32
	}
	enc := NewHashEncoder().
		Bytes(q.BlockId[:]).
		Uint64(uint64(q.BlockHeight)).
		Uint64(uint64(q.Epoch)).
		Uint64(uint64(q.ShardGroup.Start)).
		Uint64(uint64(q.ShardGroup.End)).
		String(string(q.Decision))
	for _, sig := range q.Signatures {
		enc = enc.Bytes(sig.PublicKey).Bytes(sig.Sig)
	}
	return enc.Finalize()
}

// HeightEpoch returns the (height, epoch) pair the QC justifies, used to
// compare against the monotone single-row pointers.
func (q QuorumCertificate) HeightEpoch() HeightEpoch {
	return HeightEpoch{Height: q.BlockHeight, Epoch: q.Epoch}
}

// QuorumThreshold computes 2f+1 for a committee of the given size, the
// minimum number of signatures a valid QC over that committee must carry.
func QuorumThreshold(committeeSize int) int {
	if committeeSize == 0 {
		return 0
	}
	f := (committeeSize - 1) / 3
	return 2*f + 1
}

// CreateVoteMessage builds the byte sequence a validator signs to vote for
// a block: the leaf hash, the block id being voted on and the decision.
// SignatureService implementations sign and verify exactly this sequence.
func CreateVoteMessage(leafHash, blockId Hash32, decision Decision) []byte {
	return NewHashEncoder().
		Bytes(leafHash[:]).
		Bytes(blockId[:]).
		String(string(decision)).
		Finalize().
		Bytes()
}
