package types

// ForeignProposalState tracks a foreign shard group's block as it moves
// through local bookkeeping.
type ForeignProposalState string

const (
	ForeignProposalNew           ForeignProposalState = "New"
	ForeignProposalProposed      ForeignProposalState = "Proposed"
	ForeignProposalDeletePending ForeignProposalState = "DeletePending"
)

// ForeignProposal is a compressed record of another shard group's block,
// carried in a Command so local consensus can order cross-shard effects.
type ForeignProposal struct {
	ShardGroup ShardGroup
	BlockId    BlockId
	BlockHeight NodeHeight
	Epoch      Epoch
	State      ForeignProposalState
	Transactions []TransactionId
}

// ParkedBlock is a fully received block held back because one or more
// referenced transactions are not yet known locally.
type ParkedBlock struct {
	Block               Block
	MissingTransactions []TransactionId
}

// EpochCheckpoint is the epoch-boundary commit witness: the final commit
// block together with the QCs and per-shard state roots that justify it.
type EpochCheckpoint struct {
	Epoch       Epoch
	CommitBlock BlockId
	QCs         []QuorumCertificate
	ShardRoots  map[ShardGroup]Hash32
}

// ForeignCounterKey identifies an ordered channel between two shard
// groups for send/receive sequence tracking.
type ForeignCounterKey struct {
	Epoch      Epoch
	FromShard  ShardGroup
	ToShard    ShardGroup
}
