// Package store is the transactional state store: every consensus-model
// record in the system is read and written through it. It exposes two
// transaction kinds, Read (snapshot, concurrent) and Write (exclusive,
// serializable), and two backends that both satisfy the same Store
// interface: a Postgres backend for production and a cometbft-db backed
// in-memory backend for development and tests.
package store

import (
	"context"

	"github.com/shardfabric/dancore/pkg/types"
)

// Store opens Read and Write transactions. Implementations MUST guarantee
// that a Write transaction is exclusive (at most one open at a time) and
// serializable, and that a Read transaction sees a consistent snapshot
// that never observes another transaction's partial writes.
type Store interface {
	ReadTx(ctx context.Context) (ReadTx, error)
	WriteTx(ctx context.Context) (WriteTx, error)
	Close() error
}

// ReadTx is a snapshot transaction; it never mutates anything. Close
// releases what it holds: the in-memory backend's shared lock, which
// blocks every WriteTx until then, or the Postgres backend's open
// transaction.
type ReadTx interface {
	Close() error

	BlocksGet(id types.BlockId) (*types.Block, error)
	BlocksGetParent(id types.BlockId) (*types.Block, error)
	BlocksGetAllByParent(parent types.BlockId) ([]types.Block, error)
	BlocksExists(id types.BlockId) (bool, error)

	QuorumCertificatesGet(id types.Hash32) (*types.QuorumCertificate, error)
	QuorumCertificatesGetByBlockId(blockId types.BlockId) (*types.QuorumCertificate, error)

	TransactionsGet(id types.TransactionId) (*types.TransactionRecord, error)
	TransactionsExistsAll(ids []types.TransactionId) (bool, []types.TransactionId, error)

	TransactionPoolGet(id types.TransactionId) (*types.TransactionPoolRecord, error)
	TransactionPoolGetAllReady(sg types.ShardGroup, limit int) ([]types.TransactionPoolRecord, error)

	TransactionPoolStateUpdatesGetPending(blockId types.BlockId) ([]types.TransactionPoolStatusUpdate, error)

	SubstatesGet(address types.SubstateAddress, version uint32) (*types.SubstateRecord, error)
	SubstatesGetLatest(address types.SubstateAddress) (*types.SubstateRecord, error)

	SubstateLocksGetAllForSubstate(id types.SubstateId, version uint32) ([]types.SubstateLock, error)
	SubstateLocksGetAllForBlock(blockId types.BlockId) ([]types.SubstateLock, error)

	BlockDiffsGet(blockId types.BlockId) (*types.BlockDiff, error)

	VotesCountForBlock(blockId types.BlockId, decision types.Decision) (int, error)
	VotesGetSignatures(blockId types.BlockId, decision types.Decision) ([]types.ValidatorSignature, error)

	LeafBlockGet(sg types.ShardGroup) (*types.BlockPointer, error)
	LockedBlockGet(sg types.ShardGroup) (*types.BlockPointer, error)
	HighQCGet(sg types.ShardGroup) (*types.QuorumCertificate, error)
	LastVotedGet(sg types.ShardGroup) (*types.VotePointer, error)
	LastExecutedGet(sg types.ShardGroup) (*types.BlockPointer, error)
	LastProposedGet(sg types.ShardGroup) (*types.BlockPointer, error)
	LastSentVoteGet(sg types.ShardGroup) (*types.VotePointer, error)

	ForeignSendCounterGet(key types.ForeignCounterKey) (uint64, error)
	ForeignReceiveCounterGet(key types.ForeignCounterKey) (uint64, error)
	ForeignProposalsGetAll(sg types.ShardGroup, state types.ForeignProposalState) ([]types.ForeignProposal, error)

	MissingTransactionsGetForBlock(blockId types.BlockId) ([]types.TransactionId, error)
	ParkedBlocksGet(blockId types.BlockId) (*types.ParkedBlock, error)

	PendingStateTreeDiffsGet(sg types.ShardGroup, upToHeight types.NodeHeight) ([]PendingStateTreeDiff, error)
	StateTreeShardVersionGet(sg types.ShardGroup) (uint64, error)
	StateTreeRootGet(sg types.ShardGroup) (types.Hash32, error)
	StateTreeNodesGetAll(sg types.ShardGroup) ([]StateTreeNode, error)
	StateTransitionsGetSince(sg types.ShardGroup, sinceSeq uint64) ([]types.StateTransition, error)

	EpochCheckpointsGet(epoch types.Epoch) (*types.EpochCheckpoint, error)
}

// WriteTx is an exclusive, serializable transaction. Every mutation in the
// system flows through one. Callers MUST call either Commit or Rollback
// exactly once; an implementation that observes a WriteTx garbage
// collected without either MUST log it as "not committed/rolled back".
type WriteTx interface {
	ReadTx

	Commit() error
	Rollback() error

	BlocksInsert(b *types.Block) error
	BlocksSetCommitted(id types.BlockId) error
	BlocksSetProcessed(id types.BlockId) error

	QuorumCertificatesInsert(qc *types.QuorumCertificate) error

	TransactionsInsert(tx *types.TransactionRecord) error

	TransactionPoolAddPendingUpdate(u *types.TransactionPoolStatusUpdate) error
	TransactionPoolSetAllTransitions(lockedBlock, newLockedBlock types.BlockId, txIds []types.TransactionId) error
	TransactionPoolRemove(id types.TransactionId) error
	TransactionPoolRemoveAll(ids []types.TransactionId) error

	SubstatesInsert(s *types.SubstateRecord) error
	SubstatesDestroy(address types.SubstateAddress, version uint32, byTx types.TransactionId, byBlock types.BlockId, byJustify types.Hash32, height types.NodeHeight, epoch types.Epoch, shard types.ShardGroup) error

	SubstateLocksInsert(locks []types.SubstateLock) error
	SubstateLocksRemoveManyForTransactions(txIds []types.TransactionId) error
	SubstateLocksRemoveForBlock(blockId types.BlockId) error

	BlockDiffsInsert(diff *types.BlockDiff) error

	VotesInsert(blockId types.BlockId, decision types.Decision, sig types.ValidatorSignature) error

	LeafBlockSet(sg types.ShardGroup, p types.BlockPointer) error
	LockedBlockSet(sg types.ShardGroup, p types.BlockPointer) error
	HighQCSet(sg types.ShardGroup, qc types.QuorumCertificate) error
	LastVotedSet(sg types.ShardGroup, p types.VotePointer) error
	LastExecutedSet(sg types.ShardGroup, p types.BlockPointer) error
	LastProposedSet(sg types.ShardGroup, p types.BlockPointer) error
	LastSentVoteSet(sg types.ShardGroup, p types.VotePointer) error

	ForeignSendCounterSet(key types.ForeignCounterKey, seq uint64) error
	ForeignReceiveCounterSet(key types.ForeignCounterKey, seq uint64) error
	ForeignProposalsUpsert(fp *types.ForeignProposal) error
	ForeignProposalsDelete(sg types.ShardGroup, blockId types.BlockId) error

	MissingTransactionsInsert(blockId types.BlockId, txIds []types.TransactionId) error
	MissingTransactionsRemove(txId types.TransactionId) ([]types.BlockId, error)
	ParkedBlocksInsert(pb *types.ParkedBlock) error
	ParkedBlocksRemove(blockId types.BlockId) error

	PendingStateTreeDiffsInsert(d PendingStateTreeDiff) error
	PendingStateTreeDiffsDeleteUpTo(sg types.ShardGroup, height types.NodeHeight) error
	StateTreeShardVersionSet(sg types.ShardGroup, version uint64) error
	StateTreeRootSet(sg types.ShardGroup, root types.Hash32) error
	StateTreeNodesUpsert(nodes []StateTreeNode) error
	StateTreeNodesMarkStale(sg types.ShardGroup, keys [][32]byte) error
	StateTransitionsInsert(transitions []types.StateTransition) error

	EpochCheckpointsInsert(c *types.EpochCheckpoint) error
}

// PendingStateTreeDiff is a state-tree diff recorded against a block that
// has not yet been three-chain committed. It is merged into the durable
// tree, in height order, once the block commits.
type PendingStateTreeDiff struct {
	ShardGroup ShardGroupKey
	BlockId    types.BlockId
	Height     types.NodeHeight
	Changes    []types.SubstateChange
}

// ShardGroupKey is the comparable form of types.ShardGroup used as a map
// key by the in-memory backend.
type ShardGroupKey = types.ShardGroup

// StateTreeNode is one persisted node of the per-shard Jellyfish tree.
type StateTreeNode struct {
	ShardGroup types.ShardGroup
	Key        [32]byte
	Version    uint64
	Value      []byte
	IsStale    bool
}

// MaxChunkSize is the maximum number of rows a single bulk write groups
// together. Every bulk writer in this package splits larger batches into
// chunks of at most this size to stay under a single statement's
// parameter limit.
const MaxChunkSize = 1000

// Chunk splits ids into groups of at most MaxChunkSize so bulk writers
// never exceed a backend's per-statement variable limit.
func Chunk[T any](items []T) [][]T {
	if len(items) == 0 {
		return nil
	}
	var chunks [][]T
	for len(items) > 0 {
		n := MaxChunkSize
		if n > len(items) {
			n = len(items)
		}
		chunks = append(chunks, items[:n])
		items = items[n:]
	}
	return chunks
}
