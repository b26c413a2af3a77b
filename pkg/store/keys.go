package store

import (
	"encoding/binary"

	"github.com/shardfabric/dancore/pkg/types"
)

// Key layout for the cometbft-db backed store. Every record is namespaced
// by a short string prefix followed by its natural key, following
// pkg/ledger/store.go's "prefix + big-endian height" convention.

func keyBlock(id types.BlockId) []byte {
	return append([]byte("block:"), id[:]...)
}

func keyBlockChildren(parent types.BlockId) []byte {
	return append([]byte("block_children:"), parent[:]...)
}

func keyQC(id types.Hash32) []byte {
	return append([]byte("qc:"), id[:]...)
}

func keyQCByBlock(blockId types.BlockId) []byte {
	return append([]byte("qc_by_block:"), blockId[:]...)
}

func keyTransaction(id types.TransactionId) []byte {
	return append([]byte("tx:"), id[:]...)
}

func keyPoolRecord(id types.TransactionId) []byte {
	return append([]byte("pool:"), id[:]...)
}

// keyPoolReadyIndex is not shard-scoped: a store instance backs exactly
// one local shard group's pipeline, so there is only ever one ready
// queue to maintain.
func keyPoolReadyIndex() []byte {
	return []byte("pool_ready")
}

func keyPoolUpdates(blockId types.BlockId) []byte {
	return append([]byte("pool_updates:"), blockId[:]...)
}

func keySubstate(address types.SubstateAddress, version uint32) []byte {
	b := append([]byte("substate:"), address[:]...)
	return binary.BigEndian.AppendUint32(b, version)
}

func keySubstateLatestVersion(address types.SubstateAddress) []byte {
	return append([]byte("substate_latest:"), address[:]...)
}

func keyLocksBySubstate(id types.SubstateId, version uint32) []byte {
	b := append([]byte("locks_by_substate:"), []byte(id)...)
	return binary.BigEndian.AppendUint32(b, version)
}

func keyLocksByBlock(blockId types.BlockId) []byte {
	return append([]byte("locks_by_block:"), blockId[:]...)
}

func keyBlockDiff(blockId types.BlockId) []byte {
	return append([]byte("block_diff:"), blockId[:]...)
}

func keyVotes(blockId types.BlockId, decision types.Decision) []byte {
	return append(append([]byte("votes:"), blockId[:]...), []byte(":"+string(decision))...)
}

func shardKey(prefix string, sg types.ShardGroup) []byte {
	b := []byte(prefix)
	b = binary.BigEndian.AppendUint32(b, sg.Start)
	b = binary.BigEndian.AppendUint32(b, sg.End)
	return b
}

func keyLeafBlock(sg types.ShardGroup) []byte      { return shardKey("leaf_block:", sg) }
func keyLockedBlock(sg types.ShardGroup) []byte    { return shardKey("locked_block:", sg) }
func keyHighQC(sg types.ShardGroup) []byte         { return shardKey("high_qc:", sg) }
func keyLastVoted(sg types.ShardGroup) []byte      { return shardKey("last_voted:", sg) }
func keyLastExecuted(sg types.ShardGroup) []byte   { return shardKey("last_executed:", sg) }
func keyLastProposed(sg types.ShardGroup) []byte   { return shardKey("last_proposed:", sg) }
func keyLastSentVote(sg types.ShardGroup) []byte   { return shardKey("last_sent_vote:", sg) }
func keyStateTreeVersion(sg types.ShardGroup) []byte {
	return shardKey("state_tree_version:", sg)
}

func keyStateTreeRoot(sg types.ShardGroup) []byte {
	return shardKey("state_tree_root:", sg)
}

func keyForeignCounter(prefix string, k types.ForeignCounterKey) []byte {
	b := []byte(prefix)
	b = binary.BigEndian.AppendUint64(b, uint64(k.Epoch))
	b = binary.BigEndian.AppendUint32(b, k.FromShard.Start)
	b = binary.BigEndian.AppendUint32(b, k.FromShard.End)
	b = binary.BigEndian.AppendUint32(b, k.ToShard.Start)
	b = binary.BigEndian.AppendUint32(b, k.ToShard.End)
	return b
}

func keyForeignSendCounter(k types.ForeignCounterKey) []byte {
	return keyForeignCounter("foreign_send:", k)
}

func keyForeignReceiveCounter(k types.ForeignCounterKey) []byte {
	return keyForeignCounter("foreign_recv:", k)
}

func keyForeignProposal(sg types.ShardGroup, blockId types.BlockId) []byte {
	b := shardKey("foreign_proposal:", sg)
	return append(b, blockId[:]...)
}

func keyForeignProposalIndex(sg types.ShardGroup, state types.ForeignProposalState) []byte {
	b := shardKey("foreign_proposal_idx:", sg)
	return append(b, []byte(":"+string(state))...)
}

func keyMissingForBlock(blockId types.BlockId) []byte {
	return append([]byte("missing_by_block:"), blockId[:]...)
}

func keyMissingByTx(txId types.TransactionId) []byte {
	return append([]byte("missing_by_tx:"), txId[:]...)
}

func keyParkedBlock(blockId types.BlockId) []byte {
	return append([]byte("parked:"), blockId[:]...)
}

func keyPendingDiffs(sg types.ShardGroup) []byte {
	return shardKey("pending_diffs:", sg)
}

func keyStateTreeNode(sg types.ShardGroup, nodeKey [32]byte) []byte {
	b := shardKey("state_tree_node:", sg)
	return append(b, nodeKey[:]...)
}

func keyStateTreeNodeIndex(sg types.ShardGroup) []byte {
	return shardKey("state_tree_node_idx:", sg)
}

func keyStateTransitions(sg types.ShardGroup) []byte {
	return shardKey("state_transitions:", sg)
}

func keyEpochCheckpoint(epoch types.Epoch) []byte {
	return binary.BigEndian.AppendUint64([]byte("epoch_checkpoint:"), uint64(epoch))
}
