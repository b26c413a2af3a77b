package hotstuff

import "github.com/shardfabric/dancore/pkg/types"

// poolStageFor maps a block command to the pool stage it moves its
// transaction to. CommandForeignProposal and CommandEndEpoch carry no
// transaction atom and never touch the pool.
func poolStageFor(kind types.CommandKind) (types.PoolStage, bool) {
	switch kind {
	case types.CommandPrepare:
		return types.StagePrepared, true
	case types.CommandLocalPrepare:
		return types.StageLocalPrepared, true
	case types.CommandAllPrepare:
		return types.StageAllPrepared, true
	case types.CommandSomePrepare:
		return types.StageSomePrepared, true
	case types.CommandLocalAccept:
		return types.StageLocalAccepted, true
	case types.CommandAllAccept:
		return types.StageAllAccepted, true
	case types.CommandSomeAccept:
		return types.StageSomeAccepted, true
	default:
		return "", false
	}
}

// isReadyStage reports whether reaching this stage means every shard a
// transaction touches has already weighed in, so the transaction is
// eligible to be carried in the next proposal step.
func isReadyStage(kind types.CommandKind) bool {
	switch kind {
	case types.CommandAllPrepare, types.CommandSomePrepare, types.CommandAllAccept, types.CommandSomeAccept:
		return true
	default:
		return false
	}
}

// collectTransactionIds gathers every transaction a block's commands
// touch, in command order.
func collectTransactionIds(b *types.Block) []types.TransactionId {
	var ids []types.TransactionId
	for _, cmd := range b.Commands {
		if cmd.Atom != nil {
			ids = append(ids, cmd.Atom.TransactionId)
		}
	}
	return ids
}

// nextCommandKind advances a transaction's current pool stage by exactly
// one step of the pipeline. Proposal construction always takes the
// single-shard "All" branch; a cross-shard "Some" outcome is something a
// higher coordination layer substitutes in when it disagrees, not
// something the proposer itself chooses.
func nextCommandKind(current types.PoolStage) (types.CommandKind, bool) {
	switch current {
	case types.StageNew:
		return types.CommandPrepare, true
	case types.StagePrepared:
		return types.CommandLocalPrepare, true
	case types.StageLocalPrepared:
		return types.CommandAllPrepare, true
	case types.StageAllPrepared, types.StageSomePrepared:
		return types.CommandLocalAccept, true
	case types.StageLocalAccepted:
		return types.CommandAllAccept, true
	default:
		return "", false
	}
}
