package txpool

import (
	"errors"

	"github.com/shardfabric/dancore/pkg/errs"
	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/types"
)

// ValidateTransition reports an error if moving from the current stage to
// next would move the transaction backward in the FSM. Stages sharing a
// rank (AllPrepared/SomePrepared, AllAccepted/SomeAccepted) are
// alternative outcomes of the same step and are both valid moves from
// whatever precedes them.
func ValidateTransition(current, next types.PoolStage) error {
	if next.Rank() < current.Rank() {
		return &InvalidTransitionError{From: string(current), To: string(next)}
	}
	return nil
}

// AddPendingUpdate records a transaction's proposed move to a new stage
// against the block that proposes it. The move is validated against the
// transaction's current stage (falling back to New for a transaction the
// pool has never seen) before it is written.
func AddPendingUpdate(tx store.WriteTx, blockId types.BlockId, height types.NodeHeight, txId types.TransactionId, next types.PoolStage, localDecision *types.Decision, evidence types.Evidence, isReady bool) error {
	current := types.StageNew
	if rec, err := tx.TransactionPoolGet(txId); err == nil {
		current = rec.Stage
	} else {
		var nf *errs.NotFoundError
		if !errors.As(err, &nf) {
			return err
		}
	}
	if err := ValidateTransition(current, next); err != nil {
		return err
	}
	return tx.TransactionPoolAddPendingUpdate(&types.TransactionPoolStatusUpdate{
		BlockId:       blockId,
		BlockHeight:   height,
		TransactionId: txId,
		Stage:         next,
		LocalDecision: localDecision,
		Evidence:      evidence,
		IsReady:       isReady,
	})
}

// PromoteOnCommit folds every pending update up to the new locked block's
// height into each named transaction's pool row, then removes any
// transaction that reached Complete — its pending-update history was
// already deleted by the promotion itself.
func PromoteOnCommit(tx store.WriteTx, lockedBlock, newLockedBlock types.BlockId, txIds []types.TransactionId) error {
	if err := tx.TransactionPoolSetAllTransitions(lockedBlock, newLockedBlock, txIds); err != nil {
		return err
	}
	var completed []types.TransactionId
	for _, id := range txIds {
		rec, err := tx.TransactionPoolGet(id)
		if err != nil {
			continue
		}
		if rec.Stage == types.StageComplete {
			completed = append(completed, id)
		}
	}
	if len(completed) == 0 {
		return nil
	}
	return tx.TransactionPoolRemoveAll(completed)
}

// IsReadyForProposal reports whether a pool record is eligible for the
// next block proposal: locally prepared or further, not yet complete,
// and within its validity window at the given epoch.
func IsReadyForProposal(rec *types.TransactionPoolRecord, epoch types.Epoch) bool {
	if !rec.IsReady {
		return false
	}
	if rec.Stage.Rank() < types.StageLocalPrepared.Rank() || rec.Stage == types.StageComplete {
		return false
	}
	return rec.EligibleAtEpoch(epoch)
}
