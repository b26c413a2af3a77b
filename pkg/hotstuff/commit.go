package hotstuff

import (
	"context"
	"errors"

	"github.com/shardfabric/dancore/pkg/errs"
	"github.com/shardfabric/dancore/pkg/statetree"
	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/substate"
	"github.com/shardfabric/dancore/pkg/txpool"
	"github.com/shardfabric/dancore/pkg/types"
)

// tryCommit applies HotStuff's three-chain rule against the ancestry of a
// newly admitted block b: walking b -> b1 -> b2 -> b3 through each
// block's Justify pointer, three consecutive heights (b3, b2, b1 each
// exactly one below the next) mean b2 is safe to lock and b3 is safe to
// commit. A shorter or broken chain means neither has happened yet.
func (d *Driver) tryCommit(ctx context.Context, tx store.WriteTx, b *types.Block) error {
	b1, ok := d.ancestor(tx, b.Justify.BlockId)
	if !ok {
		return nil
	}
	b2, ok := d.ancestor(tx, b1.Justify.BlockId)
	if !ok {
		return nil
	}
	b3, ok := d.ancestor(tx, b2.Justify.BlockId)
	if !ok {
		return nil
	}
	if b.Height != b1.Height+1 || b1.Height != b2.Height+1 || b2.Height != b3.Height+1 {
		return nil
	}

	oldLocked, err := tx.LockedBlockGet(d.ShardGroup)
	if err != nil {
		var nf *errs.NotFoundError
		if !errors.As(err, &nf) {
			return err
		}
		oldLocked = &types.BlockPointer{}
	}
	if err := tx.LockedBlockSet(d.ShardGroup, types.BlockPointerFromBlock(b2)); err != nil {
		return err
	}

	return d.commitBlock(ctx, tx, oldLocked.BlockId, b2.Id, b3)
}

func (d *Driver) ancestor(tx store.ReadTx, id types.BlockId) (*types.Block, bool) {
	blk, err := tx.BlocksGet(id)
	if err != nil {
		return nil, false
	}
	return blk, true
}

// commitBlock finalizes block: it merges the block's state diff into the
// durable tree, writes the substate and state-transition records, frees
// its substate locks, promotes the pool records the newly locked block's
// commands touched and marks the block committed. Committing the same block twice is a no-op.
// newLockedBlock is the block the three-chain rule just locked (b2), not
// block itself (b3) — pool-stage promotion walks the chain between the
// previous locked block and the new one, which is only ever the single
// step the lock pointer actually advanced by.
func (d *Driver) commitBlock(ctx context.Context, tx store.WriteTx, previousLocked, newLockedBlock types.BlockId, block *types.Block) error {
	fresh, err := tx.BlocksGet(block.Id)
	if err != nil {
		return err
	}
	if fresh.IsCommitted {
		return nil
	}

	diff, err := tx.BlockDiffsGet(block.Id)
	if err != nil {
		var nf *errs.NotFoundError
		if !errors.As(err, &nf) {
			return err
		}
		diff = &types.BlockDiff{BlockId: block.Id}
	}

	if len(diff.Changes) > 0 {
		if err := tx.PendingStateTreeDiffsInsert(store.PendingStateTreeDiff{
			ShardGroup: d.ShardGroup,
			BlockId:    block.Id,
			Height:     block.Height,
			Changes:    diff.Changes,
		}); err != nil {
			return err
		}
	}

	pending, err := tx.PendingStateTreeDiffsGet(d.ShardGroup, block.Height)
	if err != nil {
		return err
	}
	tree, combined, err := statetree.Merge(tx, d.ShardGroup, pending)
	if err != nil {
		return err
	}
	if len(combined.Upserted) > 0 {
		if err := tx.StateTreeNodesUpsert(combined.Upserted); err != nil {
			return err
		}
	}
	if len(combined.Stale) > 0 {
		if err := tx.StateTreeNodesMarkStale(d.ShardGroup, combined.Stale); err != nil {
			return err
		}
	}
	if err := tx.StateTreeRootSet(d.ShardGroup, combined.NewRoot); err != nil {
		return err
	}
	if err := tx.StateTreeShardVersionSet(d.ShardGroup, tree.Version()); err != nil {
		return err
	}
	if err := tx.PendingStateTreeDiffsDeleteUpTo(d.ShardGroup, block.Height); err != nil {
		return err
	}

	if len(diff.Changes) > 0 {
		if err := substate.ApplyBlockDiff(tx, block.Id, block.Justify.BlockId, block.Height, block.Epoch, tree.Version(), diff); err != nil {
			return err
		}
	}

	lockedBlk, err := tx.BlocksGet(newLockedBlock)
	if err != nil {
		return err
	}
	txIds := collectTransactionIds(lockedBlk)
	if len(txIds) > 0 {
		if err := txpool.PromoteOnCommit(tx, previousLocked, newLockedBlock, txIds); err != nil {
			return err
		}
	}

	if err := tx.SubstateLocksRemoveForBlock(block.Id); err != nil {
		return err
	}
	if err := tx.LastExecutedSet(d.ShardGroup, types.BlockPointerFromBlock(block)); err != nil {
		return err
	}
	return tx.BlocksSetCommitted(block.Id)
}
