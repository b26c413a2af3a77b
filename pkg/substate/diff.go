package substate

import (
	"fmt"

	"github.com/shardfabric/dancore/pkg/statetree"
	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/types"
)

// ApplyBlockDiff writes a committed block's substate changes into the
// durable substates table: UPs insert a new versioned row, DOWNs mark the
// existing row destroyed. Every change also appends a monotone
// state_transitions entry for the shard, stamped with the state tree
// version the change landed at.
func ApplyBlockDiff(tx store.WriteTx, blockId types.BlockId, justify types.Hash32, height types.NodeHeight, epoch types.Epoch, treeVersion uint64, diff *types.BlockDiff) error {
	if len(diff.Changes) == 0 {
		return nil
	}
	shard := diff.Changes[0].ShardGroup
	seq, err := nextSeq(tx, shard)
	if err != nil {
		return err
	}

	transitions := make([]types.StateTransition, 0, len(diff.Changes))
	for _, chunk := range store.Chunk(diff.Changes) {
		for _, c := range chunk {
			switch c.Kind {
			case types.TransitionUp:
				rec := &types.SubstateRecord{
					Address:              c.Address,
					Id:                   c.Id,
					Version:              c.Version,
					Value:                c.Value,
					StateHash:            statetree.ValueHashFor(c.Value),
					CreatedByTransaction: c.TransactionId,
					CreatedByJustify:     justify,
					CreatedByBlock:       blockId,
					CreatedAtHeight:      height,
					CreatedAtEpoch:       epoch,
					CreatedByShard:       c.ShardGroup,
				}
				if err := tx.SubstatesInsert(rec); err != nil {
					return fmt.Errorf("substate: apply up %s@%d: %w", c.Id, c.Version, err)
				}
			case types.TransitionDown:
				if err := tx.SubstatesDestroy(c.Address, c.Version, c.TransactionId, blockId, justify, height, epoch, c.ShardGroup); err != nil {
					return fmt.Errorf("substate: apply down %s@%d: %w", c.Id, c.Version, err)
				}
			default:
				return fmt.Errorf("substate: unknown transition kind %q", c.Kind)
			}
			transitions = append(transitions, types.StateTransition{
				Seq:          seq,
				ShardGroup:   c.ShardGroup,
				Epoch:        epoch,
				Address:      c.Address,
				Version:      c.Version,
				Kind:         c.Kind,
				StateVersion: treeVersion,
			})
			seq++
		}
	}
	return tx.StateTransitionsInsert(transitions)
}

func nextSeq(tx store.ReadTx, shard types.ShardGroup) (uint64, error) {
	existing, err := tx.StateTransitionsGetSince(shard, 0)
	if err != nil {
		return 0, err
	}
	var max uint64
	for _, t := range existing {
		if t.Seq > max {
			max = t.Seq
		}
	}
	return max + 1, nil
}
