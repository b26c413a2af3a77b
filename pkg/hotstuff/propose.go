package hotstuff

import (
	"context"
	"errors"
	"fmt"

	"github.com/shardfabric/dancore/pkg/errs"
	"github.com/shardfabric/dancore/pkg/ports"
	"github.com/shardfabric/dancore/pkg/statetree"
	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/substate"
	"github.com/shardfabric/dancore/pkg/types"
)

// MaxProposalTransactions bounds how many ready transactions a single
// proposal carries, keeping one block's execution and encoding cost
// bounded regardless of how deep the pool has backed up.
const MaxProposalTransactions = 500

// NotLeaderError reports that this node tried to propose at a height it
// does not lead.
type NotLeaderError struct {
	Height types.NodeHeight
	Leader string
}

func (e *NotLeaderError) Error() string {
	return fmt.Sprintf("hotstuff: not leader at height %d (leader is %s)", e.Height, e.Leader)
}

// Propose builds and persists the next block for height on top of parent,
// if and only if this node is that height's leader. The block speculates
// on top of parent's state: its commands advance every ready transaction
// one pool step, and its MerkleRoot previews the state tree as it would
// look once the block's diff eventually commits.
func (d *Driver) Propose(ctx context.Context, tx store.WriteTx, epoch types.Epoch, height types.NodeHeight, parent *types.Block) (*types.Block, error) {
	committee, err := d.Epochs.CommitteeForShardGroup(ctx, epoch, d.ShardGroup)
	if err != nil {
		return nil, err
	}
	leader := d.Leaders.GetLeader(committee, height)
	if !leader.Equal(d.Sigs.PublicKey()) {
		return nil, &NotLeaderError{Height: height, Leader: leader.Hex()}
	}

	ready, err := tx.TransactionPoolGetAllReady(d.ShardGroup, MaxProposalTransactions)
	if err != nil {
		return nil, err
	}

	var commands []types.Command
	var changes []types.SubstateChange
	var included []*types.TransactionRecord
	claimedOutputs := make(map[types.SubstateAddress]bool)
	for i := range ready {
		rec := &ready[i]
		kind, ok := nextCommandKind(rec.Stage)
		if !ok {
			continue
		}

		txRecord, err := tx.TransactionsGet(rec.TransactionId)
		if err != nil {
			d.Log.Printf("hotstuff: lookup %s failed: %v", rec.TransactionId.String(), err)
			continue
		}
		// A block that proposes advancing T must be able to lock all of
		// T's resolved inputs and resulting outputs; a transaction whose
		// addresses are already locked by a different in-flight block
		// sits out this round rather than blocking the whole proposal.
		if err := substate.CheckAvailability(tx, txRecord); err != nil {
			d.Log.Printf("hotstuff: skip %s, locks unavailable: %v", rec.TransactionId.String(), err)
			continue
		}
		// CheckAvailability only sees stored locks; an output another
		// transaction in this proposal already claims is checked here.
		clash := false
		for _, addr := range txRecord.ResultingOutputs {
			clash = clash || claimedOutputs[addr]
		}
		if clash {
			d.Log.Printf("hotstuff: skip %s, output already claimed in this proposal", rec.TransactionId.String())
			continue
		}

		atom := &types.TransactionAtom{
			TransactionId: rec.TransactionId,
			Decision:      rec.FinalDecision(),
			Evidence:      rec.Evidence,
		}

		if kind == types.CommandLocalPrepare || kind == types.CommandLocalAccept {
			result, err := d.execute(ctx, tx, txRecord)
			if err != nil {
				d.Log.Printf("hotstuff: execute %s failed: %v", rec.TransactionId.String(), err)
				continue
			}
			atom.Decision = result.Decision
			atom.TransactionFee = result.Fee
			changes = append(changes, result.ResultingOutputs...)
		}

		commands = append(commands, types.Command{Kind: kind, Atom: atom})
		included = append(included, txRecord)
		for _, addr := range txRecord.ResultingOutputs {
			claimedOutputs[addr] = true
		}
	}

	highQC, err := tx.HighQCGet(d.ShardGroup)
	if err != nil {
		var nf *errs.NotFoundError
		if !errors.As(err, &nf) {
			return nil, err
		}
		zero := types.ZeroQC(epoch, d.ShardGroup)
		highQC = &zero
	}

	baseHash, err := d.Epochs.BaseLayerBlockHash(ctx, epoch)
	if err != nil {
		return nil, err
	}

	block := &types.Block{
		ParentId:           parent.Id,
		Justify:            *highQC,
		Height:             height,
		Epoch:              epoch,
		ShardGroup:         d.ShardGroup,
		ProposedBy:         d.Sigs.PublicKey(),
		Commands:           commands,
		Network:            d.Network,
		BaseLayerBlockHash: baseHash,
	}

	tree, err := statetree.Load(tx, d.ShardGroup)
	if err != nil {
		return nil, err
	}
	preview := tree.ApplyChanges(changes)
	block.MerkleRoot = preview.NewRoot

	block.Id = block.CalculateHash()
	sig, err := d.Sigs.Sign(ctx, block.Id[:])
	if err != nil {
		return nil, err
	}
	block.Signature = sig

	// Only now does a real block id exist to tie a lock to. Availability
	// was already checked above under the same write transaction, which
	// is exclusive, and against the outputs of the transactions already
	// included, so this does not itself report a conflict.
	for _, txRecord := range included {
		if _, err := substate.AcquireForTransaction(tx, block.Id, txRecord); err != nil {
			return nil, fmt.Errorf("hotstuff: acquire locks for %s: %w", txRecord.Id.String(), err)
		}
	}

	if len(changes) > 0 {
		if err := tx.BlockDiffsInsert(&types.BlockDiff{BlockId: block.Id, Changes: changes}); err != nil {
			return nil, err
		}
	}
	if err := tx.BlocksInsert(block); err != nil {
		return nil, err
	}
	if err := tx.LastProposedSet(d.ShardGroup, types.BlockPointerFromBlock(block)); err != nil {
		return nil, err
	}

	if d.Outbound != nil {
		for _, member := range committee.Members {
			if member.Equal(d.Sigs.PublicKey()) {
				continue
			}
			if err := d.Outbound.SendProposal(ctx, epoch, member, *block); err != nil {
				d.Log.Printf("hotstuff: send proposal to %s failed: %v", member.Hex(), err)
			}
		}
	}

	return block, nil
}

func (d *Driver) execute(ctx context.Context, tx store.ReadTx, txRecord *types.TransactionRecord) (ports.ExecuteResult, error) {
	resolved := make([]types.SubstateRecord, 0, len(txRecord.ResolvedInputs))
	for _, addr := range txRecord.ResolvedInputs {
		s, err := tx.SubstatesGetLatest(addr)
		if err != nil {
			continue
		}
		resolved = append(resolved, *s)
	}
	return d.Executor.Execute(ctx, *txRecord, resolved)
}
