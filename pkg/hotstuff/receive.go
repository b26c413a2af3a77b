package hotstuff

import (
	"context"
	"errors"

	"github.com/shardfabric/dancore/pkg/errs"
	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/substate"
	"github.com/shardfabric/dancore/pkg/txpool"
	"github.com/shardfabric/dancore/pkg/types"
	"github.com/shardfabric/dancore/pkg/validation"
)

// OnReceiveProposal admits a candidate block into the pipeline: validates
// it, parks it if it references transactions this node hasn't seen yet,
// otherwise persists it, folds its commands into the pool, advances the
// HighQC pointer, casts this node's vote and attempts the three-chain
// commit rule against the new block's ancestry.
func (d *Driver) OnReceiveProposal(ctx context.Context, tx store.WriteTx, block *types.Block) error {
	if err := validation.ValidateBlock(ctx, tx, d.Epochs, d.Leaders, d.Sigs, d.Network, block); err != nil {
		return err
	}

	txIds := collectTransactionIds(block)
	if len(txIds) > 0 {
		allKnown, missing, err := tx.TransactionsExistsAll(txIds)
		if err != nil {
			return err
		}
		if !allKnown {
			if err := tx.MissingTransactionsInsert(block.Id, missing); err != nil {
				return err
			}
			return tx.ParkedBlocksInsert(&types.ParkedBlock{Block: *block, MissingTransactions: missing})
		}
	}

	if err := tx.BlocksInsert(block); err != nil {
		return err
	}

	for _, cmd := range block.Commands {
		if cmd.Kind == types.CommandForeignProposal {
			if cmd.ForeignProposal != nil {
				if err := tx.ForeignProposalsUpsert(cmd.ForeignProposal); err != nil {
					return err
				}
			}
			continue
		}
		stage, ok := poolStageFor(cmd.Kind)
		if !ok || cmd.Atom == nil {
			continue
		}
		txRecord, err := tx.TransactionsGet(cmd.Atom.TransactionId)
		if err != nil {
			return err
		}
		// Admitting this block is this node's own commitment to T
		// advancing, so it must hold the same locks the proposer
		// committed to acquiring. A conflict here means the block is
		// unsafe regardless of what validation.ValidateBlock already
		// checked, and admission must fail rather than silently drop
		// the command.
		if _, err := substate.AcquireForTransaction(tx, block.Id, txRecord); err != nil {
			return err
		}
		if err := txpool.AddPendingUpdate(tx, block.Id, block.Height, cmd.Atom.TransactionId, stage, &cmd.Atom.Decision, cmd.Atom.Evidence, isReadyStage(cmd.Kind)); err != nil {
			return err
		}
	}

	if err := d.advanceHighQC(tx, &block.Justify); err != nil {
		return err
	}
	if err := tx.LeafBlockSet(d.ShardGroup, types.BlockPointerFromBlock(block)); err != nil {
		return err
	}

	if err := d.vote(ctx, tx, block); err != nil {
		d.Log.Printf("hotstuff: vote on block %s failed: %v", block.Id.String(), err)
	}

	return d.tryCommit(ctx, tx, block)
}

// vote casts this validator's signature over block and forwards it to the
// leader of the following height. When that leader is this node, the vote
// is also recorded locally, since no transport delivers it back.
func (d *Driver) vote(ctx context.Context, tx store.WriteTx, block *types.Block) error {
	msg := types.CreateVoteMessage(block.Id, block.Id, types.DecisionCommit)
	sig, err := d.Sigs.Sign(ctx, msg)
	if err != nil {
		return err
	}
	vs := types.ValidatorSignature{PublicKey: d.Sigs.PublicKey(), Sig: sig}

	committee, err := d.Epochs.CommitteeForShardGroup(ctx, block.Epoch, d.ShardGroup)
	if err != nil {
		return err
	}
	nextLeader := d.Leaders.GetLeader(committee, block.Height+1)

	vp := types.VotePointer{BlockId: block.Id, Height: block.Height, Epoch: block.Epoch}
	if err := tx.LastVotedSet(d.ShardGroup, vp); err != nil {
		return err
	}
	if err := tx.LastSentVoteSet(d.ShardGroup, vp); err != nil {
		return err
	}
	if nextLeader.Equal(d.Sigs.PublicKey()) {
		if err := tx.VotesInsert(block.Id, types.DecisionCommit, vs); err != nil {
			return err
		}
	}

	if d.Outbound == nil {
		return nil
	}
	return d.Outbound.SendVote(ctx, block.Epoch, nextLeader, block.Justify, vs, block.Id)
}

// OnReceiveVote records an incoming vote and, once it completes a quorum,
// assembles the certificate, advances HighQC and schedules this node's
// next proposal attempt.
func (d *Driver) OnReceiveVote(ctx context.Context, tx store.WriteTx, blockId types.BlockId, decision types.Decision, sig types.ValidatorSignature) error {
	if err := tx.VotesInsert(blockId, decision, sig); err != nil {
		return err
	}

	block, err := tx.BlocksGet(blockId)
	if err != nil {
		return err
	}
	committee, err := d.Epochs.CommitteeForShardGroup(ctx, block.Epoch, d.ShardGroup)
	if err != nil {
		return err
	}
	count, err := tx.VotesCountForBlock(blockId, decision)
	if err != nil {
		return err
	}
	if count < committee.QuorumThreshold() {
		return nil
	}

	sigs, err := tx.VotesGetSignatures(blockId, decision)
	if err != nil {
		return err
	}
	qc := types.QuorumCertificate{
		BlockId:     blockId,
		BlockHeight: block.Height,
		Epoch:       block.Epoch,
		ShardGroup:  d.ShardGroup,
		Decision:    decision,
		Signatures:  sigs,
	}
	qc.Id = qc.CalculateId()
	if err := tx.QuorumCertificatesInsert(&qc); err != nil {
		return err
	}
	if err := d.advanceHighQC(tx, &qc); err != nil {
		return err
	}

	d.OnBeat()
	return nil
}

// advanceHighQC replaces the shard's HighQC pointer if qc justifies a
// strictly higher (height, epoch) pair than the one already recorded.
func (d *Driver) advanceHighQC(tx store.WriteTx, qc *types.QuorumCertificate) error {
	if qc.IsZero() {
		return nil
	}
	current, err := tx.HighQCGet(d.ShardGroup)
	if err != nil {
		var nf *errs.NotFoundError
		if !errors.As(err, &nf) {
			return err
		}
		current = nil
	}
	if current != nil && !current.HeightEpoch().Less(qc.HeightEpoch()) {
		return nil
	}
	return tx.HighQCSet(d.ShardGroup, *qc)
}
