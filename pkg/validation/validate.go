package validation

import (
	"context"
	"errors"

	"github.com/shardfabric/dancore/pkg/errs"
	"github.com/shardfabric/dancore/pkg/ports"
	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/types"
)

// MaxHeightLookahead bounds how far a candidate block's height may sit
// beyond the local node's current leaf before it is rejected outright
// rather than parked, guarding against a remote peer claiming an
// arbitrarily distant height to force unbounded local state growth.
const MaxHeightLookahead = types.NodeHeight(1000)

// ValidateBlock runs every proposal-validation predicate against a
// candidate block in order, returning the first failure. A nil error
// means the block is safe to admit into the pipeline.
func ValidateBlock(ctx context.Context, tx store.ReadTx, epochs ports.EpochManager, leaders ports.LeaderStrategy, sigs ports.SignatureService, localNetwork types.Network, block *types.Block) error {
	if block.Network != localNetwork {
		return fail(InvalidNetwork, "")
	}

	if block.IsGenesis {
		return fail(ProposingGenesisBlock, "")
	}
	if block.CalculateHash() != block.Id {
		return fail(NodeHashMismatch, "")
	}

	committee, err := epochs.CommitteeForShardGroup(ctx, block.Epoch, block.ShardGroup)
	if err != nil {
		return err
	}
	if leader := leaders.GetLeader(committee, block.Height); !leader.Equal(block.ProposedBy) {
		return fail(NotLeader, leader.Hex())
	}

	if !block.IsDummy {
		if len(block.Signature) == 0 {
			return fail(MissingSignature, "")
		}
		if !sigs.Verify(block.ProposedBy, block.Id[:], block.Signature) {
			return fail(InvalidSignature, "")
		}
	}

	if err := validateQC(ctx, epochs, sigs, &block.Justify); err != nil {
		return err
	}
	if !block.Justify.IsZero() && block.Height <= block.Justify.BlockHeight {
		return fail(CandidateBlockNotHigherThanJustify, "")
	}

	return validateChainLinkage(tx, block)
}

func validateQC(ctx context.Context, epochs ports.EpochManager, sigs ports.SignatureService, qc *types.QuorumCertificate) error {
	if qc.IsZero() {
		return nil
	}
	if len(qc.Signatures) == 0 {
		return fail(QuorumWasNotReached, "no signatures")
	}
	committee, err := epochs.CommitteeForShardGroup(ctx, qc.Epoch, qc.ShardGroup)
	if err != nil {
		return err
	}
	// leaf_hash: the QC carries no separate leaf field, so every signer's
	// vote message is recomputed against the block it actually certifies.
	msg := types.CreateVoteMessage(qc.BlockId, qc.BlockId, qc.Decision)
	for _, sig := range qc.Signatures {
		if !committee.Contains(sig.PublicKey) {
			return fail(ValidatorNotInCommittee, sig.PublicKey.Hex())
		}
		if !sigs.Verify(sig.PublicKey, msg, sig.Sig) {
			return fail(QCInvalidSignature, sig.PublicKey.Hex())
		}
	}
	if len(qc.Signatures) < committee.QuorumThreshold() {
		return fail(QuorumWasNotReached, "")
	}
	return nil
}

func validateChainLinkage(tx store.ReadTx, block *types.Block) error {
	if block.Height > 0 && block.Height > MaxHeightLookahead {
		leaf, err := tx.LeafBlockGet(block.ShardGroup)
		if err == nil && block.Height > leaf.Height+MaxHeightLookahead {
			return fail(BlockHeightTooHigh, "")
		}
	}
	parent, err := tx.BlocksGet(block.ParentId)
	if err != nil {
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			return fail(BlockHashNotFound, block.ParentId.String())
		}
		return err
	}
	if block.Height != parent.Height+1 {
		return fail(BlockHeightMismatch, "")
	}
	return nil
}
