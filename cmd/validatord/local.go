package main

import (
	"context"

	"github.com/shardfabric/dancore/pkg/ports"
	"github.com/shardfabric/dancore/pkg/types"
)

// staticCommittee answers every committee/epoch question from a single,
// fixed set of members configured at startup. A real deployment replaces
// this with a base-layer client that reads committee membership from the
// anchor chain; standing one up here would require a base layer this
// module does not have.
type staticCommittee struct {
	sg      types.ShardGroup
	members []types.PublicKey
}

func (s *staticCommittee) CommitteeForShardGroup(ctx context.Context, epoch types.Epoch, sg types.ShardGroup) (types.Committee, error) {
	return types.Committee{ShardGroup: s.sg, Epoch: epoch, Members: s.members}, nil
}

func (s *staticCommittee) CommitteeForAddress(ctx context.Context, epoch types.Epoch, pk types.PublicKey) (types.Committee, error) {
	return types.Committee{ShardGroup: s.sg, Epoch: epoch, Members: s.members}, nil
}

func (s *staticCommittee) ShardGroupForSubstate(ctx context.Context, epoch types.Epoch, addr types.SubstateAddress) (types.ShardGroup, error) {
	return s.sg, nil
}

func (s *staticCommittee) CurrentEpoch(ctx context.Context) (types.Epoch, error) {
	return 0, nil
}

func (s *staticCommittee) BaseLayerBlockHash(ctx context.Context, epoch types.Epoch) (types.Hash32, error) {
	return types.Hash32{}, nil
}

// roundRobinLeader rotates the leader seat through a committee's members
// by height, the simplest deterministic and total selection rule that
// satisfies ports.LeaderStrategy.
type roundRobinLeader struct{}

func (roundRobinLeader) GetLeader(committee types.Committee, height types.NodeHeight) types.PublicKey {
	if len(committee.Members) == 0 {
		return nil
	}
	return committee.Members[uint64(height)%uint64(len(committee.Members))]
}

// noopExecutor accepts every transaction without mutating any substate.
// Running the actual virtual machine against resolved inputs belongs to a
// component this module does not implement; wiring a real one here is a
// deployment-time choice, not a consensus-core one.
type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, tx types.TransactionRecord, resolvedInputs []types.SubstateRecord) (ports.ExecuteResult, error) {
	return ports.ExecuteResult{Decision: types.DecisionCommit}, nil
}

// loggingOutbound logs every send instead of putting it on the wire. A
// real deployment swaps this for a transport that knows how to reach the
// rest of the committee and other shard groups; this module's scope ends
// at deciding what to send, not delivering it.
type loggingOutbound struct {
	log ports.Logger
}

func (o loggingOutbound) SendProposal(ctx context.Context, epoch types.Epoch, to types.PublicKey, block types.Block) error {
	o.log.Printf("outbound: proposal height=%d block=%s -> %s", block.Height, block.Id.String(), to.Hex())
	return nil
}

func (o loggingOutbound) SendVote(ctx context.Context, epoch types.Epoch, to types.PublicKey, qc types.QuorumCertificate, sig types.ValidatorSignature, blockId types.BlockId) error {
	o.log.Printf("outbound: vote block=%s -> %s", blockId.String(), to.Hex())
	return nil
}

func (o loggingOutbound) SendForeignProposal(ctx context.Context, epoch types.Epoch, to types.ShardGroup, fp types.ForeignProposal) error {
	o.log.Printf("outbound: foreign proposal -> shard %s", to.String())
	return nil
}
