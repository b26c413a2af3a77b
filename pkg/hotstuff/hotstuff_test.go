package hotstuff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/types"
)

type fixedCommittee struct{ committee types.Committee }

func (f fixedCommittee) CommitteeForShardGroup(ctx context.Context, epoch types.Epoch, sg types.ShardGroup) (types.Committee, error) {
	return f.committee, nil
}
func (f fixedCommittee) CommitteeForAddress(ctx context.Context, epoch types.Epoch, pk types.PublicKey) (types.Committee, error) {
	return f.committee, nil
}
func (f fixedCommittee) ShardGroupForSubstate(ctx context.Context, epoch types.Epoch, addr types.SubstateAddress) (types.ShardGroup, error) {
	return types.ShardGroup{}, nil
}
func (f fixedCommittee) CurrentEpoch(ctx context.Context) (types.Epoch, error) { return 1, nil }
func (f fixedCommittee) BaseLayerBlockHash(ctx context.Context, epoch types.Epoch) (types.Hash32, error) {
	return types.Hash32{}, nil
}

type roundRobinLeader struct{ order []types.PublicKey }

func (r roundRobinLeader) GetLeader(committee types.Committee, height types.NodeHeight) types.PublicKey {
	return r.order[int(height)%len(r.order)]
}

type alwaysValidSigs struct{ key types.PublicKey }

func (s alwaysValidSigs) Sign(ctx context.Context, msg []byte) ([]byte, error) { return []byte("sig"), nil }
func (s alwaysValidSigs) Verify(pk types.PublicKey, msg []byte, sig []byte) bool {
	return len(sig) > 0
}
func (s alwaysValidSigs) PublicKey() types.PublicKey { return s.key }

func sg() types.ShardGroup { return types.ShardGroup{Start: 0, End: 1 << 16} }

func newDriver(s *store.MemStore, key types.PublicKey, committee types.Committee) *Driver {
	return New(sg(), types.Network(1), fixedCommittee{committee: committee}, roundRobinLeader{order: committee.Members}, alwaysValidSigs{key: key}, nil, nil, nopLogger{})
}

type nopLogger struct{}

func (nopLogger) Printf(format string, args ...interface{}) {}

func chainBlock(t *testing.T, parent types.BlockId, height types.NodeHeight, epoch types.Epoch, sg types.ShardGroup, leader types.PublicKey, justify types.QuorumCertificate) *types.Block {
	b := &types.Block{
		ParentId:   parent,
		Justify:    justify,
		Height:     height,
		Epoch:      epoch,
		ShardGroup: sg,
		ProposedBy: leader,
		Network:    types.Network(1),
		Signature:  []byte("sig"),
	}
	b.Id = b.CalculateHash()
	return b
}

// TestThreeChainCommit drives four blocks through a single validator's
// own pipeline (so every vote self-quorums) and checks the fourth block's
// justify chain commits the first.
func TestThreeChainCommit(t *testing.T) {
	leader := types.PublicKey("leader")
	committee := types.Committee{ShardGroup: sg(), Epoch: 1, Members: []types.PublicKey{leader}}
	s := store.NewInMemoryStore()
	d := newDriver(s, leader, committee)

	genesis := &types.Block{Id: types.BlockId{0xAA}, Height: 0, Epoch: 1, ShardGroup: sg(), IsGenesis: true}
	wtx, err := s.WriteTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, wtx.BlocksInsert(genesis))
	require.NoError(t, wtx.Commit())

	qc := types.ZeroQC(1, sg())
	parentId := genesis.Id
	var blocks []*types.Block
	for h := types.NodeHeight(1); h <= 4; h++ {
		b := chainBlock(t, parentId, h, 1, sg(), leader, qc)

		wtx, err := s.WriteTx(context.Background())
		require.NoError(t, err)
		require.NoError(t, d.OnReceiveProposal(context.Background(), wtx, b))
		require.NoError(t, wtx.Commit())

		rtx, err := s.ReadTx(context.Background())
		require.NoError(t, err)
		sigs, err := rtx.VotesGetSignatures(b.Id, types.DecisionCommit)
		require.NoError(t, err)
		rtx.Close()
		require.Len(t, sigs, 1)

		wtx2, err := s.WriteTx(context.Background())
		require.NoError(t, err)
		require.NoError(t, d.OnReceiveVote(context.Background(), wtx2, b.Id, types.DecisionCommit, sigs[0]))
		require.NoError(t, wtx2.Commit())

		rtx2, err := s.ReadTx(context.Background())
		require.NoError(t, err)
		newQC, err := rtx2.HighQCGet(sg())
		require.NoError(t, err)
		rtx2.Close()
		qc = *newQC

		blocks = append(blocks, b)
		parentId = b.Id
	}

	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	committed, err := rtx.BlocksGet(blocks[0].Id)
	require.NoError(t, err)
	require.True(t, committed.IsCommitted)

	locked, err := rtx.LockedBlockGet(sg())
	require.NoError(t, err)
	require.Equal(t, blocks[1].Id, locked.BlockId)
}

func TestNotLeaderError(t *testing.T) {
	other := types.PublicKey("other")
	leader := types.PublicKey("leader")
	committee := types.Committee{ShardGroup: sg(), Epoch: 1, Members: []types.PublicKey{other, leader}}
	s := store.NewInMemoryStore()
	d := newDriver(s, other, committee)

	genesis := &types.Block{Id: types.BlockId{0xAA}, Height: 0, Epoch: 1, ShardGroup: sg(), IsGenesis: true}
	wtx, err := s.WriteTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, wtx.BlocksInsert(genesis))
	require.NoError(t, wtx.Commit())

	wtx2, err := s.WriteTx(context.Background())
	require.NoError(t, err)
	defer wtx2.Rollback()
	_, err = d.Propose(context.Background(), wtx2, 1, 1, genesis)
	require.Error(t, err)
	var nl *NotLeaderError
	require.ErrorAs(t, err, &nl)
}
