package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/types"
)

type fakeEpochs struct {
	committee types.Committee
	err       error
}

func (f *fakeEpochs) CommitteeForShardGroup(ctx context.Context, epoch types.Epoch, sg types.ShardGroup) (types.Committee, error) {
	return f.committee, f.err
}
func (f *fakeEpochs) CommitteeForAddress(ctx context.Context, epoch types.Epoch, pk types.PublicKey) (types.Committee, error) {
	return f.committee, f.err
}
func (f *fakeEpochs) ShardGroupForSubstate(ctx context.Context, epoch types.Epoch, addr types.SubstateAddress) (types.ShardGroup, error) {
	return types.ShardGroup{}, nil
}
func (f *fakeEpochs) CurrentEpoch(ctx context.Context) (types.Epoch, error) { return 0, nil }
func (f *fakeEpochs) BaseLayerBlockHash(ctx context.Context, epoch types.Epoch) (types.Hash32, error) {
	return types.Hash32{}, nil
}

type fakeLeader struct{ leader types.PublicKey }

func (f *fakeLeader) GetLeader(committee types.Committee, height types.NodeHeight) types.PublicKey {
	return f.leader
}

type fakeSigs struct{ ok bool }

func (f *fakeSigs) Sign(ctx context.Context, msg []byte) ([]byte, error) { return []byte("sig"), nil }
func (f *fakeSigs) Verify(pk types.PublicKey, msg []byte, sig []byte) bool {
	return f.ok
}
func (f *fakeSigs) PublicKey() types.PublicKey { return types.PublicKey("local") }

func sg() types.ShardGroup { return types.ShardGroup{Start: 0, End: 1 << 16} }

func committeeOf(members ...types.PublicKey) types.Committee {
	return types.Committee{ShardGroup: sg(), Epoch: 1, Members: members}
}

func validBlock(leader types.PublicKey) *types.Block {
	b := &types.Block{
		ParentId:   types.BlockId{0xAA},
		Height:     2,
		Epoch:      1,
		ShardGroup: sg(),
		ProposedBy: leader,
		Network:    types.Network(1),
		Justify:    types.ZeroQC(1, sg()),
		Signature:  []byte("sig"),
	}
	b.Id = b.CalculateHash()
	return b
}

func TestValidateBlock_RejectsWrongNetwork(t *testing.T) {
	leader := types.PublicKey("leader")
	b := validBlock(leader)
	b.Network = types.Network(2)

	s := store.NewInMemoryStore()
	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	err = ValidateBlock(context.Background(), rtx, &fakeEpochs{committee: committeeOf(leader)}, &fakeLeader{leader: leader}, &fakeSigs{ok: true}, types.Network(1), b)
	require.Error(t, err)
	require.Equal(t, InvalidNetwork, KindOf(err))
}

func TestValidateBlock_RejectsGenesisProposal(t *testing.T) {
	leader := types.PublicKey("leader")
	b := validBlock(leader)
	b.IsGenesis = true

	s := store.NewInMemoryStore()
	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	err = ValidateBlock(context.Background(), rtx, &fakeEpochs{committee: committeeOf(leader)}, &fakeLeader{leader: leader}, &fakeSigs{ok: true}, types.Network(1), b)
	require.Error(t, err)
	require.Equal(t, ProposingGenesisBlock, KindOf(err))
}

func TestValidateBlock_RejectsHashMismatch(t *testing.T) {
	leader := types.PublicKey("leader")
	b := validBlock(leader)
	b.Height = 99

	s := store.NewInMemoryStore()
	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	err = ValidateBlock(context.Background(), rtx, &fakeEpochs{committee: committeeOf(leader)}, &fakeLeader{leader: leader}, &fakeSigs{ok: true}, types.Network(1), b)
	require.Error(t, err)
	require.Equal(t, NodeHashMismatch, KindOf(err))
}

func TestValidateBlock_RejectsWrongLeader(t *testing.T) {
	leader := types.PublicKey("leader")
	other := types.PublicKey("other")
	b := validBlock(other)

	s := store.NewInMemoryStore()
	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	err = ValidateBlock(context.Background(), rtx, &fakeEpochs{committee: committeeOf(leader, other)}, &fakeLeader{leader: leader}, &fakeSigs{ok: true}, types.Network(1), b)
	require.Error(t, err)
	require.Equal(t, NotLeader, KindOf(err))
}

func TestValidateBlock_RejectsInvalidSignature(t *testing.T) {
	leader := types.PublicKey("leader")
	b := validBlock(leader)

	s := store.NewInMemoryStore()
	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	err = ValidateBlock(context.Background(), rtx, &fakeEpochs{committee: committeeOf(leader)}, &fakeLeader{leader: leader}, &fakeSigs{ok: false}, types.Network(1), b)
	require.Error(t, err)
	require.Equal(t, InvalidSignature, KindOf(err))
}

func TestValidateBlock_RejectsUnknownParent(t *testing.T) {
	leader := types.PublicKey("leader")
	b := validBlock(leader)

	s := store.NewInMemoryStore()
	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	err = ValidateBlock(context.Background(), rtx, &fakeEpochs{committee: committeeOf(leader)}, &fakeLeader{leader: leader}, &fakeSigs{ok: true}, types.Network(1), b)
	require.Error(t, err)
	require.Equal(t, BlockHashNotFound, KindOf(err))
}

func TestValidateBlock_AcceptsWellFormedBlock(t *testing.T) {
	leader := types.PublicKey("leader")
	b := validBlock(leader)

	s := store.NewInMemoryStore()
	wtx, err := s.WriteTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, wtx.BlocksInsert(&types.Block{Id: b.ParentId, Height: 1}))
	require.NoError(t, wtx.Commit())

	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	err = ValidateBlock(context.Background(), rtx, &fakeEpochs{committee: committeeOf(leader)}, &fakeLeader{leader: leader}, &fakeSigs{ok: true}, types.Network(1), b)
	require.NoError(t, err)
}

func TestValidateBlock_RejectsHeightMismatch(t *testing.T) {
	leader := types.PublicKey("leader")
	b := validBlock(leader)
	b.Height = 5
	b.Id = b.CalculateHash()

	s := store.NewInMemoryStore()
	wtx, err := s.WriteTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, wtx.BlocksInsert(&types.Block{Id: b.ParentId, Height: 1}))
	require.NoError(t, wtx.Commit())

	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	err = ValidateBlock(context.Background(), rtx, &fakeEpochs{committee: committeeOf(leader)}, &fakeLeader{leader: leader}, &fakeSigs{ok: true}, types.Network(1), b)
	require.Error(t, err)
	require.Equal(t, BlockHeightMismatch, KindOf(err))
}

func TestValidateQC_RejectsUnderQuorum(t *testing.T) {
	leader := types.PublicKey("leader")
	other := types.PublicKey("other")
	qc := types.QuorumCertificate{
		BlockId:    types.BlockId{0x01},
		Epoch:      1,
		ShardGroup: sg(),
		Decision:   types.DecisionCommit,
		Signatures: []types.ValidatorSignature{{PublicKey: leader, Sig: []byte("s")}},
	}
	err := validateQC(context.Background(), &fakeEpochs{committee: committeeOf(leader, other, types.PublicKey("third"), types.PublicKey("fourth"))}, &fakeSigs{ok: true}, &qc)
	require.Error(t, err)
	require.Equal(t, QuorumWasNotReached, KindOf(err))
}

func TestValidateQC_AcceptsZeroQC(t *testing.T) {
	qc := types.ZeroQC(1, sg())
	err := validateQC(context.Background(), &fakeEpochs{}, &fakeSigs{ok: true}, &qc)
	require.NoError(t, err)
}
