package substate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/types"
)

func TestApplyBlockDiff_UpThenDown(t *testing.T) {
	s := store.NewInMemoryStore()
	shard := types.ShardGroup{Start: 0, End: ^uint32(0)}
	blockId := types.BlockId{0x01}
	a := addr(9)

	wtx, err := s.WriteTx(context.Background())
	require.NoError(t, err)
	upDiff := &types.BlockDiff{
		BlockId: blockId,
		Changes: []types.SubstateChange{
			{ShardGroup: shard, Address: a, Id: types.SubstateIdFor(a), Version: 0, Kind: types.TransitionUp, Value: []byte("v0")},
		},
	}
	require.NoError(t, ApplyBlockDiff(wtx, blockId, types.Hash32{}, 1, 0, 1, upDiff))
	require.NoError(t, wtx.Commit())

	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	rec, err := rtx.SubstatesGetLatest(a)
	require.NoError(t, err)
	require.Equal(t, uint32(0), rec.Version)
	require.False(t, rec.IsDestroyed())
	rtx.Close()

	wtx2, err := s.WriteTx(context.Background())
	require.NoError(t, err)
	downDiff := &types.BlockDiff{
		BlockId: types.BlockId{0x02},
		Changes: []types.SubstateChange{
			{ShardGroup: shard, Address: a, Id: types.SubstateIdFor(a), Version: 0, Kind: types.TransitionDown},
		},
	}
	require.NoError(t, ApplyBlockDiff(wtx2, types.BlockId{0x02}, types.Hash32{}, 2, 0, 2, downDiff))
	require.NoError(t, wtx2.Commit())

	rtx2, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx2.Close()
	rec2, err := rtx2.SubstatesGet(a, 0)
	require.NoError(t, err)
	require.True(t, rec2.IsDestroyed())

	transitions, err := rtx2.StateTransitionsGetSince(shard, 0)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	require.Equal(t, uint64(1), transitions[0].Seq)
	require.Equal(t, uint64(2), transitions[1].Seq)
}
