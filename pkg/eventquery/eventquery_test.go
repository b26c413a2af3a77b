package eventquery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/types"
)

func testShard() types.ShardGroup { return types.ShardGroup{Start: 0, End: 1 << 16} }

func seed(t *testing.T) *store.MemStore {
	t.Helper()
	s := store.NewInMemoryStore()
	wtx, err := s.WriteTx(context.Background())
	require.NoError(t, err)

	inputAddr := types.SubstateAddress{0x01}
	outputAddr := types.SubstateAddress{0x02}

	require.NoError(t, wtx.SubstatesInsert(&types.SubstateRecord{
		Address: inputAddr, Version: 1, Value: types.SubstateValue(`{"color":"red"}`),
	}))
	require.NoError(t, wtx.SubstatesInsert(&types.SubstateRecord{
		Address: outputAddr, Version: 1, Value: types.SubstateValue(`{"color":"blue"}`),
	}))
	require.NoError(t, wtx.TransactionsInsert(&types.TransactionRecord{
		Id:               types.TransactionId{0xAA},
		ResolvedInputs:   []types.SubstateAddress{inputAddr},
		ResultingOutputs: []types.SubstateAddress{outputAddr},
	}))
	require.NoError(t, wtx.StateTransitionsInsert([]types.StateTransition{
		{Seq: 1, ShardGroup: testShard(), Address: inputAddr, Version: 1, Kind: types.TransitionUp, StateVersion: 1},
		{Seq: 2, ShardGroup: testShard(), Address: outputAddr, Version: 1, Kind: types.TransitionUp, StateVersion: 2},
	}))
	require.NoError(t, wtx.Commit())
	return s
}

func TestByTransaction_ResolvesInputsAndOutputs(t *testing.T) {
	s := seed(t)
	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	result, err := ByTransaction(rtx, types.TransactionId{0xAA})
	require.NoError(t, err)
	require.Len(t, result.Inputs, 1)
	require.Len(t, result.Outputs, 1)
	require.Equal(t, "red", DecodePayload(result.Inputs[0].Value)["color"])
}

func TestBySubstateVersion_ExactAndLatest(t *testing.T) {
	s := seed(t)
	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	exact, err := BySubstateVersion(rtx, types.SubstateAddress{0x01}, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), exact.Version)

	latest, err := BySubstateVersion(rtx, types.SubstateAddress{0x01}, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), latest.Version)
}

func TestByPayloadKV_FiltersAndPaginates(t *testing.T) {
	s := seed(t)
	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	matches, err := ByPayloadKV(rtx, testShard(), "color", "blue", 0, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, types.SubstateAddress{0x02}, matches[0].Address)

	none, err := ByPayloadKV(rtx, testShard(), "color", "green", 0, 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestList_PaginatesTransitionLog(t *testing.T) {
	s := seed(t)
	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	page1, err := List(rtx, testShard(), 0, 0, 1)
	require.NoError(t, err)
	require.Len(t, page1, 1)
	require.Equal(t, uint64(1), page1[0].Seq)

	page2, err := List(rtx, testShard(), 0, 1, 1)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	require.Equal(t, uint64(2), page2[0].Seq)
}
