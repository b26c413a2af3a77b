package txpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/types"
)

func TestValidateTransition_RejectsBackwardMove(t *testing.T) {
	err := ValidateTransition(types.StageLocalAccepted, types.StagePrepared)
	require.Error(t, err)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestValidateTransition_AllowsAlternativeSameRankOutcome(t *testing.T) {
	require.NoError(t, ValidateTransition(types.StageAllPrepared, types.StageSomePrepared))
}

func TestAddPendingUpdate_ThenPromote(t *testing.T) {
	s := store.NewInMemoryStore()
	txId := types.TransactionId{0x01}
	genesis := types.BlockId{0x00}
	block1 := types.BlockId{0x01}

	wtx, err := s.WriteTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, wtx.BlocksInsert(&types.Block{Id: block1, ParentId: genesis, Height: 1}))
	require.NoError(t, AddPendingUpdate(wtx, block1, 1, txId, types.StagePrepared, nil, nil, false))
	require.NoError(t, wtx.Commit())

	wtx2, err := s.WriteTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, PromoteOnCommit(wtx2, genesis, block1, []types.TransactionId{txId}))
	require.NoError(t, wtx2.Commit())

	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()
	rec, err := rtx.TransactionPoolGet(txId)
	require.NoError(t, err)
	require.Equal(t, types.StagePrepared, rec.Stage)
	require.Nil(t, rec.PendingStage)
}

func TestPromoteOnCommit_RemovesCompletedTransactions(t *testing.T) {
	s := store.NewInMemoryStore()
	txId := types.TransactionId{0x02}
	genesis := types.BlockId{0x00}
	block1 := types.BlockId{0x01}

	wtx, err := s.WriteTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, wtx.BlocksInsert(&types.Block{Id: block1, ParentId: genesis, Height: 1}))
	require.NoError(t, AddPendingUpdate(wtx, block1, 1, txId, types.StageComplete, nil, nil, false))
	require.NoError(t, wtx.Commit())

	wtx2, err := s.WriteTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, PromoteOnCommit(wtx2, genesis, block1, []types.TransactionId{txId}))
	require.NoError(t, wtx2.Commit())

	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()
	_, err = rtx.TransactionPoolGet(txId)
	require.Error(t, err)
}
