package substate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/types"
)

func addr(b byte) types.SubstateAddress {
	var a types.SubstateAddress
	a[0] = b
	return a
}

func TestAcquireForTransaction_NewOutputStartsAtZero(t *testing.T) {
	s := store.NewInMemoryStore()
	wtx, err := s.WriteTx(context.Background())
	require.NoError(t, err)
	defer wtx.Rollback()

	record := &types.TransactionRecord{
		Id:               types.TransactionId{0x01},
		ResultingOutputs: []types.SubstateAddress{addr(1)},
	}
	locks, err := AcquireForTransaction(wtx, types.BlockId{0xAA}, record)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	require.Equal(t, uint32(0), locks[0].Version)
	require.Equal(t, types.LockOutput, locks[0].Mode)
}

func TestAcquireForTransaction_ConflictingWriteRejected(t *testing.T) {
	s := store.NewInMemoryStore()
	wtx, err := s.WriteTx(context.Background())
	require.NoError(t, err)
	defer wtx.Rollback()

	a := addr(2)
	first := &types.TransactionRecord{
		Id:               types.TransactionId{0x01},
		ResultingOutputs: []types.SubstateAddress{a},
	}
	_, err = AcquireForTransaction(wtx, types.BlockId{0xAA}, first)
	require.NoError(t, err)

	second := &types.TransactionRecord{
		Id:               types.TransactionId{0x02},
		ResultingOutputs: []types.SubstateAddress{a},
	}
	_, err = AcquireForTransaction(wtx, types.BlockId{0xBB}, second)
	require.Error(t, err)
	var conflict *LockConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestCheckConflicts_ReadsDoNotConflict(t *testing.T) {
	id := types.SubstateIdFor(addr(3))
	existing := []types.SubstateLock{
		{SubstateId: id, Version: 0, Mode: types.LockRead, TransactionId: types.TransactionId{0x01}},
	}
	candidate := types.SubstateLock{SubstateId: id, Version: 0, Mode: types.LockRead, TransactionId: types.TransactionId{0x02}}
	require.NoError(t, CheckConflicts(existing, candidate))
}

func TestCheckConflicts_SameTransactionNeverConflicts(t *testing.T) {
	id := types.SubstateIdFor(addr(4))
	txId := types.TransactionId{0x01}
	existing := []types.SubstateLock{
		{SubstateId: id, Version: 0, Mode: types.LockWrite, TransactionId: txId},
	}
	candidate := types.SubstateLock{SubstateId: id, Version: 0, Mode: types.LockOutput, TransactionId: txId}
	require.NoError(t, CheckConflicts(existing, candidate))
}
