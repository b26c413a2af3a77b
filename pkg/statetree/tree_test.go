package statetree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/types"
)

func testShard() types.ShardGroup {
	return types.ShardGroup{Start: 0, End: ^uint32(0)}
}

func change(id string, kind types.TransitionKind, value string) types.SubstateChange {
	return types.SubstateChange{
		ShardGroup: testShard(),
		Id:         types.SubstateId(id),
		Kind:       kind,
		Value:      types.SubstateValue(value),
	}
}

func TestTree_EmptyRootIsPlaceholder(t *testing.T) {
	s := store.NewInMemoryStore()
	tx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer tx.Close()

	tree, err := Load(tx, testShard())
	require.NoError(t, err)
	require.False(t, tree.Root().IsZero())
	require.Equal(t, placeholder[0], tree.Root())
	require.Equal(t, uint64(0), tree.Version())
}

func TestTree_InsertThenGet(t *testing.T) {
	s := store.NewInMemoryStore()
	tx, err := s.ReadTx(context.Background())
	require.NoError(t, err)

	tree, err := Load(tx, testShard())
	require.NoError(t, err)
	tx.Close()

	diff := tree.ApplyChanges([]types.SubstateChange{
		change("substate-a", types.TransitionUp, "value-a"),
		change("substate-b", types.TransitionUp, "value-b"),
	})
	require.False(t, diff.NewRoot.IsZero())
	require.NotEmpty(t, diff.Upserted)

	gotA, ok := tree.Get(LeafKeyFor("substate-a"))
	require.True(t, ok)
	require.Equal(t, ValueHashFor(types.SubstateValue("value-a")), gotA)

	_, ok = tree.Get(LeafKeyFor("substate-missing"))
	require.False(t, ok)
}

func TestTree_DeleteRemovesLeaf(t *testing.T) {
	s := store.NewInMemoryStore()
	tx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	tree, err := Load(tx, testShard())
	require.NoError(t, err)
	tx.Close()

	tree.ApplyChanges([]types.SubstateChange{
		change("substate-a", types.TransitionUp, "value-a"),
	})
	diff := tree.ApplyChanges([]types.SubstateChange{
		change("substate-a", types.TransitionDown, ""),
	})

	_, ok := tree.Get(LeafKeyFor("substate-a"))
	require.False(t, ok)
	require.Equal(t, placeholder[0], diff.NewRoot)
}

func TestTree_DeleteAbsentKeyIsNoop(t *testing.T) {
	s := store.NewInMemoryStore()
	tx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	tree, err := Load(tx, testShard())
	require.NoError(t, err)
	tx.Close()

	diff := tree.ApplyChanges([]types.SubstateChange{
		change("never-existed", types.TransitionDown, ""),
	})
	require.Equal(t, placeholder[0], diff.NewRoot)
	require.Empty(t, diff.Upserted)
	require.Empty(t, diff.Stale)
}

func TestTree_RootIsOrderIndependentOfUnrelatedKeys(t *testing.T) {
	s1 := store.NewInMemoryStore()
	tx1, err := s1.ReadTx(context.Background())
	require.NoError(t, err)
	t1, err := Load(tx1, testShard())
	require.NoError(t, err)
	tx1.Close()
	t1.ApplyChanges([]types.SubstateChange{
		change("x", types.TransitionUp, "1"),
		change("y", types.TransitionUp, "2"),
	})

	s2 := store.NewInMemoryStore()
	tx2, err := s2.ReadTx(context.Background())
	require.NoError(t, err)
	t2, err := Load(tx2, testShard())
	require.NoError(t, err)
	tx2.Close()
	t2.ApplyChanges([]types.SubstateChange{
		change("y", types.TransitionUp, "2"),
		change("x", types.TransitionUp, "1"),
	})

	require.Equal(t, t1.Root(), t2.Root())
}

func TestMerge_AdvancesVersionPerDiff(t *testing.T) {
	s := store.NewInMemoryStore()
	tx, err := s.ReadTx(context.Background())
	require.NoError(t, err)

	pending := []store.PendingStateTreeDiff{
		{ShardGroup: testShard(), Height: 1, Changes: []types.SubstateChange{
			change("a", types.TransitionUp, "1"),
		}},
		{ShardGroup: testShard(), Height: 2, Changes: []types.SubstateChange{
			change("b", types.TransitionUp, "2"),
		}},
	}

	merged, diff, err := Merge(tx, testShard(), pending)
	tx.Close()
	require.NoError(t, err)
	require.Equal(t, uint64(2), merged.Version())
	require.False(t, diff.NewRoot.IsZero())
	require.NotEmpty(t, diff.Upserted)

	wtx, err := s.WriteTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, wtx.StateTreeNodesUpsert(diff.Upserted))
	require.NoError(t, wtx.StateTreeNodesMarkStale(testShard(), diff.Stale))
	require.NoError(t, wtx.StateTreeShardVersionSet(testShard(), merged.Version()))
	require.NoError(t, wtx.StateTreeRootSet(testShard(), merged.Root()))
	require.NoError(t, wtx.Commit())

	rtx, err := s.ReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Close()
	reloaded, err := Load(rtx, testShard())
	require.NoError(t, err)
	require.Equal(t, merged.Root(), reloaded.Root())

	gotA, ok := reloaded.Get(LeafKeyFor("a"))
	require.True(t, ok)
	require.Equal(t, ValueHashFor(types.SubstateValue("1")), gotA)
}
