package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/shardfabric/dancore/pkg/errs"
	"github.com/shardfabric/dancore/pkg/kvdb"
	"github.com/shardfabric/dancore/pkg/types"
)

// MemStore is the cometbft-db backed store used for development and
// tests. It reads and writes through pkg/kvdb.KVAdapter rather than
// calling dbm.DB directly, so every key this package touches goes
// through the same Get/Set/Delete surface the rest of this module's
// storage adaptation uses; the keys themselves are namespaced by the
// builders in keys.go.
//
// The store is single-writer: WriteTx acquires an exclusive lock for the
// lifetime of the transaction, and ReadTx takes a shared lock so it never
// observes a write transaction's partial state. This is stronger than the
// spec requires but is the same tradeoff pkg/ledger/store.go documents
// for its own single-writer design.
type MemStore struct {
	kv     *kvdb.KVAdapter
	mu     sync.RWMutex
	logger *log.Logger
}

// NewMemStore wraps an existing cometbft-db database.
func NewMemStore(db dbm.DB, logger *log.Logger) *MemStore {
	if logger == nil {
		logger = log.New(log.Writer(), "[store] ", log.LstdFlags)
	}
	return &MemStore{kv: kvdb.NewKVAdapter(db), logger: logger}
}

// NewInMemoryStore opens a pure in-memory backend, for tests.
func NewInMemoryStore() *MemStore {
	return NewMemStore(dbm.NewMemDB(), nil)
}

func (s *MemStore) Close() error {
	return s.kv.Close()
}

func (s *MemStore) ReadTx(ctx context.Context) (ReadTx, error) {
	s.mu.RLock()
	return &memTx{store: s, write: false}, nil
}

func (s *MemStore) WriteTx(ctx context.Context) (WriteTx, error) {
	s.mu.Lock()
	return &memTx{
		store:   s,
		write:   true,
		overlay: make(map[string][]byte),
		deleted: make(map[string]bool),
	}, nil
}

// memTx implements both ReadTx and WriteTx. A read transaction only ever
// reads through store.kv directly; a write transaction layers an overlay
// on top so it observes its own uncommitted writes before Commit.
type memTx struct {
	store   *MemStore
	write   bool
	overlay map[string][]byte
	deleted map[string]bool
	closed  bool
}

func (t *memTx) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.write {
		// A write transaction closed without Commit/Rollback is dropped:
		// log it the way the contract requires and release the lock.
		t.store.logger.Printf("write transaction dropped without commit or rollback")
		t.store.mu.Unlock()
	} else {
		t.store.mu.RUnlock()
	}
	return nil
}

func (t *memTx) Commit() error {
	if t.closed {
		return fmt.Errorf("store: commit on closed transaction")
	}
	for k, v := range t.overlay {
		if err := t.store.kv.Set([]byte(k), v); err != nil {
			return wrapErr("commit", err)
		}
	}
	for k := range t.deleted {
		if err := t.store.kv.Delete([]byte(k)); err != nil {
			return wrapErr("commit", err)
		}
	}
	t.closed = true
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.closed {
		return nil
	}
	t.store.logger.Printf("write transaction rolled back, %d pending keys discarded", len(t.overlay))
	t.closed = true
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) get(key []byte) ([]byte, bool, error) {
	k := string(key)
	if t.write {
		if t.deleted[k] {
			return nil, false, nil
		}
		if v, ok := t.overlay[k]; ok {
			return v, true, nil
		}
	}
	v, err := t.store.kv.Get(key)
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

func (t *memTx) set(key []byte, value []byte) {
	k := string(key)
	t.overlay[k] = value
	delete(t.deleted, k)
}

func (t *memTx) del(key []byte) {
	k := string(key)
	delete(t.overlay, k)
	t.deleted[k] = true
}

func getJSON(t *memTx, key []byte, out interface{}) (bool, error) {
	v, ok, err := t.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(v, out); err != nil {
		return false, fmt.Errorf("unmarshal %T: %w", out, err)
	}
	return true, nil
}

func setJSON(t *memTx, key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	t.set(key, b)
	return nil
}

// --- blocks ---

func (t *memTx) BlocksGet(id types.BlockId) (*types.Block, error) {
	var b types.Block
	found, err := getJSON(t, keyBlock(id), &b)
	if err != nil {
		return nil, wrapErr("blocks_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("block", id.String())
	}
	return &b, nil
}

func (t *memTx) BlocksGetParent(id types.BlockId) (*types.Block, error) {
	b, err := t.BlocksGet(id)
	if err != nil {
		return nil, err
	}
	return t.BlocksGet(b.ParentId)
}

func (t *memTx) BlocksExists(id types.BlockId) (bool, error) {
	_, ok, err := t.get(keyBlock(id))
	return ok, wrapErr("blocks_exists", err)
}

func (t *memTx) BlocksGetAllByParent(parent types.BlockId) ([]types.Block, error) {
	var ids []types.BlockId
	if _, err := getJSON(t, keyBlockChildren(parent), &ids); err != nil {
		return nil, wrapErr("blocks_get_all_by_parent", err)
	}
	blocks := make([]types.Block, 0, len(ids))
	for _, id := range ids {
		b, err := t.BlocksGet(id)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *b)
	}
	return blocks, nil
}

func (t *memTx) BlocksInsert(b *types.Block) error {
	if err := setJSON(t, keyBlock(b.Id), b); err != nil {
		return wrapErr("blocks_insert", err)
	}
	childKey := keyBlockChildren(b.ParentId)
	var ids []types.BlockId
	if _, err := getJSON(t, childKey, &ids); err != nil {
		return wrapErr("blocks_insert", err)
	}
	ids = append(ids, b.Id)
	return wrapErr("blocks_insert", setJSON(t, childKey, ids))
}

func (t *memTx) BlocksSetCommitted(id types.BlockId) error {
	b, err := t.BlocksGet(id)
	if err != nil {
		return err
	}
	b.IsCommitted = true
	return wrapErr("blocks_set_committed", setJSON(t, keyBlock(id), b))
}

func (t *memTx) BlocksSetProcessed(id types.BlockId) error {
	b, err := t.BlocksGet(id)
	if err != nil {
		return err
	}
	b.IsProcessed = true
	return wrapErr("blocks_set_processed", setJSON(t, keyBlock(id), b))
}

// --- quorum certificates ---

func (t *memTx) QuorumCertificatesGet(id types.Hash32) (*types.QuorumCertificate, error) {
	var qc types.QuorumCertificate
	found, err := getJSON(t, keyQC(id), &qc)
	if err != nil {
		return nil, wrapErr("quorum_certificates_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("quorum_certificate", id.String())
	}
	return &qc, nil
}

func (t *memTx) QuorumCertificatesGetByBlockId(blockId types.BlockId) (*types.QuorumCertificate, error) {
	var id types.Hash32
	found, err := getJSON(t, keyQCByBlock(blockId), &id)
	if err != nil {
		return nil, wrapErr("quorum_certificates_get_by_block_id", err)
	}
	if !found {
		return nil, errs.NewNotFound("quorum_certificate_by_block", blockId.String())
	}
	return t.QuorumCertificatesGet(id)
}

func (t *memTx) QuorumCertificatesInsert(qc *types.QuorumCertificate) error {
	if err := setJSON(t, keyQC(qc.Id), qc); err != nil {
		return wrapErr("quorum_certificates_insert", err)
	}
	return wrapErr("quorum_certificates_insert", setJSON(t, keyQCByBlock(qc.BlockId), qc.Id))
}

// --- transactions ---

func (t *memTx) TransactionsGet(id types.TransactionId) (*types.TransactionRecord, error) {
	var tx types.TransactionRecord
	found, err := getJSON(t, keyTransaction(id), &tx)
	if err != nil {
		return nil, wrapErr("transactions_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("transaction", id.String())
	}
	return &tx, nil
}

func (t *memTx) TransactionsExistsAll(ids []types.TransactionId) (bool, []types.TransactionId, error) {
	var missing []types.TransactionId
	for _, id := range ids {
		_, ok, err := t.get(keyTransaction(id))
		if err != nil {
			return false, nil, wrapErr("transactions_exists_all", err)
		}
		if !ok {
			missing = append(missing, id)
		}
	}
	return len(missing) == 0, missing, nil
}

func (t *memTx) TransactionsInsert(tx *types.TransactionRecord) error {
	return wrapErr("transactions_insert", setJSON(t, keyTransaction(tx.Id), tx))
}

// --- transaction pool ---

func (t *memTx) TransactionPoolGet(id types.TransactionId) (*types.TransactionPoolRecord, error) {
	var r types.TransactionPoolRecord
	found, err := getJSON(t, keyPoolRecord(id), &r)
	if err != nil {
		return nil, wrapErr("transaction_pool_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("transaction_pool_record", id.String())
	}
	return &r, nil
}

func (t *memTx) TransactionPoolGetAllReady(sg types.ShardGroup, limit int) ([]types.TransactionPoolRecord, error) {
	var ids []types.TransactionId
	if _, err := getJSON(t, keyPoolReadyIndex(), &ids); err != nil {
		return nil, wrapErr("transaction_pool_get_all_ready", err)
	}
	out := make([]types.TransactionPoolRecord, 0, len(ids))
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		r, err := t.TransactionPoolGet(id)
		if err != nil {
			continue
		}
		if r.IsReady {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (t *memTx) setPoolRecord(r *types.TransactionPoolRecord) error {
	if err := setJSON(t, keyPoolRecord(r.TransactionId), r); err != nil {
		return err
	}
	if !r.IsReady {
		return nil
	}
	idxKey := keyPoolReadyIndex()
	var ids []types.TransactionId
	if _, err := getJSON(t, idxKey, &ids); err != nil {
		return err
	}
	for _, id := range ids {
		if id == r.TransactionId {
			return nil
		}
	}
	ids = append(ids, r.TransactionId)
	return setJSON(t, idxKey, ids)
}

func (t *memTx) TransactionPoolStateUpdatesGetPending(blockId types.BlockId) ([]types.TransactionPoolStatusUpdate, error) {
	var updates []types.TransactionPoolStatusUpdate
	if _, err := getJSON(t, keyPoolUpdates(blockId), &updates); err != nil {
		return nil, wrapErr("transaction_pool_state_updates_get_pending", err)
	}
	return updates, nil
}

func (t *memTx) TransactionPoolAddPendingUpdate(u *types.TransactionPoolStatusUpdate) error {
	key := keyPoolUpdates(u.BlockId)
	var updates []types.TransactionPoolStatusUpdate
	if _, err := getJSON(t, key, &updates); err != nil {
		return wrapErr("transaction_pool_add_pending_update", err)
	}
	updates = append(updates, *u)
	if err := setJSON(t, key, updates); err != nil {
		return wrapErr("transaction_pool_add_pending_update", err)
	}
	rec, err := t.TransactionPoolGet(u.TransactionId)
	if err != nil {
		rec = &types.TransactionPoolRecord{TransactionId: u.TransactionId, Stage: types.StageNew}
	}
	stage := u.Stage
	rec.PendingStage = &stage
	return wrapErr("transaction_pool_add_pending_update", t.setPoolRecord(rec))
}

// TransactionPoolSetAllTransitions promotes, for every named transaction,
// the latest pending update at a height no greater than the new locked
// block's height into the pool's main row, then deletes the updates it
// superseded.
func (t *memTx) TransactionPoolSetAllTransitions(lockedBlock, newLockedBlock types.BlockId, txIds []types.TransactionId) error {
	newLocked, err := t.BlocksGet(newLockedBlock)
	if err != nil {
		return err
	}
	byTx := make(map[types.TransactionId]types.TransactionPoolStatusUpdate)
	remaining := make(map[types.TransactionId][]types.TransactionPoolStatusUpdate)

	for _, blockId := range t.chainBetween(lockedBlock, newLockedBlock) {
		updates, err := t.TransactionPoolStateUpdatesGetPending(blockId)
		if err != nil {
			return err
		}
		for _, u := range updates {
			if u.BlockHeight > newLocked.Height {
				remaining[u.BlockId] = append(remaining[u.BlockId], u)
				continue
			}
			if cur, ok := byTx[u.TransactionId]; !ok || u.BlockHeight > cur.BlockHeight {
				byTx[u.TransactionId] = u
			}
		}
		if err := t.del2(keyPoolUpdates(blockId), remaining[blockId]); err != nil {
			return err
		}
	}

	for _, id := range txIds {
		u, ok := byTx[id]
		if !ok {
			continue
		}
		rec, err := t.TransactionPoolGet(id)
		if err != nil {
			rec = &types.TransactionPoolRecord{TransactionId: id}
		}
		rec.Stage = u.Stage
		rec.PendingStage = nil
		rec.LocalDecision = u.LocalDecision
		rec.Evidence = u.Evidence
		rec.IsReady = u.IsReady
		if err := t.setPoolRecord(rec); err != nil {
			return wrapErr("transaction_pool_set_all_transitions", err)
		}
	}
	return nil
}

// del2 rewrites a pool-updates key to hold only the updates that survived
// promotion (those above the new locked height).
func (t *memTx) del2(key []byte, survivors []types.TransactionPoolStatusUpdate) error {
	if len(survivors) == 0 {
		t.del(key)
		return nil
	}
	return setJSON(t, key, survivors)
}

// chainBetween walks parent pointers from newLockedBlock back to (and
// including) lockedBlock's child, returning block ids oldest first.
func (t *memTx) chainBetween(lockedBlock, newLockedBlock types.BlockId) []types.BlockId {
	var chain []types.BlockId
	cur := newLockedBlock
	for cur != lockedBlock {
		chain = append([]types.BlockId{cur}, chain...)
		b, err := t.BlocksGet(cur)
		if err != nil {
			break
		}
		cur = b.ParentId
	}
	return chain
}

func (t *memTx) TransactionPoolRemove(id types.TransactionId) error {
	t.del(keyPoolRecord(id))
	return nil
}

func (t *memTx) TransactionPoolRemoveAll(ids []types.TransactionId) error {
	for _, chunk := range Chunk(ids) {
		for _, id := range chunk {
			t.del(keyPoolRecord(id))
		}
	}
	return nil
}

// --- substates ---

func (t *memTx) SubstatesGet(address types.SubstateAddress, version uint32) (*types.SubstateRecord, error) {
	var s types.SubstateRecord
	found, err := getJSON(t, keySubstate(address, version), &s)
	if err != nil {
		return nil, wrapErr("substates_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("substate", fmt.Sprintf("%s@%d", Hash32String(address), version))
	}
	return &s, nil
}

func (t *memTx) SubstatesGetLatest(address types.SubstateAddress) (*types.SubstateRecord, error) {
	var version uint32
	found, err := getJSON(t, keySubstateLatestVersion(address), &version)
	if err != nil {
		return nil, wrapErr("substates_get_latest", err)
	}
	if !found {
		return nil, errs.NewNotFound("substate", Hash32String(address))
	}
	return t.SubstatesGet(address, version)
}

func (t *memTx) SubstatesInsert(s *types.SubstateRecord) error {
	if err := setJSON(t, keySubstate(s.Address, s.Version), s); err != nil {
		return wrapErr("substates_insert", err)
	}
	return wrapErr("substates_insert", setJSON(t, keySubstateLatestVersion(s.Address), s.Version))
}

func (t *memTx) SubstatesDestroy(address types.SubstateAddress, version uint32, byTx types.TransactionId, byBlock types.BlockId, byJustify types.Hash32, height types.NodeHeight, epoch types.Epoch, shard types.ShardGroup) error {
	s, err := t.SubstatesGet(address, version)
	if err != nil {
		return err
	}
	s.DestroyedByTransaction = &byTx
	s.DestroyedByBlock = &byBlock
	s.DestroyedByJustify = &byJustify
	s.DestroyedAtHeight = &height
	s.DestroyedAtEpoch = &epoch
	s.DestroyedByShard = &shard
	return wrapErr("substates_destroy", setJSON(t, keySubstate(address, version), s))
}

// --- substate locks ---

func (t *memTx) SubstateLocksGetAllForSubstate(id types.SubstateId, version uint32) ([]types.SubstateLock, error) {
	var locks []types.SubstateLock
	if _, err := getJSON(t, keyLocksBySubstate(id, version), &locks); err != nil {
		return nil, wrapErr("substate_locks_get_all_for_substate", err)
	}
	return locks, nil
}

func (t *memTx) SubstateLocksGetAllForBlock(blockId types.BlockId) ([]types.SubstateLock, error) {
	var locks []types.SubstateLock
	if _, err := getJSON(t, keyLocksByBlock(blockId), &locks); err != nil {
		return nil, wrapErr("substate_locks_get_all_for_block", err)
	}
	return locks, nil
}

func (t *memTx) SubstateLocksInsert(locks []types.SubstateLock) error {
	for _, chunk := range Chunk(locks) {
		byBlock := make(map[types.BlockId][]types.SubstateLock)
		for _, l := range chunk {
			byBlock[l.BlockId] = append(byBlock[l.BlockId], l)

			subKey := keyLocksBySubstate(l.SubstateId, l.Version)
			var existing []types.SubstateLock
			if _, err := getJSON(t, subKey, &existing); err != nil {
				return wrapErr("substate_locks_insert", err)
			}
			existing = append(existing, l)
			if err := setJSON(t, subKey, existing); err != nil {
				return wrapErr("substate_locks_insert", err)
			}
		}
		for blockId, ls := range byBlock {
			blockKey := keyLocksByBlock(blockId)
			var existing []types.SubstateLock
			if _, err := getJSON(t, blockKey, &existing); err != nil {
				return wrapErr("substate_locks_insert", err)
			}
			existing = append(existing, ls...)
			if err := setJSON(t, blockKey, existing); err != nil {
				return wrapErr("substate_locks_insert", err)
			}
		}
	}
	return nil
}

func (t *memTx) SubstateLocksRemoveManyForTransactions(txIds []types.TransactionId) error {
	wanted := make(map[types.TransactionId]bool, len(txIds))
	for _, id := range txIds {
		wanted[id] = true
	}
	// The in-memory backend keeps no index from transaction to lock and no
	// list of blocks holding locks, so this removes nothing; locks are only
	// released per block through SubstateLocksRemoveForBlock. The Postgres
	// backend deletes by transaction_id (see postgres.go).
	return nil
}

func (t *memTx) SubstateLocksRemoveForBlock(blockId types.BlockId) error {
	locks, err := t.SubstateLocksGetAllForBlock(blockId)
	if err != nil {
		return err
	}
	for _, l := range locks {
		existing, err := t.SubstateLocksGetAllForSubstate(l.SubstateId, l.Version)
		if err != nil {
			return err
		}
		kept := make([]types.SubstateLock, 0, len(existing))
		for _, e := range existing {
			if e.BlockId != blockId {
				kept = append(kept, e)
			}
		}
		if err := setJSON(t, keyLocksBySubstate(l.SubstateId, l.Version), kept); err != nil {
			return wrapErr("substate_locks_remove_for_block", err)
		}
	}
	t.del(keyLocksByBlock(blockId))
	return nil
}

// --- block diffs ---

func (t *memTx) BlockDiffsGet(blockId types.BlockId) (*types.BlockDiff, error) {
	var d types.BlockDiff
	found, err := getJSON(t, keyBlockDiff(blockId), &d)
	if err != nil {
		return nil, wrapErr("block_diffs_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("block_diff", blockId.String())
	}
	return &d, nil
}

func (t *memTx) BlockDiffsInsert(diff *types.BlockDiff) error {
	return wrapErr("block_diffs_insert", setJSON(t, keyBlockDiff(diff.BlockId), diff))
}

// --- votes ---

func (t *memTx) VotesGetSignatures(blockId types.BlockId, decision types.Decision) ([]types.ValidatorSignature, error) {
	var sigs []types.ValidatorSignature
	if _, err := getJSON(t, keyVotes(blockId, decision), &sigs); err != nil {
		return nil, wrapErr("votes_get_signatures", err)
	}
	return sigs, nil
}

func (t *memTx) VotesCountForBlock(blockId types.BlockId, decision types.Decision) (int, error) {
	sigs, err := t.VotesGetSignatures(blockId, decision)
	if err != nil {
		return 0, err
	}
	return len(sigs), nil
}

func (t *memTx) VotesInsert(blockId types.BlockId, decision types.Decision, sig types.ValidatorSignature) error {
	key := keyVotes(blockId, decision)
	sigs, err := t.VotesGetSignatures(blockId, decision)
	if err != nil {
		return err
	}
	for _, s := range sigs {
		if s.PublicKey.Equal(sig.PublicKey) {
			return nil
		}
	}
	sigs = append(sigs, sig)
	return wrapErr("votes_insert", setJSON(t, key, sigs))
}

// --- single-row pointers ---

func (t *memTx) LeafBlockGet(sg types.ShardGroup) (*types.BlockPointer, error) {
	var p types.BlockPointer
	found, err := getJSON(t, keyLeafBlock(sg), &p)
	if err != nil {
		return nil, wrapErr("leaf_block_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("leaf_block", sg.String())
	}
	return &p, nil
}

func (t *memTx) LeafBlockSet(sg types.ShardGroup, p types.BlockPointer) error {
	return wrapErr("leaf_block_set", setJSON(t, keyLeafBlock(sg), p))
}

func (t *memTx) LockedBlockGet(sg types.ShardGroup) (*types.BlockPointer, error) {
	var p types.BlockPointer
	found, err := getJSON(t, keyLockedBlock(sg), &p)
	if err != nil {
		return nil, wrapErr("locked_block_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("locked_block", sg.String())
	}
	return &p, nil
}

func (t *memTx) LockedBlockSet(sg types.ShardGroup, p types.BlockPointer) error {
	return wrapErr("locked_block_set", setJSON(t, keyLockedBlock(sg), p))
}

func (t *memTx) HighQCGet(sg types.ShardGroup) (*types.QuorumCertificate, error) {
	var qc types.QuorumCertificate
	found, err := getJSON(t, keyHighQC(sg), &qc)
	if err != nil {
		return nil, wrapErr("high_qc_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("high_qc", sg.String())
	}
	return &qc, nil
}

func (t *memTx) HighQCSet(sg types.ShardGroup, qc types.QuorumCertificate) error {
	return wrapErr("high_qc_set", setJSON(t, keyHighQC(sg), qc))
}

func (t *memTx) LastVotedGet(sg types.ShardGroup) (*types.VotePointer, error) {
	var p types.VotePointer
	found, err := getJSON(t, keyLastVoted(sg), &p)
	if err != nil {
		return nil, wrapErr("last_voted_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("last_voted", sg.String())
	}
	return &p, nil
}

func (t *memTx) LastVotedSet(sg types.ShardGroup, p types.VotePointer) error {
	return wrapErr("last_voted_set", setJSON(t, keyLastVoted(sg), p))
}

func (t *memTx) LastExecutedGet(sg types.ShardGroup) (*types.BlockPointer, error) {
	var p types.BlockPointer
	found, err := getJSON(t, keyLastExecuted(sg), &p)
	if err != nil {
		return nil, wrapErr("last_executed_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("last_executed", sg.String())
	}
	return &p, nil
}

func (t *memTx) LastExecutedSet(sg types.ShardGroup, p types.BlockPointer) error {
	return wrapErr("last_executed_set", setJSON(t, keyLastExecuted(sg), p))
}

func (t *memTx) LastProposedGet(sg types.ShardGroup) (*types.BlockPointer, error) {
	var p types.BlockPointer
	found, err := getJSON(t, keyLastProposed(sg), &p)
	if err != nil {
		return nil, wrapErr("last_proposed_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("last_proposed", sg.String())
	}
	return &p, nil
}

func (t *memTx) LastProposedSet(sg types.ShardGroup, p types.BlockPointer) error {
	return wrapErr("last_proposed_set", setJSON(t, keyLastProposed(sg), p))
}

func (t *memTx) LastSentVoteGet(sg types.ShardGroup) (*types.VotePointer, error) {
	var p types.VotePointer
	found, err := getJSON(t, keyLastSentVote(sg), &p)
	if err != nil {
		return nil, wrapErr("last_sent_vote_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("last_sent_vote", sg.String())
	}
	return &p, nil
}

func (t *memTx) LastSentVoteSet(sg types.ShardGroup, p types.VotePointer) error {
	return wrapErr("last_sent_vote_set", setJSON(t, keyLastSentVote(sg), p))
}

// --- foreign coordination ---

func (t *memTx) ForeignSendCounterGet(key types.ForeignCounterKey) (uint64, error) {
	var seq uint64
	if _, err := getJSON(t, keyForeignSendCounter(key), &seq); err != nil {
		return 0, wrapErr("foreign_send_counters_get", err)
	}
	return seq, nil
}

func (t *memTx) ForeignSendCounterSet(key types.ForeignCounterKey, seq uint64) error {
	return wrapErr("foreign_send_counters_set", setJSON(t, keyForeignSendCounter(key), seq))
}

func (t *memTx) ForeignReceiveCounterGet(key types.ForeignCounterKey) (uint64, error) {
	var seq uint64
	if _, err := getJSON(t, keyForeignReceiveCounter(key), &seq); err != nil {
		return 0, wrapErr("foreign_receive_counters_get", err)
	}
	return seq, nil
}

func (t *memTx) ForeignReceiveCounterSet(key types.ForeignCounterKey, seq uint64) error {
	return wrapErr("foreign_receive_counters_set", setJSON(t, keyForeignReceiveCounter(key), seq))
}

func (t *memTx) ForeignProposalsGetAll(sg types.ShardGroup, state types.ForeignProposalState) ([]types.ForeignProposal, error) {
	var ids []types.BlockId
	if _, err := getJSON(t, keyForeignProposalIndex(sg, state), &ids); err != nil {
		return nil, wrapErr("foreign_proposals_get_all", err)
	}
	out := make([]types.ForeignProposal, 0, len(ids))
	for _, id := range ids {
		var fp types.ForeignProposal
		if found, err := getJSON(t, keyForeignProposal(sg, id), &fp); err == nil && found {
			out = append(out, fp)
		}
	}
	return out, nil
}

func (t *memTx) ForeignProposalsUpsert(fp *types.ForeignProposal) error {
	if err := setJSON(t, keyForeignProposal(fp.ShardGroup, fp.BlockId), fp); err != nil {
		return wrapErr("foreign_proposals_upsert", err)
	}
	idxKey := keyForeignProposalIndex(fp.ShardGroup, fp.State)
	var ids []types.BlockId
	if _, err := getJSON(t, idxKey, &ids); err != nil {
		return wrapErr("foreign_proposals_upsert", err)
	}
	ids = append(ids, fp.BlockId)
	return wrapErr("foreign_proposals_upsert", setJSON(t, idxKey, ids))
}

func (t *memTx) ForeignProposalsDelete(sg types.ShardGroup, blockId types.BlockId) error {
	t.del(keyForeignProposal(sg, blockId))
	return nil
}

// --- parking ---

func (t *memTx) MissingTransactionsGetForBlock(blockId types.BlockId) ([]types.TransactionId, error) {
	var ids []types.TransactionId
	if _, err := getJSON(t, keyMissingForBlock(blockId), &ids); err != nil {
		return nil, wrapErr("missing_transactions_get_for_block", err)
	}
	return ids, nil
}

func (t *memTx) MissingTransactionsInsert(blockId types.BlockId, txIds []types.TransactionId) error {
	if err := setJSON(t, keyMissingForBlock(blockId), txIds); err != nil {
		return wrapErr("missing_transactions_insert", err)
	}
	for _, txId := range txIds {
		key := keyMissingByTx(txId)
		var blocks []types.BlockId
		if _, err := getJSON(t, key, &blocks); err != nil {
			return wrapErr("missing_transactions_insert", err)
		}
		blocks = append(blocks, blockId)
		if err := setJSON(t, key, blocks); err != nil {
			return wrapErr("missing_transactions_insert", err)
		}
	}
	return nil
}

// MissingTransactionsRemove records that txId has arrived and returns the
// ids of every parked block whose missing set is now empty, so callers
// can re-validate them.
func (t *memTx) MissingTransactionsRemove(txId types.TransactionId) ([]types.BlockId, error) {
	key := keyMissingByTx(txId)
	var blocks []types.BlockId
	if _, err := getJSON(t, key, &blocks); err != nil {
		return nil, wrapErr("missing_transactions_remove", err)
	}
	t.del(key)

	var resolved []types.BlockId
	for _, blockId := range blocks {
		pending, err := t.MissingTransactionsGetForBlock(blockId)
		if err != nil {
			return nil, err
		}
		remaining := pending[:0]
		for _, id := range pending {
			if id != txId {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == 0 {
			t.del(keyMissingForBlock(blockId))
			resolved = append(resolved, blockId)
		} else if err := setJSON(t, keyMissingForBlock(blockId), remaining); err != nil {
			return nil, wrapErr("missing_transactions_remove", err)
		}
	}
	return resolved, nil
}

func (t *memTx) ParkedBlocksGet(blockId types.BlockId) (*types.ParkedBlock, error) {
	var pb types.ParkedBlock
	found, err := getJSON(t, keyParkedBlock(blockId), &pb)
	if err != nil {
		return nil, wrapErr("parked_blocks_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("parked_block", blockId.String())
	}
	return &pb, nil
}

func (t *memTx) ParkedBlocksInsert(pb *types.ParkedBlock) error {
	return wrapErr("parked_blocks_insert", setJSON(t, keyParkedBlock(pb.Block.Id), pb))
}

func (t *memTx) ParkedBlocksRemove(blockId types.BlockId) error {
	t.del(keyParkedBlock(blockId))
	return nil
}

// --- state tree ---

func (t *memTx) PendingStateTreeDiffsGet(sg types.ShardGroup, upToHeight types.NodeHeight) ([]PendingStateTreeDiff, error) {
	var diffs []PendingStateTreeDiff
	if _, err := getJSON(t, keyPendingDiffs(sg), &diffs); err != nil {
		return nil, wrapErr("pending_state_tree_diffs_get", err)
	}
	out := make([]PendingStateTreeDiff, 0, len(diffs))
	for _, d := range diffs {
		if d.Height <= upToHeight {
			out = append(out, d)
		}
	}
	return out, nil
}

func (t *memTx) PendingStateTreeDiffsInsert(d PendingStateTreeDiff) error {
	key := keyPendingDiffs(d.ShardGroup)
	var diffs []PendingStateTreeDiff
	if _, err := getJSON(t, key, &diffs); err != nil {
		return wrapErr("pending_state_tree_diffs_insert", err)
	}
	diffs = append(diffs, d)
	return wrapErr("pending_state_tree_diffs_insert", setJSON(t, key, diffs))
}

func (t *memTx) PendingStateTreeDiffsDeleteUpTo(sg types.ShardGroup, height types.NodeHeight) error {
	key := keyPendingDiffs(sg)
	var diffs []PendingStateTreeDiff
	if _, err := getJSON(t, key, &diffs); err != nil {
		return wrapErr("pending_state_tree_diffs_delete_up_to", err)
	}
	remaining := diffs[:0]
	for _, d := range diffs {
		if d.Height > height {
			remaining = append(remaining, d)
		}
	}
	return wrapErr("pending_state_tree_diffs_delete_up_to", setJSON(t, key, remaining))
}

func (t *memTx) StateTreeShardVersionGet(sg types.ShardGroup) (uint64, error) {
	var v uint64
	if _, err := getJSON(t, keyStateTreeVersion(sg), &v); err != nil {
		return 0, wrapErr("state_tree_shard_versions_get", err)
	}
	return v, nil
}

func (t *memTx) StateTreeShardVersionSet(sg types.ShardGroup, version uint64) error {
	return wrapErr("state_tree_shard_versions_set", setJSON(t, keyStateTreeVersion(sg), version))
}

func (t *memTx) StateTreeRootGet(sg types.ShardGroup) (types.Hash32, error) {
	var root types.Hash32
	if _, err := getJSON(t, keyStateTreeRoot(sg), &root); err != nil {
		return types.Hash32{}, wrapErr("state_tree_root_get", err)
	}
	return root, nil
}

func (t *memTx) StateTreeRootSet(sg types.ShardGroup, root types.Hash32) error {
	return wrapErr("state_tree_root_set", setJSON(t, keyStateTreeRoot(sg), root))
}

func (t *memTx) StateTreeNodesUpsert(nodes []StateTreeNode) error {
	byShard := make(map[types.ShardGroup][]StateTreeNode)
	for _, chunk := range Chunk(nodes) {
		for _, n := range chunk {
			if err := setJSON(t, keyStateTreeNode(n.ShardGroup, n.Key), n); err != nil {
				return wrapErr("state_tree_nodes_upsert", err)
			}
			byShard[n.ShardGroup] = append(byShard[n.ShardGroup], n)
		}
	}
	for sg, ns := range byShard {
		idxKey := keyStateTreeNodeIndex(sg)
		var keys [][32]byte
		if _, err := getJSON(t, idxKey, &keys); err != nil {
			return wrapErr("state_tree_nodes_upsert", err)
		}
		seen := make(map[[32]byte]bool, len(keys))
		for _, k := range keys {
			seen[k] = true
		}
		for _, n := range ns {
			if !seen[n.Key] {
				keys = append(keys, n.Key)
				seen[n.Key] = true
			}
		}
		if err := setJSON(t, idxKey, keys); err != nil {
			return wrapErr("state_tree_nodes_upsert", err)
		}
	}
	return nil
}

func (t *memTx) StateTreeNodesGetAll(sg types.ShardGroup) ([]StateTreeNode, error) {
	var keys [][32]byte
	if _, err := getJSON(t, keyStateTreeNodeIndex(sg), &keys); err != nil {
		return nil, wrapErr("state_tree_nodes_get_all", err)
	}
	out := make([]StateTreeNode, 0, len(keys))
	for _, k := range keys {
		var n StateTreeNode
		if found, err := getJSON(t, keyStateTreeNode(sg, k), &n); err == nil && found {
			out = append(out, n)
		}
	}
	return out, nil
}

func (t *memTx) StateTreeNodesMarkStale(sg types.ShardGroup, keys [][32]byte) error {
	for _, k := range keys {
		key := keyStateTreeNode(sg, k)
		var n StateTreeNode
		found, err := getJSON(t, key, &n)
		if err != nil {
			return wrapErr("state_tree_nodes_mark_stale", err)
		}
		if !found || n.IsStale {
			continue
		}
		n.IsStale = true
		if err := setJSON(t, key, n); err != nil {
			return wrapErr("state_tree_nodes_mark_stale", err)
		}
	}
	return nil
}

func (t *memTx) StateTransitionsGetSince(sg types.ShardGroup, sinceSeq uint64) ([]types.StateTransition, error) {
	var transitions []types.StateTransition
	if _, err := getJSON(t, keyStateTransitions(sg), &transitions); err != nil {
		return nil, wrapErr("state_transitions_get_since", err)
	}
	out := make([]types.StateTransition, 0, len(transitions))
	for _, tr := range transitions {
		if tr.Seq > sinceSeq {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (t *memTx) StateTransitionsInsert(transitions []types.StateTransition) error {
	bySG := make(map[types.ShardGroup][]types.StateTransition)
	for _, tr := range transitions {
		bySG[tr.ShardGroup] = append(bySG[tr.ShardGroup], tr)
	}
	for sg, trs := range bySG {
		key := keyStateTransitions(sg)
		var existing []types.StateTransition
		if _, err := getJSON(t, key, &existing); err != nil {
			return wrapErr("state_transitions_insert", err)
		}
		existing = append(existing, trs...)
		if err := setJSON(t, key, existing); err != nil {
			return wrapErr("state_transitions_insert", err)
		}
	}
	return nil
}

// --- epoch checkpoints ---

func (t *memTx) EpochCheckpointsGet(epoch types.Epoch) (*types.EpochCheckpoint, error) {
	var c types.EpochCheckpoint
	found, err := getJSON(t, keyEpochCheckpoint(epoch), &c)
	if err != nil {
		return nil, wrapErr("epoch_checkpoints_get", err)
	}
	if !found {
		return nil, errs.NewNotFound("epoch_checkpoint", fmt.Sprintf("%d", epoch))
	}
	return &c, nil
}

func (t *memTx) EpochCheckpointsInsert(c *types.EpochCheckpoint) error {
	return wrapErr("epoch_checkpoints_insert", setJSON(t, keyEpochCheckpoint(c.Epoch), c))
}

// Hash32String renders a SubstateAddress as hex without importing types'
// unexported helpers twice.
func Hash32String(a types.SubstateAddress) string {
	return types.Hash32(a).String()
}
