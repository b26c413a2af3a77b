package substate

import (
	"errors"
	"fmt"

	"github.com/shardfabric/dancore/pkg/errs"
	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/types"
)

// ResolveLock looks up the version a lock on address should target: the
// current latest version for an input being read or written, or the next
// version for an output a transaction is about to create.
func ResolveLock(tx store.ReadTx, address types.SubstateAddress, mode types.LockMode) (types.SubstateLock, error) {
	id := types.SubstateIdFor(address)
	var version uint32
	switch mode {
	case types.LockRead, types.LockWrite:
		latest, err := tx.SubstatesGetLatest(address)
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			return types.SubstateLock{}, fmt.Errorf("substate: %s has no existing version to lock for read/write", id)
		}
		if err != nil {
			return types.SubstateLock{}, err
		}
		version = latest.Version
	case types.LockOutput:
		latest, err := tx.SubstatesGetLatest(address)
		var nf *errs.NotFoundError
		switch {
		case errors.As(err, &nf):
			version = 0
		case err != nil:
			return types.SubstateLock{}, err
		default:
			version = latest.NextVersion()
		}
	default:
		return types.SubstateLock{}, fmt.Errorf("substate: unknown lock mode %q", mode)
	}
	return types.SubstateLock{SubstateId: id, Version: version, Mode: mode}, nil
}

// CheckConflicts reports an error if candidate conflicts with any lock
// already held on the same (substate_id, version).
func CheckConflicts(existing []types.SubstateLock, candidate types.SubstateLock) error {
	for _, l := range existing {
		if l.SubstateId != candidate.SubstateId || l.Version != candidate.Version {
			continue
		}
		if l.TransactionId == candidate.TransactionId {
			continue
		}
		if l.Mode.Conflicts(candidate.Mode) || candidate.Mode.Conflicts(l.Mode) {
			return &LockConflictError{
				SubstateId: string(candidate.SubstateId),
				Version:    candidate.Version,
				Held:       string(l.Mode),
				Wanted:     string(candidate.Mode),
			}
		}
	}
	return nil
}

// forEachLock resolves the lock each of record's resolved inputs (Read)
// and resulting outputs (Output) would need and hands each, in order, to
// fn. An error from fn (a conflict or a store failure) stops iteration
// and is returned as-is.
func forEachLock(tx store.ReadTx, record *types.TransactionRecord, fn func(types.SubstateLock) error) error {
	for _, addr := range record.ResolvedInputs {
		lock, err := ResolveLock(tx, addr, types.LockRead)
		if err != nil {
			return err
		}
		lock.TransactionId = record.Id
		if err := fn(lock); err != nil {
			return err
		}
	}
	for _, addr := range record.ResultingOutputs {
		lock, err := ResolveLock(tx, addr, types.LockOutput)
		if err != nil {
			return err
		}
		lock.TransactionId = record.Id
		if err := fn(lock); err != nil {
			return err
		}
	}
	return nil
}

// AcquireForTransaction resolves and locks every address a transaction's
// resolved inputs (Read) and resulting outputs (Output) touch, failing if
// any lock conflicts with one a different pending transaction already
// holds. On success the locks are inserted for blockId/txId and returned.
func AcquireForTransaction(tx store.WriteTx, blockId types.BlockId, record *types.TransactionRecord) ([]types.SubstateLock, error) {
	var locks []types.SubstateLock
	err := forEachLock(tx, record, func(lock types.SubstateLock) error {
		lock.BlockId = blockId
		existing, err := tx.SubstateLocksGetAllForSubstate(lock.SubstateId, lock.Version)
		if err != nil {
			return err
		}
		if err := CheckConflicts(existing, lock); err != nil {
			return err
		}
		locks = append(locks, lock)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(locks) == 0 {
		return nil, nil
	}
	if err := tx.SubstateLocksInsert(locks); err != nil {
		return nil, err
	}
	return locks, nil
}

// CheckAvailability reports whether every lock record would need could be
// acquired right now, without acquiring or persisting anything. Propose
// uses this to decide which ready transactions belong in a block before a
// real block id exists to tie an acquired lock to.
func CheckAvailability(tx store.ReadTx, record *types.TransactionRecord) error {
	return forEachLock(tx, record, func(lock types.SubstateLock) error {
		existing, err := tx.SubstateLocksGetAllForSubstate(lock.SubstateId, lock.Version)
		if err != nil {
			return err
		}
		return CheckConflicts(existing, lock)
	})
}

// ReleaseForTransactions discards every lock a set of transactions holds,
// the path a discarded (never-committed) block takes.
func ReleaseForTransactions(tx store.WriteTx, txIds []types.TransactionId) error {
	if len(txIds) == 0 {
		return nil
	}
	return tx.SubstateLocksRemoveManyForTransactions(txIds)
}

// ReleaseForBlock discards every lock a specific block introduced.
func ReleaseForBlock(tx store.WriteTx, blockId types.BlockId) error {
	return tx.SubstateLocksRemoveForBlock(blockId)
}
