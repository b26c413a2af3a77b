// Package substate implements the substate locking and versioning model:
// lock acquisition and conflict checking while a block is pending, and
// diff application against the durable substate table once a block
// three-chain commits.
package substate

import "fmt"

// LockConflictError reports that a candidate lock collides with a lock
// another pending block already holds on the same (substate_id, version).
type LockConflictError struct {
	SubstateId string
	Version    uint32
	Held       string
	Wanted     string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("substate: lock conflict on %s@%d: held=%s wanted=%s", e.SubstateId, e.Version, e.Held, e.Wanted)
}
