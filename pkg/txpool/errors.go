// Package txpool drives the transaction pool's finite state machine: the
// append-only pending-update log, promotion of pending updates into the
// pool's single row per transaction when a block locks, and completion
// cleanup.
package txpool

import "fmt"

// InvalidTransitionError reports a pending update that would move a
// transaction backward in the FSM, which the pool never allows.
type InvalidTransitionError struct {
	From, To string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("txpool: invalid transition %s -> %s", e.From, e.To)
}
