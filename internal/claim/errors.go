package claim

import "fmt"

// LockContentionError means another transaction currently holds the advisory
// lock for this event: a peer is actively working it. Expected control flow,
// not a defect. Callers should back off and retry later.
type LockContentionError struct {
	EventID string
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("event %q is locked by another consumer", e.EventID)
}

// AlreadyCompletedError means the event was fully processed by a prior,
// committed transaction. Expected control flow. Callers should treat the
// delivery as a successful no-op and drop it.
type AlreadyCompletedError struct {
	EventID string
}

func (e *AlreadyCompletedError) Error() string {
	return fmt.Sprintf("event %q already completed", e.EventID)
}
