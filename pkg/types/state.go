package types

import (
	"fmt"
)

// IsValidTaskTransition validates task status transitions.
//
// Valid transitions:
//
//	NOT_STARTED -> IN_PROGRESS | BLOCKED
//	IN_PROGRESS -> COMPLETED | BLOCKED | NOT_STARTED
//	BLOCKED     -> IN_PROGRESS | NOT_STARTED
//	COMPLETED   -> IN_PROGRESS (reopen)
//
// A transition to the current status is rejected.
func IsValidTaskTransition(current, next TaskStatus) bool {
	if current == next {
		return false
	}

	switch current {
	case TaskNotStarted:
		return next == TaskInProgress || next == TaskBlocked

	case TaskInProgress:
		return next == TaskCompleted || next == TaskBlocked || next == TaskNotStarted

	case TaskBlocked:
		return next == TaskInProgress || next == TaskNotStarted

	case TaskCompleted:
		return next == TaskInProgress

	default:
		return false // Unknown current status
	}
}

// Transition moves the task to next, stamping Started on first entry into
// IN_PROGRESS and Completed on entry into COMPLETED. Reopening clears Completed.
func (t *Task) Transition(next TaskStatus) error {
	if _, err := ParseTaskStatus(string(next)); err != nil {
		return err
	}
	if !IsValidTaskTransition(t.Status, next) {
		return fmt.Errorf("%w: task %s cannot move from %s to %s", ErrInvalidEnum, t.ID, t.Status, next)
	}

	now := Now()
	switch next {
	case TaskInProgress:
		if t.Started == "" {
			t.Started = now
		}
		t.Completed = ""
	case TaskCompleted:
		t.Completed = now
	}

	t.Status = next
	t.UpdatedAt = now
	return nil
}
