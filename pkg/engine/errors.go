package engine

import "errors"

var (
	// ErrEntityNotFound is returned by adapters when the triggering entity no longer exists.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidApprovalSubject means an approval-gated workflow has no user-owned record to
	// attach the approval to.
	ErrInvalidApprovalSubject = errors.New("invalid approval subject")

	// ErrApprovalTaskCreation means the adapter could not open the approval task.
	ErrApprovalTaskCreation = errors.New("approval task creation failed")

	// ErrUnexpectedTaskState means a resume arrived with a decision the engine cannot apply.
	ErrUnexpectedTaskState = errors.New("unexpected approval task state")

	// ErrExecutionRunning means a resume arrived before the triggering call finished writing the
	// pause. The resume should be retried.
	ErrExecutionRunning = errors.New("execution still running")

	// ErrActionBudgetExhausted is recorded for actions past the per-call action cap.
	ErrActionBudgetExhausted = errors.New("action budget exhausted")

	// ErrInvalidTriggerRequest is returned for requests missing the organization, trigger type
	// or entity.
	ErrInvalidTriggerRequest = errors.New("invalid trigger request")
)

func IsEntityNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}
