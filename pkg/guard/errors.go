package guard

import (
	"errors"
	"fmt"
)

// ErrRateLimitExceeded is matched by every *RateLimitError.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Scope names which ceiling a RateLimitError refers to.
type Scope string

const (
	ScopeHour Scope = "hour" // Per workflow, trailing hour
	ScopeDay  Scope = "day"  // Per workflow and entity, trailing day
)

// RateLimitError reports a ceiling that was reached, with the counts observed.
type RateLimitError struct {
	Scope      Scope
	WorkflowID string
	EntityID   string
	Current    int
	Limit      int
}

func (e *RateLimitError) Error() string {
	if e.Scope == ScopeDay {
		return fmt.Sprintf("rate limit exceeded: %d/%d executions per day for entity %s", e.Current, e.Limit, e.EntityID)
	}

	return fmt.Sprintf("rate limit exceeded: %d/%d executions per hour", e.Current, e.Limit)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// IsRateLimitExceeded reports whether err is a rate-limit rejection and returns it.
func IsRateLimitExceeded(err error) (*RateLimitError, bool) {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr, true
	}

	return nil, false
}
