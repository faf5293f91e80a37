package sched

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError reports that a task's timeout elapsed before its invocation
// settled. The invocation itself is not interrupted; it keeps running to
// whatever conclusion it reaches, unobserved.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task timed out after %s", e.After)
}

// IsTimeout reports whether err was synthesized by a task timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// normalizePanic converts a recovered panic value into an error.
// Error values are carried as-is, anything else is wrapped.
func normalizePanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
