package retry

import (
	"fmt"
	"time"
)

// StallError reports an attempt aborted because its artifact stopped growing.
type StallError struct {
	Attempt int
	Size    int64
	Polls   int
}

func (e *StallError) Error() string {
	return fmt.Sprintf("attempt %d stalled at %d bytes after %d polls", e.Attempt, e.Size, e.Polls)
}

// TimeoutError reports an attempt killed by the per-attempt deadline.
type TimeoutError struct {
	Attempt int
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt %d timed out after %s", e.Attempt, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }
