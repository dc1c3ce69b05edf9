package jobwait

import (
	"fmt"
	"time"
)

// TimeoutError reports that the job was still running when the deadline was reached.
type TimeoutError struct {
	Elapsed    time.Duration
	Deadline   time.Duration
	Polls      int
	LastStatus Status
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("jobwait: job still %s after %s (deadline %s, %d polls)",
		e.LastStatus, e.Elapsed.Round(time.Millisecond), e.Deadline, e.Polls)
}

// Timeout lets callers treat TimeoutError like a net.Error timeout.
func (e *TimeoutError) Timeout() bool { return true }

// CanceledError reports that the caller abandoned the wait.
type CanceledError struct {
	Elapsed time.Duration
	Polls   int
	// Err is the context error that ended the wait.
	Err error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("jobwait: wait canceled after %s (%d polls): %v", e.Elapsed.Round(time.Millisecond), e.Polls, e.Err)
}

func (e *CanceledError) Unwrap() error { return e.Err }

// FetchError wraps a failure of the status fetch. It is never retried by the waiter.
type FetchError struct {
	Polls int
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("jobwait: status fetch %d failed: %v", e.Polls, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
