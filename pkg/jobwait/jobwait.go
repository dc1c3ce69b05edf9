// Package jobwait waits for an asynchronous remote job to leave its running state.
//
// The remote status vocabulary is opaque: StatusRunning is the only non-terminal value and every
// other status (including the empty string) ends the wait.
package jobwait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// Status is a remote job status as reported by the status endpoint.
type Status string

// StatusRunning is the only status that keeps the waiter polling.
const StatusRunning Status = "running"

// Terminal reports whether s ends a wait.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// FetchFunc reads the current job status. Implementations close over the job handle.
type FetchFunc func(ctx context.Context) (Status, error)

// ErrInvalidOptions is returned before any fetch when Interval or Deadline is not positive.
var ErrInvalidOptions = errors.New("jobwait: interval and deadline must be positive")

// Options configures a wait.
type Options struct {
	// Interval is the fixed delay between two status fetches.
	Interval time.Duration
	// Deadline is the maximum total wait, measured from the start of Wait.
	Deadline time.Duration

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

func (o Options) validate() error {
	if o.Interval <= 0 || o.Deadline <= 0 {
		return fmt.Errorf("%w (interval=%s deadline=%s)", ErrInvalidOptions, o.Interval, o.Deadline)
	}
	return nil
}

// Waiter is a reusable Options binding. The zero value is not usable.
type Waiter struct {
	opts Options
}

// NewWaiter returns a Waiter for opts.
func NewWaiter(opts Options) *Waiter {
	return &Waiter{opts: opts}
}

// Wait polls with the bound options. See Wait.
func (w *Waiter) Wait(ctx context.Context, fetch FetchFunc) (Status, error) {
	return Wait(ctx, fetch, w.opts)
}

// Wait calls fetch until it reports a terminal status and returns that status.
//
// Between fetches Wait sleeps one Interval, shortened so that it never sleeps past the
// deadline. When the elapsed time reaches the deadline while the job is still running, Wait
// fails with *TimeoutError without fetching again; the reported Elapsed is then at least the
// deadline and less than the deadline plus one Interval. A Deadline shorter than the Interval
// allows exactly one fetch and no sleep. A fetch error is returned at once as *FetchError and
// is not retried. When ctx ends, Wait stops polling and fails with *CanceledError.
func Wait(ctx context.Context, fetch FetchFunc, opts Options) (Status, error) {
	if fetch == nil {
		return "", errors.New("jobwait: fetch is required")
	}
	if err := opts.validate(); err != nil {
		return "", err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	start := clk.Now()
	polls := 0
	timeout := func(last Status) error {
		return &TimeoutError{
			Elapsed:    clk.Since(start),
			Deadline:   opts.Deadline,
			Polls:      polls,
			LastStatus: last,
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", &CanceledError{Elapsed: clk.Since(start), Polls: polls, Err: err}
		}

		status, err := fetch(ctx)
		polls++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", &CanceledError{Elapsed: clk.Since(start), Polls: polls, Err: ctxErr}
			}
			return "", &FetchError{Polls: polls, Err: err}
		}
		if status.Terminal() {
			return status, nil
		}

		elapsed := clk.Since(start)
		if elapsed >= opts.Deadline || opts.Deadline < opts.Interval {
			return "", timeout(status)
		}

		sleep := min(opts.Interval, opts.Deadline-elapsed)
		timer := clk.Timer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", &CanceledError{Elapsed: clk.Since(start), Polls: polls, Err: ctx.Err()}
		}

		if clk.Since(start) >= opts.Deadline {
			return "", timeout(status)
		}
	}
}
