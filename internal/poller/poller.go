// Package poller repeats a status check on a fixed interval until it reports
// completion or a maximum number of attempts has been made.
package poller

import (
	"context"
	"errors"
	"time"
)

// Outcome is the terminal result of Poll.
type Outcome int

const (
	// Completed means the check reported the operation finished.
	Completed Outcome = iota + 1
	// AssumedBackground means attempts ran out while the operation was still
	// running. Callers treat it as success continuing out of band.
	AssumedBackground
	// Failed means the check returned an error and polling stopped.
	Failed
	// Cancelled means the context ended first.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case AssumedBackground:
		return "background"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Check is called once per attempt, starting at 1.
type Check func(ctx context.Context, attempt int) (done bool, err error)

type Poller struct {
	Interval    time.Duration
	MaxAttempts int
}

// ErrNoAttempts is returned when MaxAttempts is not positive.
var ErrNoAttempts = errors.New("poller: max attempts must be positive")

// Poll waits Interval before every attempt. It returns the Outcome and, for
// Failed or Cancelled, the error that ended polling.
func (p Poller) Poll(ctx context.Context, check Check) (Outcome, error) {
	if p.MaxAttempts <= 0 {
		return Failed, ErrNoAttempts
	}
	t := time.NewTimer(p.Interval)
	defer t.Stop()
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Cancelled, ctx.Err()
		case <-t.C:
		}
		done, err := check(ctx, attempt)
		if err != nil {
			return Failed, err
		}
		if done {
			return Completed, nil
		}
		t.Reset(p.Interval)
	}
	return AssumedBackground, nil
}
