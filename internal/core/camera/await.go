package camera

import (
	"context"
	"time"
)

// Outcome says how a camera operation finished.
type Outcome int

const (
	Completed Outcome = iota
	TimedOut
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	default:
		return "aborted"
	}
}

// Await blocks until done is closed, the safety window elapses or ctx is
// cancelled, whichever happens first. A nil done channel waits for the window.
// Only cancellation is reported as an error; a stalled surface is not.
func Await(ctx context.Context, done <-chan struct{}, window time.Duration) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Aborted, err
	}
	if window <= 0 {
		select {
		case <-done:
			return Completed, nil
		default:
			return TimedOut, nil
		}
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-done:
		return Completed, nil
	case <-timer.C:
		return TimedOut, nil
	case <-ctx.Done():
		return Aborted, ctx.Err()
	}
}

// Sleep waits for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	_, err := Await(ctx, nil, d)
	return err
}
