package crawler

import (
	"context"
	"time"
)

// TimerPauser sleeps on a timer and returns early when ctx is done.
type TimerPauser struct{}

// Pause blocks for delay or until ctx ends.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// NoPause never sleeps. Tests use it to keep retry loops fast.
type NoPause struct{}

// Pause returns immediately.
func (NoPause) Pause(context.Context, time.Duration) {}
