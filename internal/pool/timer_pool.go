// Package pool keeps reusable timers for the polling loops.
//
// The gateway loop sleeps in short, frequent intervals between polls of the
// link, so its timers are recycled instead of allocated per sleep.
package pool

import (
	"context"
	"sync"
	"time"
)

var timerPool = sync.Pool{
	New: func() any {
		t := time.NewTimer(time.Hour)
		t.Stop()

		return t
	},
}

// GetTimer returns a pooled timer that fires after d.
// Hand it back with PutTimer once done.
func GetTimer(d time.Duration) *time.Timer {
	t, _ := timerPool.Get().(*time.Timer)
	t.Reset(d)

	return t
}

// PutTimer stops t and returns it to the pool. t must not be used afterwards.
//
// Since Go 1.23 a stopped timer never delivers a stale value, so no drain is needed.
func PutTimer(t *time.Timer) {
	t.Stop()
	timerPool.Put(t)
}

// Sleep pauses for d or until ctx is done, whichever comes first.
// It returns false when ctx ended the sleep early.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := GetTimer(d)
	defer PutTimer(t)

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
