package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPutTimer(t *testing.T) {
	timer := GetTimer(10 * time.Millisecond)
	require.NotNil(t, timer)

	select {
	case <-timer.C:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	PutTimer(timer)

	// Reused timers must not carry a stale tick.
	timer = GetTimer(time.Hour)
	select {
	case <-timer.C:
		t.Fatal("reused timer fired early")
	default:
	}
	PutTimer(timer)
}

func TestSleep_Elapses(t *testing.T) {
	start := time.Now()
	ok := Sleep(context.Background(), 20*time.Millisecond)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	ok := Sleep(ctx, 5*time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleep_ZeroDuration(t *testing.T) {
	assert.True(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Sleep(ctx, 0))
}
