package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wingyeung0317/IBSP/forward"
	"github.com/wingyeung0317/IBSP/frame"
	"github.com/wingyeung0317/IBSP/internal/linktest"
	"github.com/wingyeung0317/IBSP/link"
	"github.com/wingyeung0317/IBSP/logger"
	"github.com/wingyeung0317/IBSP/timesync"
)

const waitFor = 2 * time.Second

func quietLogger() logger.Logger {
	return logger.NewSlogWithOptions(logger.DebugLevel, logger.SlogOptions{Output: io.Discard})
}

// testOptions keeps every wait in the millisecond range.
func testOptions(extra ...Option) []Option {
	opts := []Option{
		WithLogger(quietLogger()),
		WithReconnectBackoff(time.Millisecond),
		WithReopenRetry(time.Millisecond),
		WithPollInterval(time.Millisecond),
		WithTimeSyncInterval(0),
		WithReportInterval(0),
		WithFrameOptions(
			frame.WithHeaderWait(5*time.Millisecond),
			frame.WithBodyPolling(time.Millisecond, 20),
			frame.WithResyncPause(time.Millisecond),
		),
	}

	return append(opts, extra...)
}

// opener hands out scripted sources in order. Once exhausted, every
// further open fails.
type opener struct {
	mu      sync.Mutex
	results []any // *linktest.Source or error
	calls   int
}

func newOpener(results ...any) *opener {
	return &opener{results: results}
}

func (o *opener) open() (link.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls++
	if len(o.results) == 0 {
		return nil, errors.New("no device")
	}

	r := o.results[0]
	o.results = o.results[1:]
	if err, ok := r.(error); ok {
		return nil, err
	}

	return r.(*linktest.Source), nil
}

func (o *opener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.calls
}

// recordingSink stores delivered records and answers with a fixed status.
type recordingSink struct {
	mu      sync.Mutex
	status  int
	err     error
	records []forward.Record
}

func newRecordingSink() *recordingSink {
	return &recordingSink{status: http.StatusOK}
}

func (s *recordingSink) Deliver(_ context.Context, rec forward.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)

	return s.status, s.err
}

func (s *recordingSink) Records() []forward.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]forward.Record(nil), s.records...)
}

func newTestGateway(t *testing.T, open *opener, sink forward.Sink, opts ...Option) *Gateway {
	t.Helper()

	cfg, err := NewConfig(testOptions(opts...)...)
	require.NoError(t, err)

	g, err := New(cfg, open.open, sink)
	require.NoError(t, err)

	return g
}

// start runs g in the background. The returned stop cancels the run and
// waits for Run to return.
func start(t *testing.T, g *Gateway) (stop func() error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	var once sync.Once
	var runErr error
	stop = func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-done:
			case <-time.After(waitFor):
				t.Fatal("Run did not return after cancellation")
			}
		})

		return runErr
	}
	t.Cleanup(func() { _ = stop() })

	return stop
}

// waitOpened waits for the time sync that marks src as opened.
func waitOpened(t *testing.T, src *linktest.Source) {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(src.Written()) >= timesync.MessageSize
	}, waitFor, time.Millisecond)
}

func devicePayload(id string, counter uint16, port byte, data ...byte) []byte {
	p := make([]byte, 13, 13+len(data))
	copy(p, id)
	binary.LittleEndian.PutUint16(p[10:12], counter)
	p[12] = port

	return append(p, data...)
}

func mustFrame(t *testing.T, payload []byte) []byte {
	t.Helper()

	b, err := frame.Encode(0x94, 0x1E, payload)
	require.NoError(t, err)

	return b
}
