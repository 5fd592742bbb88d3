package frame

import (
	"testing"
	"time"

	"github.com/wingyeung0317/IBSP/internal/linktest"
)

// newTestSync creates a Synchronizer with short timings so timeout paths run fast.
func newTestSync(t *testing.T, src *linktest.Source, opts ...Option) *Synchronizer {
	t.Helper()

	defaults := []Option{
		WithHeaderWait(5 * time.Millisecond),
		WithBodyPolling(time.Millisecond, 20),
		WithResyncPause(time.Millisecond),
	}

	s, err := NewSynchronizer(src, append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestSync: %v", err)
	}

	return s
}

// scenarioPayload is the 13-byte payload "DEV0000001", counter 0x0100, port 1.
func scenarioPayload() []byte {
	return append([]byte("DEV0000001"), 0x00, 0x01, 0x01)
}

// mustEncode frames payload with RSSI -2 dBm and SNR 10 dB.
func mustEncode(t *testing.T, payload []byte) []byte {
	t.Helper()

	b, err := Encode(0x96, 0x1E, payload)
	if err != nil {
		t.Fatalf("mustEncode: %v", err)
	}

	return b
}

func payloadOfLength(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i)
	}

	return p
}
