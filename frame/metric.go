package frame

import (
	"sync/atomic"
)

// Metrics contains atomic counters for a Synchronizer.
// They may be read from any goroutine while the synchronizer runs.
type Metrics struct {
	// FrameCount is the number of frames that passed validation.
	FrameCount atomic.Uint64
	// FailureCount is the number of discarded frames, by any cause.
	FailureCount atomic.Uint64
	// ResyncCount is the number of input flushes after repeated failures.
	ResyncCount atomic.Uint64
	// NoiseBytes counts bytes skipped while seeking, orphaned markers excluded.
	NoiseBytes atomic.Uint64
	// OrphanMarkers counts 0x55 bytes seen outside a frame.
	OrphanMarkers atomic.Uint64
	// RequestCount counts time-sync request bytes handed to the request handler.
	RequestCount atomic.Uint64
}
