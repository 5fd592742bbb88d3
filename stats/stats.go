// Package stats aggregates the gateway's reception counters.
//
// A single Reception value is owned by the gateway coordinator and handed to
// the components that update it. All methods are safe for concurrent use, so
// reports can be taken while the loop runs.
package stats

import (
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/wingyeung0317/IBSP/forward"
	"github.com/wingyeung0317/IBSP/frame"
	"github.com/wingyeung0317/IBSP/link"
	"github.com/wingyeung0317/IBSP/logger"
	"github.com/wingyeung0317/IBSP/packet"
)

// Error kinds used as counter names.
const (
	KindInvalidLength       = "invalid_length"
	KindHeaderTimeout       = "header_timeout"
	KindBodyTimeout         = "body_timeout"
	KindEndMarkerMismatch   = "end_marker_mismatch"
	KindFrameTooShort       = "frame_too_short"
	KindDecode              = "decode"
	KindTransportTimeout    = "transport_timeout"
	KindTransportConnection = "transport_connection"
	KindTransportStatus     = "transport_status"
	KindLinkIO              = "link_io"
	KindLinkOpen            = "link_open"
	KindOther               = "other"
)

// KindOf maps err to its counter name.
func KindOf(err error) string {
	switch {
	case errors.Is(err, frame.ErrInvalidLength):
		return KindInvalidLength
	case errors.Is(err, frame.ErrHeaderTimeout):
		return KindHeaderTimeout
	case errors.Is(err, frame.ErrBodyTimeout):
		return KindBodyTimeout
	case errors.Is(err, frame.ErrEndMarkerMismatch):
		return KindEndMarkerMismatch
	case errors.Is(err, packet.ErrFrameTooShort):
		return KindFrameTooShort
	case errors.Is(err, packet.ErrDecode):
		return KindDecode
	case errors.Is(err, forward.ErrTransportTimeout):
		return KindTransportTimeout
	case errors.Is(err, forward.ErrTransportConnection):
		return KindTransportConnection
	case errors.Is(err, forward.ErrTransportStatus):
		return KindTransportStatus
	case errors.Is(err, link.ErrLinkIO):
		return KindLinkIO
	default:
		return KindOther
	}
}

// Reception holds the process-wide counters.
type Reception struct {
	packetsReceived atomic.Uint64
	packetsSent     atomic.Uint64
	errors          atomic.Uint64
	timeSyncsSent   atomic.Uint64
	resyncs         atomic.Uint64
	reconnects      atomic.Uint64
	frameGaps       atomic.Uint64
	lastPacket      atomic.Int64 // unix nanoseconds, 0 when none

	errorsByKind  *xsync.MapOf[string, *xsync.Counter]
	packetsByType *xsync.MapOf[packet.Type, *xsync.Counter]

	startTime time.Time
}

// New creates an empty Reception.
func New() *Reception {
	return &Reception{
		errorsByKind:  xsync.NewMapOf[string, *xsync.Counter](),
		packetsByType: xsync.NewMapOf[packet.Type, *xsync.Counter](),
		startTime:     time.Now(),
	}
}

// PacketReceived counts a decoded packet of type t received at ts.
func (r *Reception) PacketReceived(t packet.Type, ts time.Time) {
	r.packetsReceived.Add(1)
	r.lastPacket.Store(ts.UnixNano())
	counter(r.packetsByType, t).Inc()
}

// PacketSent counts a packet accepted by the sink.
func (r *Reception) PacketSent() { r.packetsSent.Add(1) }

// TimeSyncSent counts a time-sync message written to the link.
func (r *Reception) TimeSyncSent() { r.timeSyncsSent.Add(1) }

// Resynced counts a synchronizer input flush.
func (r *Reception) Resynced() { r.resyncs.Add(1) }

// Reconnected counts a successful link reopen.
func (r *Reception) Reconnected() { r.reconnects.Add(1) }

// FrameGap counts a discontinuity in a device's frame counter.
func (r *Reception) FrameGap() { r.frameGaps.Add(1) }

// Error counts err under its kind.
func (r *Reception) Error(err error) {
	r.ErrorKind(KindOf(err))
}

// ErrorKind counts one error of the given kind.
func (r *Reception) ErrorKind(kind string) {
	r.errors.Add(1)
	counter(r.errorsByKind, kind).Inc()
}

func counter[K comparable](m *xsync.MapOf[K, *xsync.Counter], key K) *xsync.Counter {
	c, _ := m.LoadOrCompute(key, xsync.NewCounter)

	return c
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	PacketsReceived uint64
	PacketsSent     uint64
	Errors          uint64
	TimeSyncsSent   uint64
	Resyncs         uint64
	Reconnects      uint64
	FrameGaps       uint64
	// LastPacketTime is the zero time when no packet was received.
	LastPacketTime time.Time
	ErrorsByKind   map[string]uint64
	PacketsByType  map[string]uint64
	Uptime         time.Duration
}

// Snapshot copies the current counter values.
func (r *Reception) Snapshot() Snapshot {
	s := Snapshot{
		PacketsReceived: r.packetsReceived.Load(),
		PacketsSent:     r.packetsSent.Load(),
		Errors:          r.errors.Load(),
		TimeSyncsSent:   r.timeSyncsSent.Load(),
		Resyncs:         r.resyncs.Load(),
		Reconnects:      r.reconnects.Load(),
		FrameGaps:       r.frameGaps.Load(),
		ErrorsByKind:    make(map[string]uint64),
		PacketsByType:   make(map[string]uint64),
		Uptime:          time.Since(r.startTime),
	}
	if ns := r.lastPacket.Load(); ns != 0 {
		s.LastPacketTime = time.Unix(0, ns)
	}

	r.errorsByKind.Range(func(kind string, c *xsync.Counter) bool {
		s.ErrorsByKind[kind] = uint64(c.Value())
		return true
	})
	r.packetsByType.Range(func(t packet.Type, c *xsync.Counter) bool {
		s.PacketsByType[t.String()] += uint64(c.Value())
		return true
	})

	return s
}

// Report logs a snapshot under title.
func (r *Reception) Report(l logger.Logger, title string) Snapshot {
	s := r.Snapshot()

	kv := []any{
		"packetsReceived", s.PacketsReceived,
		"packetsSent", s.PacketsSent,
		"errors", s.Errors,
		"timeSyncsSent", s.TimeSyncsSent,
		"resyncs", s.Resyncs,
		"reconnects", s.Reconnects,
		"frameGaps", s.FrameGaps,
		"uptime", s.Uptime.Truncate(time.Second).String(),
	}
	if !s.LastPacketTime.IsZero() {
		kv = append(kv, "lastPacket", s.LastPacketTime.Format(time.DateTime))
	}
	for _, kind := range sortedKeys(s.ErrorsByKind) {
		kv = append(kv, "errors."+kind, s.ErrorsByKind[kind])
	}
	for _, name := range sortedKeys(s.PacketsByType) {
		kv = append(kv, "packets."+name, s.PacketsByType[name])
	}

	l.Info(title, kv...)

	return s
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
