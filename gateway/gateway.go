// Package gateway runs the relay loop between the LoRa gateway board and the
// collection server.
//
// A Gateway owns the link handle and the reception statistics. Run drives a
// single loop that polls the frame synchronizer, decodes and forwards packets
// one at a time in arrival order, emits time-sync messages and reopens the
// link after faults. Nothing in the loop runs concurrently; only Stats and
// the frame counter lookups may be used from other goroutines.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/wingyeung0317/IBSP/forward"
	"github.com/wingyeung0317/IBSP/frame"
	"github.com/wingyeung0317/IBSP/internal/pool"
	"github.com/wingyeung0317/IBSP/link"
	"github.com/wingyeung0317/IBSP/logger"
	"github.com/wingyeung0317/IBSP/packet"
	"github.com/wingyeung0317/IBSP/stats"
	"github.com/wingyeung0317/IBSP/timesync"
)

// ErrAlreadyStarted is returned by Run on a Gateway that has been run before.
var ErrAlreadyStarted = errors.New("gateway: already started")

// Time-sync reasons, logged with every message.
const (
	syncReasonOpen     = "link opened"
	syncReasonRequest  = "device request"
	syncReasonInterval = "interval"
	syncReasonPacket   = "packet"
)

// Gateway relays frames from a link to a sink.
type Gateway struct {
	cfg    *Config
	open   link.Opener
	logger logger.Logger

	sync    *frame.Synchronizer
	fwd     *forward.Forwarder
	emitter *timesync.Emitter
	stats   *stats.Reception

	// counters holds the last frame counter seen per device.
	counters *xsync.MapOf[string, uint16]

	// src is nil while the link is down.
	src           link.Source
	syncRequested bool
	nextSync      time.Time
	nextReport    time.Time

	started    atomic.Bool
	reportOnce sync.Once
}

// New creates a Gateway that opens its link with open and delivers packets
// to sink. A nil cfg uses the defaults.
func New(cfg *Config, open link.Opener, sink forward.Sink) (*Gateway, error) {
	if open == nil {
		return nil, errors.New("gateway: opener is nil")
	}
	if sink == nil {
		return nil, errors.New("gateway: sink is nil")
	}
	if cfg == nil {
		var err error
		if cfg, err = NewConfig(); err != nil {
			return nil, err
		}
	}

	g := &Gateway{
		cfg:      cfg,
		open:     open,
		logger:   cfg.logger,
		stats:    stats.New(),
		counters: xsync.NewMapOf[string, uint16](),
	}

	frameOpts := []frame.Option{
		frame.WithLogger(cfg.logger),
		frame.WithResyncHandler(g.stats.Resynced),
	}
	if cfg.timeSyncOnRequest {
		frameOpts = append(frameOpts, frame.WithRequestHandler(g.requestSync))
	}

	var err error
	g.sync, err = frame.NewSynchronizer(detached{}, append(frameOpts, cfg.frameOpts...)...)
	if err != nil {
		return nil, err
	}

	fwdOpts := append([]forward.Option{forward.WithLogger(cfg.logger)}, cfg.forwardOpts...)
	g.fwd, err = forward.New(sink, fwdOpts...)
	if err != nil {
		return nil, err
	}

	g.emitter = timesync.NewEmitter(
		timesync.WithLogger(cfg.logger),
		timesync.WithSentHandler(g.stats.TimeSyncSent),
	)

	return g, nil
}

// Stats returns the reception statistics.
func (g *Gateway) Stats() *stats.Reception { return g.stats }

// FrameMetrics returns the synchronizer counters.
func (g *Gateway) FrameMetrics() *frame.Metrics { return g.sync.Metrics() }

// LastFrameCounter returns the last frame counter received from deviceID.
func (g *Gateway) LastFrameCounter(deviceID string) (uint16, bool) {
	return g.counters.Load(deviceID)
}

// Run opens the link and relays until ctx is done. On return the link is
// closed and the final statistics report has been logged.
//
// Link faults never end Run; the link is reopened until it succeeds. Run
// returns nil after cancellation, and ErrAlreadyStarted if called twice.
func (g *Gateway) Run(ctx context.Context) error {
	if !g.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer g.shutdown()

	g.logger.Info("gateway starting",
		"timeSyncInterval", g.cfg.timeSyncInterval,
		"timeSyncOnRequest", g.cfg.timeSyncOnRequest,
		"timeSyncAfterPacket", g.cfg.timeSyncAfterPacket,
		"forwardTimeout", g.fwd.Timeout(),
	)

	if g.cfg.reportInterval > 0 {
		g.nextReport = time.Now().Add(g.cfg.reportInterval)
	}

	if !g.openLink(ctx) {
		return nil
	}

	for ctx.Err() == nil {
		if err := g.step(ctx); err != nil {
			if !g.reconnect(ctx, err) {
				break
			}
		}
	}

	return nil
}

// step performs one poll of the synchronizer and the work it triggers.
// The returned error is always a link fault.
func (g *Gateway) step(ctx context.Context) error {
	f, err := g.sync.Poll(ctx)

	switch {
	case f != nil:
		if err := g.handleFrame(ctx, f); err != nil {
			return err
		}

	case err == nil:
		if err := g.handleTimers(time.Now()); err != nil {
			return err
		}
		pool.Sleep(ctx, g.cfg.pollInterval)

		return nil

	case errors.Is(err, link.ErrLinkIO):
		// A failed resync flush still carries the frame error behind it.
		if frame.IsFrameError(err) {
			g.stats.Error(err)
		}

		return err

	case frame.IsFrameError(err):
		g.stats.Error(err)
		g.logger.Warn("frame discarded", "error", err, "failures", g.sync.Failures())

	case ctx.Err() != nil:
		return nil

	default:
		return err
	}

	return g.handleTimers(time.Now())
}

func (g *Gateway) handleFrame(ctx context.Context, f *frame.RawFrame) error {
	d, err := packet.DecodeFrame(f.RSSIByte, f.SNRByte, f.Payload)
	if err != nil {
		g.stats.Error(err)
		g.logger.Warn("packet decode failed", "error", err)

		return nil
	}

	g.stats.PacketReceived(d.Type, time.Now())
	g.trackFrameCounter(d.Packet)

	g.logger.Info("packet received",
		"deviceID", d.DeviceID,
		"type", d.TypeName(),
		"port", uint8(d.Type),
		"frameCounter", d.FrameCounter,
		"rssi", d.Quality.RSSI,
		"snr", d.Quality.SNR,
		"size", d.PayloadLength(),
	)

	if err := g.fwd.Forward(ctx, d); err != nil {
		g.stats.Error(err)
	} else {
		g.stats.PacketSent()
	}

	if g.cfg.timeSyncAfterPacket {
		return g.emitTimeSync(syncReasonPacket)
	}

	return nil
}

// trackFrameCounter records p's frame counter and counts a gap when it
// does not follow the previous one of the same device.
func (g *Gateway) trackFrameCounter(p packet.Packet) {
	prev, seen := g.counters.Load(p.DeviceID)
	g.counters.Store(p.DeviceID, p.FrameCounter)

	if !seen || p.FrameCounter == prev+1 {
		return
	}

	g.stats.FrameGap()
	g.logger.Warn("frame counter gap",
		"deviceID", p.DeviceID,
		"previous", prev,
		"current", p.FrameCounter,
	)
}

// handleTimers emits pending request, keepalive and report work.
func (g *Gateway) handleTimers(now time.Time) error {
	if g.syncRequested {
		g.syncRequested = false
		if err := g.emitTimeSync(syncReasonRequest); err != nil {
			return err
		}
	}

	if g.cfg.timeSyncInterval > 0 && !now.Before(g.nextSync) {
		if err := g.emitTimeSync(syncReasonInterval); err != nil {
			return err
		}
	}

	if g.cfg.reportInterval > 0 && !now.Before(g.nextReport) {
		g.stats.Report(g.logger, "reception statistics")
		g.nextReport = now.Add(g.cfg.reportInterval)
	}

	return nil
}

// requestSync is called by the synchronizer for every request byte.
// Requests seen during one poll are answered once.
func (g *Gateway) requestSync() {
	g.syncRequested = true
}

// emitTimeSync writes a time-sync message and restarts the keepalive period.
func (g *Gateway) emitTimeSync(reason string) error {
	if g.src == nil {
		return detachedErr()
	}

	if _, err := g.emitter.Emit(g.src, reason); err != nil {
		if !errors.Is(err, link.ErrLinkIO) {
			err = fmt.Errorf("%w: %w", link.ErrLinkIO, err)
		}

		return err
	}

	if g.cfg.timeSyncInterval > 0 {
		g.nextSync = time.Now().Add(g.cfg.timeSyncInterval)
	}

	return nil
}

func (g *Gateway) shutdown() {
	g.closeLink()
	g.reportOnce.Do(func() {
		g.stats.Report(g.logger, "final statistics")
	})
	g.logger.Info("gateway stopped")
}

// detached stands in for the link while no handle is open.
type detached struct{}

var _ link.Source = detached{}

func (detached) Write(_ []byte) (int, error)    { return 0, detachedErr() }
func (detached) ReadAvailable() ([]byte, error) { return nil, detachedErr() }
func (detached) Pending() (int, error)          { return 0, detachedErr() }
func (detached) FlushInput() error              { return detachedErr() }
func (detached) FlushOutput() error             { return detachedErr() }
func (detached) Close() error                   { return nil }

func detachedErr() error {
	return fmt.Errorf("%w: %w", link.ErrLinkIO, link.ErrClosed)
}
