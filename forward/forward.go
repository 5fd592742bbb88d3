// Package forward delivers decoded packets to the collection server.
//
// Delivery is at-most-once: a record that fails for any reason is reported to
// the caller and dropped, it is never retried or queued.
package forward

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wingyeung0317/IBSP/logger"
	"github.com/wingyeung0317/IBSP/packet"
)

// DefaultTimeout bounds one delivery.
const DefaultTimeout = 5 * time.Second

// ErrInvalidTimeout is returned by WithTimeout for non-positive durations.
var ErrInvalidTimeout = errors.New("forward: invalid timeout")

// Forwarder turns decoded packets into records and hands them to a Sink.
type Forwarder struct {
	sink    Sink
	timeout time.Duration
	now     func() time.Time
	logger  logger.Logger
}

// Option configures a Forwarder.
type Option interface {
	apply(*Forwarder) error
}

type optFunc func(*Forwarder) error

func (f optFunc) apply(fw *Forwarder) error { return f(fw) }

// WithTimeout sets the delivery timeout. It must be positive.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(fw *Forwarder) error {
		if d <= 0 {
			return ErrInvalidTimeout
		}
		fw.timeout = d

		return nil
	})
}

// WithClock sets the timestamp source of records.
func WithClock(now func() time.Time) Option {
	return optFunc(func(fw *Forwarder) error {
		if now != nil {
			fw.now = now
		}

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(fw *Forwarder) error {
		if l != nil {
			fw.logger = l
		}

		return nil
	})
}

// New creates a Forwarder delivering to sink.
func New(sink Sink, opts ...Option) (*Forwarder, error) {
	if sink == nil {
		return nil, errors.New("forward: nil sink")
	}

	fw := &Forwarder{
		sink:    sink,
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(fw); err != nil {
			return nil, err
		}
	}

	return fw, nil
}

// Timeout returns the delivery timeout.
func (fw *Forwarder) Timeout() time.Duration { return fw.timeout }

// Forward delivers d once. A nil error means the server answered 200.
func (fw *Forwarder) Forward(ctx context.Context, d packet.Decoded) error {
	if d.Type == packet.TypeFallEvent {
		fw.logger.Warn("fall event detected",
			"deviceID", d.DeviceID,
			"frameCounter", d.FrameCounter,
			"payload", hex.EncodeToString(d.Payload),
		)
	}

	rec := NewRecord(d, fw.now())

	ctx, cancel := context.WithTimeout(ctx, fw.timeout)
	defer cancel()

	status, err := fw.sink.Deliver(ctx, rec)
	if err == nil && status != http.StatusOK {
		err = fmt.Errorf("%w: %d", ErrTransportStatus, status)
	}
	if err != nil {
		fw.logger.Warn("packet dropped", "deviceID", d.DeviceID, "frameCounter", d.FrameCounter, "error", err)
		return err
	}

	fw.logger.Debug("packet forwarded", "deviceID", d.DeviceID, "frameCounter", d.FrameCounter, "status", status)

	return nil
}
