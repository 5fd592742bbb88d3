// Package timesync builds and sends the clock message that keeps the gateway
// board's real-time clock aligned with the host.
//
// The message is ten bytes:
//
//	0xFF 0xFE YEAR_HI YEAR_LO MONTH DAY HOUR MINUTE SECOND 0xFD
//
// It is fire-and-forget: the board sends no acknowledgment.
package timesync

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/wingyeung0317/IBSP/logger"
)

// MessageSize is the size of a time-sync message.
const MessageSize = 10

// Message markers.
const (
	Preamble1 byte = 0xFF
	Preamble2 byte = 0xFE
	Trailer   byte = 0xFD
)

// DefaultInterval is the keepalive period between scheduled time syncs.
const DefaultInterval = 60 * time.Second

// ErrInvalidMessage is returned by Parse for malformed messages.
var ErrInvalidMessage = errors.New("timesync: invalid message")

// Message is an encoded time-sync message.
type Message [MessageSize]byte

// NewMessage encodes t, in t's location, with one second resolution.
func NewMessage(t time.Time) Message {
	year := t.Year()

	return Message{
		Preamble1, Preamble2,
		byte(year >> 8), byte(year),
		byte(t.Month()), byte(t.Day()),
		byte(t.Hour()), byte(t.Minute()), byte(t.Second()),
		Trailer,
	}
}

// Parse decodes a time-sync message in loc, the way the board reads it.
func Parse(b []byte, loc *time.Location) (time.Time, error) {
	if len(b) != MessageSize {
		return time.Time{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidMessage, len(b), MessageSize)
	}
	if b[0] != Preamble1 || b[1] != Preamble2 || b[9] != Trailer {
		return time.Time{}, fmt.Errorf("%w: bad markers % X", ErrInvalidMessage, []byte{b[0], b[1], b[9]})
	}

	year := int(b[2])<<8 | int(b[3])

	return time.Date(year, time.Month(b[4]), int(b[5]), int(b[6]), int(b[7]), int(b[8]), 0, loc), nil
}

// Bytes returns the message as a slice.
func (m Message) Bytes() []byte { return m[:] }

// Emitter writes time-sync messages and counts them.
type Emitter struct {
	clock  func() time.Time
	onSent func()
	logger logger.Logger

	sent atomic.Uint64
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithClock replaces the wall clock, for tests.
func WithClock(clock func() time.Time) EmitterOption {
	return func(e *Emitter) { e.clock = clock }
}

// WithSentHandler registers fn to be called after every successful write.
func WithSentHandler(fn func()) EmitterOption {
	return func(e *Emitter) { e.onSent = fn }
}

// WithLogger sets the logger for the emitter.
func WithLogger(l logger.Logger) EmitterOption {
	return func(e *Emitter) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEmitter creates an Emitter using the local wall clock.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{clock: time.Now, logger: logger.GetLogger()}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Emit writes the current time to w. The reason is only logged.
func (e *Emitter) Emit(w io.Writer, reason string) (Message, error) {
	now := e.clock()
	msg := NewMessage(now)

	if _, err := w.Write(msg.Bytes()); err != nil {
		return msg, fmt.Errorf("timesync: write: %w", err)
	}

	e.sent.Add(1)
	if e.onSent != nil {
		e.onSent()
	}

	e.logger.Info("time sync sent", "time", now.Format(time.DateTime), "reason", reason)

	return msg, nil
}

// Sent returns the number of messages written.
func (e *Emitter) Sent() uint64 { return e.sent.Load() }
