package frame

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wingyeung0317/IBSP/internal/pool"
	"github.com/wingyeung0317/IBSP/link"
	"github.com/wingyeung0317/IBSP/logger"
)

// Frame-level errors. All of them are recovered by the synchronizer itself:
// the frame is discarded and seeking resumes.
var (
	ErrInvalidLength     = errors.New("frame: invalid length")
	ErrHeaderTimeout     = errors.New("frame: header timeout")
	ErrBodyTimeout       = errors.New("frame: body timeout")
	ErrEndMarkerMismatch = errors.New("frame: end marker mismatch")
)

// IsFrameError reports whether err is one of the recoverable frame-level errors.
func IsFrameError(err error) bool {
	return errors.Is(err, ErrInvalidLength) ||
		errors.Is(err, ErrHeaderTimeout) ||
		errors.Is(err, ErrBodyTimeout) ||
		errors.Is(err, ErrEndMarkerMismatch)
}

type state uint8

const (
	seekSentinel state = iota
	readHeader
	readBody
	validate
)

func (s state) String() string {
	switch s {
	case seekSentinel:
		return "SeekSentinel"
	case readHeader:
		return "ReadHeader"
	case readBody:
		return "ReadBody"
	case validate:
		return "Validate"
	default:
		return "Unknown"
	}
}

// Synchronizer locates frames in the byte stream of a link.Source.
//
// This type is NOT goroutine-safe: it is driven by the single gateway loop.
// Only Metrics may be read concurrently.
type Synchronizer struct {
	src    link.Source
	cfg    *Config
	logger logger.Logger

	// buf holds bytes read from src but not consumed yet.
	buf      []byte
	state    state
	failures int

	metrics Metrics
}

// NewSynchronizer creates a Synchronizer reading from src.
func NewSynchronizer(src link.Source, opts ...Option) (*Synchronizer, error) {
	if src == nil {
		return nil, errors.New("frame: source is nil")
	}

	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	return &Synchronizer{
		src:    src,
		cfg:    cfg,
		logger: cfg.logger,
		state:  seekSentinel,
	}, nil
}

// Reset rebinds the synchronizer to src, abandoning any partial frame and
// read-ahead. The failure counter starts over.
func (s *Synchronizer) Reset(src link.Source) {
	s.src = src
	s.buf = nil
	s.state = seekSentinel
	s.failures = 0
}

// Failures returns the current number of consecutive failed frames.
func (s *Synchronizer) Failures() int { return s.failures }

// Config returns the synchronizer configuration.
func (s *Synchronizer) Config() *Config { return s.cfg }

// Metrics returns the synchronizer counters.
func (s *Synchronizer) Metrics() *Metrics { return &s.metrics }

// Poll consumes the input currently available on the source.
//
// It returns the first complete frame found, or:
//   - a frame-level error (see IsFrameError) for a discarded frame; the
//     failure has already been counted and a resync performed if due,
//   - an error wrapping link.ErrLinkIO for link faults,
//   - ctx.Err() when ctx is done,
//   - (nil, nil) when the input is exhausted without a frame start.
func (s *Synchronizer) Poll(ctx context.Context) (*RawFrame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(s.buf) == 0 {
			if err := s.fill(); err != nil {
				return nil, err
			}
			if len(s.buf) == 0 {
				return nil, nil
			}
		}

		b := s.buf[0]
		s.buf = s.buf[1:]

		switch {
		case b == StartMarker:
			f, err := s.readFrame(ctx)
			if err == nil {
				s.state = seekSentinel
				s.failures = 0
				s.metrics.FrameCount.Add(1)

				return f, nil
			}
			if IsFrameError(err) {
				err = s.fail(ctx, err)
			}
			s.state = seekSentinel

			return nil, err

		case b == EndMarker:
			// Orphaned end marker, usually the tail of a frame cut by a
			// restart. Not a failure.
			s.metrics.OrphanMarkers.Add(1)

		case b == TimeSyncRequest && s.cfg.onRequest != nil:
			s.metrics.RequestCount.Add(1)
			s.cfg.onRequest()

		default:
			s.metrics.NoiseBytes.Add(1)
		}
	}
}

// readFrame runs the header, body and validate states after a start marker.
func (s *Synchronizer) readFrame(ctx context.Context) (*RawFrame, error) {
	s.state = readHeader

	hdr, err := s.readHeader(ctx)
	if err != nil {
		return nil, err
	}

	length := int(hdr[0])
	if length < MinLength || length > MaxLength {
		return nil, fmt.Errorf("%w: got %d, want %d-%d", ErrInvalidLength, length, MinLength, MaxLength)
	}

	s.state = readBody

	body, err := s.readBody(ctx, length+1)
	if err != nil {
		return nil, err
	}

	s.state = validate

	payload, end := body[:len(body)-1], body[len(body)-1]
	if end != EndMarker || len(payload) != length {
		return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrEndMarkerMismatch, end, EndMarker)
	}

	return &RawFrame{
		Length:   hdr[0],
		RSSIByte: hdr[1],
		SNRByte:  hdr[2],
		Payload:  payload,
	}, nil
}

// readHeader collects LEN, RSSI_ENC and SNR_ENC. If they are not all there,
// it waits once for the header wait and takes what has arrived by then.
func (s *Synchronizer) readHeader(ctx context.Context) ([headerSize]byte, error) {
	var hdr [headerSize]byte

	if len(s.buf) < headerSize {
		if err := s.fill(); err != nil {
			return hdr, err
		}
	}

	if len(s.buf) < headerSize {
		if !pool.Sleep(ctx, s.cfg.headerWait) {
			return hdr, ctx.Err()
		}
		if err := s.fill(); err != nil {
			return hdr, err
		}
	}

	if len(s.buf) < headerSize {
		got := len(s.buf)
		s.buf = nil

		return hdr, fmt.Errorf("%w: got %d/%d bytes", ErrHeaderTimeout, got, headerSize)
	}

	copy(hdr[:], s.buf[:headerSize])
	s.buf = s.buf[headerSize:]

	return hdr, nil
}

// readBody collects exactly need bytes. Empty polls are capped both by count
// and by a deadline derived from the poll interval.
func (s *Synchronizer) readBody(ctx context.Context, need int) ([]byte, error) {
	out := make([]byte, 0, need)
	deadline := time.Now().Add(s.cfg.BodyTimeout())
	attempts := 0

	for {
		take := min(need-len(out), len(s.buf))
		out = append(out, s.buf[:take]...)
		s.buf = s.buf[take:]

		if len(out) == need {
			return out, nil
		}

		if err := s.fill(); err != nil {
			return nil, err
		}
		if len(s.buf) > 0 {
			continue
		}

		if attempts >= s.cfg.bodyPollAttempts || !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: got %d/%d bytes", ErrBodyTimeout, len(out), need)
		}
		attempts++

		if !pool.Sleep(ctx, s.cfg.bodyPollInterval) {
			return nil, ctx.Err()
		}
	}
}

// fail counts a discarded frame and resynchronizes once the threshold is hit.
// When the resync flush fails the result wraps both cause and the link fault.
func (s *Synchronizer) fail(ctx context.Context, cause error) error {
	s.failures++
	s.metrics.FailureCount.Add(1)

	s.logger.Debug("frame: discarded",
		"state", s.state.String(),
		"error", cause,
		"failures", s.failures,
	)

	if s.failures < s.cfg.failureThreshold {
		return cause
	}

	s.logger.Warn("frame: too many consecutive failures, resynchronizing",
		"failures", s.failures,
		"threshold", s.cfg.failureThreshold,
	)

	s.buf = nil
	s.failures = 0
	s.metrics.ResyncCount.Add(1)

	if err := s.src.FlushInput(); err != nil {
		return errors.Join(cause, wrapLinkErr(err))
	}

	if s.cfg.onResync != nil {
		s.cfg.onResync()
	}

	pool.Sleep(ctx, s.cfg.resyncPause)

	return cause
}

func (s *Synchronizer) fill() error {
	data, err := s.src.ReadAvailable()
	if err != nil {
		return wrapLinkErr(err)
	}

	s.buf = append(s.buf, data...)

	return nil
}

func wrapLinkErr(err error) error {
	if errors.Is(err, link.ErrLinkIO) {
		return err
	}

	return fmt.Errorf("%w: %w", link.ErrLinkIO, err)
}
