package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/wingyeung0317/IBSP/logger"
)

// Default synchronizer timing.
const (
	// DefaultHeaderWait is the single wait for header bytes that have not arrived yet.
	DefaultHeaderWait = 50 * time.Millisecond
	// DefaultBodyPollInterval is the sleep between polls while collecting the body.
	DefaultBodyPollInterval = 10 * time.Millisecond
	// DefaultBodyPollAttempts caps the empty polls while collecting the body.
	DefaultBodyPollAttempts = 300
	// DefaultFailureThreshold is the number of consecutive failures that triggers a resync.
	DefaultFailureThreshold = 10
	// DefaultResyncPause is the pause after flushing the input on resync.
	DefaultResyncPause = 500 * time.Millisecond
)

// MaxHeaderWait bounds the header wait; the loop must stay responsive.
const MaxHeaderWait = time.Second

// Config holds the synchronizer configuration.
type Config struct {
	headerWait       time.Duration
	bodyPollInterval time.Duration
	bodyPollAttempts int
	failureThreshold int
	resyncPause      time.Duration

	onRequest func()
	onResync  func()

	logger logger.Logger
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		headerWait:       DefaultHeaderWait,
		bodyPollInterval: DefaultBodyPollInterval,
		bodyPollAttempts: DefaultBodyPollAttempts,
		failureThreshold: DefaultFailureThreshold,
		resyncPause:      DefaultResyncPause,
		logger:           logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// HeaderWait returns the single wait for missing header bytes.
func (cfg *Config) HeaderWait() time.Duration { return cfg.headerWait }

// BodyTimeout returns the upper bound on collecting a frame body.
func (cfg *Config) BodyTimeout() time.Duration {
	return cfg.bodyPollInterval * time.Duration(cfg.bodyPollAttempts)
}

// FailureThreshold returns the consecutive failures that trigger a resync.
func (cfg *Config) FailureThreshold() int { return cfg.failureThreshold }

// ResyncPause returns the pause after a resync flush.
func (cfg *Config) ResyncPause() time.Duration { return cfg.resyncPause }

// Option configures a Synchronizer.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithHeaderWait sets the single wait for header bytes. Must be in [0, MaxHeaderWait].
func WithHeaderWait(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 || d > MaxHeaderWait {
			return fmt.Errorf("frame: header wait %v out of range [0, %v]", d, MaxHeaderWait)
		}
		cfg.headerWait = d

		return nil
	})
}

// WithBodyPolling sets the body poll interval and the maximum number of empty polls.
func WithBodyPolling(interval time.Duration, attempts int) Option {
	return optFunc(func(cfg *Config) error {
		if interval <= 0 {
			return errors.New("frame: body poll interval must be positive")
		}
		if attempts < 1 {
			return errors.New("frame: body poll attempts must be >= 1")
		}
		cfg.bodyPollInterval = interval
		cfg.bodyPollAttempts = attempts

		return nil
	})
}

// WithFailureThreshold sets the consecutive failures that trigger a resync.
func WithFailureThreshold(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return fmt.Errorf("frame: failure threshold %d must be >= 1", n)
		}
		cfg.failureThreshold = n

		return nil
	})
}

// WithResyncPause sets the pause after a resync flush.
func WithResyncPause(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("frame: resync pause must not be negative")
		}
		cfg.resyncPause = d

		return nil
	})
}

// WithRequestHandler enables time-sync requests: fn is called for every
// TimeSyncRequest byte seen between frames. Without a handler the byte is noise.
func WithRequestHandler(fn func()) Option {
	return optFunc(func(cfg *Config) error {
		cfg.onRequest = fn

		return nil
	})
}

// WithResyncHandler registers fn to be called after every resync.
func WithResyncHandler(fn func()) Option {
	return optFunc(func(cfg *Config) error {
		cfg.onResync = fn

		return nil
	})
}

// WithLogger sets the logger for the synchronizer.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("frame: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
