package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/wingyeung0317/IBSP/forward"
	"github.com/wingyeung0317/IBSP/frame"
	"github.com/wingyeung0317/IBSP/logger"
	"github.com/wingyeung0317/IBSP/timesync"
)

// Default gateway timing.
const (
	// DefaultReconnectBackoff is the wait between closing a faulty link and reopening it.
	DefaultReconnectBackoff = 2 * time.Second
	// DefaultReopenRetry is the wait after a failed open before trying again.
	DefaultReopenRetry = 5 * time.Second
	// DefaultTimeSyncInterval is the keepalive period of time-sync messages.
	DefaultTimeSyncInterval = timesync.DefaultInterval
	// DefaultReportInterval is the period of statistics reports.
	DefaultReportInterval = 5 * time.Minute
	// DefaultPollInterval is the sleep when the link has no input.
	DefaultPollInterval = 5 * time.Millisecond
)

// MaxPollInterval bounds the idle sleep; larger values delay frames.
const MaxPollInterval = time.Second

// Config holds the gateway configuration.
type Config struct {
	reconnectBackoff time.Duration
	reopenRetry      time.Duration
	timeSyncInterval time.Duration
	reportInterval   time.Duration
	pollInterval     time.Duration

	timeSyncOnRequest   bool
	timeSyncAfterPacket bool

	frameOpts   []frame.Option
	forwardOpts []forward.Option

	logger logger.Logger
}

// NewConfig creates a Config with defaults and applies opts.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		reconnectBackoff: DefaultReconnectBackoff,
		reopenRetry:      DefaultReopenRetry,
		timeSyncInterval: DefaultTimeSyncInterval,
		reportInterval:   DefaultReportInterval,
		pollInterval:     DefaultPollInterval,
		logger:           logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ReconnectBackoff returns the wait before reopening a faulty link.
func (cfg *Config) ReconnectBackoff() time.Duration { return cfg.reconnectBackoff }

// ReopenRetry returns the wait after a failed open.
func (cfg *Config) ReopenRetry() time.Duration { return cfg.reopenRetry }

// TimeSyncInterval returns the keepalive period, 0 when disabled.
func (cfg *Config) TimeSyncInterval() time.Duration { return cfg.timeSyncInterval }

// ReportInterval returns the statistics report period, 0 when disabled.
func (cfg *Config) ReportInterval() time.Duration { return cfg.reportInterval }

// PollInterval returns the idle sleep.
func (cfg *Config) PollInterval() time.Duration { return cfg.pollInterval }

// TimeSyncOnRequest reports whether request bytes from the device trigger a time sync.
func (cfg *Config) TimeSyncOnRequest() bool { return cfg.timeSyncOnRequest }

// TimeSyncAfterPacket reports whether a time sync follows every forwarded packet.
func (cfg *Config) TimeSyncAfterPacket() bool { return cfg.timeSyncAfterPacket }

// Option configures a Gateway.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithReconnectBackoff sets the wait between closing a faulty link and reopening it.
func WithReconnectBackoff(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("gateway: reconnect backoff must not be negative")
		}
		cfg.reconnectBackoff = d

		return nil
	})
}

// WithReopenRetry sets the wait after a failed open. It must be positive.
func WithReopenRetry(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("gateway: reopen retry must be positive")
		}
		cfg.reopenRetry = d

		return nil
	})
}

// WithTimeSyncInterval sets the keepalive period of time-sync messages.
// Zero disables periodic messages.
func WithTimeSyncInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("gateway: time sync interval must not be negative")
		}
		cfg.timeSyncInterval = d

		return nil
	})
}

// WithTimeSyncOnRequest enables answering request bytes from the device.
func WithTimeSyncOnRequest(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.timeSyncOnRequest = enabled

		return nil
	})
}

// WithTimeSyncAfterPacket enables a time sync after every forwarded packet.
func WithTimeSyncAfterPacket(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.timeSyncAfterPacket = enabled

		return nil
	})
}

// WithReportInterval sets the statistics report period. Zero disables
// periodic reports; the final report is always emitted.
func WithReportInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("gateway: report interval must not be negative")
		}
		cfg.reportInterval = d

		return nil
	})
}

// WithPollInterval sets the idle sleep. Must be in (0, MaxPollInterval].
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 || d > MaxPollInterval {
			return fmt.Errorf("gateway: poll interval %v out of range (0, %v]", d, MaxPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithFrameOptions passes opts to the frame synchronizer.
func WithFrameOptions(opts ...frame.Option) Option {
	return optFunc(func(cfg *Config) error {
		cfg.frameOpts = append(cfg.frameOpts, opts...)

		return nil
	})
}

// WithForwardOptions passes opts to the forwarder.
func WithForwardOptions(opts ...forward.Option) Option {
	return optFunc(func(cfg *Config) error {
		cfg.forwardOpts = append(cfg.forwardOpts, opts...)

		return nil
	})
}

// WithForwardTimeout sets the delivery timeout of one packet.
func WithForwardTimeout(d time.Duration) Option {
	return WithForwardOptions(forward.WithTimeout(d))
}

// WithLogger sets the logger used by the gateway and its components.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("gateway: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
