// Package config loads the daemon settings.
//
// Sources in order of precedence: command-line flags, LORAGW_* environment
// variables, a YAML or TOML config file, and the built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/wingyeung0317/IBSP/gateway"
	"github.com/wingyeung0317/IBSP/link"
	"github.com/wingyeung0317/IBSP/logger"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. LORAGW_SERIAL_DEVICE.
	EnvPrefix = "LORAGW"
	// DefaultDevice is the UART of the Raspberry Pi header.
	DefaultDevice = "/dev/ttyS0"
	configName    = "config"
)

// ConfigPaths are searched for config.{yaml,toml,...} when --config is not given.
var ConfigPaths = []string{".", "/etc/lora-gateway/"}

var (
	// ErrMissingServerURL is returned when no collection endpoint is configured.
	ErrMissingServerURL = errors.New("config: server.url is required")
	// ErrInvalidValue wraps every other rejected setting.
	ErrInvalidValue = errors.New("config: invalid value")
)

// Settings holds the daemon configuration.
type Settings struct {
	Serial   SerialSettings   `mapstructure:"serial"`
	Server   ServerSettings   `mapstructure:"server"`
	TimeSync TimeSyncSettings `mapstructure:"timesync"`
	Report   ReportSettings   `mapstructure:"report"`
	Log      LogSettings      `mapstructure:"log"`

	// File is the config file used, empty when none was found.
	File string `mapstructure:"-"`
}

// SerialSettings selects the board's tty.
type SerialSettings struct {
	Device string `mapstructure:"device"`
	Baud   int    `mapstructure:"baud"`
}

// ServerSettings locates the collection server.
type ServerSettings struct {
	URL       string        `mapstructure:"url"`
	HealthURL string        `mapstructure:"health_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// TimeSyncSettings controls when time-sync messages are sent to the board.
type TimeSyncSettings struct {
	Interval    time.Duration `mapstructure:"interval"`
	OnRequest   bool          `mapstructure:"on_request"`
	AfterPacket bool          `mapstructure:"after_packet"`
}

// ReportSettings sets the statistics report period.
type ReportSettings struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// flag names bound to config keys.
var flagKeys = map[string]string{
	"device":            "serial.device",
	"baud":              "serial.baud",
	"server-url":        "server.url",
	"health-url":        "server.health_url",
	"timeout":           "server.timeout",
	"sync-interval":     "timesync.interval",
	"sync-on-request":   "timesync.on_request",
	"sync-after-packet": "timesync.after_packet",
	"report-interval":   "report.interval",
	"log-level":         "log.level",
	"log-console":       "log.console",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.device", DefaultDevice)
	v.SetDefault("serial.baud", link.DefaultBaudRate)
	v.SetDefault("server.url", "")
	v.SetDefault("server.health_url", "")
	v.SetDefault("server.timeout", "5s")
	v.SetDefault("timesync.interval", gateway.DefaultTimeSyncInterval.String())
	v.SetDefault("timesync.on_request", false)
	v.SetDefault("timesync.after_packet", false)
	v.SetDefault("report.interval", gateway.DefaultReportInterval.String())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", false)
}

// NewFlagSet returns the daemon flags.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	fs.StringP("config", "c", "", "config file (default: config.* in . or /etc/lora-gateway/)")
	fs.StringP("device", "d", DefaultDevice, "serial device of the LoRa gateway board")
	fs.IntP("baud", "b", link.DefaultBaudRate, "serial baud rate")
	fs.StringP("server-url", "s", "", "collection server endpoint, e.g. http://host:5000/api/sensor-data")
	fs.String("health-url", "", "health endpoint probed at startup (default: <server>/health)")
	fs.Duration("timeout", 5*time.Second, "delivery timeout per packet")
	fs.Duration("sync-interval", gateway.DefaultTimeSyncInterval, "time sync keepalive period, 0 disables")
	fs.Bool("sync-on-request", false, "answer time sync requests (0xFE) from the board")
	fs.Bool("sync-after-packet", false, "send a time sync after every forwarded packet")
	fs.Duration("report-interval", gateway.DefaultReportInterval, "statistics report period, 0 disables")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Bool("log-console", false, "human readable console logs")

	return fs
}

// Load parses args and merges every configuration source.
func Load(name string, args []string) (*Settings, error) {
	fs := NewFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return LoadFlags(fs)
}

// LoadFlags merges the parsed flags in fs with the environment, the config
// file and the defaults.
func LoadFlags(fs *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for flag, key := range flagKeys {
		if f := fs.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("config: bind flag %s: %w", flag, err)
			}
		}
	}

	file, _ := fs.GetString("config")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		for _, p := range ConfigPaths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	s.File = v.ConfigFileUsed()

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Validate checks the settings for values the daemon cannot run with.
func (s *Settings) Validate() error {
	if s.Server.URL == "" {
		return ErrMissingServerURL
	}
	if s.Serial.Device == "" {
		return fmt.Errorf("%w: serial.device is empty", ErrInvalidValue)
	}
	if s.Serial.Baud <= 0 {
		return fmt.Errorf("%w: serial.baud %d", ErrInvalidValue, s.Serial.Baud)
	}
	if s.Server.Timeout <= 0 {
		return fmt.Errorf("%w: server.timeout %v", ErrInvalidValue, s.Server.Timeout)
	}
	if s.TimeSync.Interval < 0 {
		return fmt.Errorf("%w: timesync.interval %v", ErrInvalidValue, s.TimeSync.Interval)
	}
	if s.Report.Interval < 0 {
		return fmt.Errorf("%w: report.interval %v", ErrInvalidValue, s.Report.Interval)
	}
	if _, err := logger.ParseLevel(s.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	return nil
}

// LinkConfig returns the serial link configuration.
func (s *Settings) LinkConfig() link.Config {
	return link.Config{Device: s.Serial.Device, BaudRate: s.Serial.Baud}
}

// LogLevel returns the parsed log level.
func (s *Settings) LogLevel() logger.Level {
	level, err := logger.ParseLevel(s.Log.Level)
	if err != nil {
		return logger.InfoLevel
	}

	return level
}

// GatewayOptions translates the settings into gateway options.
func (s *Settings) GatewayOptions(l logger.Logger) []gateway.Option {
	return []gateway.Option{
		gateway.WithLogger(l),
		gateway.WithForwardTimeout(s.Server.Timeout),
		gateway.WithTimeSyncInterval(s.TimeSync.Interval),
		gateway.WithTimeSyncOnRequest(s.TimeSync.OnRequest),
		gateway.WithTimeSyncAfterPacket(s.TimeSync.AfterPacket),
		gateway.WithReportInterval(s.Report.Interval),
	}
}
