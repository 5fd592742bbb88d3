package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.ReconnectBackoff())
	assert.Equal(t, 5*time.Second, cfg.ReopenRetry())
	assert.Equal(t, 60*time.Second, cfg.TimeSyncInterval())
	assert.Equal(t, 5*time.Minute, cfg.ReportInterval())
	assert.Equal(t, 5*time.Millisecond, cfg.PollInterval())
	assert.False(t, cfg.TimeSyncOnRequest())
	assert.False(t, cfg.TimeSyncAfterPacket())
}

func TestNewConfig_Options(t *testing.T) {
	cfg, err := NewConfig(
		WithReconnectBackoff(0),
		WithReopenRetry(time.Second),
		WithTimeSyncInterval(0),
		WithReportInterval(time.Minute),
		WithPollInterval(10*time.Millisecond),
		WithTimeSyncOnRequest(true),
		WithTimeSyncAfterPacket(true),
	)
	require.NoError(t, err)

	assert.Zero(t, cfg.ReconnectBackoff())
	assert.Equal(t, time.Second, cfg.ReopenRetry())
	assert.Zero(t, cfg.TimeSyncInterval())
	assert.Equal(t, time.Minute, cfg.ReportInterval())
	assert.Equal(t, 10*time.Millisecond, cfg.PollInterval())
	assert.True(t, cfg.TimeSyncOnRequest())
	assert.True(t, cfg.TimeSyncAfterPacket())
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"negative backoff", WithReconnectBackoff(-time.Second)},
		{"zero reopen retry", WithReopenRetry(0)},
		{"negative time sync interval", WithTimeSyncInterval(-1)},
		{"negative report interval", WithReportInterval(-1)},
		{"zero poll interval", WithPollInterval(0)},
		{"poll interval too long", WithPollInterval(2 * time.Second)},
		{"nil logger", WithLogger(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.opt)
			assert.Error(t, err)
		})
	}
}
