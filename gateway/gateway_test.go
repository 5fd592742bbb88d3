package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wingyeung0317/IBSP/forward"
	"github.com/wingyeung0317/IBSP/frame"
	"github.com/wingyeung0317/IBSP/internal/linktest"
	"github.com/wingyeung0317/IBSP/logger"
	"github.com/wingyeung0317/IBSP/packet"
	"github.com/wingyeung0317/IBSP/stats"
	"github.com/wingyeung0317/IBSP/timesync"
)

func TestNew_Validation(t *testing.T) {
	open := newOpener()
	sink := newRecordingSink()

	_, err := New(nil, nil, sink)
	require.Error(t, err)

	_, err = New(nil, open.open, nil)
	require.Error(t, err)

	cfg, err := NewConfig(WithFrameOptions(frame.WithFailureThreshold(0)))
	require.NoError(t, err)
	_, err = New(cfg, open.open, sink)
	require.Error(t, err)

	cfg, err = NewConfig(WithForwardTimeout(0))
	require.NoError(t, err)
	_, err = New(cfg, open.open, sink)
	require.ErrorIs(t, err, forward.ErrInvalidTimeout)

	g, err := New(nil, open.open, sink)
	require.NoError(t, err)
	assert.NotNil(t, g.Stats())
	assert.Zero(t, open.Calls(), "New must not open the link")
}

func TestRun_ScenarioA(t *testing.T) {
	src := linktest.New()
	sink := newRecordingSink()
	g := newTestGateway(t, newOpener(src), sink)

	stop := start(t, g)
	waitOpened(t, src)

	src.Feed(mustFrame(t, devicePayload("DEV0000001", 256, 1))...)

	require.Eventually(t, func() bool { return len(sink.Records()) == 1 }, waitFor, time.Millisecond)
	require.NoError(t, stop())

	rec := sink.Records()[0]
	assert.Equal(t, "DEV0000001", rec.DeviceID)
	assert.Equal(t, uint16(256), rec.FrameCounter)
	assert.Equal(t, uint8(1), rec.PacketType)
	assert.Equal(t, -2, rec.RSSI)
	assert.Equal(t, "", rec.Data)

	s := g.Stats().Snapshot()
	assert.Equal(t, uint64(1), s.PacketsReceived)
	assert.Equal(t, uint64(1), s.PacketsSent)
	assert.Equal(t, uint64(0), s.Errors)
	assert.Equal(t, uint64(1), s.TimeSyncsSent)
	assert.False(t, s.LastPacketTime.IsZero())
	assert.Equal(t, uint64(1), s.PacketsByType["Realtime"])
}

func TestRun_ScenarioB_InvalidLength(t *testing.T) {
	src := linktest.New()
	g := newTestGateway(t, newOpener(src), newRecordingSink())

	stop := start(t, g)
	waitOpened(t, src)

	src.Feed(0xAA, 0x05, 0x96, 0x1E, 0x01, 0x02, 0x03, 0x04, 0x05, 0x55)

	require.Eventually(t, func() bool {
		return g.Stats().Snapshot().ErrorsByKind[stats.KindInvalidLength] == 1
	}, waitFor, time.Millisecond)
	require.NoError(t, stop())

	s := g.Stats().Snapshot()
	assert.Zero(t, s.PacketsReceived)
	assert.Equal(t, uint64(1), s.Errors)
	assert.Equal(t, uint64(1), g.FrameMetrics().FailureCount.Load())
}

func TestRun_ScenarioC_BodyTimeout(t *testing.T) {
	src := linktest.New()
	sink := newRecordingSink()
	g := newTestGateway(t, newOpener(src), sink)

	stop := start(t, g)
	waitOpened(t, src)

	src.Feed(0xAA, 0x0D, 0x96, 0x1E, 'D', 'E', 'V')

	require.Eventually(t, func() bool {
		return g.Stats().Snapshot().ErrorsByKind[stats.KindBodyTimeout] == 1
	}, waitFor, time.Millisecond)
	require.NoError(t, stop())

	assert.Empty(t, sink.Records())
	assert.Zero(t, g.Stats().Snapshot().PacketsReceived)
	assert.Equal(t, uint64(1), g.FrameMetrics().FailureCount.Load())
}

func TestRun_ShutdownReportsOnce(t *testing.T) {
	l := logger.NewMockLogger().AllowAll()

	src := linktest.New()
	g := newTestGateway(t, newOpener(src), newRecordingSink(), WithLogger(l))

	stop := start(t, g)
	waitOpened(t, src)
	require.NoError(t, stop())

	assert.True(t, src.IsClosed())
	assert.Equal(t, 1, src.CloseCount())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, g.Run(ctx), ErrAlreadyStarted)

	reports := 0
	for _, msg := range l.Messages("Info") {
		if msg == "final statistics" {
			reports++
		}
	}
	assert.Equal(t, 1, reports)
}

func TestRun_CancelWhileOpening(t *testing.T) {
	open := newOpener()
	g := newTestGateway(t, open, newRecordingSink(), WithReopenRetry(time.Hour))

	stop := start(t, g)
	require.Eventually(t, func() bool { return open.Calls() == 1 }, waitFor, time.Millisecond)

	begin := time.Now()
	require.NoError(t, stop())
	assert.Less(t, time.Since(begin), time.Second)
	assert.Equal(t, uint64(1), g.Stats().Snapshot().ErrorsByKind[stats.KindLinkOpen])
}

func TestRun_OpenRetriedUntilSuccess(t *testing.T) {
	src := linktest.New()
	open := newOpener(errors.New("ENOENT"), errors.New("EBUSY"), src)
	g := newTestGateway(t, open, newRecordingSink())

	stop := start(t, g)
	waitOpened(t, src)
	require.NoError(t, stop())

	assert.Equal(t, 3, open.Calls())
	assert.Equal(t, 1, src.FlushInputCount())
	assert.Equal(t, 1, src.FlushOutputCount())
	s := g.Stats().Snapshot()
	assert.Equal(t, uint64(2), s.ErrorsByKind[stats.KindLinkOpen])
	assert.Equal(t, uint64(0), s.Reconnects)
}

func TestRun_ReconnectAfterReadFault(t *testing.T) {
	first, second := linktest.New(), linktest.New()
	sink := newRecordingSink()
	g := newTestGateway(t, newOpener(first, second), sink)

	stop := start(t, g)
	waitOpened(t, first)

	first.FailReads(errors.New("input/output error"))
	waitOpened(t, second)

	second.Feed(mustFrame(t, devicePayload("DEV0000002", 7, 2, 0xAB))...)
	require.Eventually(t, func() bool { return len(sink.Records()) == 1 }, waitFor, time.Millisecond)
	require.NoError(t, stop())

	assert.True(t, first.IsClosed())
	assert.True(t, second.IsClosed())

	s := g.Stats().Snapshot()
	assert.Equal(t, uint64(1), s.Reconnects)
	assert.Equal(t, uint64(1), s.ErrorsByKind[stats.KindLinkIO])
	assert.Equal(t, uint64(2), s.TimeSyncsSent)
	assert.Equal(t, "DEV0000002", sink.Records()[0].DeviceID)
}

func TestRun_ResyncFlushFaultReconnects(t *testing.T) {
	first, second := linktest.New(), linktest.New()
	g := newTestGateway(t, newOpener(first, second), newRecordingSink(),
		WithFrameOptions(frame.WithFailureThreshold(1)))

	stop := start(t, g)
	waitOpened(t, first)

	first.FailFlushes(errors.New("ioctl failed"))
	first.Feed(0xAA, 0x01, 0x00, 0x00)
	waitOpened(t, second)
	require.NoError(t, stop())

	assert.True(t, first.IsClosed())

	s := g.Stats().Snapshot()
	assert.Equal(t, uint64(1), s.Reconnects)
	assert.Equal(t, uint64(1), s.ErrorsByKind[stats.KindInvalidLength])
	assert.Equal(t, uint64(1), s.ErrorsByKind[stats.KindLinkIO])
	assert.Equal(t, uint64(2), s.Errors)
}

func TestRun_WriteFaultOnOpenRetries(t *testing.T) {
	bad, good := linktest.New(), linktest.New()
	bad.FailWrites(errors.New("broken pipe"))
	g := newTestGateway(t, newOpener(bad, good), newRecordingSink())

	stop := start(t, g)
	waitOpened(t, good)
	require.NoError(t, stop())

	assert.True(t, bad.IsClosed())
	assert.Equal(t, uint64(1), g.Stats().Snapshot().ErrorsByKind[stats.KindLinkOpen])
}

func TestRun_TimeSyncOnRequest(t *testing.T) {
	src := linktest.New()
	g := newTestGateway(t, newOpener(src), newRecordingSink(), WithTimeSyncOnRequest(true))

	stop := start(t, g)
	waitOpened(t, src)

	src.Feed(frame.TimeSyncRequest)
	require.Eventually(t, func() bool {
		return len(src.Written()) == 2*timesync.MessageSize
	}, waitFor, time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, uint64(1), g.FrameMetrics().RequestCount.Load())
	assert.Equal(t, uint64(2), g.Stats().Snapshot().TimeSyncsSent)

	_, err := timesync.Parse(src.Written()[timesync.MessageSize:], time.Local)
	require.NoError(t, err)
}

func TestRun_RequestIgnoredWhenDisabled(t *testing.T) {
	src := linktest.New()
	g := newTestGateway(t, newOpener(src), newRecordingSink())

	stop := start(t, g)
	waitOpened(t, src)

	src.Feed(frame.TimeSyncRequest)
	require.Eventually(t, func() bool {
		return g.FrameMetrics().NoiseBytes.Load() == 1
	}, waitFor, time.Millisecond)
	require.NoError(t, stop())

	assert.Len(t, src.Written(), timesync.MessageSize)
}

func TestRun_TimeSyncInterval(t *testing.T) {
	src := linktest.New()
	g := newTestGateway(t, newOpener(src), newRecordingSink(), WithTimeSyncInterval(10*time.Millisecond))

	stop := start(t, g)
	require.Eventually(t, func() bool {
		return len(src.Written()) >= 3*timesync.MessageSize
	}, waitFor, time.Millisecond)
	require.NoError(t, stop())

	written := src.Written()
	for off := 0; off+timesync.MessageSize <= len(written); off += timesync.MessageSize {
		_, err := timesync.Parse(written[off:off+timesync.MessageSize], time.Local)
		require.NoError(t, err, "message at offset %d", off)
	}
}

func TestRun_TimeSyncAfterPacket(t *testing.T) {
	src := linktest.New()
	sink := newRecordingSink()
	g := newTestGateway(t, newOpener(src), sink, WithTimeSyncAfterPacket(true))

	stop := start(t, g)
	waitOpened(t, src)

	src.Feed(mustFrame(t, devicePayload("DEV0000001", 1, 1))...)
	require.Eventually(t, func() bool {
		return len(src.Written()) == 2*timesync.MessageSize
	}, waitFor, time.Millisecond)
	require.NoError(t, stop())

	assert.Len(t, sink.Records(), 1)
}

func TestRun_TransportErrorsAreNotRetried(t *testing.T) {
	src := linktest.New()
	sink := newRecordingSink()
	sink.status = http.StatusInternalServerError
	sink.err = forward.ErrTransportStatus
	g := newTestGateway(t, newOpener(src), sink)

	stop := start(t, g)
	waitOpened(t, src)

	src.Feed(mustFrame(t, devicePayload("DEV0000001", 1, 1))...)
	src.Feed(mustFrame(t, devicePayload("DEV0000001", 2, 1))...)

	require.Eventually(t, func() bool {
		return g.Stats().Snapshot().ErrorsByKind[stats.KindTransportStatus] == 2
	}, waitFor, time.Millisecond)
	require.NoError(t, stop())

	assert.Len(t, sink.Records(), 2)
	s := g.Stats().Snapshot()
	assert.Equal(t, uint64(2), s.PacketsReceived)
	assert.Zero(t, s.PacketsSent)
}

func TestRun_OrderAndFrameCounterGaps(t *testing.T) {
	src := linktest.New()
	sink := newRecordingSink()
	g := newTestGateway(t, newOpener(src), sink)

	stop := start(t, g)
	waitOpened(t, src)

	var stream []byte
	for _, c := range []uint16{1, 2, 5, 6} {
		stream = append(stream, mustFrame(t, devicePayload("DEV0000001", c, 1, byte(c)))...)
	}
	stream = append(stream, mustFrame(t, devicePayload("DEV0000009", 100, byte(packet.TypeECG)))...)
	src.Feed(stream...)

	require.Eventually(t, func() bool { return len(sink.Records()) == 5 }, waitFor, time.Millisecond)
	require.NoError(t, stop())

	var counters []uint16
	for _, r := range sink.Records() {
		counters = append(counters, r.FrameCounter)
	}
	assert.Equal(t, []uint16{1, 2, 5, 6, 100}, counters)

	assert.Equal(t, uint64(1), g.Stats().Snapshot().FrameGaps)

	last, ok := g.LastFrameCounter("DEV0000001")
	require.True(t, ok)
	assert.Equal(t, uint16(6), last)

	_, ok = g.LastFrameCounter("unknown")
	assert.False(t, ok)
}

func TestRun_ResyncCounted(t *testing.T) {
	src := linktest.New()
	g := newTestGateway(t, newOpener(src), newRecordingSink(),
		WithFrameOptions(frame.WithFailureThreshold(2)))

	stop := start(t, g)
	waitOpened(t, src)

	src.Feed(0xAA, 0x01, 0x00, 0x00, 0xAA, 0x02, 0x00, 0x00)
	require.Eventually(t, func() bool {
		return g.Stats().Snapshot().Resyncs == 1
	}, waitFor, time.Millisecond)
	require.NoError(t, stop())

	// One flush on open, one on resync.
	assert.Equal(t, 2, src.FlushInputCount())
}
