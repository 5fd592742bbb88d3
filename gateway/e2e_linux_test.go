//go:build linux

package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wingyeung0317/IBSP/forward"
	"github.com/wingyeung0317/IBSP/link"
	"github.com/wingyeung0317/IBSP/timesync"
)

// readMaster reads exactly n bytes written by the gateway to the tty.
func readMaster(t *testing.T, master *os.File, n int) []byte {
	t.Helper()

	buf := make([]byte, n)
	_ = master.SetReadDeadline(time.Now().Add(waitFor))
	for got := 0; got < n; {
		m, err := master.Read(buf[got:])
		require.NoError(t, err)
		got += m
	}

	return buf
}

func TestRun_SerialToHTTP(t *testing.T) {
	master, tty, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); tty.Close() })

	var mu sync.Mutex
	var received []forward.Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rec forward.Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, rec)
		mu.Unlock()
	}))
	defer srv.Close()

	sink, err := forward.NewHTTPSink(srv.URL + "/api/sensor-data")
	require.NoError(t, err)

	cfg, err := NewConfig(testOptions()...)
	require.NoError(t, err)

	g, err := New(cfg, link.SerialOpener(link.Config{Device: tty.Name()}), sink)
	require.NoError(t, err)

	stop := start(t, g)

	msg := readMaster(t, master, timesync.MessageSize)
	_, err = timesync.Parse(msg, time.Local)
	require.NoError(t, err)

	_, err = master.Write(mustFrame(t, devicePayload("DEV0000001", 256, 1, 0xCA, 0xFE)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, waitFor, 5*time.Millisecond)
	require.NoError(t, stop())

	mu.Lock()
	rec := received[0]
	mu.Unlock()

	assert.Equal(t, "DEV0000001", rec.DeviceID)
	assert.Equal(t, uint16(256), rec.FrameCounter)
	assert.Equal(t, "yv4=", rec.Data)
	assert.Equal(t, -2, rec.RSSI)

	s := g.Stats().Snapshot()
	assert.Equal(t, uint64(1), s.PacketsSent)
	assert.Equal(t, uint64(1), s.TimeSyncsSent)
}
