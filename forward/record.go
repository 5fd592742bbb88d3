package forward

import (
	"encoding/base64"
	"time"

	"github.com/wingyeung0317/IBSP/packet"
)

// TimestampFormat is ISO-8601 with microseconds and the zone offset.
const TimestampFormat = "2006-01-02T15:04:05.000000Z07:00"

// Record is the JSON body delivered to the server for one packet.
type Record struct {
	DeviceID     string `json:"device_id"`
	PacketType   uint8  `json:"packet_type"`
	Data         string `json:"data"`
	Timestamp    string `json:"timestamp"`
	FrameCounter uint16 `json:"frame_counter"`
	RSSI         int    `json:"rssi"`
}

// NewRecord builds the delivery record of d, stamped with now.
func NewRecord(d packet.Decoded, now time.Time) Record {
	return Record{
		DeviceID:     d.DeviceID,
		PacketType:   uint8(d.Type),
		Data:         base64.StdEncoding.EncodeToString(d.Payload),
		Timestamp:    now.Format(TimestampFormat),
		FrameCounter: d.FrameCounter,
		RSSI:         d.Quality.RSSI,
	}
}
