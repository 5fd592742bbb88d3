package forward

import (
	"github.com/wingyeung0317/IBSP/packet"
)

func testDecoded() packet.Decoded {
	return packet.Decoded{
		Packet: packet.Packet{
			DeviceID:     "DEV0000001",
			FrameCounter: 256,
			Type:         packet.TypeRealtime,
			Payload:      []byte{0x01, 0x02, 0xff},
		},
		Quality: packet.SignalQuality{RSSI: -2, SNR: 10},
	}
}
