package frame

import (
	"fmt"
)

// Frame markers.
const (
	// StartMarker opens every frame.
	StartMarker byte = 0xAA
	// EndMarker closes every frame.
	EndMarker byte = 0x55
	// TimeSyncRequest is sent by the board, outside of any frame, to ask for
	// the current time.
	TimeSyncRequest byte = 0xFE
)

// Frame size limits.
const (
	// MinLength is the smallest valid LEN: a payload holding only the packet header.
	MinLength = 13
	// MaxLength is the largest LEN a single length byte can carry.
	MaxLength = 255

	// headerSize is LEN, RSSI_ENC and SNR_ENC.
	headerSize = 3
)

// RawFrame is a validated frame, before its payload is decoded.
type RawFrame struct {
	// Length is the LEN header byte; it always equals len(Payload).
	Length byte
	// RSSIByte and SNRByte are the encoded signal-quality header bytes.
	RSSIByte byte
	SNRByte  byte
	// Payload holds the LEN bytes between the header and the end marker.
	Payload []byte
}

// Encode builds the wire representation of a frame carrying payload.
func Encode(rssiByte, snrByte byte, payload []byte) ([]byte, error) {
	if len(payload) < MinLength || len(payload) > MaxLength {
		return nil, fmt.Errorf("%w: payload of %d bytes, want %d-%d",
			ErrInvalidLength, len(payload), MinLength, MaxLength)
	}

	buf := make([]byte, 0, 1+headerSize+len(payload)+1)
	buf = append(buf, StartMarker, byte(len(payload)), rssiByte, snrByte)
	buf = append(buf, payload...)
	buf = append(buf, EndMarker)

	return buf, nil
}

// Bytes returns the wire representation of f.
func (f *RawFrame) Bytes() []byte {
	buf, err := Encode(f.RSSIByte, f.SNRByte, f.Payload)
	if err != nil {
		return nil
	}

	return buf
}
