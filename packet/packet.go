// Package packet decodes the application packets carried in frame payloads.
//
// A payload is laid out as
//
//	DEVICE_ID (10 bytes) | FRAME_COUNTER (2 bytes, little-endian) | PORT (1 byte) | DATA
//
// The port byte selects the packet type. DATA is opaque to the gateway and is
// forwarded unchanged.
package packet

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DeviceIDSize is the size of the device identifier field.
	DeviceIDSize = 10
	// HeaderSize is the size of the fixed packet header before DATA.
	HeaderSize = DeviceIDSize + 2 + 1
)

var (
	// ErrDecode is wrapped by every decoding failure.
	ErrDecode = errors.New("packet: decode error")
	// ErrFrameTooShort is returned for payloads shorter than HeaderSize.
	ErrFrameTooShort = errors.New("packet: frame too short")
)

// Type is the single-byte packet type selector, also called the port.
type Type uint8

// Packet types sent by the sensor nodes.
const (
	// TypeRealtime is a periodic sensor reading.
	TypeRealtime Type = 1
	// TypeECG carries ECG samples.
	TypeECG Type = 2
	// TypeFallEvent reports a detected fall.
	TypeFallEvent Type = 3
)

// String returns the packet type name, "Unknown" for unassigned values.
func (t Type) String() string {
	switch t {
	case TypeRealtime:
		return "Realtime"
	case TypeECG:
		return "ECG"
	case TypeFallEvent:
		return "Fall Event"
	default:
		return "Unknown"
	}
}

// Packet is a decoded application packet. It is not modified after Decode.
type Packet struct {
	DeviceID     string
	FrameCounter uint16
	Type         Type
	Payload      []byte
}

// PayloadLength returns the size of the opaque DATA section.
func (p Packet) PayloadLength() int { return len(p.Payload) }

// TypeName returns the packet type name.
func (p Packet) TypeName() string { return p.Type.String() }

// Decode parses a frame payload into a Packet.
func Decode(payload []byte) (Packet, error) {
	if len(payload) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %w: got %d bytes, want at least %d",
			ErrDecode, ErrFrameTooShort, len(payload), HeaderSize)
	}

	data := make([]byte, len(payload)-HeaderSize)
	copy(data, payload[HeaderSize:])

	return Packet{
		DeviceID:     DeviceID(payload[:DeviceIDSize]),
		FrameCounter: binary.LittleEndian.Uint16(payload[DeviceIDSize : DeviceIDSize+2]),
		Type:         Type(payload[DeviceIDSize+2]),
		Payload:      data,
	}, nil
}

// DeviceID converts the raw identifier field to text.
//
// NUL bytes are removed and surrounding whitespace trimmed. Bytes that are not
// valid UTF-8, or that leave nothing after trimming, are rendered as lowercase
// hex instead, so the result is never empty.
func DeviceID(raw []byte) string {
	if utf8.Valid(raw) {
		id := strings.TrimSpace(strings.ReplaceAll(string(raw), "\x00", ""))
		if id != "" {
			return id
		}
	}

	return hex.EncodeToString(raw)
}
