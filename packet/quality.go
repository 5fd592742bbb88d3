package packet

// Bias applied by the gateway board to fit signed readings into unsigned bytes.
const (
	RSSIOffset = 150
	SNROffset  = 20
)

// SignalQuality holds the radio reception metrics of one packet.
type SignalQuality struct {
	// RSSI in dBm.
	RSSI int
	// SNR in dB.
	SNR int
}

// QualityFromBytes decodes the biased RSSI and SNR header bytes.
func QualityFromBytes(rssiByte, snrByte byte) SignalQuality {
	return SignalQuality{
		RSSI: int(rssiByte) - RSSIOffset,
		SNR:  int(snrByte) - SNROffset,
	}
}

// Bytes encodes q the way the gateway board does. Values outside the
// encodable ranges wrap like the board's uint8 cast.
func (q SignalQuality) Bytes() (rssiByte, snrByte byte) {
	return byte(q.RSSI + RSSIOffset), byte(q.SNR + SNROffset)
}

// Decoded is a packet together with the signal quality of its frame.
type Decoded struct {
	Packet
	Quality SignalQuality
}

// DecodeFrame decodes a frame's payload and quality bytes.
func DecodeFrame(rssiByte, snrByte byte, payload []byte) (Decoded, error) {
	p, err := Decode(payload)
	if err != nil {
		return Decoded{}, err
	}

	return Decoded{Packet: p, Quality: QualityFromBytes(rssiByte, snrByte)}, nil
}
