// Package frame extracts length-prefixed frames from the byte stream sent by
// the LoRa gateway board over its UART.
//
// # Wire format
//
// Every received radio packet is relayed by the board as
//
//	0xAA | LEN | RSSI_ENC | SNR_ENC | PAYLOAD (LEN bytes) | 0x55
//
// where LEN is in [13, 255] and the two quality bytes are biased unsigned
// encodings of the packet's RSSI and SNR (see package packet).
//
// # Synchronization
//
// The Synchronizer runs a small state machine over the stream:
//
//   - seek: skip bytes until the 0xAA start marker. Orphaned 0x55 end markers
//     and line noise are skipped without penalty. A 0xFE byte is a time-sync
//     request from the board when a request handler is registered.
//   - header: read LEN and the quality bytes, waiting once for a short
//     interval if they have not arrived yet.
//   - body: poll for LEN+1 bytes with a bounded number of attempts.
//   - validate: the last byte must be the 0x55 end marker.
//
// Every failed frame increments a consecutive-failure counter. When the
// counter reaches the failure threshold the synchronizer flushes the input,
// resets the counter and pauses briefly before seeking again.
package frame
