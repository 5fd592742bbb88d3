// Package link abstracts the serial connection to the LoRa gateway device as
// a non-blocking byte source and sink.
//
// The gateway loop never blocks in a read: it asks how many bytes are
// pending, takes what is there and sleeps briefly otherwise, which keeps it
// responsive to shutdown. Every I/O failure is reported wrapped in ErrLinkIO
// so callers can tell link faults from protocol errors with errors.Is.
package link

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Defaults for the serial connection to the gateway board.
const (
	DefaultBaudRate     = 115200
	DefaultWriteTimeout = time.Second
)

var (
	// ErrLinkIO wraps every I/O failure on the link (read, write, flush, ioctl).
	ErrLinkIO = errors.New("link: I/O error")
	// ErrClosed is returned when a closed Source is used.
	ErrClosed = errors.New("link: source closed")
	// ErrUnsupportedBaud is returned by Open for baud rates the driver cannot set.
	ErrUnsupportedBaud = errors.New("link: unsupported baud rate")
)

// Source is the byte stream connected to the gateway device.
//
// Implementations are used by a single goroutine and need not be safe for
// concurrent use.
type Source interface {
	io.Writer
	// ReadAvailable returns the bytes currently buffered by the driver without
	// blocking. It returns an empty slice when nothing is pending.
	ReadAvailable() ([]byte, error)
	// Pending reports the number of bytes waiting to be read.
	Pending() (int, error)
	// FlushInput discards unread input.
	FlushInput() error
	// FlushOutput discards unsent output.
	FlushOutput() error
	// Close releases the handle. Closing twice is a no-op.
	Close() error
}

// Opener opens a fresh Source with a fixed configuration.
// The reconnect supervisor calls it again after every link fault.
type Opener func() (Source, error)

// Config holds the parameters for opening a serial device.
type Config struct {
	// Device is the tty path, e.g. /dev/ttyS0.
	Device string
	// BaudRate defaults to DefaultBaudRate.
	BaudRate int
	// WriteTimeout bounds a single Write call; defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	return cfg
}

// SerialOpener returns an Opener that opens the serial device described by cfg.
func SerialOpener(cfg Config) Opener {
	return func() (Source, error) {
		s, err := Open(cfg)
		if err != nil {
			return nil, err
		}

		return s, nil
	}
}

func ioErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLinkIO, op, err)
}
