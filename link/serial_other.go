//go:build !linux

package link

import (
	"errors"
	"fmt"
)

var errUnsupportedPlatform = errors.New("link: serial ports are only supported on linux")

// Serial is unavailable on this platform; Open always fails.
type Serial struct{}

var _ Source = (*Serial)(nil)

// Open always fails on non-linux platforms.
func Open(cfg Config) (*Serial, error) {
	return nil, fmt.Errorf("%w: %s", errUnsupportedPlatform, cfg.Device)
}

func (*Serial) Device() string { return "" }
func (*Serial) Pending() (int, error) { return 0, errUnsupportedPlatform }
func (*Serial) ReadAvailable() ([]byte, error) { return nil, errUnsupportedPlatform }
func (*Serial) Write(_ []byte) (int, error) { return 0, errUnsupportedPlatform }
func (*Serial) FlushInput() error { return errUnsupportedPlatform }
func (*Serial) FlushOutput() error { return errUnsupportedPlatform }
func (*Serial) Close() error { return nil }
