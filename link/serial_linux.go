//go:build linux

package link

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	readChunkSize   = 4096
	writeRetryDelay = time.Millisecond
)

// Serial is a raw-mode, non-blocking Linux serial port.
type Serial struct {
	fd     int
	cfg    Config
	mu     sync.Mutex
	closed bool

	write func(fd int, p []byte) (int, error)
}

var _ Source = (*Serial)(nil)

// Open opens a serial port in raw 8N1 mode with non-blocking reads.
func Open(cfg Config) (*Serial, error) {
	cfg = cfg.withDefaults()

	baud, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBaud, cfg.BaudRate)
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, ioErr("open "+cfg.Device, err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		_ = unix.Close(fd)
		return nil, ioErr("get termios", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud
	termios.Ispeed = baud
	termios.Ospeed = baud

	// Reads return immediately with whatever is buffered.
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		_ = unix.Close(fd)
		return nil, ioErr("set termios", err)
	}

	return &Serial{fd: fd, cfg: cfg, write: unix.Write}, nil
}

// Device returns the tty path the port was opened with.
func (s *Serial) Device() string { return s.cfg.Device }

// Pending reports the number of bytes in the driver's input queue.
func (s *Serial) Pending() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("%w: %w", ErrLinkIO, ErrClosed)
	}

	n, err := unix.IoctlGetInt(s.fd, unix.TIOCINQ)
	if err != nil {
		return 0, ioErr("pending", err)
	}

	return n, nil
}

// ReadAvailable reads every byte currently pending, up to one chunk.
func (s *Serial) ReadAvailable() ([]byte, error) {
	n, err := s.Pending()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, s.checkHangup()
	}
	if n > readChunkSize {
		n = readChunkSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, n)
	read, err := unix.Read(s.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, nil
		}

		return nil, ioErr("read", err)
	}
	if read == 0 {
		// Pending bytes but EOF: the device went away.
		return nil, ioErr("read", errors.New("unexpected end of stream"))
	}

	return buf[:read], nil
}

// checkHangup polls the descriptor without waiting and reports a
// disconnected device, which otherwise looks like an idle line.
func (s *Serial) checkHangup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pfd := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	if _, err := unix.Poll(pfd, 0); err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}

		return ioErr("poll", err)
	}
	if pfd[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		return ioErr("poll", errors.New("device hung up"))
	}

	return nil
}

// Write writes all of p, retrying short and would-block writes until
// the configured write timeout elapses.
func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("%w: %w", ErrLinkIO, ErrClosed)
	}

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	written := 0
	for written < len(p) {
		n, err := s.write(s.fd, p[written:])
		if n > 0 {
			written += n
		}

		if err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			return written, ioErr("write", err)
		}
		if err == nil && n > 0 {
			continue
		}

		// Nothing went out on this attempt.
		if time.Now().After(deadline) {
			return written, ioErr("write", unix.ETIMEDOUT)
		}
		time.Sleep(writeRetryDelay)
	}

	return written, nil
}

// FlushInput discards data received but not read.
func (s *Serial) FlushInput() error {
	return s.flush(unix.TCIFLUSH, "flush input")
}

// FlushOutput discards data written but not transmitted.
func (s *Serial) FlushOutput() error {
	return s.flush(unix.TCOFLUSH, "flush output")
}

func (s *Serial) flush(queue int, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: %w", ErrLinkIO, ErrClosed)
	}

	if err := unix.IoctlSetInt(s.fd, unix.TCFLSH, queue); err != nil {
		return ioErr(op, err)
	}

	return nil
}

// Close closes the port. Subsequent calls are no-ops.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := unix.Close(s.fd); err != nil {
		return ioErr("close", err)
	}

	return nil
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 1200:
		return unix.B1200, true
	case 2400:
		return unix.B2400, true
	case 4800:
		return unix.B4800, true
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	case 460800:
		return unix.B460800, true
	case 921600:
		return unix.B921600, true
	default:
		return 0, false
	}
}
