// Package linktest provides an in-memory link.Source for tests.
package linktest

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/wingyeung0317/IBSP/link"
)

// Source is a scripted link.Source. Tests feed input bytes, inject faults and
// inspect what was written. It is safe to Feed from another goroutine while
// the code under test polls it.
type Source struct {
	mu sync.Mutex

	input   []byte
	chunks  [][]byte // released one per ReadAvailable call, after input
	written bytes.Buffer

	readErr  error
	writeErr error
	flushErr error
	closed   bool

	flushInputCount  int
	flushOutputCount int
	closeCount       int
}

var _ link.Source = (*Source)(nil)

// New returns a Source whose input starts with data.
func New(data ...byte) *Source {
	return &Source{input: append([]byte(nil), data...)}
}

// Feed appends data to the pending input.
func (s *Source) Feed(data ...byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.input = append(s.input, data...)
}

// FeedChunks queues chunks that become readable one per ReadAvailable call,
// simulating bytes trickling in over the wire.
func (s *Source) FeedChunks(chunks ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		s.chunks = append(s.chunks, append([]byte(nil), c...))
	}
}

// FailReads makes every following read-side call return err wrapped in link.ErrLinkIO.
// A nil err clears the fault.
func (s *Source) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.readErr = err
}

// FailWrites makes every following Write return err wrapped in link.ErrLinkIO.
func (s *Source) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeErr = err
}

// FailFlushes makes every following FlushInput and FlushOutput return err
// wrapped in link.ErrLinkIO.
func (s *Source) FailFlushes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flushErr = err
}

func (s *Source) check(err error) error {
	if s.closed {
		return fmt.Errorf("%w: %w", link.ErrLinkIO, link.ErrClosed)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", link.ErrLinkIO, err)
	}

	return nil
}

func (s *Source) ReadAvailable() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(s.readErr); err != nil {
		return nil, err
	}

	if len(s.input) == 0 && len(s.chunks) > 0 {
		s.input, s.chunks = s.chunks[0], s.chunks[1:]
	}

	out := s.input
	s.input = nil

	return out, nil
}

func (s *Source) Pending() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(s.readErr); err != nil {
		return 0, err
	}

	return len(s.input), nil
}

func (s *Source) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(s.writeErr); err != nil {
		return 0, err
	}

	return s.written.Write(p)
}

func (s *Source) FlushInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(s.flushErr); err != nil {
		return err
	}
	s.flushInputCount++
	s.input = nil
	s.chunks = nil

	return nil
}

func (s *Source) FlushOutput() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(s.flushErr); err != nil {
		return err
	}
	s.flushOutputCount++

	return nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeCount++
	s.closed = true

	return nil
}

// Written returns a copy of everything written so far.
func (s *Source) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return bytes.Clone(s.written.Bytes())
}

// Remaining returns the number of input bytes not yet read, queued chunks included.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.input)
	for _, c := range s.chunks {
		n += len(c)
	}

	return n
}

// FlushInputCount returns how many times FlushInput was called.
func (s *Source) FlushInputCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushInputCount
}

// FlushOutputCount returns how many times FlushOutput was called.
func (s *Source) FlushOutputCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushOutputCount
}

// CloseCount returns how many times Close was called.
func (s *Source) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeCount
}

// IsClosed reports whether Close was called.
func (s *Source) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
