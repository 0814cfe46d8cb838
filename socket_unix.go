//go:build unix

package stream

import (
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ReadNonblock reads whatever is available without waiting.
func (s *Socket) ReadNonblock(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, net.ErrClosed
	}

	var (
		n     int
		opErr error
	)
	err := s.raw.Read(func(fd uintptr) bool {
		for {
			n, opErr = unix.Read(int(fd), p)
			if opErr != unix.EINTR {
				return true
			}
		}
	})
	if err != nil {
		return 0, err
	}

	switch {
	case opErr == unix.EAGAIN || opErr == unix.EWOULDBLOCK:
		return 0, ErrWouldBlock
	case opErr != nil:
		return 0, os.NewSyscallError("read", opErr)
	case n == 0 && len(p) > 0:
		return 0, io.EOF
	}
	return n, nil
}

// WriteNonblock writes as much of p as the socket buffer accepts without waiting.
func (s *Socket) WriteNonblock(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, net.ErrClosed
	}

	var (
		n     int
		opErr error
	)
	err := s.raw.Write(func(fd uintptr) bool {
		for {
			n, opErr = unix.Write(int(fd), p)
			if opErr != unix.EINTR {
				return true
			}
		}
	})
	if err != nil {
		return 0, err
	}

	switch {
	case opErr == unix.EAGAIN || opErr == unix.EWOULDBLOCK:
		return 0, ErrWouldBlock
	case opErr != nil:
		return 0, os.NewSyscallError("write", opErr)
	}
	return n, nil
}

// WaitReady blocks until the socket is ready in dir or the deadline passes.
// A zero deadline waits indefinitely.
//
// Readiness is checked with a zero-timeout poll(2) before parking on the
// runtime poller and again after every wakeup, so readiness that predates
// the call is never missed.
func (s *Socket) WaitReady(dir Direction, deadline time.Time) (bool, error) {
	events := int16(unix.POLLIN)
	if dir == Writable {
		events = unix.POLLOUT
	}

	var pollErr error
	ready, err := s.waitRaw(dir, deadline, func(fd uintptr) bool {
		fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
		for {
			n, err := unix.Poll(fds, 0)
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				pollErr = err
				return true
			}
			return n > 0
		}
	})
	if err != nil {
		return false, err
	}
	if pollErr != nil {
		return false, os.NewSyscallError("poll", pollErr)
	}
	return ready, nil
}
