package stream

import (
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// ErrUnsupportedConn is returned by NewSocket for connections that do not
// expose their file descriptor.
var ErrUnsupportedConn = errors.New("connection does not expose a file descriptor")

var (
	_ ReadHandle  = (*Socket)(nil)
	_ WriteHandle = (*Socket)(nil)
	_ Waiter      = (*Socket)(nil)
)

// Socket is a ReadHandle and WriteHandle over a connected net.Conn backed by
// a file descriptor, such as *net.TCPConn or *net.UnixConn.
// One Socket may serve as both handles of a Stream.
type Socket struct {
	conn   net.Conn
	raw    syscall.RawConn
	closed atomic.Bool
}

// NewSocket wraps a connected net.Conn. The Socket takes ownership of conn.
func NewSocket(conn net.Conn) (*Socket, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, ErrUnsupportedConn
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "syscall conn")
	}

	return &Socket{conn: conn, raw: raw}, nil
}

// waitRaw runs ready inside the runtime network poller for dir until it
// reports true, the deadline passes or the socket is closed. A zero deadline
// waits indefinitely. Closing the socket from another goroutine ends the wait.
func (s *Socket) waitRaw(dir Direction, deadline time.Time, ready func(fd uintptr) bool) (bool, error) {
	if s.closed.Load() {
		return false, net.ErrClosed
	}

	var err error
	if dir == Writable {
		if err = s.conn.SetWriteDeadline(deadline); err != nil {
			return false, errors.Wrap(err, "set write deadline")
		}
		err = s.raw.Write(ready)
		_ = s.conn.SetWriteDeadline(time.Time{})
	} else {
		if err = s.conn.SetReadDeadline(deadline); err != nil {
			return false, errors.Wrap(err, "set read deadline")
		}
		err = s.raw.Read(ready)
		_ = s.conn.SetReadDeadline(time.Time{})
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Closed reports whether Close has been called.
func (s *Socket) Closed() bool {
	return s.closed.Load()
}

// Close closes the underlying connection. Safe to call multiple times.
func (s *Socket) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

// LocalAddr returns the local network address.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (s *Socket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
