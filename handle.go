package stream

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// ErrWouldBlock is returned by handles when a non-blocking operation cannot
// make progress without waiting. It is a control-flow signal, not a failure.
var ErrWouldBlock = errors.New("operation would block")

// ErrNotPollable is returned by DefaultPoller for handles that do not
// implement Waiter.
var ErrNotPollable = errors.New("handle does not support readiness notification")

// Handle is a socket-like resource owned by a Stream for closing purposes.
type Handle interface {
	io.Closer
	// Closed reports whether Close has already been called on the resource.
	Closed() bool
}

// ReadHandle is a Handle supporting non-blocking reads.
//
// ReadNonblock returns ErrWouldBlock when no data is currently available and
// (0, io.EOF) when the peer has closed the connection.
type ReadHandle interface {
	Handle
	ReadNonblock(p []byte) (int, error)
}

// WriteHandle is a Handle supporting non-blocking writes.
//
// WriteNonblock may accept fewer bytes than len(p). It returns ErrWouldBlock
// when no buffer space is currently available.
type WriteHandle interface {
	Handle
	WriteNonblock(p []byte) (int, error)
}

// Direction selects the readiness condition to wait for.
type Direction int

const (
	// Readable waits until data (or end of stream) can be read.
	Readable Direction = iota
	// Writable waits until buffer space is available for writing.
	Writable
)

func (d Direction) String() string {
	switch d {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	default:
		return "unknown"
	}
}

// Poller is the readiness-notification primitive used by Stream.
//
// Wait blocks until h is ready in the given direction or the deadline
// passes. A zero deadline means wait indefinitely. It returns false with a
// nil error when the deadline passed without readiness.
type Poller interface {
	Wait(h Handle, dir Direction, deadline time.Time) (bool, error)
}

// Waiter is implemented by handles that can wait for their own readiness,
// such as Socket.
type Waiter interface {
	WaitReady(dir Direction, deadline time.Time) (bool, error)
}

// DefaultPoller delegates to handles implementing Waiter.
var DefaultPoller Poller = waiterPoller{}

type waiterPoller struct{}

func (waiterPoller) Wait(h Handle, dir Direction, deadline time.Time) (bool, error) {
	w, ok := h.(Waiter)
	if !ok {
		return false, ErrNotPollable
	}
	return w.WaitReady(dir, deadline)
}
