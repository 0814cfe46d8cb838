// Package stream provides a bidirectional raw byte stream over a pair of
// independently optional socket handles. Reads and writes are non-blocking
// at the handle level and bounded by per-stream timeouts at the stream level.
// Framing and message encoding belong to the layer above.
package stream

import (
	"io"
	"net"
	"reflect"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Errors returned by stream operations.
var (
	// ErrWriteOnly is returned when reading from a stream without a read handle.
	ErrWriteOnly = errors.New("attempt to read from write only stream")
	// ErrReadOnly is returned when writing to a stream without a write handle.
	ErrReadOnly = errors.New("attempt to write to read only stream")
	// ErrDisconnected is returned when operating on a disconnected stream.
	ErrDisconnected = errors.New("stream disconnected")
)

// ErrTimeout is returned when a readiness wait exceeds its bound.
// It satisfies net.Error with Timeout() reporting true.
var ErrTimeout error = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string   { return "i/o timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }

// IsTimeout reports whether err is a stream timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// defaultReadBufferSize is the default maximum size of a single read.
const defaultReadBufferSize = 65535

// Stream is a raw byte stream over an optional write handle and an optional
// read handle, which may be the same resource.
//
// A Stream supports one in-flight read and one in-flight write at a time.
// Disconnect racing with an in-flight operation must be coordinated by the caller.
type Stream struct {
	id     string
	write  WriteHandle
	read   ReadHandle
	logger Logger
	opts   options

	// rbuf is reused across reads; only one read is in flight at a time.
	rbuf []byte

	connected    atomic.Bool
	disconnected atomic.Bool
	peerClosed   atomic.Bool
}

// New creates a stream over the given handles. Either handle may be nil.
// The handles are expected to be already connected at the network level.
func New(write WriteHandle, read ReadHandle, opt ...Option) *Stream {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	// A typed nil pointer in an interface is not a handle.
	if isNilHandle(write) {
		write = nil
	}
	if isNilHandle(read) {
		read = nil
	}

	return &Stream{
		id:     uuid.NewString(),
		write:  write,
		read:   read,
		logger: opts.logger,
		opts:   opts,
	}
}

// checkOptions sets default values for stream options.
func checkOptions(opts *options) {
	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.poller == nil {
		opts.poller = DefaultPoller
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// ID returns the unique identifier of the stream, used in log records.
func (s *Stream) ID() string {
	return s.id
}

// Connect marks the stream as connected. No handshake takes place.
// It has no effect on a stream without handles or on a disconnected stream.
func (s *Stream) Connect() {
	if s.disconnected.Load() {
		return
	}
	if s.write == nil && s.read == nil {
		return
	}
	s.connected.Store(true)
}

// Connected reports whether Connect was called, Disconnect was not, and at
// least one handle is still open.
func (s *Stream) Connected() bool {
	if !s.connected.Load() {
		return false
	}
	return (s.write != nil && !s.write.Closed()) || (s.read != nil && !s.read.Closed())
}

// PeerClosed reports whether a read has observed the peer closing the
// connection. Read and ReadNonblock return an empty result in that case, the
// same as when no data is available, so callers use this to tell them apart.
func (s *Stream) PeerClosed() bool {
	return s.peerClosed.Load()
}

// ReadNonblock returns whatever bytes are immediately available, possibly none.
// It never waits. A peer close also yields an empty result.
func (s *Stream) ReadNonblock() ([]byte, error) {
	if err := s.checkRead(); err != nil {
		return nil, err
	}

	data, err := s.readOnce()
	if errors.Is(err, ErrWouldBlock) {
		return []byte{}, nil
	}
	return data, err
}

// Read returns the next available bytes, waiting up to the read timeout for
// data to arrive. The result may be any non-empty prefix of what the peer
// sent. It returns an empty result if the peer closed the connection and an
// error matching ErrTimeout if nothing arrived in time.
func (s *Stream) Read() ([]byte, error) {
	if err := s.checkRead(); err != nil {
		return nil, err
	}

	deadline := s.opts.readTimeout.deadline(time.Now())
	for {
		data, err := s.readOnce()
		if !errors.Is(err, ErrWouldBlock) {
			return data, err
		}

		if err = s.wait(s.read, Readable, s.opts.readTimeout, deadline); err != nil {
			return nil, err
		}
	}
}

// Write writes all of data, waiting up to the write timeout whenever the
// handle has no buffer space. Partial writes are retried from where they
// stopped. It returns len(data) on success; otherwise the error is non-nil.
func (s *Stream) Write(data []byte) (int, error) {
	if err := s.checkWrite(); err != nil {
		return 0, err
	}

	deadline := s.opts.writeTimeout.deadline(time.Now())
	written := 0
	for written < len(data) {
		n, err := s.write.WriteNonblock(data[written:])
		if n > 0 {
			written += n
		}
		if n <= 0 && err == nil {
			return written, errors.Wrap(io.ErrShortWrite, "write")
		}
		if err != nil && !errors.Is(err, ErrWouldBlock) {
			return written, errors.Wrap(err, "write")
		}
		if written >= len(data) {
			break
		}
		if n > 0 && err == nil {
			continue
		}

		if err = s.wait(s.write, Writable, s.opts.writeTimeout, deadline); err != nil {
			return written, err
		}
	}

	return written, nil
}

// Disconnect closes each distinct underlying handle at most once and marks
// the stream as no longer connected. Calling it again is a no-op.
// It returns the first close error, if any.
func (s *Stream) Disconnect() error {
	if s.disconnected.Swap(true) {
		return nil
	}
	s.connected.Store(false)

	var first error
	if s.write != nil {
		first = s.closeHandle(s.write, "write")
	}
	if s.read != nil && !(s.write != nil && sameHandle(s.write, s.read)) {
		if err := s.closeHandle(s.read, "read"); err != nil && first == nil {
			first = err
		}
	}

	s.logger.Debug("stream disconnected", "stream_id", s.id)
	return first
}

// Close is an alias for Disconnect so a Stream can be used as an io.Closer.
func (s *Stream) Close() error {
	return s.Disconnect()
}

func (s *Stream) checkRead() error {
	if s.read == nil {
		return ErrWriteOnly
	}
	if s.disconnected.Load() {
		return ErrDisconnected
	}
	return nil
}

func (s *Stream) checkWrite() error {
	if s.write == nil {
		return ErrReadOnly
	}
	if s.disconnected.Load() {
		return ErrDisconnected
	}
	return nil
}

// readOnce performs a single non-blocking read. It returns ErrWouldBlock
// unwrapped so callers can retry, and an empty result on peer close.
func (s *Stream) readOnce() ([]byte, error) {
	if s.rbuf == nil {
		s.rbuf = make([]byte, s.opts.readBufferSize)
	}

	n, err := s.read.ReadNonblock(s.rbuf)
	if n > 0 {
		return append([]byte(nil), s.rbuf[:n]...), nil
	}

	switch {
	case err == nil:
		return []byte{}, nil
	case errors.Is(err, ErrWouldBlock):
		return nil, ErrWouldBlock
	case isPeerClosed(err):
		if !s.peerClosed.Swap(true) {
			s.logger.Debug("peer closed", "stream_id", s.id, "error", err)
		}
		return []byte{}, nil
	default:
		return nil, errors.Wrap(err, "read")
	}
}

// wait blocks until h is ready in dir or the deadline passes.
func (s *Stream) wait(h Handle, dir Direction, t timeout, deadline time.Time) error {
	if t.bounded && !time.Now().Before(deadline) {
		return s.timeoutErr(dir, t)
	}

	ready, err := s.opts.poller.Wait(h, dir, deadline)
	if err != nil {
		return errors.Wrapf(err, "wait %s", dir)
	}
	if !ready {
		return s.timeoutErr(dir, t)
	}
	return nil
}

func (s *Stream) timeoutErr(dir Direction, t timeout) error {
	op := "read"
	if dir == Writable {
		op = "write"
	}

	s.logger.Debug("stream timeout", "stream_id", s.id, "op", op, "timeout", t.d)
	if t.bounded {
		return errors.Wrapf(ErrTimeout, "%s timed out after %v", op, t.d)
	}
	return errors.Wrapf(ErrTimeout, "%s timed out", op)
}

func (s *Stream) closeHandle(h Handle, name string) error {
	if h.Closed() {
		return nil
	}

	if err := h.Close(); err != nil {
		s.logger.Warn("close handle failed", "stream_id", s.id, "handle", name, "error", err)
		return errors.Wrapf(err, "close %s handle", name)
	}
	return nil
}

// isPeerClosed reports whether err means the connection is gone rather than
// a transport fault.
func isPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET)
}

// sameHandle reports whether both fields refer to the identical resource.
func sameHandle(w WriteHandle, r ReadHandle) bool {
	a, b := Handle(w), Handle(r)
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	return ta == tb && ta.Comparable() && a == b
}

func isNilHandle(h Handle) bool {
	if h == nil {
		return true
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
