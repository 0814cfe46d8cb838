package stream

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Dial connects to the address on the named network and returns a connected
// Stream whose read and write handles are the same Socket.
func Dial(ctx context.Context, network, address string, opt ...Option) (*Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s %s", network, address)
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	return FromConn(conn, opt...)
}

// FromConn wraps an already connected net.Conn in a connected Stream using
// one Socket for both directions. conn is closed if it cannot be wrapped.
func FromConn(conn net.Conn, opt ...Option) (*Stream, error) {
	sock, err := NewSocket(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := New(sock, sock, opt...)
	s.Connect()
	return s, nil
}
