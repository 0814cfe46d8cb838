//go:build !unix

package stream

import (
	"time"

	"github.com/pkg/errors"
)

var errSocketUnsupported = errors.New("non-blocking sockets are not supported on this platform")

// ReadNonblock is not supported on this platform.
func (s *Socket) ReadNonblock(p []byte) (int, error) {
	return 0, errSocketUnsupported
}

// WriteNonblock is not supported on this platform.
func (s *Socket) WriteNonblock(p []byte) (int, error) {
	return 0, errSocketUnsupported
}

// WaitReady is not supported on this platform.
func (s *Socket) WaitReady(dir Direction, deadline time.Time) (bool, error) {
	return false, errSocketUnsupported
}
