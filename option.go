package stream

import (
	"time"
)

// timeout is an optional duration. An unbounded timeout waits indefinitely.
type timeout struct {
	d       time.Duration
	bounded bool
}

// deadline returns the absolute deadline for an operation starting at now,
// or the zero time when the timeout is unbounded.
func (t timeout) deadline(now time.Time) time.Time {
	if !t.bounded {
		return time.Time{}
	}
	return now.Add(t.d)
}

// options holds the configuration for a stream.
type options struct {
	logger Logger
	poller Poller

	readTimeout    timeout
	writeTimeout   timeout
	readBufferSize int // maximum bytes returned by a single read
}

// Option is a function that configures stream options.
type Option func(*options)

// ReadTimeoutOption returns an Option that bounds how long Read waits for data.
// Without it, Read waits indefinitely. ReadNonblock never waits.
func ReadTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.readTimeout = timeout{d: d, bounded: true}
	}
}

// WriteTimeoutOption returns an Option that bounds how long Write waits for
// buffer space. Without it, Write waits indefinitely.
func WriteTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout{d: d, bounded: true}
	}
}

// ReadBufferSizeOption returns an Option that sets the maximum number of
// bytes returned by a single read.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// PollerOption returns an Option that sets the readiness-notification primitive.
// If not set, DefaultPoller is used.
func PollerOption(p Poller) Option {
	return func(o *options) {
		o.poller = p
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
