// Package sink holds the error contract shared by the video and log sink
// implementations.
package sink

import "errors"

var (
	// ErrClosed is returned by writes after a sink has been closed.
	ErrClosed = errors.New("sink: closed")
	// ErrWriteTimeout is returned when a frame write exceeds the configured
	// backpressure bound. The scheduler skips the tick's capture instead of
	// blocking the loop.
	ErrWriteTimeout = errors.New("sink: frame write timed out")
)
