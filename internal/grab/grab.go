// Package grab defines the raw frame model shared by the screen capture
// backends, the change detector and the video sink.
package grab

import (
	"errors"
	"image"
	"time"
)

// ErrNoFrame indicates the backend could not produce a snapshot this tick.
// The scheduler treats it as an unchanged tick, not as a session error.
var ErrNoFrame = errors.New("grab: no frame available")

// Frame is one raw snapshot of a monitor. Pix is RGBA, 4 bytes per pixel,
// row-major, no padding between rows. A frame is immutable once produced.
type Frame struct {
	Pix     []byte
	Width   int
	Height  int
	TakenAt time.Time
}

// RGBA wraps the frame's pixels in an image.RGBA without copying.
func (f *Frame) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// Monitor describes one physical display head.
type Monitor struct {
	ID     int
	X, Y   int
	Width  int
	Height int
}
