package align

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel outcomes for FrameSource.NextFrame. A timeout is a skipped
// cycle; a disconnect is a hard failure that faults the supervisor.
var (
	ErrFrameTimeout       = errors.New("frame source: timeout")
	ErrSourceDisconnected = errors.New("frame source: disconnected")
)

// Frame is one monochrome capture from the coaxial camera.
//
// Pix is row-major, one intensity sample per pixel. A frame is immutable
// once delivered: the source allocates it, the processing stage owns it
// until detection completes, and nothing writes to Pix after construction.
type Frame struct {
	Width     int
	Height    int
	Pix       []uint8
	Sequence  uint64
	Timestamp time.Time
}

// NewFrame allocates a zeroed frame of the given dimensions.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height),
	}
}

// At returns the intensity at (x, y). Callers must bounds-check; the hot
// detection loops index Pix directly and this accessor exists for tests
// and synthetic frame construction.
func (f *Frame) At(x, y int) uint8 {
	return f.Pix[y*f.Width+x]
}

// Set writes the intensity at (x, y). Only valid before the frame is
// handed to the pipeline.
func (f *Frame) Set(x, y int, v uint8) {
	f.Pix[y*f.Width+x] = v
}

// Validate checks that the pixel buffer matches the declared geometry.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame geometry %dx%d", f.Width, f.Height)
	}
	if len(f.Pix) != f.Width*f.Height {
		return fmt.Errorf("pixel buffer length %d does not match %dx%d", len(f.Pix), f.Width, f.Height)
	}
	return nil
}

// FrameSource delivers timestamped frames at the camera's nominal rate.
//
// NextFrame blocks for at most timeout. It returns ErrFrameTimeout when no
// frame arrived in time (treated as a skipped cycle, never a fault) and
// ErrSourceDisconnected when the source is gone for good.
type FrameSource interface {
	NextFrame(timeout time.Duration) (*Frame, error)
	Close() error
}
