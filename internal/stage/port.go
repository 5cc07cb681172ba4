package stage

import (
	"io"
	"time"
)

// StagePorter defines the minimal interface needed for a stage controller
// serial port. This abstraction enables unit testing without real stage
// hardware.
type StagePorter interface {
	io.ReadWriter
	io.Closer
}

// StagePortFactory defines an interface for creating stage ports.
// This abstraction enables dependency injection of port creation.
type StagePortFactory interface {
	// Open opens a stage port at the specified path with the given options.
	Open(path string, opts PortOptions) (StagePorter, error)
}

// TimeoutStagePorter extends StagePorter with timeout capabilities.
// This is an optional interface that ports may implement.
type TimeoutStagePorter interface {
	StagePorter
	// SetReadTimeout sets the read timeout for the port.
	SetReadTimeout(timeout time.Duration) error
}
