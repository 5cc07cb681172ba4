package stage

import (
	"go.bug.st/serial"
)

// NewStageMuxFromFactory opens a controller port through the given factory
// and wraps it in a StageMux. The factory indirection keeps the open path
// identical for real hardware and injected test ports.
func NewStageMuxFromFactory(factory StagePortFactory, path string, opts PortOptions) (*StageMux[StagePorter], error) {
	port, err := factory.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return NewStageMux(port), nil
}

// NewRealStageMux creates a StageMux instance backed by a real controller
// port at the given path using the provided serial options.
func NewRealStageMux(path string, opts PortOptions) (*StageMux[StagePorter], error) {
	return NewStageMuxFromFactory(RealStagePortFactory{}, path, opts)
}

// RealStagePortFactory implements StagePortFactory using go.bug.st/serial.
type RealStagePortFactory struct{}

// Open opens a real serial port at the given path.
func (RealStagePortFactory) Open(path string, opts PortOptions) (StagePorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	return serial.Open(path, mode)
}
