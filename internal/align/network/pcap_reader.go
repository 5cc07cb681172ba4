package network

import (
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/nozzle.align/internal/align"
)

// PCAPPacket is a single UDP payload read from a capture file, with its
// original capture timestamp.
type PCAPPacket struct {
	Data      []byte
	Timestamp time.Time
}

// PCAPReader reads row packets from a capture file. The real
// implementation is built with the 'pcap' build tag; the mock below keeps
// the replay logic testable without libpcap.
type PCAPReader interface {
	// NextPacket returns the next UDP payload. It returns (nil, nil) at
	// end of file.
	NextPacket() (*PCAPPacket, error)

	// Close releases the underlying handle.
	Close()
}

// ReplayConfig controls capture replay behavior.
type ReplayConfig struct {
	// SpeedMultiplier scales replay speed. 1.0 replays with the original
	// inter-packet timing; larger is faster. Defaults to 1.0.
	SpeedMultiplier float64
}

// NewPCAPFrameSource replays a capture of camera traffic as a frame
// source. Frames arrive with the capture's original pacing, scaled by the
// speed multiplier. When the file is exhausted the source reports
// disconnection, which faults the control loop the same way a dead camera
// would.
//
// Requires a binary built with -tags=pcap.
func NewPCAPFrameSource(pcapFile string, udpPort int, cfg ReplayConfig) (align.FrameSource, error) {
	reader, err := openPCAPReader(pcapFile, udpPort)
	if err != nil {
		return nil, err
	}
	return newReplaySource(reader, cfg), nil
}

// ReplaySource pumps packets from a PCAPReader through a frame assembler
// at capture pacing. It implements align.FrameSource.
type ReplaySource struct {
	*FrameAssembler
	reader    PCAPReader
	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

func newReplaySource(reader PCAPReader, cfg ReplayConfig) *ReplaySource {
	if cfg.SpeedMultiplier <= 0 {
		cfg.SpeedMultiplier = 1.0
	}
	s := &ReplaySource{
		FrameAssembler: NewFrameAssembler(),
		reader:         reader,
		stop:           make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run(cfg)
	return s
}

func (s *ReplaySource) run(cfg ReplayConfig) {
	defer s.wg.Done()

	count := 0
	start := time.Now()
	var lastCapture time.Time

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		pkt, err := s.reader.NextPacket()
		if err != nil {
			align.Opsf("capture replay failed after %d packets: %v", count, err)
			s.Fail(err)
			return
		}
		if pkt == nil {
			align.Opsf("capture replay complete: %d packets in %v", count, time.Since(start))
			s.Fail(align.ErrSourceDisconnected)
			return
		}
		count++

		// Honour the original inter-packet gap, scaled.
		if !lastCapture.IsZero() {
			gap := pkt.Timestamp.Sub(lastCapture)
			if scaled := time.Duration(float64(gap) / cfg.SpeedMultiplier); scaled > 0 {
				timer := time.NewTimer(scaled)
				select {
				case <-s.stop:
					timer.Stop()
					return
				case <-timer.C:
				}
			}
		}
		lastCapture = pkt.Timestamp

		if err := s.HandlePacket(pkt.Data); err != nil {
			align.Diagf("bad row packet at capture offset %d: %v", count, err)
		}
	}
}

// Close stops the replay goroutine and releases the capture handle.
func (s *ReplaySource) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.FrameAssembler.Close()
		s.wg.Wait()
		s.reader.Close()
	})
	return nil
}

// MockPCAPReader implements PCAPReader from an in-memory packet list.
type MockPCAPReader struct {
	mu        sync.Mutex
	packets   []PCAPPacket
	readIndex int
	readErr   error
	closed    bool
}

// NewMockPCAPReader creates a reader that will return the given packets
// in order, then EOF.
func NewMockPCAPReader(packets []PCAPPacket) *MockPCAPReader {
	return &MockPCAPReader{packets: packets}
}

// SetReadError makes subsequent NextPacket calls fail.
func (m *MockPCAPReader) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// NextPacket implements PCAPReader.
func (m *MockPCAPReader) NextPacket() (*PCAPPacket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("reader closed")
	}
	if m.readErr != nil {
		return nil, m.readErr
	}
	if m.readIndex >= len(m.packets) {
		return nil, nil
	}
	pkt := m.packets[m.readIndex]
	m.readIndex++
	return &pkt, nil
}

// Close implements PCAPReader.
func (m *MockPCAPReader) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// Closed reports whether Close was called.
func (m *MockPCAPReader) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
