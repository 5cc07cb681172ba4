package align

import (
	"math"
	"sync"
	"time"
)

// SyntheticScene describes the frame a SyntheticSource renders: a dark
// nozzle disc and a bright Gaussian beam spot on a mid-grey background.
// Used by dev mode and the pipeline tests; positions are sub-pixel.
type SyntheticScene struct {
	Width, Height    int
	Background       uint8
	NozzleX, NozzleY float64
	NozzleRadius     float64
	BeamX, BeamY     float64
	BeamRadius       float64
}

// DefaultSyntheticScene is a 320×240 bench scene with a visible offset
// between nozzle and beam.
func DefaultSyntheticScene() SyntheticScene {
	return SyntheticScene{
		Width: 320, Height: 240,
		Background: 150,
		NozzleX:    160, NozzleY: 120, NozzleRadius: 18,
		BeamX: 205, BeamY: 98, BeamRadius: 4,
	}
}

// RenderScene draws the scene into a fresh frame.
func RenderScene(sc SyntheticScene) *Frame {
	f := NewFrame(sc.Width, sc.Height)
	for i := range f.Pix {
		f.Pix[i] = sc.Background
	}
	// Nozzle: dark disc.
	drawDisc(f, sc.NozzleX, sc.NozzleY, sc.NozzleRadius, 20)
	// Beam: bright Gaussian spot so the centroid is genuinely sub-pixel.
	drawGaussian(f, sc.BeamX, sc.BeamY, sc.BeamRadius, 250)
	return f
}

func drawDisc(f *Frame, cx, cy, r float64, value uint8) {
	minX := int(math.Floor(cx - r - 1))
	maxX := int(math.Ceil(cx + r + 1))
	minY := int(math.Floor(cy - r - 1))
	maxY := int(math.Ceil(cy + r + 1))
	for y := minY; y <= maxY; y++ {
		if y < 0 || y >= f.Height {
			continue
		}
		for x := minX; x <= maxX; x++ {
			if x < 0 || x >= f.Width {
				continue
			}
			dx := float64(x) - cx
			dy := float64(y) - cy
			if dx*dx+dy*dy <= r*r {
				f.Pix[y*f.Width+x] = value
			}
		}
	}
}

func drawGaussian(f *Frame, cx, cy, sigma float64, peak uint8) {
	ext := int(math.Ceil(3 * sigma))
	minX := int(math.Floor(cx)) - ext
	maxX := int(math.Ceil(cx)) + ext
	minY := int(math.Floor(cy)) - ext
	maxY := int(math.Ceil(cy)) + ext
	for y := minY; y <= maxY; y++ {
		if y < 0 || y >= f.Height {
			continue
		}
		for x := minX; x <= maxX; x++ {
			if x < 0 || x >= f.Width {
				continue
			}
			dx := float64(x) - cx
			dy := float64(y) - cy
			v := float64(peak) * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
			idx := y*f.Width + x
			if cur := float64(f.Pix[idx]); v > cur {
				f.Pix[idx] = uint8(v)
			}
		}
	}
}

// SyntheticSource is a FrameSource that renders the configured scene at a
// fixed interval. The scene can be moved between frames to exercise the
// control loop without hardware, and the source can be forced to time out
// or disconnect to exercise the fault paths.
type SyntheticSource struct {
	mu         sync.Mutex
	scene      SyntheticScene
	interval   time.Duration
	seq        uint64
	nextAt     time.Time
	disconnect bool
	blank      bool
}

// NewSyntheticSource creates a source producing one frame per interval.
func NewSyntheticSource(scene SyntheticScene, interval time.Duration) *SyntheticSource {
	return &SyntheticSource{scene: scene, interval: interval}
}

// SetScene replaces the rendered scene (e.g. after applying a simulated
// stage move).
func (s *SyntheticSource) SetScene(sc SyntheticScene) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scene = sc
}

// Scene returns the current scene.
func (s *SyntheticSource) Scene() SyntheticScene {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene
}

// SetDisconnected forces NextFrame to report a hard source failure.
func (s *SyntheticSource) SetDisconnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnect = v
}

// SetBlank renders featureless frames (background only), simulating a
// closed shutter. Detection will miss on every frame.
func (s *SyntheticSource) SetBlank(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blank = v
}

// NextFrame paces frames at the configured interval, honouring timeout.
func (s *SyntheticSource) NextFrame(timeout time.Duration) (*Frame, error) {
	s.mu.Lock()
	if s.disconnect {
		s.mu.Unlock()
		return nil, ErrSourceDisconnected
	}
	now := time.Now()
	if s.nextAt.IsZero() {
		s.nextAt = now
	}
	wait := s.nextAt.Sub(now)
	s.mu.Unlock()

	if wait > timeout {
		time.Sleep(timeout)
		return nil, ErrFrameTimeout
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnect {
		return nil, ErrSourceDisconnected
	}
	s.nextAt = time.Now().Add(s.interval)
	s.seq++

	var f *Frame
	if s.blank {
		sc := s.scene
		f = NewFrame(sc.Width, sc.Height)
		for i := range f.Pix {
			f.Pix[i] = sc.Background
		}
	} else {
		f = RenderScene(s.scene)
	}
	f.Sequence = s.seq
	f.Timestamp = time.Now()
	return f, nil
}

// Close implements FrameSource.
func (s *SyntheticSource) Close() error {
	return nil
}
