package network

import (
	"sync"
	"time"

	"github.com/banshee-data/nozzle.align/internal/align"
)

// AssemblerStats counts packet and frame outcomes since startup.
type AssemblerStats struct {
	Packets        uint64 // row packets accepted
	DecodeErrors   uint64 // packets that failed to decode
	StaleRows      uint64 // rows for a frame older than the one in progress
	Frames         uint64 // frames completed
	DroppedPartial uint64 // frames abandoned with rows missing
	DroppedUnread  uint64 // completed frames displaced before delivery
}

// FrameAssembler reassembles row packets into frames and hands them to the
// control loop. Delivery is latest-wins through a single slot: if a frame
// completes before the previous one was consumed, the previous one is
// dropped. The loop always sees the freshest view of the bench.
type FrameAssembler struct {
	mu       sync.Mutex
	cur      *align.Frame
	curSeq   uint32
	started  bool
	rowsSeen []bool
	rowsLeft int
	stats    AssemblerStats
	failErr  error

	frames    chan *align.Frame
	done      chan struct{}
	closeOnce sync.Once
}

// NewFrameAssembler creates an assembler with an empty slot.
func NewFrameAssembler() *FrameAssembler {
	return &FrameAssembler{
		frames: make(chan *align.Frame, 1),
		done:   make(chan struct{}),
	}
}

// HandlePacket decodes one UDP payload and folds it into the frame in
// progress. Decode failures are counted and returned but never fatal; the
// caller decides whether to log them.
func (a *FrameAssembler) HandlePacket(data []byte) error {
	pkt, err := DecodeRowPacket(data)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		a.stats.DecodeErrors++
		return err
	}
	a.stats.Packets++

	switch {
	case a.cur != nil && pkt.FrameSeq == a.curSeq:
		// Row for the frame in progress.
	case !a.started || seqNewer(pkt.FrameSeq, a.curSeq):
		if a.cur != nil && a.rowsLeft > 0 {
			a.stats.DroppedPartial++
		}
		a.startFrame(pkt)
	default:
		// Row for a frame we already completed or abandoned.
		a.stats.StaleRows++
		return nil
	}

	if a.cur.Width != pkt.Width || a.cur.Height != pkt.Height {
		// Geometry changed mid-frame; trust the newest packet.
		a.stats.DroppedPartial++
		a.startFrame(pkt)
	}

	if !a.rowsSeen[pkt.Row] {
		a.rowsSeen[pkt.Row] = true
		a.rowsLeft--
		copy(a.cur.Pix[pkt.Row*a.cur.Width:], pkt.Pixels)
		if pkt.Timestamp.After(a.cur.Timestamp) {
			a.cur.Timestamp = pkt.Timestamp
		}
	}

	if a.rowsLeft == 0 {
		a.publishLocked()
	}
	return nil
}

func (a *FrameAssembler) startFrame(pkt RowPacket) {
	a.cur = align.NewFrame(pkt.Width, pkt.Height)
	a.cur.Sequence = uint64(pkt.FrameSeq)
	a.cur.Timestamp = pkt.Timestamp
	a.curSeq = pkt.FrameSeq
	a.started = true
	a.rowsSeen = make([]bool, pkt.Height)
	a.rowsLeft = pkt.Height
}

func (a *FrameAssembler) publishLocked() {
	frame := a.cur
	a.cur = nil
	a.rowsSeen = nil
	a.stats.Frames++

	for {
		select {
		case a.frames <- frame:
			return
		default:
		}
		select {
		case <-a.frames:
			a.stats.DroppedUnread++
		default:
		}
	}
}

// NextFrame implements align.FrameSource. Buffered frames are delivered
// even after the assembler shuts down; once drained, a closed assembler
// reports its failure.
func (a *FrameAssembler) NextFrame(timeout time.Duration) (*align.Frame, error) {
	select {
	case f := <-a.frames:
		return f, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-a.frames:
		return f, nil
	case <-a.done:
		a.mu.Lock()
		err := a.failErr
		a.mu.Unlock()
		if err == nil {
			err = align.ErrSourceDisconnected
		}
		return nil, err
	case <-timer.C:
		return nil, align.ErrFrameTimeout
	}
}

// Fail shuts the assembler down with a cause. NextFrame reports err after
// any buffered frame is consumed.
func (a *FrameAssembler) Fail(err error) {
	a.mu.Lock()
	if a.failErr == nil {
		a.failErr = err
	}
	a.mu.Unlock()
	a.closeOnce.Do(func() { close(a.done) })
}

// Close implements align.FrameSource.
func (a *FrameAssembler) Close() error {
	a.closeOnce.Do(func() { close(a.done) })
	return nil
}

// Stats returns a snapshot of the packet and frame counters.
func (a *FrameAssembler) Stats() AssemblerStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// seqNewer reports whether a is ahead of b under wraparound arithmetic.
func seqNewer(a, b uint32) bool {
	return int32(a-b) > 0
}
