package stage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/banshee-data/nozzle.align/internal/align"
)

// CommandSender is the part of the stage mux the correction link needs:
// command writes plus a response subscription for acknowledgement counting.
type CommandSender interface {
	SendCommand(string) error
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// LinkStats holds counters for the correction link.
type LinkStats struct {
	Sent   uint64 `json:"sent"`
	Acks   uint64 `json:"acks"`
	Errors uint64 `json:"errors"`
}

// Link adapts a stage mux into a correction sink for the alignment loop.
// Corrections are written as relative move commands and are fire-and-forget:
// acknowledgements are counted out of band rather than awaited, so a slow
// controller cannot stall the processing loop.
type Link struct {
	mux CommandSender

	mu    sync.Mutex
	stats LinkStats
}

// NewLink creates a Link over the given mux.
func NewLink(mux CommandSender) *Link {
	return &Link{mux: mux}
}

// ApplyCorrection implements align.CorrectionSink. A correction of deltaUm
// micrometres on the given axis becomes a relative move command such as
// "MVX+12.500".
func (l *Link) ApplyCorrection(axis align.Axis, deltaUm float64) error {
	if math.IsNaN(deltaUm) || math.IsInf(deltaUm, 0) {
		return fmt.Errorf("non-finite correction %f on axis %s", deltaUm, axis)
	}

	command := fmt.Sprintf("MV%s%+.3f", strings.ToUpper(string(axis)), deltaUm)
	if err := l.mux.SendCommand(command); err != nil {
		return fmt.Errorf("stage move %q: %w", command, err)
	}

	l.mu.Lock()
	l.stats.Sent++
	l.mu.Unlock()
	return nil
}

// MonitorResponses consumes controller response lines until the context is
// cancelled, counting acknowledgements and errors. Intended to run in its own
// goroutine alongside the mux Monitor.
func (l *Link) MonitorResponses(ctx context.Context) {
	id, ch := l.mux.Subscribe()
	defer l.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-ch:
			if !ok {
				return
			}
			switch ClassifyResponse(line) {
			case ResponseAck:
				l.mu.Lock()
				l.stats.Acks++
				l.mu.Unlock()
			case ResponseError:
				l.mu.Lock()
				l.stats.Errors++
				l.mu.Unlock()
				align.Diagf("stage controller error: %s", line)
			}
		}
	}
}

// Stats returns a snapshot of the link counters.
func (l *Link) Stats() LinkStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
