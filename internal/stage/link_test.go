package stage

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/nozzle.align/internal/align"
	"github.com/banshee-data/nozzle.align/internal/testutil"
)

func TestLinkApplyCorrectionFormatsCommand(t *testing.T) {
	port := NewTestableStagePort()
	mux := NewStageMux(port)
	link := NewLink(mux)

	if err := link.ApplyCorrection(align.AxisX, 12.5); err != nil {
		t.Fatalf("ApplyCorrection: %v", err)
	}
	if err := link.ApplyCorrection(align.AxisY, -0.75); err != nil {
		t.Fatalf("ApplyCorrection: %v", err)
	}

	written := string(port.GetWrittenData())
	if !strings.Contains(written, "MVX+12.500\n") {
		t.Errorf("missing X move command; wrote %q", written)
	}
	if !strings.Contains(written, "MVY-0.750\n") {
		t.Errorf("missing Y move command; wrote %q", written)
	}
	if got := link.Stats().Sent; got != 2 {
		t.Errorf("sent counter = %d, want 2", got)
	}
}

func TestLinkApplyCorrectionRejectsNonFinite(t *testing.T) {
	link := NewLink(NewStageMux(NewTestableStagePort()))

	if err := link.ApplyCorrection(align.AxisX, math.NaN()); err == nil {
		t.Error("NaN correction accepted")
	}
	if err := link.ApplyCorrection(align.AxisY, math.Inf(1)); err == nil {
		t.Error("infinite correction accepted")
	}
	if got := link.Stats().Sent; got != 0 {
		t.Errorf("sent counter = %d, want 0", got)
	}
}

func TestLinkApplyCorrectionPropagatesWriteError(t *testing.T) {
	port := NewTestableStagePort()
	port.WriteError = ErrWriteFailed
	link := NewLink(NewStageMux(port))

	if err := link.ApplyCorrection(align.AxisX, 1.0); err == nil {
		t.Error("ApplyCorrection succeeded despite write failure")
	}
}

func TestLinkCountsAcknowledgements(t *testing.T) {
	// An auto-acknowledging port answers every move with "OK"; the link's
	// response monitor should count them without ApplyCorrection blocking.
	port := NewTestableStagePort()
	port.BlockReads = true
	port.AutoAck = true
	mux := NewStageMux(port)
	link := NewLink(mux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)
	go link.MonitorResponses(ctx)

	// Give the subscriber a moment to attach before commands flow.
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := link.ApplyCorrection(align.AxisX, float64(i)); err != nil {
			t.Fatalf("ApplyCorrection: %v", err)
		}
	}

	testutil.WaitForCondition(t, 2*time.Second, func() bool {
		return link.Stats().Acks >= 3
	}, "link did not count three acks")
}

func TestLinkCountsControllerErrors(t *testing.T) {
	port := NewTestableStagePort()
	port.BlockReads = true
	mux := NewStageMux(port)
	link := NewLink(mux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)
	go link.MonitorResponses(ctx)
	time.Sleep(10 * time.Millisecond)

	port.AddReadData([]byte("ERR limit switch\n"))

	testutil.WaitForCondition(t, 2*time.Second, func() bool {
		return link.Stats().Errors >= 1
	}, "link did not count the controller error")
}
