package network

import (
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/nozzle.align/internal/align"
)

// FrameSender transmits frames as row packets over UDP. It is used by the
// dev-mode camera simulator and by tests; production cameras emit the same
// wire format from firmware.
type FrameSender struct {
	conn *net.UDPConn
	seq  uint32
}

// NewFrameSender dials the destination address.
func NewFrameSender(address string) (*FrameSender, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP address: %w", err)
	}
	return &FrameSender{conn: conn}, nil
}

// Send splits the frame into row packets and transmits them in order.
// Each call consumes one frame sequence number.
func (s *FrameSender) Send(f *align.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	s.seq++
	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	for row := 0; row < f.Height; row++ {
		pkt, err := EncodeRowPacket(RowPacket{
			FrameSeq:  s.seq,
			Width:     f.Width,
			Height:    f.Height,
			Row:       row,
			Timestamp: ts,
			Pixels:    f.Pix[row*f.Width : (row+1)*f.Width],
		})
		if err != nil {
			return err
		}
		if _, err := s.conn.Write(pkt); err != nil {
			return fmt.Errorf("failed to send row %d: %w", row, err)
		}
	}
	return nil
}

// Close releases the socket.
func (s *FrameSender) Close() error {
	return s.conn.Close()
}
