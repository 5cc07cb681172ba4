package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/nozzle.align/internal/align"
)

// UDPSourceConfig configures the UDP frame listener.
type UDPSourceConfig struct {
	// Address is the listen address, e.g. ":2368".
	Address string

	// RcvBuf is the socket receive buffer size in bytes. Zero keeps the
	// system default.
	RcvBuf int

	// LogInterval controls how often packet statistics are logged.
	// Defaults to one minute.
	LogInterval time.Duration
}

// UDPFrameSource receives row packets from the camera head over UDP and
// assembles them into frames. It implements align.FrameSource.
type UDPFrameSource struct {
	conn      *net.UDPConn
	assembler *FrameAssembler
	cfg       UDPSourceConfig

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewUDPFrameSource binds the listen socket and starts the receive loop.
func NewUDPFrameSource(cfg UDPSourceConfig) (*UDPFrameSource, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(cfg.RcvBuf); err != nil {
			align.Opsf("failed to set UDP receive buffer to %d: %v", cfg.RcvBuf, err)
		}
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}

	s := &UDPFrameSource{
		conn:      conn,
		assembler: NewFrameAssembler(),
		cfg:       cfg,
	}
	align.Opsf("UDP frame listener started on %s", conn.LocalAddr())
	s.wg.Add(2)
	go s.readLoop()
	go s.statsLoop()
	return s, nil
}

// LocalAddr returns the bound listen address, useful when Address had
// port 0.
func (s *UDPFrameSource) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *UDPFrameSource) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, headerSize+MaxRowWidth)
	for {
		s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				select {
				case <-s.assembler.done:
					return
				default:
					continue
				}
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			align.Opsf("UDP read error: %v", err)
			s.assembler.Fail(align.ErrSourceDisconnected)
			return
		}

		if err := s.assembler.HandlePacket(buf[:n]); err != nil {
			align.Diagf("bad row packet from %v: %v", addr, err)
		}
	}
}

func (s *UDPFrameSource) statsLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.assembler.done:
			return
		case <-ticker.C:
			st := s.assembler.Stats()
			align.Diagf("frame listener: packets=%d frames=%d partial_drops=%d unread_drops=%d decode_errors=%d",
				st.Packets, st.Frames, st.DroppedPartial, st.DroppedUnread, st.DecodeErrors)
		}
	}
}

// NextFrame implements align.FrameSource.
func (s *UDPFrameSource) NextFrame(timeout time.Duration) (*align.Frame, error) {
	return s.assembler.NextFrame(timeout)
}

// Stats returns assembler counters for the monitor endpoints.
func (s *UDPFrameSource) Stats() AssemblerStats {
	return s.assembler.Stats()
}

// Close shuts down the socket and the receive loop.
func (s *UDPFrameSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.assembler.Close()
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}
