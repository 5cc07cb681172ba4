package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Wire format for camera frames over UDP. Each packet carries one row of
// pixels plus enough header to reassemble frames out of order:
//
//	offset  size  field
//	0       2     magic (0x4E5A)
//	2       1     version (1)
//	3       1     reserved
//	4       4     frame sequence
//	8       2     frame width in pixels
//	10      2     frame height in rows
//	12      2     row index
//	14      8     capture timestamp, unix nanoseconds
//	22      W     row pixels, one byte each
const (
	packetMagic   = 0x4E5A
	packetVersion = 1
	headerSize    = 22

	// MaxRowWidth bounds the payload so a corrupt header cannot make the
	// assembler allocate unbounded buffers.
	MaxRowWidth = 4096
)

var (
	ErrShortPacket  = errors.New("row packet shorter than header")
	ErrBadMagic     = errors.New("row packet has wrong magic")
	ErrBadVersion   = errors.New("row packet has unsupported version")
	ErrRowTruncated = errors.New("row packet payload shorter than declared width")
)

// RowPacket is one decoded row of a frame in flight.
type RowPacket struct {
	FrameSeq  uint32
	Width     int
	Height    int
	Row       int
	Timestamp time.Time
	Pixels    []byte
}

// EncodeRowPacket serialises a row packet for transmission.
func EncodeRowPacket(p RowPacket) ([]byte, error) {
	if p.Width <= 0 || p.Width > MaxRowWidth || p.Height <= 0 {
		return nil, fmt.Errorf("invalid row packet geometry %dx%d", p.Width, p.Height)
	}
	if p.Row < 0 || p.Row >= p.Height {
		return nil, fmt.Errorf("row index %d out of range for height %d", p.Row, p.Height)
	}
	if len(p.Pixels) != p.Width {
		return nil, fmt.Errorf("row payload length %d does not match width %d", len(p.Pixels), p.Width)
	}

	buf := make([]byte, headerSize+p.Width)
	binary.BigEndian.PutUint16(buf[0:2], packetMagic)
	buf[2] = packetVersion
	binary.BigEndian.PutUint32(buf[4:8], p.FrameSeq)
	binary.BigEndian.PutUint16(buf[8:10], uint16(p.Width))
	binary.BigEndian.PutUint16(buf[10:12], uint16(p.Height))
	binary.BigEndian.PutUint16(buf[12:14], uint16(p.Row))
	binary.BigEndian.PutUint64(buf[14:22], uint64(p.Timestamp.UnixNano()))
	copy(buf[headerSize:], p.Pixels)
	return buf, nil
}

// DecodeRowPacket parses a received packet. The returned Pixels slice
// aliases the input buffer; callers that reuse the buffer must copy.
func DecodeRowPacket(data []byte) (RowPacket, error) {
	if len(data) < headerSize {
		return RowPacket{}, ErrShortPacket
	}
	if binary.BigEndian.Uint16(data[0:2]) != packetMagic {
		return RowPacket{}, ErrBadMagic
	}
	if data[2] != packetVersion {
		return RowPacket{}, ErrBadVersion
	}

	width := int(binary.BigEndian.Uint16(data[8:10]))
	height := int(binary.BigEndian.Uint16(data[10:12]))
	row := int(binary.BigEndian.Uint16(data[12:14]))
	if width <= 0 || width > MaxRowWidth || height <= 0 {
		return RowPacket{}, fmt.Errorf("invalid row packet geometry %dx%d", width, height)
	}
	if row >= height {
		return RowPacket{}, fmt.Errorf("row index %d out of range for height %d", row, height)
	}
	if len(data) < headerSize+width {
		return RowPacket{}, ErrRowTruncated
	}

	return RowPacket{
		FrameSeq:  binary.BigEndian.Uint32(data[4:8]),
		Width:     width,
		Height:    height,
		Row:       row,
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(data[14:22]))),
		Pixels:    data[headerSize : headerSize+width],
	}, nil
}
