//go:build pcap
// +build pcap

package network

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// gopacketReader reads UDP payloads from a capture file via libpcap.
type gopacketReader struct {
	handle *pcap.Handle
	source *gopacket.PacketSource
}

// openPCAPReader opens a capture file filtered to camera traffic on the
// given UDP port.
func openPCAPReader(pcapFile string, udpPort int) (PCAPReader, error) {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}

	filter := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to set BPF filter %q: %w", filter, err)
	}

	return &gopacketReader{
		handle: handle,
		source: gopacket.NewPacketSource(handle, handle.LinkType()),
	}, nil
}

// NextPacket returns the next UDP payload, skipping non-UDP packets that
// slip past the filter.
func (r *gopacketReader) NextPacket() (*PCAPPacket, error) {
	for packet := range r.source.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		return &PCAPPacket{
			Data:      udp.Payload,
			Timestamp: packet.Metadata().Timestamp,
		}, nil
	}
	return nil, nil
}

// Close releases the capture handle.
func (r *gopacketReader) Close() {
	r.handle.Close()
}
