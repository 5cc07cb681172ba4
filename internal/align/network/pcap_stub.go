//go:build !pcap
// +build !pcap

package network

import "fmt"

// openPCAPReader is a stub when PCAP support is disabled.
// Build with -tags=pcap to enable capture replay.
func openPCAPReader(pcapFile string, udpPort int) (PCAPReader, error) {
	return nil, fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to enable capture replay")
}
