// Package pcap replays a captured receiver session stored as a pcap
// file, reassembling the TCP/UDP payload bytes of each packet in
// capture order back into the line-oriented record stream spec.md §6
// defines, for offline batch runs without live hardware. Mirrors the
// teacher's cmd/tools/pcap-analyse use of gopacket/pcapgo to read
// capture files without requiring libpcap at build time.
package pcap

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/vhftag/tagfinder/internal/record"
)

// Replayer decodes record.Record values from a pcap capture's
// reassembled application payload, in packet-arrival order.
type Replayer struct {
	f      *os.File
	src    *gopacket.PacketSource
	reader *record.Reader
	pw     *io.PipeWriter
	done   chan error
}

// Open opens the pcap file at path and starts reassembling its
// TCP/UDP payloads into a record stream.
func Open(path string) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pcap: open %s: %w", path, err)
	}
	handle, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pcap: read header of %s: %w", path, err)
	}

	pr, pw := io.Pipe()
	rp := &Replayer{
		f:      f,
		src:    gopacket.NewPacketSource(handle, handle.LinkType()),
		reader: record.NewReader(pr),
		pw:     pw,
		done:   make(chan error, 1),
	}
	go rp.pump(pw)
	return rp, nil
}

// pump walks every packet in capture order, writing each one's
// application-layer payload to pw so Reader sees one continuous
// stream, then closes pw when the capture is exhausted.
func (rp *Replayer) pump(pw *io.PipeWriter) {
	for packet := range rp.src.Packets() {
		var payload []byte
		if app := packet.ApplicationLayer(); app != nil {
			payload = app.Payload()
		} else if tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
			payload = tcp.Payload
		} else if udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
			payload = udp.Payload
		}
		if len(payload) == 0 {
			continue
		}
		if _, err := pw.Write(bytes.TrimRight(payload, "\x00")); err != nil {
			rp.done <- err
			return
		}
	}
	pw.Close()
	rp.done <- nil
}

// Next returns the next decoded record, or io.EOF once the capture is
// exhausted.
func (rp *Replayer) Next() (*record.Record, error) {
	return rp.reader.Next()
}

// Close releases the underlying pcap file handle.
func (rp *Replayer) Close() error {
	rp.pw.CloseWithError(io.EOF)
	<-rp.done
	return rp.f.Close()
}
