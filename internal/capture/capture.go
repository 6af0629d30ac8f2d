// Package capture provides raw TDC word sources: flat word dumps and pcap
// captures of the UDP datagrams the front end sends.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/rfoxkendo/mikumarimaker/internal/mikumari"
)

var ErrClosed = errors.New("capture: source is closed")

// Source is a word source backed by a file.
type Source interface {
	mikumari.WordSource
	Close() error
}

// IsPcap reports whether a path names a pcap or pcapng capture.
func IsPcap(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcap", ".pcapng", ".cap":
		return true
	}
	return false
}

// Open opens a raw word source. Capture files are replayed as UDP datagrams
// filtered on udpPort (0 accepts any port); anything else is read as a flat
// stream of native-endian words.
func Open(path string, udpPort uint16) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw source: %w", err)
	}
	if !IsPcap(path) {
		diagf("reading raw words from %s", path)
		return &RawWords{WordReader: mikumari.NewWordReader(f), c: f}, nil
	}
	pw, err := NewPcapWords(f, udpPort, strings.EqualFold(filepath.Ext(path), ".pcapng"))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	pw.c = f
	diagf("replaying UDP datagrams from %s (port %d)", path, udpPort)
	return pw, nil
}

// RawWords reads a flat word dump.
type RawWords struct {
	*mikumari.WordReader
	c io.Closer
}

// Close closes the underlying file.
func (r *RawWords) Close() error {
	if r.c == nil {
		return nil
	}
	err := r.c.Close()
	r.c = nil
	if n := r.Dropped(); n > 0 {
		opsf("discarded %d trailing bytes of a partial word", n)
	}
	return err
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// PcapStats counts what a PcapWords source has read.
type PcapStats struct {
	Packets      uint64
	Datagrams    uint64
	Skipped      uint64
	Words        uint64
	DroppedBytes uint64
}

// PcapWords yields the words carried in the UDP payloads of a capture.
// Payload bytes that do not fill a whole word are discarded.
type PcapWords struct {
	pr      packetReader
	port    layers.UDPPort
	pending []byte
	stats   PcapStats
	c       io.Closer
	closed  bool
}

// NewPcapWords reads a capture from r. ng selects the pcapng format.
func NewPcapWords(r io.Reader, udpPort uint16, ng bool) (*PcapWords, error) {
	var pr packetReader
	var err error
	if ng {
		pr, err = pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	} else {
		pr, err = pcapgo.NewReader(r)
	}
	if err != nil {
		return nil, err
	}
	return &PcapWords{pr: pr, port: layers.UDPPort(udpPort)}, nil
}

// Next returns the next word, reading packets as needed.
func (p *PcapWords) Next() (uint64, error) {
	if p.closed {
		return 0, ErrClosed
	}
	for len(p.pending) < mikumari.WordSize {
		if n := len(p.pending); n > 0 {
			p.stats.DroppedBytes += uint64(n)
			tracef("dropping %d trailing payload bytes", n)
			p.pending = nil
		}
		payload, err := p.nextPayload()
		if err != nil {
			return 0, err
		}
		p.pending = payload
	}
	w := binary.NativeEndian.Uint64(p.pending)
	p.pending = p.pending[mikumari.WordSize:]
	p.stats.Words++
	return w, nil
}

func (p *PcapWords) nextPayload() ([]byte, error) {
	for {
		data, _, err := p.pr.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				opsf("capture truncated after %d packets", p.stats.Packets)
				return nil, io.EOF
			}
			return nil, err
		}
		p.stats.Packets++

		packet := gopacket.NewPacket(data, p.pr.LinkType(), gopacket.NoCopy)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			p.stats.Skipped++
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || (p.port != 0 && udp.DstPort != p.port) || len(udp.Payload) == 0 {
			p.stats.Skipped++
			continue
		}
		p.stats.Datagrams++
		if p.stats.Datagrams%10000 == 0 {
			diagf("capture progress: %d datagrams, %d words", p.stats.Datagrams, p.stats.Words)
		}
		return udp.Payload, nil
	}
}

// Stats returns the source's counters.
func (p *PcapWords) Stats() PcapStats { return p.stats }

// Close closes the underlying file, if the source owns one.
func (p *PcapWords) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if n := len(p.pending) % mikumari.WordSize; n > 0 {
		p.stats.DroppedBytes += uint64(n)
	}
	if p.stats.DroppedBytes > 0 {
		opsf("discarded %d payload bytes that did not fill a word", p.stats.DroppedBytes)
	}
	diagf("capture done: %d packets, %d datagrams, %d skipped, %d words",
		p.stats.Packets, p.stats.Datagrams, p.stats.Skipped, p.stats.Words)
	if p.c != nil {
		return p.c.Close()
	}
	return nil
}
