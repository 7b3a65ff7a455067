// Package pcapimport extracts IMC frames from UDP traffic in pcap and pcapng
// captures.
package pcapimport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/LSTS/neptus-sub053/pkg/codec"
	"github.com/LSTS/neptus-sub053/pkg/framing"
	"github.com/LSTS/neptus-sub053/pkg/metrics"
	"github.com/LSTS/neptus-sub053/pkg/schema"
)

const pcapngMagic = 0x0A0D0D0A

// Config holds import settings.
type Config struct {
	Registry *schema.Registry
	// Port keeps only datagrams sent from or to this UDP port when non-zero.
	Port       uint16
	MaxPayload int
	Logger     *slog.Logger
}

// Packet is one frame found in the capture.
type Packet struct {
	// Flow names the UDP flow, "src:port->dst:port".
	Flow      string
	Timestamp time.Time
	Raw       []byte
	// Message is nil for frames the registry can not decode.
	Message *codec.Message
}

// Stats summarises an import.
type Stats struct {
	Packets    int `json:"packets"`
	UDPPackets int `json:"udp_packets"`
	Frames     int `json:"frames"`
	// Partial counts datagrams that ended inside a frame, such as packets cut
	// by the capture snap length. Their leftover bytes are discarded.
	Partial int                      `json:"partial"`
	Flows   map[string]framing.Stats `json:"flows"`
}

// FlowNames returns the flows seen, sorted.
func (s Stats) FlowNames() []string {
	out := make([]string, 0, len(s.Flows))
	for k := range s.Flows {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type packetReader interface {
	LinkType() layers.LinkType
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// Import reads the capture at path and calls fn for every IMC frame carried
// by UDP. Every datagram is framed on its own: it may hold several frames,
// and a frame cut short ends with the datagram, so a truncated packet never
// swallows the ones after it. Statistics are kept per flow. Returning an
// error from fn stops the import.
func Import(path string, config Config, fn func(Packet) error) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()
	return ImportReader(f, config, fn)
}

// ImportReader is Import over an already open capture.
func ImportReader(r io.Reader, config Config, fn func(Packet) error) (Stats, error) {
	if config.Registry == nil {
		return Stats{}, errors.New("pcapimport: no registry configured")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "pcapimport")

	src, err := openReader(r)
	if err != nil {
		return Stats{}, fmt.Errorf("pcapimport: %w", err)
	}

	stats := Stats{Flows: make(map[string]framing.Stats)}
	framers := make(map[string]*framing.Framer)
	defer func() {
		for flow, fr := range framers {
			stats.Flows[flow] = fr.Stats()
		}
	}()

	for {
		data, ci, err := src.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				logger.Warn("capture ends with a truncated packet", "packets", stats.Packets)
				break
			}
			return stats, fmt.Errorf("pcapimport: packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		pkt := gopacket.NewPacket(data, src.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		netLayer := pkt.NetworkLayer()
		if udpLayer == nil || netLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if config.Port != 0 && uint16(udp.SrcPort) != config.Port && uint16(udp.DstPort) != config.Port {
			continue
		}
		stats.UDPPackets++
		metrics.PacketsReceived.WithLabelValues("pcap").Inc()

		nf := netLayer.NetworkFlow()
		flow := fmt.Sprintf("%s:%d->%s:%d", nf.Src(), udp.SrcPort, nf.Dst(), udp.DstPort)
		fr, ok := framers[flow]
		if !ok {
			fr = framing.NewFramer(framing.Config{
				Registry:   config.Registry,
				MaxPayload: config.MaxPayload,
				Source:     "pcap",
				Logger:     logger,
			})
			framers[flow] = fr
		}

		for _, raw := range fr.FeedRaw(udp.Payload) {
			m, _ := fr.Decode(raw)
			stats.Frames++
			if err := fn(Packet{Flow: flow, Timestamp: ci.Timestamp, Raw: raw, Message: m}); err != nil {
				return stats, err
			}
		}
		if left := fr.DropPartial(); left > 0 {
			stats.Partial++
			logger.Warn("datagram ends with a partial frame", "flow", flow, "packet", stats.Packets, "bytes", left)
		}
	}

	logger.Info("capture imported", "packets", stats.Packets, "udp_packets", stats.UDPPackets,
		"frames", stats.Frames, "flows", len(framers))
	return stats, nil
}

// openReader picks the pcap or pcapng reader by the file's magic number.
func openReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("reading capture header: %w", err)
	}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		return ng, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, err
	}
	return pr, nil
}
