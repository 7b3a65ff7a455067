// Package transport moves IMC frames over the network: a UDP listener that
// keeps one framer per remote peer, a reader for byte streams such as TCP
// connections or serial ports, and a UDP sender.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/LSTS/neptus-sub053/pkg/codec"
	"github.com/LSTS/neptus-sub053/pkg/framing"
	"github.com/LSTS/neptus-sub053/pkg/metrics"
	"github.com/LSTS/neptus-sub053/pkg/schema"
)

// Packet is one frame received from the network.
type Packet struct {
	From     net.Addr
	Received time.Time
	// Raw is the checksum-verified frame, header through footer.
	Raw []byte
	// Message is nil when the frame's type is unknown to the registry or its
	// payload does not match the layout.
	Message *codec.Message
}

// Handler receives packets. It runs on the reading goroutine, so a slow
// handler delays reads.
type Handler func(Packet)

// UDPConfig holds listener settings.
type UDPConfig struct {
	// Addr is the local address to bind, for example ":6002".
	Addr     string
	Registry *schema.Registry
	// MaxPayload bounds declared payload sizes; see framing.Config.
	MaxPayload int
	// PeerTimeout drops the framer of a peer that has been silent this long.
	// Defaults to one minute.
	PeerTimeout time.Duration
	// ReadBuffer sets the socket receive buffer when positive.
	ReadBuffer int
	Logger     *slog.Logger
}

// PeerStats reports one remote peer's framer counters.
type PeerStats struct {
	Addr     string        `json:"addr"`
	LastSeen time.Time     `json:"last_seen"`
	Stats    framing.Stats `json:"stats"`
}

type peer struct {
	framer   *framing.Framer
	lastSeen time.Time
}

// UDPListener receives IMC datagrams on one socket.
type UDPListener struct {
	conn    *net.UDPConn
	config  UDPConfig
	logger  *slog.Logger
	pollDur time.Duration

	mu    sync.Mutex
	peers map[string]*peer

	closeOnce sync.Once
}

// ListenUDP binds the listener's socket. Call Serve to start receiving.
func ListenUDP(config UDPConfig) (*UDPListener, error) {
	if config.Registry == nil {
		return nil, errors.New("transport: no registry configured")
	}
	if config.PeerTimeout <= 0 {
		config.PeerTimeout = time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	addr, err := net.ResolveUDPAddr("udp", config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", config.Addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", config.Addr, err)
	}

	logger := config.Logger.With("component", "udp", "addr", conn.LocalAddr().String())
	if config.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(config.ReadBuffer); err != nil {
			logger.Warn("could not set UDP read buffer", "size", config.ReadBuffer, "error", err)
		}
	}

	return &UDPListener{
		conn:    conn,
		config:  config,
		logger:  logger,
		pollDur: 100 * time.Millisecond,
		peers:   make(map[string]*peer),
	}, nil
}

// Addr returns the bound local address.
func (l *UDPListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Serve reads datagrams until ctx is cancelled or the listener is closed,
// passing every frame to h. It returns nil on cancellation or Close. Peer
// statistics stay readable until Close.
func (l *UDPListener) Serve(ctx context.Context, h Handler) error {
	buf := make([]byte, 65536)
	lastSweep := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		// The deadline bounds how long a cancellation goes unnoticed.
		_ = l.conn.SetReadDeadline(time.Now().Add(l.pollDur))

		n, from, err := l.conn.ReadFromUDP(buf)
		now := time.Now()
		if now.Sub(lastSweep) >= l.config.PeerTimeout/2 {
			l.sweep(now)
			lastSweep = now
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("udp read: %w", err)
		}
		metrics.PacketsReceived.WithLabelValues("udp").Inc()

		p := l.peer(from, now)
		for _, raw := range p.framer.FeedRaw(buf[:n]) {
			m, _ := p.framer.Decode(raw)
			h(Packet{From: from, Received: now, Raw: raw, Message: m})
		}
		if left := p.framer.DropPartial(); left > 0 {
			l.logger.Debug("datagram ends with a partial frame", "peer", from, "bytes", left)
		}
	}
}

func (l *UDPListener) peer(from *net.UDPAddr, now time.Time) *peer {
	key := from.String()

	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.peers[key]
	if !ok {
		p = &peer{framer: framing.NewFramer(framing.Config{
			Registry:   l.config.Registry,
			MaxPayload: l.config.MaxPayload,
			Source:     "udp",
			Logger:     l.logger.With("peer", key),
		})}
		l.peers[key] = p
		metrics.PeersActive.Inc()
		l.logger.Debug("new peer", "peer", key)
	}
	p.lastSeen = now
	return p
}

// sweep forgets peers that have been silent longer than the peer timeout.
func (l *UDPListener) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, p := range l.peers {
		if now.Sub(p.lastSeen) > l.config.PeerTimeout {
			delete(l.peers, key)
			metrics.PeersActive.Dec()
			l.logger.Debug("peer expired", "peer", key)
		}
	}
}

func (l *UDPListener) dropPeers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	metrics.PeersActive.Sub(float64(len(l.peers)))
	l.peers = make(map[string]*peer)
}

// Peers returns per-peer framer statistics ordered by address.
func (l *UDPListener) Peers() []PeerStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PeerStats, 0, len(l.peers))
	for key, p := range l.peers {
		out = append(out, PeerStats{Addr: key, LastSeen: p.lastSeen, Stats: p.framer.Stats()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Close closes the socket, which also ends Serve.
func (l *UDPListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.conn.Close()
		l.dropPeers()
	})
	return err
}
