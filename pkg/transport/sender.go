package transport

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/LSTS/neptus-sub053/pkg/codec"
	"github.com/LSTS/neptus-sub053/pkg/schema"
)

// SenderConfig holds sender settings.
type SenderConfig struct {
	// Addr is the destination, for example "127.0.0.1:6002".
	Addr     string
	Registry *schema.Registry
	// Src and SrcEnt are stamped on messages whose header leaves them zero.
	Src    uint16
	SrcEnt uint8
	Logger *slog.Logger
}

// Sender encodes messages and sends one frame per datagram.
type Sender struct {
	conn   *net.UDPConn
	reg    *schema.Registry
	src    uint16
	srcEnt uint8
	logger *slog.Logger

	mu   sync.Mutex
	sent uint64
}

// NewSender opens a UDP socket connected to config.Addr.
func NewSender(config SenderConfig) (*Sender, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("transport: no registry configured")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	addr, err := net.ResolveUDPAddr("udp", config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", config.Addr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", config.Addr, err)
	}
	return &Sender{
		conn:   conn,
		reg:    config.Registry,
		src:    config.Src,
		srcEnt: config.SrcEnt,
		logger: config.Logger.With("component", "sender", "addr", config.Addr),
	}, nil
}

// Send stamps and encodes m and writes it as one datagram. A zero timestamp
// becomes the current time; zero source fields take the sender's.
func (s *Sender) Send(m *codec.Message) error {
	h := m.Header()
	if h.Timestamp == 0 {
		h.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}
	if h.Src == 0 {
		h.Src = s.src
	}
	if h.SrcEnt == 0 {
		h.SrcEnt = s.srcEnt
	}
	frame, err := codec.Encode(m.WithHeader(h), s.reg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", m.Abbrev(), err)
	}
	s.sent++
	return nil
}

// Sent returns the number of datagrams written.
func (s *Sender) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// LocalAddr returns the sender's own address, which receivers see as From.
func (s *Sender) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Sender) Close() error {
	return s.conn.Close()
}
