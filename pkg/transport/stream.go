package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/LSTS/neptus-sub053/pkg/framing"
)

// ReadStream feeds everything read from r through framer and calls fn for
// each frame until r reaches EOF, ctx is cancelled or fn returns an error.
// EOF and cancellation end the stream without error. A partial frame left
// at EOF is dropped.
func ReadStream(ctx context.Context, r io.Reader, framer *framing.Framer, from net.Addr, fn func(Packet) error) error {
	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := r.Read(buf)
		if n > 0 {
			now := time.Now()
			for _, raw := range framer.FeedRaw(buf[:n]) {
				m, _ := framer.Decode(raw)
				if ferr := fn(Packet{From: from, Received: now, Raw: raw, Message: m}); ferr != nil {
					return ferr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// DialStream connects to a TCP endpoint and reads frames from it with
// ReadStream. The connection is closed when the stream ends or ctx is
// cancelled.
func DialStream(ctx context.Context, addr string, config framing.Config, fn func(Packet) error) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if config.Source == "" {
		config.Source = "tcp"
	}
	return ReadStream(ctx, conn, framing.NewFramer(config), conn.RemoteAddr(), fn)
}
