package index

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/LSTS/neptus-sub053/pkg/codec"
)

// RawFrame returns the bytes of frame i, header through footer, exactly as
// stored in the log.
func (ix *LogIndex) RawFrame(i int) ([]byte, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.rawFrameLocked(i)
}

func (ix *LogIndex) rawFrameLocked(i int) ([]byte, error) {
	if ix.closed {
		return nil, ErrClosed
	}
	if i < 0 || i >= ix.cols.len() {
		return nil, ErrOutOfRange
	}

	buf := make([]byte, ix.cols.sizes[i])
	n, err := ix.file.ReadAt(buf, ix.cols.offsets[i])
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &IndexError{Path: ix.files.Data, Op: "read", Err: err}
	}
	if n < len(buf) {
		return nil, &codec.CodecError{
			Kind:   codec.ErrTruncated,
			MgID:   ix.cols.types[i],
			Detail: fmt.Sprintf("read %d of %d bytes at offset %d", n, len(buf), ix.cols.offsets[i]),
		}
	}
	return buf, nil
}

// GetMessage decodes message i. Failures are per message: a *codec.CodecError
// for undecodable frames, ErrOutOfRange or ErrClosed otherwise.
func (ix *LogIndex) GetMessage(i int) (*codec.Message, error) {
	raw, err := ix.RawFrame(i)
	if err != nil {
		return nil, err
	}
	return codec.Decode(raw, ix.reg)
}

// decodeAt is GetMessage for callers that already own the index.
func (ix *LogIndex) decodeAt(i int) (*codec.Message, error) {
	raw, err := ix.rawFrameLocked(i)
	if err != nil {
		return nil, err
	}
	return codec.Decode(raw, ix.reg)
}

// FetchMessages decodes the messages at idxs using up to workers goroutines
// and returns them in the order requested. The first error cancels the rest.
func (ix *LogIndex) FetchMessages(ctx context.Context, idxs []int, workers int) ([]*codec.Message, error) {
	if workers < 1 {
		workers = 1
	}
	out := make([]*codec.Message, len(idxs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k, i := range idxs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := ix.GetMessage(i)
			if err != nil {
				return fmt.Errorf("message %d: %w", i, err)
			}
			out[k] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
