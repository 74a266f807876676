// Package checkpoint snapshots the metadata store to a zstd-compressed file
// and restores it. A checkpoint is a short header followed by a zstd stream
// of JSON records, one item per line, closed by a trailer carrying the item
// count so truncated files are rejected.
package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
)

var magic = [4]byte{'F', 'S', 'C', 'K'}

const formatVersion byte = 1

// ErrCorrupt is returned for files that are not complete checkpoints.
var ErrCorrupt = errors.New("corrupt checkpoint")

type record struct {
	Item *model.Item `json:"item,omitempty"`
	End  *trailer    `json:"end,omitempty"`
}

type trailer struct {
	Items     int       `json:"items"`
	CreatedAt time.Time `json:"created_at"`
}

// WalkFunc enumerates the items to checkpoint; metadata.Store.Walk fits.
type WalkFunc func(ctx context.Context, fn func(model.Item) error) error

// Write encodes every item produced by walk to w and returns the count.
func Write(ctx context.Context, w io.Writer, walk WalkFunc) (int, error) {
	if _, err := w.Write(append(magic[:], formatVersion)); err != nil {
		return 0, fmt.Errorf("writing header: %w", err)
	}
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, fmt.Errorf("creating compressor: %w", err)
	}
	enc := json.NewEncoder(zw)
	n := 0
	err = walk(ctx, func(it model.Item) error {
		if err := enc.Encode(record{Item: &it}); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		_ = zw.Close()
		return n, fmt.Errorf("encoding items: %w", err)
	}
	if err := enc.Encode(record{End: &trailer{Items: n, CreatedAt: time.Now().UTC()}}); err != nil {
		_ = zw.Close()
		return n, fmt.Errorf("encoding trailer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("flushing compressor: %w", err)
	}
	return n, nil
}

// Read decodes a checkpoint and calls fn for each item. Items are only
// handed out as they are read, so a corrupt tail surfaces as an error after
// some calls; callers restoring into a live store should stage or reset.
func Read(ctx context.Context, r io.Reader, fn func(model.Item) error) (int, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, fmt.Errorf("%w: reading header: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(header[:4], magic[:]) {
		return 0, fmt.Errorf("%w: bad magic %q", ErrCorrupt, header[:4])
	}
	if header[4] != formatVersion {
		return 0, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header[4])
	}
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("creating decompressor: %w", err)
	}
	defer zr.Close()

	dec := json.NewDecoder(bufio.NewReader(zr))
	n := 0
	for {
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		var rec record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return n, fmt.Errorf("%w: missing trailer after %d items", ErrCorrupt, n)
			}
			return n, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		switch {
		case rec.End != nil:
			if rec.End.Items != n {
				return n, fmt.Errorf("%w: trailer counts %d items, read %d", ErrCorrupt, rec.End.Items, n)
			}
			return n, nil
		case rec.Item != nil:
			if err := fn(*rec.Item); err != nil {
				return n, err
			}
			n++
		default:
			return n, fmt.Errorf("%w: empty record", ErrCorrupt)
		}
	}
}
