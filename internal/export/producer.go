// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package export

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cardinalhq/shardexport/internal/logctx"
	"github.com/cardinalhq/shardexport/internal/mask"
	"github.com/cardinalhq/shardexport/internal/rowcodec"
	"github.com/cardinalhq/shardexport/internal/rowsource"
	"github.com/cardinalhq/shardexport/internal/tablemeta"
)

// shardReader streams the rows of one shard.
type shardReader struct {
	index    int
	shard    tablemeta.Shard
	query    string
	source   rowsource.Source
	masks    map[int]mask.Masker
	counters *Counters
}

// read runs the shard query and hands every masked row to emit, stopping at
// the first error from the cursor or from emit. It returns the rows read.
func (r *shardReader) read(ctx context.Context, emit func(rowcodec.Row) error) (int64, error) {
	ll := logctx.FromContext(ctx)
	ll.Debug("Reading shard", slog.String("query", r.query))

	cur, err := r.source.Query(ctx, r.query)
	if err != nil {
		return 0, fmt.Errorf("query: %w", err)
	}
	defer func() {
		if err := cur.Close(); err != nil {
			ll.Warn("Failed to close shard cursor", slog.Any("error", err))
		}
	}()

	var n int64
	for cur.Next() {
		values, err := cur.Values()
		if err != nil {
			return n, fmt.Errorf("scan row %d: %w", n+1, err)
		}
		row := rowcodec.FromValues(values)
		r.mask(row)
		n++
		r.counters.RowsRead.Add(1)
		if err := emit(row); err != nil {
			return n, err
		}
	}
	if err := cur.Err(); err != nil {
		return n, fmt.Errorf("cursor after %d rows: %w", n, err)
	}
	return n, nil
}

func (r *shardReader) mask(row rowcodec.Row) {
	for col, m := range r.masks {
		if col < len(row) && !rowcodec.IsNull(row[col]) {
			row[col] = m.Mask(row[col])
		}
	}
}

// batcher accumulates encoded rows and flushes them in fixed-size batches.
// The buffer passed to flush is reused afterwards.
type batcher struct {
	codec *rowcodec.Codec
	size  int
	flush func(data []byte, rows int) error
	// room, when set, reports how many rows the destination file still
	// takes, with 0 meaning unlimited. A batch never exceeds it.
	room  func() int64
	limit int
	buf   []byte
	rows  int
}

func newBatcher(codec *rowcodec.Codec, size int, flush func([]byte, int) error) *batcher {
	return &batcher{codec: codec, size: size, flush: flush}
}

func (b *batcher) add(row rowcodec.Row) error {
	if b.rows == 0 {
		b.limit = b.size
		if b.room != nil {
			if n := b.room(); n > 0 && n < int64(b.limit) {
				b.limit = int(n)
			}
		}
	}
	b.buf = b.codec.AppendRow(b.buf, row)
	b.rows++
	if b.rows >= b.limit {
		return b.drain()
	}
	return nil
}

// drain flushes whatever is buffered, including a short tail.
func (b *batcher) drain() error {
	if b.rows == 0 {
		return nil
	}
	err := b.flush(b.buf, b.rows)
	b.buf = b.buf[:0]
	b.rows = 0
	return err
}
