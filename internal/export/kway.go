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
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cardinalhq/shardexport/internal/filewriter"
	"github.com/cardinalhq/shardexport/internal/logctx"
	"github.com/cardinalhq/shardexport/internal/rowcodec"
)

// mergeHead is the smallest unconsumed row of one shard.
type mergeHead struct {
	shard int
	row   rowcodec.Row
}

type mergeHeap struct {
	heads []mergeHead
	cmp   rowcodec.Comparator
}

func (h *mergeHeap) Len() int { return len(h.heads) }

// Less breaks ties by shard index so equal keys keep shard order.
func (h *mergeHeap) Less(i, k int) bool {
	if c := h.cmp(h.heads[i].row, h.heads[k].row); c != 0 {
		return c < 0
	}
	return h.heads[i].shard < h.heads[k].shard
}

func (h *mergeHeap) Swap(i, k int) { h.heads[i], h.heads[k] = h.heads[k], h.heads[i] }

func (h *mergeHeap) Push(x any) { h.heads = append(h.heads, x.(mergeHead)) }

func (h *mergeHeap) Pop() any {
	n := len(h.heads)
	x := h.heads[n-1]
	h.heads = h.heads[:n-1]
	return x
}

// streamMerger merges per-shard sorted streams. A stream ends when its
// channel is closed; a shard that sends nothing is skipped.
type streamMerger struct {
	streams []<-chan rowcodec.Row
	cmp     rowcodec.Comparator
	// verify checks that each stream is non-decreasing under cmp.
	verify bool
	// pulled, when set, is told about every row taken off a stream.
	pulled func()

	last  []rowcodec.Row
	count []int64
	// violated holds the 1-based row position of the first backwards step per shard.
	violated map[int]int64
}

func newStreamMerger(streams []<-chan rowcodec.Row, cmp rowcodec.Comparator, verify bool) *streamMerger {
	return &streamMerger{
		streams:  streams,
		cmp:      cmp,
		verify:   verify,
		last:     make([]rowcodec.Row, len(streams)),
		count:    make([]int64, len(streams)),
		violated: map[int]int64{},
	}
}

func (m *streamMerger) pull(ctx context.Context, shard int) (rowcodec.Row, bool, error) {
	select {
	case row, ok := <-m.streams[shard]:
		if !ok {
			return nil, false, nil
		}
		m.count[shard]++
		if m.pulled != nil {
			m.pulled()
		}
		if m.verify {
			if prev := m.last[shard]; prev != nil && m.cmp(prev, row) > 0 {
				if _, seen := m.violated[shard]; !seen {
					m.violated[shard] = m.count[shard]
				}
			}
			m.last[shard] = row
		}
		return row, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// run emits every row of every stream in comparator order.
func (m *streamMerger) run(ctx context.Context, emit func(rowcodec.Row) error) error {
	h := &mergeHeap{heads: make([]mergeHead, 0, len(m.streams)), cmp: m.cmp}
	for i := range m.streams {
		row, ok, err := m.pull(ctx, i)
		if err != nil {
			return err
		}
		if ok {
			h.heads = append(h.heads, mergeHead{shard: i, row: row})
		}
	}
	heap.Init(h)

	for h.Len() > 0 {
		head := h.heads[0]
		if err := emit(head.row); err != nil {
			return err
		}
		row, ok, err := m.pull(ctx, head.shard)
		if err != nil {
			return err
		}
		if ok {
			h.heads[0].row = row
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return nil
}

// kwayConsumer streams every shard sorted and merges them into one output.
type kwayConsumer struct{}

func (kwayConsumer) consume(ctx context.Context, j *tableJob) ([]filewriter.Result, error) {
	w, err := filewriter.New(j.writerConfig(j.base, j.lineLimit))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Every shard streams at once; the merge needs each shard's head row, so
	// admission control would deadlock against the bounded queues.
	streams := make([]<-chan rowcodec.Row, len(j.readers))
	var producers sync.WaitGroup
	for i, r := range j.readers {
		q := make(chan rowcodec.Row, j.cfg.QueueSize)
		streams[i] = q
		producers.Go(func() {
			defer close(q)
			sctx := j.shardContext(ctx, r)
			n, err := r.read(sctx, func(row rowcodec.Row) error {
				select {
				case q <- row:
					j.counters.Emitted.Add(1)
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			if err != nil {
				j.fail(sctx, r, err)
				return
			}
			logctx.FromContext(sctx).Debug("Shard streamed", slog.Int64("rows", n))
		})
	}

	m := newStreamMerger(streams, j.cmp, j.cfg.VerifyOrder)
	m.pulled = func() { j.counters.Drained.Add(1) }
	mergeErr := m.run(ctx, j.rowWriter(w))
	if mergeErr != nil {
		cancel()
	}
	producers.Wait()

	for shard, pos := range m.violated {
		r := j.readers[shard]
		j.fail(j.shardContext(ctx, r), r, &OrderViolationError{Index: r.index, Shard: r.shard, Row: pos})
	}

	files, closeErr := w.Close()
	j.counters.RowsWritten.Add(w.Lines())
	if mergeErr != nil {
		mergeErr = fmt.Errorf("merge: %w", mergeErr)
	}
	return files, errors.Join(mergeErr, closeErr)
}
