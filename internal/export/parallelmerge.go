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
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/shardexport/internal/filewriter"
	"github.com/cardinalhq/shardexport/internal/logctx"
	"github.com/cardinalhq/shardexport/internal/rowcodec"
)

func isPowerOfTwo(n int) bool {
	return n > 0 && bits.OnesCount(uint(n)) == 1
}

// mergeSorted merges two sorted lists. On equal keys the row from left wins.
func mergeSorted(left, right []rowcodec.Row, cmp rowcodec.Comparator) []rowcodec.Row {
	out := make([]rowcodec.Row, 0, len(left)+len(right))
	i, k := 0, 0
	for i < len(left) && k < len(right) {
		if cmp(right[k], left[i]) < 0 {
			out = append(out, right[k])
			k++
		} else {
			out = append(out, left[i])
			i++
		}
	}
	out = append(out, left[i:]...)
	return append(out, right[k:]...)
}

// mergeTree merges a power of two number of sorted lists pairwise, level by
// level, with at most workers merges in flight. Siblings are always adjacent
// so the result is stable with respect to list order.
func mergeTree(ctx context.Context, lists [][]rowcodec.Row, cmp rowcodec.Comparator, workers int) ([]rowcodec.Row, error) {
	if !isPowerOfTwo(len(lists)) {
		return nil, fmt.Errorf("%w: got %d", ErrNotPowerOfTwo, len(lists))
	}
	for len(lists) > 1 {
		next := make([][]rowcodec.Row, len(lists)/2)
		g, gctx := errgroup.WithContext(ctx)
		if workers > 0 {
			g.SetLimit(workers)
		}
		for i := range next {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				next[i] = mergeSorted(lists[2*i], lists[2*i+1], cmp)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		lists = next
	}
	return lists[0], nil
}

// parallelMergeConsumer buffers every shard in memory, then merges the
// sorted lists with a worker pool and writes the result.
type parallelMergeConsumer struct{}

func (parallelMergeConsumer) consume(ctx context.Context, j *tableJob) ([]filewriter.Result, error) {
	lists := make([][]rowcodec.Row, len(j.readers))
	var producers sync.WaitGroup
	for i, r := range j.readers {
		producers.Go(func() {
			sctx := j.shardContext(ctx, r)
			if err := j.admission.Acquire(sctx); err != nil {
				j.fail(sctx, r, err)
				return
			}
			defer j.admission.Release()

			// Rows read before a failure are still merged.
			_, err := r.read(sctx, func(row rowcodec.Row) error {
				lists[i] = append(lists[i], row)
				j.counters.Emitted.Add(1)
				return nil
			})
			if err != nil {
				j.fail(sctx, r, err)
			}
		})
	}
	producers.Wait()

	merged, err := mergeTree(ctx, lists, j.cmp, j.admission.Limit())
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	logctx.FromContext(ctx).Debug("Merged shard lists", slog.Int("rows", len(merged)))

	w, err := filewriter.New(j.writerConfig(j.base, j.lineLimit))
	if err != nil {
		return nil, err
	}
	emit := j.rowWriter(w)
	var writeErr error
	for _, row := range merged {
		j.counters.Drained.Add(1)
		if writeErr = emit(row); writeErr != nil {
			break
		}
	}
	files, closeErr := w.Close()
	j.counters.RowsWritten.Add(w.Lines())
	return files, errors.Join(writeErr, closeErr)
}
