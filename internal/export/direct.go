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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/shardexport/internal/filewriter"
	"github.com/cardinalhq/shardexport/internal/logctx"
	"github.com/cardinalhq/shardexport/internal/ringbuffer"
	"github.com/cardinalhq/shardexport/internal/rowcodec"
)

// DefaultFragmentThreshold is the consumer count at or below which short
// tail batches are written like full ones instead of being redistributed.
const DefaultFragmentThreshold = 4

// directConsumer writes every shard to its own file sequence.
type directConsumer struct{}

func (directConsumer) consume(ctx context.Context, j *tableJob) ([]filewriter.Result, error) {
	perShard := make([][]filewriter.Result, len(j.readers))
	var wg sync.WaitGroup
	for i, r := range j.readers {
		wg.Go(func() {
			sctx := j.shardContext(ctx, r)
			files, err := j.exportShard(sctx, r, j.prefixFor(r.index), j.lineLimit)
			perShard[i] = files
			if err != nil {
				j.fail(sctx, r, err)
			}
		})
	}
	wg.Wait()

	var out []filewriter.Result
	for _, files := range perShard {
		out = append(out, files...)
	}
	return out, nil
}

// exportShard streams one reader into its own writer while holding an
// admission permit.
func (j *tableJob) exportShard(ctx context.Context, r *shardReader, prefix string, lineLimit int64) ([]filewriter.Result, error) {
	if err := j.admission.Acquire(ctx); err != nil {
		return nil, err
	}
	defer j.admission.Release()

	w, err := filewriter.New(j.writerConfig(prefix, lineLimit))
	if err != nil {
		return nil, err
	}

	var b *batcher
	write := j.rowWriter(w)
	emit := func(row rowcodec.Row) error {
		j.counters.Emitted.Add(1)
		defer j.counters.Drained.Add(1)
		return write(row)
	}
	if !w.LineMode() {
		flush := func(data []byte, rows int) error {
			j.counters.Emitted.Add(1)
			defer j.counters.Drained.Add(1)
			return w.WriteBlock(data, rows)
		}
		b = newBatcher(j.codec, j.batchSize(lineLimit), flush)
		b.room = w.Remaining
		emit = b.add
	}

	n, err := r.read(ctx, emit)
	if b != nil {
		err = errors.Join(err, b.drain())
	}
	files, closeErr := w.Close()
	err = errors.Join(err, closeErr)
	j.counters.RowsWritten.Add(w.Lines())

	logctx.FromContext(ctx).Info("Shard exported",
		slog.Int64("rows", n),
		slog.Int("files", len(files)))
	return files, err
}

// batchSlot is one ring buffer cell holding encoded rows.
type batchSlot struct {
	data []byte
	rows int
}

// fragmentsDirect reports whether tail fragments can share the ring buffer.
// With many producers per consumer the tails even out on their own.
func fragmentsDirect(producers, consumers, threshold int) bool {
	return producers >= 2*consumers || consumers <= threshold
}

// fixedFileConsumer spreads all shards over Limit files through a ring buffer.
type fixedFileConsumer struct{}

func (fixedFileConsumer) consume(ctx context.Context, j *tableJob) ([]filewriter.Result, error) {
	fileCount := j.cfg.Limit
	writers := make([]*filewriter.Writer, 0, fileCount)
	for i := range fileCount {
		w, err := filewriter.New(j.writerConfig(j.prefixFor(i), 0))
		if err != nil {
			_, closeErr := closeWriters(writers)
			return nil, errors.Join(err, closeErr)
		}
		writers = append(writers, w)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ring := ringbuffer.New(j.cfg.RingBufferSize, func() batchSlot { return batchSlot{} })
	direct := fragmentsDirect(len(j.readers), fileCount, j.fragmentThreshold)
	var fragments chan batchSlot
	if !direct {
		// Every producer leaves at most one fragment, so sends never block.
		fragments = make(chan batchSlot, len(j.readers))
	}

	var consumers errgroup.Group
	for i, w := range writers {
		consumers.Go(func() error {
			if err := j.drainRing(ctx, ring, w); err != nil {
				cancel()
				return fmt.Errorf("file consumer %d: %w", i, err)
			}
			return nil
		})
	}

	var producers sync.WaitGroup
	for _, r := range j.readers {
		producers.Go(func() {
			sctx := j.shardContext(ctx, r)
			if err := j.produceRing(sctx, r, ring, fragments); err != nil {
				j.fail(sctx, r, err)
			}
		})
	}
	producers.Wait()
	ring.Halt()
	err := consumers.Wait()

	if fragments != nil {
		close(fragments)
		if err == nil {
			err = j.collectFragments(ctx, fragments, writers)
		}
	}

	files, closeErr := closeWriters(writers)
	for _, f := range files {
		j.counters.RowsWritten.Add(f.RecordCount)
	}
	return files, errors.Join(err, closeErr)
}

// produceRing publishes full batches to the ring. The tail goes to fragments
// when it is set, otherwise to the ring as well.
func (j *tableJob) produceRing(ctx context.Context, r *shardReader, ring *ringbuffer.Buffer[batchSlot], fragments chan<- batchSlot) error {
	if err := j.admission.Acquire(ctx); err != nil {
		return err
	}
	defer j.admission.Release()

	publish := func(data []byte, rows int) error {
		seq, err := ring.Next(ctx)
		if err != nil {
			return err
		}
		slot := ring.Get(seq)
		slot.data = append(slot.data[:0], data...)
		slot.rows = rows
		j.counters.Emitted.Add(1)
		ring.Publish(seq)
		return nil
	}

	b := newBatcher(j.codec, j.cfg.BatchSize, publish)
	n, err := r.read(ctx, b.add)
	if b.rows > 0 {
		if fragments != nil {
			fragments <- batchSlot{data: bytes.Clone(b.buf), rows: b.rows}
			j.counters.Emitted.Add(1)
			b.buf, b.rows = b.buf[:0], 0
		} else {
			err = errors.Join(err, b.drain())
		}
	}
	logctx.FromContext(ctx).Debug("Shard produced", slog.Int64("rows", n))
	return err
}

func (j *tableJob) drainRing(ctx context.Context, ring *ringbuffer.Buffer[batchSlot], w *filewriter.Writer) error {
	for {
		seq, ok, err := ring.Take(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		slot := ring.Get(seq)
		j.counters.Drained.Add(1)
		err = w.WriteBlock(slot.data, slot.rows)
		ring.Done(seq)
		if err != nil {
			return err
		}
	}
}

// collectFragments deals the queued tail batches round robin over writers.
func (j *tableJob) collectFragments(ctx context.Context, fragments <-chan batchSlot, writers []*filewriter.Writer) error {
	pending := len(fragments)
	if pending == 0 {
		return nil
	}
	logctx.FromContext(ctx).Debug("Redistributing fragments", slog.Int("fragments", pending))

	next := NewCyclicCounter(len(writers))
	var g errgroup.Group
	for range min(len(writers), pending) {
		g.Go(func() error {
			for f := range fragments {
				j.counters.Drained.Add(1)
				if err := writers[next.Next()].WriteBlock(f.data, f.rows); err != nil {
					return fmt.Errorf("write fragment: %w", err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func closeWriters(writers []*filewriter.Writer) ([]filewriter.Result, error) {
	var (
		out  []filewriter.Result
		errs []error
	)
	for _, w := range writers {
		files, err := w.Close()
		out = append(out, files...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}
