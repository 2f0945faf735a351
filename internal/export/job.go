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

	"github.com/cardinalhq/shardexport/internal/filewriter"
	"github.com/cardinalhq/shardexport/internal/logctx"
	"github.com/cardinalhq/shardexport/internal/rowcodec"
	"github.com/cardinalhq/shardexport/internal/tablemeta"
)

// Strategy is how a table's shards are turned into files.
type Strategy int

const (
	// StrategyDirect gives every shard its own files.
	StrategyDirect Strategy = iota
	// StrategyFixedFiles spreads all shards over a fixed set of files.
	StrategyFixedFiles
	StrategyDBOrder
	StrategyLocalMerge
	StrategyParallelMerge
)

func (s Strategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyFixedFiles:
		return "fixed_files"
	case StrategyDBOrder:
		return "db_order"
	case StrategyLocalMerge:
		return "local_merge"
	case StrategyParallelMerge:
		return "parallel_merge"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// consumer drains a table's shard readers into output files.
type consumer interface {
	consume(ctx context.Context, j *tableJob) ([]filewriter.Result, error)
}

func consumerFor(s Strategy) consumer {
	switch s {
	case StrategyFixedFiles:
		return fixedFileConsumer{}
	case StrategyDBOrder:
		return dbOrderConsumer{}
	case StrategyLocalMerge:
		return kwayConsumer{}
	case StrategyParallelMerge:
		return parallelMergeConsumer{}
	default:
		return directConsumer{}
	}
}

// tableJob is the shared state of one table export.
type tableJob struct {
	table    string
	strategy Strategy
	cfg      Config
	set      *settings

	fields []tablemeta.Field
	codec  *rowcodec.Codec
	header []byte
	// headerCells is the spreadsheet header row.
	headerCells []string
	cmp         rowcodec.Comparator

	readers []*shardReader
	// base is the output path every file name of this table starts with.
	base      string
	lineLimit int64
	// fragmentThreshold is the consumer count at or below which tail
	// fragments go through the ring buffer like any other batch.
	fragmentThreshold int

	admission *Admission
	counters  *Counters
	failures  *failures
}

func (j *tableJob) writerConfig(prefix string, lineLimit int64) filewriter.Config {
	return filewriter.Config{
		Prefix:      prefix,
		LineLimit:   lineLimit,
		Format:      j.set.format,
		Compression: j.set.compression,
		Cipher:      j.set.cipher,
		Header:      j.header,
		HeaderCells: j.headerCells,
	}
}

// prefixFor names the file sequence of shard or file i as <base>_<i>.
func (j *tableJob) prefixFor(i int) string {
	return fmt.Sprintf("%s_%d", j.base, i)
}

// batchSize is capped by the line limit. Batches bound for a writer with a
// line limit are further capped by the writer's remaining room.
func (j *tableJob) batchSize(lineLimit int64) int {
	n := j.cfg.BatchSize
	if lineLimit > 0 && int64(n) > lineLimit {
		n = int(lineLimit)
	}
	return n
}

// shardContext scopes the logger to one shard.
func (j *tableJob) shardContext(ctx context.Context, r *shardReader) context.Context {
	ctx, _ = logctx.With(ctx, slog.Int("shard", r.index), slog.String("physical", r.shard.String()))
	return ctx
}

// fail records a shard failure. The export of sibling shards continues.
func (j *tableJob) fail(ctx context.Context, r *shardReader, err error) {
	logctx.FromContext(ctx).Error("Shard export failed", slog.Any("error", err))
	j.counters.ShardErrors.Add(1)
	shardErrorCounter.Add(ctx, 1, tableAttrs(j.table, j.strategy))
	j.failures.add(&ShardError{Index: r.index, Shard: r.shard, Err: err})
}

// rowWriter returns an emit function writing one row at a time to w.
func (j *tableJob) rowWriter(w *filewriter.Writer) func(rowcodec.Row) error {
	if w.Cells() {
		return func(row rowcodec.Row) error {
			return w.WriteCells(row, rowcodec.IsNull)
		}
	}
	var scratch []byte
	return func(row rowcodec.Row) error {
		scratch = j.codec.AppendRow(scratch[:0], row)
		return w.WriteRow(scratch)
	}
}
