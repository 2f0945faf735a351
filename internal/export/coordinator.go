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

// Package export moves the rows of sharded tables into files.
//
// An Exporter resolves each table's shards, starts one reader per shard and
// drains them with the consumer matching the configured way and order mode:
// per-shard files, a fixed set of shared files fed through a ring buffer, a
// database-ordered query, a streaming k-way merge, or an in-memory pairwise
// merge.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"

	"github.com/cardinalhq/shardexport/internal/filewriter"
	"github.com/cardinalhq/shardexport/internal/logctx"
	"github.com/cardinalhq/shardexport/internal/mask"
	"github.com/cardinalhq/shardexport/internal/objstore"
	"github.com/cardinalhq/shardexport/internal/rowcodec"
	"github.com/cardinalhq/shardexport/internal/rowsource"
	"github.com/cardinalhq/shardexport/internal/tablemeta"
)

// State is the lifecycle position of an Exporter's Run.
type State int32

const (
	StateConfigured State = iota
	StateTopologyResolved
	StateExportingData
	StateExportingDDL
	// StateBoth exports table definitions and rows.
	StateBoth
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateTopologyResolved:
		return "topology_resolved"
	case StateExportingData:
		return "exporting_data"
	case StateExportingDDL:
		return "exporting_ddl"
	case StateBoth:
		return "both"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// TableResult summarizes the export of one table.
type TableResult struct {
	Table       string
	Strategy    Strategy
	Shards      int
	RowsRead    int64
	RowsWritten int64
	Files       []filewriter.Result
	// Uploaded holds object keys when an object store is configured.
	Uploaded []string
	// ShardErrors aggregates every failed shard. The table result is still
	// usable; the rows of the remaining shards were written.
	ShardErrors error
	// FailedShards is the number of shard failures recorded.
	FailedShards int
	// Emitted is the number of batches or rows handed to the output stage.
	Emitted int64
	// Pending is the part of Emitted that never reached a writer.
	Pending int64
}

// FileNames returns the paths of the files written.
func (t *TableResult) FileNames() []string {
	names := make([]string, len(t.Files))
	for i, f := range t.Files {
		names[i] = f.FileName
	}
	return names
}

type Result struct {
	JobID   string
	Tables  []*TableResult
	DDLFile string
}

type Option func(*Exporter)

// WithUpload sends every finished file to client after its table completes.
func WithUpload(client objstore.Client, cfg objstore.Config) Option {
	return func(e *Exporter) {
		e.upload = client
		e.uploadCfg = cfg
	}
}

// WithFragmentThreshold overrides DefaultFragmentThreshold.
func WithFragmentThreshold(n int) Option {
	return func(e *Exporter) {
		e.fragmentThreshold = n
	}
}

// Exporter runs one export job.
type Exporter struct {
	cfg      Config
	set      *settings
	resolver tablemeta.Resolver
	source   rowsource.Source
	dialect  tablemeta.Dialect

	upload    objstore.Client
	uploadCfg objstore.Config

	fragmentThreshold int
	jobID             string
	state             atomic.Int32
}

// NewExporter validates cfg and returns an Exporter reading metadata from
// resolver and rows from source.
func NewExporter(cfg Config, resolver tablemeta.Resolver, source rowsource.Source, dialect tablemeta.Dialect, opts ...Option) (*Exporter, error) {
	set, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	if resolver == nil || source == nil {
		return nil, errors.New("export: resolver and source are required")
	}
	e := &Exporter{
		cfg:               cfg,
		set:               set,
		resolver:          resolver,
		source:            source,
		dialect:           dialect,
		fragmentThreshold: DefaultFragmentThreshold,
		jobID:             ulid.Make().String(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.setState(StateConfigured)
	return e, nil
}

func (e *Exporter) JobID() string {
	return e.jobID
}

func (e *Exporter) State() State {
	return State(e.state.Load())
}

func (e *Exporter) setState(s State) {
	e.state.Store(int32(s))
}

// Run exports every configured table. Topology and configuration problems
// fail before any rows are read. Shard failures are recorded per table and
// only fail the job when FailOnShardError is set.
func (e *Exporter) Run(ctx context.Context) (*Result, error) {
	ctx, ll := logctx.With(ctx, slog.String("job", e.jobID))
	res := &Result{JobID: e.jobID}

	tables, err := e.tables(ctx)
	if err != nil {
		e.setState(StateFailed)
		return res, err
	}

	var plans []*tablePlan
	if e.set.ddl != DDLOnly {
		for _, t := range tables {
			p, err := e.plan(ctx, t)
			if err != nil {
				e.setState(StateFailed)
				return res, err
			}
			plans = append(plans, p)
		}
	}
	e.setState(StateTopologyResolved)

	switch e.set.ddl {
	case DDLOnly:
		e.setState(StateExportingDDL)
	case DDLWith:
		e.setState(StateBoth)
	default:
		e.setState(StateExportingData)
	}

	var errs *multierror.Error
	if e.set.ddl != DDLNone {
		path, err := e.exportDDL(ctx, tables)
		res.DDLFile = path
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("export ddl: %w", err))
		}
	}
	for _, p := range plans {
		tr, err := e.exportPlan(ctx, p)
		if tr != nil {
			res.Tables = append(res.Tables, tr)
		}
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if e.cfg.FailOnShardError && tr.ShardErrors != nil {
			errs = multierror.Append(errs, fmt.Errorf("table %s: %w", tr.Table, tr.ShardErrors))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		e.setState(StateFailed)
		ll.Error("Export job failed", slog.Any("error", err))
		return res, err
	}
	e.setState(StateDone)
	ll.Info("Export job finished", slog.Int("tables", len(res.Tables)))
	return res, nil
}

// ExportTable exports a single table outside of Run's state tracking.
func (e *Exporter) ExportTable(ctx context.Context, table string) (*TableResult, error) {
	ctx, _ = logctx.With(ctx, slog.String("job", e.jobID))
	p, err := e.plan(ctx, table)
	if err != nil {
		return nil, err
	}
	tr, err := e.exportPlan(ctx, p)
	if err == nil && e.cfg.FailOnShardError && tr.ShardErrors != nil {
		err = fmt.Errorf("table %s: %w", table, tr.ShardErrors)
	}
	return tr, err
}

func (e *Exporter) tables(ctx context.Context) ([]string, error) {
	if len(e.cfg.Tables) > 0 {
		return e.cfg.Tables, nil
	}
	tables, err := e.resolver.Tables(ctx, e.cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("schema %q has no tables", e.cfg.Schema)
	}
	return tables, nil
}

// tablePlan is everything known about a table before its readers start.
type tablePlan struct {
	table      string
	strategy   Strategy
	shards     []tablemeta.Shard
	fields     []tablemeta.Field
	sortFields []tablemeta.Field
	lineLimit  int64
}

func (e *Exporter) strategy() Strategy {
	switch e.set.order {
	case OrderDB:
		return StrategyDBOrder
	case OrderLocalMerge:
		return StrategyLocalMerge
	case OrderParallelMerge:
		return StrategyParallelMerge
	}
	if e.set.way == WayFixedFile {
		return StrategyFixedFiles
	}
	return StrategyDirect
}

func (e *Exporter) plan(ctx context.Context, table string) (*tablePlan, error) {
	p := &tablePlan{table: table, strategy: e.strategy()}

	switch {
	case !e.cfg.Sharding || p.strategy == StrategyDBOrder:
		p.shards = []tablemeta.Shard{{TableName: table}}
	default:
		shards, err := e.resolver.ListShards(ctx, e.cfg.Schema, table)
		if err != nil {
			return nil, fmt.Errorf("list shards of %s: %w", table, err)
		}
		if len(shards) == 0 {
			return nil, fmt.Errorf("%s: %w", table, ErrNoShards)
		}
		broadcast, err := e.resolver.IsBroadcast(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("check broadcast of %s: %w", table, err)
		}
		if broadcast {
			shards = shards[:1]
		}
		p.shards = shards
	}

	fields, err := e.resolver.Fields(ctx, e.cfg.Schema, table, e.cfg.Columns)
	if err != nil {
		return nil, fmt.Errorf("fields of %s: %w", table, err)
	}
	p.fields = fields

	switch p.strategy {
	case StrategyParallelMerge:
		if !isPowerOfTwo(len(p.shards)) {
			return nil, fmt.Errorf("%s has %d shards: %w", table, len(p.shards), ErrNotPowerOfTwo)
		}
		fallthrough
	case StrategyLocalMerge:
		if p.sortFields, err = tablemeta.SortFields(fields, e.cfg.OrderBy); err != nil {
			return nil, &ConfigError{Field: "order_by", Message: err.Error(), Err: err}
		}
	}

	switch p.strategy {
	case StrategyDirect:
		p.lineLimit = e.cfg.lineLimit(e.set)
	case StrategyFixedFiles:
	default:
		var rows int64
		if e.set.way == WayFixedFile {
			if rows, err = e.resolver.RowCount(ctx, table); err != nil {
				return nil, fmt.Errorf("row count of %s: %w", table, err)
			}
		}
		p.lineLimit = e.cfg.mergedLineLimit(e.set, rows)
	}
	return p, nil
}

func (e *Exporter) newJob(p *tablePlan) (*tableJob, error) {
	codec, err := rowcodec.NewCodec(p.fields, e.cfg.Separator, e.set.quote)
	if err != nil {
		return nil, err
	}
	masks, err := mask.Build(e.cfg.Masks, p.fields)
	if err != nil {
		return nil, &ConfigError{Field: "masks", Message: err.Error(), Err: err}
	}

	parallelism := e.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = len(p.shards)
	}

	j := &tableJob{
		table:             p.table,
		strategy:          p.strategy,
		cfg:               e.cfg,
		set:               e.set,
		fields:            p.fields,
		codec:             codec,
		base:              filepath.Join(e.cfg.Path, e.cfg.FilenamePrefix+p.table),
		lineLimit:         p.lineLimit,
		fragmentThreshold: e.fragmentThreshold,
		admission:         NewAdmission(parallelism),
		counters:          &Counters{},
		failures:          &failures{},
	}
	if e.cfg.WithHeader {
		j.header = codec.Header(tablemeta.Names(p.fields))
		j.headerCells = tablemeta.Names(p.fields)
	}
	if p.sortFields != nil {
		j.cmp = rowcodec.NewComparator(p.sortFields, e.cfg.Descending)
	}

	var order *tablemeta.OrderSpec
	if p.strategy != StrategyDirect && p.strategy != StrategyFixedFiles {
		order = &tablemeta.OrderSpec{Columns: e.cfg.OrderBy, Descending: e.cfg.Descending}
	}
	for i, s := range p.shards {
		j.readers = append(j.readers, &shardReader{
			index:    i,
			shard:    s,
			query:    tablemeta.BuildSelect(e.dialect, s, p.fields, e.cfg.Where, order),
			source:   e.source,
			masks:    masks,
			counters: j.counters,
		})
	}
	return j, nil
}

func (e *Exporter) exportPlan(ctx context.Context, p *tablePlan) (*TableResult, error) {
	ctx, ll := logctx.With(ctx, slog.String("table", p.table))
	j, err := e.newJob(p)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", p.table, err)
	}

	ll.Info("Exporting table",
		slog.String("strategy", p.strategy.String()),
		slog.Int("shards", len(p.shards)),
		slog.Int("parallelism", j.admission.Limit()),
		slog.Int64("lineLimit", p.lineLimit))

	start := time.Now()
	files, err := consumerFor(p.strategy).consume(ctx, j)
	tr := &TableResult{
		Table:        p.table,
		Strategy:     p.strategy,
		Shards:       len(p.shards),
		RowsRead:     j.counters.RowsRead.Load(),
		RowsWritten:  j.counters.RowsWritten.Load(),
		Files:        files,
		ShardErrors:  j.failures.errorOrNil(),
		FailedShards: int(j.counters.ShardErrors.Load()),
		Emitted:      j.counters.Emitted.Load(),
		Pending:      j.counters.Pending(),
	}
	recordTable(ctx, tr)

	ll.Info("Table export finished",
		slog.Int64("rowsRead", tr.RowsRead),
		slog.Int64("rowsWritten", tr.RowsWritten),
		slog.Int("files", len(files)),
		slog.Int("failedShards", tr.FailedShards),
		slog.Int64("emitted", tr.Emitted),
		slog.Duration("duration", time.Since(start)))
	if err == nil && tr.Pending != 0 {
		ll.Warn("Output stage finished with undrained work", slog.Int64("pending", tr.Pending))
	}

	if err != nil {
		return tr, fmt.Errorf("table %s: %w", p.table, err)
	}

	if e.upload != nil && len(files) > 0 {
		keys, err := objstore.UploadFiles(ctx, e.upload, e.uploadCfg, tr.FileNames())
		tr.Uploaded = keys
		if err != nil {
			return tr, fmt.Errorf("table %s: %w", p.table, err)
		}
	}
	return tr, nil
}
