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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cardinalhq/shardexport/config"
	"github.com/cardinalhq/shardexport/internal/export"
	"github.com/cardinalhq/shardexport/internal/objstore"
)

// exportFlags holds command line overrides. Only flags the user set are
// applied on top of the loaded configuration.
type exportFlags struct {
	tables           []string
	columns          []string
	orderBy          []string
	where            string
	path             string
	prefix           string
	way              string
	limit            int
	parallelism      int
	localMerge       bool
	parallelMerge    bool
	dbOrder          bool
	descending       bool
	verifyOrder      bool
	withHeader       bool
	format           string
	compress         string
	noSharding       bool
	failOnShardError bool
	ddl              string
}

func (f *exportFlags) register(fs *pflag.FlagSet) {
	fs.StringSliceVarP(&f.tables, "table", "t", nil, "tables to export (default: every table in the schema)")
	fs.StringSliceVar(&f.columns, "columns", nil, "columns to export, in output order")
	fs.StringSliceVar(&f.orderBy, "order-by", nil, "columns defining the global output order")
	fs.StringVar(&f.where, "where", "", "row predicate appended to every shard query")
	fs.StringVar(&f.path, "path", "", "output directory")
	fs.StringVar(&f.prefix, "prefix", "", "output filename prefix")
	fs.StringVar(&f.way, "way", "", "file policy: default, max_line or fixed_file")
	fs.IntVar(&f.limit, "limit", 0, "lines per file (max_line) or file count (fixed_file)")
	fs.IntVar(&f.parallelism, "parallelism", 0, "maximum concurrently active shard readers (0 = one per shard)")
	fs.BoolVar(&f.localMerge, "local-merge", false, "merge ordered shard streams in process with a k-way merge")
	fs.BoolVar(&f.parallelMerge, "parallel-merge", false, "merge ordered shards in memory with a parallel merge tree")
	fs.BoolVar(&f.dbOrder, "db-order", false, "let the database order the logical table")
	fs.BoolVar(&f.descending, "desc", false, "sort descending")
	fs.BoolVar(&f.verifyOrder, "verify-order", false, "report shards whose rows arrive out of order during a local merge")
	fs.BoolVar(&f.withHeader, "header", false, "write a header row at the top of every file")
	fs.StringVar(&f.format, "format", "", "output format: none, txt, csv, log or xlsx")
	fs.StringVar(&f.compress, "compress", "", "compression: none, gzip or zstd")
	fs.BoolVar(&f.noSharding, "no-sharding", false, "read the logical table with one unsharded query")
	fs.BoolVar(&f.failOnShardError, "fail-on-shard-error", false, "exit non-zero when any shard fails")
	fs.StringVar(&f.ddl, "ddl", "", "DDL export: none, only or with")
}

// apply copies every flag set on fs into cfg.
func (f *exportFlags) apply(fs *pflag.FlagSet, cfg *export.Config) {
	set := func(name string) bool { return fs.Changed(name) }

	if set("table") {
		cfg.Tables = f.tables
	}
	if set("columns") {
		cfg.Columns = f.columns
	}
	if set("order-by") {
		cfg.OrderBy = f.orderBy
	}
	if set("where") {
		cfg.Where = f.where
	}
	if set("path") {
		cfg.Path = f.path
	}
	if set("prefix") {
		cfg.FilenamePrefix = f.prefix
	}
	if set("way") {
		cfg.Way = f.way
	}
	if set("limit") {
		cfg.Limit = f.limit
	}
	if set("parallelism") {
		cfg.Parallelism = f.parallelism
	}
	switch {
	case set("parallel-merge") && f.parallelMerge:
		cfg.OrderMode = export.OrderParallelMerge.String()
	case set("local-merge") && f.localMerge:
		cfg.OrderMode = export.OrderLocalMerge.String()
	case set("db-order") && f.dbOrder:
		cfg.OrderMode = export.OrderDB.String()
	}
	if set("desc") {
		cfg.Descending = f.descending
	}
	if set("verify-order") {
		cfg.VerifyOrder = f.verifyOrder
	}
	if set("header") {
		cfg.WithHeader = f.withHeader
	}
	if set("format") {
		cfg.Format = f.format
	}
	if set("compress") {
		cfg.Compress = f.compress
	}
	if set("no-sharding") {
		cfg.Sharding = !f.noSharding
	}
	if set("fail-on-shard-error") {
		cfg.FailOnShardError = f.failOnShardError
	}
	if set("ddl") {
		cfg.DDL = f.ddl
	}
}

var exportOpts exportFlags

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export table data to files",
	Long: `Export one or more sharded tables. Each physical shard is read by its own
streaming query. Output order and file layout follow the configured way and
order mode.`,
	RunE: func(c *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		exportOpts.apply(c.Flags(), &cfg.Export)
		return runExport(c, "export", cfg)
	},
}

func init() {
	exportOpts.register(exportCmd.Flags())
	rootCmd.AddCommand(exportCmd)
}

func runExport(c *cobra.Command, command string, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, doneFx, err := setupTelemetry(serviceName)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := doneFx(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}()

	start := time.Now()
	res, err := exportJob(ctx, cfg)
	recordJob(context.Background(), command, start, err)
	if res != nil {
		writeSummary(c.OutOrStdout(), res)
	}
	return err
}

func exportJob(ctx context.Context, cfg *config.Config) (*export.Result, error) {
	src, err := openSource(ctx, cfg.Source)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var opts []export.Option
	if cfg.Upload.Enabled() {
		client, err := objstore.NewClient(ctx, cfg.Upload)
		if err != nil {
			return nil, err
		}
		opts = append(opts, export.WithUpload(client, cfg.Upload))
	}

	exporter, err := export.NewExporter(cfg.Export, src.resolver, src.rows, src.dialect, opts...)
	if err != nil {
		return nil, err
	}
	slog.Info("Starting export", slog.String("job", exporter.JobID()), slog.Any("tables", cfg.Export.Tables))
	return exporter.Run(ctx)
}

// writeSummary prints one row per exported table.
func writeSummary(w io.Writer, res *export.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Format.Header = text.FormatDefault

	t.AppendHeader(table.Row{"table", "strategy", "shards", "rows read", "rows written", "files", "failed shards"})
	for _, tr := range res.Tables {
		t.AppendRow(table.Row{tr.Table, tr.Strategy.String(), tr.Shards, tr.RowsRead, tr.RowsWritten, len(tr.Files), failedShards(tr)})
	}
	fmt.Fprintf(w, "job %s\n", res.JobID)
	t.Render()
	if res.DDLFile != "" {
		fmt.Fprintf(w, "ddl written to %s\n", res.DDLFile)
	}
}

// failedShards prefers the exporter's counter and falls back to the size of
// the error aggregate for results built elsewhere.
func failedShards(tr *export.TableResult) int {
	if tr.FailedShards > 0 {
		return tr.FailedShards
	}
	if tr.ShardErrors == nil {
		return 0
	}
	var merr *multierror.Error
	if errors.As(tr.ShardErrors, &merr) {
		return merr.Len()
	}
	return 1
}
