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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	rowsReadCounter    metric.Int64Counter
	rowsWrittenCounter metric.Int64Counter
	filesCounter       metric.Int64Counter
	shardErrorCounter  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/shardexport/internal/export")

	var err error
	rowsReadCounter, err = meter.Int64Counter(
		"shardexport.rows.read",
		metric.WithDescription("Rows read from shards"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.read counter: %w", err))
	}

	rowsWrittenCounter, err = meter.Int64Counter(
		"shardexport.rows.written",
		metric.WithDescription("Rows written to output files"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.written counter: %w", err))
	}

	filesCounter, err = meter.Int64Counter(
		"shardexport.files.created",
		metric.WithDescription("Non-empty output files produced"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create files.created counter: %w", err))
	}

	shardErrorCounter, err = meter.Int64Counter(
		"shardexport.shard.errors",
		metric.WithDescription("Shards whose pipeline failed"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create shard.errors counter: %w", err))
	}
}

func tableAttrs(table string, strategy Strategy) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("strategy", strategy.String()),
	)
}

func recordTable(ctx context.Context, res *TableResult) {
	attrs := tableAttrs(res.Table, res.Strategy)
	rowsReadCounter.Add(ctx, res.RowsRead, attrs)
	rowsWrittenCounter.Add(ctx, res.RowsWritten, attrs)
	filesCounter.Add(ctx, int64(len(res.Files)), attrs)
}
