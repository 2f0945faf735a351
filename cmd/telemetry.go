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
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const serviceName = "shardexport"

var (
	meter = otel.Meter("github.com/cardinalhq/shardexport")

	jobDuration metric.Float64Histogram
	jobCounter  metric.Int64Counter
)

// setupTelemetry configures the default slog logger and, when enabled, the
// OpenTelemetry SDK. The returned context is cancelled on SIGINT or SIGTERM.
func setupTelemetry(servicename string) (context.Context, func() error, error) {
	doneCtx, doneCancel := handleSignals(context.Background())

	f := func() error {
		doneCancel()
		return nil
	}

	setupGlobalMetrics()

	var opts *slog.HandlerOptions
	if os.Getenv("DEBUG") != "" || os.Getenv("SHARDEXPORT_DEBUG") != "" {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}

	if os.Getenv("OTEL_SERVICE_NAME") != "" && os.Getenv("ENABLE_OTLP_TELEMETRY") == "true" {
		slog.Info("OpenTelemetry exporting enabled")
		slog.SetDefault(slog.New(slogmulti.Fanout(
			slog.NewTextHandler(os.Stdout, opts),
			otelslog.NewHandler(servicename),
		)).With(slog.String("service", servicename)))

		otelShutdown, err := telemetry.SetupOTelSDK(doneCtx)
		if err != nil {
			return doneCtx, f, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
		}

		if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(time.Second * 10)); err != nil {
			slog.Warn("failed to start runtime metrics", "error", err.Error())
		}

		if err := host.Start(); err != nil {
			slog.Warn("failed to start host metrics", "error", err.Error())
		}

		f = func() error {
			defer doneCancel()
			slog.Info("Shutting down OpenTelemetry SDK")
			// Flush with a fresh context; doneCtx may already be cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return otelShutdown(ctx)
		}
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)).With(
			slog.String("service", servicename),
		))
	}

	return doneCtx, f, nil
}

func setupGlobalMetrics() {
	h, err := meter.Float64Histogram(
		"shardexport.job.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time of an export job"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create job.duration histogram: %w", err))
	}
	jobDuration = h

	c, err := meter.Int64Counter(
		"shardexport.jobs",
		metric.WithDescription("Export jobs run, by command and outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create jobs counter: %w", err))
	}
	jobCounter = c
}

// recordJob reports one finished command run.
func recordJob(ctx context.Context, command string, start time.Time, err error) {
	if jobCounter == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	attrs := metric.WithAttributeSet(attribute.NewSet(
		attribute.String("command", command),
		attribute.String("outcome", outcome),
	))
	jobDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	jobCounter.Add(ctx, 1, attrs)
}
