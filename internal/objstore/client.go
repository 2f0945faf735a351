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

// Package objstore uploads finished export files to object storage.
package objstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/shardexport/internal/logctx"
)

// Client stores local files under bucket/key.
type Client interface {
	UploadObject(ctx context.Context, bucket, key, sourceFilename string) error
	DeleteObject(ctx context.Context, bucket, key string) error
}

// Config selects and configures the upload target.
type Config struct {
	// Provider is one of none, s3, azure or file.
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`

	// Endpoint overrides the service endpoint (MinIO, Azurite). For the file
	// provider it is the root directory.
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	PathStyle bool   `mapstructure:"path_style"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// StorageAccount names the Azure storage account.
	StorageAccount string `mapstructure:"storage_account"`

	// DeleteLocal removes each local file after it is uploaded.
	DeleteLocal bool `mapstructure:"delete_local"`
}

func DefaultConfig() Config {
	return Config{Provider: "none"}
}

// Enabled reports whether an upload target is configured.
func (c Config) Enabled() bool {
	p := strings.ToLower(c.Provider)
	return p != "" && p != "none"
}

// Validate checks the provider-specific required fields.
func (c Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case "", "none":
		return nil
	case "s3":
		if c.Bucket == "" {
			return fmt.Errorf("upload: bucket is required for s3")
		}
	case "azure":
		if c.Bucket == "" {
			return fmt.Errorf("upload: bucket (container) is required for azure")
		}
		if c.Endpoint == "" && c.StorageAccount == "" {
			return fmt.Errorf("upload: endpoint or storage_account is required for azure")
		}
	case "file":
		if c.Endpoint == "" {
			return fmt.Errorf("upload: endpoint (root directory) is required for file")
		}
	default:
		return fmt.Errorf("upload: unknown provider %q", c.Provider)
	}
	return nil
}

// NewClient builds the client for cfg.Provider.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Provider) {
	case "s3":
		return newS3Client(ctx, cfg)
	case "azure":
		return newAzureClient(cfg)
	case "file":
		return NewFileClient(cfg.Endpoint), nil
	default:
		return nil, fmt.Errorf("upload: provider %q has no client", cfg.Provider)
	}
}

var (
	uploadCount  metric.Int64Counter
	uploadBytes  metric.Int64Counter
	uploadErrors metric.Int64Counter

	tracer = otel.Tracer("github.com/cardinalhq/shardexport/internal/objstore")
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/shardexport/internal/objstore")

	var err error
	uploadCount, err = meter.Int64Counter(
		"shardexport.upload.count",
		metric.WithDescription("Number of exported files uploaded"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.count counter: %w", err))
	}

	uploadBytes, err = meter.Int64Counter(
		"shardexport.upload.bytes",
		metric.WithDescription("Bytes of exported files uploaded"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.bytes counter: %w", err))
	}

	uploadErrors, err = meter.Int64Counter(
		"shardexport.upload.errors",
		metric.WithDescription("Number of failed uploads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.errors counter: %w", err))
	}
}

func recordUpload(ctx context.Context, provider, bucket string, size int64) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("bucket", bucket),
	)
	uploadCount.Add(ctx, 1, attrs)
	uploadBytes.Add(ctx, size, attrs)
}

// ObjectKey returns the key a local file is stored under.
func ObjectKey(prefix, filename string) string {
	base := filepath.Base(filename)
	if prefix == "" {
		return base
	}
	return path.Join(strings.Trim(prefix, "/"), base)
}

// UploadFiles uploads each file under cfg.Prefix and returns the keys written.
// Uploading stops at the first failure.
func UploadFiles(ctx context.Context, client Client, cfg Config, files []string) ([]string, error) {
	ll := logctx.FromContext(ctx).With("bucket", cfg.Bucket, "provider", cfg.Provider)
	keys := make([]string, 0, len(files))
	for _, f := range files {
		key := ObjectKey(cfg.Prefix, f)
		if err := client.UploadObject(ctx, cfg.Bucket, key, f); err != nil {
			uploadErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", cfg.Provider)))
			return keys, fmt.Errorf("upload %s: %w", f, err)
		}
		ll.Debug("Uploaded export file", slog.String("key", key), slog.String("file", f))
		keys = append(keys, key)
		if cfg.DeleteLocal {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				ll.Warn("Failed to remove uploaded file", slog.String("file", f), slog.Any("error", err))
			}
		}
	}
	return keys, nil
}
