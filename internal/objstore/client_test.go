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

package objstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadFilesToFileClient(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	root := t.TempDir()

	a := filepath.Join(src, "orders_0-0.csv")
	b := filepath.Join(src, "orders_0-1.csv")
	require.NoError(t, os.WriteFile(a, []byte("1,a\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("2,b\n"), 0o644))

	cfg := Config{Provider: "file", Bucket: "exports", Prefix: "/daily/2024/", Endpoint: root, DeleteLocal: true}
	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)

	keys, err := UploadFiles(ctx, client, cfg, []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, []string{"daily/2024/orders_0-0.csv", "daily/2024/orders_0-1.csv"}, keys)

	fc := client.(*FileClient)
	got, err := os.ReadFile(fc.Path("exports", keys[1]))
	require.NoError(t, err)
	assert.Equal(t, "2,b\n", string(got))

	_, err = os.Stat(a)
	assert.True(t, os.IsNotExist(err), "local file should be removed after upload")

	require.NoError(t, client.DeleteObject(ctx, "exports", keys[0]))
	require.NoError(t, client.DeleteObject(ctx, "exports", keys[0]))
	_, err = os.Stat(fc.Path("exports", keys[0]))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadFilesStopsOnMissingSource(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Provider: "file", Bucket: "b", Endpoint: t.TempDir()}
	keys, err := UploadFiles(ctx, NewFileClient(cfg.Endpoint), cfg, []string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
	assert.Empty(t, keys)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.False(t, DefaultConfig().Enabled())
	assert.Error(t, Config{Provider: "s3"}.Validate())
	assert.Error(t, Config{Provider: "azure", Bucket: "c"}.Validate())
	assert.NoError(t, Config{Provider: "azure", Bucket: "c", StorageAccount: "acct"}.Validate())
	assert.Error(t, Config{Provider: "file"}.Validate())
	assert.Error(t, Config{Provider: "gcs"}.Validate())
	assert.True(t, Config{Provider: "S3", Bucket: "b"}.Enabled())
}

func TestObjectKeyAndContentType(t *testing.T) {
	assert.Equal(t, "t_0", ObjectKey("", "/tmp/out/t_0"))
	assert.Equal(t, "p/q/t_0.gz", ObjectKey("p/q/", "/tmp/out/t_0.gz"))
	assert.Equal(t, "application/gzip", contentType("x.csv.gz"))
	assert.Equal(t, "text/csv", contentType("x.csv"))
	assert.Equal(t, "text/plain", contentType("t_0"))
}
