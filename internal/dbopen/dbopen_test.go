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

package dbopen

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDSNFromEnvMySQL(t *testing.T) {
	t.Setenv("SRC_HOST", "db.local")
	t.Setenv("SRC_DBNAME", "shop")
	t.Setenv("SRC_USER", "reader")
	t.Setenv("SRC_PASSWORD", "pw")

	dsn, err := GetDSNFromEnv("SRC", "mysql")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "reader:pw@tcp(db.local:3306)/shop?"), dsn)
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestGetDSNFromEnvPostgres(t *testing.T) {
	t.Setenv("SRC_HOST", "pg.local")
	t.Setenv("SRC_DBNAME", "shop")
	t.Setenv("SRC_USER", "reader")
	t.Setenv("SRC_SSLMODE", "disable")
	t.Setenv("OTEL_SERVICE_NAME", "shard export!")

	dsn, err := GetDSNFromEnv("SRC_", "pgx")
	require.NoError(t, err)
	assert.Equal(t, "postgresql://reader@pg.local:5432/shop?application_name=shard_export_&sslmode=disable", dsn)
}

func TestGetDSNFromEnvOverridesAndErrors(t *testing.T) {
	t.Setenv("SRC_DSN", "custom")
	dsn, err := GetDSNFromEnv("SRC", "mysql")
	require.NoError(t, err)
	assert.Equal(t, "custom", dsn)

	_, err = GetDSNFromEnv("NOPE", "mysql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOPE_HOST")
	assert.Contains(t, err.Error(), "NOPE_DBNAME")

	t.Setenv("LITE_DBNAME", "/tmp/x.db")
	dsn, err = GetDSNFromEnv("LITE", "sqlite")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", dsn)
}

func TestOpenSQLite(t *testing.T) {
	db, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "x.db"), Options{MaxOpenConns: 4})
	require.NoError(t, err)
	defer db.Close()

	var one int
	require.NoError(t, db.QueryRow("select 1").Scan(&one))
	assert.Equal(t, 1, one)

	_, err = Open(context.Background(), "sqlite", "", Options{})
	assert.ErrorIs(t, err, ErrDatabaseNotConfigured)
}
