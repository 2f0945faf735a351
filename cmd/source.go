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
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/cardinalhq/shardexport/config"
	"github.com/cardinalhq/shardexport/internal/dbopen"
	"github.com/cardinalhq/shardexport/internal/rowsource"
	"github.com/cardinalhq/shardexport/internal/tablemeta"
)

// sourceDB bundles everything read from the source database.
type sourceDB struct {
	db       *sql.DB
	dialect  tablemeta.Dialect
	resolver *tablemeta.SQLResolver
	rows     *rowsource.DBSource
}

func (s *sourceDB) Close() error {
	return s.db.Close()
}

// openSource connects to the configured database. A DSN missing from the
// config is assembled from the EnvPrefix variables.
func openSource(ctx context.Context, cfg config.SourceConfig) (*sourceDB, error) {
	dialect, err := tablemeta.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if dsn == "" {
		if dsn, err = dbopen.GetDSNFromEnv(cfg.EnvPrefix, cfg.Driver); err != nil {
			return nil, fmt.Errorf("source dsn: %w", err)
		}
	}

	// Leave the pool unbounded: admission control limits concurrent readers,
	// and the local merge holds one connection per shard for its lifetime.
	db, err := dbopen.Open(ctx, cfg.Driver, dsn, dbopen.Options{})
	if err != nil {
		return nil, err
	}
	slog.Debug("Connected to source database", slog.String("driver", cfg.Driver), slog.String("dialect", dialect.String()))

	return &sourceDB{
		db:       db,
		dialect:  dialect,
		resolver: tablemeta.NewSQLResolver(db, dialect),
		rows:     rowsource.NewDBSource(db),
	}, nil
}
