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
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var ErrDatabaseNotConfigured = errors.New("database connection configuration is unavailable")

// GetDSNFromEnv constructs a DSN for driver from environment variables named
// PREFIX_HOST, PREFIX_PORT, PREFIX_USER, PREFIX_PASSWORD, PREFIX_DBNAME and,
// for PostgreSQL, PREFIX_SSLMODE. If PREFIX does not end in "_", it will be
// added automatically. PREFIX_DSN, when set, is returned as is.
//
// HOST and DBNAME are required for network drivers; sqlite only needs DBNAME,
// which is the database file path.
func GetDSNFromEnv(prefix, driver string) (string, error) {
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}

	if dsn := os.Getenv(prefix + "DSN"); dsn != "" {
		return dsn, nil
	}

	host := os.Getenv(prefix + "HOST")
	dbname := os.Getenv(prefix + "DBNAME")

	if driver == "sqlite" {
		if dbname == "" {
			return "", fmt.Errorf("missing required environment variable(s): %sDBNAME", prefix)
		}
		return dbname, nil
	}

	var missing []string
	if host == "" {
		missing = append(missing, prefix+"HOST")
	}
	if dbname == "" {
		missing = append(missing, prefix+"DBNAME")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf(
			"missing required environment variable(s): %s",
			strings.Join(missing, ", "),
		)
	}

	port := os.Getenv(prefix + "PORT")
	user := os.Getenv(prefix + "USER")
	pass := os.Getenv(prefix + "PASSWORD")

	switch driver {
	case "pgx":
		if port == "" {
			port = "5432"
		}
		return postgresURL(host, port, dbname, user, pass, os.Getenv(prefix+"SSLMODE")), nil
	case "mysql", "":
		if port == "" {
			port = "3306"
		}
		return mysqlDSN(host, port, dbname, user, pass), nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

func mysqlDSN(host, port, dbname, user, pass string) string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, port)
	cfg.DBName = dbname
	cfg.User = user
	cfg.Passwd = pass
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

func postgresURL(host, port, dbname, user, pass, sslmode string) string {
	u := &url.URL{
		Scheme: "postgresql",
		Host:   host + ":" + port,
		Path:   dbname,
	}

	if user != "" {
		if pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}

	q := u.Query()
	if sslmode != "" {
		q.Set("sslmode", sslmode)
	}

	// Tag the connection with the service name so it shows up in pg_stat_activity.
	if appName := os.Getenv("OTEL_SERVICE_NAME"); appName != "" {
		appName = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') ||
				(r >= 'A' && r <= 'Z') ||
				(r >= '0' && r <= '9') ||
				r == '-' || r == '_' {
				return r
			}
			return '_'
		}, appName)
		if len(appName) > 63 {
			appName = appName[:63]
		}
		q.Set("application_name", appName)
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// Options tunes the connection pool.
type Options struct {
	// MaxOpenConns bounds concurrent connections. Shard readers each hold one
	// connection for the life of their cursor, so this should be at least the
	// export parallelism plus one for metadata queries.
	MaxOpenConns int
	PingTimeout  time.Duration
}

// Open opens and pings a database handle for driver.
func Open(ctx context.Context, driver, dsn string, opts Options) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrDatabaseNotConfigured
	}
	if driver == "" {
		driver = "mysql"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxOpenConns)
	}

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}
