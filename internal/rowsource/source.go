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

// Package rowsource streams query results as raw column bytes.
package rowsource

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Source runs a query and returns a forward-only cursor over its rows.
type Source interface {
	Query(ctx context.Context, query string) (Cursor, error)
}

// Cursor iterates rows. Values returns the current row; a nil element is SQL NULL.
// The returned slice is only valid until the next call to Next.
type Cursor interface {
	Next() bool
	Values() ([][]byte, error)
	Err() error
	Close() error
}

// Func adapts a function into a Source.
type Func func(ctx context.Context, query string) (Cursor, error)

func (f Func) Query(ctx context.Context, query string) (Cursor, error) {
	return f(ctx, query)
}

// DBSource streams rows from a database/sql handle.
type DBSource struct {
	db *sql.DB
}

var _ Source = (*DBSource)(nil)

func NewDBSource(db *sql.DB) *DBSource {
	return &DBSource{db: db}
}

func (s *DBSource) Query(ctx context.Context, query string) (Cursor, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("columns: %w", err)
	}
	c := &dbCursor{
		rows:  rows,
		raw:   make([]any, len(cols)),
		ptrs:  make([]any, len(cols)),
		value: make([][]byte, len(cols)),
	}
	for i := range c.raw {
		c.ptrs[i] = &c.raw[i]
	}
	return c, nil
}

type dbCursor struct {
	rows  *sql.Rows
	raw   []any
	ptrs  []any
	value [][]byte
}

func (c *dbCursor) Next() bool {
	return c.rows.Next()
}

func (c *dbCursor) Values() ([][]byte, error) {
	if err := c.rows.Scan(c.ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	for i, v := range c.raw {
		c.value[i] = toBytes(v)
	}
	return c.value, nil
}

func (c *dbCursor) Err() error {
	return c.rows.Err()
}

func (c *dbCursor) Close() error {
	return c.rows.Close()
}

// toBytes renders a scanned driver value as text. The result is always a fresh
// slice so callers may keep it past the next scan.
func toBytes(v any) []byte {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return append(make([]byte, 0, len(x)), x...)
	case string:
		return []byte(x)
	case int64:
		return strconv.AppendInt(nil, x, 10)
	case float64:
		return strconv.AppendFloat(nil, x, 'f', -1, 64)
	case bool:
		if x {
			return []byte("1")
		}
		return []byte("0")
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return []byte(x.Format(time.DateOnly))
		}
		return []byte(x.Format(time.DateTime))
	default:
		return fmt.Appendf(nil, "%v", x)
	}
}
