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

package tablemeta

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Resolver answers the metadata questions an export needs before reading any rows.
type Resolver interface {
	// Tables lists every base table in schema.
	Tables(ctx context.Context, schema string) ([]string, error)
	// ListShards returns the physical shards of table in a stable order.
	ListShards(ctx context.Context, schema, table string) ([]Shard, error)
	// IsBroadcast reports whether every shard holds a full copy of table.
	IsBroadcast(ctx context.Context, table string) (bool, error)
	// RowCount returns the number of rows in the logical table.
	RowCount(ctx context.Context, table string) (int64, error)
	// Fields returns the exported columns. An empty columns list means all
	// columns in table order.
	Fields(ctx context.Context, schema, table string, columns []string) ([]Field, error)
	// CreateTable returns the CREATE TABLE statement for table.
	CreateTable(ctx context.Context, table string) (string, error)
}

// SQLResolver implements Resolver against a live database.
type SQLResolver struct {
	db      *sql.DB
	dialect Dialect
}

var _ Resolver = (*SQLResolver)(nil)

// NewSQLResolver returns a Resolver that issues dialect-specific metadata queries on db.
func NewSQLResolver(db *sql.DB, dialect Dialect) *SQLResolver {
	return &SQLResolver{db: db, dialect: dialect}
}

func (r *SQLResolver) Tables(ctx context.Context, schema string) ([]string, error) {
	var (
		query string
		args  []any
	)
	switch r.dialect {
	case DialectSQLite:
		query = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	case DialectPostgres:
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name"
		args = []any{schema}
	default:
		query = "SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME"
		args = []any{schema}
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (r *SQLResolver) ListShards(ctx context.Context, schema, table string) ([]Shard, error) {
	if r.dialect != DialectMySQL {
		return []Shard{{TableName: table}}, nil
	}
	rows, err := r.db.QueryContext(ctx, "SHOW TOPOLOGY FROM "+r.dialect.QuoteIdent(table))
	if err != nil {
		return nil, fmt.Errorf("show topology of %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	groupIdx, tableIdx := -1, -1
	for i, c := range cols {
		switch strings.ToUpper(c) {
		case "GROUP_NAME":
			groupIdx = i
		case "TABLE_NAME":
			tableIdx = i
		}
	}
	if groupIdx < 0 || tableIdx < 0 {
		return nil, fmt.Errorf("show topology of %s: missing GROUP_NAME or TABLE_NAME column", table)
	}

	var shards []Shard
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan topology row: %w", err)
		}
		shards = append(shards, Shard{
			GroupName: vals[groupIdx].String,
			TableName: vals[tableIdx].String,
		})
	}
	return shards, rows.Err()
}

func (r *SQLResolver) IsBroadcast(ctx context.Context, table string) (bool, error) {
	if r.dialect != DialectMySQL {
		return false, nil
	}
	rows, err := r.db.QueryContext(ctx, "SHOW RULE FROM "+r.dialect.QuoteIdent(table))
	if err != nil {
		return false, fmt.Errorf("show rule of %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return false, err
	}
	idx := -1
	for i, c := range cols {
		if strings.EqualFold(c, "BROADCAST") {
			idx = i
		}
	}
	if idx < 0 {
		return false, nil
	}
	if !rows.Next() {
		return false, rows.Err()
	}
	vals := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return false, fmt.Errorf("scan rule row: %w", err)
	}
	v := strings.TrimSpace(vals[idx].String)
	return v == "1" || strings.EqualFold(v, "true"), nil
}

func (r *SQLResolver) RowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+r.dialect.QuoteIdent(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", table, err)
	}
	return n, nil
}

func (r *SQLResolver) Fields(ctx context.Context, schema, table string, columns []string) ([]Field, error) {
	var (
		query string
		args  []any
	)
	switch r.dialect {
	case DialectSQLite:
		query = "SELECT name, type, cid FROM pragma_table_info(?) ORDER BY cid"
		args = []any{table}
	case DialectPostgres:
		query = "SELECT column_name, data_type, ordinal_position FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position"
		args = []any{schema, table}
	default:
		query = "SELECT COLUMN_NAME, DATA_TYPE, ORDINAL_POSITION FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION"
		args = []any{schema, table}
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var all []Field
	for rows.Next() {
		var (
			name, dataType string
			pos            int
		)
		if err := rows.Scan(&name, &dataType, &pos); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		all = append(all, Field{Name: name, Type: ParseFieldType(dataType)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("table %s has no columns or does not exist", table)
	}
	return SelectFields(all, columns)
}

// SelectFields narrows all to the requested columns, in the requested order,
// and renumbers Index to the exported position.
func SelectFields(all []Field, columns []string) ([]Field, error) {
	if len(columns) == 0 {
		out := make([]Field, len(all))
		for i, f := range all {
			f.Index = i
			out[i] = f
		}
		return out, nil
	}
	byName := make(map[string]Field, len(all))
	for _, f := range all {
		byName[strings.ToLower(f.Name)] = f
	}
	out := make([]Field, 0, len(columns))
	for i, c := range columns {
		f, ok := byName[strings.ToLower(strings.TrimSpace(c))]
		if !ok {
			return nil, fmt.Errorf("column %q not found", c)
		}
		f.Index = i
		out = append(out, f)
	}
	return out, nil
}

func (r *SQLResolver) CreateTable(ctx context.Context, table string) (string, error) {
	var ddl string
	switch r.dialect {
	case DialectSQLite:
		err := r.db.QueryRowContext(ctx, "SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&ddl)
		if err != nil {
			return "", fmt.Errorf("read ddl of %s: %w", table, err)
		}
	case DialectPostgres:
		return "", fmt.Errorf("ddl export is not supported for %s", r.dialect)
	default:
		var name string
		err := r.db.QueryRowContext(ctx, "SHOW CREATE TABLE "+r.dialect.QuoteIdent(table)).Scan(&name, &ddl)
		if err != nil {
			return "", fmt.Errorf("show create table %s: %w", table, err)
		}
	}
	return ddl, nil
}
