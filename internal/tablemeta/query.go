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
	"fmt"
	"strings"
)

// Dialect controls identifier quoting and whether a node routing hint is emitted.
type Dialect int

const (
	DialectMySQL Dialect = iota
	DialectPostgres
	DialectSQLite
)

// ParseDialect maps a database/sql driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "mysql", "":
		return DialectMySQL, nil
	case "pgx", "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return 0, fmt.Errorf("unsupported driver %q", driver)
	}
}

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectSQLite:
		return "sqlite"
	default:
		return "mysql"
	}
}

// QuoteIdent quotes a single identifier.
func (d Dialect) QuoteIdent(name string) string {
	if d == DialectPostgres {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// NodeHint returns the routing hint that pins a query to one physical group.
// Only the sharded MySQL front end understands it.
func (d Dialect) NodeHint(group string) string {
	if d != DialectMySQL || group == "" {
		return ""
	}
	return "/*+TDDL:node='" + group + "'*/"
}

// OrderSpec is the ORDER BY clause of a query.
type OrderSpec struct {
	Columns    []string
	Descending bool
}

// BuildSelect renders the query a shard reader runs. The column list follows
// fields, the table name is emitted verbatim, and where is appended as is.
func BuildSelect(d Dialect, shard Shard, fields []Field, where string, order *OrderSpec) string {
	var sb strings.Builder
	sb.WriteString(d.NodeHint(shard.GroupName))
	sb.WriteString("select ")
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(d.QuoteIdent(f.Name))
	}
	sb.WriteString(" from ")
	sb.WriteString(shard.TableName)
	if w := strings.TrimSpace(where); w != "" {
		sb.WriteString(" where ")
		sb.WriteString(w)
	}
	if order != nil && len(order.Columns) > 0 {
		dir := " asc"
		if order.Descending {
			dir = " desc"
		}
		sb.WriteString(" order by ")
		for i, c := range order.Columns {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(d.QuoteIdent(c))
			sb.WriteString(dir)
		}
	}
	return sb.String()
}
