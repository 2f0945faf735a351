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

// Package tablemeta describes the physical layout of a logical table: the shards
// that back it and the columns it exports. It also renders the per-shard query
// text that shard readers execute.
package tablemeta

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Shard is one physical partition of a logical table. An empty GroupName
// means the table is not sharded and TableName is the logical table itself.
type Shard struct {
	GroupName string
	TableName string
}

// Sharded reports whether the shard lives in a named group.
func (s Shard) Sharded() bool {
	return s.GroupName != ""
}

func (s Shard) String() string {
	if s.GroupName == "" {
		return s.TableName
	}
	return s.GroupName + "." + s.TableName
}

// FieldType is the coarse logical type of a column. It drives quoting and comparison.
type FieldType int

const (
	FieldTypeString FieldType = iota
	FieldTypeInt
	FieldTypeFloat
	FieldTypeDate
	FieldTypeOther
)

var (
	stringTypes = mapset.NewThreadUnsafeSet("varchar", "char", "text", "tinytext", "mediumtext", "longtext",
		"character varying", "character", "bpchar")
	intTypes = mapset.NewThreadUnsafeSet("tinyint", "smallint", "integer", "int", "mediumint", "bigint",
		"int2", "int4", "int8")
	floatTypes = mapset.NewThreadUnsafeSet("decimal", "numeric", "float", "double", "real", "double precision")
	dateTypes  = mapset.NewThreadUnsafeSet("date")
)

// ParseFieldType maps a database DATA_TYPE string to a FieldType.
// Unknown types map to FieldTypeOther.
func ParseFieldType(dataType string) FieldType {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch {
	case stringTypes.Contains(t):
		return FieldTypeString
	case intTypes.Contains(t):
		return FieldTypeInt
	case floatTypes.Contains(t):
		return FieldTypeFloat
	case dateTypes.Contains(t):
		return FieldTypeDate
	default:
		return FieldTypeOther
	}
}

// NeedsQuote reports whether values of this type are candidates for quoting.
func (t FieldType) NeedsQuote() bool {
	switch t {
	case FieldTypeInt, FieldTypeFloat:
		return false
	default:
		return true
	}
}

func (t FieldType) String() string {
	switch t {
	case FieldTypeString:
		return "STRING"
	case FieldTypeInt:
		return "INT"
	case FieldTypeFloat:
		return "FLOAT"
	case FieldTypeDate:
		return "DATE"
	default:
		return "OTHER"
	}
}

// Field is one exported column. Index is the 0-based position of the column
// in the exported row, not in the table definition.
type Field struct {
	Name  string
	Index int
	Type  FieldType
}

// Names returns the column names of fields in order.
func Names(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// SortFields resolves the named sort columns against the exported fields so that
// each returned Field carries its position within the exported row.
func SortFields(fields []Field, names []string) ([]Field, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no sort columns given")
	}
	byName := make(map[string]Field, len(fields))
	for _, f := range fields {
		byName[strings.ToLower(f.Name)] = f
	}
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]Field, 0, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if !seen.Add(key) {
			return nil, fmt.Errorf("sort column %q listed twice", name)
		}
		f, ok := byName[key]
		if !ok {
			return nil, fmt.Errorf("sort column %q is not exported", name)
		}
		out = append(out, f)
	}
	return out, nil
}
