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
	"fmt"
	"sort"
)

// StaticTable is the fixed metadata of one table held by a StaticResolver.
type StaticTable struct {
	Shards    []Shard
	Fields    []Field
	Broadcast bool
	Rows      int64
	DDL       string
}

// StaticResolver serves metadata from memory. It is used by tests and by
// callers that already know the topology.
type StaticResolver struct {
	Defs map[string]StaticTable
}

var _ Resolver = (*StaticResolver)(nil)

func (s *StaticResolver) lookup(table string) (StaticTable, error) {
	t, ok := s.Defs[table]
	if !ok {
		return StaticTable{}, fmt.Errorf("unknown table %q", table)
	}
	return t, nil
}

func (s *StaticResolver) Tables(_ context.Context, _ string) ([]string, error) {
	names := make([]string, 0, len(s.Defs))
	for name := range s.Defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *StaticResolver) ListShards(_ context.Context, _, table string) ([]Shard, error) {
	t, err := s.lookup(table)
	if err != nil {
		return nil, err
	}
	return append([]Shard(nil), t.Shards...), nil
}

func (s *StaticResolver) IsBroadcast(_ context.Context, table string) (bool, error) {
	t, err := s.lookup(table)
	return t.Broadcast, err
}

func (s *StaticResolver) RowCount(_ context.Context, table string) (int64, error) {
	t, err := s.lookup(table)
	return t.Rows, err
}

func (s *StaticResolver) Fields(_ context.Context, _, table string, columns []string) ([]Field, error) {
	t, err := s.lookup(table)
	if err != nil {
		return nil, err
	}
	return SelectFields(t.Fields, columns)
}

func (s *StaticResolver) CreateTable(_ context.Context, table string) (string, error) {
	t, err := s.lookup(table)
	return t.DDL, err
}
