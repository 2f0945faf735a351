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

package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/shardexport/internal/filewriter"
	"github.com/cardinalhq/shardexport/internal/rowsource"
	"github.com/cardinalhq/shardexport/internal/tablemeta"
)

var testFields = []tablemeta.Field{
	{Name: "id", Index: 0, Type: tablemeta.FieldTypeInt},
	{Name: "name", Index: 1, Type: tablemeta.FieldTypeString},
}

// fakeSource serves rows keyed by the table name in the query and tracks how
// many cursors are open at once.
type fakeSource struct {
	tables map[string][][][]byte
	// failAfter makes a table's cursor fail after that many rows.
	failAfter map[string]int
	delay     time.Duration

	mu      sync.Mutex
	queries []string
	open    atomic.Int64
	peak    atomic.Int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{tables: map[string][][][]byte{}, failAfter: map[string]int{}}
}

func tableFromQuery(q string) string {
	i := strings.Index(q, " from ")
	if i < 0 {
		return ""
	}
	f := strings.Fields(q[i+len(" from "):])
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

func (f *fakeSource) Query(_ context.Context, query string) (rowsource.Cursor, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	table := tableFromQuery(query)
	rows, ok := f.tables[table]
	if !ok {
		return nil, fmt.Errorf("no such table %q", table)
	}
	c := rowsource.NewSliceCursor(rows)
	if n := f.failAfter[table]; n > 0 {
		c.FailAfter = n
		c.FailErr = errors.New("connection reset")
	}
	n := f.open.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return &trackedCursor{SliceCursor: c, src: f}, nil
}

func (f *fakeSource) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type trackedCursor struct {
	*rowsource.SliceCursor
	src  *fakeSource
	once sync.Once
}

func (c *trackedCursor) Next() bool {
	if c.src.delay > 0 {
		time.Sleep(c.src.delay)
	}
	return c.SliceCursor.Next()
}

func (c *trackedCursor) Close() error {
	c.once.Do(func() { c.src.open.Add(-1) })
	return c.SliceCursor.Close()
}

// idRows builds rows "id,n<id>" for the given ids.
func idRows(ids ...int) [][][]byte {
	rows := make([][]string, len(ids))
	for i, id := range ids {
		rows[i] = []string{strconv.Itoa(id), "n" + strconv.Itoa(id)}
	}
	return rowsource.StringRows(rows...)
}

// shardedTable registers one shard per id list plus the logical table holding
// every row sorted by id.
func shardedTable(src *fakeSource, res *tablemeta.StaticResolver, table string, shards ...[]int) {
	def := tablemeta.StaticTable{Fields: testFields}
	var all []int
	for i, ids := range shards {
		name := fmt.Sprintf("%s_%04d", table, i)
		def.Shards = append(def.Shards, tablemeta.Shard{GroupName: fmt.Sprintf("G%d", i), TableName: name})
		src.tables[name] = idRows(ids...)
		all = append(all, ids...)
	}
	def.Rows = int64(len(all))
	def.DDL = "CREATE TABLE `" + table + "` (`id` int, `name` varchar(32))"
	slices.Sort(all)
	src.tables[table] = idRows(all...)
	if res.Defs == nil {
		res.Defs = map[string]tablemeta.StaticTable{}
	}
	res.Defs[table] = def
}

func testConfig(t *testing.T, tables ...string) Config {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.Tables = tables
	return cfg
}

func readLines(t *testing.T, name string) []string {
	t.Helper()
	f, err := os.Open(name)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

// readIDs returns the id column of every row in files, in file order.
func readIDs(t *testing.T, files []filewriter.Result, header bool) []int {
	t.Helper()
	var ids []int
	for _, f := range files {
		lines := readLines(t, f.FileName)
		if header {
			require.NotEmpty(t, lines)
			require.Equal(t, "id,name", lines[0], f.FileName)
			lines = lines[1:]
		}
		require.Len(t, lines, int(f.RecordCount), f.FileName)
		for _, l := range lines {
			id, err := strconv.Atoi(strings.SplitN(l, ",", 2)[0])
			require.NoError(t, err, l)
			ids = append(ids, id)
		}
	}
	return ids
}

func rangeInts(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// stripedShards spreads ids 0..n-1 over k shards, each shard sorted.
func stripedShards(n, k int) [][]int {
	shards := make([][]int, k)
	for i := range n {
		shards[i%k] = append(shards[i%k], i)
	}
	return shards
}
