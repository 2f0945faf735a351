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

package rowcodec

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/shardexport/internal/tablemeta"
)

var testFields = []tablemeta.Field{
	{Name: "id", Index: 0, Type: tablemeta.FieldTypeInt},
	{Name: "name", Index: 1, Type: tablemeta.FieldTypeString},
	{Name: "score", Index: 2, Type: tablemeta.FieldTypeFloat},
}

func row(vals ...string) Row {
	r := make(Row, len(vals))
	for i, v := range vals {
		r[i] = []byte(v)
	}
	return r
}

func TestAppendRowQuoteModes(t *testing.T) {
	tests := []struct {
		name string
		mode QuoteMode
		in   Row
		want string
	}{
		{"auto plain", QuoteAuto, row("1", "bob", "2.5"), "1,bob,2.5\n"},
		{"auto separator", QuoteAuto, row("1", "a,b", "2.5"), "1,\"a,b\",2.5\n"},
		{"auto quote and backslash", QuoteAuto, row("1", `say "hi" \o/`, "0"), "1,\"say \"\"hi\"\" \\\\o/\",0\n"},
		{"auto newline", QuoteAuto, row("1", "x\ny", "0"), "1,\"x\ny\",0\n"},
		{"auto null", QuoteAuto, Row{[]byte("1"), NullEscape, NullEscape}, "1,\\N,\\N\n"},
		{"force", QuoteForce, row("1", "bob", "2.5"), "\"1\",\"bob\",\"2.5\"\n"},
		{"force null", QuoteForce, Row{[]byte("1"), NullEscape, []byte("2")}, "\"1\",\"\\\\N\",\"2\"\n"},
		{"none keeps separator", QuoteNone, row("1", "a,b", "2"), "1,a,b,2\n"},
		{"none doubles quotes", QuoteNone, row("1", `a"b`, "2"), "1,a\"\"b,2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCodec(testFields, ",", tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(c.AppendRow(nil, tt.in)))
		})
	}
}

func TestAutoDoesNotQuoteNumbers(t *testing.T) {
	c, err := NewCodec(testFields, "|", QuoteAuto)
	require.NoError(t, err)
	assert.Equal(t, "1|x|y\n", string(c.AppendRow(nil, row("1", "x", "y"))))
	assert.Equal(t, "1|2|x|y\n", string(c.AppendRow(nil, row("1|2", "x", "y"))))
}

func TestHeaderAndMultiByteSeparator(t *testing.T) {
	c, err := NewCodec(testFields, "||", QuoteAuto)
	require.NoError(t, err)
	assert.Equal(t, "id||name||score\n", string(c.Header(tablemeta.Names(testFields))))
	assert.Equal(t, "1||\"a||b\"||2\n", string(c.AppendRow(nil, row("1", "a||b", "2"))))

	_, err = NewCodec(testFields, "", QuoteAuto)
	assert.Error(t, err)
}

func TestFromValues(t *testing.T) {
	src := [][]byte{[]byte("1"), nil}
	r := FromValues(src)
	assert.True(t, IsNull(r[1]))
	src[0][0] = '9'
	assert.Equal(t, "1", string(r[0]))
}

func TestParseQuoteMode(t *testing.T) {
	m, err := ParseQuoteMode("FORCE")
	require.NoError(t, err)
	assert.Equal(t, QuoteForce, m)
	m, err = ParseQuoteMode("")
	require.NoError(t, err)
	assert.Equal(t, QuoteAuto, m)
	_, err = ParseQuoteMode("always")
	assert.Error(t, err)
}

func TestComparator(t *testing.T) {
	byID := NewComparator(testFields[:1], false)
	assert.Negative(t, byID(row("2", "", ""), row("10", "", "")))
	assert.Zero(t, byID(row("7", "a", ""), row("7", "b", "")))
	assert.Negative(t, byID(Row{NullEscape, nil, nil}, row("-5", "", "")))
	assert.Positive(t, byID(row("-5", "", ""), Row{NullEscape, nil, nil}))

	byScore := NewComparator(testFields[2:], false)
	assert.Negative(t, byScore(row("", "", "2.5"), row("", "", "10")))

	byName := NewComparator(testFields[1:2], false)
	assert.Positive(t, byName(row("", "b", ""), row("", "a", "")))

	desc := NewComparator(testFields[:1], true)
	assert.Positive(t, desc(row("2", "", ""), row("10", "", "")))
}

func TestComparatorMultiColumnSort(t *testing.T) {
	sortFields := []tablemeta.Field{testFields[1], testFields[0]}
	cmp := NewComparator(sortFields, false)
	rows := []Row{row("3", "b", ""), row("2", "a", ""), row("1", "b", ""), row("10", "a", "")}
	sort.SliceStable(rows, func(i, j int) bool { return cmp(rows[i], rows[j]) < 0 })

	var ids []string
	for _, r := range rows {
		ids = append(ids, string(r[0]))
	}
	assert.Equal(t, []string{"2", "10", "1", "3"}, ids)
}
