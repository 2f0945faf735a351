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

package filewriter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/cardinalhq/shardexport/internal/cipher"
)

func readAll(t *testing.T, name string, c Compression) string {
	t.Helper()
	r, err := OpenReader(name, c)
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "out/t_0", Filename("out/t_0", NoSequence, FormatNone, CompressionNone))
	assert.Equal(t, "out/t-3.csv.gz", Filename("out/t", 3, FormatCSV, CompressionGzip))
	assert.Equal(t, "out/t-0.zst", Filename("out/t", 0, FormatNone, CompressionZstd))
	assert.Equal(t, "out/t.log", Filename("out/t", NoSequence, FormatLOG, CompressionNone))
}

func TestRotationBoundary(t *testing.T) {
	const limit = 5

	t.Run("limit plus one", func(t *testing.T) {
		prefix := filepath.Join(t.TempDir(), "t")
		w, err := New(Config{Prefix: prefix, LineLimit: limit})
		require.NoError(t, err)
		for i := range limit + 1 {
			require.NoError(t, w.WriteRow(fmt.Appendf(nil, "%d\n", i)))
		}
		results, err := w.Close()
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, prefix+"-0", results[0].FileName)
		assert.Equal(t, int64(limit), results[0].RecordCount)
		assert.Equal(t, prefix+"-1", results[1].FileName)
		assert.Equal(t, int64(1), results[1].RecordCount)
		assert.Equal(t, "5\n", readAll(t, results[1].FileName, CompressionNone))
	})

	t.Run("exactly limit", func(t *testing.T) {
		prefix := filepath.Join(t.TempDir(), "t")
		w, err := New(Config{Prefix: prefix, LineLimit: limit})
		require.NoError(t, err)
		for i := range limit {
			require.NoError(t, w.WriteRow(fmt.Appendf(nil, "%d\n", i)))
		}
		results, err := w.Close()
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, int64(limit), results[0].RecordCount)
		_, err = os.Stat(prefix + "-1")
		assert.True(t, os.IsNotExist(err))
	})
}

func TestWriteBlockRotatesWithoutSplitting(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "t")
	w, err := New(Config{Prefix: prefix, LineLimit: 4, Header: []byte("id\n")})
	require.NoError(t, err)

	require.NoError(t, w.WriteBlock([]byte("1\n2\n3\n"), 3))
	require.NoError(t, w.WriteBlock([]byte("4\n5\n"), 2))
	require.NoError(t, w.WriteBlock([]byte("6\n"), 1))
	assert.Equal(t, int64(6), w.Lines())

	results, err := w.Close()
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "id\n1\n2\n3\n", readAll(t, results[0].FileName, CompressionNone))
	assert.Equal(t, "id\n4\n5\n6\n", readAll(t, results[1].FileName, CompressionNone))
	assert.Equal(t, int64(3), results[0].RecordCount)
}

func TestEmptyFileRemoved(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "empty")
	w, err := New(Config{Prefix: prefix, Header: []byte("a,b\n"), Format: FormatCSV})
	require.NoError(t, err)
	_, statErr := os.Stat(prefix + ".csv")
	require.NoError(t, statErr)

	results, err := w.Close()
	require.NoError(t, err)
	assert.Empty(t, results)
	_, statErr = os.Stat(prefix + ".csv")
	assert.True(t, os.IsNotExist(statErr))

	_, err = w.Close()
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.ErrorIs(t, w.WriteRow([]byte("x\n")), ErrWriterClosed)
}

func TestCompressedOutput(t *testing.T) {
	for _, c := range []Compression{CompressionGzip, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			prefix := filepath.Join(t.TempDir(), "t")
			w, err := New(Config{Prefix: prefix, Compression: c, Format: FormatTXT})
			require.NoError(t, err)
			require.NoError(t, w.WriteBlock([]byte("a\nb\n"), 2))
			require.NoError(t, w.WriteRow([]byte("c\n")))
			results, err := w.Close()
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, prefix+".txt"+c.Suffix(), results[0].FileName)
			assert.Equal(t, "a\nb\nc\n", readAll(t, results[0].FileName, c))
		})
	}
}

func TestBlockCipherOutput(t *testing.T) {
	c := cipher.NewCaesar("key")
	prefix := filepath.Join(t.TempDir(), "t")
	w, err := New(Config{Prefix: prefix, Cipher: c, Header: []byte("h\n")})
	require.NoError(t, err)
	assert.False(t, w.LineMode())
	require.NoError(t, w.WriteBlock([]byte("1,a\n2,b\n"), 2))
	results, err := w.Close()
	require.NoError(t, err)

	raw, err := os.ReadFile(results[0].FileName)
	require.NoError(t, err)
	plain, err := c.Decrypt(raw)
	require.NoError(t, err)
	assert.Equal(t, "h\n1,a\n2,b\n", string(plain))
}

func TestLineCipherOutput(t *testing.T) {
	c, err := cipher.NewAESCBC("key")
	require.NoError(t, err)
	prefix := filepath.Join(t.TempDir(), "t")
	w, err := New(Config{Prefix: prefix, Cipher: c, LineLimit: 2, Header: []byte("id,name\n")})
	require.NoError(t, err)
	require.True(t, w.LineMode())
	assert.ErrorIs(t, w.WriteBlock([]byte("x\n"), 1), ErrLineMode)

	for _, line := range []string{"1,a\n", "2,b\n", "3," + strings.Repeat("z", 5000) + "\n"} {
		require.NoError(t, w.WriteRow([]byte(line)))
	}
	results, err := w.Close()
	require.NoError(t, err)
	require.Len(t, results, 2)

	decode := func(name string) []string {
		f, err := os.Open(name)
		require.NoError(t, err)
		defer f.Close()
		lr := cipher.NewLineReader(f, c)
		var out []string
		for {
			line, err := lr.Next()
			if errors.Is(err, io.EOF) {
				return out
			}
			require.NoError(t, err)
			out = append(out, string(line))
		}
	}
	assert.Equal(t, []string{"id,name", "1,a", "2,b"}, decode(results[0].FileName))
	second := decode(results[1].FileName)
	require.Len(t, second, 2)
	assert.Equal(t, "id,name", second[0])
	assert.Len(t, second[1], 5002)
}

func TestConfigValidate(t *testing.T) {
	_, err := New(Config{})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Prefix", cfgErr.Field)

	_, err = New(Config{Prefix: filepath.Join(t.TempDir(), "x"), Cipher: cipher.NewCaesar("k"), Compression: CompressionGzip})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Compression", cfgErr.Field)

	_, err = New(Config{Prefix: filepath.Join(t.TempDir(), "x"), LineLimit: -1})
	assert.Error(t, err)

	_, err = New(Config{Prefix: filepath.Join(t.TempDir(), "x"), Format: FormatXLSX, Compression: CompressionZstd})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Format", cfgErr.Field)

	w, err := New(Config{Prefix: filepath.Join(t.TempDir(), "x"), Format: FormatCSV})
	require.NoError(t, err)
	assert.Error(t, w.WriteCells([][]byte{[]byte("1")}, nil))
	_, err = w.Close()
	require.NoError(t, err)
}

func TestParseOptions(t *testing.T) {
	c, err := ParseCompression("GZIP")
	require.NoError(t, err)
	assert.Equal(t, CompressionGzip, c)
	_, err = ParseCompression("lz4")
	assert.Error(t, err)

	f, err := ParseFormat("csv")
	require.NoError(t, err)
	assert.Equal(t, ".csv", f.Suffix())
	f, err = ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
	assert.Equal(t, ".xlsx", f.Suffix())
	_, err = ParseFormat("parquet")
	assert.Error(t, err)
}

func TestRemainingFillsFileExactly(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "t")
	w, err := New(Config{Prefix: prefix, LineLimit: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(5), w.Remaining())

	require.NoError(t, w.WriteBlock([]byte("1\n2\n3\n"), 3))
	assert.Equal(t, int64(2), w.Remaining())
	require.NoError(t, w.WriteBlock([]byte("4\n5\n"), 2))
	// the current file is full, so the next write starts a fresh one
	assert.Equal(t, int64(5), w.Remaining())
	require.NoError(t, w.WriteBlock([]byte("6\n"), 1))
	assert.Equal(t, int64(4), w.Remaining())

	results, err := w.Close()
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(5), results[0].RecordCount)
	assert.Equal(t, int64(1), results[1].RecordCount)

	unlimited, err := New(Config{Prefix: filepath.Join(t.TempDir(), "u")})
	require.NoError(t, err)
	assert.Zero(t, unlimited.Remaining())
	_, err = unlimited.Close()
	require.NoError(t, err)
}

func TestSpreadsheetOutput(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "t")
	w, err := New(Config{Prefix: prefix, LineLimit: 2, Format: FormatXLSX, HeaderCells: []string{"id", "name", "note"}})
	require.NoError(t, err)
	require.True(t, w.LineMode())
	require.True(t, w.Cells())
	assert.ErrorIs(t, w.WriteRow([]byte("1,a\n")), ErrCellMode)
	assert.ErrorIs(t, w.WriteBlock([]byte("1,a\n"), 1), ErrCellMode)

	isNull := func(v []byte) bool { return string(v) == `\N` }
	rows := [][][]byte{
		{[]byte("1"), []byte("a,b"), []byte("x")},
		{[]byte("2"), []byte(`\N`), []byte("line\nbreak")},
		{[]byte("3"), []byte("c"), []byte("y")},
	}
	for _, row := range rows {
		require.NoError(t, w.WriteCells(row, isNull))
	}
	assert.Equal(t, int64(3), w.Lines())
	results, err := w.Close()
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, prefix+"-0.xlsx", results[0].FileName)
	assert.Equal(t, prefix+"-1.xlsx", results[1].FileName)
	assert.Equal(t, int64(2), results[0].RecordCount)
	assert.Positive(t, results[0].FileSize)

	read := func(name string) [][]string {
		book, err := excelize.OpenFile(name)
		require.NoError(t, err)
		defer book.Close()
		got, err := book.GetRows(book.GetSheetName(0))
		require.NoError(t, err)
		return got
	}
	assert.Equal(t, [][]string{
		{"id", "name", "note"},
		{"1", "a,b", "x"},
		{"2", "", "line\nbreak"},
	}, read(results[0].FileName))
	assert.Equal(t, [][]string{
		{"id", "name", "note"},
		{"3", "c", "y"},
	}, read(results[1].FileName))
}

func TestSpreadsheetEmptyFileRemoved(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "t")
	w, err := New(Config{Prefix: prefix, Format: FormatXLSX, HeaderCells: []string{"id"}})
	require.NoError(t, err)
	results, err := w.Close()
	require.NoError(t, err)
	assert.Empty(t, results)
	_, err = os.Stat(prefix + ".xlsx")
	assert.True(t, os.IsNotExist(err))
}
