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

// Package rowcodec turns rows into delimited text lines and orders them.
//
// A Row holds one raw value per exported column. SQL NULL is carried as the
// NullEscape sequence so a Row never has an absent slot.
package rowcodec

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cardinalhq/shardexport/internal/tablemeta"
)

// NullEscape is how NULL is written outside quotes and how it is held in a Row.
var NullEscape = []byte(`\N`)

// nullEscapeInQuote survives one level of backslash unescaping by CSV readers.
var nullEscapeInQuote = []byte(`\\N`)

const quote = '"'

// Row is one record in exported column order.
type Row [][]byte

// IsNull reports whether v is the NULL marker.
func IsNull(v []byte) bool {
	return bytes.Equal(v, NullEscape)
}

// FromValues converts cursor values, where nil means NULL, into a Row.
// The value slices are copied.
func FromValues(values [][]byte) Row {
	row := make(Row, len(values))
	for i, v := range values {
		if v == nil {
			row[i] = NullEscape
			continue
		}
		row[i] = append(make([]byte, 0, len(v)), v...)
	}
	return row
}

// QuoteMode selects when values are wrapped in double quotes.
type QuoteMode int

const (
	// QuoteAuto quotes text-like values that contain a special byte.
	QuoteAuto QuoteMode = iota
	QuoteForce
	QuoteNone
)

func ParseQuoteMode(s string) (QuoteMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return QuoteAuto, nil
	case "force":
		return QuoteForce, nil
	case "none":
		return QuoteNone, nil
	default:
		return 0, fmt.Errorf("unknown quote mode %q", s)
	}
}

func (m QuoteMode) String() string {
	switch m {
	case QuoteForce:
		return "force"
	case QuoteNone:
		return "none"
	default:
		return "auto"
	}
}

// Codec renders rows for one table.
type Codec struct {
	separator []byte
	mode      QuoteMode
	quotable  []bool
	special   [][]byte
}

// NewCodec builds a codec for fields. The separator must be non-empty.
func NewCodec(fields []tablemeta.Field, separator string, mode QuoteMode) (*Codec, error) {
	if separator == "" {
		return nil, fmt.Errorf("separator must not be empty")
	}
	c := &Codec{
		separator: []byte(separator),
		mode:      mode,
		quotable:  make([]bool, len(fields)),
	}
	for i, f := range fields {
		c.quotable[i] = f.Type.NeedsQuote()
	}
	c.special = [][]byte{c.separator, []byte("\r"), []byte("\n"), {quote}}
	return c, nil
}

// Separator returns the field separator.
func (c *Codec) Separator() []byte {
	return c.separator
}

// AppendRow appends row as one newline-terminated line to dst.
func (c *Codec) AppendRow(dst []byte, row Row) []byte {
	for i, v := range row {
		if i > 0 {
			dst = append(dst, c.separator...)
		}
		dst = c.appendValue(dst, v, i)
	}
	return append(dst, '\n')
}

// Header renders the column names as the first line of a file.
func (c *Codec) Header(names []string) []byte {
	var dst []byte
	for i, n := range names {
		if i > 0 {
			dst = append(dst, c.separator...)
		}
		dst = appendEscaped(dst, []byte(n))
	}
	return append(dst, '\n')
}

func (c *Codec) appendValue(dst, v []byte, col int) []byte {
	switch c.mode {
	case QuoteForce:
		return appendQuoted(dst, v)
	case QuoteAuto:
		if col < len(c.quotable) && c.quotable[col] && !IsNull(v) && c.hasSpecial(v) {
			return appendQuoted(dst, v)
		}
	}
	if IsNull(v) {
		return append(dst, NullEscape...)
	}
	return appendEscaped(dst, v)
}

func (c *Codec) hasSpecial(v []byte) bool {
	for _, s := range c.special {
		if bytes.Contains(v, s) {
			return true
		}
	}
	return false
}

// appendEscaped doubles embedded quotes.
func appendEscaped(dst, v []byte) []byte {
	for _, b := range v {
		if b == quote {
			dst = append(dst, quote, quote)
		} else {
			dst = append(dst, b)
		}
	}
	return dst
}

// appendQuoted wraps v in quotes, doubling quotes and backslashes inside.
func appendQuoted(dst, v []byte) []byte {
	dst = append(dst, quote)
	if IsNull(v) {
		dst = append(dst, nullEscapeInQuote...)
		return append(dst, quote)
	}
	for _, b := range v {
		switch b {
		case quote:
			dst = append(dst, quote, quote)
		case '\\':
			dst = append(dst, '\\', '\\')
		default:
			dst = append(dst, b)
		}
	}
	return append(dst, quote)
}
