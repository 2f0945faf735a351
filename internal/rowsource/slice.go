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

package rowsource

// SliceCursor serves rows held in memory. FailAfter, when positive, makes
// Values fail once that many rows have been returned.
type SliceCursor struct {
	rows      [][][]byte
	pos       int
	err       error
	FailAfter int
	FailErr   error
	closed    bool
}

// NewSliceCursor returns a cursor over rows.
func NewSliceCursor(rows [][][]byte) *SliceCursor {
	return &SliceCursor{rows: rows, pos: -1}
}

// StringRows converts string rows to byte rows.
func StringRows(rows ...[]string) [][][]byte {
	out := make([][][]byte, len(rows))
	for i, r := range rows {
		out[i] = make([][]byte, len(r))
		for j, v := range r {
			out[i][j] = []byte(v)
		}
	}
	return out
}

func (c *SliceCursor) Next() bool {
	if c.err != nil || c.closed {
		return false
	}
	c.pos++
	return c.pos < len(c.rows)
}

func (c *SliceCursor) Values() ([][]byte, error) {
	if c.FailAfter > 0 && c.pos >= c.FailAfter {
		c.err = c.FailErr
		return nil, c.err
	}
	return c.rows[c.pos], nil
}

func (c *SliceCursor) Err() error {
	return c.err
}

func (c *SliceCursor) Close() error {
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *SliceCursor) Closed() bool {
	return c.closed
}
