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
	"bytes"
	"cmp"
	"strconv"

	"github.com/cardinalhq/shardexport/internal/tablemeta"
)

// Comparator orders two rows. It returns a negative number when a sorts first.
type Comparator func(a, b Row) int

// NewComparator compares rows on sortFields in order. NULL sorts before any
// value. INT and FLOAT columns compare numerically and fall back to byte order
// when a value does not parse. Descending reverses the whole ordering.
func NewComparator(sortFields []tablemeta.Field, descending bool) Comparator {
	fields := append([]tablemeta.Field(nil), sortFields...)
	asc := func(a, b Row) int {
		for _, f := range fields {
			if c := compareValue(f.Type, a[f.Index], b[f.Index]); c != 0 {
				return c
			}
		}
		return 0
	}
	if !descending {
		return asc
	}
	return func(a, b Row) int {
		return -asc(a, b)
	}
}

func compareValue(t tablemeta.FieldType, a, b []byte) int {
	an, bn := IsNull(a), IsNull(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}
	switch t {
	case tablemeta.FieldTypeInt:
		ai, aerr := strconv.ParseInt(string(a), 10, 64)
		bi, berr := strconv.ParseInt(string(b), 10, 64)
		if aerr == nil && berr == nil {
			return cmp.Compare(ai, bi)
		}
	case tablemeta.FieldTypeFloat:
		af, aerr := strconv.ParseFloat(string(a), 64)
		bf, berr := strconv.ParseFloat(string(b), 64)
		if aerr == nil && berr == nil {
			return cmp.Compare(af, bf)
		}
	}
	return bytes.Compare(a, b)
}
