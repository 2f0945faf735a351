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

package mask

import (
	"crypto/md5"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/shardexport/internal/tablemeta"
)

func TestHiding(t *testing.T) {
	tests := []struct {
		name    string
		showEnd int
		regions string
		in      string
		want    string
	}{
		{"show end", 4, "", "13812345678", "*******5678"},
		{"regions", 0, "0-2,4-5", "abcdefgh", "abc*ef**"},
		{"both", 2, "0-0", "secret", "s***et"},
		{"multibyte", 1, "0-0", "张三丰好", "张**好"},
		{"shorter than end", 10, "", "abc", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHiding(tt.showEnd, tt.regions)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(h.Mask([]byte(tt.in))))
		})
	}
}

func TestHidingRejectsBadConfig(t *testing.T) {
	_, err := NewHiding(0, "")
	assert.Error(t, err)
	_, err = NewHiding(0, "1")
	assert.Error(t, err)
	_, err = NewHiding(0, "a-b")
	assert.Error(t, err)
	_, err = NewHiding(-1, "0-1")
	assert.Error(t, err)
}

func TestHash(t *testing.T) {
	h, err := NewHash("pepper")
	require.NoError(t, err)

	sum := md5.Sum([]byte("alice" + "pepper"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), string(h.Mask([]byte("alice"))))
	assert.Equal(t, h.Mask([]byte("alice")), h.Mask([]byte("alice")))

	unsalted, err := NewHash("")
	require.NoError(t, err)
	plain := md5.Sum([]byte("alice"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(plain[:]), string(unsalted.Mask([]byte("alice"))))

	_, err = NewHash("01234567890123456")
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	fields := []tablemeta.Field{{Name: "id", Index: 0}, {Name: "phone", Index: 1}, {Name: "email", Index: 2}}
	maskers, err := Build([]Config{
		{Column: "PHONE", Type: "hiding", ShowEnd: 4},
		{Column: "email", Type: "hash", Salt: "s"},
	}, fields)
	require.NoError(t, err)
	require.Len(t, maskers, 2)
	assert.IsType(t, &Hiding{}, maskers[1])
	assert.IsType(t, &Hash{}, maskers[2])

	_, err = Build([]Config{{Column: "nope", Type: "hash"}}, fields)
	assert.Error(t, err)
	_, err = Build([]Config{{Column: "id", Type: "floor"}}, fields)
	assert.Error(t, err)

	none, err := Build(nil, fields)
	require.NoError(t, err)
	assert.Nil(t, none)
}
