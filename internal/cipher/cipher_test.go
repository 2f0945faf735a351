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

package cipher

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	for _, n := range []int{0, 10, ShortFrameMax, ShortFrameMax + 1, 70000} {
		payload := bytes.Repeat([]byte{0xAB}, n)
		framed, err := AppendFrame(nil, payload)
		require.NoError(t, err)

		hdr := HeaderLen(n)
		assert.Len(t, framed, hdr+n, "length %d", n)
		if hdr == 4 {
			assert.NotZero(t, framed[0]&0x80, "long header must carry a negative length")
		} else {
			assert.Zero(t, framed[0]&0x80)
		}

		got, err := ReadFrame(bufio.NewReader(bytes.NewReader(framed)))
		require.NoError(t, err)
		assert.Equal(t, payload, got, "length %d", n)
	}
}

func TestFrameHeaderWidths(t *testing.T) {
	assert.Equal(t, 2, HeaderLen(10))
	assert.Equal(t, 2, HeaderLen(0x0FFF))
	assert.Equal(t, 4, HeaderLen(0x1000))

	framed, err := AppendFrame(nil, make([]byte, 0x1000))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xF0, 0x00}, framed[:4])

	framed, err = AppendFrame(nil, make([]byte, 10))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x0A}, framed[:2])
}

func TestReadFrameSequenceAndTruncation(t *testing.T) {
	var buf []byte
	var err error
	for _, n := range []int{3, 0x1000, 1} {
		buf, err = AppendFrame(buf, bytes.Repeat([]byte{byte(n)}, n))
		require.NoError(t, err)
	}
	r := bufio.NewReader(bytes.NewReader(buf))
	for _, n := range []int{3, 0x1000, 1} {
		got, err := ReadFrame(r)
		require.NoError(t, err)
		assert.Len(t, got, n)
	}
	_, err = ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)

	_, err = ReadFrame(bufio.NewReader(bytes.NewReader(buf[:4])))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCaesarRoundTrip(t *testing.T) {
	c := NewCaesar("secret")
	plain := []byte("1,alice,\"x\"\n2,bob,\\N\n")
	enc, err := c.Encrypt(plain)
	require.NoError(t, err)
	assert.Len(t, enc, len(plain))

	// Block mode: decrypting an arbitrary split must still round-trip.
	a, err := c.Decrypt(enc[:5])
	require.NoError(t, err)
	b, err := c.Decrypt(enc[5:])
	require.NoError(t, err)
	assert.Equal(t, plain, append(a, b...))
	assert.True(t, c.SupportsBlock())
}

func TestAESCBCRoundTrip(t *testing.T) {
	c, err := NewAESCBC("k")
	require.NoError(t, err)
	assert.False(t, c.SupportsBlock())

	for _, plain := range [][]byte{{}, []byte("short"), bytes.Repeat([]byte("x"), 16), bytes.Repeat([]byte("y"), 5000)} {
		enc, err := c.Encrypt(plain)
		require.NoError(t, err)
		assert.Zero(t, len(enc)%16)
		dec, err := c.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plain, dec)
	}

	other, err := NewAESCBC("other")
	require.NoError(t, err)
	enc, err := c.Encrypt([]byte("hello world"))
	require.NoError(t, err)
	dec, err := other.Decrypt(enc)
	if err == nil {
		assert.NotEqual(t, []byte("hello world"), dec)
	}

	_, err = c.Decrypt([]byte("tiny"))
	assert.Error(t, err)
}

func TestLineReader(t *testing.T) {
	c, err := NewAESCBC("k")
	require.NoError(t, err)
	var buf []byte
	for _, line := range []string{"a,b", "c,d"} {
		enc, err := c.Encrypt([]byte(line))
		require.NoError(t, err)
		buf, err = AppendFrame(buf, enc)
		require.NoError(t, err)
	}
	lr := NewLineReader(bytes.NewReader(buf), c)
	l1, err := lr.Next()
	require.NoError(t, err)
	l2, err := lr.Next()
	require.NoError(t, err)
	_, err = lr.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "a,b", string(l1))
	assert.Equal(t, "c,d", string(l2))
}

func TestNewAndParseMode(t *testing.T) {
	m, err := ParseMode("AES-CBC")
	require.NoError(t, err)
	assert.Equal(t, ModeAESCBC, m)
	assert.False(t, m.SupportsBlock())
	assert.True(t, ModeCaesar.SupportsBlock())

	c, err := New(ModeNone, "")
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = New(ModeCaesar, "")
	assert.ErrorIs(t, err, ErrEmptyKey)

	m, err = ParseMode("SM4_ECB")
	require.NoError(t, err)
	assert.Equal(t, ModeSM4ECB, m)
	assert.Equal(t, "sm4-ecb", m.String())
	assert.False(t, m.SupportsBlock())

	_, err = New(ModeSM4ECB, "")
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = ParseMode("des")
	assert.Error(t, err)
}

func TestSM4ECBRoundTrip(t *testing.T) {
	c, err := NewSM4ECB("a-key-longer-than-sixteen-bytes")
	require.NoError(t, err)
	assert.False(t, c.SupportsBlock())

	for _, plain := range [][]byte{{}, []byte("1,sku-01"), bytes.Repeat([]byte("z"), 16), bytes.Repeat([]byte("q"), 5000)} {
		enc, err := c.Encrypt(plain)
		require.NoError(t, err)
		assert.Zero(t, len(enc)%16)
		assert.Greater(t, len(enc), len(plain))
		dec, err := c.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plain, dec)
	}

	// keys are truncated to 16 bytes
	same, err := NewSM4ECB("a-key-longer-than")
	require.NoError(t, err)
	enc, err := c.Encrypt([]byte("hello"))
	require.NoError(t, err)
	dec, err := same.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(dec))

	_, err = c.Decrypt([]byte("not-a-block"))
	assert.Error(t, err)
}

func TestSM4ECBKnownVector(t *testing.T) {
	key, err := hex.DecodeString("0123456789abcdeffedcba9876543210")
	require.NoError(t, err)
	c, err := NewSM4ECB(string(key))
	require.NoError(t, err)

	enc, err := c.Encrypt(key)
	require.NoError(t, err)
	require.Len(t, enc, 32)
	assert.Equal(t, "681edf34d206965e86b3e94f536e4246", hex.EncodeToString(enc[:16]))
}

func TestSM4ECBShortKeyIsZeroPadded(t *testing.T) {
	short, err := NewSM4ECB("k")
	require.NoError(t, err)
	padded, err := NewSM4ECB("k\x00\x00\x00")
	require.NoError(t, err)

	a, err := short.Encrypt([]byte("row"))
	require.NoError(t, err)
	b, err := padded.Encrypt([]byte("row"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
