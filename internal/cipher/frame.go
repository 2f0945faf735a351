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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ShortFrameMax is the largest payload that gets a 2-byte header. Larger
// payloads get a 4-byte header holding the negated length, so the first
// header byte's sign bit tells a reader which width follows.
const ShortFrameMax = 0x0FFF

// AppendFrame appends a length header and payload to dst.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	n := len(payload)
	if n > math.MaxInt32 {
		return dst, fmt.Errorf("frame payload too large: %d bytes", n)
	}
	if n <= ShortFrameMax {
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	} else {
		dst = binary.BigEndian.AppendUint32(dst, uint32(-int32(n)))
	}
	return append(dst, payload...), nil
}

// HeaderLen returns the header width used for a payload of n bytes.
func HeaderLen(n int) int {
	if n <= ShortFrameMax {
		return 2
	}
	return 4
}

// ReadFrame reads one framed payload. It returns io.EOF only when r is
// exhausted at a frame boundary.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	first, err := r.Peek(1)
	if err != nil {
		return nil, err
	}
	var n int
	if first[0]&0x80 == 0 {
		var hdr [2]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, unexpected(err)
		}
		n = int(binary.BigEndian.Uint16(hdr[:]))
	} else {
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, unexpected(err)
		}
		n = -int(int32(binary.BigEndian.Uint32(hdr[:])))
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, unexpected(err)
	}
	return payload, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// LineReader decodes framed, encrypted lines.
type LineReader struct {
	r *bufio.Reader
	c Cipher
}

func NewLineReader(r io.Reader, c Cipher) *LineReader {
	return &LineReader{r: bufio.NewReader(r), c: c}
}

// Next returns the next decrypted line, or io.EOF.
func (l *LineReader) Next() ([]byte, error) {
	payload, err := ReadFrame(l.r)
	if err != nil {
		return nil, err
	}
	return l.c.Decrypt(payload)
}
