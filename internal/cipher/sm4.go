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
	"bytes"
	stdcipher "crypto/cipher"
	"errors"
	"fmt"

	"github.com/emmansun/gmsm/sm4"
)

const sm4KeyLength = 16

// SM4ECB encrypts each payload with SM4 in ECB mode and PKCS#7 padding. The
// key bytes are copied into a zeroed 16-byte key, so longer keys are
// truncated and shorter keys are zero padded.
type SM4ECB struct {
	block stdcipher.Block
}

func NewSM4ECB(key string) (*SM4ECB, error) {
	k := make([]byte, sm4KeyLength)
	copy(k, key)
	block, err := sm4.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("create sm4 cipher: %w", err)
	}
	return &SM4ECB{block: block}, nil
}

func (c *SM4ECB) Mode() Mode          { return ModeSM4ECB }
func (c *SM4ECB) SupportsBlock() bool { return false }

func (c *SM4ECB) Encrypt(plain []byte) ([]byte, error) {
	bs := c.block.BlockSize()
	pad := bs - len(plain)%bs
	out := make([]byte, len(plain)+pad)
	copy(out, plain)
	copy(out[len(plain):], bytes.Repeat([]byte{byte(pad)}, pad))
	for i := 0; i < len(out); i += bs {
		c.block.Encrypt(out[i:i+bs], out[i:i+bs])
	}
	return out, nil
}

func (c *SM4ECB) Decrypt(crypto []byte) ([]byte, error) {
	bs := c.block.BlockSize()
	if len(crypto) == 0 || len(crypto)%bs != 0 {
		return nil, fmt.Errorf("sm4-ecb payload has invalid length %d", len(crypto))
	}
	body := make([]byte, len(crypto))
	for i := 0; i < len(crypto); i += bs {
		c.block.Decrypt(body[i:i+bs], crypto[i:i+bs])
	}
	plain, ok := unpad(body, bs)
	if !ok {
		return nil, errors.New("sm4-ecb payload has invalid padding")
	}
	return plain, nil
}
