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

// Package cipher provides the symmetric transforms applied to exported files.
//
// A cipher that supports block mode can encrypt an arbitrary run of bytes and
// is applied to whole batches. Other ciphers are applied per line, and each
// encrypted line is framed with a length header (see AppendFrame).
package cipher

import (
	"bytes"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/hkdf"
)

// Mode names a cipher.
type Mode int

const (
	ModeNone Mode = iota
	ModeCaesar
	ModeAESCBC
	ModeSM4ECB
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ModeNone, nil
	case "caesar":
		return ModeCaesar, nil
	case "aes-cbc", "aes_cbc", "aes":
		return ModeAESCBC, nil
	case "sm4-ecb", "sm4_ecb", "sm4":
		return ModeSM4ECB, nil
	default:
		return 0, fmt.Errorf("unknown encryption mode %q", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeCaesar:
		return "caesar"
	case ModeAESCBC:
		return "aes-cbc"
	case ModeSM4ECB:
		return "sm4-ecb"
	default:
		return "none"
	}
}

// SupportsBlock reports whether the mode can encrypt whole batches.
func (m Mode) SupportsBlock() bool {
	return m == ModeNone || m == ModeCaesar
}

// Cipher encrypts and decrypts byte payloads. Implementations are safe for
// concurrent use.
type Cipher interface {
	Mode() Mode
	SupportsBlock() bool
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(crypto []byte) ([]byte, error)
}

// ErrEmptyKey is returned when an encryption mode is chosen without a key.
var ErrEmptyKey = errors.New("encryption key must not be empty")

// New returns the cipher for mode, or nil for ModeNone.
func New(mode Mode, key string) (Cipher, error) {
	switch mode {
	case ModeNone:
		return nil, nil
	case ModeCaesar:
		if key == "" {
			return nil, ErrEmptyKey
		}
		return NewCaesar(key), nil
	case ModeAESCBC:
		if key == "" {
			return nil, ErrEmptyKey
		}
		return NewAESCBC(key)
	case ModeSM4ECB:
		if key == "" {
			return nil, ErrEmptyKey
		}
		return NewSM4ECB(key)
	default:
		return nil, fmt.Errorf("unsupported encryption mode %d", mode)
	}
}

// Caesar is a single-byte shift cipher. It is length preserving and position
// independent, so it works on arbitrary byte runs.
type Caesar struct {
	mask byte
}

func NewCaesar(key string) *Caesar {
	return &Caesar{mask: byte(xxhash.Sum64String(key))}
}

func (c *Caesar) Mode() Mode          { return ModeCaesar }
func (c *Caesar) SupportsBlock() bool { return true }

func (c *Caesar) Encrypt(plain []byte) ([]byte, error) {
	out := make([]byte, len(plain))
	for i, b := range plain {
		out[i] = (b ^ c.mask) - c.mask
	}
	return out, nil
}

func (c *Caesar) Decrypt(crypto []byte) ([]byte, error) {
	out := make([]byte, len(crypto))
	for i, b := range crypto {
		out[i] = (b + c.mask) ^ c.mask
	}
	return out, nil
}

const (
	aesKeyLength = 16
	hkdfInfo     = "shardexport aes-cbc"
)

// AESCBC encrypts each payload independently with AES-128-CBC. A random IV is
// prepended to the ciphertext and the plaintext is PKCS#7 padded.
type AESCBC struct {
	block stdcipher.Block
}

func NewAESCBC(key string) (*AESCBC, error) {
	derived := make([]byte, aesKeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(key), nil, []byte(hkdfInfo)), derived); err != nil {
		return nil, fmt.Errorf("derive aes key: %w", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("create aes cipher: %w", err)
	}
	return &AESCBC{block: block}, nil
}

func (c *AESCBC) Mode() Mode          { return ModeAESCBC }
func (c *AESCBC) SupportsBlock() bool { return false }

func (c *AESCBC) Encrypt(plain []byte) ([]byte, error) {
	bs := c.block.BlockSize()
	pad := bs - len(plain)%bs
	out := make([]byte, bs+len(plain)+pad)
	iv := out[:bs]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	body := out[bs:]
	copy(body, plain)
	copy(body[len(plain):], bytes.Repeat([]byte{byte(pad)}, pad))
	stdcipher.NewCBCEncrypter(c.block, iv).CryptBlocks(body, body)
	return out, nil
}

func (c *AESCBC) Decrypt(crypto []byte) ([]byte, error) {
	bs := c.block.BlockSize()
	if len(crypto) < 2*bs || len(crypto)%bs != 0 {
		return nil, fmt.Errorf("aes-cbc payload has invalid length %d", len(crypto))
	}
	iv := crypto[:bs]
	body := make([]byte, len(crypto)-bs)
	stdcipher.NewCBCDecrypter(c.block, iv).CryptBlocks(body, crypto[bs:])
	plain, ok := unpad(body, bs)
	if !ok {
		return nil, errors.New("aes-cbc payload has invalid padding")
	}
	return plain, nil
}

// unpad strips PKCS#7 padding.
func unpad(body []byte, bs int) ([]byte, bool) {
	if len(body) == 0 {
		return nil, false
	}
	pad := int(body[len(body)-1])
	if pad == 0 || pad > bs || pad > len(body) {
		return nil, false
	}
	for _, b := range body[len(body)-pad:] {
		if int(b) != pad {
			return nil, false
		}
	}
	return body[:len(body)-pad], true
}
