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

// Package mask rewrites sensitive column values before they are written.
package mask

import (
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cardinalhq/shardexport/internal/tablemeta"
)

const (
	hidingChar    = '*'
	maxSaltLength = 16
)

// Masker replaces a non-NULL value. Implementations are safe for concurrent use.
type Masker interface {
	Mask(value []byte) []byte
}

// Config describes the masking of one column.
type Config struct {
	Column string `mapstructure:"column"`
	// Type is "hiding" or "hash".
	Type string `mapstructure:"type"`
	// ShowEnd keeps this many trailing characters visible.
	ShowEnd int `mapstructure:"show_end"`
	// ShowRegion keeps inclusive index ranges visible, e.g. "0-2,4-5".
	ShowRegion string `mapstructure:"show_region"`
	Salt       string `mapstructure:"salt"`
}

// Hiding replaces characters with '*' except those in the visible regions.
// Positions count characters, not bytes.
type Hiding struct {
	showEnd int
	regions [][2]int
}

// NewHiding builds a Hiding masker. At least one of showEnd or regions must be set.
func NewHiding(showEnd int, regions string) (*Hiding, error) {
	if showEnd < 0 {
		return nil, fmt.Errorf("show_end must not be negative")
	}
	h := &Hiding{showEnd: showEnd}
	if strings.TrimSpace(regions) != "" {
		for part := range strings.SplitSeq(regions, ",") {
			lo, hi, ok := strings.Cut(strings.TrimSpace(part), "-")
			if !ok {
				return nil, fmt.Errorf("illegal region format: %q", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("illegal region format: %q", part)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("illegal region format: %q", part)
			}
			h.regions = append(h.regions, [2]int{start, end})
		}
	}
	if h.showEnd == 0 && len(h.regions) == 0 {
		return nil, fmt.Errorf("hiding masker requires show_end or show_region")
	}
	return h, nil
}

func (h *Hiding) Mask(value []byte) []byte {
	n := utf8.RuneCount(value)
	out := make([]byte, 0, len(value))
	i := 0
	for len(value) > 0 {
		r, size := utf8.DecodeRune(value)
		if h.hidden(i, n) {
			out = append(out, hidingChar)
		} else {
			out = utf8.AppendRune(out, r)
		}
		value = value[size:]
		i++
	}
	return out
}

func (h *Hiding) hidden(i, n int) bool {
	if i >= n-h.showEnd {
		return false
	}
	for _, r := range h.regions {
		if i >= r[0] && i <= r[1] {
			return false
		}
	}
	return true
}

// Hash replaces a value with base64(md5(value + salt)).
type Hash struct {
	salt []byte
}

func NewHash(salt string) (*Hash, error) {
	if len(salt) > maxSaltLength {
		return nil, fmt.Errorf("hash salt max length is %d", maxSaltLength)
	}
	return &Hash{salt: []byte(salt)}, nil
}

func (h *Hash) Mask(value []byte) []byte {
	d := md5.New()
	d.Write(value)
	d.Write(h.salt)
	sum := d.Sum(nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum)
	return out
}

// New builds the masker described by cfg.
func New(cfg Config) (Masker, error) {
	switch strings.ToLower(cfg.Type) {
	case "hiding":
		return NewHiding(cfg.ShowEnd, cfg.ShowRegion)
	case "hash":
		return NewHash(cfg.Salt)
	default:
		return nil, fmt.Errorf("unsupported mask type %q", cfg.Type)
	}
}

// Build maps exported column positions to their maskers.
func Build(cfgs []Config, fields []tablemeta.Field) (map[int]Masker, error) {
	if len(cfgs) == 0 {
		return nil, nil
	}
	byName := make(map[string]int, len(fields))
	for _, f := range fields {
		byName[strings.ToLower(f.Name)] = f.Index
	}
	out := make(map[int]Masker, len(cfgs))
	for _, c := range cfgs {
		idx, ok := byName[strings.ToLower(c.Column)]
		if !ok {
			return nil, fmt.Errorf("mask column %q is not exported", c.Column)
		}
		m, err := New(c)
		if err != nil {
			return nil, fmt.Errorf("mask column %q: %w", c.Column, err)
		}
		out[idx] = m
	}
	return out, nil
}
