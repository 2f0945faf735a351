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
	"fmt"
	"strconv"
	"strings"
)

// Compression selects the stream compressor applied to output files.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unrecognized compression mode %q", s)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// Suffix is appended after the format suffix.
func (c Compression) Suffix() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// Format names the output file type. All formats except FormatXLSX hold
// delimited text and only change the file name.
type Format int

const (
	FormatNone Format = iota
	FormatTXT
	FormatCSV
	FormatLOG
	FormatXLSX
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return FormatNone, nil
	case "txt":
		return FormatTXT, nil
	case "csv":
		return FormatCSV, nil
	case "log":
		return FormatLOG, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return 0, fmt.Errorf("unrecognized file format %q", s)
	}
}

func (f Format) String() string {
	switch f {
	case FormatTXT:
		return "txt"
	case FormatCSV:
		return "csv"
	case FormatLOG:
		return "log"
	case FormatXLSX:
		return "xlsx"
	default:
		return "none"
	}
}

func (f Format) Suffix() string {
	switch f {
	case FormatNone:
		return ""
	default:
		return "." + f.String()
	}
}

// NoSequence omits the sequence component from a file name.
const NoSequence = -1

// Filename renders prefix[-seq][formatSuffix][compressionSuffix].
func Filename(prefix string, seq int, format Format, compression Compression) string {
	var sb strings.Builder
	sb.Grow(len(prefix) + 12)
	sb.WriteString(prefix)
	if seq != NoSequence {
		sb.WriteByte('-')
		sb.WriteString(strconv.Itoa(seq))
	}
	sb.WriteString(format.Suffix())
	sb.WriteString(compression.Suffix())
	return sb.String()
}
