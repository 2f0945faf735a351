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

package export

import (
	"fmt"
	"strings"

	"github.com/cardinalhq/shardexport/internal/cipher"
	"github.com/cardinalhq/shardexport/internal/filewriter"
	"github.com/cardinalhq/shardexport/internal/mask"
	"github.com/cardinalhq/shardexport/internal/rowcodec"
)

// Way selects how rows are spread over output files.
type Way int

const (
	// WayDefault writes one file per shard with no line limit.
	WayDefault Way = iota
	// WayMaxLine writes one file sequence per shard, rotating every Limit rows.
	WayMaxLine
	// WayFixedFile writes exactly Limit files shared by all shards.
	WayFixedFile
)

func ParseWay(s string) (Way, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return WayDefault, nil
	case "max_line", "max_line_num_in_single_file":
		return WayMaxLine, nil
	case "fixed_file", "fixed_file_num":
		return WayFixedFile, nil
	default:
		return 0, fmt.Errorf("unknown export way %q", s)
	}
}

func (w Way) String() string {
	switch w {
	case WayDefault:
		return "default"
	case WayMaxLine:
		return "max_line"
	case WayFixedFile:
		return "fixed_file"
	default:
		return fmt.Sprintf("Way(%d)", int(w))
	}
}

// OrderMode selects who is responsible for global row order.
type OrderMode int

const (
	OrderNone OrderMode = iota
	// OrderDB pushes ORDER BY to a single query on the logical table.
	OrderDB
	// OrderLocalMerge streams every shard sorted and merges with a heap.
	OrderLocalMerge
	// OrderParallelMerge buffers every shard in memory and merges pairwise.
	OrderParallelMerge
)

func ParseOrderMode(s string) (OrderMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return OrderNone, nil
	case "db":
		return OrderDB, nil
	case "local_merge", "local":
		return OrderLocalMerge, nil
	case "parallel_merge", "parallel":
		return OrderParallelMerge, nil
	default:
		return 0, fmt.Errorf("unknown order mode %q", s)
	}
}

func (m OrderMode) String() string {
	switch m {
	case OrderNone:
		return "none"
	case OrderDB:
		return "db"
	case OrderLocalMerge:
		return "local_merge"
	case OrderParallelMerge:
		return "parallel_merge"
	default:
		return fmt.Sprintf("OrderMode(%d)", int(m))
	}
}

// DDLMode selects whether table definitions are exported.
type DDLMode int

const (
	DDLNone DDLMode = iota
	// DDLOnly exports table definitions and no rows.
	DDLOnly
	// DDLWith exports table definitions as well as rows.
	DDLWith
)

func ParseDDLMode(s string) (DDLMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return DDLNone, nil
	case "only":
		return DDLOnly, nil
	case "with":
		return DDLWith, nil
	default:
		return 0, fmt.Errorf("unknown ddl mode %q", s)
	}
}

func (m DDLMode) String() string {
	switch m {
	case DDLNone:
		return "none"
	case DDLOnly:
		return "only"
	case DDLWith:
		return "with"
	default:
		return fmt.Sprintf("DDLMode(%d)", int(m))
	}
}

type EncryptionConfig struct {
	Mode string `mapstructure:"mode"`
	Key  string `mapstructure:"key"`
}

// Config describes one export job.
type Config struct {
	Schema         string   `mapstructure:"schema"`
	Tables         []string `mapstructure:"tables"`
	Columns        []string `mapstructure:"columns"`
	Path           string   `mapstructure:"path"`
	FilenamePrefix string   `mapstructure:"filename_prefix"`

	Way string `mapstructure:"way"`
	// Limit is rows per file for max_line and the file count for fixed_file.
	Limit int    `mapstructure:"limit"`
	Where string `mapstructure:"where"`

	OrderBy   []string `mapstructure:"order_by"`
	OrderMode string   `mapstructure:"order_mode"`
	// VerifyOrder makes the local merge report shards whose rows arrive out of order.
	VerifyOrder bool `mapstructure:"verify_order"`
	Descending  bool `mapstructure:"descending"`

	// Parallelism bounds concurrently active shard readers. Zero means one per shard.
	Parallelism int `mapstructure:"parallelism"`

	Separator  string           `mapstructure:"separator"`
	Quote      string           `mapstructure:"quote"`
	WithHeader bool             `mapstructure:"with_header"`
	Format     string           `mapstructure:"format"`
	Compress   string           `mapstructure:"compress"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Masks      []mask.Config    `mapstructure:"masks"`

	BatchSize      int `mapstructure:"batch_size"`
	RingBufferSize int `mapstructure:"ring_buffer_size"`
	QueueSize      int `mapstructure:"queue_size"`

	FailOnShardError bool `mapstructure:"fail_on_shard_error"`
	// Sharding false exports the logical table through one unsharded query.
	Sharding          bool   `mapstructure:"sharding"`
	DDL               string `mapstructure:"ddl"`
	DropTableIfExists bool   `mapstructure:"drop_table_if_exists"`
}

const (
	DefaultBatchSize      = 200
	DefaultRingBufferSize = 1024
	DefaultQueueSize      = 1024
)

func DefaultConfig() Config {
	return Config{
		Path:           ".",
		Way:            "default",
		Separator:      ",",
		Quote:          "auto",
		Format:         "none",
		Compress:       "none",
		Encryption:     EncryptionConfig{Mode: "none"},
		BatchSize:      DefaultBatchSize,
		RingBufferSize: DefaultRingBufferSize,
		QueueSize:      DefaultQueueSize,
		Sharding:       true,
		DDL:            "none",
	}
}

// settings is Config with every enum parsed and the cipher built.
type settings struct {
	way         Way
	order       OrderMode
	ddl         DDLMode
	quote       rowcodec.QuoteMode
	format      filewriter.Format
	compression filewriter.Compression
	cipher      cipher.Cipher
}

// Validate reports the first configuration problem as a *ConfigError.
func (c Config) Validate() error {
	_, err := c.compile()
	return err
}

func (c Config) compile() (*settings, error) {
	s := &settings{}
	var err error

	if s.way, err = ParseWay(c.Way); err != nil {
		return nil, &ConfigError{Field: "way", Message: err.Error()}
	}
	if s.order, err = ParseOrderMode(c.OrderMode); err != nil {
		return nil, &ConfigError{Field: "order_mode", Message: err.Error()}
	}
	if s.order == OrderNone && len(c.OrderBy) > 0 && strings.TrimSpace(c.OrderMode) == "" {
		s.order = OrderDB
	}
	if s.ddl, err = ParseDDLMode(c.DDL); err != nil {
		return nil, &ConfigError{Field: "ddl", Message: err.Error()}
	}
	if s.quote, err = rowcodec.ParseQuoteMode(c.Quote); err != nil {
		return nil, &ConfigError{Field: "quote", Message: err.Error()}
	}
	if s.format, err = filewriter.ParseFormat(c.Format); err != nil {
		return nil, &ConfigError{Field: "format", Message: err.Error()}
	}
	if s.compression, err = filewriter.ParseCompression(c.Compress); err != nil {
		return nil, &ConfigError{Field: "compress", Message: err.Error()}
	}
	mode, err := cipher.ParseMode(c.Encryption.Mode)
	if err != nil {
		return nil, &ConfigError{Field: "encryption.mode", Message: err.Error()}
	}
	if s.cipher, err = cipher.New(mode, c.Encryption.Key); err != nil {
		return nil, &ConfigError{Field: "encryption.key", Message: err.Error(), Err: err}
	}

	switch {
	case c.Separator == "":
		return nil, &ConfigError{Field: "separator", Message: "cannot be empty"}
	case c.BatchSize <= 0:
		return nil, &ConfigError{Field: "batch_size", Message: "must be positive"}
	case c.RingBufferSize <= 0:
		return nil, &ConfigError{Field: "ring_buffer_size", Message: "must be positive"}
	case c.QueueSize <= 0:
		return nil, &ConfigError{Field: "queue_size", Message: "must be positive"}
	case c.Parallelism < 0:
		return nil, &ConfigError{Field: "parallelism", Message: "cannot be negative"}
	case s.way != WayDefault && c.Limit <= 0:
		return nil, &ConfigError{Field: "limit", Message: fmt.Sprintf("must be positive for way %s", s.way)}
	case s.cipher != nil && s.compression != filewriter.CompressionNone:
		return nil, &ConfigError{
			Field:   "compress",
			Message: "cannot be combined with encryption",
			Err:     ErrUnsupportedCombination,
		}
	case s.format == filewriter.FormatXLSX && (s.cipher != nil || s.compression != filewriter.CompressionNone):
		return nil, &ConfigError{
			Field:   "format",
			Message: "xlsx cannot be combined with compression or encryption",
			Err:     ErrUnsupportedCombination,
		}
	case s.way == WayFixedFile && s.order == OrderNone && s.format == filewriter.FormatXLSX:
		return nil, &ConfigError{
			Field:   "format",
			Message: "xlsx cannot be used with a fixed file count",
			Err:     ErrUnsupportedCombination,
		}
	case s.way == WayFixedFile && s.order == OrderNone && s.cipher != nil && !s.cipher.SupportsBlock():
		return nil, &ConfigError{
			Field:   "encryption.mode",
			Message: fmt.Sprintf("%s cannot be used with a fixed file count", mode),
			Err:     ErrUnsupportedCombination,
		}
	case s.order != OrderNone && len(c.OrderBy) == 0:
		return nil, &ConfigError{Field: "order_by", Message: fmt.Sprintf("required for order mode %s", s.order)}
	}
	return s, nil
}

// lineLimit is the per-file row cap implied by the way for per-shard output.
func (c Config) lineLimit(s *settings) int64 {
	if s.way == WayMaxLine {
		return int64(c.Limit)
	}
	return 0
}

// mergedLineLimit is the per-file row cap for strategies that write a single
// ordered stream. A fixed file count becomes a line limit using rowCount.
func (c Config) mergedLineLimit(s *settings, rowCount int64) int64 {
	switch s.way {
	case WayMaxLine:
		return int64(c.Limit)
	case WayFixedFile:
		if rowCount <= 0 {
			return 0
		}
		files := int64(c.Limit)
		return (rowCount + files - 1) / files
	default:
		return 0
	}
}
