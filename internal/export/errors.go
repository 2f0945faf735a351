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
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/shardexport/internal/tablemeta"
)

var (
	ErrUnsupportedCombination = errors.New("unsupported export configuration")
	ErrNoShards               = errors.New("table has no shards")
	ErrNotPowerOfTwo          = errors.New("parallel merge needs a power of two shard count")
)

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	return "export config: " + e.Field + " " + e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ShardError is the failure of one shard's pipeline.
type ShardError struct {
	Index int
	Shard tablemeta.Shard
	Err   error
}

func (e *ShardError) Error() string {
	return fmt.Sprintf("shard %d (%s): %v", e.Index, e.Shard, e.Err)
}

func (e *ShardError) Unwrap() error {
	return e.Err
}

// OrderViolationError reports a shard whose stream went backwards under the
// merge comparator. Row is the 1-based position within that shard.
type OrderViolationError struct {
	Index int
	Shard tablemeta.Shard
	Row   int64
}

func (e *OrderViolationError) Error() string {
	return fmt.Sprintf("shard %d (%s) is not sorted: row %d sorts before its predecessor", e.Index, e.Shard, e.Row)
}

// failures collects shard errors from concurrent workers.
type failures struct {
	mu  sync.Mutex
	err *multierror.Error
}

func (f *failures) add(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = multierror.Append(f.err, err)
}

// errorOrNil returns the aggregate, or nil when nothing failed.
func (f *failures) errorOrNil() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err.ErrorOrNil()
}
