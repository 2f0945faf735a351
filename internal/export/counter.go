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
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Counters are shared by every worker of one table export.
//
// Emitted counts the units producers hand to the output stage: batches for
// block writes, rows for row-at-a-time writes and merges. Drained counts the
// units the output stage took back off. They differ only when a stage stops
// early and leaves work queued.
type Counters struct {
	Emitted     atomic.Int64
	Drained     atomic.Int64
	RowsRead    atomic.Int64
	RowsWritten atomic.Int64
	ShardErrors atomic.Int64
}

// Pending returns the units emitted but never drained.
func (c *Counters) Pending() int64 {
	return c.Emitted.Load() - c.Drained.Load()
}

// CyclicCounter hands out 0, 1, ..., n-1, 0, 1, ... to concurrent callers.
type CyclicCounter struct {
	n   int64
	cur atomic.Int64
}

func NewCyclicCounter(n int) *CyclicCounter {
	if n <= 0 {
		n = 1
	}
	return &CyclicCounter{n: int64(n)}
}

// Next returns the current value and advances it. A lost compare-and-swap
// is retried after an exponentially growing pause.
func (c *CyclicCounter) Next() int {
	var bo *backoff.ExponentialBackOff
	for {
		v := c.cur.Load()
		if c.cur.CompareAndSwap(v, (v+1)%c.n) {
			return int(v)
		}
		if bo == nil {
			bo = &backoff.ExponentialBackOff{
				InitialInterval:     time.Microsecond,
				RandomizationFactor: backoff.DefaultRandomizationFactor,
				Multiplier:          backoff.DefaultMultiplier,
				MaxInterval:         time.Millisecond,
			}
			bo.Reset()
		}
		time.Sleep(bo.NextBackOff())
	}
}
