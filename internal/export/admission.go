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
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Admission bounds how many shard workers are active at once. It also tracks
// the highest concurrency it has observed. A nil *Admission admits everyone.
type Admission struct {
	sem    *semaphore.Weighted
	limit  int
	active atomic.Int64
	peak   atomic.Int64
}

func NewAdmission(limit int) *Admission {
	if limit <= 0 {
		limit = 1
	}
	return &Admission{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

func (a *Admission) Limit() int {
	if a == nil {
		return 0
	}
	return a.limit
}

// Acquire blocks until a permit is free or ctx is done.
func (a *Admission) Acquire(ctx context.Context) error {
	if a == nil {
		return nil
	}
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	n := a.active.Add(1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			return nil
		}
	}
}

func (a *Admission) Release() {
	if a == nil {
		return
	}
	a.active.Add(-1)
	a.sem.Release(1)
}

// Active returns the number of permits currently held.
func (a *Admission) Active() int64 {
	if a == nil {
		return 0
	}
	return a.active.Load()
}

// Peak returns the most permits ever held at the same time.
func (a *Admission) Peak() int64 {
	if a == nil {
		return 0
	}
	return a.peak.Load()
}
