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

package ringbuffer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slot struct {
	value int
}

func TestProducersAndConsumersExchangeEveryValue(t *testing.T) {
	ctx := context.Background()
	b := New(4, func() slot { return slot{} })

	const producers, perProducer, consumers = 3, 500, 2
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				seq, err := b.Next(ctx)
				if !assert.NoError(t, err) {
					return
				}
				b.Get(seq).value = p*perProducer + i
				b.Publish(seq)
			}
		}()
	}

	var sum atomic.Int64
	var count atomic.Int64
	var cwg sync.WaitGroup
	for range consumers {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				seq, ok, err := b.Take(ctx)
				if !assert.NoError(t, err) || !ok {
					return
				}
				sum.Add(int64(b.Get(seq).value))
				count.Add(1)
				b.Done(seq)
			}
		}()
	}

	wg.Wait()
	b.Halt()
	cwg.Wait()

	n := int64(producers * perProducer)
	assert.Equal(t, n, count.Load())
	assert.Equal(t, n*(n-1)/2, sum.Load())
}

func TestNextBlocksWhenFull(t *testing.T) {
	b := New[slot](2, nil)
	ctx := context.Background()
	for range 2 {
		seq, err := b.Next(ctx)
		require.NoError(t, err)
		b.Publish(seq)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := b.Next(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	seq, ok, err := b.Take(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	b.Done(seq)

	_, err = b.Next(ctx)
	assert.NoError(t, err)
}

func TestTakeAfterHaltDrains(t *testing.T) {
	b := New[slot](2, nil)
	ctx := context.Background()
	seq, err := b.Next(ctx)
	require.NoError(t, err)
	b.Publish(seq)
	b.Halt()
	b.Halt()

	_, ok, err := b.Take(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = b.Take(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
