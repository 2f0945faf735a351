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

// Package ringbuffer is a fixed set of reusable slots shared by many
// producers and many consumers.
//
// A slot moves through claim (Next), fill (Get), publish (Publish),
// consume (Take, Get) and release (Done). Producers block while every
// slot is claimed; consumers block while nothing is published.
package ringbuffer

import (
	"context"
	"sync"
)

type Buffer[T any] struct {
	slots []T
	free  chan int
	ready chan int
	once  sync.Once
}

// New allocates size slots, each initialized by newSlot.
func New[T any](size int, newSlot func() T) *Buffer[T] {
	if size <= 0 {
		size = 1
	}
	b := &Buffer[T]{
		slots: make([]T, size),
		free:  make(chan int, size),
		ready: make(chan int, size),
	}
	for i := range b.slots {
		if newSlot != nil {
			b.slots[i] = newSlot()
		}
		b.free <- i
	}
	return b
}

// Size returns the number of slots.
func (b *Buffer[T]) Size() int {
	return len(b.slots)
}

// Next claims a free slot, waiting until one is released or ctx ends.
func (b *Buffer[T]) Next(ctx context.Context) (int, error) {
	select {
	case seq := <-b.free:
		return seq, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Get returns the slot for seq. Only the current owner of seq may touch it.
func (b *Buffer[T]) Get(seq int) *T {
	return &b.slots[seq]
}

// Publish hands a filled slot to consumers. It never blocks.
func (b *Buffer[T]) Publish(seq int) {
	b.ready <- seq
}

// Take waits for a published slot. ok is false once the buffer is halted and
// every published slot has been taken.
func (b *Buffer[T]) Take(ctx context.Context) (seq int, ok bool, err error) {
	select {
	case seq, ok := <-b.ready:
		if !ok {
			return -1, false, nil
		}
		return seq, true, nil
	case <-ctx.Done():
		return -1, false, ctx.Err()
	}
}

// Done releases a consumed slot for reuse.
func (b *Buffer[T]) Done(seq int) {
	b.free <- seq
}

// Halt tells consumers no more slots will be published. It must only be
// called after every producer has returned.
func (b *Buffer[T]) Halt() {
	b.once.Do(func() { close(b.ready) })
}
