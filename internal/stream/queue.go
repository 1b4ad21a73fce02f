/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package stream

import (
	"container/heap"
	"sync"

	"github.com/google/uuid"
)

// RetrieveTileWork is one queued fetch, carrying a shared handle to its
// slot's viewport and cancellation token rather than a copy (spec §9
// "cyclic ownership": the connection owns both, work items only borrow).
type RetrieveTileWork struct {
	Coord   TileCoord
	Slot    *Slot
	SlideID uuid.UUID
	seq     uint64
}

type workHeap []RetrieveTileWork

func (h workHeap) Len() int { return len(h) }

// Less orders by (level desc, seq asc): coarser tiles first, FIFO among
// equal levels (spec §8 property 8, "coarse-first ordering").
func (h workHeap) Less(i, j int) bool {
	if h[i].Coord.Level != h[j].Coord.Level {
		return h[i].Coord.Level > h[j].Coord.Level
	}
	return h[i].seq < h[j].seq
}

func (h workHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *workHeap) Push(x any) {
	*h = append(*h, x.(RetrieveTileWork))
}

func (h *workHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is the shared max-heap work queue (spec §4.5 "Priority work
// queue"). Push and Close are non-blocking; Pop suspends until work is
// available or the queue closes, woken by a single notifier channel in
// the style of scm's Scheduler.
type Queue struct {
	mu     sync.Mutex
	items  workHeap
	nextSeq uint64
	wakeCh chan struct{}
	closed bool
}

func NewQueue() *Queue {
	q := &Queue{wakeCh: make(chan struct{}, 1)}
	heap.Init(&q.items)
	return q
}

// Push enqueues one work item, non-blocking.
func (q *Queue) Push(coord TileCoord, slot *Slot, slideID uuid.UUID) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.nextSeq++
	heap.Push(&q.items, RetrieveTileWork{Coord: coord, Slot: slot, SlideID: slideID, seq: q.nextSeq})
	q.signalLocked()
	q.mu.Unlock()
}

// Pop blocks until an item is available or the queue closes, in which
// case it returns (_, false). It takes no context: a blocked Pop is
// released only by a Push or by Close.
func (q *Queue) Pop() (RetrieveTileWork, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := heap.Pop(&q.items).(RetrieveTileWork)
			q.mu.Unlock()
			return item, true
		}
		if q.closed {
			q.mu.Unlock()
			return RetrieveTileWork{}, false
		}
		wake := q.wakeCh
		q.mu.Unlock()
		<-wake
	}
}

// Close drains every waiter with (_, false) and refuses further pushes.
// Closing wakeCh rather than sending one token wakes every blocked Pop at
// once, not just the next one in line (spec §4.5 "closing the queue drains
// waiters with None").
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.wakeCh)
	q.mu.Unlock()
}

func (q *Queue) signalLocked() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}
