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
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/eosin-platform/tilestore/internal/logging"
	"github.com/eosin-platform/tilestore/internal/shard"
	"github.com/eosin-platform/tilestore/internal/waitregistry"
)

// TileFetcher is the shard engine's read path, reached either in-process
// or over the StorageApi transport depending on deployment.
type TileFetcher interface {
	FetchTile(ctx context.Context, id uuid.UUID, x, y, level uint32) ([]byte, error)
}

// Sender writes one outbound WebSocket frame for a connection. Send must
// be safe to race against a cancelled context: cancellation wins if it
// fires first, but a send already past its last visibility re-check must
// still be allowed to complete (spec §4.5 step 6, §8 property 9).
type Sender interface {
	Send(frame []byte) error
}

// WorkerPool drains a Queue with a fixed number of workers (spec §4.5
// "Worker loop"). Fetches are deduplicated across every connection sharing
// this pool's Waits registry (spec §4.7): two viewers paging in the same
// tile at the same moment share one FetchTile call instead of issuing two.
type WorkerPool struct {
	Queue   *Queue
	Fetcher TileFetcher
	Log     *logging.Logger
	Waits   *waitregistry.Registry

	wg sync.WaitGroup
}

func NewWorkerPool(q *Queue, fetcher TileFetcher, waits *waitregistry.Registry, log *logging.Logger) *WorkerPool {
	return &WorkerPool{Queue: q, Fetcher: fetcher, Waits: waits, Log: log}
}

// Start launches n workers; they run until the queue closes.
func (p *WorkerPool) Start(n int, sender Sender) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.run(sender)
	}
}

func (p *WorkerPool) Wait() { p.wg.Wait() }

func (p *WorkerPool) run(sender Sender) {
	defer p.wg.Done()
	defer p.Log.Recover("stream worker")
	for {
		work, ok := p.Queue.Pop()
		if !ok {
			return
		}
		p.process(work, sender)
	}
}

// process implements the six-step worker loop verbatim from spec §4.5.
func (p *WorkerPool) process(work RetrieveTileWork, sender Sender) {
	slot := work.Slot

	// 1. Cancellation check.
	if slot.Context().Err() != nil {
		return
	}

	// 2. Visibility re-check against the latest viewport.
	if !p.isVisible(work) {
		return
	}

	// 3. Fetch; not-available is silently dropped.
	id, desc, _, opened := slot.Snapshot()
	if !opened || id != work.SlideID {
		return
	}
	body, err := p.fetchDeduped(slot.Context(), id, work.Coord)
	if err != nil {
		if errors.Is(err, shard.ErrNotAvailable) {
			return
		}
		p.Log.Error("fetch tile", err)
		return
	}
	_ = desc

	// 4. Re-check visibility: the viewport may have moved mid-fetch.
	if !p.isVisible(work) {
		return
	}

	// 5. Dedup: drop if another worker already delivered this tile.
	if slot.AlreadySent(work.Coord) {
		return
	}

	// 6. Race the send against cancellation; mark delivered only on
	// success.
	frame := EncodeTileData(byte(slot.Index), work.Coord.X, work.Coord.Y, work.Coord.Level, body)
	done := make(chan error, 1)
	go func() { done <- sender.Send(frame) }()
	select {
	case <-slot.Context().Done():
		return
	case err := <-done:
		if err == nil {
			slot.MarkDelivered(work.Coord)
		}
	}
}

// fetchDeduped joins an in-flight fetch for the same (slide, x, y, level)
// if one exists, rather than issuing a redundant FetchTile call. The
// subject string carries no viewer identity, only the tile key, so
// concurrent requests from different connections for the same tile
// coalesce even though each has its own Slot and Queue.
func (p *WorkerPool) fetchDeduped(ctx context.Context, id uuid.UUID, coord TileCoord) ([]byte, error) {
	if p.Waits == nil {
		return p.Fetcher.FetchTile(ctx, id, coord.X, coord.Y, coord.Level)
	}
	subject := fmt.Sprintf("%s/%d/%d/%d", id, coord.Level, coord.X, coord.Y)
	res, ok := p.Waits.Wait(subject, func() (any, error) {
		return p.Fetcher.FetchTile(ctx, id, coord.X, coord.Y, coord.Level)
	})
	if !ok {
		return nil, errors.New("stream: wait registry closed")
	}
	if res.Err != nil {
		return nil, res.Err
	}
	body, _ := res.Value.([]byte)
	return body, nil
}

func (p *WorkerPool) isVisible(work RetrieveTileWork) bool {
	_, desc, vp, opened := work.Slot.Snapshot()
	if !opened {
		return false
	}
	minLevel := MinLevel(vp, desc.LevelCount)
	if work.Coord.Level < minLevel {
		return false
	}
	return IsTileInViewport(desc, work.Coord.Level, work.Coord.X, work.Coord.Y, vp)
}
