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
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"
)

// sentEntry is one (tile_key -> delivered) record in a slot's dedup map,
// ordered by (level, y, x). ClearCache drops the whole tree at once
// (spec §9 open question: no eviction policy was specified; ClearCache is
// the one implied trigger).
type sentEntry struct {
	key       TileCoord
	delivered bool
}

func lessSentEntry(a, b sentEntry) bool {
	if a.key.Level != b.key.Level {
		return a.key.Level < b.key.Level
	}
	if a.key.Y != b.key.Y {
		return a.key.Y < b.key.Y
	}
	return a.key.X < b.key.X
}

// Slot is one of the small fixed number of per-connection viewport slots
// (spec §4.5).
type Slot struct {
	Index int

	mu       sync.RWMutex
	slideID  uuid.UUID
	desc     ImageDesc
	viewport Viewport
	opened   bool

	sentMu sync.RWMutex
	sent   *btree.BTreeG[sentEntry]

	parent context.Context
	cancel context.CancelFunc
	ctx    context.Context
}

func NewSlot(index int, parent context.Context) *Slot {
	ctx, cancel := context.WithCancel(parent)
	return &Slot{
		Index:  index,
		sent:   btree.NewG[sentEntry](8, lessSentEntry),
		parent: parent,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Slot) Open(id uuid.UUID, desc ImageDesc) {
	s.mu.Lock()
	// Re-opening resets cancellation and clears any prior slide's dedup
	// state so stale tiles from a previously opened slide never re-send.
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(s.parent)
	s.slideID = id
	s.desc = desc
	s.opened = true
	s.mu.Unlock()
	s.ClearSent()
}

func (s *Slot) SetViewport(v Viewport) {
	s.mu.Lock()
	s.viewport = v
	s.mu.Unlock()
}

func (s *Slot) Snapshot() (uuid.UUID, ImageDesc, Viewport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slideID, s.desc, s.viewport, s.opened
}

func (s *Slot) Context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

// Close cancels the slot's token; queued work observes it on their next
// cancellation check and drops (spec §9 "cyclic ownership").
func (s *Slot) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
}

// MarkDelivered records that tile has been sent; no-op if already marked.
func (s *Slot) MarkDelivered(key TileCoord) {
	s.sentMu.Lock()
	s.sent.ReplaceOrInsert(sentEntry{key: key, delivered: true})
	s.sentMu.Unlock()
}

// AlreadySent reports whether tile has a sent-map entry at all (present
// implies delivered, since entries are only inserted on successful send).
func (s *Slot) AlreadySent(key TileCoord) bool {
	s.sentMu.RLock()
	defer s.sentMu.RUnlock()
	_, ok := s.sent.Get(sentEntry{key: key})
	return ok
}

// ClearSent empties the dedup map; used on ClearCache and on re-Open.
func (s *Slot) ClearSent() {
	s.sentMu.Lock()
	s.sent = btree.NewG[sentEntry](8, lessSentEntry)
	s.sentMu.Unlock()
}
