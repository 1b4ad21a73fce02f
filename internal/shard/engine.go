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

// Package shard is the shard engine: one shard's local tile persistence,
// replication log, routing, and migration state (spec §4.1). The runtime
// struct is the single source of truth for one shard; readers take a read
// lock, writers a write lock, and no suspension (disk I/O, network I/O)
// ever happens while the write lock is held.
package shard

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/eosin-platform/tilestore/internal/logging"
	"github.com/eosin-platform/tilestore/internal/routing"
)

// Engine owns one shard's on-disk data and in-memory runtime state.
type Engine struct {
	ShardID         string
	shardIndex      uint32
	DataRoot        string
	store           TileStore
	backlogCapacity int
	log             *logging.Logger

	mu                sync.RWMutex
	role              Role
	epoch             uint64
	currentOffset     uint64
	appliedOffset     uint64
	knownMasterOffset uint64
	backlog           []LogEntry
	snapshot          map[TileKey][]byte
	masterAddr        string
	lastHeartbeat     time.Time
	routing           *routing.Table
	migrationQueue    []MigrationTask
	misplacedTiles    uint64

	cancelReplica    func()
	cancelMigration  func()
	cancelCheckpoint func()
}

// New constructs a shard engine whose routing table is loaded from disk if a
// previous run persisted one, so a restarted master resumes migration
// without waiting for the controller to push config again (spec §9).
func New(shardID string, dataRoot string, store TileStore, backlogCapacity int, log *logging.Logger) (*Engine, error) {
	idx, err := strconv.ParseUint(shardID, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("shard: shard id %q is not numeric: %w", shardID, err)
	}
	rt, err := routing.Load(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("shard: load routing config: %w", err)
	}
	if rt == nil {
		rt = routing.New()
	}
	e := &Engine{
		ShardID:         shardID,
		shardIndex:      uint32(idx),
		DataRoot:        dataRoot,
		store:           store,
		backlogCapacity: backlogCapacity,
		log:             log,
		snapshot:        make(map[TileKey][]byte),
		routing:         rt,
	}
	if rec, ok := loadCheckpoint(dataRoot); ok {
		for _, key := range rec.Keys {
			if body, err := store.Read(key); err == nil {
				e.snapshot[key] = body
			}
		}
		e.currentOffset = rec.Offset
		e.appliedOffset = rec.Offset
		log.Printf("primed from checkpoint: offset=%d keys=%d", rec.Offset, len(rec.Keys))
	}
	return e, nil
}

// Write is the master write path (spec §4.1 "Write path (master only)").
func (e *Engine) Write(key TileKey, body []byte) error {
	e.mu.RLock()
	role, epoch, rt := e.role, e.epoch, e.routing
	e.mu.RUnlock()

	if role != RoleMaster || epoch == 0 {
		return ErrPrecondition
	}
	if rt.OwnerForTile(key.ID, key.X, key.Y, key.Level) != e.shardIndex {
		return ErrPrecondition
	}

	// disk I/O happens with no lock held.
	if err := e.store.Write(key, body); err != nil {
		return err
	}

	e.mu.Lock()
	offset := e.currentOffset + 1
	e.currentOffset = offset
	e.appliedOffset = offset
	e.snapshot[key] = body
	e.backlog = append(e.backlog, LogEntry{Offset: offset, Write: TileWrite{Key: key, Data: body}})
	if len(e.backlog) > e.backlogCapacity {
		e.backlog = e.backlog[len(e.backlog)-e.backlogCapacity:]
	}
	e.mu.Unlock()
	return nil
}

// Read is available on any role: master or replica, local disk only.
func (e *Engine) Read(key TileKey) ([]byte, error) {
	return e.store.Read(key)
}

// ApplyReplicatedWrite applies one log entry received from the master
// (replica only).
func (e *Engine) ApplyReplicatedWrite(entry LogEntry) error {
	if err := e.store.Write(entry.Write.Key, entry.Write.Data); err != nil {
		return err
	}
	e.mu.Lock()
	if entry.Offset > e.appliedOffset {
		e.appliedOffset = entry.Offset
	}
	if entry.Offset > e.currentOffset {
		e.currentOffset = entry.Offset
	}
	if entry.Offset > e.knownMasterOffset {
		e.knownMasterOffset = entry.Offset
	}
	e.snapshot[entry.Write.Key] = entry.Write.Data
	e.lastHeartbeat = time.Now()
	e.mu.Unlock()
	return nil
}

// ApplyHeartbeat advances known_master_offset without touching state.
func (e *Engine) ApplyHeartbeat(offset uint64) {
	e.mu.Lock()
	if offset > e.knownMasterOffset {
		e.knownMasterOffset = offset
	}
	e.lastHeartbeat = time.Now()
	e.mu.Unlock()
}

// ApplyFullSnapshot overwrites the snapshot map wholesale (replica only,
// used after a backlog gap).
func (e *Engine) ApplyFullSnapshot(offset uint64, entries []TileWrite) error {
	for _, tw := range entries {
		if err := e.store.Write(tw.Key, tw.Data); err != nil {
			return err
		}
	}
	next := make(map[TileKey][]byte, len(entries))
	for _, tw := range entries {
		next[tw.Key] = tw.Data
	}
	e.mu.Lock()
	e.snapshot = next
	e.appliedOffset = offset
	e.currentOffset = offset
	e.knownMasterOffset = offset
	e.backlog = nil
	e.lastHeartbeat = time.Now()
	e.mu.Unlock()
	return nil
}

// Epoch/role/routing accessors used by replication and control transports.
func (e *Engine) Epoch() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epoch
}

func (e *Engine) Role() Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role
}

func (e *Engine) RoutingTable() *routing.Table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.routing
}

func (e *Engine) MasterAddr() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.masterAddr
}

// AppliedOffsetForSync reports the offset a replica-follower worker should
// present as last_offset on its next Sync request.
func (e *Engine) AppliedOffsetForSync() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.appliedOffset
}

// Status builds the GetShardStatus response.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	lag := uint64(0)
	if e.knownMasterOffset > e.appliedOffset {
		lag = e.knownMasterOffset - e.appliedOffset
	}
	return Status{
		ShardID:           e.ShardID,
		Role:              e.role,
		Epoch:             e.epoch,
		CurrentOffset:     e.currentOffset,
		AppliedOffset:     e.appliedOffset,
		KnownMasterOffset: e.knownMasterOffset,
		ReplicationLag:    lag,
		ConfigEpoch:       e.routing.ConfigEpoch,
		MigrationQueueLen: len(e.migrationQueue),
		MisplacedTiles:    e.misplacedTiles,
		LastHeartbeat:     e.lastHeartbeat,
		Ready:             true,
	}
}
