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

package shard

import (
	"context"
	"strconv"
	"time"
)

const (
	migrationScanErrorDelay = 300 * time.Millisecond
	migrationEmptyDelay     = 250 * time.Millisecond
	migrationMaxAttempts    = 20
	migrationBackoffUnit    = 100 * time.Millisecond
)

// startMigrationWorker ensures exactly one migration background goroutine is
// running for this shard while it is master (spec §4.1 "background worker").
func (e *Engine) startMigrationWorker() {
	if e.cancelMigration != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelMigration = cancel
	go e.migrationLoop(ctx)
}

func (e *Engine) migrationLoop(ctx context.Context) {
	defer e.log.Recover("migration loop")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e.mu.RLock()
		isMaster := e.role == RoleMaster
		queueLen := len(e.migrationQueue)
		e.mu.RUnlock()
		if !isMaster {
			return
		}

		if queueLen == 0 {
			if err := e.scanMisplacedTiles(); err != nil {
				e.log.Error("scan misplaced tiles", err)
				sleepOrDone(ctx, migrationScanErrorDelay)
				continue
			}
		}

		task, ok := e.popMigrationTask()
		if !ok {
			sleepOrDone(ctx, migrationEmptyDelay)
			continue
		}

		ok, err := e.migrateOne(ctx, task.Key)
		if err != nil || !ok {
			task.Attempts++
			backoff := migrationBackoffUnit * time.Duration(min(task.Attempts, migrationMaxAttempts))
			e.pushMigrationTask(task)
			sleepOrDone(ctx, backoff)
			continue
		}
		e.mu.Lock()
		if e.misplacedTiles > 0 {
			e.misplacedTiles--
		}
		e.mu.Unlock()
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// scanMisplacedTiles walks local storage and enqueues every tile whose
// current routing owner is not this shard.
func (e *Engine) scanMisplacedTiles() error {
	e.mu.RLock()
	rt := e.routing
	e.mu.RUnlock()

	var misplaced []MigrationTask
	err := e.store.Walk(func(key TileKey) error {
		if rt.OwnerForTile(key.ID, key.X, key.Y, key.Level) != e.shardIndex {
			misplaced = append(misplaced, MigrationTask{Key: key})
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.migrationQueue = misplaced
	e.misplacedTiles = uint64(len(misplaced))
	e.mu.Unlock()
	return nil
}

func (e *Engine) popMigrationTask() (MigrationTask, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.migrationQueue) == 0 {
		return MigrationTask{}, false
	}
	task := e.migrationQueue[0]
	e.migrationQueue = e.migrationQueue[1:]
	return task, true
}

func (e *Engine) pushMigrationTask(task MigrationTask) {
	e.mu.Lock()
	e.migrationQueue = append(e.migrationQueue, task)
	e.mu.Unlock()
}

// migrateOne moves one tile to its correct owner. Returns (true, nil) on
// success or trivial success (already correctly owned, or source already
// gone); (false, nil) on a retryable condition (unreachable/rejecting
// target); (_, err) on a hard local error.
func (e *Engine) migrateOne(ctx context.Context, key TileKey) (bool, error) {
	e.mu.RLock()
	role, rt, configEpoch, shardIdx := e.role, e.routing, e.routing.ConfigEpoch, e.shardIndex
	e.mu.RUnlock()
	if role != RoleMaster {
		return false, nil
	}
	owner := rt.OwnerForTile(key.ID, key.X, key.Y, key.Level)
	if owner == shardIdx {
		return true, nil
	}

	body, err := e.store.Read(key)
	if err == ErrNotAvailable {
		return true, nil
	}
	if err != nil {
		return false, nil
	}

	addr, ok := rt.MasterAddr(formatShardID(owner))
	if !ok || migrateImpl == nil {
		return false, nil
	}
	accepted, err := migrateImpl(ctx, addr, shardIdx, owner, configEpoch, TileWrite{Key: key, Data: body})
	if err != nil || !accepted {
		return false, nil
	}
	if err := e.store.Delete(key); err != nil {
		return false, err
	}
	return true, nil
}

// AcceptMigratedTile is the target-master side of MigrateTile (spec §4.1
// "MigrateTile acceptance").
func (e *Engine) AcceptMigratedTile(configEpoch uint64, tw TileWrite) RoleResult {
	e.mu.RLock()
	role, rt, localEpoch, shardIdx := e.role, e.routing, e.routing.ConfigEpoch, e.shardIndex
	e.mu.RUnlock()

	if role != RoleMaster {
		return RoleResult{Accepted: false}
	}
	if rt.OwnerForTile(tw.Key.ID, tw.Key.X, tw.Key.Y, tw.Key.Level) != shardIdx {
		return RoleResult{Accepted: false}
	}
	if configEpoch < localEpoch {
		return RoleResult{Accepted: false}
	}
	if err := e.store.Write(tw.Key, tw.Data); err != nil {
		e.log.Error("accept migrated tile", err)
		return RoleResult{Accepted: false}
	}
	return RoleResult{Accepted: true}
}

func formatShardID(idx uint32) string {
	return strconv.FormatUint(uint64(idx), 10)
}
