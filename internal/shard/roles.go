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

	"github.com/eosin-platform/tilestore/internal/routing"
)

// RoleResult reports a soft accept/reject — a stale-epoch role transition is
// not an error, it is a rejection the caller (the control plane) observes
// and reacts to, matching the reference implementation's "accepted: false"
// responses rather than propagating an error value.
type RoleResult struct {
	Accepted bool
}

// MigrateFn dials the target shard's master and asks it to accept one tile.
// Supplied by the replication transport so this package stays transport-free.
type MigrateFn func(ctx context.Context, targetAddr string, sourceShard, targetShard uint32, configEpoch uint64, tw TileWrite) (accepted bool, err error)

// SyncFn opens a replication follower stream against a master address.
// Supplied by the replication transport.
type SyncFn func(ctx context.Context, e *Engine, masterAddr string)

var (
	migrateImpl MigrateFn
	syncImpl    SyncFn
)

// SetTransport wires the replication transport implementations. Called once
// at process startup (cmd/shard/main.go), the same way memcp wires a
// PersistenceFactory into the storage engine before use.
func SetTransport(migrate MigrateFn, sync SyncFn) {
	migrateImpl = migrate
	syncImpl = sync
}

// BecomeMaster transitions this shard to Master under shardID/epoch.
func (e *Engine) BecomeMaster(shardID string, epoch uint64) RoleResult {
	if e.cancelReplica != nil {
		e.cancelReplica()
		e.cancelReplica = nil
	}

	e.mu.Lock()
	if shardID != e.ShardID || epoch < e.epoch {
		e.mu.Unlock()
		return RoleResult{Accepted: false}
	}
	e.role = RoleMaster
	e.epoch = epoch
	e.masterAddr = ""
	e.mu.Unlock()

	e.startMigrationWorker()
	e.startCheckpointWorkerOnce()
	return RoleResult{Accepted: true}
}

// BecomeReplica transitions this shard to ReadReplica, following masterAddr.
func (e *Engine) BecomeReplica(shardID string, epoch uint64, masterAddr string) RoleResult {
	if e.cancelReplica != nil {
		e.cancelReplica()
		e.cancelReplica = nil
	}
	if e.cancelMigration != nil {
		e.cancelMigration()
		e.cancelMigration = nil
	}
	if e.cancelCheckpoint != nil {
		e.cancelCheckpoint()
		e.cancelCheckpoint = nil
	}

	e.mu.Lock()
	if shardID != e.ShardID || epoch < e.epoch {
		e.mu.Unlock()
		return RoleResult{Accepted: false}
	}
	e.role = RoleReadReplica
	e.epoch = epoch
	e.masterAddr = masterAddr
	e.migrationQueue = nil
	e.misplacedTiles = 0
	e.mu.Unlock()

	e.startReplicaWorker(masterAddr)
	return RoleResult{Accepted: true}
}

// InstallRoutingConfig accepts a new routing generation iff its config_epoch
// strictly exceeds the current one (spec §4.1 "Routing-config install").
func (e *Engine) InstallRoutingConfig(t *routing.Table) RoleResult {
	e.mu.Lock()
	if t.ConfigEpoch <= e.routing.ConfigEpoch {
		e.mu.Unlock()
		return RoleResult{Accepted: false}
	}
	e.routing = t
	e.migrationQueue = nil
	e.misplacedTiles = 0
	isMaster := e.role == RoleMaster
	e.mu.Unlock()

	if err := routing.Persist(e.DataRoot, t); err != nil {
		e.log.Error("persist routing config", err)
	}
	if isMaster {
		e.startMigrationWorker()
	}
	return RoleResult{Accepted: true}
}

func (e *Engine) startReplicaWorker(masterAddr string) {
	if syncImpl == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelReplica = cancel
	go syncImpl(ctx, e, masterAddr)
}
