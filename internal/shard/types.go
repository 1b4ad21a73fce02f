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
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role is the tagged-variant state of a shard runtime (spec §9,
// "polymorphism over storage modes"): a shard is never both at once, and
// role transitions stop/start background workers as a side effect.
type Role int

const (
	RoleNone Role = iota
	RoleMaster
	RoleReadReplica
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleReadReplica:
		return "replica"
	default:
		return "none"
	}
}

// TileKey identifies one tile body.
type TileKey struct {
	ID    uuid.UUID
	Level uint32
	X     uint32
	Y     uint32
}

// TileWrite is one committed tile body.
type TileWrite struct {
	Key  TileKey
	Data []byte
}

// LogEntry is one offset-stamped write in a shard's replication log.
type LogEntry struct {
	Offset uint64
	Write  TileWrite
}

// MigrationTask is one pending tile relocation to a new owning shard.
type MigrationTask struct {
	Key      TileKey
	Attempts int
}

// Status is the read-only snapshot returned by GetShardStatus.
type Status struct {
	ShardID           string
	Role              Role
	Epoch             uint64
	CurrentOffset     uint64
	AppliedOffset     uint64
	KnownMasterOffset uint64
	ReplicationLag    uint64
	ConfigEpoch       uint64
	MigrationQueueLen int
	MisplacedTiles    uint64
	LastHeartbeat     time.Time
	Ready             bool
}

// Sentinel errors, matching spec §7's taxonomy.
var (
	// ErrNotAvailable signals a read miss. Not an error condition to the
	// caller: the streaming scheduler drops the work item silently.
	ErrNotAvailable = errors.New("tile not available")
	// ErrPrecondition covers "write when not master", stale epoch, and
	// "wrong owner under current config_epoch" — never retried locally.
	ErrPrecondition = errors.New("precondition failed")
	ErrStaleEpoch   = errors.New("stale epoch")
	ErrMalformed    = errors.New("malformed input")
)
