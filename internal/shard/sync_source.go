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

// SyncPlan is what the master decides to send a requesting replica: either a
// full snapshot (the replica fell out of the backlog window) or a sequence
// of log batches, always followed by a heartbeat (spec §4.3).
type SyncPlan struct {
	NeedsSnapshot  bool
	SnapshotOffset uint64
	SnapshotItems  []TileWrite
	Batches        [][]LogEntry
	CurrentOffset  uint64
}

const logBatchSize = 128

// ValidateSyncRequest implements the Reject conditions of spec §4.3: shard
// id mismatch, node not master, or epoch difference.
func (e *Engine) ValidateSyncRequest(shardID string, epoch uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return shardID == e.ShardID && e.role == RoleMaster && epoch == e.epoch
}

// PlanSync decides snapshot-vs-log-batches for a replica reporting lastOffset.
func (e *Engine) PlanSync(lastOffset uint64) SyncPlan {
	e.mu.RLock()
	defer e.mu.RUnlock()

	oldestBacklog := e.currentOffset
	if len(e.backlog) > 0 {
		oldestBacklog = e.backlog[0].Offset
	}

	if lastOffset+1 < oldestBacklog || (len(e.backlog) == 0 && lastOffset < e.currentOffset) {
		items := make([]TileWrite, 0, len(e.snapshot))
		for key, body := range e.snapshot {
			items = append(items, TileWrite{Key: key, Data: body})
		}
		return SyncPlan{NeedsSnapshot: true, SnapshotOffset: e.currentOffset, SnapshotItems: items, CurrentOffset: e.currentOffset}
	}

	var pending []LogEntry
	for _, entry := range e.backlog {
		if entry.Offset > lastOffset {
			pending = append(pending, entry)
		}
	}
	var batches [][]LogEntry
	for len(pending) > 0 {
		n := logBatchSize
		if n > len(pending) {
			n = len(pending)
		}
		batches = append(batches, pending[:n])
		pending = pending[n:]
	}
	return SyncPlan{Batches: batches, CurrentOffset: e.currentOffset}
}
