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

// Package replication realizes the ReplicationService contract (spec §4.3,
// §6) over the teacher's own network idiom: net/http handlers plus a
// newline-delimited JSON stream for the one server-streaming call, the same
// "print one JSON object per line, flush" idea scm/network.go's jsonl
// response helper uses for query rows — generalized here to replication
// events instead of result rows.
package replication

import (
	"github.com/google/uuid"

	"github.com/eosin-platform/tilestore/internal/shard"
)

type eventType string

const (
	eventReject     eventType = "reject"
	eventSnapshot   eventType = "snapshot"
	eventLogBatch   eventType = "log_batch"
	eventHeartbeat  eventType = "heartbeat"
)

type wireEntry struct {
	Offset uint64 `json:"offset,omitempty"`
	ID     string `json:"id"`
	Level  uint32 `json:"level"`
	X      uint32 `json:"x"`
	Y      uint32 `json:"y"`
	Data   []byte `json:"data"`
}

type syncEvent struct {
	Type           eventType   `json:"type"`
	Reason         string      `json:"reason,omitempty"`
	SnapshotOffset uint64      `json:"snapshot_offset,omitempty"`
	CurrentOffset  uint64      `json:"current_offset,omitempty"`
	Epoch          uint64      `json:"epoch,omitempty"`
	Entries        []wireEntry `json:"entries,omitempty"`
}

type syncRequest struct {
	ShardID    string `json:"shard_id"`
	Epoch      uint64 `json:"epoch"`
	LastOffset uint64 `json:"last_offset"`
}

type migrateRequest struct {
	SourceShard uint32    `json:"source_shard"`
	TargetShard uint32    `json:"target_shard"`
	ConfigEpoch uint64    `json:"config_epoch"`
	Entry       wireEntry `json:"entry"`
}

type migrateResponse struct {
	Accepted bool `json:"accepted"`
}

func entryToWire(e shard.LogEntry) wireEntry {
	return wireEntry{
		Offset: e.Offset,
		ID:     e.Write.Key.ID.String(),
		Level:  e.Write.Key.Level,
		X:      e.Write.Key.X,
		Y:      e.Write.Key.Y,
		Data:   e.Write.Data,
	}
}

func tileWriteToWire(tw shard.TileWrite) wireEntry {
	return wireEntry{
		ID:    tw.Key.ID.String(),
		Level: tw.Key.Level,
		X:     tw.Key.X,
		Y:     tw.Key.Y,
		Data:  tw.Data,
	}
}

func wireToLogEntry(w wireEntry) (shard.LogEntry, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return shard.LogEntry{}, err
	}
	return shard.LogEntry{
		Offset: w.Offset,
		Write: shard.TileWrite{
			Key:  shard.TileKey{ID: id, Level: w.Level, X: w.X, Y: w.Y},
			Data: w.Data,
		},
	}, nil
}

func wireToTileWrite(w wireEntry) (shard.TileWrite, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return shard.TileWrite{}, err
	}
	return shard.TileWrite{Key: shard.TileKey{ID: id, Level: w.Level, X: w.X, Y: w.Y}, Data: w.Data}, nil
}
