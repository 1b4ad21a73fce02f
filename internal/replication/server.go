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

package replication

import (
	"encoding/json"
	"net/http"

	lz4 "github.com/pierrec/lz4/v4"

	"github.com/eosin-platform/tilestore/internal/logging"
	"github.com/eosin-platform/tilestore/internal/shard"
)

// Server exposes ReplicationService over HTTP.
type Server struct {
	Engine *shard.Engine
	Log    *logging.Logger
}

func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/replication/sync", s.handleSync)
	mux.HandleFunc("/replication/migrate_tile", s.handleMigrateTile)
}

// handleSync answers one replica-follower sync request as a finite sequence
// of newline-delimited JSON events, lz4-compressed on the wire, ending with
// a heartbeat, then closes the response (spec §4.3).
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	defer s.Log.Recover("replication sync handler")
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed sync request", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Encoding", "lz4")
	flusher, canFlush := w.(http.Flusher)
	enc := newLineWriter(w)
	defer enc.close()

	if !s.Engine.ValidateSyncRequest(req.ShardID, req.Epoch) {
		enc.write(syncEvent{Type: eventReject, Reason: "shard id, role, or epoch mismatch"})
		return
	}

	plan := s.Engine.PlanSync(req.LastOffset)
	if plan.NeedsSnapshot {
		entries := make([]wireEntry, 0, len(plan.SnapshotItems))
		for _, tw := range plan.SnapshotItems {
			entries = append(entries, tileWriteToWire(tw))
		}
		enc.write(syncEvent{Type: eventSnapshot, SnapshotOffset: plan.SnapshotOffset, Entries: entries})
	} else {
		for _, batch := range plan.Batches {
			entries := make([]wireEntry, 0, len(batch))
			for _, e := range batch {
				entries = append(entries, entryToWire(e))
			}
			enc.write(syncEvent{Type: eventLogBatch, Entries: entries, CurrentOffset: plan.CurrentOffset})
			if canFlush {
				flusher.Flush()
			}
		}
	}
	enc.write(syncEvent{Type: eventHeartbeat, CurrentOffset: plan.CurrentOffset, Epoch: s.Engine.Epoch()})
	if canFlush {
		flusher.Flush()
	}
}

func (s *Server) handleMigrateTile(w http.ResponseWriter, r *http.Request) {
	defer s.Log.Recover("migrate tile handler")
	var req migrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed migrate request", http.StatusBadRequest)
		return
	}
	tw, err := wireToTileWrite(req.Entry)
	if err != nil {
		http.Error(w, "malformed tile key", http.StatusBadRequest)
		return
	}
	result := s.Engine.AcceptMigratedTile(req.ConfigEpoch, tw)
	json.NewEncoder(w).Encode(migrateResponse{Accepted: result.Accepted})
}

// lineWriter serializes one JSON object per line, lz4-compressing the
// per-event payload the way a production replica-shipping link would: tile
// bodies are already WebP-compressed, but the JSON envelope and, for a full
// snapshot, the aggregate entry list compress well.
type lineWriter struct {
	w  http.ResponseWriter
	zw *lz4.Writer
}

func newLineWriter(w http.ResponseWriter) *lineWriter {
	return &lineWriter{w: w, zw: lz4.NewWriter(w)}
}

func (lw *lineWriter) write(ev syncEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	raw = append(raw, '\n')
	lw.zw.Write(raw)
	lw.zw.Flush()
}

func (lw *lineWriter) close() {
	lw.zw.Close()
}
