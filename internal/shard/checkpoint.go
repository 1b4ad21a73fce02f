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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"
	"github.com/ulikunitz/xz"
)

const checkpointFilename = ".checkpoint.xz"

// checkpointRecord is the on-disk bootstrap checkpoint: the full set of tile
// keys known at checkpoint time plus the offset they were current as of. A
// restarted shard primes currentOffset/appliedOffset and its snapshot key
// set from this instead of starting from offset zero; the migration worker
// still scans the data root as usual. It is the same "snapshot plus replay
// the rest" idea ApplyFullSnapshot uses for a replica, applied to a process's own
// restart (spec §9 "routing-table durability" extended to offset durability).
type checkpointRecord struct {
	Offset uint64    `json:"offset"`
	Keys   []TileKey `json:"keys"`
}

func checkpointPath(dataRoot string) string {
	return filepath.Join(dataRoot, checkpointFilename)
}

// SaveCheckpoint xz-compresses the current snapshot's key set to disk,
// write-then-rename like every other durable write in this package.
func (e *Engine) SaveCheckpoint() error {
	e.mu.RLock()
	offset := e.currentOffset
	keys := make([]TileKey, 0, len(e.snapshot))
	for key := range e.snapshot {
		keys = append(keys, key)
	}
	e.mu.RUnlock()

	raw, err := json.Marshal(checkpointRecord{Offset: offset, Keys: keys})
	if err != nil {
		return fmt.Errorf("shard: marshal checkpoint: %w", err)
	}

	path := checkpointPath(e.DataRoot)
	tmp, err := os.CreateTemp(e.DataRoot, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("shard: create checkpoint temp: %w", err)
	}
	tmpName := tmp.Name()
	zw, err := xz.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("shard: xz writer: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("shard: write checkpoint: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("shard: close xz writer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("shard: close checkpoint temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("shard: rename checkpoint: %w", err)
	}

	e.log.Printf("wrote checkpoint at offset %d (%s, %d keys)", offset, units.HumanSize(float64(len(raw))), len(keys))
	return nil
}

// loadCheckpoint reads back a prior SaveCheckpoint, used by New to prime
// currentOffset/appliedOffset without forcing an immediate store.Walk.
func loadCheckpoint(dataRoot string) (checkpointRecord, bool) {
	f, err := os.Open(checkpointPath(dataRoot))
	if err != nil {
		return checkpointRecord{}, false
	}
	defer f.Close()
	zr, err := xz.NewReader(f)
	if err != nil {
		return checkpointRecord{}, false
	}
	var rec checkpointRecord
	if err := json.NewDecoder(zr).Decode(&rec); err != nil {
		return checkpointRecord{}, false
	}
	return rec, true
}

// startCheckpointWorkerOnce periodically persists a bootstrap checkpoint
// while this shard is master. Stopped the same way the migration worker is:
// its context is cancelled on any role transition away from master.
func (e *Engine) startCheckpointWorkerOnce() {
	if e.cancelCheckpoint != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelCheckpoint = cancel
	go func() {
		defer e.log.Recover("checkpoint worker")
		t := time.NewTicker(checkpointInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if e.Role() != RoleMaster {
					return
				}
				if err := e.SaveCheckpoint(); err != nil {
					e.log.Error("save checkpoint", err)
				}
			}
		}
	}()
}

const checkpointInterval = 30 * time.Second
