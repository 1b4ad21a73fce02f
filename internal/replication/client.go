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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	lz4 "github.com/pierrec/lz4/v4"

	"github.com/eosin-platform/tilestore/internal/logging"
	"github.com/eosin-platform/tilestore/internal/shard"
)

const replicaReconnectDelay = 1 * time.Second

// Client is the replica-follower and migration-originating side of the
// replication transport.
type Client struct {
	HTTP *http.Client
	Log  *logging.Logger
}

func NewClient(log *logging.Logger) *Client {
	return &Client{HTTP: &http.Client{Timeout: 30 * time.Second}, Log: log}
}

// Sync implements shard.SyncFn: the replica-follower worker. Runs until ctx
// is cancelled (a role transition away from ReadReplica stops it).
func (c *Client) Sync(ctx context.Context, e *shard.Engine, masterAddr string) {
	defer c.Log.Recover("replica follower")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if e.Role() != shard.RoleReadReplica {
			return
		}

		if err := c.syncOnce(ctx, e, masterAddr); err != nil {
			c.Log.Error("replication sync", err)
		}

		t := time.NewTimer(replicaReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Client) syncOnce(ctx context.Context, e *shard.Engine, masterAddr string) error {
	body, _ := json.Marshal(syncRequest{ShardID: e.ShardID, Epoch: e.Epoch(), LastOffset: e.AppliedOffsetForSync()})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, masterAddr+"/replication/sync", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	zr := lz4.NewReader(resp.Body)
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		var ev syncEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return err
		}
		switch ev.Type {
		case eventReject:
			return fmt.Errorf("replication: rejected: %s", ev.Reason)
		case eventSnapshot:
			items := make([]shard.TileWrite, 0, len(ev.Entries))
			for _, w := range ev.Entries {
				tw, err := wireToTileWrite(w)
				if err != nil {
					continue
				}
				items = append(items, tw)
			}
			if err := e.ApplyFullSnapshot(ev.SnapshotOffset, items); err != nil {
				return err
			}
		case eventLogBatch:
			for _, w := range ev.Entries {
				entry, err := wireToLogEntry(w)
				if err != nil {
					continue
				}
				if err := e.ApplyReplicatedWrite(entry); err != nil {
					return err
				}
			}
		case eventHeartbeat:
			e.ApplyHeartbeat(ev.CurrentOffset)
		}
	}
	return scanner.Err()
}

// MigrateTile implements shard.MigrateFn: the migration worker's RPC to a
// target shard's master.
func (c *Client) MigrateTile(ctx context.Context, targetAddr string, sourceShard, targetShard uint32, configEpoch uint64, tw shard.TileWrite) (bool, error) {
	body, _ := json.Marshal(migrateRequest{
		SourceShard: sourceShard,
		TargetShard: targetShard,
		ConfigEpoch: configEpoch,
		Entry:       tileWriteToWire(tw),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetAddr+"/replication/migrate_tile", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	var res migrateResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return false, err
	}
	return res.Accepted, nil
}
