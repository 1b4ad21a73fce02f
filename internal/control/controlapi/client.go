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

package controlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/eosin-platform/tilestore/internal/shard"
)

// Client is used by the cluster control plane's reconciliation loop to
// probe and drive every shard replica's control endpoint.
type Client struct {
	HTTP *http.Client
}

func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: 5 * time.Second}}
}

func (c *Client) post(ctx context.Context, base, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("controlapi: %s: status %d", path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) BecomeMaster(ctx context.Context, base, shardID string, epoch uint64) (bool, error) {
	var res roleResponse
	err := c.post(ctx, base, "/control/become_master", becomeMasterRequest{ShardID: shardID, Epoch: epoch}, &res)
	return res.Accepted, err
}

func (c *Client) BecomeReplica(ctx context.Context, base, shardID string, epoch uint64, masterAddr string) (bool, error) {
	var res roleResponse
	err := c.post(ctx, base, "/control/become_replica", becomeReplicaRequest{ShardID: shardID, Epoch: epoch, MasterAddr: masterAddr}, &res)
	return res.Accepted, err
}

func (c *Client) UpdateRoutingConfig(ctx context.Context, base string, epoch uint64, slotToShard []uint32, shardMasters map[string]string) (bool, error) {
	var res roleResponse
	err := c.post(ctx, base, "/control/routing_config", routingConfigRequest{ConfigEpoch: epoch, SlotToShard: slotToShard, ShardMasters: shardMasters}, &res)
	return res.Accepted, err
}

func (c *Client) GetRoutingConfig(ctx context.Context, base string) (uint64, []uint32, map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/control/routing_config", nil)
	if err != nil {
		return 0, nil, nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	var res routingConfigRequest
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, nil, nil, err
	}
	return res.ConfigEpoch, res.SlotToShard, res.ShardMasters, nil
}

func (c *Client) GetShardStatus(ctx context.Context, base string) (shard.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/control/status", nil)
	if err != nil {
		return shard.Status{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return shard.Status{}, err
	}
	defer resp.Body.Close()
	var st shard.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return shard.Status{}, err
	}
	return st, nil
}
