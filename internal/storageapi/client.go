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

package storageapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/eosin-platform/tilestore/internal/shard"
)

// Client is used both by the streaming scheduler's read path and the
// compiler's tile write path when talking to a shard's StorageApi over the
// network (as opposed to in-process engine access on a colocated shard).
type Client struct {
	HTTP *http.Client
}

func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: 15 * time.Second}}
}

func tileURL(base string, key shard.TileKey) string {
	v := url.Values{}
	v.Set("id", key.ID.String())
	v.Set("level", strconv.FormatUint(uint64(key.Level), 10))
	v.Set("x", strconv.FormatUint(uint64(key.X), 10))
	v.Set("y", strconv.FormatUint(uint64(key.Y), 10))
	return base + "/storage/tile?" + v.Encode()
}

func (c *Client) GetTile(ctx context.Context, base string, id uuid.UUID, level, x, y uint32) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tileURL(base, shard.TileKey{ID: id, Level: level, X: x, Y: y}), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, shard.ErrNotAvailable
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storageapi: get tile: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) PutTile(ctx context.Context, base string, id uuid.UUID, level, x, y uint32, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, tileURL(base, shard.TileKey{ID: id, Level: level, X: x, Y: y}), bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusPreconditionFailed {
		return shard.ErrPrecondition
	}
	if resp.StatusCode != http.StatusNoContent {
		return errors.New("storageapi: put tile failed")
	}
	return nil
}
