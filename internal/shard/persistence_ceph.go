//go:build ceph

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
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/ceph/go-ceph/rados"
	"github.com/google/uuid"
)

// cephTileStore is an alternate tile-body backend for clusters that keep
// shard data in a RADOS pool instead of local disk, mirroring
// storage/persistence-ceph.go's registration pattern one level up: a build
// tag keeps the cgo dependency out of default builds.
type cephTileStore struct {
	mu      sync.Mutex
	conn    *rados.Conn
	ioctx   *rados.IOContext
	prefix  string
}

func init() {
	RegisterBackend("ceph", func(dataRoot string) (TileStore, error) {
		clusterName := os.Getenv("CEPH_CLUSTER")
		userName := os.Getenv("CEPH_USER")
		confFile := os.Getenv("CEPH_CONF")
		pool := os.Getenv("CEPH_POOL")
		if pool == "" {
			return nil, fmt.Errorf("shard: CEPH_POOL not set")
		}
		conn, err := rados.NewConnWithClusterAndUser(clusterName, userName)
		if err != nil {
			return nil, fmt.Errorf("shard: ceph conn: %w", err)
		}
		if err := conn.ReadConfigFile(confFile); err != nil {
			return nil, fmt.Errorf("shard: ceph config: %w", err)
		}
		if err := conn.Connect(); err != nil {
			return nil, fmt.Errorf("shard: ceph connect: %w", err)
		}
		ioctx, err := conn.OpenIOContext(pool)
		if err != nil {
			return nil, fmt.Errorf("shard: ceph ioctx: %w", err)
		}
		return &cephTileStore{conn: conn, ioctx: ioctx, prefix: dataRoot}, nil
	})
}

func (c *cephTileStore) objectName(key TileKey) string {
	return fmt.Sprintf("%s/%s/%d/%d_%d.webp", c.prefix, key.ID.String(), key.Level, key.X, key.Y)
}

func (c *cephTileStore) Write(key TileKey, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ioctx.WriteFull(c.objectName(key), body); err != nil {
		return fmt.Errorf("shard: ceph write: %w", err)
	}
	return nil
}

func (c *cephTileStore) Read(key TileKey) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stat, err := c.ioctx.Stat(c.objectName(key))
	if err != nil {
		return nil, ErrNotAvailable
	}
	buf := make([]byte, stat.Size)
	n, err := c.ioctx.Read(c.objectName(key), buf, 0)
	if err != nil {
		return nil, ErrNotAvailable
	}
	return buf[:n], nil
}

func (c *cephTileStore) Delete(key TileKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ioctx.Delete(c.objectName(key)); err != nil {
		return fmt.Errorf("shard: ceph delete: %w", err)
	}
	return nil
}

func (c *cephTileStore) Walk(fn func(TileKey) error) error {
	c.mu.Lock()
	iter, err := c.ioctx.Iter()
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("shard: ceph iter: %w", err)
	}
	defer iter.Close()
	prefix := c.prefix + "/"
	for iter.Next() {
		name := iter.Value()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		parts := strings.SplitN(rest, "/", 3)
		if len(parts) != 3 {
			continue
		}
		id, err := uuid.Parse(parts[0])
		if err != nil {
			continue
		}
		level, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			continue
		}
		key, ok := parseTileFilename(id, uint32(level), parts[2])
		if !ok {
			continue
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}
