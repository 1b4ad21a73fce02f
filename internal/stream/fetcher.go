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

package stream

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/eosin-platform/tilestore/internal/routing"
	"github.com/eosin-platform/tilestore/internal/storageapi"
)

// RoutedFetcher resolves a tile's owning shard from the routing table and
// reads it over StorageApi, the streaming scheduler's mirror of
// compiler.RoutedWriter on the write side.
type RoutedFetcher struct {
	Routing routing.Source
	Client  *storageapi.Client
}

func (f *RoutedFetcher) FetchTile(ctx context.Context, id uuid.UUID, x, y, level uint32) ([]byte, error) {
	shardID := strconv.FormatUint(uint64(f.Routing.OwnerForTile(id, x, y, level)), 10)
	addr, ok := f.Routing.MasterAddr(shardID)
	if !ok {
		return nil, fmt.Errorf("stream: no known master for shard %s", shardID)
	}
	return f.Client.GetTile(ctx, addr, id, level, x, y)
}
