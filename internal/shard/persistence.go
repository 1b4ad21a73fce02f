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
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// TileStore is the pluggable tile-body backend, the same role
// storage/persistence.go's PersistenceEngine plays for column data: a shard
// engine must work identically against any implementation.
type TileStore interface {
	// Write atomically places body at key. On any failure no partial state
	// is left behind (spec §7's "local I/O failure" rule).
	Write(key TileKey, body []byte) error
	// Read returns ErrNotAvailable if the tile does not exist yet.
	Read(key TileKey) ([]byte, error)
	// Delete removes a tile body; used only by migration.
	Delete(key TileKey) error
	// Walk enumerates every stored tile key, for the migration scan.
	Walk(fn func(TileKey) error) error
}

// TileStoreFactory builds a TileStore for a given data root / config.
type TileStoreFactory func(dataRoot string) (TileStore, error)

// backendRegistry mirrors storage's BackendRegistry pattern: build-tagged
// files register additional backends (e.g. ceph) under init().
var backendRegistry = map[string]TileStoreFactory{
	"file": func(dataRoot string) (TileStore, error) { return newFileTileStore(dataRoot), nil },
}

func RegisterBackend(name string, f TileStoreFactory) {
	backendRegistry[name] = f
}

func OpenTileStore(backend, dataRoot string) (TileStore, error) {
	f, ok := backendRegistry[backend]
	if !ok {
		return nil, fmt.Errorf("shard: unknown tile store backend %q", backend)
	}
	return f(dataRoot)
}

// fileTileStore lays tiles out at <data_root>/<slide>/<level>/<x>_<y>.webp,
// writing through a uniquely-named temp file in the same directory and
// renaming over the final path, the same durability idiom
// storage/persistence-files.go uses for schema.json (there: rescue-copy the
// old file first; here: temp-then-rename, since tiles have no "old version"
// worth keeping — a tile write is defined as an idempotent overwrite).
type fileTileStore struct {
	dataRoot string
}

func newFileTileStore(dataRoot string) *fileTileStore {
	return &fileTileStore{dataRoot: dataRoot}
}

func (f *fileTileStore) pathFor(key TileKey) string {
	return filepath.Join(f.dataRoot, key.ID.String(), strconv.FormatUint(uint64(key.Level), 10),
		fmt.Sprintf("%d_%d.webp", key.X, key.Y))
}

func (f *fileTileStore) Write(key TileKey, body []byte) error {
	path := f.pathFor(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("shard: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tile-*.tmp")
	if err != nil {
		return fmt.Errorf("shard: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("shard: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("shard: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("shard: rename: %w", err)
	}
	return nil
}

func (f *fileTileStore) Read(key TileKey) ([]byte, error) {
	body, err := os.ReadFile(f.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotAvailable
		}
		return nil, fmt.Errorf("shard: read: %w", err)
	}
	return body, nil
}

func (f *fileTileStore) Delete(key TileKey) error {
	if err := os.Remove(f.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shard: delete: %w", err)
	}
	return nil
}

// Walk reconstructs tile keys from the on-disk tree, matching §6's parsing
// rule exactly: filename stem x_y, parent dir is the level, its parent the
// slide UUID; any other file is ignored.
func (f *fileTileStore) Walk(fn func(TileKey) error) error {
	slideDirs, err := os.ReadDir(f.dataRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("shard: walk data root: %w", err)
	}
	for _, sd := range slideDirs {
		if !sd.IsDir() {
			continue
		}
		id, err := uuid.Parse(sd.Name())
		if err != nil {
			continue
		}
		levelDirs, err := os.ReadDir(filepath.Join(f.dataRoot, sd.Name()))
		if err != nil {
			continue
		}
		for _, ld := range levelDirs {
			if !ld.IsDir() {
				continue
			}
			level, err := strconv.ParseUint(ld.Name(), 10, 32)
			if err != nil {
				continue
			}
			tileFiles, err := os.ReadDir(filepath.Join(f.dataRoot, sd.Name(), ld.Name()))
			if err != nil {
				continue
			}
			for _, tf := range tileFiles {
				key, ok := parseTileFilename(id, uint32(level), tf.Name())
				if !ok {
					continue
				}
				if err := fn(key); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func parseTileFilename(id uuid.UUID, level uint32, name string) (TileKey, bool) {
	stem, ok := strings.CutSuffix(name, ".webp")
	if !ok {
		return TileKey{}, false
	}
	parts := strings.SplitN(stem, "_", 2)
	if len(parts) != 2 {
		return TileKey{}, false
	}
	x, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return TileKey{}, false
	}
	y, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return TileKey{}, false
	}
	return TileKey{ID: id, Level: level, X: uint32(x), Y: uint32(y)}, true
}
