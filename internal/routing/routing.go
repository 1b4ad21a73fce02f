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

// Package routing holds the cluster-wide slot -> shard assignment and its
// on-disk durability, the way storage/persistence-files.go durably persists
// memcp's own schema.json: write to a temp file, rename over the final path.
package routing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	nonlocking "github.com/launix-de/NonLockingReadMap"

	"github.com/eosin-platform/tilestore/internal/slot"
)

// Source is anything that can resolve tile ownership and shard master
// addresses: satisfied by *Table directly, or by a Holder wrapping one that
// changes over time.
type Source interface {
	OwnerForTile(id uuid.UUID, x, y, level uint32) uint32
	MasterAddr(shardID string) (string, bool)
}

const configFileName = ".routing_config.json"

// shardMaster is the NonLockingReadMap entry for one shard's master address:
// lookups happen on every migration attempt and every owner check across
// shard masters, while installs of a brand new routing config are rare.
type shardMaster struct {
	shardID string
	addr    string
}

func (s *shardMaster) GetKey() string   { return s.shardID }
func (s *shardMaster) ComputeSize() uint { return uint(len(s.shardID) + len(s.addr) + 16) }

// Table is a single routing generation: a config epoch, the slot assignment,
// and the known master address per shard.
type Table struct {
	ConfigEpoch  uint64
	slotToShard  atomic.Pointer[[]uint32]
	shardMasters nonlocking.NonLockingReadMap[shardMaster, string]
}

// wireTable is the JSON wire/disk representation from spec §6.
type wireTable struct {
	ConfigEpoch  uint64            `json:"config_epoch"`
	SlotToShard  []uint32          `json:"slot_to_shard"`
	ShardMasters map[string]string `json:"shard_masters"`
}

// New builds an empty routing table (config_epoch 0, no shard masters; the
// zeroed slot table maps every slot to shard 0).
func New() *Table {
	t := &Table{shardMasters: nonlocking.New[shardMaster, string]()}
	empty := make([]uint32, slot.NumSlots)
	t.slotToShard.Store(&empty)
	return t
}

// FromWire validates and builds a Table from the wire format. Rejects
// malformed input (wrong-length slot table) per spec §7.
func FromWire(configEpoch uint64, slotToShard []uint32, shardMasters map[string]string) (*Table, error) {
	if len(slotToShard) != slot.NumSlots {
		return nil, fmt.Errorf("routing: slot_to_shard has %d entries, want %d", len(slotToShard), slot.NumSlots)
	}
	t := &Table{ConfigEpoch: configEpoch, shardMasters: nonlocking.New[shardMaster, string]()}
	cp := make([]uint32, len(slotToShard))
	copy(cp, slotToShard)
	t.slotToShard.Store(&cp)
	for id, addr := range shardMasters {
		t.shardMasters.Set(&shardMaster{shardID: id, addr: addr})
	}
	return t, nil
}

func (t *Table) ToWire() (uint64, []uint32, map[string]string) {
	slots := *t.slotToShard.Load()
	out := make([]uint32, len(slots))
	copy(out, slots)
	masters := make(map[string]string)
	for _, m := range t.shardMasters.GetAll() {
		masters[m.shardID] = m.addr
	}
	return t.ConfigEpoch, out, masters
}

// OwnerForSlot returns the shard id (as a slot-table index value) owning s.
func (t *Table) OwnerForSlot(s uint32) uint32 {
	slots := *t.slotToShard.Load()
	if int(s) >= len(slots) {
		return 0
	}
	return slots[s]
}

// OwnerForTile returns the shard id owning a tile key under this table.
func (t *Table) OwnerForTile(id uuid.UUID, x, y, level uint32) uint32 {
	return t.OwnerForSlot(slot.Of(id, x, y, level))
}

// MasterAddr returns the known master network address for shardID, if any.
func (t *Table) MasterAddr(shardID string) (string, bool) {
	if m := t.shardMasters.Get(shardID); m != nil {
		return m.addr, true
	}
	return "", false
}

// Holder lets a long-lived process (the streaming scheduler, which owns no
// shard of its own) swap in a freshly-polled Table without racing readers
// that hold the old one: every swap is a single atomic pointer store, never
// a field-by-field copy into a Table in use.
type Holder struct {
	p atomic.Pointer[Table]
}

func NewHolder(t *Table) *Holder {
	h := &Holder{}
	h.p.Store(t)
	return h
}

func (h *Holder) Load() *Table { return h.p.Load() }
func (h *Holder) Store(t *Table) { h.p.Store(t) }

func (h *Holder) OwnerForTile(id uuid.UUID, x, y, level uint32) uint32 {
	return h.Load().OwnerForTile(id, x, y, level)
}

func (h *Holder) MasterAddr(shardID string) (string, bool) {
	return h.Load().MasterAddr(shardID)
}

// Path returns the on-disk location of the persisted routing config.
func Path(dataRoot string) string {
	return filepath.Join(dataRoot, configFileName)
}

// Persist atomically writes the routing table to <data_root>/.routing_config.json
// via write-then-rename, matching the shard engine's tile-write durability rule.
func Persist(dataRoot string, t *Table) error {
	epoch, slots, masters := t.ToWire()
	bytes, err := json.Marshal(wireTable{ConfigEpoch: epoch, SlotToShard: slots, ShardMasters: masters})
	if err != nil {
		return fmt.Errorf("routing: marshal: %w", err)
	}
	path := Path(dataRoot)
	tmp := path + fmt.Sprintf(".tmp-%d", os.Getpid())
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("routing: mkdir: %w", err)
	}
	if err := os.WriteFile(tmp, bytes, 0640); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("routing: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("routing: rename: %w", err)
	}
	return nil
}

// Load reads a previously persisted routing table, if any. A missing file is
// not an error: a freshly created shard has no routing config yet.
func Load(dataRoot string) (*Table, error) {
	path := Path(dataRoot)
	bytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("routing: read: %w", err)
	}
	var w wireTable
	if err := json.Unmarshal(bytes, &w); err != nil {
		return nil, fmt.Errorf("routing: unmarshal: %w", err)
	}
	return FromWire(w.ConfigEpoch, w.SlotToShard, w.ShardMasters)
}
