package routing

import (
	"testing"

	"github.com/google/uuid"

	"github.com/eosin-platform/tilestore/internal/slot"
)

func TestFromWireRejectsWrongLength(t *testing.T) {
	if _, err := FromWire(1, make([]uint32, 10), nil); err == nil {
		t.Fatalf("expected an error for a malformed slot table")
	}
}

func TestFromWireRoundTripsThroughToWire(t *testing.T) {
	slots := make([]uint32, slot.NumSlots)
	slots[0] = 1
	slots[slot.NumSlots-1] = 2
	masters := map[string]string{"0": "http://shard-0:7070", "1": "http://shard-1:7070"}

	table, err := FromWire(7, slots, masters)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	epoch, gotSlots, gotMasters := table.ToWire()
	if epoch != 7 {
		t.Fatalf("expected epoch 7, got %d", epoch)
	}
	if gotSlots[0] != 1 || gotSlots[slot.NumSlots-1] != 2 {
		t.Fatalf("slot table not preserved: %v", gotSlots)
	}
	if gotMasters["0"] != "http://shard-0:7070" {
		t.Fatalf("shard masters not preserved: %v", gotMasters)
	}
}

func TestOwnerForTileUsesInstalledSlotTable(t *testing.T) {
	id := uuid.New()
	s := slot.Of(id, 0, 0, 0)

	slots := make([]uint32, slot.NumSlots)
	slots[s] = 9
	table, err := FromWire(1, slots, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := table.OwnerForTile(id, 0, 0, 0); got != 9 {
		t.Fatalf("expected owner shard 9, got %d", got)
	}
}

func TestMasterAddrMissingShardIsNotOK(t *testing.T) {
	table := New()
	if _, ok := table.MasterAddr("missing"); ok {
		t.Fatalf("expected ok=false for an unknown shard id")
	}
}

func TestHolderSwapIsVisibleToSource(t *testing.T) {
	h := NewHolder(New())
	id := uuid.New()
	s := slot.Of(id, 0, 0, 0)

	slots := make([]uint32, slot.NumSlots)
	slots[s] = 3
	fresh, err := FromWire(2, slots, map[string]string{"3": "http://shard-3:7070"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Store(fresh)

	var src Source = h
	if got := src.OwnerForTile(id, 0, 0, 0); got != 3 {
		t.Fatalf("expected owner shard 3 after swap, got %d", got)
	}
	if addr, ok := src.MasterAddr("3"); !ok || addr != "http://shard-3:7070" {
		t.Fatalf("expected master addr to reflect the swapped table, got %q ok=%v", addr, ok)
	}
}
