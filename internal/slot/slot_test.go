package slot

import (
	"testing"

	"github.com/google/uuid"
)

func TestOfIsPureFunction(t *testing.T) {
	id := uuid.New()
	a := Of(id, 3, 4, 2)
	b := Of(id, 3, 4, 2)
	if a != b {
		t.Fatalf("slot.Of is not deterministic: %d != %d", a, b)
	}
	if a >= NumSlots {
		t.Fatalf("slot %d out of range [0,%d)", a, NumSlots)
	}
}

func TestOfDiffersOnCoordinate(t *testing.T) {
	id := uuid.New()
	a := Of(id, 0, 0, 0)
	b := Of(id, 1, 0, 0)
	// not a strict requirement, but collisions on adjacent coordinates for the
	// same slide should not always happen; this guards against an accidental
	// degenerate hash (e.g. always returning 0).
	if a == 0 && b == 0 {
		t.Fatalf("hash looks degenerate: both coordinates map to slot 0")
	}
}
