package stream

import "testing"

func TestMinLevelBelowUnityZoomIsFinest(t *testing.T) {
	if got := MinLevel(Viewport{Zoom: 0.5}, 8); got != 0 {
		t.Fatalf("expected level 0, got %d", got)
	}
}

func TestMinLevelClampedToLevelCount(t *testing.T) {
	if got := MinLevel(Viewport{Zoom: 4096}, 4); got != 3 {
		t.Fatalf("expected clamp to 3, got %d", got)
	}
}

func TestMinLevelPicksSmallestSufficientLevel(t *testing.T) {
	// zoom 3 needs ceil(log2(3)) = 2
	if got := MinLevel(Viewport{Zoom: 3}, 8); got != 2 {
		t.Fatalf("expected level 2, got %d", got)
	}
}

func TestTileGridCoversPartialLastTile(t *testing.T) {
	desc := ImageDesc{Width: 1025, Height: 512, LevelCount: 1}
	gw, gh := TileGrid(desc, 0)
	if gw != 3 {
		t.Fatalf("expected 3 tiles wide for 1025px at level 0, got %d", gw)
	}
	if gh != 1 {
		t.Fatalf("expected 1 tile tall for 512px at level 0, got %d", gh)
	}
}

func TestVisibleTilesOnlyReturnsIntersectingTiles(t *testing.T) {
	desc := ImageDesc{Width: 2048, Height: 2048, LevelCount: 3}
	v := Viewport{X: 0, Y: 0, Width: 100, Height: 100, Zoom: 1}
	coords := VisibleTiles(desc, 0, v)
	if len(coords) != 1 || coords[0] != (TileCoord{Level: 0, X: 0, Y: 0}) {
		t.Fatalf("expected exactly tile (0,0), got %v", coords)
	}

	far := Viewport{X: 4000, Y: 4000, Width: 100, Height: 100, Zoom: 1}
	if got := VisibleTiles(desc, 0, far); len(got) != 0 {
		t.Fatalf("expected no visible tiles far outside the image, got %v", got)
	}
}
