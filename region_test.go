package byzanz

import "testing"

func regionArea(reg *Region) int {
	total := 0
	for _, r := range reg.Rects() {
		total += r.W * r.H
	}
	return total
}

func regionCovers(reg *Region, x, y int) bool {
	return reg.Intersects(Rect{X: x, Y: y, W: 1, H: 1})
}

func TestRegionEmpty(t *testing.T) {
	reg := NewRegion()
	if !reg.Empty() {
		t.Fatal("new region not empty")
	}
	reg.UnionRect(Rect{X: 1, Y: 1, W: 2, H: 2})
	if reg.Empty() {
		t.Fatal("region empty after union")
	}
	reg.SubtractRect(Rect{X: 0, Y: 0, W: 10, H: 10})
	if !reg.Empty() {
		t.Fatal("region not empty after subtracting superset")
	}
}

func TestRegionUnionOverlap(t *testing.T) {
	reg := NewRegion()
	reg.UnionRect(Rect{X: 0, Y: 0, W: 4, H: 4})
	reg.UnionRect(Rect{X: 2, Y: 2, W: 4, H: 4})
	if got, want := regionArea(reg), 16+16-4; got != want {
		t.Errorf("area = %d, want %d", got, want)
	}
	if got, want := reg.Clipbox(), (Rect{X: 0, Y: 0, W: 6, H: 6}); got != want {
		t.Errorf("clipbox = %v, want %v", got, want)
	}
}

func TestRegionUnionMergesAdjacent(t *testing.T) {
	reg := NewRegion()
	reg.UnionRect(Rect{X: 0, Y: 0, W: 4, H: 2})
	reg.UnionRect(Rect{X: 0, Y: 2, W: 4, H: 2})
	rects := reg.Rects()
	if len(rects) != 1 {
		t.Fatalf("adjacent bands not merged: %v", rects)
	}
	if rects[0] != (Rect{X: 0, Y: 0, W: 4, H: 4}) {
		t.Errorf("merged rect = %v", rects[0])
	}
}

func TestRegionSubtractHole(t *testing.T) {
	reg := RegionFromRect(Rect{X: 0, Y: 0, W: 10, H: 10})
	reg.SubtractRect(Rect{X: 3, Y: 3, W: 4, H: 4})
	if got, want := regionArea(reg), 100-16; got != want {
		t.Errorf("area = %d, want %d", got, want)
	}
	if regionCovers(reg, 5, 5) {
		t.Error("hole still covered")
	}
	if !regionCovers(reg, 0, 0) || !regionCovers(reg, 9, 9) {
		t.Error("border lost")
	}
	// clipbox still the full rect
	if got, want := reg.Clipbox(), (Rect{X: 0, Y: 0, W: 10, H: 10}); got != want {
		t.Errorf("clipbox = %v, want %v", got, want)
	}
}

func TestRegionSubtractRegion(t *testing.T) {
	reg := RegionFromRect(Rect{X: 0, Y: 0, W: 8, H: 8})
	other := NewRegion()
	other.UnionRect(Rect{X: 0, Y: 0, W: 8, H: 2})
	other.UnionRect(Rect{X: 0, Y: 6, W: 8, H: 2})
	reg.Subtract(other)
	if got, want := regionArea(reg), 8*4; got != want {
		t.Errorf("area = %d, want %d", got, want)
	}
	if got, want := reg.Clipbox(), (Rect{X: 0, Y: 2, W: 8, H: 4}); got != want {
		t.Errorf("clipbox = %v, want %v", got, want)
	}
}

func TestRegionRectsDisjoint(t *testing.T) {
	reg := NewRegion()
	reg.UnionRect(Rect{X: 0, Y: 0, W: 5, H: 5})
	reg.UnionRect(Rect{X: 3, Y: 3, W: 5, H: 5})
	reg.UnionRect(Rect{X: 7, Y: 0, W: 2, H: 2})
	rects := reg.Rects()
	for i, a := range rects {
		for _, b := range rects[i+1:] {
			if !a.Intersect(b).Empty() {
				t.Fatalf("rects %v and %v overlap", a, b)
			}
		}
	}
	// pixel-exact coverage
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			inA := x < 5 && y < 5
			inB := x >= 3 && x < 8 && y >= 3 && y < 8
			inC := x >= 7 && x < 9 && y < 2
			if got, want := regionCovers(reg, x, y), inA || inB || inC; got != want {
				t.Fatalf("coverage at (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestRegionTranslate(t *testing.T) {
	reg := RegionFromRect(Rect{X: 10, Y: 20, W: 4, H: 4})
	reg.Translate(-10, -20)
	if got, want := reg.Clipbox(), (Rect{X: 0, Y: 0, W: 4, H: 4}); got != want {
		t.Errorf("clipbox = %v, want %v", got, want)
	}
}

func TestRectIntersect(t *testing.T) {
	a := Rect{X: 0, Y: 0, W: 10, H: 10}
	b := Rect{X: 5, Y: 5, W: 10, H: 10}
	if got, want := a.Intersect(b), (Rect{X: 5, Y: 5, W: 5, H: 5}); got != want {
		t.Errorf("intersect = %v, want %v", got, want)
	}
	if !a.Intersect(Rect{X: 20, Y: 20, W: 1, H: 1}).Empty() {
		t.Error("disjoint rects intersect")
	}
	if got, want := a.Union(b), (Rect{X: 0, Y: 0, W: 15, H: 15}); got != want {
		t.Errorf("union = %v, want %v", got, want)
	}
}
