package byzanz

import (
	"errors"
	"testing"
)

func solidImage(w, h int, r, g, b uint8) *Image {
	img := NewImage(Rect{W: w, H: h}, 4, LittleEndian)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGB(x, y, r, g, b)
		}
	}
	return img
}

func TestOctreeExactColors(t *testing.T) {
	// 216 unique colors must survive quantization to 255 and look up exactly
	var colors [][3]uint8
	for r := 0; r < 6; r++ {
		for g := 0; g < 6; g++ {
			for b := 0; b < 6; b++ {
				colors = append(colors, [3]uint8{uint8(r * 51), uint8(g * 51), uint8(b * 51)})
			}
		}
	}
	tree := NewOctree()
	for _, c := range colors {
		if err := tree.AddColor(c[0], c[1], c[2]); err != nil {
			t.Fatalf("AddColor: %v", err)
		}
	}
	if err := tree.Reduce(254); err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if tree.NumLeaves() != len(colors) {
		t.Fatalf("leaves = %d, want %d", tree.NumLeaves(), len(colors))
	}
	p := tree.Finalize(true)
	if p.NumColors() != len(colors) {
		t.Fatalf("palette size = %d, want %d", p.NumColors(), len(colors))
	}
	for _, c := range colors {
		idx, lr, lg, lb := p.Lookup(c[0], c[1], c[2])
		if lr != c[0] || lg != c[1] || lb != c[2] {
			t.Fatalf("lookup(%v) = %d,%d,%d", c, lr, lg, lb)
		}
		got := p.Colors[idx]
		if got != c {
			t.Fatalf("palette[%d] = %v, want %v", idx, got, c)
		}
	}
}

func TestOctreeReduceBound(t *testing.T) {
	tree := NewOctree()
	// a noisy gradient with many distinct colors
	for i := 0; i < 4096; i++ {
		if err := tree.AddColor(uint8(i), uint8(i*7), uint8(i*13)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tree.Reduce(64); err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if tree.NumLeaves() > 64 {
		t.Fatalf("leaves = %d after reduce(64)", tree.NumLeaves())
	}
	p := tree.Finalize(false)
	if p.NumColors() != tree.NumLeaves() {
		t.Fatalf("palette size %d != leaves %d", p.NumColors(), tree.NumLeaves())
	}
	// ids are dense: every lookup result must be a valid index
	for i := 0; i < 4096; i++ {
		idx, _, _, _ := p.Lookup(uint8(i), uint8(i*7), uint8(i*13))
		if idx < 0 || idx >= p.NumColors() {
			t.Fatalf("lookup index %d outside [0,%d)", idx, p.NumColors())
		}
	}
}

func TestOctreeReduceToSingleColor(t *testing.T) {
	// three distinct colors, palette budget of 2 with a transparent slot:
	// everything collapses into one representative
	tree := NewOctree()
	for i := 0; i < 10; i++ {
		tree.AddColor(255, 255, 255)
		tree.AddColor(0, 0, 0)
		tree.AddColor(255, 0, 0)
	}
	if err := tree.Reduce(1); err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if tree.NumLeaves() != 1 {
		t.Fatalf("leaves = %d, want 1", tree.NumLeaves())
	}
	p := tree.Finalize(true)
	if p.NumColors() != 1 {
		t.Fatalf("palette size = %d, want 1", p.NumColors())
	}
	if p.TransparentIndex() != 1 {
		t.Fatalf("transparent index = %d, want 1", p.TransparentIndex())
	}
	idx, _, _, _ := p.Lookup(12, 200, 31)
	if idx != 0 {
		t.Fatalf("lookup index = %d, want 0", idx)
	}
}

func TestOctreeIDsDepthFirst(t *testing.T) {
	// colors chosen so their top-level child slots are 0,4,7: finalize must
	// number them in child-index order
	tree := NewOctree()
	tree.AddColor(255, 255, 255) // slot 7
	tree.AddColor(0, 0, 0)       // slot 0
	tree.AddColor(255, 0, 0)     // slot 4
	tree.Reduce(255)
	p := tree.Finalize(false)
	if p.NumColors() != 3 {
		t.Fatalf("palette size = %d", p.NumColors())
	}
	wantOrder := [][3]uint8{{0, 0, 0}, {255, 0, 0}, {255, 255, 255}}
	for i, want := range wantOrder {
		if p.Colors[i] != want {
			t.Errorf("palette[%d] = %v, want %v", i, p.Colors[i], want)
		}
	}
}

func TestOctreeAddAfterFinalize(t *testing.T) {
	tree := NewOctree()
	tree.AddColor(1, 2, 3)
	tree.Finalize(false)
	if err := tree.AddColor(4, 5, 6); !errors.Is(err, ErrInvalidState) {
		t.Errorf("AddColor after finalize = %v, want ErrInvalidState", err)
	}
	if err := tree.Reduce(16); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Reduce after finalize = %v, want ErrInvalidState", err)
	}
}

func TestOctreeReduceBadTarget(t *testing.T) {
	tree := NewOctree()
	tree.AddColor(1, 2, 3)
	if err := tree.Reduce(0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Reduce(0) = %v, want ErrInvalidArgument", err)
	}
}

func TestQuantizeSolidImage(t *testing.T) {
	img := solidImage(10, 10, 255, 255, 255)
	p, err := Quantize(img, 255, true)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	if p.NumColors() != 1 {
		t.Fatalf("palette size = %d, want 1", p.NumColors())
	}
	idx, r, g, b := p.Lookup(255, 255, 255)
	if idx != 0 || r != 255 || g != 255 || b != 255 {
		t.Fatalf("lookup = %d (%d,%d,%d)", idx, r, g, b)
	}
}

func TestQuantizeBadMaxColors(t *testing.T) {
	img := solidImage(2, 2, 1, 2, 3)
	if _, err := Quantize(img, 1, false); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Quantize(maxColors=1) = %v, want ErrInvalidArgument", err)
	}
	if _, err := Quantize(img, 257, false); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Quantize(maxColors=257) = %v, want ErrInvalidArgument", err)
	}
}

func TestQuantizeLimitsPaletteWithAlpha(t *testing.T) {
	// scenario: max_colors=2, alpha, 3-color image
	img := NewImage(Rect{W: 3, H: 1}, 4, LittleEndian)
	img.SetRGB(0, 0, 255, 255, 255)
	img.SetRGB(1, 0, 0, 0, 0)
	img.SetRGB(2, 0, 255, 0, 0)
	p, err := Quantize(img, 2, true)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	if p.NumColors() != 1 {
		t.Fatalf("palette size = %d, want 1", p.NumColors())
	}
	for x := 0; x < 3; x++ {
		r, g, b := img.RGBAt(x, 0)
		idx, _, _, _ := p.Lookup(r, g, b)
		if idx != 0 {
			t.Fatalf("pixel %d mapped to %d", x, idx)
		}
	}
}
