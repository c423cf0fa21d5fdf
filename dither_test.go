package byzanz

import "testing"

func TestDitherSolidRect(t *testing.T) {
	p := testPalette(t, true, [3]uint8{0, 0, 0}, [3]uint8{255, 255, 255})
	d := NewDitherer(p)
	img := solidImage(6, 6, 255, 255, 255)
	buf := make([]byte, 36)
	for i := range buf {
		buf[i] = 0xee // poison
	}
	d.DitherRect(buf, 6, img, Rect{W: 6, H: 6}, 0, 0)
	whiteIdx, _, _, _ := p.Lookup(255, 255, 255)
	for i, v := range buf {
		if int(v) != whiteIdx {
			t.Fatalf("buf[%d] = %d, want %d", i, v, whiteIdx)
		}
	}
}

func TestDitherRegionFillsTransparent(t *testing.T) {
	p := testPalette(t, true, [3]uint8{0, 0, 0}, [3]uint8{255, 255, 255})
	d := NewDitherer(p)
	img := solidImage(8, 8, 0, 0, 0)

	reg := NewRegion()
	reg.UnionRect(Rect{X: 0, Y: 0, W: 2, H: 2})
	reg.UnionRect(Rect{X: 6, Y: 6, W: 2, H: 2})

	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 0xee
	}
	fetch := func(r Rect) (*Image, int, int, error) { return img, r.X, r.Y, nil }
	clip, err := d.DitherRegion(buf, 8, reg, fetch)
	if err != nil {
		t.Fatal(err)
	}
	if clip != (Rect{X: 0, Y: 0, W: 8, H: 8}) {
		t.Fatalf("clipbox = %v", clip)
	}
	blackIdx, _, _, _ := p.Lookup(0, 0, 0)
	transparent := p.TransparentIndex()
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			got := buf[y*8+x]
			inRegion := (x < 2 && y < 2) || (x >= 6 && y >= 6)
			if inRegion && int(got) != blackIdx {
				t.Fatalf("(%d,%d) = %d, want black %d", x, y, got, blackIdx)
			}
			if !inRegion && got != transparent {
				t.Fatalf("(%d,%d) = %d, want transparent %d", x, y, got, transparent)
			}
		}
	}
}

func TestDitherDistributesError(t *testing.T) {
	// a mid grey against a black/white palette must produce a mix of both
	p := testPalette(t, true, [3]uint8{0, 0, 0}, [3]uint8{255, 255, 255})
	d := NewDitherer(p)
	img := solidImage(16, 16, 128, 128, 128)
	buf := make([]byte, 256)
	d.DitherRect(buf, 16, img, Rect{W: 16, H: 16}, 0, 0)
	counts := map[byte]int{}
	for _, v := range buf {
		counts[v]++
	}
	if len(counts) != 2 {
		t.Fatalf("dithered grey uses %d palette entries, want 2", len(counts))
	}
	for idx, n := range counts {
		if n < 64 {
			t.Errorf("index %d used only %d times; error not diffused", idx, n)
		}
	}
}

func TestDitherOffsetSource(t *testing.T) {
	// rect in dst coordinates, source pixels fetched at a different origin
	p := testPalette(t, true, [3]uint8{0, 0, 0}, [3]uint8{255, 255, 255})
	d := NewDitherer(p)
	img := solidImage(4, 4, 255, 255, 255)
	buf := make([]byte, 100)
	d.DitherRect(buf, 10, img, Rect{X: 5, Y: 5, W: 4, H: 4}, 0, 0)
	whiteIdx, _, _, _ := p.Lookup(255, 255, 255)
	for y := 5; y < 9; y++ {
		for x := 5; x < 9; x++ {
			if int(buf[y*10+x]) != whiteIdx {
				t.Fatalf("(%d,%d) not dithered", x, y)
			}
		}
	}
	if buf[0] != 0 || buf[99] != 0 {
		t.Error("pixels outside the rect were touched")
	}
}
