package byzanz

// Region is a set of pixels on the integer grid, kept as a y-sorted list of
// horizontal bands, each holding a sorted list of disjoint x-intervals. Two
// regions covering the same pixels always have the same canonical form:
// bands never touch vertically with identical spans, spans never touch
// horizontally.
type Region struct {
	bands []band
}

type band struct {
	y0, y1 int // pixel rows [y0, y1)
	spans  []span
}

type span struct {
	x0, x1 int // pixel columns [x0, x1)
}

// NewRegion returns an empty region.
func NewRegion() *Region {
	return &Region{}
}

// RegionFromRect returns a region covering exactly r.
func RegionFromRect(r Rect) *Region {
	reg := &Region{}
	reg.UnionRect(r)
	return reg
}

// Empty reports whether the region covers no pixels.
func (reg *Region) Empty() bool {
	return len(reg.bands) == 0
}

// Copy returns a deep copy of the region.
func (reg *Region) Copy() *Region {
	out := &Region{bands: make([]band, len(reg.bands))}
	for i, b := range reg.bands {
		out.bands[i] = band{y0: b.y0, y1: b.y1, spans: append([]span(nil), b.spans...)}
	}
	return out
}

// Clipbox returns the smallest rectangle enclosing the region, or the zero
// Rect if the region is empty.
func (reg *Region) Clipbox() Rect {
	if reg.Empty() {
		return Rect{}
	}
	x0 := reg.bands[0].spans[0].x0
	x1 := reg.bands[0].spans[len(reg.bands[0].spans)-1].x1
	for _, b := range reg.bands[1:] {
		if s := b.spans[0].x0; s < x0 {
			x0 = s
		}
		if e := b.spans[len(b.spans)-1].x1; e > x1 {
			x1 = e
		}
	}
	return Rect{
		X: x0,
		Y: reg.bands[0].y0,
		W: x1 - x0,
		H: reg.bands[len(reg.bands)-1].y1 - reg.bands[0].y0,
	}
}

// Rects enumerates the region as disjoint rectangles, top-to-bottom and
// left-to-right within a band.
func (reg *Region) Rects() []Rect {
	var out []Rect
	for _, b := range reg.bands {
		for _, s := range b.spans {
			out = append(out, Rect{X: s.x0, Y: b.y0, W: s.x1 - s.x0, H: b.y1 - b.y0})
		}
	}
	return out
}

// Translate moves every pixel of the region by (dx, dy).
func (reg *Region) Translate(dx, dy int) {
	for i := range reg.bands {
		reg.bands[i].y0 += dy
		reg.bands[i].y1 += dy
		for j := range reg.bands[i].spans {
			reg.bands[i].spans[j].x0 += dx
			reg.bands[i].spans[j].x1 += dx
		}
	}
}

// UnionRect adds every pixel of r to the region.
func (reg *Region) UnionRect(r Rect) {
	if r.Empty() {
		return
	}
	reg.combine(r, func(spans []span, s span) []span { return unionSpans(spans, s) })
}

// SubtractRect removes every pixel of r from the region.
func (reg *Region) SubtractRect(r Rect) {
	if r.Empty() || reg.Empty() {
		return
	}
	reg.combine(r, func(spans []span, s span) []span { return subtractSpans(spans, s) })
}

// Subtract removes every pixel of other from the region.
func (reg *Region) Subtract(other *Region) {
	for _, r := range other.Rects() {
		reg.SubtractRect(r)
	}
}

// Intersects reports whether the region and r share at least one pixel.
func (reg *Region) Intersects(r Rect) bool {
	if r.Empty() {
		return false
	}
	for _, b := range reg.bands {
		if b.y1 <= r.Y || b.y0 >= r.Y+r.H {
			continue
		}
		for _, s := range b.spans {
			if s.x1 > r.X && s.x0 < r.X+r.W {
				return true
			}
		}
	}
	return false
}

// combine splits bands at r's y edges, applies op to the x-spans of bands
// overlapping r, and re-canonicalizes.
func (reg *Region) combine(r Rect, op func([]span, span) []span) {
	sp := span{x0: r.X, x1: r.X + r.W}
	var out []band
	y := r.Y
	flush := func(until int) {
		// emit the part of r between the processed edge and until
		if y < until {
			if rows := op(nil, sp); len(rows) > 0 {
				out = append(out, band{y0: y, y1: until, spans: rows})
			}
			y = until
		}
	}
	for _, b := range reg.bands {
		if b.y1 <= r.Y {
			out = append(out, b)
			continue
		}
		if b.y0 >= r.Y+r.H {
			flush(r.Y + r.H)
			out = append(out, b)
			continue
		}
		// gap between the processed edge and this band
		flush(b.y0)
		// leading part of the band outside r
		if b.y0 < r.Y {
			out = append(out, band{y0: b.y0, y1: r.Y, spans: append([]span(nil), b.spans...)})
			b.y0 = r.Y
		}
		// trailing part of the band outside r
		var tail *band
		if b.y1 > r.Y+r.H {
			tail = &band{y0: r.Y + r.H, y1: b.y1, spans: append([]span(nil), b.spans...)}
			b.y1 = r.Y + r.H
		}
		if rows := op(append([]span(nil), b.spans...), sp); len(rows) > 0 {
			out = append(out, band{y0: b.y0, y1: b.y1, spans: rows})
		}
		y = b.y1
		if tail != nil {
			out = append(out, *tail)
			y = tail.y1
		}
	}
	// remainder of r below all existing bands
	flush(r.Y + r.H)
	reg.bands = canonicalize(out)
}

func unionSpans(spans []span, s span) []span {
	var out []span
	placed := false
	for _, t := range spans {
		if t.x1 < s.x0 {
			out = append(out, t)
			continue
		}
		if t.x0 > s.x1 {
			if !placed {
				out = append(out, s)
				placed = true
			}
			out = append(out, t)
			continue
		}
		// overlap or touch: merge into s
		if t.x0 < s.x0 {
			s.x0 = t.x0
		}
		if t.x1 > s.x1 {
			s.x1 = t.x1
		}
	}
	if !placed {
		out = append(out, s)
	}
	return out
}

func subtractSpans(spans []span, s span) []span {
	var out []span
	for _, t := range spans {
		if t.x1 <= s.x0 || t.x0 >= s.x1 {
			out = append(out, t)
			continue
		}
		if t.x0 < s.x0 {
			out = append(out, span{x0: t.x0, x1: s.x0})
		}
		if t.x1 > s.x1 {
			out = append(out, span{x0: s.x1, x1: t.x1})
		}
	}
	return out
}

// canonicalize sorts nothing (bands are built in order) but merges vertically
// adjacent bands carrying identical spans and drops empty bands.
func canonicalize(bands []band) []band {
	var out []band
	for _, b := range bands {
		if len(b.spans) == 0 || b.y0 >= b.y1 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].y1 == b.y0 && spansEqual(out[n-1].spans, b.spans) {
			out[n-1].y1 = b.y1
			continue
		}
		out = append(out, b)
	}
	return out
}

func spansEqual(a, b []span) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
