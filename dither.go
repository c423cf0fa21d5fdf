package byzanz

// Ditherer maps 24-bit source pixels to palette indices with Floyd-Steinberg
// error diffusion. One instance serves the encoder worker only; residual
// state is scoped to each call.
type Ditherer struct {
	palette *Palette
}

// Floyd-Steinberg weights, in sixteenths: right, below-left, below,
// below-right.
const (
	fsRight      = 7
	fsBelowLeft  = 3
	fsBelow      = 5
	fsBelowRight = 1
)

// NewDitherer returns a ditherer quantizing through p.
func NewDitherer(p *Palette) *Ditherer {
	return &Ditherer{palette: p}
}

// rectFetch resolves one dirty rectangle to pixel data: the image holding the
// bytes and the image-local coordinates of the rectangle's top-left corner.
type rectFetch func(r Rect) (img *Image, sx, sy int, err error)

// DitherRect dithers the source pixels for dst rectangle r into dst, an
// index buffer addressed with the given stride. (sx, sy) locate r's top-left
// corner inside img. Residual error does not leak outside the rectangle.
func (d *Ditherer) DitherRect(dst []byte, stride int, img *Image, r Rect, sx, sy int) {
	// two residual rows with one guard pixel on each side
	cur := make([]int32, (r.W+2)*3)
	next := make([]int32, (r.W+2)*3)
	for y := 0; y < r.H; y++ {
		row := dst[(r.Y+y)*stride+r.X:]
		for x := 0; x < r.W; x++ {
			sr, sg, sb := img.RGBAt(sx+x, sy+y)
			cr := clampChannel(int32(sr) + cur[(x+1)*3])
			cg := clampChannel(int32(sg) + cur[(x+1)*3+1])
			cb := clampChannel(int32(sb) + cur[(x+1)*3+2])
			idx, pr, pg, pb := d.palette.Lookup(cr, cg, cb)
			row[x] = byte(idx)
			er := int32(cr) - int32(pr)
			eg := int32(cg) - int32(pg)
			eb := int32(cb) - int32(pb)
			cur[(x+2)*3] += er * fsRight / 16
			cur[(x+2)*3+1] += eg * fsRight / 16
			cur[(x+2)*3+2] += eb * fsRight / 16
			next[x*3] += er * fsBelowLeft / 16
			next[x*3+1] += eg * fsBelowLeft / 16
			next[x*3+2] += eb * fsBelowLeft / 16
			next[(x+1)*3] += er * fsBelow / 16
			next[(x+1)*3+1] += eg * fsBelow / 16
			next[(x+1)*3+2] += eb * fsBelow / 16
			next[(x+2)*3] += er * fsBelowRight / 16
			next[(x+2)*3+1] += eg * fsBelowRight / 16
			next[(x+2)*3+2] += eb * fsBelowRight / 16
		}
		cur, next = next, cur
		for i := range next {
			next[i] = 0
		}
	}
}

// DitherRegion dithers every rectangle of reg into dst and, when the palette
// reserves a transparent index, fills the rest of the region's clipbox with
// it, so pixels that did not change keep their previous rendering. Returns
// the clipbox.
func (d *Ditherer) DitherRegion(dst []byte, stride int, reg *Region, fetch rectFetch) (Rect, error) {
	clip := reg.Clipbox()
	for _, r := range reg.Rects() {
		img, sx, sy, err := fetch(r)
		if err != nil {
			return clip, err
		}
		d.DitherRect(dst, stride, img, r, sx, sy)
	}
	if !d.palette.Alpha {
		return clip, nil
	}
	transparent := d.palette.TransparentIndex()
	rest := RegionFromRect(clip)
	rest.Subtract(reg)
	for _, r := range rest.Rects() {
		for y := 0; y < r.H; y++ {
			row := dst[(r.Y+y)*stride+r.X:]
			for x := 0; x < r.W; x++ {
				row[x] = transparent
			}
		}
	}
	return clip, nil
}

func clampChannel(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
