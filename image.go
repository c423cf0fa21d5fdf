package byzanz

import "time"

// ByteOrder describes the channel layout of a captured pixel.
type ByteOrder int

const (
	// LittleEndian pixels are B, G, R with the pad lane at [3] when bpp is 4.
	LittleEndian ByteOrder = iota
	// BigEndian pixels are R, G, B with the pad lane at [0] when bpp is 4.
	BigEndian
)

// Image is a raster captured from the live surface. Pix holds Rect.H rows of
// Stride bytes; each pixel is Bpp bytes wide and read as a 24-bit RGB triplet,
// skipping the pad lane.
type Image struct {
	Rect   Rect
	Bpp    int // 3 or 4
	Stride int
	Order  ByteOrder
	Pix    []byte
}

// NewImage allocates an image buffer for the given geometry.
func NewImage(r Rect, bpp int, order ByteOrder) *Image {
	stride := r.W * bpp
	return &Image{
		Rect:   r,
		Bpp:    bpp,
		Stride: stride,
		Order:  order,
		Pix:    make([]byte, stride*r.H),
	}
}

// Size returns the byte size of the pixel buffer.
func (img *Image) Size() int {
	return len(img.Pix)
}

// rowOffset returns the byte offset of pixel (x, y) in image-local
// coordinates, pointing at the first channel byte after any leading pad lane.
func (img *Image) rowOffset(x, y int) int {
	off := y*img.Stride + x*img.Bpp
	if img.Bpp == 4 && img.Order == BigEndian {
		off++ // pad lane sits at [0]
	}
	return off
}

// RGBAt reads the pixel at image-local (x, y) as an RGB triplet.
func (img *Image) RGBAt(x, y int) (r, g, b uint8) {
	off := img.rowOffset(x, y)
	if img.Order == LittleEndian {
		return img.Pix[off+2], img.Pix[off+1], img.Pix[off]
	}
	return img.Pix[off], img.Pix[off+1], img.Pix[off+2]
}

// SetRGB writes an RGB triplet at image-local (x, y), leaving the pad lane
// untouched.
func (img *Image) SetRGB(x, y int, r, g, b uint8) {
	off := img.rowOffset(x, y)
	if img.Order == LittleEndian {
		img.Pix[off] = b
		img.Pix[off+1] = g
		img.Pix[off+2] = r
		return
	}
	img.Pix[off] = r
	img.Pix[off+1] = g
	img.Pix[off+2] = b
}

// Frame couples a captured image with the damage it answers. Dirty is in
// image-local coordinates and lies inside the image rectangle.
type Frame struct {
	Timestamp time.Time
	Dirty     *Region
	Image     *Image
}
