package byzanz

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// GifWriter emits a GIF89a stream frame by frame: header and logical screen
// on open, an optional Netscape looping extension, then per frame a graphic
// control extension, an image descriptor with the local color table, and
// LZW-packed pixel data. No global color table is written.
type GifWriter struct {
	w      *bufio.Writer
	closer io.Closer
	width  int
	height int

	palette    *Palette
	looping    bool
	wroteImage bool
}

// OpenGifWriter writes the GIF header and logical screen descriptor to sink
// and returns a writer for a width x height animation. If sink is an
// io.Closer it is closed by Close.
func OpenGifWriter(sink io.Writer, width, height int) (*GifWriter, error) {
	if width <= 0 || height <= 0 || width >= 1<<16 || height >= 1<<16 {
		return nil, errors.Wrapf(ErrInvalidArgument, "logical screen %dx%d", width, height)
	}
	gw := &GifWriter{
		w:      bufio.NewWriter(sink),
		width:  width,
		height: height,
	}
	if c, ok := sink.(io.Closer); ok {
		gw.closer = c
	}
	gw.writeString("GIF89a")
	gw.writeShort(width)
	gw.writeShort(height)
	gw.writeByte(0x70) // no global color table, color resolution 7
	gw.writeByte(0)    // background color index
	gw.writeByte(0)    // pixel aspect ratio 1:1
	if err := gw.w.Flush(); err != nil {
		return nil, errors.Wrapf(ErrIo, "write gif header: %v", err)
	}
	return gw, nil
}

// SetPalette installs the color table used by all subsequent images. It must
// be called before the first AddImage; the table bytes themselves are written
// with each image descriptor.
func (gw *GifWriter) SetPalette(p *Palette) error {
	if gw.wroteImage {
		return errors.Wrap(ErrInvalidState, "palette after first image")
	}
	if p == nil || p.NumColors() == 0 {
		return errors.Wrap(ErrInvalidArgument, "empty palette")
	}
	gw.palette = p
	return nil
}

// SetLooping emits the Netscape 2.0 looping extension. It may be called at
// most once and only before the first image.
func (gw *GifWriter) SetLooping() error {
	if gw.looping {
		return errors.Wrap(ErrInvalidState, "looping already set")
	}
	if gw.wroteImage {
		return errors.Wrap(ErrInvalidState, "looping after first image")
	}
	gw.looping = true
	gw.writeByte(0x21) // extension introducer
	gw.writeByte(0xff) // application extension label
	gw.writeByte(11)
	gw.writeString("NETSCAPE2.0")
	gw.writeByte(3)
	gw.writeByte(1)
	gw.writeShort(0) // loop forever
	gw.writeByte(0)  // block terminator
	return gw.flush("looping extension")
}

// tableDepth returns the bits-per-entry of the padded color table.
func (gw *GifWriter) tableDepth() int {
	entries := gw.palette.NumColors()
	if gw.palette.Alpha {
		entries++
	}
	depth := 1
	for 1<<uint(depth) < entries {
		depth++
	}
	return depth
}

// AddImage writes one frame covering r with the given delay. pix holds
// palette indices addressed with the given stride; row 0, column 0 of the
// addressed window corresponds to r's top-left corner.
func (gw *GifWriter) AddImage(r Rect, delayMs int, pix []byte, stride int) error {
	if gw.palette == nil {
		return errors.Wrap(ErrInvalidState, "no palette set")
	}
	if delayMs < 0 {
		return errors.Wrapf(ErrInvalidArgument, "negative delay %d", delayMs)
	}
	screen := Rect{W: gw.width, H: gw.height}
	if r.Empty() || !screen.Contains(r) {
		return errors.Wrapf(ErrInvalidArgument, "frame %v outside %v", r, screen)
	}

	// graphic control extension
	gw.writeByte(0x21)
	gw.writeByte(0xf9)
	gw.writeByte(4)
	packed := byte(0) // disposal 0, no user input
	if gw.palette.Alpha {
		packed |= 1 // transparent color flag
	}
	gw.writeByte(packed)
	gw.writeShort(delayMs / 10)
	if gw.palette.Alpha {
		gw.writeByte(gw.palette.TransparentIndex())
	} else {
		gw.writeByte(0)
	}
	gw.writeByte(0)

	// image descriptor with local color table
	depth := gw.tableDepth()
	gw.writeByte(0x2c)
	gw.writeShort(r.X)
	gw.writeShort(r.Y)
	gw.writeShort(r.W)
	gw.writeShort(r.H)
	gw.writeByte(byte(0x80 | (depth - 1))) // local table present, not sorted
	gw.writePaletteTable(depth)

	src := &pixelSource{pix: pix, stride: stride, w: r.W, h: r.H}
	codeSize := depth
	if codeSize < 2 {
		codeSize = 2
	}
	if err := lzwCompress(gw.w, src, codeSize); err != nil {
		return errors.Wrapf(ErrIo, "write image data: %v", err)
	}
	gw.wroteImage = true
	return gw.flush("image")
}

// writePaletteTable writes the color table padded to 1<<depth entries;
// entries beyond the palette (including the reserved transparent slot) are
// zeroed.
func (gw *GifWriter) writePaletteTable(depth int) {
	n := gw.palette.NumColors()
	for i := 0; i < 1<<uint(depth); i++ {
		if i < n {
			c := gw.palette.Colors[i]
			gw.writeByte(c[0])
			gw.writeByte(c[1])
			gw.writeByte(c[2])
		} else {
			gw.writeByte(0)
			gw.writeByte(0)
			gw.writeByte(0)
		}
	}
}

// Close writes the GIF trailer and closes the sink if it is closable.
func (gw *GifWriter) Close() error {
	gw.writeByte(0x3b)
	err := gw.flush("trailer")
	if gw.closer != nil {
		if cerr := gw.closer.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(ErrIo, "close sink: %v", cerr)
		}
	}
	return err
}

func (gw *GifWriter) writeByte(b byte) {
	_ = gw.w.WriteByte(b)
}

func (gw *GifWriter) writeString(s string) {
	_, _ = gw.w.WriteString(s)
}

// writeShort writes a 16-bit value in little-endian order.
func (gw *GifWriter) writeShort(v int) {
	gw.writeByte(byte(v & 0xff))
	gw.writeByte(byte(v >> 8 & 0xff))
}

func (gw *GifWriter) flush(what string) error {
	if err := gw.w.Flush(); err != nil {
		return errors.Wrapf(ErrIo, "write %s: %v", what, err)
	}
	return nil
}
