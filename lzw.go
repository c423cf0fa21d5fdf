package byzanz

/*
GIF variable-width LZW. The bit/packing layer (LzwPacker) turns a stream of
code-table indices into the wire format: one initial-code-size byte, then
length-prefixed sub-blocks of at most 255 bytes, LSB-first bits, terminated by
a zero-length sub-block. The dictionary layer (compress) is the classic
hash-table GIF compressor.

Lempel-Ziv compression based on 'compress', GIF modifications by
David Rowley; via the Java/AS3/JS encoder lineage.
*/

import "io"

const (
	lzwMaxBits = 12
	hashSize   = 5003 // 80% occupancy
)

var codeMasks = []uint32{
	0x0000, 0x0001, 0x0003, 0x0007, 0x000F, 0x001F,
	0x003F, 0x007F, 0x00FF, 0x01FF, 0x03FF, 0x07FF,
	0x0FFF, 0x1FFF, 0x3FFF, 0x7FFF, 0xFFFF,
}

// LzwPacker packs LZW codes of varying width into GIF image sub-blocks.
// Width management follows the GIF convention: the width starts one above the
// initial code size, grows by one bit whenever the dictionary reaches the
// width's capacity, and resets when a CLEAR code passes through.
type LzwPacker struct {
	w        io.Writer
	initSize int
	width    int
	clear    int
	eoi      int
	free     int // next dictionary slot the decoder will allocate

	acc   uint32
	nbits uint
	block [256]byte // block[0] is the length prefix
	blen  int

	err error
}

// NewLzwPacker returns a packer writing to w. initialCodeSize is the GIF
// "minimum code size" (palette depth, at least 2).
func NewLzwPacker(w io.Writer, initialCodeSize int) *LzwPacker {
	if initialCodeSize < 2 {
		initialCodeSize = 2
	}
	p := &LzwPacker{w: w, initSize: initialCodeSize}
	p.clear = 1 << uint(initialCodeSize)
	p.eoi = p.clear + 1
	p.reset()
	return p
}

func (p *LzwPacker) reset() {
	p.width = p.initSize + 1
	p.free = p.clear + 2
}

// Clear returns the packer's CLEAR code.
func (p *LzwPacker) Clear() int { return p.clear }

// EOI returns the packer's END-OF-INFORMATION code.
func (p *LzwPacker) EOI() int { return p.eoi }

// Begin writes the initial code size byte and the leading CLEAR code.
func (p *LzwPacker) Begin() error {
	if _, err := p.w.Write([]byte{byte(p.initSize)}); err != nil {
		p.err = err
		return err
	}
	return p.Push(p.clear)
}

// Push packs one code at the current width.
func (p *LzwPacker) Push(code int) error {
	if p.err != nil {
		return p.err
	}
	p.acc &= codeMasks[p.nbits]
	if p.nbits > 0 {
		p.acc |= uint32(code) << p.nbits
	} else {
		p.acc = uint32(code)
	}
	p.nbits += uint(p.width)
	for p.nbits >= 8 {
		p.byteOut(byte(p.acc & 0xff))
		p.acc >>= 8
		p.nbits -= 8
	}
	if code == p.clear {
		p.reset()
		return p.err
	}
	if code == p.eoi {
		return p.err
	}
	// The decoder allocates one slot per code it sees; track it to grow the
	// width in lockstep.
	if p.free > (1<<uint(p.width))-1 && p.width < lzwMaxBits {
		p.width++
	}
	p.free++
	return p.err
}

// Finish writes the END-OF-INFORMATION code, flushes remaining bits and the
// final partial sub-block, and writes the zero-length terminator.
func (p *LzwPacker) Finish() error {
	if err := p.Push(p.eoi); err != nil {
		return err
	}
	for p.nbits > 0 {
		p.byteOut(byte(p.acc & 0xff))
		p.acc >>= 8
		if p.nbits >= 8 {
			p.nbits -= 8
		} else {
			p.nbits = 0
		}
	}
	p.flushBlock()
	if p.err == nil {
		if _, err := p.w.Write([]byte{0}); err != nil {
			p.err = err
		}
	}
	return p.err
}

func (p *LzwPacker) byteOut(b byte) {
	p.block[1+p.blen] = b
	p.blen++
	if p.blen >= 254 {
		p.flushBlock()
	}
}

func (p *LzwPacker) flushBlock() {
	if p.blen == 0 || p.err != nil {
		return
	}
	p.block[0] = byte(p.blen)
	if _, err := p.w.Write(p.block[:p.blen+1]); err != nil {
		p.err = err
	}
	p.blen = 0
}

// pixelSource yields palette indices row-major from a sub-rectangle of an
// index buffer with the given stride.
type pixelSource struct {
	pix    []byte
	stride int
	w, h   int
	x, y   int
	done   bool
}

func (s *pixelSource) next() (int, bool) {
	if s.done {
		return 0, false
	}
	v := s.pix[s.y*s.stride+s.x]
	s.x++
	if s.x == s.w {
		s.x = 0
		s.y++
		if s.y == s.h {
			s.done = true
		}
	}
	return int(v) & 0xff, true
}

// lzwCompress runs the dictionary compressor over src and emits the packed
// image data through a fresh LzwPacker.
func lzwCompress(w io.Writer, src *pixelSource, codeSize int) error {
	p := NewLzwPacker(w, codeSize)
	if err := p.Begin(); err != nil {
		return err
	}

	htab := make([]int, hashSize)
	codetab := make([]int, hashSize)
	clearTable := func() {
		for i := range htab {
			htab[i] = -1
		}
	}
	clearTable()

	hshift := 0
	for fc := hashSize; fc < 65536; fc *= 2 {
		hshift++
	}
	hshift = 8 - hshift

	freeEnt := p.Clear() + 2
	ent, ok := src.next()
	if !ok {
		return p.Finish()
	}

outer:
	for {
		c, ok := src.next()
		if !ok {
			break
		}
		fcode := c<<lzwMaxBits + ent
		i := c<<uint(hshift) ^ ent
		if htab[i] == fcode {
			ent = codetab[i]
			continue
		}
		if htab[i] >= 0 {
			disp := hashSize - i
			if i == 0 {
				disp = 1
			}
			for {
				i -= disp
				if i < 0 {
					i += hashSize
				}
				if htab[i] == fcode {
					ent = codetab[i]
					continue outer
				}
				if htab[i] < 0 {
					break
				}
			}
		}
		if err := p.Push(ent); err != nil {
			return err
		}
		ent = c
		if freeEnt < 1<<lzwMaxBits {
			codetab[i] = freeEnt
			freeEnt++
			htab[i] = fcode
		} else {
			clearTable()
			freeEnt = p.Clear() + 2
			if err := p.Push(p.Clear()); err != nil {
				return err
			}
		}
	}

	if err := p.Push(ent); err != nil {
		return err
	}
	return p.Finish()
}
