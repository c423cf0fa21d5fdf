package byzanz

import (
	"bytes"
	"compress/lzw"
	"io"
	"math/rand"
	"testing"
)

// deframe strips the initial code size byte and the sub-block framing,
// returning the raw LZW bitstream and the code size.
func deframe(t *testing.T, data []byte) (int, []byte) {
	t.Helper()
	if len(data) < 2 {
		t.Fatal("output too short")
	}
	codeSize := int(data[0])
	var raw []byte
	i := 1
	for {
		if i >= len(data) {
			t.Fatal("missing block terminator")
		}
		n := int(data[i])
		i++
		if n == 0 {
			break
		}
		if i+n > len(data) {
			t.Fatalf("truncated sub-block of %d bytes", n)
		}
		raw = append(raw, data[i:i+n]...)
		i += n
	}
	if i != len(data) {
		t.Errorf("%d trailing bytes after terminator", len(data)-i)
	}
	return codeSize, raw
}

// bitReader mirrors the packer: LSB-first codes crossing byte boundaries,
// width growing in lockstep with the implied dictionary.
type bitReader struct {
	data  []byte
	pos   int
	acc   uint32
	nbits uint
}

func (br *bitReader) read(width int) (int, bool) {
	for br.nbits < uint(width) {
		if br.pos >= len(br.data) {
			return 0, false
		}
		br.acc |= uint32(br.data[br.pos]) << br.nbits
		br.pos++
		br.nbits += 8
	}
	code := int(br.acc & ((1 << uint(width)) - 1))
	br.acc >>= uint(width)
	br.nbits -= uint(width)
	return code, true
}

// unpack reads codes back from a packed stream until END-OF-INFORMATION.
func unpack(t *testing.T, data []byte) []int {
	t.Helper()
	codeSize, raw := deframe(t, data)
	clear := 1 << uint(codeSize)
	eoi := clear + 1
	width := codeSize + 1
	free := clear + 2
	br := &bitReader{data: raw}
	var codes []int
	for {
		code, ok := br.read(width)
		if !ok {
			t.Fatal("bitstream ended before END-OF-INFORMATION")
		}
		codes = append(codes, code)
		if code == eoi {
			return codes
		}
		if code == clear {
			width = codeSize + 1
			free = clear + 2
			continue
		}
		if free > (1<<uint(width))-1 && width < lzwMaxBits {
			width++
		}
		free++
	}
}

func TestLzwPackerRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, codeSize := range []int{2, 4, 8} {
		clear := 1 << uint(codeSize)
		var buf bytes.Buffer
		p := NewLzwPacker(&buf, codeSize)
		if err := p.Begin(); err != nil {
			t.Fatal(err)
		}
		// literals with occasional clears, enough to walk the width up to 12
		want := []int{clear}
		for i := 0; i < 8000; i++ {
			var code int
			if i > 0 && i%3000 == 0 {
				code = clear
			} else {
				code = rng.Intn(clear)
			}
			want = append(want, code)
			if err := p.Push(code); err != nil {
				t.Fatal(err)
			}
		}
		if err := p.Finish(); err != nil {
			t.Fatal(err)
		}
		want = append(want, clear+1)

		got := unpack(t, buf.Bytes())
		if len(got) != len(want) {
			t.Fatalf("codeSize %d: %d codes back, want %d", codeSize, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("codeSize %d: code[%d] = %d, want %d", codeSize, i, got[i], want[i])
			}
		}
	}
}

func TestLzwPackerInitialByte(t *testing.T) {
	var buf bytes.Buffer
	p := NewLzwPacker(&buf, 8)
	if err := p.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := p.Finish(); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	if data[0] != 8 {
		t.Errorf("initial code size byte = %d, want 8", data[0])
	}
	if data[len(data)-1] != 0 {
		t.Error("missing zero-length terminator")
	}
}

func TestLzwCompressDecodesWithStdlib(t *testing.T) {
	// checkerboard over a handful of indices compresses and decodes exactly
	const w, h = 61, 37
	pix := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pix[y*w+x] = byte((x + y) % 5)
		}
	}
	var buf bytes.Buffer
	src := &pixelSource{pix: pix, stride: w, w: w, h: h}
	if err := lzwCompress(&buf, src, 3); err != nil {
		t.Fatalf("lzwCompress: %v", err)
	}
	codeSize, raw := deframe(t, buf.Bytes())
	if codeSize != 3 {
		t.Fatalf("code size = %d, want 3", codeSize)
	}
	r := lzw.NewReader(bytes.NewReader(raw), lzw.LSB, codeSize)
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("stdlib decode: %v", err)
	}
	if !bytes.Equal(got, pix) {
		t.Fatalf("decoded %d bytes differ from source", len(got))
	}
}

func TestLzwCompressSubRect(t *testing.T) {
	// only the addressed window is encoded
	const stride, w, h = 10, 4, 3
	pix := make([]byte, stride*h)
	for i := range pix {
		pix[i] = byte(i % 7)
	}
	var buf bytes.Buffer
	src := &pixelSource{pix: pix, stride: stride, w: w, h: h}
	if err := lzwCompress(&buf, src, 3); err != nil {
		t.Fatal(err)
	}
	_, raw := deframe(t, buf.Bytes())
	r := lzw.NewReader(bytes.NewReader(raw), lzw.LSB, 3)
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	var want []byte
	for y := 0; y < h; y++ {
		want = append(want, pix[y*stride:y*stride+w]...)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("decoded window = %v, want %v", got, want)
	}
}
