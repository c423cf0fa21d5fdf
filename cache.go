package byzanz

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// FrameCache bounds the memory spent on captured frames. The RAM tier hands
// out full-area image buffers and recycles them through a free list; the
// spill tier stores dirty-rect bytes in rotating temp files once the worker
// has been told to use it. The pump only ever touches the RAM tier; the spill
// tier and its file handles belong to the encoder worker. Byte counters are
// atomic so either side may read them.
type FrameCache struct {
	area  Rect
	bpp   int
	order ByteOrder

	maxRAM      int64
	maxSpill    int64
	maxFileSize int64

	curRAM   atomic.Int64
	curSpill atomic.Int64

	free chan *Image
	log  *zap.Logger

	// spill state, worker goroutine only
	stored   []*StoredFrame
	curFile  *spillFile
	readBuf  []byte
	spilling bool
}

// spillFile is one rotating cache file; size is its final byte length once
// sealed.
type spillFile struct {
	f    *os.File
	name string
	size int64
}

// StoredFrame locates one spilled frame: for each disjoint rect of Region,
// rows of W*bpp bytes follow each other starting at offset. The frame that
// pushed its file past the rotation threshold owns the file's deletion.
type StoredFrame struct {
	Timestamp time.Time
	Region    *Region
	Bpp       int
	file      *spillFile
	offset    int64
	ownsFile  bool
}

func newFrameCache(area Rect, bpp int, order ByteOrder, maxRAM, maxSpill int64, log *zap.Logger) *FrameCache {
	maxFile := maxSpill / 16
	if maxFile <= 0 {
		maxFile = 1
	}
	return &FrameCache{
		area:        area,
		bpp:         bpp,
		order:       order,
		maxRAM:      maxRAM,
		maxSpill:    maxSpill,
		maxFileSize: maxFile,
		free:        make(chan *Image, 64),
		log:         log,
	}
}

// RAMBytes returns the bytes currently accounted to the RAM tier.
func (c *FrameCache) RAMBytes() int64 { return c.curRAM.Load() }

// SpillBytes returns the bytes currently stored in spill files.
func (c *FrameCache) SpillBytes() int64 { return c.curSpill.Load() }

// Acquire returns a full-area image buffer, reusing a pooled one when
// available. It returns nil when the RAM budget is exhausted; the caller
// drops the snapshot and lets damage accumulate.
func (c *FrameCache) Acquire() *Image {
	select {
	case img := <-c.free:
		return img
	default:
	}
	size := int64(c.area.W * c.area.H * c.bpp)
	if c.curRAM.Load()+size > c.maxRAM {
		return nil
	}
	c.curRAM.Add(size)
	return NewImage(Rect{W: c.area.W, H: c.area.H}, c.bpp, c.order)
}

// Release returns an image buffer to the pool. Buffers that do not fit the
// pool are freed and their bytes given back to the budget.
func (c *FrameCache) Release(img *Image) {
	if img == nil {
		return
	}
	select {
	case c.free <- img:
	default:
		c.curRAM.Sub(int64(img.Size()))
	}
}

// drain empties the free list, un-accounting every pooled buffer.
func (c *FrameCache) drain() {
	for {
		select {
		case img := <-c.free:
			c.curRAM.Sub(int64(img.Size()))
		default:
			return
		}
	}
}

/*** spill tier, encoder worker only ***/

// SpillEnable allocates the spill read buffer; the cache is in spill mode
// afterwards.
func (c *FrameCache) SpillEnable() {
	if c.spilling {
		return
	}
	c.spilling = true
	c.readBuf = make([]byte, 4*64*64)
}

// Spilling reports whether SpillEnable has been called.
func (c *FrameCache) Spilling() bool { return c.spilling }

// SpillPending reports whether stored frames are waiting to be encoded.
func (c *FrameCache) SpillPending() bool { return len(c.stored) > 0 }

// SpillStore writes frame's dirty-rect bytes to the current cache file. It
// returns false without writing anything when the frame would not fit the
// spill budget; the caller frees room by processing a stored frame first.
func (c *FrameCache) SpillStore(frame *Frame) (bool, error) {
	size := int64(0)
	for _, r := range frame.Dirty.Rects() {
		size += int64(r.W * r.H * frame.Image.Bpp)
	}
	if c.curSpill.Load()+size > c.maxSpill {
		c.log.Warn("spill cache full",
			zap.Int64("cur", c.curSpill.Load()), zap.Int64("frame", size),
			zap.Int64("max", c.maxSpill))
		return false, nil
	}
	if c.curFile == nil {
		f, err := os.CreateTemp("", "byzanzcache*")
		if err != nil {
			return false, errors.Wrapf(ErrIo, "create spill file: %v", err)
		}
		c.curFile = &spillFile{f: f, name: f.Name()}
	}
	sf := &StoredFrame{
		Timestamp: frame.Timestamp,
		Region:    frame.Dirty,
		Bpp:       frame.Image.Bpp,
		file:      c.curFile,
		offset:    c.curFile.size,
	}
	written := int64(0)
	for _, r := range frame.Dirty.Rects() {
		for line := 0; line < r.H; line++ {
			off := (r.Y+line)*frame.Image.Stride + r.X*frame.Image.Bpp
			n, err := c.curFile.f.Write(frame.Image.Pix[off : off+r.W*frame.Image.Bpp])
			written += int64(n)
			if err != nil {
				c.curFile.size += written
				c.curSpill.Add(written)
				return false, errors.Wrapf(ErrIo, "write spill file: %v", err)
			}
		}
	}
	c.curFile.size += written
	c.curSpill.Add(written)
	c.stored = append(c.stored, sf)
	if c.curFile.size >= c.maxFileSize {
		// seal the file; the frame that crossed the threshold deletes it
		c.log.Info("spill file sealed",
			zap.String("file", c.curFile.name), zap.Int64("size", c.curFile.size))
		sf.ownsFile = true
		c.curFile = nil
	}
	return true, nil
}

// SpillPop dequeues the oldest stored frame, or nil.
func (c *FrameCache) SpillPop() *StoredFrame {
	if len(c.stored) == 0 {
		return nil
	}
	sf := c.stored[0]
	c.stored = c.stored[1:]
	return sf
}

// SpillFetch returns a rectFetch reading sf's rects in storage order. Rects
// must be fetched exactly in Region enumeration order.
func (c *FrameCache) SpillFetch(sf *StoredFrame) rectFetch {
	offset := sf.offset
	return func(r Rect) (*Image, int, int, error) {
		need := r.W * r.H * sf.Bpp
		if need > len(c.readBuf) {
			c.readBuf = make([]byte, need)
		}
		if _, err := sf.file.f.ReadAt(c.readBuf[:need], offset); err != nil {
			return nil, 0, 0, errors.Wrapf(ErrIo, "read spill file: %v", err)
		}
		offset += int64(need)
		img := &Image{
			Rect:   Rect{W: r.W, H: r.H},
			Bpp:    sf.Bpp,
			Stride: r.W * sf.Bpp,
			Order:  c.order,
			Pix:    c.readBuf[:need],
		}
		return img, 0, 0, nil
	}
}

// SpillRelease retires a processed stored frame, deleting its file when the
// frame owns the closure.
func (c *FrameCache) SpillRelease(sf *StoredFrame) {
	if !sf.ownsFile {
		return
	}
	c.removeFile(sf.file)
}

func (c *FrameCache) removeFile(sf *spillFile) {
	c.curSpill.Sub(sf.size)
	if err := sf.f.Close(); err != nil {
		c.log.Warn("close spill file", zap.String("file", sf.name), zap.Error(err))
	}
	if err := os.Remove(sf.name); err != nil {
		c.log.Warn("remove spill file", zap.String("file", sf.name), zap.Error(err))
	}
}

// SpillCleanup deletes every remaining spill file, including a still-open
// write file. Stored frames that shared a deleted file are dropped.
func (c *FrameCache) SpillCleanup() {
	seen := make(map[*spillFile]bool)
	for _, sf := range c.stored {
		if !seen[sf.file] {
			seen[sf.file] = true
			if sf.file != c.curFile {
				c.removeFile(sf.file)
			}
		}
	}
	c.stored = nil
	if c.curFile != nil {
		c.removeFile(c.curFile)
		c.curFile = nil
	}
	c.readBuf = nil
	c.spilling = false
}
