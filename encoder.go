package byzanz

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Delays are biased by 5 ms to compensate for GIF's 10 ms tick granularity,
// and never written below one tick.
const (
	delayBias = 5 * time.Millisecond
	delayMin  = 10
)

// EncoderWorker is the single consumer of the job queue. It owns the GIF
// writer, the octree, the ditherer and the spill files; nothing else touches
// them. Frames are encoded one behind: a frame's pixels are dithered into the
// index buffer and written out only when the next frame's timestamp fixes its
// display delay.
type EncoderWorker struct {
	gw        *GifWriter
	cache     *FrameCache
	queue     *jobQueue
	area      Rect
	maxColors int
	loop      bool
	log       *zap.Logger

	palette    *Palette
	dither     *Ditherer
	buf        []byte // area.W*area.H palette indices
	relevant   Rect   // clipbox of the pending frame
	hasPending bool
	current    time.Time

	err     error
	onError func(error) // delivers terminal errors to the recorder
	done    chan struct{}
}

func newEncoderWorker(gw *GifWriter, cache *FrameCache, queue *jobQueue,
	area Rect, maxColors int, loop bool, onError func(error), log *zap.Logger) *EncoderWorker {
	return &EncoderWorker{
		gw:        gw,
		cache:     cache,
		queue:     queue,
		area:      area,
		maxColors: maxColors,
		loop:      loop,
		onError:   onError,
		log:       log,
		done:      make(chan struct{}),
	}
}

// Err returns the accumulated terminal errors, if any. Valid after done is
// closed.
func (w *EncoderWorker) Err() error { return w.err }

// fail records a terminal error and reports it upstream right away, so the
// recorder can halt the pump instead of feeding a broken encoder.
func (w *EncoderWorker) fail(err error) {
	w.log.Error("encoder error", zap.Error(err))
	w.err = multierr.Append(w.err, err)
	if w.onError != nil {
		w.onError(err)
	}
}

// run is the worker loop. In spill mode stored frames are drained
// opportunistically whenever no job is ready.
func (w *EncoderWorker) run() {
	defer close(w.done)
	quit := false
	var quitTS time.Time
loop:
	for {
		var j job
		if w.cache.Spilling() {
			for {
				var ok bool
				if j, ok = w.queue.tryPop(); ok {
					break
				}
				if w.processStored() {
					continue
				}
				if quit {
					break loop
				}
				j = w.queue.pop()
				break
			}
		} else {
			if quit {
				break
			}
			j = w.queue.pop()
		}

		switch j.typ {
		case jobQuantize:
			w.quantize(j.frame)
			w.cache.Release(j.frame.Image)
		case jobEncode:
			w.encode(j.frame)
			w.cache.Release(j.frame.Image)
		case jobUseSpill:
			w.cache.SpillEnable()
		case jobQuit:
			quitTS = j.ts
			quit = true
		}
	}

	// final frame carries the stop timestamp
	w.emitPending(quitTS)
	if w.err == nil {
		if err := w.gw.Close(); err != nil {
			w.fail(err)
		}
	} else {
		_ = w.gw.Close()
	}
	w.cache.SpillCleanup()
}

// quantize builds the recording's palette from the initial full snapshot and
// encodes that snapshot as the first frame. Happens exactly once.
func (w *EncoderWorker) quantize(frame *Frame) {
	if w.palette != nil {
		w.fail(errors.Wrap(ErrInvalidState, "second quantize job"))
		return
	}
	palette, err := Quantize(frame.Image, w.maxColors, true)
	if err != nil {
		w.fail(err)
		return
	}
	w.log.Info("palette built", zap.Int("colors", palette.NumColors()))
	if err := w.gw.SetPalette(palette); err != nil {
		w.fail(err)
		return
	}
	if w.loop {
		if err := w.gw.SetLooping(); err != nil {
			w.fail(err)
			return
		}
	}
	w.palette = palette
	w.dither = NewDitherer(palette)
	w.buf = make([]byte, w.area.W*w.area.H)
	transparent := palette.TransparentIndex()
	for i := range w.buf {
		w.buf[i] = transparent
	}
	w.current = frame.Timestamp
	w.ditherFrame(frame)
}

// encode handles one captured frame: spilled to disk when in spill mode,
// otherwise the pending frame is written and this one becomes pending.
func (w *EncoderWorker) encode(frame *Frame) {
	if w.palette == nil {
		w.fail(errors.Wrap(ErrInvalidState, "encode before quantize"))
		return
	}
	if w.cache.Spilling() {
		for {
			stored, err := w.cache.SpillStore(frame)
			if err != nil {
				w.fail(err)
				return
			}
			if stored {
				return
			}
			if !w.processStored() {
				// both tiers exhausted; the frame is lost but the recording
				// goes on
				w.log.Warn("spill cache exhausted, dropping frame",
					zap.Time("timestamp", frame.Timestamp))
				return
			}
		}
	}
	w.emitPending(frame.Timestamp)
	w.ditherFrame(frame)
}

// ditherFrame renders frame's dirty rects into the index buffer and records
// its clipbox as the pending frame.
func (w *EncoderWorker) ditherFrame(frame *Frame) {
	img := frame.Image
	fetch := func(r Rect) (*Image, int, int, error) {
		return img, r.X, r.Y, nil
	}
	clip, err := w.dither.DitherRegion(w.buf, w.area.W, frame.Dirty, fetch)
	if err != nil {
		w.fail(err)
		return
	}
	w.relevant = clip
	w.hasPending = true
}

// emitPending writes the pending frame, displayed until ts.
func (w *EncoderWorker) emitPending(ts time.Time) {
	if !w.hasPending {
		w.current = ts
		return
	}
	delay := int((ts.Sub(w.current) + delayBias) / time.Millisecond)
	if delay < delayMin {
		delay = delayMin
	}
	if w.err == nil {
		off := w.relevant.Y*w.area.W + w.relevant.X
		if err := w.gw.AddImage(w.relevant, delay, w.buf[off:], w.area.W); err != nil {
			w.fail(err)
		}
	}
	w.current = ts
	w.hasPending = false
}

// processStored encodes the oldest spilled frame. Returns false when none is
// queued.
func (w *EncoderWorker) processStored() bool {
	sf := w.cache.SpillPop()
	if sf == nil {
		return false
	}
	w.emitPending(sf.Timestamp)
	clip, err := w.dither.DitherRegion(w.buf, w.area.W, sf.Region, w.cache.SpillFetch(sf))
	if err != nil {
		w.fail(err)
	} else {
		w.relevant = clip
		w.hasPending = true
	}
	w.cache.SpillRelease(sf)
	return true
}
