package byzanz

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// RecorderState is the recorder's lifecycle position. Stopped and Error are
// terminal.
type RecorderState int32

const (
	StateCreated RecorderState = iota
	StatePrepared
	StateRecording
	StateStopped
	StateError
)

func (s RecorderState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePrepared:
		return "prepared"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return "error"
	}
}

// Recorder drives one recording session: it owns the job queue, the pump and
// the encoder worker, and walks the Created -> Prepared -> Recording ->
// Stopped state machine. Public operations must be called from a single
// goroutine (the application's event loop); IsActive and the byte counters
// may be read from anywhere.
type Recorder struct {
	cfg    Config
	source CaptureSource
	log    *zap.Logger

	area   Rect
	state  atomic.Int32
	gw     *GifWriter
	queue  *jobQueue
	cache  *FrameCache
	worker *EncoderWorker

	// mu guards pump, sub and termErr: the worker's error path touches them
	// from its own goroutine.
	mu   sync.Mutex
	pump *CapturePump
	sub  Subscription

	destroyed bool
	termErr   error
}

// RecorderOption adjusts a Recorder at construction.
type RecorderOption func(*Recorder)

// WithLogger routes the recorder's diagnostics through log instead of the
// default no-op logger.
func WithLogger(log *zap.Logger) RecorderOption {
	return func(r *Recorder) { r.log = log }
}

// NewRecorder builds a recorder writing a GIF to sink from the given capture
// source. The capture area is clipped to the screen; the encoder worker is
// started immediately so Prepare can hand it the palette snapshot.
func NewRecorder(sink io.Writer, source CaptureSource, cfg Config, opts ...RecorderOption) (*Recorder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	bpp, order := source.Format()
	if bpp != 3 && bpp != 4 {
		return nil, errors.Wrapf(ErrCaptureUnavailable, "unsupported pixel size %d", bpp)
	}
	area := cfg.Area
	if area.Empty() {
		area = source.ScreenRect()
	}
	area = area.Intersect(source.ScreenRect())
	if area.Empty() {
		return nil, errors.Wrap(ErrInvalidArgument, "capture area outside the screen")
	}

	r := &Recorder{
		cfg:    cfg,
		source: source,
		log:    zap.NewNop(),
		area:   area,
	}
	for _, o := range opts {
		o(r)
	}

	gw, err := OpenGifWriter(sink, area.W, area.H)
	if err != nil {
		return nil, err
	}
	r.gw = gw
	r.queue = newJobQueue()
	r.cache = newFrameCache(area, bpp, order, cfg.MaxCacheBytes, cfg.MaxSpillBytes, r.log)
	r.worker = newEncoderWorker(gw, r.cache, r.queue, area, cfg.MaxColors, cfg.Loop, r.workerFailed, r.log)
	go r.worker.run()
	r.state.Store(int32(StateCreated))
	return r, nil
}

// State returns the current lifecycle state.
func (r *Recorder) State() RecorderState {
	return RecorderState(r.state.Load())
}

// IsActive reports whether the recorder is between Start and Stop.
func (r *Recorder) IsActive() bool {
	return r.State() == StateRecording
}

// Err returns the terminal error once the recorder is in the Error state.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.termErr
}

// CacheBytes returns the RAM currently spent on captured frames.
func (r *Recorder) CacheBytes() int64 { return r.cache.RAMBytes() }

// SpillBytes returns the bytes currently parked in spill files.
func (r *Recorder) SpillBytes() int64 { return r.cache.SpillBytes() }

func (r *Recorder) requireState(s RecorderState, op string) error {
	if got := r.State(); got != s {
		return errors.Wrapf(ErrInvalidState, "%s in state %s", op, got)
	}
	return nil
}

func (r *Recorder) toError(err error) {
	r.mu.Lock()
	r.termErr = multierr.Append(r.termErr, err)
	r.mu.Unlock()
	r.state.Store(int32(StateError))
}

// workerFailed runs on the encoder goroutine when the worker hits a terminal
// error: the recorder goes to Error and the pump stops capturing immediately,
// while the worker itself keeps draining best-effort until its quit job.
func (r *Recorder) workerFailed(err error) {
	r.mu.Lock()
	r.termErr = multierr.Append(r.termErr, err)
	pump, sub := r.pump, r.sub
	r.mu.Unlock()
	r.state.Store(int32(StateError))
	if pump != nil {
		pump.halt()
	}
	if sub != nil {
		if cerr := sub.Close(); cerr != nil {
			r.log.Warn("closing damage subscription", zap.Error(cerr))
		}
	}
}

// Prepare captures one full snapshot of the area and hands it to the worker
// as the palette-building frame; it doubles as the recording's first frame.
func (r *Recorder) Prepare() error {
	if err := r.requireState(StateCreated, "prepare"); err != nil {
		return err
	}
	img := r.cache.Acquire()
	if img == nil {
		err := errors.Wrap(ErrOutOfMemory, "initial snapshot")
		r.toError(err)
		return err
	}
	if err := r.source.Snapshot(r.area, img, 0, 0); err != nil {
		r.cache.Release(img)
		err = errors.Wrap(err, "initial snapshot")
		r.toError(err)
		return err
	}
	frame := &Frame{
		Timestamp: time.Now(),
		Dirty:     RegionFromRect(Rect{W: r.area.W, H: r.area.H}),
		Image:     img,
	}
	r.queue.pushWait(job{typ: jobQuantize, ts: frame.Timestamp, frame: frame})
	r.state.Store(int32(StatePrepared))
	return nil
}

// Start subscribes to damage events and begins pumping frames.
func (r *Recorder) Start() error {
	if err := r.requireState(StatePrepared, "start"); err != nil {
		return err
	}
	sub, err := r.source.Subscribe(r.area)
	if err != nil {
		err = errors.Wrap(err, "damage subscription")
		r.toError(err)
		return err
	}
	pump := newCapturePump(r.area, time.Duration(r.cfg.FrameDurationMs)*time.Millisecond,
		r.source, sub, r.cache, r.queue, r.cfg.MaxSpillBytes > 0, r.log)
	r.mu.Lock()
	r.sub = sub
	r.pump = pump
	r.mu.Unlock()
	go pump.run()
	r.state.Store(int32(StateRecording))
	r.log.Info("recording", zap.Stringer("area", r.area))
	return nil
}

// Stop ends capturing and tells the worker to finish the file. The worker
// keeps draining buffered and spilled frames; Destroy waits for it.
func (r *Recorder) Stop() error {
	if err := r.requireState(StateRecording, "stop"); err != nil {
		return err
	}
	now := time.Now()
	r.mu.Lock()
	pump, sub := r.pump, r.sub
	r.mu.Unlock()
	pump.halt()
	if err := sub.Close(); err != nil {
		r.log.Warn("closing damage subscription", zap.Error(err))
	}
	// the pump is down, so nothing else races for queue room
	r.queue.pushWait(job{typ: jobQuit, ts: now})
	// the worker may have flipped to Error meanwhile; Error stays terminal
	r.state.CompareAndSwap(int32(StateRecording), int32(StateStopped))
	return nil
}

// Destroy advances the state machine to its end, waits for the encoder to
// finish the GIF, and releases every resource including spill files. It is
// idempotent and never fails; problems are logged and readable via Err.
func (r *Recorder) Destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	for {
		var err error
		switch r.State() {
		case StateCreated:
			err = r.Prepare()
		case StatePrepared:
			err = r.Start()
		case StateRecording:
			err = r.Stop()
		default:
			err = nil
		}
		if err != nil {
			r.log.Warn("advancing state for destroy", zap.Error(err))
		}
		if s := r.State(); s == StateStopped || s == StateError {
			break
		}
	}
	if r.State() == StateError {
		// the worker may never have seen a quit job
		r.queue.pushWait(job{typ: jobQuit, ts: time.Now()})
	}
	// worker errors were already delivered through workerFailed
	<-r.worker.done
	r.cache.drain()
	if err := r.source.Close(); err != nil {
		r.log.Warn("closing capture source", zap.Error(err))
	}
}

// Record runs a complete session: wait the configured delay, prepare, record
// for the configured duration, then finalize the GIF.
func Record(sink io.Writer, source CaptureSource, cfg Config, opts ...RecorderOption) error {
	r, err := NewRecorder(sink, source, cfg, opts...)
	if err != nil {
		return err
	}
	defer r.Destroy()
	time.Sleep(time.Duration(cfg.DelayMs) * time.Millisecond)
	if err := r.Prepare(); err != nil {
		return err
	}
	if err := r.Start(); err != nil {
		return err
	}
	time.Sleep(time.Duration(cfg.DurationMs) * time.Millisecond)
	if err := r.Stop(); err != nil {
		return err
	}
	r.Destroy()
	return r.Err()
}
