package byzanz

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CapturePump runs on the recorder's event goroutine. It coalesces damage
// into a pending region, snapshots the damaged pixels into a cache buffer on
// timer ticks, and enqueues encode jobs. When the cache refuses a buffer the
// tick is skipped and the damage stays pending for the next one.
type CapturePump struct {
	area          Rect
	frameDuration time.Duration
	source        CaptureSource
	sub           Subscription
	cache         *FrameCache
	queue         *jobQueue
	log           *zap.Logger

	pending       *Region
	timer         *time.Timer
	timerArmed    bool
	spillSignaled bool
	useSpill      bool // spill tier configured at all

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newCapturePump(area Rect, frameDuration time.Duration, source CaptureSource,
	sub Subscription, cache *FrameCache, queue *jobQueue, useSpill bool, log *zap.Logger) *CapturePump {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return &CapturePump{
		area:          area,
		frameDuration: frameDuration,
		source:        source,
		sub:           sub,
		cache:         cache,
		queue:         queue,
		log:           log,
		pending:       NewRegion(),
		timer:         t,
		useSpill:      useSpill,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// run is the pump's event loop.
func (p *CapturePump) run() {
	defer close(p.done)
	for {
		select {
		case ev, ok := <-p.sub.Events():
			if !ok {
				return
			}
			p.damage(ev.Rect)
		case <-p.timer.C:
			p.timerArmed = false
			p.tick()
		case <-p.stop:
			p.disarm()
			return
		}
	}
}

// halt stops the event loop and waits for it to drain. Safe to call from
// both the recorder and the worker's error path.
func (p *CapturePump) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

// damage folds a dirty rect into the pending region and schedules a flush as
// soon as the loop goes idle.
func (p *CapturePump) damage(r Rect) {
	r = r.Intersect(p.area)
	if r.Empty() {
		return
	}
	p.pending.UnionRect(r)
	if !p.timerArmed {
		p.arm(0)
	}
}

// tick snapshots pending damage, or lets the timer lapse when there is none.
func (p *CapturePump) tick() {
	if p.pending.Empty() {
		return
	}
	if !p.snapshot() {
		// keep polling; the damage stays pending
		p.arm(p.frameDuration)
	}
}

// snapshot copies the damaged pixels into a cache buffer and enqueues an
// encode job. It reports false when no buffer or queue slot was available.
func (p *CapturePump) snapshot() bool {
	img := p.cache.Acquire()
	if img == nil {
		p.log.Debug("snapshot dropped, cache budget exhausted",
			zap.Int64("ramBytes", p.cache.RAMBytes()))
		return false
	}
	p.maybeSignalSpill()

	for _, r := range p.pending.Rects() {
		if err := p.source.Snapshot(r, img, r.X-p.area.X, r.Y-p.area.Y); err != nil {
			p.log.Error("snapshot blit failed", zap.Stringer("rect", r), zap.Error(err))
			p.cache.Release(img)
			return false
		}
	}
	dirty := p.pending
	dirty.Translate(-p.area.X, -p.area.Y)
	frame := &Frame{Timestamp: time.Now(), Dirty: dirty, Image: img}

	if !p.queue.push(job{typ: jobEncode, ts: frame.Timestamp, frame: frame}) {
		p.log.Debug("snapshot dropped, job queue full")
		dirty.Translate(p.area.X, p.area.Y)
		p.cache.Release(img)
		return false
	}
	p.pending = NewRegion()
	if err := p.sub.Ack(); err != nil {
		p.log.Warn("damage acknowledge failed", zap.Error(err))
	}
	p.arm(p.frameDuration)
	return true
}

// maybeSignalSpill tells the worker to start using the disk tier once RAM
// usage crosses half the budget. Sent at most once per recording.
func (p *CapturePump) maybeSignalSpill() {
	if p.spillSignaled || !p.useSpill {
		return
	}
	if p.cache.RAMBytes() < p.cache.maxRAM/2 {
		return
	}
	if p.queue.push(job{typ: jobUseSpill}) {
		p.spillSignaled = true
		p.log.Info("switching to spill cache", zap.Int64("ramBytes", p.cache.RAMBytes()))
	}
}

func (p *CapturePump) arm(d time.Duration) {
	p.disarm()
	p.timer.Reset(d)
	p.timerArmed = true
}

func (p *CapturePump) disarm() {
	if !p.timer.Stop() {
		select {
		case <-p.timer.C:
		default:
		}
	}
	p.timerArmed = false
}
