package byzanz

import (
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/damage"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const regionNone = xfixes.Region(0)

// X11Source captures the root window of the default X display. Damage events
// come from the DAMAGE extension; snapshots are GetImage blits. Construction
// fails with ErrCaptureUnavailable when the extensions are missing or the
// root depth is not 24 or 32 bit.
type X11Source struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen Rect
	order  ByteOrder
	cursor bool
	log    *zap.Logger
}

// NewX11Source connects to the default display. When recordCursor is set,
// snapshots get the current cursor image composited on top.
func NewX11Source(recordCursor bool, log *zap.Logger) (*X11Source, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, errors.Wrapf(ErrCaptureUnavailable, "connect to X server: %v", err)
	}
	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)
	if screen.RootDepth != 24 && screen.RootDepth != 32 {
		conn.Close()
		return nil, errors.Wrapf(ErrCaptureUnavailable, "root depth %d, need 24 or 32", screen.RootDepth)
	}
	if err := damage.Init(conn); err != nil {
		conn.Close()
		return nil, errors.Wrapf(ErrCaptureUnavailable, "DAMAGE extension: %v", err)
	}
	if err := xfixes.Init(conn); err != nil {
		conn.Close()
		return nil, errors.Wrapf(ErrCaptureUnavailable, "XFIXES extension: %v", err)
	}
	// negotiate XFIXES >= 2 so region objects and cursor images exist
	if _, err := xfixes.QueryVersion(conn, 5, 0).Reply(); err != nil {
		conn.Close()
		return nil, errors.Wrapf(ErrCaptureUnavailable, "XFIXES version: %v", err)
	}
	order := LittleEndian
	if setup.ImageByteOrder == 1 {
		order = BigEndian
	}
	return &X11Source{
		conn:   conn,
		root:   screen.Root,
		screen: Rect{W: int(screen.WidthInPixels), H: int(screen.HeightInPixels)},
		order:  order,
		cursor: recordCursor,
		log:    log,
	}, nil
}

// ScreenRect returns the root window geometry.
func (s *X11Source) ScreenRect() Rect { return s.screen }

// Format returns the snapshot pixel layout: 32-bit pixels in the server's
// image byte order.
func (s *X11Source) Format() (int, ByteOrder) { return 4, s.order }

// Close shuts the display connection down, which also terminates the event
// loop of an active subscription.
func (s *X11Source) Close() error {
	s.conn.Close()
	return nil
}

type x11Subscription struct {
	src       *X11Source
	dmg       damage.Damage
	damaged   xfixes.Region // accumulated unacknowledged damage, server side
	tmp       xfixes.Region
	events    chan DamageEvent
	closed    chan struct{}
	closeOnce sync.Once
}

// Subscribe creates a Damage object on the root window reporting delta
// rectangles and starts the event loop feeding the returned subscription.
func (s *X11Source) Subscribe(area Rect) (Subscription, error) {
	dmg, err := damage.NewDamageId(s.conn)
	if err != nil {
		return nil, errors.Wrapf(ErrCaptureUnavailable, "damage id: %v", err)
	}
	if err := damage.CreateChecked(s.conn, dmg, xproto.Drawable(s.root),
		damage.ReportLevelDeltaRectangles).Check(); err != nil {
		return nil, errors.Wrapf(ErrCaptureUnavailable, "damage create: %v", err)
	}
	damaged, err := xfixes.NewRegionId(s.conn)
	if err != nil {
		return nil, errors.Wrapf(ErrCaptureUnavailable, "region id: %v", err)
	}
	xfixes.CreateRegion(s.conn, damaged, nil)
	tmp, err := xfixes.NewRegionId(s.conn)
	if err != nil {
		return nil, errors.Wrapf(ErrCaptureUnavailable, "region id: %v", err)
	}
	xfixes.CreateRegion(s.conn, tmp, nil)

	sub := &x11Subscription{
		src:     s,
		dmg:     dmg,
		damaged: damaged,
		tmp:     tmp,
		events:  make(chan DamageEvent, 128),
		closed:  make(chan struct{}),
	}
	go sub.eventLoop()
	return sub, nil
}

// eventLoop forwards damage notifications until the subscription or the
// display connection goes away.
func (sub *x11Subscription) eventLoop() {
	defer close(sub.events)
	for {
		ev, xerr := sub.src.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			return // connection closed
		}
		if xerr != nil {
			sub.src.log.Warn("X error", zap.String("error", xerr.Error()))
			continue
		}
		dev, ok := ev.(damage.NotifyEvent)
		if !ok || dev.Damage != sub.dmg {
			continue
		}
		// mirror the damage into the server-side region so Ack can subtract
		// exactly what was consumed
		xfixes.SetRegion(sub.src.conn, sub.tmp, []xproto.Rectangle{dev.Area})
		xfixes.UnionRegion(sub.src.conn, sub.damaged, sub.tmp, sub.damaged)
		r := Rect{
			X: int(dev.Area.X), Y: int(dev.Area.Y),
			W: int(dev.Area.Width), H: int(dev.Area.Height),
		}
		select {
		case sub.events <- DamageEvent{Rect: r}:
		case <-sub.closed:
			return
		}
	}
}

func (sub *x11Subscription) Events() <-chan DamageEvent { return sub.events }

// Ack subtracts the damage mirrored so far, so only changes that happened
// after the snapshot get reported again.
func (sub *x11Subscription) Ack() error {
	damage.Subtract(sub.src.conn, sub.dmg, sub.damaged, regionNone)
	xfixes.SetRegion(sub.src.conn, sub.damaged, nil)
	return nil
}

func (sub *x11Subscription) Close() error {
	sub.closeOnce.Do(func() {
		close(sub.closed)
		damage.Destroy(sub.src.conn, sub.dmg)
		xfixes.DestroyRegion(sub.src.conn, sub.damaged)
		xfixes.DestroyRegion(sub.src.conn, sub.tmp)
	})
	return nil
}

// Snapshot blits the screen rectangle src into dst at (dstX, dstY).
func (s *X11Source) Snapshot(src Rect, dst *Image, dstX, dstY int) error {
	reply, err := xproto.GetImage(s.conn, xproto.ImageFormatZPixmap,
		xproto.Drawable(s.root), int16(src.X), int16(src.Y),
		uint16(src.W), uint16(src.H), 0xffffffff).Reply()
	if err != nil {
		return errors.Wrapf(ErrIo, "GetImage %v: %v", src, err)
	}
	srcStride := len(reply.Data) / src.H
	srcBpp := srcStride / src.W
	if srcBpp == dst.Bpp {
		for y := 0; y < src.H; y++ {
			dstOff := (dstY+y)*dst.Stride + dstX*dst.Bpp
			copy(dst.Pix[dstOff:dstOff+src.W*dst.Bpp], reply.Data[y*srcStride:])
		}
	} else {
		// server handed back a different pixel size; copy triplet-wise
		tmp := &Image{
			Rect:   Rect{W: src.W, H: src.H},
			Bpp:    srcBpp,
			Stride: srcStride,
			Order:  s.order,
			Pix:    reply.Data,
		}
		for y := 0; y < src.H; y++ {
			for x := 0; x < src.W; x++ {
				r, g, b := tmp.RGBAt(x, y)
				dst.SetRGB(dstX+x, dstY+y, r, g, b)
			}
		}
	}
	if s.cursor {
		s.overlayCursor(src, dst, dstX, dstY)
	}
	return nil
}

// overlayCursor composites the current cursor image over the blitted
// rectangle. Cursor pixels are ARGB with premultiplied alpha.
func (s *X11Source) overlayCursor(src Rect, dst *Image, dstX, dstY int) {
	reply, err := xfixes.GetCursorImage(s.conn).Reply()
	if err != nil {
		s.log.Debug("cursor image unavailable", zap.Error(err))
		return
	}
	cur := Rect{
		X: int(reply.X) - int(reply.Xhot),
		Y: int(reply.Y) - int(reply.Yhot),
		W: int(reply.Width),
		H: int(reply.Height),
	}
	clip := cur.Intersect(src)
	if clip.Empty() {
		return
	}
	for y := 0; y < clip.H; y++ {
		for x := 0; x < clip.W; x++ {
			px := reply.CursorImage[(clip.Y-cur.Y+y)*cur.W+(clip.X-cur.X+x)]
			a := uint32(px >> 24)
			if a == 0 {
				continue
			}
			cr := uint32(px >> 16 & 0xff)
			cg := uint32(px >> 8 & 0xff)
			cb := uint32(px & 0xff)
			ix := dstX + clip.X - src.X + x
			iy := dstY + clip.Y - src.Y + y
			ur, ug, ub := dst.RGBAt(ix, iy)
			dst.SetRGB(ix, iy,
				uint8(cr+uint32(ur)*(255-a)/255),
				uint8(cg+uint32(ug)*(255-a)/255),
				uint8(cb+uint32(ub)*(255-a)/255))
		}
	}
}
