package byzanz

// DamageEvent reports that a rectangle of the captured surface changed since
// the damage was last acknowledged. Coordinates are in screen space.
type DamageEvent struct {
	Rect Rect
}

// Subscription delivers damage events for one recording. Ack acknowledges
// all damage consumed so far; it is called after the pixels have been
// snapshotted so nothing reported during the blit is lost.
type Subscription interface {
	Events() <-chan DamageEvent
	Ack() error
	Close() error
}

// CaptureSource is the capability handed to a Recorder for reaching the live
// display: screen geometry, the pixel format snapshots arrive in, a damage
// subscription, and a synchronous blit.
type CaptureSource interface {
	// ScreenRect returns the full screen rectangle.
	ScreenRect() Rect

	// Format returns the pixel layout Snapshot writes.
	Format() (bpp int, order ByteOrder)

	// Subscribe starts damage delivery for the given screen rectangle.
	Subscribe(area Rect) (Subscription, error)

	// Snapshot blits the screen rectangle src into dst at image-local
	// position (dstX, dstY).
	Snapshot(src Rect, dst *Image, dstX, dstY int) error

	Close() error
}
