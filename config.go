package byzanz

import "github.com/pkg/errors"

// Cache sizing defaults: 50 MiB of RAM for queued frames, close to 4 GiB of
// temp-file spill split into roughly 16 files. The spill ceiling is kept
// below 2^32 so per-file offsets stay comfortably inside 32-bit arithmetic.
const (
	DefaultMaxCacheBytes = 50 * 1024 * 1024
	DefaultMaxSpillBytes = 0xFF000000

	DefaultDurationMs      = 10000
	DefaultDelayMs         = 1000
	DefaultFrameDurationMs = 40
	DefaultMaxColors       = 255
)

// Config carries the recognized recording options. The zero Area means the
// full screen. A Config is treated as immutable once handed to NewRecorder.
type Config struct {
	DurationMs      int   // stop after this wall time
	DelayMs         int   // wait before prepare
	Loop            bool  // Netscape loop extension
	RecordCursor    bool  // overlay the cursor in each snapshot
	Area            Rect  // capture rect, clipped to the screen
	FrameDurationMs int   // minimum inter-frame delay
	MaxCacheBytes   int64 // RAM cache budget
	MaxSpillBytes   int64 // spill cache budget; 0 disables spilling
	MaxColors       int   // palette size target, 2..256
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DurationMs:      DefaultDurationMs,
		DelayMs:         DefaultDelayMs,
		FrameDurationMs: DefaultFrameDurationMs,
		MaxCacheBytes:   DefaultMaxCacheBytes,
		MaxSpillBytes:   DefaultMaxSpillBytes,
		MaxColors:       DefaultMaxColors,
	}
}

func (c *Config) validate() error {
	if c.DurationMs < 0 {
		return errors.Wrapf(ErrInvalidArgument, "duration %d ms", c.DurationMs)
	}
	if c.DelayMs < 0 {
		return errors.Wrapf(ErrInvalidArgument, "delay %d ms", c.DelayMs)
	}
	if !c.Area.Empty() && !c.Area.Valid() {
		return errors.Wrapf(ErrInvalidArgument, "capture area %v", c.Area)
	}
	if c.FrameDurationMs <= 0 {
		return errors.Wrapf(ErrInvalidArgument, "frame duration %d ms", c.FrameDurationMs)
	}
	if c.MaxCacheBytes <= 0 {
		return errors.Wrapf(ErrInvalidArgument, "cache budget %d", c.MaxCacheBytes)
	}
	if c.MaxSpillBytes < 0 {
		return errors.Wrapf(ErrInvalidArgument, "spill budget %d", c.MaxSpillBytes)
	}
	if c.MaxColors < 2 || c.MaxColors > 256 {
		return errors.Wrapf(ErrInvalidArgument, "max colors %d", c.MaxColors)
	}
	return nil
}
