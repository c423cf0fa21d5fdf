package byzanz

import "github.com/pkg/errors"

// Error kinds. Callers match with errors.Is; the concrete message carries the
// context added at the failure site.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidState       = errors.New("invalid state")
	ErrCaptureUnavailable = errors.New("capture unavailable")
	ErrIo                 = errors.New("i/o error")
	ErrOutOfMemory        = errors.New("out of memory")
)
