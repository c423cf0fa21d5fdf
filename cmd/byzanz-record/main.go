// Command byzanz-record captures a rectangle of the current desktop session
// into an animated GIF.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AlexxNica/byzanz"
)

var (
	durationSecs int
	delaySecs    int
	loop         bool
	cursor       bool
	areaX        int
	areaY        int
	areaW        int
	areaH        int
	frameMs      int
	maxCache     int64
	maxSpill     int64
	maxColors    int
	verbose      bool
)

// exitError carries the process exit code alongside the cause: 1 for argument
// problems, 2 when the capture subsystem or the output file is unusable.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func main() {
	root := &cobra.Command{
		Use:           "byzanz-record [flags] filename",
		Short:         "record your current desktop session",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return record(args[0])
		},
	}
	f := root.Flags()
	f.IntVarP(&durationSecs, "duration", "d", 10, "duration of animation in seconds")
	f.IntVar(&delaySecs, "delay", 1, "delay before start in seconds")
	f.BoolVarP(&loop, "loop", "l", false, "let the animation loop")
	f.BoolVarP(&cursor, "cursor", "c", false, "record mouse cursor")
	f.IntVarP(&areaX, "x", "x", 0, "X coordinate of rectangle to record")
	f.IntVarP(&areaY, "y", "y", 0, "Y coordinate of rectangle to record")
	f.IntVarP(&areaW, "width", "w", 0, "width of recording rectangle (0 = screen)")
	f.IntVar(&areaH, "height", 0, "height of recording rectangle (0 = screen)")
	f.IntVar(&frameMs, "frame-duration", byzanz.DefaultFrameDurationMs, "minimum frame duration in milliseconds")
	f.Int64Var(&maxCache, "max-cache", byzanz.DefaultMaxCacheBytes, "memory cache budget in bytes")
	f.Int64Var(&maxSpill, "max-spill", byzanz.DefaultMaxSpillBytes, "disk cache budget in bytes (0 disables)")
	f.IntVar(&maxColors, "max-colors", byzanz.DefaultMaxColors, "palette size target (2..256)")
	f.BoolVarP(&verbose, "verbose", "v", false, "be verbose")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := 1
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		os.Exit(code)
	}
}

func record(filename string) error {
	log := zap.NewNop()
	if verbose {
		var err error
		if log, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}

	cfg := byzanz.DefaultConfig()
	cfg.DurationMs = durationSecs * 1000
	cfg.Loop = loop
	cfg.RecordCursor = cursor
	cfg.FrameDurationMs = frameMs
	cfg.MaxCacheBytes = maxCache
	cfg.MaxSpillBytes = maxSpill
	cfg.MaxColors = maxColors
	if areaW > 0 && areaH > 0 {
		cfg.Area = byzanz.Rect{X: areaX, Y: areaY, W: areaW, H: areaH}
	}

	source, err := byzanz.NewX11Source(cursor, log)
	if err != nil {
		return &exitError{code: 2, err: errors.Wrap(err,
			"could not prepare recording; most likely the DAMAGE extension is not available")}
	}

	out, err := os.Create(filename)
	if err != nil {
		source.Close()
		return &exitError{code: 2, err: errors.Wrapf(err, "%q is not writable", filename)}
	}

	rec, err := byzanz.NewRecorder(out, source, cfg, byzanz.WithLogger(log))
	if err != nil {
		source.Close()
		if errors.Is(err, byzanz.ErrCaptureUnavailable) {
			return &exitError{code: 2, err: err}
		}
		return err
	}
	defer rec.Destroy()

	// a delay of N means: wait N-1 seconds, prepare, wait the final second
	if delaySecs < 1 {
		delaySecs = 1
	}
	countdown(time.Duration(delaySecs-1) * time.Second)
	if err := rec.Prepare(); err != nil {
		return err
	}
	time.Sleep(time.Second)

	if verbose {
		fmt.Printf("Recording starts. Will record %d seconds...\n", durationSecs)
	}
	if err := rec.Start(); err != nil {
		return err
	}
	time.Sleep(time.Duration(cfg.DurationMs) * time.Millisecond)
	if err := rec.Stop(); err != nil {
		return err
	}
	if verbose {
		fmt.Println("Recording done. Cleaning up...")
	}
	rec.Destroy()
	if err := rec.Err(); err != nil {
		return &exitError{code: 2, err: err}
	}
	return nil
}

// countdown sleeps for d with a spinner so the user knows recording has not
// started yet.
func countdown(d time.Duration) {
	if d <= 0 {
		return
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " waiting to record..."
	s.Start()
	time.Sleep(d)
	s.Stop()
}
