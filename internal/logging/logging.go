// Package logging builds the process logger.
package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Options selects the logger flavour.
type Options struct {
	Verbose bool // debug level instead of info
	JSON    bool // plain JSON lines instead of the console writer
	NoColor bool
}

// New returns a logger writing to w. The level is set on the logger itself,
// not globally, so tests can build several independent loggers.
func New(w io.Writer, opts Options) zerolog.Logger {
	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	out := w
	if !opts.JSON {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor,
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
