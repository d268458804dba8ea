package formprobe

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// LevelForVerbosity maps a -v count to a level: none shows errors only, each
// extra v lowers the threshold by one level down to debug.
func LevelForVerbosity(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.ErrorLevel
	case verbosity == 1:
		return zerolog.WarnLevel
	case verbosity == 2:
		return zerolog.InfoLevel
	}
	return zerolog.DebugLevel
}

// NewLogger writes one-letter-level console lines, coloured only when w is
// a terminal.
func NewLogger(w io.Writer, verbosity int) zerolog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}

	out := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    noColor,
		TimeFormat: "15:04:05",
	}

	return zerolog.New(out).Level(LevelForVerbosity(verbosity)).With().Timestamp().Logger()
}
