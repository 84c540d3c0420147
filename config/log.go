package config

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns the process logger writing to w, as JSON or as human
// readable console output when Pretty is set
func (l LogConfig) NewLogger(w io.Writer) (zerolog.Logger, error) {

	level := zerolog.InfoLevel

	if l.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(l.Level)

		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", l.Level, err)
		}
	}

	if l.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
