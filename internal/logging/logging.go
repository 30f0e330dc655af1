package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const timeFormat = "02-01-2006 15:04:05"

// New returns a console logger for dev environments and a JSON logger
// everywhere else. Writers, when given, replace stdout.
func New(env, level string, writers ...io.Writer) (zerolog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}

	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = timeFormat
	zerolog.DurationFieldUnit = time.Millisecond

	var out io.Writer = os.Stdout
	if len(writers) > 0 {
		out = io.MultiWriter(writers...)
	}

	if IsDev(env) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat, NoColor: len(writers) > 0}
	}

	return zerolog.New(out).With().Timestamp().Logger().Level(lvl), nil
}

func IsDev(env string) bool {
	return strings.EqualFold(env, "development") || strings.EqualFold(env, "dev")
}

func parseLevel(level string) (zerolog.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if len(level) == 0 {
		return zerolog.InfoLevel, nil
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, errors.WithMessage(err, "ParseLevel")
	}

	return lvl, nil
}
