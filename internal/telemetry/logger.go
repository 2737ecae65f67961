// Package telemetry wraps zerolog behind a narrow Logger capability so
// that no ledger component reaches for a package-level logging global;
// a Logger is passed in explicitly to every component that needs one.
package telemetry

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the logging capability every ledger component depends on.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, err error, kv ...any)
	With(component string) Logger
}

type zlogger struct {
	l zerolog.Logger
}

// New builds a Logger writing JSON lines to w (os.Stderr when w is nil).
// Output is JSON whether or not w is a terminal; there is no colorized
// console format.
func New(w io.Writer, level string) Logger {
	if w == nil {
		w = os.Stderr
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	l := zerolog.New(w).With().Timestamp().Logger().Level(parseLevel(level))
	return &zlogger{l: l}
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func (z *zlogger) event(e *zerolog.Event, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Send()
}

func (z *zlogger) Debug(msg string, kv ...any) { z.event(z.l.Debug().Str("msg", msg), kv) }
func (z *zlogger) Info(msg string, kv ...any)  { z.event(z.l.Info().Str("msg", msg), kv) }
func (z *zlogger) Warn(msg string, kv ...any)  { z.event(z.l.Warn().Str("msg", msg), kv) }

func (z *zlogger) Error(msg string, err error, kv ...any) {
	z.event(z.l.Error().Str("msg", msg).AnErr("error", err), kv)
}

func (z *zlogger) With(component string) Logger {
	return &zlogger{l: z.l.With().Str("component", component).Logger()}
}

// Nop returns a Logger that discards everything, for tests.
func Nop() Logger { return &zlogger{l: zerolog.Nop()} }
