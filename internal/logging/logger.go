// Package logging provides the leveled, tag-scoped logger used throughout
// the engine (Debug/Info/Warn/Error/Trace, WithTag), delegating to zerolog
// for structured, allocation-light output.
package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const envVar = "LOGLEVEL"

// Logger is a tag-scoped wrapper around a zerolog.Logger. The zero value is
// not usable; construct one with New or derive one with WithTag.
type Logger struct {
	tag string
	zl  zerolog.Logger
}

var tagLevels = parseEnv(os.Getenv(envVar))

func parseEnv(val string) map[string]zerolog.Level {
	levels := make(map[string]zerolog.Level)
	for _, directive := range strings.Split(val, ",") {
		if directive == "" {
			continue
		}
		parts := strings.SplitN(directive, "=", 2)
		levelString := parts[len(parts)-1]
		lvl, err := parseLevel(levelString)
		if err != nil {
			continue
		}
		if len(parts) == 1 {
			levels[""] = lvl
		} else {
			levels[parts[0]] = lvl
		}
	}
	return levels
}

func parseLevel(s string) (zerolog.Level, error) {
	switch strings.ToUpper(s) {
	case "E", "ERROR":
		return zerolog.ErrorLevel, nil
	case "W", "WARN":
		return zerolog.WarnLevel, nil
	case "I", "INFO":
		return zerolog.InfoLevel, nil
	case "D", "DEBUG":
		return zerolog.DebugLevel, nil
	case "T", "TRACE":
		return zerolog.TraceLevel, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return zerolog.Level(-n + int(zerolog.DebugLevel)), nil
	}
	return zerolog.NoLevel, strconvErr(s)
}

func strconvErr(s string) error {
	return &levelParseError{s}
}

type levelParseError struct{ s string }

func (e *levelParseError) Error() string { return "logging: invalid level " + e.s }

func defaultLevel() zerolog.Level {
	if lvl, ok := tagLevels[""]; ok {
		return lvl
	}
	return zerolog.InfoLevel
}

func levelFor(tag string) zerolog.Level {
	if lvl, ok := tagLevels[tag]; ok {
		return lvl
	}
	return defaultLevel()
}

// DefaultLogger writes to stderr at the level configured by LOGLEVEL.
var DefaultLogger = New("")

// New constructs a root Logger writing to stderr, tagged with component.
func New(tag string) *Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		Level(levelFor(tag)).
		With().Timestamp().Logger()
	if tag != "" {
		zl = zl.With().Str("component", tag).Logger()
	}
	return &Logger{tag: tag, zl: zl}
}

// WithTag derives a child logger scoped to a sub-component, e.g.
// log.WithTag("checklist"). The LOGLEVEL env var may override the level
// per-tag ("ice.checklist=debug").
func (l *Logger) WithTag(tag string) *Logger {
	full := tag
	if l.tag != "" {
		full = l.tag + "." + tag
	}
	return &Logger{tag: full, zl: l.zl.Level(levelFor(full)).With().Str("component", full).Logger()}
}

func (l *Logger) Error(format string, a ...interface{}) { l.zl.Error().Msgf(format, a...) }
func (l *Logger) Warn(format string, a ...interface{})  { l.zl.Warn().Msgf(format, a...) }
func (l *Logger) Info(format string, a ...interface{})  { l.zl.Info().Msgf(format, a...) }
func (l *Logger) Debug(format string, a ...interface{}) { l.zl.Debug().Msgf(format, a...) }

// Trace logs at a numeric verbosity level n (1 = least verbose trace, 9 =
// most).
func (l *Logger) Trace(n int, format string, a ...interface{}) {
	l.zl.Trace().Int("verbosity", n).Msgf(format, a...)
}

// Fatal logs at error level then terminates the process. Reserved for
// invariant violations during development; production code paths should
// return a typed error instead (see the sentinels in errors.go and in each
// package's own errors.go).
func (l *Logger) Fatal(a ...interface{}) {
	l.zl.Error().Msg(joinInterfaces(a))
	os.Exit(1)
}

func (l *Logger) Fatalf(format string, a ...interface{}) {
	l.zl.Error().Msgf(format, a...)
	os.Exit(1)
}

func joinInterfaces(a []interface{}) string {
	return fmt.Sprint(a...)
}
