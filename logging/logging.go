// Package logging sets up the process logger.
//
// Every record is a JSON line carrying date, log_level, module and message,
// written to the console and to a size-rotating file. In development mode the
// console gets a human-readable handler instead; the file stays JSON.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aerth/landingd/config"
)

// Record keys.
const (
	KeyDate    = "date"
	KeyLevel   = "log_level"
	KeyModule  = "module"
	KeyMessage = "message"
)

const dateFormat = "2006-01-02 15:04:05,000"

// Option configures New.
type Option func(*options)

type options struct {
	level      slog.Level
	console    io.Writer
	pretty     bool
	file       string
	maxSizeMB  int
	maxBackups int
}

func WithLevel(l slog.Level) Option {
	return func(o *options) { o.level = l }
}

// WithConsole replaces stderr as the console sink. Nil disables the console.
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// WithPretty switches the console to charmbracelet's text output.
func WithPretty(pretty bool) Option {
	return func(o *options) { o.pretty = pretty }
}

// WithFile adds the rotating file sink. An empty name disables it.
func WithFile(name string, maxSizeMB, maxBackups int) Option {
	return func(o *options) {
		o.file = name
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the logger. The returned io.Closer releases the file sink and
// should be closed on shutdown.
func New(opts ...Option) (*slog.Logger, io.Closer) {
	o := &options{level: slog.LevelInfo, console: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}

	var handlers []slog.Handler
	if o.console != nil {
		if o.pretty {
			handlers = append(handlers, prettyHandler(o.console, o.level))
		} else {
			handlers = append(handlers, jsonHandler(o.console, o.level))
		}
	}

	var closer io.Closer = nopCloser{}
	if o.file != "" {
		rotating := &lumberjack.Logger{
			Filename:   o.file,
			MaxSize:    o.maxSizeMB,
			MaxBackups: o.maxBackups,
		}
		handlers = append(handlers, jsonHandler(rotating, o.level))
		closer = rotating
	}

	return slog.New(slogmulti.Fanout(handlers...)), closer
}

// Setup builds the logger from the process configuration and installs it as
// the slog default.
func Setup(cfg config.Config) (*slog.Logger, io.Closer) {
	level := ParseLevel(cfg.Log.Level)
	if cfg.Meta.DevelopmentMode {
		level = slog.LevelDebug
	}
	l, closer := New(
		WithLevel(level),
		WithPretty(cfg.Meta.DevelopmentMode),
		WithFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups),
	)
	slog.SetDefault(l)
	return l, closer
}

// Module tags every record of l with the module name.
func Module(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(KeyModule, name)
}

// Error is an attribute for err, empty when err is nil.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func jsonHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	})
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		if a.Value.Kind() == slog.KindTime {
			return slog.String(KeyDate, a.Value.Time().Format(dateFormat))
		}
		a.Key = KeyDate
	case slog.LevelKey:
		return slog.String(KeyLevel, a.Value.String())
	case slog.MessageKey:
		a.Key = KeyMessage
	}
	return a
}

func prettyHandler(w io.Writer, level slog.Level) slog.Handler {
	lvl := charmlog.InfoLevel
	switch {
	case level <= slog.LevelDebug:
		lvl = charmlog.DebugLevel
	case level >= slog.LevelError:
		lvl = charmlog.ErrorLevel
	case level >= slog.LevelWarn:
		lvl = charmlog.WarnLevel
	}
	return charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      dateFormat,
		Level:           lvl,
	})
}
