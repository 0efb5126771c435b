// Package corelog provides the structured logger shared by the mp4, mp4file,
// and rtc packages. It mirrors the ambient logging conventions used
// elsewhere in this codebase: a process-wide slog.Logger with a runtime-
// adjustable level, seeded from a flag or environment variable.
package corelog

import (
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const envLogLevel = "CORESTREAM_LOG_LEVEL"

var (
	atomicLevel = &dynamicLevel{v: int64(slog.LevelInfo)}
	global      *slog.Logger
	initOnce    sync.Once

	flagLevel = flag.String("log.level", "", "log level (debug, info, warn, error)")
)

type dynamicLevel struct{ v int64 }

func (d *dynamicLevel) Level() slog.Level { return slog.Level(atomic.LoadInt64(&d.v)) }
func (d *dynamicLevel) set(l slog.Level)  { atomic.StoreInt64(&d.v, int64(l)) }

// Init initializes the global logger. Safe to call multiple times; only the
// first call constructs the handler.
func Init() {
	initOnce.Do(func() {
		atomicLevel.set(detectLevel())
		global = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: atomicLevel}))
	})
}

func detectLevel() slog.Level {
	if *flagLevel == "" {
		for _, arg := range os.Args[1:] {
			if strings.HasPrefix(arg, "-log.level=") {
				parts := strings.SplitN(arg, "=", 2)
				if len(parts) == 2 {
					*flagLevel = parts[1]
				}
			}
		}
	}
	if lvl, ok := parseLevel(strings.TrimSpace(*flagLevel)); ok {
		return lvl
	}
	if env := os.Getenv(envLogLevel); env != "" {
		if lvl, ok := parseLevel(env); ok {
			return lvl
		}
	}
	return slog.LevelInfo
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "err":
		return slog.LevelError, true
	}
	return 0, false
}

// SetLevel changes the runtime log level.
func SetLevel(level string) error {
	Init()
	lvl, ok := parseLevel(level)
	if !ok {
		return errors.New("invalid log level: " + level)
	}
	atomicLevel.set(lvl)
	return nil
}

// Level returns the current runtime level as a string.
func Level() string { Init(); return atomicLevel.Level().String() }

// UseWriter swaps the output writer, retaining the current level. Intended
// for tests.
func UseWriter(w io.Writer) {
	Init()
	global = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: atomicLevel}))
}

// Logger returns the global logger, initializing it if necessary.
func Logger() *slog.Logger { Init(); return global }

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

// WithSource attaches RTC source identity fields (spec §4.7).
func WithSource(l *slog.Logger, streamID string) *slog.Logger {
	return l.With("stream_id", streamID)
}

// WithTrack attaches track identity fields for a source's fan-out (spec §4.9).
func WithTrack(l *slog.Logger, streamID string, trackID uint32, kind string) *slog.Logger {
	return l.With("stream_id", streamID, "track_id", trackID, "track_kind", kind)
}

// WithConsumer attaches consumer identity fields (spec §4.8).
func WithConsumer(l *slog.Logger, streamID, consumerID string) *slog.Logger {
	return l.With("stream_id", streamID, "consumer_id", consumerID)
}

// WithBox attaches box-decode context (spec §4.1).
func WithBox(l *slog.Logger, boxType string, offset int) *slog.Logger {
	return l.With("box_type", boxType, "offset", offset)
}
