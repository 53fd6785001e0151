// Package logx provides crispy's logging infrastructure: a small
// console+file multi-writer on top of zerolog, with a verbosity ladder
// (SetupFromVerbosity) that maps a -v count onto a console level.
package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is crispy's own logging level, kept distinct from zerolog.Level
// so the rest of the codebase never imports zerolog directly.
type Level int

const (
	TraceLevel Level = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	DisabledLevel
)

func (l Level) String() string {
	switch l {
	case TraceLevel:
		return "trace"
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case DisabledLevel:
		return "disabled"
	default:
		return "unknown"
	}
}

func (l Level) toZerolog() zerolog.Level {
	switch l {
	case TraceLevel:
		return zerolog.TraceLevel
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case DisabledLevel:
		return zerolog.Disabled
	default:
		return zerolog.WarnLevel
	}
}

// Config controls where log output goes and at what levels.
type Config struct {
	ConsoleLevel Level
	FileLevel    Level
	LogFile      string
	NoColor      bool
}

// DefaultConfig logs warnings and above to the console, debug and above
// to the default per-user cache log file.
func DefaultConfig() Config {
	return Config{
		ConsoleLevel: WarnLevel,
		FileLevel:    DebugLevel,
		LogFile:      defaultLogFile(),
		NoColor:      false,
	}
}

func defaultLogFile() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "crispy", "crispy.log")
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "crispy", "crispy.log")
}

// Logger wraps zerolog.Logger with crispy's Level vocabulary.
type Logger struct {
	logger zerolog.Logger
}

func (l *Logger) Trace() *zerolog.Event { return l.logger.Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.logger.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }

// With returns a zerolog context for attaching structured fields, e.g.
// logx.Get().With().Str("phase", "pre_compile").Logger().
func (l *Logger) With() zerolog.Context { return l.logger.With() }

// Printf is a simple printf-shaped sink that logs at info level.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.logger.Info().Msgf(format, v...)
}

type levelWriter struct {
	w     io.Writer
	level Level
}

func (lw levelWriter) Write(p []byte) (int, error) { return lw.w.Write(p) }

func (lw levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	var ours Level
	switch level {
	case zerolog.TraceLevel:
		ours = TraceLevel
	case zerolog.DebugLevel:
		ours = DebugLevel
	case zerolog.InfoLevel:
		ours = InfoLevel
	case zerolog.WarnLevel:
		ours = WarnLevel
	case zerolog.ErrorLevel:
		ours = ErrorLevel
	default:
		ours = WarnLevel
	}
	if ours >= lw.level {
		return lw.w.Write(p)
	}
	return len(p), nil
}

// Setup builds a Logger from an explicit Config.
func Setup(cfg Config) (*Logger, error) {
	var writers []zerolog.LevelWriter

	if cfg.ConsoleLevel != DisabledLevel {
		console := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.NoColor,
		}
		writers = append(writers, levelWriter{w: console, level: cfg.ConsoleLevel})
	}

	if cfg.FileLevel != DisabledLevel && cfg.LogFile != "" {
		dir := filepath.Dir(cfg.LogFile)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.LogFile, err)
		}
		writers = append(writers, levelWriter{w: file, level: cfg.FileLevel})
	}

	var writer zerolog.LevelWriter
	switch len(writers) {
	case 0:
		writer = levelWriter{w: io.Discard, level: DisabledLevel}
	case 1:
		writer = writers[0]
	default:
		ioWriters := make([]io.Writer, len(writers))
		for i, w := range writers {
			ioWriters[i] = w
		}
		writer = zerolog.MultiLevelWriter(ioWriters...)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger()

	min := cfg.ConsoleLevel
	if cfg.FileLevel < min {
		min = cfg.FileLevel
	}
	zerolog.SetGlobalLevel(min.toZerolog())

	return &Logger{logger: logger}, nil
}

// SetupFromVerbosity maps a -v/-vv/-vvv count onto a console level
// (0 keeps the default warn level) and disables the file sink.
func SetupFromVerbosity(verbosity int) (*Logger, error) {
	cfg := DefaultConfig()
	cfg.FileLevel = DisabledLevel
	switch {
	case verbosity >= 3:
		cfg.ConsoleLevel = TraceLevel
	case verbosity == 2:
		cfg.ConsoleLevel = DebugLevel
	case verbosity == 1:
		cfg.ConsoleLevel = InfoLevel
	}
	return Setup(cfg)
}

var global *Logger

// InitGlobal installs the process-wide logger.
func InitGlobal(cfg Config) error {
	l, err := Setup(cfg)
	if err != nil {
		return err
	}
	global = l
	return nil
}

// Get returns the global logger, lazily initializing it with defaults.
func Get() *Logger {
	if global == nil {
		l, err := Setup(DefaultConfig())
		if err != nil {
			global = &Logger{logger: log.Logger}
			return global
		}
		global = l
	}
	return global
}
