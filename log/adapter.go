package log

import (
	"io"
	"os"

	"github.com/panjf2000/gnet/v2/pkg/logging"
	"gopkg.in/natefinch/lumberjack.v2"
)

var _ logging.Logger = (*GnetAdapter)(nil)

// GnetAdapter routes gnet engine messages into a Logger.
type GnetAdapter struct {
	logger *Logger
}

// NewGnetAdapter creates a GnetAdapter. A nil logger means the default logger.
func NewGnetAdapter(l *Logger) *GnetAdapter {
	if l == nil {
		l = defaultLogger
	}
	return &GnetAdapter{logger: l}
}

func (a *GnetAdapter) Debugf(format string, args ...any) {
	a.logger.Debug().Str("component", "gnet").Msgf(format, args...)
}

func (a *GnetAdapter) Infof(format string, args ...any) {
	a.logger.Info().Str("component", "gnet").Msgf(format, args...)
}

func (a *GnetAdapter) Warnf(format string, args ...any) {
	a.logger.Warn().Str("component", "gnet").Msgf(format, args...)
}

func (a *GnetAdapter) Errorf(format string, args ...any) {
	a.logger.Error().Str("component", "gnet").Msgf(format, args...)
}

func (a *GnetAdapter) Fatalf(format string, args ...any) {
	a.logger.Fatal().Str("component", "gnet").Msgf(format, args...)
}

// OutputConfig selects where log lines go.
type OutputConfig struct {
	// File is the path of a rotating log file. Empty means stdout.
	File string
	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int
	// NoColor disables colors on stdout.
	NoColor bool
}

// NewOutput builds the writer described by cfg. The returned closer must be
// closed on shutdown.
func NewOutput(cfg OutputConfig) (io.Writer, io.Closer) {
	if cfg.File == "" {
		console := NewConsoleWriter(os.Stdout)
		console.NoColor = cfg.NoColor
		return console, nopCloser{}
	}

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return lj, lj
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
