package mocaca

import (
	"runtime"
	"time"

	"github.com/mocaca/mocaca/log"
)

// Config represents server configuration options.
type Config struct {
	// ReadBufferCap is the size in bytes of each connection's inbound buffer.
	ReadBufferCap int

	// WriteBufferCap is the size in bytes of each connection's outbound buffer.
	WriteBufferCap int

	// IdleTimeout is the TCP keep-alive period of client connections.
	IdleTimeout time.Duration

	// Multicore runs one event loop per CPU.
	Multicore bool

	// Workers bounds how many requests run handlers at the same time.
	Workers int

	// MaxBodySize is the largest accepted request body in bytes.
	MaxBodySize int64

	// DisableStartupMessage determines whether to print the startup message when the server starts.
	DisableStartupMessage bool

	// ErrorHandler is called when a handler recorded an error with Ctx.Error
	// and nothing has been written yet.
	ErrorHandler Handler

	// Logger receives server and event-loop messages. Nil means log.Default().
	Logger *log.Logger
}

// DefaultConfig returns a server configuration suitable for most deployments:
//   - ReadBufferCap / WriteBufferCap: 64 KiB
//   - IdleTimeout: 15 seconds
//   - Multicore: true
//   - Workers: 256 per CPU
//   - MaxBodySize: 1 MiB
//   - ErrorHandler: JSON {"error": message}
func DefaultConfig() Config {
	return Config{
		ReadBufferCap:  64 * 1024,
		WriteBufferCap: 64 * 1024,
		IdleTimeout:    15 * time.Second,
		Multicore:      true,
		Workers:        256 * runtime.NumCPU(),
		MaxBodySize:    1 << 20,
		ErrorHandler:   defaultErrorHandler,
	}
}

// withDefaults fills zero fields of cfg from DefaultConfig.
func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.ReadBufferCap <= 0 {
		cfg.ReadBufferCap = def.ReadBufferCap
	}
	if cfg.WriteBufferCap <= 0 {
		cfg.WriteBufferCap = def.WriteBufferCap
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = def.ErrorHandler
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return cfg
}

// defaultErrorHandler renders the recorded error as {"error": message}.
// If the error is an HttpError its status code is used, otherwise an error
// status already chosen by the handler is kept.
func defaultErrorHandler(c *Ctx) {
	err := c.GetError()
	status, msg := errorStatus(err, c.StatusCode())
	if status >= StatusInternalServerError {
		c.Logger().Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Int("status", status).Msg("request failed")
	}
	c.Status(status).JSON(map[string]string{"error": msg})
}
