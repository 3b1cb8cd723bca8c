package accesslog

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/mocaca/mocaca"
	"github.com/mocaca/mocaca/log"
)

// LocalsRequestID is the Ctx.Locals key holding the request id.
const LocalsRequestID = "request_id"

// Config represents the configuration for the AccessLog middleware.
type Config struct {
	// Format is the format string for the access log.
	// Available placeholders:
	// - ${remote_ip} - the client's IP address
	// - ${method} - the HTTP method
	// - ${path} - the request path
	// - ${status} - the HTTP status code
	// - ${latency} - the request latency
	// - ${latency_human} - the request latency in human-readable format
	// - ${bytes_in} - the number of bytes received
	// - ${user_agent} - the User-Agent header
	// - ${range} - the Range header
	// - ${request_id} - the request id
	// - ${query} - the URL query string
	// - ${error} - the error message if an error occurred during request processing
	Format string

	// Logger receives the lines. Nil means the server's logger.
	Logger *log.Logger
}

// DefaultConfig returns the default configuration for the AccessLog middleware.
func DefaultConfig() Config {
	return Config{
		Format: "${status} | ${latency_human} | ${remote_ip} | ${method} ${path} | ${request_id} ${error}",
	}
}

// New returns a middleware that logs one line per request and tags every
// request with an X-Request-Id. A client supplied id is kept; otherwise a
// new xid is generated.
func New(config ...Config) mocaca.Middleware {
	cfg := DefaultConfig()
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Format == "" {
		cfg.Format = DefaultConfig().Format
	}

	return func(c *mocaca.Ctx) {
		start := time.Now()

		requestID := c.Get(mocaca.HeaderXRequestID)
		if requestID == "" {
			requestID = xid.New().String()
		}
		c.Set(mocaca.HeaderXRequestID, requestID)
		c.Locals(LocalsRequestID, requestID)

		c.Next()

		latency := time.Since(start)
		status := c.StatusCode()
		err := c.GetError()

		errText := ""
		if err != nil {
			// the console writer colours lines containing "error:"
			errText = "error: " + err.Error()
		}

		r := strings.NewReplacer(
			"${remote_ip}", c.IP(),
			"${method}", c.Method(),
			"${path}", c.Path(),
			"${status}", strconv.Itoa(status),
			"${latency}", latency.String(),
			"${latency_human}", formatLatency(latency),
			"${bytes_in}", strconv.FormatInt(c.Request.ContentLength, 10),
			"${user_agent}", c.Get("User-Agent"),
			"${range}", c.Get(mocaca.HeaderRange),
			"${request_id}", requestID,
			"${query}", c.Request.URL.RawQuery,
			"${error}", errText,
		)
		msg := strings.TrimSpace(r.Replace(cfg.Format))

		logger := cfg.Logger
		if logger == nil {
			logger = c.Logger()
		}

		var event *log.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			event = logger.Info()
		}
		event.Msg(msg)
	}
}

// formatLatency formats a duration in a human-readable way with appropriate units (ns, µs, ms, s)
func formatLatency(d time.Duration) string {
	if d < time.Microsecond {
		return strconv.FormatInt(d.Nanoseconds(), 10) + "ns"
	}
	if d < time.Millisecond {
		return strconv.FormatFloat(float64(d.Nanoseconds())/float64(time.Microsecond), 'f', 2, 64) + "µs"
	}
	if d < time.Second {
		return strconv.FormatFloat(float64(d.Nanoseconds())/float64(time.Millisecond), 'f', 2, 64) + "ms"
	}
	return strconv.FormatFloat(float64(d.Nanoseconds())/float64(time.Second), 'f', 2, 64) + "s"
}
