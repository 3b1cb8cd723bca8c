package cors

import (
	"strconv"
	"strings"

	"github.com/mocaca/mocaca"
)

// Config represents the configuration for the CORS middleware.
type Config struct {
	// AllowOrigins is a comma-separated list of origins a cross-domain request can be executed from.
	// If the special "*" value is present, all origins will be allowed.
	// Default value is "*"
	AllowOrigins string

	// AllowMethods is a comma-separated list of methods the client is allowed to use with
	// cross-domain requests. Default value is simple methods (GET, POST, PUT, DELETE, HEAD, OPTIONS)
	AllowMethods string

	// AllowHeaders is a comma-separated list of non-simple headers the client is allowed to use with
	// cross-domain requests. Default value is "Authorization,Content-Type,Range".
	// An empty value mirrors Access-Control-Request-Headers.
	AllowHeaders string

	// ExposeHeaders indicates which headers are safe to expose to the API of a CORS
	// API specification as a comma-separated list. Default value is "X-Request-Id"
	ExposeHeaders string

	// AllowCredentials indicates whether the request can include user credentials like
	// cookies, HTTP authentication or client side SSL certificates. Default value is false
	AllowCredentials bool

	// MaxAge indicates how long (in seconds) the results of a preflight request
	// can be cached. Default value is 0 which stands for no max age.
	MaxAge int
}

const (
	wildcard       = "*"
	originHeader   = "Origin"
	trueValue      = "true"
	defaultMethods = "GET,POST,PUT,DELETE,HEAD,OPTIONS,PATCH"
	defaultHeaders = "Authorization,Content-Type,Range"
	emptyString    = ""
)

// DefaultConfig returns the default configuration for the CORS middleware.
func DefaultConfig() Config {
	return Config{
		AllowOrigins:     wildcard,
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    mocaca.HeaderXRequestID,
		AllowCredentials: false,
		MaxAge:           0,
	}
}

// New returns a middleware that handles CORS. Preflight requests are
// answered with 204 and never reach the router.
// If no config is provided, it uses the default config.
// If multiple configs are provided, only the first one is used.
func New(config ...Config) mocaca.Middleware {
	cfg := DefaultConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	allowOrigins := cfg.AllowOrigins
	allowMethods := cfg.AllowMethods
	allowHeaders := cfg.AllowHeaders
	exposeHeaders := cfg.ExposeHeaders
	allowCredentials := cfg.AllowCredentials
	maxAge := cfg.MaxAge

	var maxAgeStr string
	if maxAge > 0 {
		maxAgeStr = strconv.Itoa(maxAge)
	}

	var credentialsStr string
	if allowCredentials {
		credentialsStr = trueValue
	}

	isWildcardOrigin := allowOrigins == wildcard
	var originsMap map[string]struct{}

	if !isWildcardOrigin {
		originsMap = make(map[string]struct{})
		for _, origin := range strings.Split(allowOrigins, ",") {
			originsMap[strings.TrimSpace(origin)] = struct{}{}
		}
	}

	return func(c *mocaca.Ctx) {
		origin := c.Get(mocaca.HeaderOrigin)
		if origin == emptyString {
			c.Next()
			return
		}

		allowed := true
		if isWildcardOrigin {
			c.Set(mocaca.HeaderAccessControlAllowOrigin, wildcard)
		} else {
			_, originAllowed := originsMap[origin]
			_, wildcardAllowed := originsMap[wildcard]
			allowed = originAllowed || wildcardAllowed
			if allowed {
				c.Set(mocaca.HeaderAccessControlAllowOrigin, origin)
			}
			c.Set(mocaca.HeaderVary, originHeader)
		}

		// A preflight names the real method in Access-Control-Request-Method.
		// Plain OPTIONS requests fall through to the router.
		if c.Method() == mocaca.MethodOptions && c.Get(mocaca.HeaderAccessControlRequestMethod) != emptyString {
			if !allowed {
				c.Status(mocaca.StatusNoContent)
				return
			}
			c.Set(mocaca.HeaderAccessControlAllowMethods, allowMethods)

			if allowHeaders != emptyString {
				c.Set(mocaca.HeaderAccessControlAllowHeaders, allowHeaders)
			} else {
				// mirror the request when nothing is configured
				requestHeaders := c.Get(mocaca.HeaderAccessControlRequestHeaders)
				if requestHeaders != emptyString {
					c.Set(mocaca.HeaderAccessControlAllowHeaders, requestHeaders)
				}
			}

			if allowCredentials {
				c.Set(mocaca.HeaderAccessControlAllowCredentials, credentialsStr)
			}
			if maxAge > 0 {
				c.Set(mocaca.HeaderAccessControlMaxAge, maxAgeStr)
			}
			c.Status(mocaca.StatusNoContent)
			return
		}

		if !allowed {
			c.Next()
			return
		}
		if exposeHeaders != emptyString {
			c.Set(mocaca.HeaderAccessControlExposeHeaders, exposeHeaders)
		}

		if allowCredentials {
			c.Set(mocaca.HeaderAccessControlAllowCredentials, credentialsStr)
		}
		c.Next()
	}
}
