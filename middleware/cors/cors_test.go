package cors

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mocaca/mocaca"
	"github.com/mocaca/mocaca/log"
)

func newApp(cfg ...Config) *mocaca.Server {
	app := mocaca.New(mocaca.Config{DisableStartupMessage: true, Logger: log.New(io.Discard, log.InfoLevel)})
	app.Use(New(cfg...))
	app.GET("/api/videos", func(c *mocaca.Ctx) { c.String("ok") })
	return app
}

func send(app *mocaca.Server, method, origin string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/videos", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

// TestDefaultConfig tests the DefaultConfig function
func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "*", config.AllowOrigins, "DefaultConfig() returned unexpected AllowOrigins")
	assert.Equal(t, "GET,POST,PUT,DELETE,HEAD,OPTIONS,PATCH", config.AllowMethods, "DefaultConfig() returned unexpected AllowMethods")
	assert.Equal(t, "Authorization,Content-Type,Range", config.AllowHeaders, "DefaultConfig() returned unexpected AllowHeaders")
	assert.Equal(t, "X-Request-Id", config.ExposeHeaders, "DefaultConfig() returned unexpected ExposeHeaders")
	assert.False(t, config.AllowCredentials, "DefaultConfig() returned unexpected AllowCredentials value")
	assert.Equal(t, 0, config.MaxAge, "DefaultConfig() returned unexpected MaxAge")
}

// TestCORSWithoutOrigin tests that same-origin requests are untouched
func TestCORSWithoutOrigin(t *testing.T) {
	rec := send(newApp(), http.MethodGet, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

// TestCORSMiddlewareWithDefaultConfig tests the CORS middleware with default configuration
func TestCORSMiddlewareWithDefaultConfig(t *testing.T) {
	rec := send(newApp(), http.MethodGet, "http://example.com", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), "Unexpected Access-Control-Allow-Origin header")
	assert.Equal(t, "X-Request-Id", rec.Header().Get("Access-Control-Expose-Headers"))
}

// TestCORSMiddlewareWithCustomConfig tests the CORS middleware with custom configuration
func TestCORSMiddlewareWithCustomConfig(t *testing.T) {
	app := newApp(Config{
		AllowOrigins:     "http://example.com, http://other.com",
		AllowMethods:     "GET,POST",
		AllowHeaders:     "Content-Type,Authorization",
		ExposeHeaders:    "X-Custom-Header",
		AllowCredentials: true,
		MaxAge:           3600,
	})

	rec := send(app, http.MethodGet, "http://other.com", nil)
	assert.Equal(t, "http://other.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	assert.Equal(t, "X-Custom-Header", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = send(app, http.MethodGet, "http://evil.com", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "the request itself is still served")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

// TestCORSPreflight tests that preflight requests are answered with 204
func TestCORSPreflight(t *testing.T) {
	app := newApp(Config{
		AllowOrigins:     "http://example.com",
		AllowMethods:     "GET,POST",
		AllowHeaders:     "Content-Type,Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	})

	rec := send(app, http.MethodOptions, "http://example.com", map[string]string{
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "http://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,POST", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type,Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "3600", rec.Header().Get("Access-Control-Max-Age"))

	rec = send(app, http.MethodOptions, "http://evil.com", map[string]string{
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
}

// TestCORSPreflightMirrorsHeaders tests header mirroring when none are configured
func TestCORSPreflightMirrorsHeaders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowHeaders = ""
	rec := send(newApp(cfg), http.MethodOptions, "http://example.com", map[string]string{
		"Access-Control-Request-Method":  "GET",
		"Access-Control-Request-Headers": "X-Foo",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "X-Foo", rec.Header().Get("Access-Control-Allow-Headers"))
}

// TestCORSPlainOptionsReachesRouter tests that OPTIONS without a preflight header is routed
func TestCORSPlainOptionsReachesRouter(t *testing.T) {
	rec := send(newApp(), http.MethodOptions, "http://example.com", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}
