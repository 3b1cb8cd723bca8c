package ratelimit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/mocaca/mocaca"
	"github.com/mocaca/mocaca/log"
)

func newApp(l *Limiter) *mocaca.Server {
	app := mocaca.New(mocaca.Config{DisableStartupMessage: true, Logger: log.New(io.Discard, log.InfoLevel)})
	app.POST("/api/login", l.Handler(), func(c *mocaca.Ctx) { c.String("welcome") })
	app.GET("/api/videos", func(c *mocaca.Ctx) { c.String("list") })
	return app
}

func post(app *mocaca.Server, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.Header.Set("X-Forwarded-For", ip)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, rate.Every(12*time.Second), cfg.Rate)
	assert.Equal(t, 5, cfg.Burst)
	assert.Equal(t, time.Hour, cfg.ExpiresIn)
	assert.NotNil(t, cfg.KeyFunc)
}

func TestNewLimiterFillsDefaults(t *testing.T) {
	l := NewLimiter(Config{Burst: 2})
	assert.Equal(t, 2, l.cfg.Burst)
	assert.Equal(t, DefaultConfig().Rate, l.cfg.Rate)
	assert.NotNil(t, l.cfg.KeyFunc)
	assert.Equal(t, time.Hour, l.cfg.ExpiresIn)
}

func TestRateLimit(t *testing.T) {
	l := NewLimiter(Config{Rate: 1, Burst: 2})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	app := newApp(l)

	assert.Equal(t, http.StatusOK, post(app, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, post(app, "10.0.0.1").Code)

	rec := post(app, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "burst is spent")
	assert.JSONEq(t, `{"error":"too many requests"}`, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, post(app, "10.0.0.2").Code, "other clients have their own bucket")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, post(app, "10.0.0.1").Code, "a token refills after a second")
}

func TestRateLimitOnlyGuardsItsRoute(t *testing.T) {
	l := NewLimiter(Config{Rate: 1, Burst: 1})
	app := newApp(l)

	assert.Equal(t, http.StatusOK, post(app, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, post(app, "10.0.0.1").Code)

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/videos", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCustomKeyFunc(t *testing.T) {
	l := NewLimiter(Config{
		Rate:    1,
		Burst:   1,
		KeyFunc: func(c *mocaca.Ctx) string { return "everyone" },
	})
	app := newApp(l)

	assert.Equal(t, http.StatusOK, post(app, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, post(app, "10.0.0.2").Code)
}

func TestIdleVisitorsExpire(t *testing.T) {
	l := NewLimiter(Config{Rate: 1, Burst: 1, ExpiresIn: time.Minute})
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.Len())

	now = now.Add(30 * time.Second)
	l.Allow("b")
	now = now.Add(45 * time.Second)
	l.Allow("c")
	assert.Equal(t, 2, l.Len(), "a was idle longer than ExpiresIn")
}

func TestRetryAfterForSlowRates(t *testing.T) {
	l := NewLimiter(Config{Rate: rate.Every(12 * time.Second), Burst: 1})
	app := newApp(l)

	post(app, "10.0.0.1")
	rec := post(app, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "12", rec.Header().Get("Retry-After"))
}
