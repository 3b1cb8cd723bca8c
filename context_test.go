package mocaca

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestCtx(method, target string) *Ctx {
	r := httptest.NewRequest(method, target, nil)
	req := NewRequest(r, nil)
	return acquireCtx(newTestServer(), req, &writerSink{w: httptest.NewRecorder(), ctx: r.Context()})
}

// TestCtxQuery tests query accessors
func TestCtxQuery(t *testing.T) {
	c := newTestCtx(MethodGet, "/videos?page=3&per_page=abc&random=true")
	defer releaseCtx(c)

	assert.Equal(t, "3", c.Query("page"))
	assert.Equal(t, 3, c.QueryInt("page", 1))
	assert.Equal(t, 20, c.QueryInt("per_page", 20), "malformed values fall back")
	assert.Equal(t, 7, c.QueryInt("missing", 7))
	assert.Equal(t, "true", c.Query("random"))
	assert.Equal(t, "/videos", c.Path())
	assert.Equal(t, MethodGet, c.Method())
}

// TestCtxIP tests client address resolution
func TestCtxIP(t *testing.T) {
	c := newTestCtx(MethodGet, "/")
	defer releaseCtx(c)
	assert.Equal(t, "192.0.2.1", c.IP())

	c.Request.Header.Set(HeaderXRealIP, "10.0.0.9")
	assert.Equal(t, "10.0.0.9", c.IP())

	c.Request.Header.Set(HeaderXForwardedFor, "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", c.IP())
}

// TestCtxLocals tests request scoped values
func TestCtxLocals(t *testing.T) {
	c := newTestCtx(MethodGet, "/")
	assert.Nil(t, c.Locals("user"))
	assert.Equal(t, "alice", c.Locals("user", "alice"))
	assert.Equal(t, "alice", c.Locals("user"))

	releaseCtx(c)
	c = newTestCtx(MethodGet, "/")
	defer releaseCtx(c)
	assert.Nil(t, c.Locals("user"), "locals must not leak between requests")
}

// TestCtxErrorStatus tests that Error only upgrades non-error statuses
func TestCtxErrorStatus(t *testing.T) {
	c := newTestCtx(MethodGet, "/")
	defer releaseCtx(c)

	c.Status(StatusNotFound).Error(assert.AnError)
	assert.Equal(t, StatusNotFound, c.StatusCode())
	assert.Equal(t, assert.AnError, c.GetError())

	c.Status(StatusOK).Error(assert.AnError)
	assert.Equal(t, StatusInternalServerError, c.StatusCode())
}

// TestHeaderSanitized tests that header values cannot break the head
func TestHeaderSanitized(t *testing.T) {
	h := make(Header)
	h.Set("X-Evil", "a\r\nSet-Cookie: x=1")
	h.Set("X-Fine", "ok")
	out := h.sanitized()
	assert.Equal(t, []string{"a  Set-Cookie: x=1"}, out["X-Evil"])
	assert.Equal(t, []string{"ok"}, out["X-Fine"])

	clone := h.Clone()
	clone.Set("X-Fine", "changed")
	assert.Equal(t, "ok", h.Get("X-Fine"))
}

// TestAllowedMethods tests the Allow header value
func TestAllowedMethods(t *testing.T) {
	got := allowedMethods(map[string]interface{}{MethodPost: nil, MethodGet: nil})
	assert.Equal(t, "GET, HEAD, POST", got)

	got = allowedMethods(map[string]interface{}{MethodDelete: nil})
	assert.Equal(t, "DELETE", got)
}

// TestCleanPattern tests route pattern normalization
func TestCleanPattern(t *testing.T) {
	assert.Equal(t, "/", cleanPattern(""))
	assert.Equal(t, "/api/videos", cleanPattern("api/videos/"))
	assert.Equal(t, "/files/*", cleanPattern("/files/*"))
}

// TestCtxErrorUsesHttpErrorCode tests that an HttpError sets its own status
func TestCtxErrorUsesHttpErrorCode(t *testing.T) {
	c := newTestCtx(MethodGet, "/")
	defer releaseCtx(c)

	c.Error(NewHttpError(StatusForbidden, "forbidden"))
	assert.Equal(t, StatusForbidden, c.StatusCode())
}
