package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/mocaca/mocaca"
	"github.com/mocaca/mocaca/internal/catalog"
	"github.com/mocaca/mocaca/internal/filecache"
	"github.com/mocaca/mocaca/internal/media"
	"github.com/mocaca/mocaca/internal/memory"
	"github.com/mocaca/mocaca/internal/thumbnail"
	"github.com/mocaca/mocaca/log"
	"github.com/mocaca/mocaca/middleware/bearerauth"
	"github.com/mocaca/mocaca/middleware/ratelimit"
)

const jpeg = "\xff\xd8\xff\xe0fake-jpeg"

// fakeFFmpeg writes a fixed image to the output argument.
type fakeFFmpeg struct {
	calls atomic.Int32
}

func (f *fakeFFmpeg) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	f.calls.Add(1)
	return nil, os.WriteFile(args[len(args)-1], []byte(jpeg), 0o644)
}

type env struct {
	t        *testing.T
	app      *mocaca.Server
	api      *API
	catalog  *catalog.Catalog
	media    *media.Store
	cache    *filecache.HandleCache
	bodies   *filecache.ContentCache
	ffmpeg   *fakeFFmpeg
	mediaDir string
}

func newEnv(t *testing.T, opts ...func(*Options)) *env {
	t.Helper()
	ctx := context.Background()
	logger := log.New(io.Discard, log.DebugLevel)

	mediaDir := t.TempDir()
	for _, name := range []string{"a.mp4", "b.mp4", "sub/c.mp4"} {
		writeFile(t, mediaDir, name, strings.Repeat(name[len(name)-5:len(name)-4], 64))
	}

	cat, err := catalog.Open(ctx, filepath.Join(t.TempDir(), "mocaca.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	_, err = cat.EnsureAdmin(ctx, "admin", "secret")
	require.NoError(t, err)
	_, err = cat.CreateUser(ctx, "alice", "wonderland", false)
	require.NoError(t, err)

	store, err := media.NewStore(mediaDir)
	require.NoError(t, err)
	thumbDir := filepath.Join(t.TempDir(), "thumbs")
	thumbStore, err := media.NewStore(thumbDir)
	require.NoError(t, err)

	cache, err := filecache.New(8, time.Minute, filecache.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	bodies, err := filecache.NewContentCache(1<<20, 64)
	require.NoError(t, err)

	sessionStore := memory.New(0)
	t.Cleanup(func() { sessionStore.Close() })

	ffmpeg := &fakeFFmpeg{}
	o := Options{
		Catalog:    cat,
		Media:      store,
		ThumbStore: thumbStore,
		Thumbs:     &thumbnail.Generator{Dir: thumbDir, Runner: ffmpeg, Workers: 2, Logger: logger},
		Cache:      cache,
		Bodies:     bodies,
		Sessions:   bearerauth.NewSessions(sessionStore, time.Hour),
		Login:      ratelimit.Config{Rate: rate.Every(time.Hour), Burst: 100},
		Logger:     logger,
	}
	for _, opt := range opts {
		opt(&o)
	}

	a := New(o)
	t.Cleanup(a.Close)
	_, err = a.Scan(ctx)
	require.NoError(t, err)

	app := mocaca.New(mocaca.Config{DisableStartupMessage: true, Logger: logger})
	a.Register(app)

	return &env{
		t:        t,
		app:      app,
		api:      a,
		catalog:  cat,
		media:    store,
		cache:    cache,
		bodies:   bodies,
		ffmpeg:   ffmpeg,
		mediaDir: mediaDir,
	}
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func (e *env) do(method, target, token, body string, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.app.ServeHTTP(rec, req)
	return rec
}

func (e *env) login(username, password string) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/login", "", `{"username":"`+username+`","password":"`+password+`"}`)
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(e.t, resp.Token)
	return resp.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func decodePage(t *testing.T, rec *httptest.ResponseRecorder) pageView {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p pageView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func ids(p pageView) []int64 {
	out := make([]int64, len(p.Items))
	for i, v := range p.Items {
		out[i] = v.ID
	}
	return out
}

func TestListVideos(t *testing.T) {
	e := newEnv(t)

	p := decodePage(t, e.do(http.MethodGet, "/api/videos", "", ""))
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, []int64{1, 2, 3}, ids(p))
	assert.Equal(t, "a.mp4", p.Items[0].Filename)
	assert.Equal(t, "/files/a.mp4", p.Items[0].URL)
	assert.Equal(t, "c.mp4", p.Items[2].Filename)
	assert.Equal(t, "/files/sub/c.mp4", p.Items[2].URL)
	assert.Equal(t, "/api/thumbnail/1", p.Items[0].ThumbnailURL)
	require.NotNil(t, p.Items[0].NextID)
	assert.Equal(t, int64(2), *p.Items[0].NextID)
	assert.Nil(t, p.Items[2].NextID)

	p = decodePage(t, e.do(http.MethodGet, "/api/videos?page=2&per_page=2", "", ""))
	assert.Equal(t, 2, p.Pages)
	assert.Equal(t, []int64{3}, ids(p))

	rec := e.do(http.MethodGet, "/api/videos?seed=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListVideosRandomIsStable(t *testing.T) {
	e := newEnv(t)

	first := decodePage(t, e.do(http.MethodGet, "/api/videos?random=true&seed=42", "", ""))
	second := decodePage(t, e.do(http.MethodGet, "/api/videos?random=true&seed=42", "", ""))
	assert.Equal(t, int64(42), first.Seed)
	assert.Equal(t, ids(first), ids(second))
	assert.ElementsMatch(t, []int64{1, 2, 3}, ids(first))

	fresh := decodePage(t, e.do(http.MethodGet, "/api/videos?random=1", "", ""))
	assert.NotZero(t, fresh.Seed, "a fresh seed is reported back")
}

func TestGetVideoAndPrev(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodGet, "/api/videos/1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	assert.Equal(t, float64(1), m["id"])
	assert.Equal(t, "a.mp4", m["filename"])
	assert.Equal(t, "/files/a.mp4", m["url"])
	assert.Equal(t, float64(2), m["next_id"])

	m = decode(t, e.do(http.MethodGet, "/api/videos/prev/2", "", ""))
	assert.Equal(t, float64(1), m["id"])

	m = decode(t, e.do(http.MethodGet, "/api/videos/prev/1", "", ""))
	assert.Equal(t, float64(3), m["id"], "the first video wraps to the last")
	assert.Nil(t, m["next_id"])

	rec = e.do(http.MethodGet, "/api/videos/99", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "video not found", decode(t, rec)["error"])

	rec = e.do(http.MethodGet, "/api/videos/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFiles(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodGet, "/files/b.mp4", "", "", "Range", "bytes=0-3")
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bbbb", rec.Body.String())
	assert.Equal(t, "bytes 0-3/64", rec.Header().Get("Content-Range"))

	entry, err := e.media.Lookup("b.mp4")
	require.NoError(t, err)
	assert.True(t, e.cache.Contains(entry.Path), "range reads keep the handle")

	rec = e.do(http.MethodGet, "/api/videos/file/sub/c.mp4", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, strings.Repeat("c", 64), rec.Body.String())
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))

	rec = e.do(http.MethodGet, "/files/missing.mp4", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogin(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/api/login", "", `{"username":"alice","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid username or password", decode(t, rec)["error"])

	rec = e.do(http.MethodPost, "/api/login", "", `["alice"]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/api/login", "", `{"username":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/api/login", "", `{"username":"admin","password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	assert.Equal(t, "admin", m["username"])
	assert.Equal(t, true, m["is_admin"])
	token := m["token"].(string)

	m = decode(t, e.do(http.MethodGet, "/api/me", token, ""))
	assert.Equal(t, "admin", m["username"])

	rec = e.do(http.MethodPost, "/api/logout", token, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(http.MethodGet, "/api/me", token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginIsRateLimited(t *testing.T) {
	e := newEnv(t, func(o *Options) {
		o.Login = ratelimit.Config{Rate: rate.Every(time.Hour), Burst: 2}
	})

	body := `{"username":"alice","password":"nope"}`
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/api/login", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/api/login", "", body).Code)

	rec := e.do(http.MethodPost, "/api/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/videos", "", "").Code, "other routes are not limited")
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t)
	token := e.login("alice", "wonderland")

	rec := e.do(http.MethodPost, "/api/change-password", token, `{"old_password":"bad","new_password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "current password is incorrect", decode(t, rec)["error"])

	rec = e.do(http.MethodPost, "/api/change-password", token, `{"old_password":"wonderland","new_password":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/api/change-password", token, `{"old_password":"wonderland","new_password":"`+strings.Repeat("x", 73)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "new password must be at most 72 bytes", decode(t, rec)["error"])

	rec = e.do(http.MethodPost, "/api/change-password", token, `{"old_password":"wonderland","new_password":"looking-glass"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	e.login("alice", "looking-glass")
	rec = e.do(http.MethodPost, "/api/login", "", `{"username":"alice","password":"wonderland"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodPost, "/api/change-password", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFavorites(t *testing.T) {
	e := newEnv(t)
	token := e.login("alice", "wonderland")

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/favorites", "", "").Code)

	rec := e.do(http.MethodPost, "/api/favorites/1", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["favorite"])
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/favorites/3", token, "").Code)

	rec = e.do(http.MethodPost, "/api/favorites/99", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	m := decode(t, e.do(http.MethodGet, "/api/favorites/check/3", token, ""))
	assert.Equal(t, true, m["favorite"])
	m = decode(t, e.do(http.MethodGet, "/api/favorites/check/2", token, ""))
	assert.Equal(t, false, m["favorite"])

	p := decodePage(t, e.do(http.MethodGet, "/api/favorites", token, ""))
	assert.ElementsMatch(t, []int64{1, 3}, ids(p))

	m = decode(t, e.do(http.MethodGet, "/api/favorites/navigation/1", token, ""))
	assert.Equal(t, float64(3), m["prev_id"])
	assert.Equal(t, float64(3), m["next_id"])

	rec = e.do(http.MethodDelete, "/api/favorites/1", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(http.MethodGet, "/api/favorites/navigation/1", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "video is not a favorite", decode(t, rec)["error"])

	admin := e.login("admin", "secret")
	p = decodePage(t, e.do(http.MethodGet, "/api/favorites", admin, ""))
	assert.Zero(t, p.Total, "favorites are per user")
}

func TestDislikesHideVideos(t *testing.T) {
	e := newEnv(t)
	token := e.login("alice", "wonderland")

	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/favorites/2", token, "").Code)
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/dislikes/2", token, "").Code)

	m := decode(t, e.do(http.MethodGet, "/api/dislikes/check/2", token, ""))
	assert.Equal(t, true, m["disliked"])
	m = decode(t, e.do(http.MethodGet, "/api/favorites/check/2", token, ""))
	assert.Equal(t, false, m["favorite"], "a dislike replaces the favorite")

	p := decodePage(t, e.do(http.MethodGet, "/api/videos", token, ""))
	assert.Equal(t, []int64{1, 3}, ids(p))
	p = decodePage(t, e.do(http.MethodGet, "/api/videos", "", ""))
	assert.Equal(t, 3, p.Total, "anonymous listings are unfiltered")

	p = decodePage(t, e.do(http.MethodGet, "/api/dislikes", token, ""))
	assert.Equal(t, []int64{2}, ids(p))

	require.Equal(t, http.StatusOK, e.do(http.MethodDelete, "/api/dislikes/2", token, "").Code)
	p = decodePage(t, e.do(http.MethodGet, "/api/videos", token, ""))
	assert.Equal(t, 3, p.Total)

	rec := e.do(http.MethodGet, "/api/videos", "bogus", "")
	assert.Equal(t, http.StatusOK, rec.Code, "an unknown token is ignored on public routes")
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	e := newEnv(t)
	alice := e.login("alice", "wonderland")

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/api/scan", "", "").Code)
	rec := e.do(http.MethodPost, "/api/scan", alice, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "admin access required", decode(t, rec)["error"])
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/api/admin/delete-all-dislike-content", alice, "").Code)
}

func TestScan(t *testing.T) {
	e := newEnv(t)
	admin := e.login("admin", "secret")

	writeFile(t, e.mediaDir, "d.mp4", "dddd")
	writeFile(t, e.mediaDir, "notes.txt", "skip me")
	require.NoError(t, os.Remove(filepath.Join(e.mediaDir, "a.mp4")))

	rec := e.do(http.MethodPost, "/api/scan", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	assert.Equal(t, float64(1), m["added"])
	assert.Equal(t, float64(1), m["removed"])
	assert.Equal(t, float64(3), m["total"])

	p := decodePage(t, e.do(http.MethodGet, "/api/videos", "", ""))
	assert.Equal(t, []int64{2, 3, 4}, ids(p))
}

func TestRefreshFilesRunsInBackground(t *testing.T) {
	e := newEnv(t)
	admin := e.login("admin", "secret")
	writeFile(t, e.mediaDir, "e.webm", "eeee")

	rec := e.do(http.MethodPost, "/api/admin/refresh-files", admin, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		st := e.api.ScanStatus()
		return !st.Running && st.FinishedAt != nil
	}, 5*time.Second, 10*time.Millisecond)

	m := decode(t, e.do(http.MethodGet, "/api/admin/refresh-status", admin, ""))
	assert.Equal(t, false, m["running"])
	result, ok := m["result"].(map[string]interface{})
	require.True(t, ok, "result is reported")
	assert.Equal(t, float64(1), result["added"])
	assert.Empty(t, m["error"])
}

func TestScanJobRejectsOverlap(t *testing.T) {
	var j scanJob
	now := time.Now()
	assert.True(t, j.begin(now))
	assert.False(t, j.begin(now))
	j.end(now, catalog.ScanResult{Total: 2}, nil)
	assert.True(t, j.begin(now))
	assert.Nil(t, j.snapshot().Result, "a new run clears the previous result")
}

func TestThumbnail(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodGet, "/api/thumbnail/1", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, jpeg, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, ThumbnailCacheControl, rec.Header().Get("Cache-Control"))
	etag := rec.Header().Get("ETag")
	assert.NotEmpty(t, etag)

	rec = e.do(http.MethodGet, "/api/thumbnail/1", "", "", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Equal(t, int32(1), e.ffmpeg.calls.Load(), "the image is rendered once")

	rec = e.do(http.MethodGet, "/api/thumbnail/1", "", "")
	assert.Equal(t, jpeg, rec.Body.String())
	assert.Equal(t, 1, e.bodies.Count(), "the image is kept in memory")
	assert.Zero(t, e.cache.Len(), "thumbnails do not hold file handles")

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/thumbnail/42", "", "").Code)

	require.NoError(t, os.Remove(filepath.Join(e.mediaDir, "b.mp4")))
	rec = e.do(http.MethodGet, "/api/thumbnail/2", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "video file not found", decode(t, rec)["error"])
}

func TestGenerateThumbnails(t *testing.T) {
	e := newEnv(t)
	admin := e.login("admin", "secret")

	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/thumbnail/1", "", "").Code)

	rec := e.do(http.MethodPost, "/api/admin/generate-thumbnails", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	assert.Equal(t, float64(2), m["generated"])
	assert.Equal(t, float64(1), m["skipped"])
	assert.Equal(t, float64(0), m["failed"])
	assert.Equal(t, int32(3), e.ffmpeg.calls.Load())
}

func TestDeleteAllDislikeContent(t *testing.T) {
	e := newEnv(t)
	alice := e.login("alice", "wonderland")
	admin := e.login("admin", "secret")

	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/dislikes/2", alice, "").Code)
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/thumbnail/2", "", "").Code)
	require.Equal(t, http.StatusPartialContent, e.do(http.MethodGet, "/files/b.mp4", "", "", "Range", "bytes=0-1").Code)

	entry, err := e.media.Lookup("b.mp4")
	require.NoError(t, err)
	require.True(t, e.cache.Contains(entry.Path))

	rec := e.do(http.MethodPost, "/api/admin/delete-all-dislike-content", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	assert.Equal(t, float64(1), m["deleted"])
	assert.Equal(t, float64(0), m["failed"])

	assert.False(t, e.cache.Contains(entry.Path), "the cached handle is evicted")
	_, err = os.Stat(filepath.Join(e.mediaDir, "b.mp4"))
	assert.True(t, os.IsNotExist(err), "the file is deleted")
	assert.False(t, e.api.thumbs.Exists(2), "the thumbnail is deleted")
	assert.Zero(t, e.bodies.Count(), "the thumbnail is dropped from memory")

	p := decodePage(t, e.do(http.MethodGet, "/api/videos", "", ""))
	assert.Equal(t, []int64{1, 3}, ids(p))
	require.NotNil(t, p.Items[0].NextID)
	assert.Equal(t, int64(3), *p.Items[0].NextID, "the chain skips the deleted video")
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/files/b.mp4", "", "").Code)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestFileURL(t *testing.T) {
	assert.Equal(t, "/files/a.mp4", FileURL("a.mp4"))
	assert.Equal(t, "/files/dir%20one/clip%20%5B1%5D.mp4", FileURL("dir one/clip [1].mp4"))
}
