// Package api implements the JSON API and mounts the file routes.
package api

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/valyala/fastjson"

	"github.com/mocaca/mocaca"
	"github.com/mocaca/mocaca/internal/catalog"
	"github.com/mocaca/mocaca/internal/filecache"
	"github.com/mocaca/mocaca/internal/media"
	"github.com/mocaca/mocaca/internal/stream"
	"github.com/mocaca/mocaca/internal/thumbnail"
	"github.com/mocaca/mocaca/log"
	"github.com/mocaca/mocaca/middleware/bearerauth"
	"github.com/mocaca/mocaca/middleware/ratelimit"
)

// ThumbnailCacheControl is sent with thumbnail images.
const ThumbnailCacheControl = "public, max-age=86400"

var (
	errInvalidID   = mocaca.NewHttpError(mocaca.StatusBadRequest, "invalid id")
	errInvalidJSON = mocaca.NewHttpError(mocaca.StatusBadRequest, "request body must be a JSON object")
)

// Options holds the collaborators of the API.
type Options struct {
	Catalog *catalog.Catalog
	// Media holds the videos.
	Media *media.Store
	// ThumbStore is rooted at Thumbs.Dir.
	ThumbStore *media.Store
	Thumbs     *thumbnail.Generator
	// Cache is shared by video and thumbnail responses.
	Cache *filecache.HandleCache
	// Bodies keeps thumbnail images in memory. Nil disables it.
	Bodies   *filecache.ContentCache
	Sessions *bearerauth.Sessions
	// Login limits POST /api/login per client.
	Login  ratelimit.Config
	Logger *log.Logger
}

// API serves the /api routes and the /files stream.
type API struct {
	catalog    *catalog.Catalog
	media      *media.Store
	thumbStore *media.Store
	thumbs     *thumbnail.Generator
	cache      *filecache.HandleCache
	bodies     *filecache.ContentCache
	sessions   *bearerauth.Sessions
	login      *ratelimit.Limiter
	logger     *log.Logger

	files      *stream.Server
	thumbFiles *stream.Server

	// ctx bounds background scans and is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	job    scanJob
}

// New creates the API from opts.
func New(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	thumbOpts := []stream.Option{
		stream.WithLogger(logger),
		stream.WithCacheControl(ThumbnailCacheControl),
	}
	if opts.Bodies != nil {
		thumbOpts = append(thumbOpts, stream.WithContentCache(opts.Bodies))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &API{
		catalog:    opts.Catalog,
		media:      opts.Media,
		thumbStore: opts.ThumbStore,
		thumbs:     opts.Thumbs,
		cache:      opts.Cache,
		bodies:     opts.Bodies,
		sessions:   opts.Sessions,
		login:      ratelimit.NewLimiter(opts.Login),
		logger:     logger,
		files:      stream.New(opts.Media, opts.Cache, stream.WithLogger(logger)),
		thumbFiles: stream.New(opts.ThumbStore, opts.Cache, thumbOpts...),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Register mounts every route on s.
func (a *API) Register(s *mocaca.Server) {
	s.GET("/files/*", a.files.Handler())

	g := s.Group("/api")
	g.GET("/health", a.health)
	g.GET("/videos", a.sessions.Optional(), a.listVideos)
	g.GET("/videos/file/*", a.files.Handler())
	g.GET("/videos/prev/:id", a.prevVideo)
	g.GET("/videos/:id", a.getVideo)
	g.GET("/thumbnail/:id", a.thumbnail)
	g.POST("/login", a.login.Handler(), a.loginUser)

	user := g.Group("").Use(a.sessions.Required())
	user.POST("/logout", a.logout)
	user.GET("/me", a.me)
	user.POST("/change-password", a.changePassword)

	user.GET("/favorites", a.listFavorites)
	user.GET("/favorites/check/:id", a.checkFavorite)
	user.GET("/favorites/navigation/:id", a.favoriteNavigation)
	user.POST("/favorites/:id", a.addFavorite)
	user.DELETE("/favorites/:id", a.removeFavorite)

	user.GET("/dislikes", a.listDislikes)
	user.GET("/dislikes/check/:id", a.checkDislike)
	user.POST("/dislikes/:id", a.addDislike)
	user.DELETE("/dislikes/:id", a.removeDislike)

	admin := g.Group("").Use(a.sessions.Admin())
	admin.POST("/scan", a.scan)
	admin.POST("/admin/refresh-files", a.refreshFiles)
	admin.GET("/admin/refresh-status", a.refreshStatus)
	admin.POST("/admin/generate-thumbnails", a.generateThumbnails)
	admin.POST("/admin/delete-all-dislike-content", a.deleteDislikedContent)
}

// Close cancels a running background scan and waits for it.
func (a *API) Close() {
	a.cancel()
	a.wg.Wait()
}

func (a *API) health(c *mocaca.Ctx) {
	if err := a.catalog.Ping(c.Context()); err != nil {
		c.Error(mocaca.NewHttpErrorWithError(mocaca.StatusServiceUnavailable, "database unavailable", err))
		return
	}
	c.JSON(map[string]string{"status": "ok"})
}

// fail maps catalog errors onto HTTP errors. notFound is the message for
// catalog.ErrNotFound.
func fail(c *mocaca.Ctx, err error, notFound string) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		c.Error(mocaca.NewHttpError(mocaca.StatusNotFound, notFound))
	case errors.Is(err, catalog.ErrConflict):
		c.Error(mocaca.NewHttpError(mocaca.StatusConflict, "already exists"))
	default:
		c.Error(mocaca.NewHttpErrorWithError(mocaca.StatusInternalServerError, "", err))
	}
}

func idParam(c *mocaca.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.Error(errInvalidID)
		return 0, false
	}
	return id, true
}

func session(c *mocaca.Ctx) *bearerauth.Session {
	sess, _ := bearerauth.FromCtx(c)
	return sess
}

var parsers fastjson.ParserPool

// stringFields reads the named string fields of a JSON object body. Absent
// fields are returned empty.
func stringFields(body []byte, names ...string) ([]string, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil || v.Type() != fastjson.TypeObject {
		return nil, errInvalidJSON
	}
	out := make([]string, len(names))
	for i, name := range names {
		f := v.Get(name)
		if f == nil || f.Type() == fastjson.TypeNull {
			continue
		}
		b, err := f.StringBytes()
		if err != nil {
			return nil, mocaca.NewHttpError(mocaca.StatusBadRequest, name+" must be a string")
		}
		out[i] = string(b)
	}
	return out, nil
}

type videoView struct {
	ID           int64  `json:"id"`
	Filename     string `json:"filename"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url"`
	NextID       *int64 `json:"next_id"`
}

type pageView struct {
	Items   []videoView `json:"items"`
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
	Pages   int         `json:"pages"`
	Seed    int64       `json:"seed,omitempty"`
}

func newVideoView(v catalog.Video) videoView {
	return videoView{
		ID:           v.ID,
		Filename:     v.Filename,
		URL:          FileURL(v.Filepath),
		ThumbnailURL: "/api/thumbnail/" + strconv.FormatInt(v.ID, 10),
		NextID:       v.NextID,
	}
}

func newPageView(p catalog.Page) pageView {
	items := make([]videoView, len(p.Items))
	for i, v := range p.Items {
		items[i] = newVideoView(v)
	}
	return pageView{
		Items:   items,
		Total:   p.Total,
		Page:    p.Page,
		PerPage: p.PerPage,
		Pages:   p.Pages,
		Seed:    p.Seed,
	}
}

// FileURL returns the stream URL of a media path, escaping each segment.
func FileURL(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return "/files/" + strings.Join(parts, "/")
}

// videoPath is the absolute path of v's file.
func (a *API) videoPath(v catalog.Video) string {
	return filepath.Join(a.media.Root(), filepath.FromSlash(v.Filepath))
}
