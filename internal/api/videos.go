package api

import (
	"errors"
	"strconv"

	"github.com/mocaca/mocaca"
	"github.com/mocaca/mocaca/internal/catalog"
	"github.com/mocaca/mocaca/internal/thumbnail"
)

// listVideos answers GET /api/videos?page&per_page&random&seed. A signed in
// user does not see the videos they disliked.
func (a *API) listVideos(c *mocaca.Ctx) {
	opts := catalog.ListOptions{
		Page:    c.QueryInt("page", 1),
		PerPage: c.QueryInt("per_page", catalog.DefaultPerPage),
	}
	if r := c.Query("random"); r != "" {
		random, err := strconv.ParseBool(r)
		if err != nil {
			c.Error(mocaca.NewHttpError(mocaca.StatusBadRequest, "random must be a boolean"))
			return
		}
		opts.Random = random
	}
	if s := c.Query("seed"); s != "" {
		seed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			c.Error(mocaca.NewHttpError(mocaca.StatusBadRequest, "seed must be an integer"))
			return
		}
		opts.Seed = seed
	}
	if sess := session(c); sess != nil {
		opts.ExcludeDislikedBy = sess.UserID
	}

	page, err := a.catalog.ListVideos(c.Context(), opts)
	if err != nil {
		fail(c, err, "")
		return
	}
	c.JSON(newPageView(page))
}

func (a *API) getVideo(c *mocaca.Ctx) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	v, err := a.catalog.GetVideo(c.Context(), id)
	if err != nil {
		fail(c, err, "video not found")
		return
	}
	c.JSON(newVideoView(v))
}

// prevVideo answers with the video before id, wrapping to the last one.
func (a *API) prevVideo(c *mocaca.Ctx) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	v, err := a.catalog.PrevVideo(c.Context(), id)
	if err != nil {
		fail(c, err, "no previous video found")
		return
	}
	c.JSON(newVideoView(v))
}

// thumbnail serves the JPEG preview of a video, rendering it on first use.
func (a *API) thumbnail(c *mocaca.Ctx) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	v, err := a.catalog.GetVideo(c.Context(), id)
	if err != nil {
		fail(c, err, "video not found")
		return
	}

	if _, err := a.thumbs.Ensure(c.Context(), v.ID, a.videoPath(v)); err != nil {
		if errors.Is(err, thumbnail.ErrNoVideo) {
			c.Error(mocaca.NewHttpError(mocaca.StatusNotFound, "video file not found"))
			return
		}
		c.Error(mocaca.NewHttpErrorWithError(mocaca.StatusInternalServerError, "thumbnail generation failed", err))
		return
	}
	a.thumbFiles.Serve(c, a.thumbs.Rel(v.ID))
}
