package api

import (
	"context"

	"github.com/mocaca/mocaca"
	"github.com/mocaca/mocaca/internal/catalog"
)

// prefOps binds the favorite or dislike operations of the catalog so both
// route sets share their handlers.
type prefOps struct {
	key    string
	add    func(ctx context.Context, userID, videoID int64) error
	remove func(ctx context.Context, userID, videoID int64) error
	has    func(ctx context.Context, userID, videoID int64) (bool, error)
	list   func(ctx context.Context, userID int64, page, perPage int) (catalog.Page, error)
}

func (a *API) favorites() prefOps {
	return prefOps{
		key:    "favorite",
		add:    a.catalog.AddFavorite,
		remove: a.catalog.RemoveFavorite,
		has:    a.catalog.IsFavorite,
		list:   a.catalog.ListFavorites,
	}
}

func (a *API) dislikes() prefOps {
	return prefOps{
		key:    "disliked",
		add:    a.catalog.AddDislike,
		remove: a.catalog.RemoveDislike,
		has:    a.catalog.IsDisliked,
		list:   a.catalog.ListDislikes,
	}
}

func (p prefOps) listHandler(c *mocaca.Ctx) {
	page, err := p.list(c.Context(), session(c).UserID,
		c.QueryInt("page", 1), c.QueryInt("per_page", catalog.DefaultPerPage))
	if err != nil {
		fail(c, err, "")
		return
	}
	c.JSON(newPageView(page))
}

func (p prefOps) checkHandler(c *mocaca.Ctx) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	has, err := p.has(c.Context(), session(c).UserID, id)
	if err != nil {
		fail(c, err, "")
		return
	}
	c.JSON(map[string]interface{}{"video_id": id, p.key: has})
}

func (p prefOps) addHandler(c *mocaca.Ctx) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := p.add(c.Context(), session(c).UserID, id); err != nil {
		fail(c, err, "video not found")
		return
	}
	c.JSON(map[string]interface{}{"video_id": id, p.key: true})
}

func (p prefOps) removeHandler(c *mocaca.Ctx) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := p.remove(c.Context(), session(c).UserID, id); err != nil {
		fail(c, err, "video not found")
		return
	}
	c.JSON(map[string]interface{}{"video_id": id, p.key: false})
}

func (a *API) listFavorites(c *mocaca.Ctx)  { a.favorites().listHandler(c) }
func (a *API) checkFavorite(c *mocaca.Ctx)  { a.favorites().checkHandler(c) }
func (a *API) addFavorite(c *mocaca.Ctx)    { a.favorites().addHandler(c) }
func (a *API) removeFavorite(c *mocaca.Ctx) { a.favorites().removeHandler(c) }

func (a *API) listDislikes(c *mocaca.Ctx)  { a.dislikes().listHandler(c) }
func (a *API) checkDislike(c *mocaca.Ctx)  { a.dislikes().checkHandler(c) }
func (a *API) addDislike(c *mocaca.Ctx)    { a.dislikes().addHandler(c) }
func (a *API) removeDislike(c *mocaca.Ctx) { a.dislikes().removeHandler(c) }

type navigationView struct {
	PrevID int64 `json:"prev_id"`
	NextID int64 `json:"next_id"`
}

// favoriteNavigation returns the neighbours of a video within the user's
// favorites.
func (a *API) favoriteNavigation(c *mocaca.Ctx) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	prev, next, err := a.catalog.FavoriteNeighbors(c.Context(), session(c).UserID, id)
	if err != nil {
		fail(c, err, "video is not a favorite")
		return
	}
	c.JSON(navigationView{PrevID: prev, NextID: next})
}
