package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/xerrors"
)

// prefTable holds the statements for one per-user preference table. The
// favorites and dislikes tables share a shape.
type prefTable struct {
	name string

	insert   string
	delete   string
	exists   string
	count    string
	list     string
	addedAt  string
	before   string
	after    string
	lastOne  string
	firstOne string
}

func newPrefTable(name string) prefTable {
	q := func(format string) string { return fmt.Sprintf(format, name) }
	return prefTable{
		name:     name,
		insert:   q(`INSERT INTO %s (user_id, video_id, created_at) VALUES (?, ?, ?) ON CONFLICT(user_id, video_id) DO NOTHING`),
		delete:   q(`DELETE FROM %s WHERE user_id = ? AND video_id = ?`),
		exists:   q(`SELECT COUNT(*) FROM %s WHERE user_id = ? AND video_id = ?`),
		count:    q(`SELECT COUNT(*) FROM %s WHERE user_id = ?`),
		list:     q(`SELECT ` + videoColumns + ` FROM %s p JOIN videos v ON v.id = p.video_id WHERE p.user_id = ? ORDER BY p.created_at DESC, p.video_id DESC LIMIT ? OFFSET ?`),
		addedAt:  q(`SELECT created_at FROM %s WHERE user_id = ? AND video_id = ?`),
		before:   q(`SELECT video_id FROM %s WHERE user_id = ?1 AND (created_at < ?2 OR (created_at = ?2 AND video_id < ?3)) ORDER BY created_at DESC, video_id DESC LIMIT 1`),
		after:    q(`SELECT video_id FROM %s WHERE user_id = ?1 AND (created_at > ?2 OR (created_at = ?2 AND video_id > ?3)) ORDER BY created_at, video_id LIMIT 1`),
		lastOne:  q(`SELECT video_id FROM %s WHERE user_id = ? ORDER BY created_at DESC, video_id DESC LIMIT 1`),
		firstOne: q(`SELECT video_id FROM %s WHERE user_id = ? ORDER BY created_at, video_id LIMIT 1`),
	}
}

// add records videoID in t for userID and clears it from other, so a video
// is never both a favorite and a dislike.
func (c *Catalog) add(ctx context.Context, t, other prefTable, userID, videoID int64) error {
	return c.inTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM videos WHERE id = ?`, videoID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return xerrors.Errorf("query video %d: %w", videoID, err)
		}

		if _, err := tx.ExecContext(ctx, t.insert, userID, videoID, c.now().UnixNano()); err != nil {
			return xerrors.Errorf("add to %s: %w", t.name, err)
		}
		if _, err := tx.ExecContext(ctx, other.delete, userID, videoID); err != nil {
			return xerrors.Errorf("remove from %s: %w", other.name, err)
		}
		return nil
	})
}

func (c *Catalog) remove(ctx context.Context, t prefTable, userID, videoID int64) error {
	if _, err := c.db.ExecContext(ctx, t.delete, userID, videoID); err != nil {
		return xerrors.Errorf("remove from %s: %w", t.name, err)
	}
	return nil
}

func (c *Catalog) has(ctx context.Context, t prefTable, userID, videoID int64) (bool, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, t.exists, userID, videoID).Scan(&n); err != nil {
		return false, xerrors.Errorf("check %s: %w", t.name, err)
	}
	return n > 0, nil
}

// list returns a page of t for userID, most recently added first.
func (c *Catalog) list(ctx context.Context, t prefTable, userID int64, page, perPage int) (Page, error) {
	page, perPage = normalizePage(page, perPage)

	var total int
	if err := c.db.QueryRowContext(ctx, t.count, userID).Scan(&total); err != nil {
		return Page{}, xerrors.Errorf("count %s: %w", t.name, err)
	}
	rows, err := c.db.QueryContext(ctx, t.list, userID, perPage, (page-1)*perPage)
	if err != nil {
		return Page{}, xerrors.Errorf("list %s: %w", t.name, err)
	}
	items, err := scanVideos(rows)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Pages:   pageCount(total, perPage),
	}, nil
}

// AddFavorite marks videoID as a favorite of userID. Adding twice keeps the
// original time. A dislike of the same video is dropped.
func (c *Catalog) AddFavorite(ctx context.Context, userID, videoID int64) error {
	return c.add(ctx, c.favorites, c.dislikes, userID, videoID)
}

// RemoveFavorite unmarks a favorite. Removing a missing one is not an error.
func (c *Catalog) RemoveFavorite(ctx context.Context, userID, videoID int64) error {
	return c.remove(ctx, c.favorites, userID, videoID)
}

// IsFavorite reports whether userID marked videoID.
func (c *Catalog) IsFavorite(ctx context.Context, userID, videoID int64) (bool, error) {
	return c.has(ctx, c.favorites, userID, videoID)
}

// ListFavorites returns a page of favorites, newest first.
func (c *Catalog) ListFavorites(ctx context.Context, userID int64, page, perPage int) (Page, error) {
	return c.list(ctx, c.favorites, userID, page, perPage)
}

// FavoriteNeighbors returns the favorites added just before and just after
// videoID, in the order they were added. Both ends wrap around, so a single
// favorite is its own neighbor. ErrNotFound means videoID is not a
// favorite.
func (c *Catalog) FavoriteNeighbors(ctx context.Context, userID, videoID int64) (prev, next int64, err error) {
	t := c.favorites

	var addedAt int64
	err = c.db.QueryRowContext(ctx, t.addedAt, userID, videoID).Scan(&addedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, xerrors.Errorf("query favorite: %w", err)
	}

	prev, err = c.neighbor(ctx, t.before, t.lastOne, userID, addedAt, videoID)
	if err != nil {
		return 0, 0, err
	}
	next, err = c.neighbor(ctx, t.after, t.firstOne, userID, addedAt, videoID)
	if err != nil {
		return 0, 0, err
	}
	return prev, next, nil
}

func (c *Catalog) neighbor(ctx context.Context, query, wrap string, userID, addedAt, videoID int64) (int64, error) {
	var id int64
	err := c.db.QueryRowContext(ctx, query, userID, addedAt, videoID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = c.db.QueryRowContext(ctx, wrap, userID).Scan(&id)
	}
	if err != nil {
		return 0, xerrors.Errorf("query favorite neighbor: %w", err)
	}
	return id, nil
}

// AddDislike marks videoID as disliked by userID and drops a favorite of
// the same video.
func (c *Catalog) AddDislike(ctx context.Context, userID, videoID int64) error {
	return c.add(ctx, c.dislikes, c.favorites, userID, videoID)
}

// RemoveDislike unmarks a dislike. Removing a missing one is not an error.
func (c *Catalog) RemoveDislike(ctx context.Context, userID, videoID int64) error {
	return c.remove(ctx, c.dislikes, userID, videoID)
}

// IsDisliked reports whether userID disliked videoID.
func (c *Catalog) IsDisliked(ctx context.Context, userID, videoID int64) (bool, error) {
	return c.has(ctx, c.dislikes, userID, videoID)
}

// ListDislikes returns a page of dislikes, newest first.
func (c *Catalog) ListDislikes(ctx context.Context, userID int64, page, perPage int) (Page, error) {
	return c.list(ctx, c.dislikes, userID, page, perPage)
}
