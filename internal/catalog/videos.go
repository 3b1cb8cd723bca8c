package catalog

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"path"
	"time"

	"golang.org/x/xerrors"
)

// Video is a catalog row. Filepath is the slash-separated path below the
// media root and identifies the file; Filename is its base name.
type Video struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Filepath  string    `json:"filepath"`
	NextID    *int64    `json:"next_id"`
	CreatedAt time.Time `json:"created_at"`
}

func scanVideo(s rowScanner) (Video, error) {
	var (
		v       Video
		next    sql.NullInt64
		created int64
	)
	if err := s.Scan(&v.ID, &v.Filename, &v.Filepath, &next, &created); err != nil {
		return Video{}, err
	}
	if next.Valid {
		n := next.Int64
		v.NextID = &n
	}
	v.CreatedAt = time.Unix(0, created).UTC()
	return v, nil
}

func scanVideos(rows *sql.Rows) ([]Video, error) {
	defer rows.Close()
	out := []Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, xerrors.Errorf("scan video: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (c *Catalog) queryVideo(ctx context.Context, query string, args ...interface{}) (Video, error) {
	v, err := scanVideo(c.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Video{}, ErrNotFound
	}
	if err != nil {
		return Video{}, xerrors.Errorf("query video: %w", err)
	}
	return v, nil
}

// GetVideo returns the video with id, including its next_id link.
func (c *Catalog) GetVideo(ctx context.Context, id int64) (Video, error) {
	return c.queryVideo(ctx, videoByID, id)
}

// VideoByPath returns the video stored for the media path rel.
func (c *Catalog) VideoByPath(ctx context.Context, rel string) (Video, error) {
	return c.queryVideo(ctx, videoByPath, rel)
}

// PrevVideo returns the video with the largest id below id. Before the
// first video it wraps around to the last one.
func (c *Catalog) PrevVideo(ctx context.Context, id int64) (Video, error) {
	v, err := c.queryVideo(ctx, videoBefore, id)
	if errors.Is(err, ErrNotFound) {
		return c.queryVideo(ctx, videoLast)
	}
	return v, err
}

// ListOptions selects a page of videos.
type ListOptions struct {
	Page    int
	PerPage int
	// Random orders the listing by a permutation derived from Seed. The same
	// seed always gives the same order, so clients can page through it. A
	// zero seed picks a fresh one, reported back in Page.Seed.
	Random bool
	Seed   int64
	// ExcludeDislikedBy hides the videos this user disliked. Zero hides
	// nothing.
	ExcludeDislikedBy int64
}

// seedModulus is the prime the random order is computed modulo.
const seedModulus = 2147483647

// ListVideos returns a page of videos ordered by id or, with Random, by a
// seeded shuffle.
func (c *Catalog) ListVideos(ctx context.Context, opts ListOptions) (Page, error) {
	page, perPage := normalizePage(opts.Page, opts.PerPage)

	var total int
	if err := c.db.QueryRowContext(ctx, countVideos, opts.ExcludeDislikedBy).Scan(&total); err != nil {
		return Page{}, xerrors.Errorf("count videos: %w", err)
	}

	offset := (page - 1) * perPage
	var (
		rows *sql.Rows
		err  error
		seed int64
	)
	if opts.Random {
		seed = opts.Seed
		if seed == 0 {
			seed = rand.Int63n(seedModulus-1) + 1
		}
		rows, err = c.db.QueryContext(ctx, listVideosSeed, opts.ExcludeDislikedBy, perPage, offset, seedMultiplier(seed))
	} else {
		rows, err = c.db.QueryContext(ctx, listVideos, opts.ExcludeDislikedBy, perPage, offset)
	}
	if err != nil {
		return Page{}, xerrors.Errorf("list videos: %w", err)
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
		Seed:    seed,
	}, nil
}

// seedMultiplier scrambles seed with splitmix64 and maps it into
// [1, seedModulus-1]. Multiplying ids by it modulo the prime permutes them.
func seedMultiplier(seed int64) int64 {
	z := uint64(seed) + 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return int64(z%(seedModulus-1)) + 1
}

// ScanResult reports what SyncVideos changed.
type ScanResult struct {
	Added      int     `json:"added"`
	Removed    int     `json:"removed"`
	Total      int     `json:"total"`
	RemovedIDs []int64 `json:"-"`
}

// SyncVideos makes the videos table match files, the media paths found on
// disk. New paths are inserted in the given order, rows whose file vanished
// are deleted, and the next_id chain is rebuilt in id order.
func (c *Catalog) SyncVideos(ctx context.Context, files []string) (ScanResult, error) {
	var res ScanResult
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		existing := make(map[string]int64)
		rows, err := tx.QueryContext(ctx, allVideoPaths)
		if err != nil {
			return xerrors.Errorf("load videos: %w", err)
		}
		for rows.Next() {
			var (
				id  int64
				rel string
			)
			if err := rows.Scan(&id, &rel); err != nil {
				rows.Close()
				return xerrors.Errorf("scan video path: %w", err)
			}
			existing[rel] = id
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return xerrors.Errorf("load videos: %w", err)
		}

		now := c.now().UnixNano()
		seen := make(map[string]bool, len(files))
		for _, rel := range files {
			if seen[rel] {
				continue
			}
			seen[rel] = true
			if _, ok := existing[rel]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, insertVideo, path.Base(rel), rel, now); err != nil {
				return xerrors.Errorf("insert %q: %w", rel, err)
			}
			res.Added++
		}

		for rel, id := range existing {
			if seen[rel] {
				continue
			}
			if _, err := tx.ExecContext(ctx, deleteVideo, id); err != nil {
				return xerrors.Errorf("delete %q: %w", rel, err)
			}
			res.Removed++
			res.RemovedIDs = append(res.RemovedIDs, id)
		}

		return relink(ctx, tx, &res.Total)
	})
	if err != nil {
		return ScanResult{}, err
	}
	return res, nil
}

// relink rebuilds the next_id chain and reports the number of videos.
func relink(ctx context.Context, tx *sql.Tx, total *int) error {
	if _, err := tx.ExecContext(ctx, relinkVideos); err != nil {
		return xerrors.Errorf("relink videos: %w", err)
	}
	if err := tx.QueryRowContext(ctx, totalVideos).Scan(total); err != nil {
		return xerrors.Errorf("count videos: %w", err)
	}
	return nil
}

// DeleteDislikedContent removes every video that at least one user disliked
// and returns the removed rows. Deleting the files, their cached handles and
// their thumbnails is up to the caller.
func (c *Catalog) DeleteDislikedContent(ctx context.Context) ([]Video, error) {
	var removed []Video
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, dislikedVideos)
		if err != nil {
			return xerrors.Errorf("list disliked videos: %w", err)
		}
		removed, err = scanVideos(rows)
		if err != nil {
			return err
		}
		for _, v := range removed {
			if _, err := tx.ExecContext(ctx, deleteVideo, v.ID); err != nil {
				return xerrors.Errorf("delete video %d: %w", v.ID, err)
			}
		}
		var total int
		return relink(ctx, tx, &total)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}
