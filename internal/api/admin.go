package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/mocaca/mocaca"
	"github.com/mocaca/mocaca/internal/catalog"
	"github.com/mocaca/mocaca/internal/media"
	"github.com/mocaca/mocaca/internal/thumbnail"
)

// scanTimeout bounds one background scan.
const scanTimeout = 10 * time.Minute

var errScanRunning = mocaca.NewHttpError(mocaca.StatusConflict, "a scan is already running")

// ScanStatus reports the state of the background scan.
type ScanStatus struct {
	Running    bool                `json:"running"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Result     *catalog.ScanResult `json:"result,omitempty"`
	Error      string              `json:"error,omitempty"`
}

type scanJob struct {
	mu     sync.Mutex
	status ScanStatus
}

// begin marks the job running unless it already is.
func (j *scanJob) begin(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Running {
		return false
	}
	j.status = ScanStatus{Running: true, StartedAt: &now}
	return true
}

func (j *scanJob) end(now time.Time, res catalog.ScanResult, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status.Running = false
	j.status.FinishedAt = &now
	if err != nil {
		j.status.Error = err.Error()
		return
	}
	j.status.Result = &res
}

func (j *scanJob) snapshot() ScanStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Scan syncs the catalog with the media directory and drops the thumbnails
// of videos that vanished. The catalog is left untouched when any part of
// the directory could not be read, since missing entries would otherwise
// be pruned.
func (a *API) Scan(ctx context.Context) (catalog.ScanResult, error) {
	start := time.Now()
	files, err := a.media.Scan(ctx)
	if err != nil {
		return catalog.ScanResult{}, xerrors.Errorf("scan media dir: %w", err)
	}
	res, err := a.catalog.SyncVideos(ctx, files)
	if err != nil {
		return catalog.ScanResult{}, err
	}

	var errs error
	for _, id := range res.RemovedIDs {
		errs = multierr.Append(errs, a.forgetThumbnail(id))
	}
	if errs != nil {
		a.logger.Warn().Err(errs).Msg("api: failed to remove thumbnails of vanished videos")
	}

	a.logger.Info().
		Int("added", res.Added).
		Int("removed", res.Removed).
		Int("total", res.Total).
		Dur("took", time.Since(start)).
		Msg("api: media scan finished")
	return res, nil
}

// StartScan runs Scan in the background. It reports false when a scan is
// already running.
func (a *API) StartScan() bool {
	if !a.job.begin(time.Now()) {
		return false
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(a.ctx, scanTimeout)
		defer cancel()

		res, err := a.Scan(ctx)
		if err != nil {
			a.logger.Error().Err(err).Msg("api: background scan failed")
		}
		a.job.end(time.Now(), res, err)
	}()
	return true
}

// ScanStatus returns the state of the background scan.
func (a *API) ScanStatus() ScanStatus {
	return a.job.snapshot()
}

func (a *API) scan(c *mocaca.Ctx) {
	res, err := a.Scan(c.Context())
	if err != nil {
		fail(c, err, "")
		return
	}
	c.JSON(res)
}

func (a *API) refreshFiles(c *mocaca.Ctx) {
	if !a.StartScan() {
		c.Error(errScanRunning)
		return
	}
	c.Status(mocaca.StatusAccepted).JSON(map[string]string{"status": "started"})
}

func (a *API) refreshStatus(c *mocaca.Ctx) {
	c.JSON(a.ScanStatus())
}

// generateThumbnails renders the missing thumbnail of every video.
func (a *API) generateThumbnails(c *mocaca.Ctx) {
	ctx := c.Context()

	var items []thumbnail.Item
	for page := 1; ; page++ {
		p, err := a.catalog.ListVideos(ctx, catalog.ListOptions{Page: page, PerPage: catalog.MaxPerPage})
		if err != nil {
			fail(c, err, "")
			return
		}
		for _, v := range p.Items {
			items = append(items, thumbnail.Item{ID: v.ID, Src: a.videoPath(v)})
		}
		if page >= p.Pages {
			break
		}
	}

	res := a.thumbs.Batch(ctx, items)
	if res.Err != nil {
		a.logger.Warn().Err(res.Err).Int("failed", res.Failed).Msg("api: thumbnail batch had failures")
	}
	c.JSON(res)
}

type deleteView struct {
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// deleteDislikedContent removes every disliked video from the catalog and
// from disk.
func (a *API) deleteDislikedContent(c *mocaca.Ctx) {
	removed, err := a.catalog.DeleteDislikedContent(c.Context())
	if err != nil {
		fail(c, err, "")
		return
	}

	var errs error
	for _, v := range removed {
		errs = multierr.Append(errs, a.removeVideoFiles(v))
	}
	failed := len(multierr.Errors(errs))
	if errs != nil {
		a.logger.Warn().Err(errs).Int("failed", failed).Msg("api: some disliked files could not be removed")
	}
	a.logger.Info().Int("deleted", len(removed)).Msg("api: deleted disliked content")
	c.JSON(deleteView{Deleted: len(removed), Failed: failed})
}

// removeVideoFiles deletes the file and the thumbnail of v and evicts their
// cached handles.
func (a *API) removeVideoFiles(v catalog.Video) error {
	var err error
	e, lerr := a.media.Lookup(v.Filepath)
	switch {
	case errors.Is(lerr, media.ErrNotFound):
	case lerr != nil:
		err = multierr.Append(err, lerr)
	case e.Rel != v.Filepath:
		// only a case-insensitive match, which belongs to another row
	default:
		a.cache.Remove(e.Path)
		err = multierr.Append(err, a.media.Remove(e.Rel))
	}
	return multierr.Append(err, a.forgetThumbnail(v.ID))
}

func (a *API) forgetThumbnail(id int64) error {
	if e, err := a.thumbStore.Lookup(a.thumbs.Rel(id)); err == nil {
		a.cache.Remove(e.Path)
		if a.bodies != nil {
			a.bodies.Remove(e.Path)
		}
	}
	return a.thumbs.Remove(id)
}
