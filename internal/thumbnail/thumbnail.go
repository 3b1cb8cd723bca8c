// Package thumbnail renders JPEG previews of videos with ffmpeg.
package thumbnail

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"

	"github.com/mocaca/mocaca/log"
)

// ErrNoVideo is returned when the source video does not exist.
var ErrNoVideo = errors.New("thumbnail: source video not found")

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Generator creates thumbnails named <id>.jpg inside Dir.
type Generator struct {
	// FFmpeg is the ffmpeg binary. Defaults to "ffmpeg".
	FFmpeg string
	// Dir holds the generated images.
	Dir string
	// Runner runs ffmpeg. Defaults to ExecRunner.
	Runner Runner
	// Workers bounds Batch parallelism. Defaults to 4.
	Workers int
	// Logger receives generation failures.
	Logger *log.Logger

	group singleflight.Group
}

// Item is one video to render in a Batch.
type Item struct {
	ID  int64
	Src string
}

// BatchResult summarizes a Batch run. Err combines the individual
// failures.
type BatchResult struct {
	Generated int   `json:"generated"`
	Skipped   int   `json:"skipped"`
	Failed    int   `json:"failed"`
	Err       error `json:"-"`
}

func (g *Generator) ffmpeg() string {
	if g.FFmpeg == "" {
		return "ffmpeg"
	}
	return g.FFmpeg
}

func (g *Generator) runner() Runner {
	if g.Runner == nil {
		return ExecRunner{}
	}
	return g.Runner
}

func (g *Generator) logger() *log.Logger {
	if g.Logger == nil {
		return log.Default()
	}
	return g.Logger
}

// Path returns where the thumbnail for id lives.
func (g *Generator) Path(id int64) string {
	return filepath.Join(g.Dir, strconv.FormatInt(id, 10)+".jpg")
}

// Rel returns the thumbnail file name relative to Dir.
func (g *Generator) Rel(id int64) string {
	return strconv.FormatInt(id, 10) + ".jpg"
}

// Exists reports whether a non-empty thumbnail for id is on disk.
func (g *Generator) Exists(id int64) bool {
	fi, err := os.Stat(g.Path(id))
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

// Ensure returns the path of the thumbnail for id, rendering it from src
// first if needed. Concurrent calls for one id share a single ffmpeg run,
// which is not cancelled when one of the callers goes away.
func (g *Generator) Ensure(ctx context.Context, id int64, src string) (string, error) {
	dst := g.Path(id)
	if g.Exists(id) {
		return dst, nil
	}

	ch := g.group.DoChan(strconv.FormatInt(id, 10), func() (interface{}, error) {
		if g.Exists(id) {
			return dst, nil
		}
		return dst, g.render(context.WithoutCancel(ctx), src, dst)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return dst, nil
	}
}

// render runs ffmpeg into a temporary file and renames it into place, so a
// half-written image is never served.
func (g *Generator) render(ctx context.Context, src, dst string) error {
	fi, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && fi.IsDir()) {
		return ErrNoVideo
	}
	if err != nil {
		return xerrors.Errorf("stat %q: %w", src, err)
	}

	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		return xerrors.Errorf("failed to create thumbnail dir: %w", err)
	}
	tmp := dst + ".part.jpg"
	defer os.Remove(tmp)

	out, err := g.runner().Run(ctx, g.ffmpeg(),
		"-y", "-loglevel", "error",
		"-ss", "1",
		"-i", src,
		"-frames:v", "1",
		"-vf", "scale=320:-2",
		tmp,
	)
	if err != nil {
		return xerrors.Errorf("ffmpeg failed for %q (%s): %w", src, tail(out), err)
	}
	fi, err = os.Stat(tmp)
	if err != nil || fi.Size() == 0 {
		return xerrors.Errorf("ffmpeg produced no image for %q", src)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return xerrors.Errorf("failed to store thumbnail: %w", err)
	}
	return nil
}

// Batch renders thumbnails for items with at most Workers ffmpeg processes
// at a time. A failure does not stop the others.
func (g *Generator) Batch(ctx context.Context, items []Item) BatchResult {
	workers := g.Workers
	if workers <= 0 {
		workers = 4
	}

	var (
		mu  sync.Mutex
		res BatchResult
	)
	eg := &errgroup.Group{}
	eg.SetLimit(workers)

	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		if g.Exists(it.ID) {
			res.Skipped++
			continue
		}
		it := it
		eg.Go(func() error {
			_, err := g.Ensure(ctx, it.ID, it.Src)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Err = multierr.Append(res.Err, xerrors.Errorf("video %d: %w", it.ID, err))
				g.logger().Warn().Err(err).Int64("video", it.ID).Msg("thumbnail: generation failed")
				return nil
			}
			res.Generated++
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		res.Err = multierr.Append(res.Err, err)
	}
	return res
}

// Remove deletes the thumbnail for id. A missing file is not an error.
func (g *Generator) Remove(id int64) error {
	if err := os.Remove(g.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return xerrors.Errorf("failed to remove thumbnail %d: %w", id, err)
	}
	return nil
}

// tail keeps the end of ffmpeg's output, where the error is.
func tail(out []byte) string {
	const max = 512
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return string(out)
}
