package media

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// VideoExtensions lists the file extensions picked up by Scan.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
	".m4v":  true,
}

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// ContentType returns the MIME type for name's extension, or
// application/octet-stream.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// IsVideo reports whether name has a video extension.
func IsVideo(name string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(name))]
}

// Scan walks the root and returns the slash-separated relative paths of all
// video files, sorted. Hidden files and directories are skipped. Entries that
// cannot be read are skipped as well and reported together in the returned
// error, alongside whatever was found.
func (s *Store) Scan(ctx context.Context) ([]string, error) {
	var (
		files []string
		errs  error
	)

	walkErr := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == s.root {
				return err
			}
			errs = multierr.Append(errs, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if p != s.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsVideo(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			errs = multierr.Append(errs, err)
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		return nil, multierr.Append(walkErr, errs)
	}

	sort.Strings(files)
	return files, errs
}
