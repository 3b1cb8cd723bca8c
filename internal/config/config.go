// Package config holds the application settings of the mocaca binary.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/mocaca/mocaca/log"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "MOCACA_"

// Config represents the application configuration.
type Config struct {
	// Addr is the listen address.
	Addr string
	// Multicore runs one event loop per CPU.
	Multicore bool
	// Workers bounds concurrently running handlers. Zero means the server default.
	Workers int

	// MediaDir is the directory holding the videos.
	MediaDir string
	// DBPath is the SQLite catalog file.
	DBPath string
	// ThumbDir holds generated thumbnails.
	ThumbDir string
	// ScanOnStart syncs the catalog with MediaDir before listening.
	ScanOnStart bool

	// CacheCapacity is the maximum number of open file handles.
	CacheCapacity int
	// CacheIdleTimeout is how long an unused handle stays open.
	CacheIdleTimeout time.Duration
	// JanitorInterval is the period of the idle handle sweep.
	JanitorInterval time.Duration

	// SessionTTL is the lifetime of a login token.
	SessionTTL time.Duration
	// AdminUser and AdminPassword seed the administrator account.
	AdminUser     string
	AdminPassword string
	// LoginEvery is the refill period of the login rate limit.
	LoginEvery time.Duration
	// LoginBurst is the number of logins allowed at once per client.
	LoginBurst int
	// CORSOrigins is a comma-separated list of allowed origins.
	CORSOrigins string

	// FFmpegPath is the ffmpeg binary used for thumbnails.
	FFmpegPath string
	// ThumbnailWorkers bounds parallel ffmpeg runs.
	ThumbnailWorkers int
	// ThumbCacheMB is the memory kept for thumbnail images. Zero disables it.
	ThumbCacheMB int
	// ThumbCacheItems is the number of thumbnail images kept in memory.
	ThumbCacheItems int

	// LogLevel is one of debug, info, warn or error.
	LogLevel string
	// LogFile is a rotating log file. Empty means stdout.
	LogFile string
	// LogMaxSizeMB is the rotation size of LogFile.
	LogMaxSizeMB int
	// LogMaxBackups is the number of rotated files kept.
	LogMaxBackups int
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Addr:             ":5003",
		Multicore:        true,
		MediaDir:         "./videos",
		DBPath:           "./data/mocaca.db",
		ThumbDir:         "./data/thumbnails",
		ScanOnStart:      true,
		CacheCapacity:    100,
		CacheIdleTimeout: 5 * time.Minute,
		JanitorInterval:  60 * time.Second,
		SessionTTL:       24 * time.Hour,
		AdminUser:        "admin",
		AdminPassword:    "admin",
		LoginEvery:       12 * time.Second,
		LoginBurst:       5,
		CORSOrigins:      "*",
		FFmpegPath:       "ffmpeg",
		ThumbnailWorkers: 4,
		ThumbCacheMB:     32,
		ThumbCacheItems:  1000,
		LogLevel:         "info",
		LogMaxSizeMB:     100,
		LogMaxBackups:    5,
	}
}

// FromEnv returns Default overlaid with the MOCACA_* environment variables.
func FromEnv() (Config, error) {
	cfg := Default()
	err := cfg.Overlay(os.LookupEnv)
	return cfg, err
}

// Overlay replaces fields for which lookup finds a MOCACA_* variable.
// Every malformed value is reported; valid ones are still applied.
func (c *Config) Overlay(lookup func(key string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("ADDR", &c.Addr)
	e.boolean("MULTICORE", &c.Multicore)
	e.integer("WORKERS", &c.Workers)

	e.str("MEDIA_DIR", &c.MediaDir)
	e.str("DB_PATH", &c.DBPath)
	e.str("THUMB_DIR", &c.ThumbDir)
	e.boolean("SCAN_ON_START", &c.ScanOnStart)

	e.integer("CACHE_CAPACITY", &c.CacheCapacity)
	e.duration("CACHE_IDLE_TIMEOUT", &c.CacheIdleTimeout)
	e.duration("JANITOR_INTERVAL", &c.JanitorInterval)

	e.duration("SESSION_TTL", &c.SessionTTL)
	e.str("ADMIN_USER", &c.AdminUser)
	e.str("ADMIN_PASSWORD", &c.AdminPassword)
	e.duration("LOGIN_EVERY", &c.LoginEvery)
	e.integer("LOGIN_BURST", &c.LoginBurst)
	e.str("CORS_ORIGINS", &c.CORSOrigins)

	e.str("FFMPEG_PATH", &c.FFmpegPath)
	e.integer("THUMBNAIL_WORKERS", &c.ThumbnailWorkers)
	e.integer("THUMB_CACHE_MB", &c.ThumbCacheMB)
	e.integer("THUMB_CACHE_ITEMS", &c.ThumbCacheItems)

	e.str("LOG_LEVEL", &c.LogLevel)
	e.str("LOG_FILE", &c.LogFile)
	e.integer("LOG_MAX_SIZE_MB", &c.LogMaxSizeMB)
	e.integer("LOG_MAX_BACKUPS", &c.LogMaxBackups)

	return e.err
}

// Validate reports every setting that cannot work.
func (c Config) Validate() error {
	var err error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			err = multierr.Append(err, xerrors.Errorf(format, args...))
		}
	}

	check(c.Addr != "", "addr must not be empty")
	check(c.MediaDir != "", "media dir must not be empty")
	check(c.DBPath != "", "db path must not be empty")
	check(c.ThumbDir != "", "thumbnail dir must not be empty")
	check(c.CacheCapacity > 0, "cache capacity must be positive, got %d", c.CacheCapacity)
	check(c.CacheIdleTimeout > 0, "cache idle timeout must be positive, got %s", c.CacheIdleTimeout)
	check(c.JanitorInterval > 0, "janitor interval must be positive, got %s", c.JanitorInterval)
	check(c.SessionTTL > 0, "session ttl must be positive, got %s", c.SessionTTL)
	check(c.LoginEvery > 0, "login rate period must be positive, got %s", c.LoginEvery)
	check(c.LoginBurst > 0, "login burst must be positive, got %d", c.LoginBurst)
	check(c.ThumbnailWorkers > 0, "thumbnail workers must be positive, got %d", c.ThumbnailWorkers)
	check(c.ThumbCacheMB >= 0, "thumbnail cache size must not be negative, got %d", c.ThumbCacheMB)
	check(c.ThumbCacheMB == 0 || c.ThumbCacheItems > 0, "thumbnail cache items must be positive, got %d", c.ThumbCacheItems)
	check(c.Workers >= 0, "workers must not be negative, got %d", c.Workers)
	check(c.AdminUser != "", "admin user must not be empty")
	check(c.AdminPassword != "", "admin password must not be empty")
	if _, lerr := log.ParseLevel(c.LogLevel); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	return err
}

// Level returns the parsed LogLevel, defaulting to info.
func (c Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Origins splits CORSOrigins for logging.
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(name, v string, err error) {
	e.err = multierr.Append(e.err, xerrors.Errorf("%s%s=%q: %w", EnvPrefix, name, v, err))
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) integer(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) boolean(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = d
}
