// Command mocaca serves a directory of videos over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/mocaca/mocaca"
	"github.com/mocaca/mocaca/internal/api"
	"github.com/mocaca/mocaca/internal/catalog"
	"github.com/mocaca/mocaca/internal/config"
	"github.com/mocaca/mocaca/internal/filecache"
	"github.com/mocaca/mocaca/internal/media"
	"github.com/mocaca/mocaca/internal/memory"
	"github.com/mocaca/mocaca/internal/thumbnail"
	"github.com/mocaca/mocaca/log"
	"github.com/mocaca/mocaca/middleware/accesslog"
	"github.com/mocaca/mocaca/middleware/bearerauth"
	"github.com/mocaca/mocaca/middleware/cors"
	"github.com/mocaca/mocaca/middleware/ratelimit"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mocaca: bad environment:", err)
		os.Exit(2)
	}
	bindFlags(flag.CommandLine, &cfg)
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "mocaca: invalid configuration:", err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("mocaca: exiting")
	}
}

// bindFlags registers one flag per setting, defaulting to the value already
// in cfg so that flags override the environment.
func bindFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.BoolVar(&cfg.Multicore, "multicore", cfg.Multicore, "run one event loop per CPU")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "max concurrent handlers (0 = default)")
	fs.StringVar(&cfg.MediaDir, "media", cfg.MediaDir, "video directory")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite catalog path")
	fs.StringVar(&cfg.ThumbDir, "thumbs", cfg.ThumbDir, "thumbnail directory")
	fs.BoolVar(&cfg.ScanOnStart, "scan", cfg.ScanOnStart, "sync the catalog with the video directory at start")
	fs.IntVar(&cfg.CacheCapacity, "cache-capacity", cfg.CacheCapacity, "max open file handles")
	fs.DurationVar(&cfg.CacheIdleTimeout, "cache-idle", cfg.CacheIdleTimeout, "close handles unused for this long")
	fs.DurationVar(&cfg.JanitorInterval, "janitor-interval", cfg.JanitorInterval, "idle handle sweep period")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "login token lifetime")
	fs.StringVar(&cfg.AdminUser, "admin-user", cfg.AdminUser, "administrator username")
	fs.StringVar(&cfg.AdminPassword, "admin-password", cfg.AdminPassword, "administrator password used when the account is created")
	fs.DurationVar(&cfg.LoginEvery, "login-every", cfg.LoginEvery, "one login attempt per client is refilled every period")
	fs.IntVar(&cfg.LoginBurst, "login-burst", cfg.LoginBurst, "login attempts allowed at once")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", cfg.CORSOrigins, "comma-separated allowed origins")
	fs.StringVar(&cfg.FFmpegPath, "ffmpeg", cfg.FFmpegPath, "ffmpeg binary")
	fs.IntVar(&cfg.ThumbnailWorkers, "thumbnail-workers", cfg.ThumbnailWorkers, "parallel ffmpeg runs")
	fs.IntVar(&cfg.ThumbCacheMB, "thumb-cache-mb", cfg.ThumbCacheMB, "memory for thumbnail images (0 = off)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "rotating log file (empty = stdout)")
}

func run(cfg config.Config) (err error) {
	out, outCloser := log.NewOutput(log.OutputConfig{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	defer func() { err = multierr.Append(err, outCloser.Close()) }()
	log.SetOutput(out)
	log.SetLevel(cfg.Level())
	logger := log.Default()

	ctx := context.Background()

	cat, err := catalog.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	if _, err := cat.EnsureAdmin(ctx, cfg.AdminUser, cfg.AdminPassword); err != nil {
		return multierr.Append(xerrors.Errorf("seed admin: %w", err), cat.Close())
	}

	store, err := media.NewStore(cfg.MediaDir)
	if err != nil {
		return multierr.Append(err, cat.Close())
	}
	thumbStore, err := media.NewStore(cfg.ThumbDir)
	if err != nil {
		return multierr.Append(err, cat.Close())
	}

	cache, err := filecache.New(cfg.CacheCapacity, cfg.CacheIdleTimeout, filecache.WithLogger(logger))
	if err != nil {
		return multierr.Append(err, cat.Close())
	}
	janitor := filecache.NewJanitor(cache, cfg.JanitorInterval, filecache.WithJanitorLogger(logger))
	janitor.Start()

	var bodies *filecache.ContentCache
	if cfg.ThumbCacheMB > 0 {
		bodies, err = filecache.NewContentCache(int64(cfg.ThumbCacheMB)<<20, cfg.ThumbCacheItems)
		if err != nil {
			janitor.Stop()
			return multierr.Combine(err, cache.Close(), cat.Close())
		}
	}

	sessionStore := memory.New(time.Minute)

	a := api.New(api.Options{
		Catalog:    cat,
		Media:      store,
		ThumbStore: thumbStore,
		Thumbs: &thumbnail.Generator{
			FFmpeg:  cfg.FFmpegPath,
			Dir:     thumbStore.Root(),
			Workers: cfg.ThumbnailWorkers,
			Logger:  logger,
		},
		Cache:    cache,
		Bodies:   bodies,
		Sessions: bearerauth.NewSessions(sessionStore, cfg.SessionTTL),
		Login: ratelimit.Config{
			Rate:  rate.Every(cfg.LoginEvery),
			Burst: cfg.LoginBurst,
		},
		Logger: logger,
	})

	if cfg.ScanOnStart {
		if _, err := a.Scan(ctx); err != nil {
			logger.Error().Err(err).Msg("mocaca: initial scan failed")
		}
	}

	serverCfg := mocaca.DefaultConfig()
	serverCfg.Multicore = cfg.Multicore
	serverCfg.Workers = cfg.Workers
	serverCfg.Logger = logger
	app := mocaca.New(serverCfg)

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = strings.Join(cfg.Origins(), ",")
	app.Use(accesslog.New(accesslog.Config{Logger: logger}), cors.New(corsCfg))
	a.Register(app)

	logger.Info().
		Str("media", store.Root()).
		Str("db", cat.Path()).
		Int("cache_capacity", cfg.CacheCapacity).
		Dur("cache_idle", cfg.CacheIdleTimeout).
		Msg("mocaca: starting")

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.Listen(cfg.Addr)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var listenErr error
	select {
	case listenErr = <-serverErr:
		if listenErr != nil {
			listenErr = xerrors.Errorf("listen on %s: %w", cfg.Addr, listenErr)
		}
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("mocaca: shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = multierr.Combine(
		listenErr,
		app.Shutdown(shutdownCtx),
	)
	a.Close()
	janitor.Stop()
	err = multierr.Combine(
		err,
		cache.Close(),
		sessionStore.Close(),
		cat.Close(),
	)
	if err == nil {
		logger.Info().Msg("mocaca: stopped")
	}
	return err
}
