package filecache

import (
	"sync"
	"time"

	"github.com/mocaca/mocaca/log"
)

// DefaultJanitorInterval is how often a Janitor sweeps when no interval is given.
const DefaultJanitorInterval = 60 * time.Second

// Sweeper is anything a Janitor can sweep.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Janitor periodically evicts idle handles from a cache, independent of
// request traffic.
type Janitor struct {
	sweeper  Sweeper
	interval time.Duration
	now      func() time.Time
	logger   *log.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor)

// WithJanitorClock sets the time passed to each sweep.
func WithJanitorClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) {
		j.now = now
	}
}

// WithJanitorLogger sets the logger used to report sweeps.
func WithJanitorLogger(l *log.Logger) JanitorOption {
	return func(j *Janitor) {
		j.logger = l
	}
}

// NewJanitor creates a Janitor for s. A non-positive interval falls back to
// DefaultJanitorInterval.
func NewJanitor(s Sweeper, interval time.Duration, opts ...JanitorOption) *Janitor {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	j := &Janitor{
		sweeper:  s,
		interval: interval,
		now:      time.Now,
		logger:   log.Default(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start launches the sweep loop. Calling it again has no effect.
func (j *Janitor) Start() {
	j.startOnce.Do(func() {
		go j.run()
	})
}

// Stop ends the sweep loop and waits for it to exit. A Janitor that was never
// started stops immediately.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stop)
	})
	j.startOnce.Do(func() {
		close(j.done)
	})
	<-j.done
}

func (j *Janitor) run() {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Tick()
		case <-j.stop:
			return
		}
	}
}

// Tick performs a single sweep. A panic inside the sweep is logged and
// swallowed so the schedule keeps running.
func (j *Janitor) Tick() (evicted int) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error().Msgf("filecache: sweep panicked: %v", r)
			evicted = 0
		}
	}()

	evicted = j.sweeper.Sweep(j.now())
	if evicted > 0 {
		j.logger.Debug().Int("evicted", evicted).Msg("filecache: swept idle handles")
	}
	return evicted
}
