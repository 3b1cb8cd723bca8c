package filecache

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mocaca/mocaca/log"
)

type countingSweeper struct {
	calls atomic.Int32
	panic atomic.Bool
}

func (s *countingSweeper) Sweep(time.Time) int {
	s.calls.Add(1)
	if s.panic.Load() {
		panic("close exploded")
	}
	return 0
}

func TestJanitorTickSweepsCache(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, 4, time.Minute, clock)

	h := newFakeHandle("a")
	put(t, c, "a", h)
	clock.Advance(2 * time.Minute)

	j := NewJanitor(c, time.Hour, WithJanitorClock(clock.Now), WithJanitorLogger(log.New(&bytes.Buffer{}, log.DebugLevel)))
	assert.Equal(t, 1, j.Tick())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int32(1), h.closes.Load())
}

func TestJanitorSurvivesPanics(t *testing.T) {
	out := &bytes.Buffer{}
	s := &countingSweeper{}
	s.panic.Store(true)

	j := NewJanitor(s, time.Hour, WithJanitorLogger(log.New(out, log.DebugLevel)))
	assert.NotPanics(t, func() {
		assert.Equal(t, 0, j.Tick())
	})
	assert.Contains(t, out.String(), "sweep panicked")

	s.panic.Store(false)
	j.Tick()
	assert.Equal(t, int32(2), s.calls.Load())
}

func TestJanitorRunsPeriodicallyUntilStopped(t *testing.T) {
	s := &countingSweeper{}
	s.panic.Store(true)

	j := NewJanitor(s, 5*time.Millisecond, WithJanitorLogger(log.New(&bytes.Buffer{}, log.DebugLevel)))
	j.Start()
	j.Start()

	require.Eventually(t, func() bool {
		return s.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	j.Stop()
	after := s.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, s.calls.Load())

	assert.NotPanics(t, j.Stop)
}

func TestJanitorStopWithoutStart(t *testing.T) {
	j := NewJanitor(&countingSweeper{}, 0)
	assert.Equal(t, DefaultJanitorInterval, j.interval)

	done := make(chan struct{})
	go func() {
		j.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a janitor that was never started")
	}
}
