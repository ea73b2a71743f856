package filter

import (
	"context"
	"testing"
	"time"

	"github.com/itohio/brewscale/pkg/config"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func (c *fakeClock) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

type reading struct {
	v  float32
	ok bool
}

// fakeSource returns queued readings first and then value forever.
type fakeSource struct {
	queue []reading
	value float32
	ok    bool
	calls int
}

func (s *fakeSource) Sample() (float32, bool) {
	s.calls++
	if len(s.queue) > 0 {
		r := s.queue[0]
		s.queue = s.queue[1:]
		return r.v, r.ok
	}
	return s.value, s.ok
}

// countsSource converts a fixed ADC count into grams with its own factor.
type countsSource struct {
	counts float32
	factor float32
}

func (s *countsSource) Sample() (float32, bool) { return s.counts / s.factor, true }

func (s *countsSource) SetCalibrationFactor(f float32) { s.factor = f }

type flowRecorder struct {
	calls []string
}

func (f *flowRecorder) PauseCalculation()  { f.calls = append(f.calls, "pause") }
func (f *flowRecorder) ResumeCalculation() { f.calls = append(f.calls, "resume") }
func (f *flowRecorder) ClearBuffer()       { f.calls = append(f.calls, "clear") }

// newReadyEngine returns an engine that has been initialized against src.
func newReadyEngine(t *testing.T, src Source, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now), WithWait(clock.Wait)}, opts...)
	e := New(config.Default(), src, nil, opts...)
	require.NoError(t, e.Initialize(context.Background()))
	return e, clock
}

// readFor calls Read every step for d and returns the last output.
func readFor(e *Engine, clock *fakeClock, d, step time.Duration) float32 {
	var w float32
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		clock.Advance(step)
		w = e.Read()
	}
	return w
}
