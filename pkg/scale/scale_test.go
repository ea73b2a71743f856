package scale

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/itohio/brewscale/pkg/brew"
	"github.com/itohio/brewscale/pkg/config"
	"github.com/itohio/brewscale/pkg/filter"
	"github.com/itohio/brewscale/pkg/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	mu    sync.Mutex
	value float32
}

func (s *stubSource) Sample() (float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, true
}

func (s *stubSource) Set(v float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Tasks.SamplePeriod = 5 * time.Millisecond
	cfg.Tasks.AutomationPeriod = 2 * time.Millisecond
	cfg.Filter.TareSamples = 5
	cfg.Filter.SettleDelay = 10 * time.Millisecond
	return cfg
}

func newTestScale(t *testing.T, src *stubSource, opts ...Option) *Scale {
	t.Helper()

	cfg := testConfig()
	est := flow.New(cfg)
	engine := filter.New(cfg, src, nil, filter.WithFlow(est))
	require.NoError(t, engine.Initialize(context.Background()))

	return New(cfg, engine, est, brew.NewController(cfg), brew.NewTimer(), opts...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) commands() []brew.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmds := make([]brew.Command, 0, len(r.events))
	for _, ev := range r.events {
		cmds = append(cmds, ev.Command)
	}
	return cmds
}

func TestScale_InitialSnapshots(t *testing.T) {
	s := newTestScale(t, &stubSource{value: 20})

	assert.Equal(t, float32(0), s.Weight())
	assert.Equal(t, filter.Stable, s.FilterState())
	assert.Equal(t, brew.Auto, s.Status().Mode)
	assert.False(t, s.Status().TimerRunning)
	_, ok := s.TimerAverageFlowRate()
	assert.False(t, ok)
}

func TestScale_SampleAndAutomate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	src := &stubSource{value: 20}
	s := newTestScale(t, src, WithClock(clock.Now))

	s.sample()
	s.automate()

	src.Set(270) // cup placed
	s.sample()
	m := s.Measurement()
	assert.InDelta(t, 250, m.Weight, 1e-3)
	assert.True(t, m.Connected)
	assert.True(t, m.Tared)

	rec := &recorder{}
	s.OnCommand(rec.record)

	for i := 0; i < 50; i++ {
		clock.Advance(25 * time.Millisecond)
		s.automate()
	}

	assert.Contains(t, rec.commands(), brew.Command(brew.RequestTare{}))
	assert.Len(t, s.tareCh, 1, "auto-tare queued for the sampling task")

	<-s.tareCh
	s.runTare(context.Background())
	assert.InDelta(t, 0, s.Weight(), 1e-3)
}

func TestScale_BackToBackBrewsStartFresh(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cfg := testConfig()
	est := flow.New(cfg).WithClock(clock.Now)
	engine := filter.New(cfg, &stubSource{value: 20}, nil, filter.WithFlow(est))
	require.NoError(t, engine.Initialize(context.Background()))
	s := New(cfg, engine, est, brew.NewController(cfg), brew.NewTimer().WithClock(clock.Now), WithClock(clock.Now))

	rec := &recorder{}
	s.OnCommand(rec.record)

	hold := func(weight, flowRate float32, dur time.Duration) {
		for elapsed := time.Duration(0); elapsed < dur; elapsed += 25 * time.Millisecond {
			clock.Advance(25 * time.Millisecond)
			s.measurement.Store(&Measurement{
				Time:      clock.Now(),
				Weight:    weight,
				FlowRate:  flowRate,
				Connected: true,
				Tared:     true,
			})
			s.automate()
		}
	}

	for i := 0; i < 2; i++ {
		hold(0, 0, 100*time.Millisecond)
		hold(250, 0, 1100*time.Millisecond)
		require.Len(t, s.tareCh, 1, "brew %d auto-tare queued", i)
		<-s.tareCh
		assert.False(t, s.TimerRunning())
		assert.Equal(t, time.Duration(0), s.TimerElapsed(), "brew %d starts from zero", i)

		hold(0, 0, 200*time.Millisecond)
		hold(30, 4, 2*time.Second)
		assert.InDelta(t, 2*time.Second, s.TimerElapsed(), float64(100*time.Millisecond))

		hold(-250, 0, 100*time.Millisecond)
		assert.False(t, s.TimerRunning())
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var starts []brew.StartKind
	for _, ev := range rec.events {
		if _, ok := ev.Command.(brew.StartTimer); ok {
			starts = append(starts, ev.TimerStart)
		}
	}
	assert.Equal(t, []brew.StartKind{brew.StartFresh, brew.StartFresh}, starts)
}

func TestScale_TimerCommands(t *testing.T) {
	s := newTestScale(t, &stubSource{value: 20})
	rec := &recorder{}
	s.OnCommand(rec.record)

	s.StartTimer()
	assert.True(t, s.TimerRunning())
	assert.True(t, s.flow.Debug().TimerActive)

	time.Sleep(2 * time.Millisecond)
	s.StartTimer()
	s.StopTimer()
	assert.False(t, s.TimerRunning())
	assert.False(t, s.flow.Debug().TimerActive)

	s.StartTimer()
	assert.True(t, s.flow.Debug().TimerActive)

	s.ResetTimer()
	assert.False(t, s.TimerRunning())
	assert.Equal(t, time.Duration(0), s.TimerElapsed())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 5)
	assert.Equal(t, brew.StartFresh, rec.events[0].TimerStart)
	assert.Equal(t, brew.StartIgnored, rec.events[1].TimerStart)
	assert.Equal(t, brew.StartResumed, rec.events[3].TimerStart)
}

func TestScale_TareRequestsCoalesce(t *testing.T) {
	s := newTestScale(t, &stubSource{value: 20})

	s.requestTare(nil)
	s.requestTare(nil)
	s.requestTare(nil)
	assert.Len(t, s.tareCh, 1)
}

func TestScale_TareWithoutRunningTimesOut(t *testing.T) {
	s := newTestScale(t, &stubSource{value: 20})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Tare(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScale_ModeSwitch(t *testing.T) {
	s := newTestScale(t, &stubSource{value: 20})
	rec := &recorder{}
	s.OnCommand(rec.record)

	s.StartTimer()
	s.OnModeSwitchRequested(false)
	assert.False(t, s.TimerRunning(), "mode switch resets the timer")

	s.SetMode(brew.Time)
	s.SetMode(brew.Time)
	s.OnTouchReleased()

	s.automate()
	assert.Equal(t, brew.Time, s.Status().Mode)
	assert.Contains(t, rec.commands(), brew.Command(brew.ModeChanged{Mode: brew.Flow}))
	assert.Contains(t, rec.commands(), brew.Command(brew.ModeChanged{Mode: brew.Time}))
}

func TestScale_Setters(t *testing.T) {
	s := newTestScale(t, &stubSource{value: 20})

	require.NoError(t, s.SetBrewingThreshold(0.4))
	require.NoError(t, s.SetStabilityTimeout(time.Second))
	require.NoError(t, s.SetMedianSamples(5))
	require.NoError(t, s.SetAverageSamples(4))
	require.NoError(t, s.SetCalibrationFactor(2000))
	assert.ErrorIs(t, s.SetMedianSamples(0), filter.ErrInvalidParameter)

	p := s.Profile()
	assert.Equal(t, float32(0.4), p.BrewingThreshold)
	assert.Equal(t, time.Second, p.StabilityTimeout)
	assert.Equal(t, 5, p.MedianSamples)
	assert.Equal(t, 4, p.AverageSamples)
	assert.Equal(t, float32(2000), p.CalibrationFactor)

	median, none := 7, 0
	err := s.SetFilterSettings(filter.Settings{MedianSamples: &median, AverageSamples: &none})
	assert.ErrorIs(t, err, filter.ErrInvalidParameter)
	assert.Equal(t, 5, s.Profile().MedianSamples)
	require.NoError(t, s.SetFilterSettings(filter.Settings{MedianSamples: &median}))
	assert.Equal(t, 7, s.Profile().MedianSamples)

	_, err = s.Calibrate(100)
	assert.ErrorIs(t, err, filter.ErrInvalidParameter)

	d := s.Debug()
	assert.True(t, d.Filter.Ready)
	assert.Equal(t, "awaiting-cup", d.Automation.AutoTareStage)
}
