// Package scale runs the sampling and automation tasks and publishes their
// results as immutable snapshots.
package scale

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/brewscale/pkg/brew"
	"github.com/itohio/brewscale/pkg/config"
	"github.com/itohio/brewscale/pkg/filter"
	"github.com/itohio/brewscale/pkg/flow"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Measurement is published by the sampling task after every read.
type Measurement struct {
	Time      time.Time
	Weight    float32
	FlowRate  float32
	State     filter.State
	Connected bool
	Tared     bool
}

// Status is published by the automation task after every cycle.
type Status struct {
	Time            time.Time
	Mode            brew.Mode
	TimerRunning    bool
	TimerElapsed    time.Duration
	TimerAverage    float32
	HasTimerAverage bool
}

// Event describes a command after it has been applied.
type Event struct {
	Time         time.Time
	Command      brew.Command
	Weight       float32
	FlowRate     float32
	TimerElapsed time.Duration
	TimerStart   brew.StartKind // Set for StartTimer
}

// Debug combines diagnostic views of all components.
type Debug struct {
	Filter     filter.Debug
	Flow       flow.Debug
	Automation brew.Status
}

// Option configures a Scale.
type Option func(*Scale)

// WithClock sets the clock used for automation and snapshots.
func WithClock(now func() time.Time) Option {
	return func(s *Scale) { s.timeNow = now }
}

// Scale wires the filter, flow estimator, controller and timer together.
type Scale struct {
	cfg        config.TasksConfig
	engine     *filter.Engine
	flow       *flow.Estimator
	controller *brew.Controller
	timer      *brew.Timer
	timeNow    func() time.Time

	measurement atomic.Pointer[Measurement]
	status      atomic.Pointer[Status]

	tareCh      chan struct{}
	tareMu      sync.Mutex
	tareWaiters []chan error

	cbMu      sync.RWMutex
	callbacks []func(Event)
}

// New creates a Scale. The engine should have been created with
// filter.WithFlow(estimator) so tares pause the estimator.
func New(cfg *config.Config, engine *filter.Engine, estimator *flow.Estimator, controller *brew.Controller, timer *brew.Timer, opts ...Option) *Scale {
	s := &Scale{
		cfg:        cfg.Tasks,
		engine:     engine,
		flow:       estimator,
		controller: controller,
		timer:      timer,
		timeNow:    time.Now,
		tareCh:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.measurement.Store(&Measurement{Time: s.timeNow()})
	s.publishStatus(s.timeNow())
	return s
}

// Run starts both periodic tasks and blocks until ctx is done and both
// tasks have returned.
func (s *Scale) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.samplingLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.automationLoop(ctx)
	}()

	logrus.WithFields(logrus.Fields{
		"sample":     s.cfg.SamplePeriod,
		"automation": s.cfg.AutomationPeriod,
	}).Info("scale running")

	wg.Wait()
	s.failTareWaiters(ctx.Err())
	return nil
}

func (s *Scale) samplingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SamplePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.tareCh:
			s.runTare(ctx)
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Scale) automationLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.AutomationPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.automate()
		}
	}
}

// sample runs one sampling cycle. Only the sampling task calls it.
func (s *Scale) sample() {
	w := s.engine.Read()
	s.flow.Update(w)

	s.measurement.Store(&Measurement{
		Time:      s.timeNow(),
		Weight:    w,
		FlowRate:  s.flow.FlowRate(),
		State:     s.engine.State(),
		Connected: s.engine.Connected(),
		Tared:     s.engine.Tared(),
	})
}

// automate runs one automation cycle. Only the automation task calls it.
func (s *Scale) automate() {
	now := s.timeNow()
	m := s.measurement.Load()

	s.dispatch(s.controller.Evaluate(m.Weight, m.FlowRate, now))
	s.publishStatus(now)
}

func (s *Scale) publishStatus(now time.Time) {
	avg, ok := s.flow.TimerAverage()
	s.status.Store(&Status{
		Time:            now,
		Mode:            s.controller.Mode(),
		TimerRunning:    s.timer.Running(),
		TimerElapsed:    s.timer.Elapsed(),
		TimerAverage:    avg,
		HasTimerAverage: ok,
	})
}

// runTare performs a queued tare on the sampling task.
func (s *Scale) runTare(ctx context.Context) {
	s.tareMu.Lock()
	waiters := s.tareWaiters
	s.tareWaiters = nil
	s.tareMu.Unlock()

	err := s.engine.Tare(ctx, 0)
	if err != nil {
		logrus.WithError(err).Warn("tare failed")
	}

	s.measurement.Store(&Measurement{
		Time:      s.timeNow(),
		Weight:    s.engine.Weight(),
		FlowRate:  s.flow.FlowRate(),
		State:     s.engine.State(),
		Connected: s.engine.Connected(),
		Tared:     s.engine.Tared(),
	})

	for _, w := range waiters {
		w <- err
	}
}

// requestTare queues a tare. Requests made while one is queued coalesce.
func (s *Scale) requestTare(done chan error) {
	if done != nil {
		s.tareMu.Lock()
		s.tareWaiters = append(s.tareWaiters, done)
		s.tareMu.Unlock()
	}
	select {
	case s.tareCh <- struct{}{}:
	default:
	}
}

func (s *Scale) failTareWaiters(err error) {
	if err == nil {
		err = context.Canceled
	}
	s.tareMu.Lock()
	waiters := s.tareWaiters
	s.tareWaiters = nil
	s.tareMu.Unlock()
	for _, w := range waiters {
		w <- err
	}
}

// dispatch applies commands and notifies subscribers.
func (s *Scale) dispatch(cmds []brew.Command) {
	for _, cmd := range cmds {
		ev := Event{Command: cmd}

		switch cmd.(type) {
		case brew.RequestTare:
			s.requestTare(nil)
		case brew.StartTimer:
			ev.TimerStart = s.timer.Start()
			switch ev.TimerStart {
			case brew.StartFresh:
				s.flow.StartTimerAveraging()
			case brew.StartResumed:
				// A paused brew keeps its accumulated average; ResetTimer clears it.
				s.flow.ResumeTimerAveraging()
			}
		case brew.StopTimer:
			if s.timer.Stop() {
				s.flow.StopTimerAveraging()
			}
		case brew.ResetTimer:
			s.timer.Reset()
			s.flow.ResetTimerAveraging()
		}

		m := s.measurement.Load()
		ev.Time = s.timeNow()
		ev.Weight = m.Weight
		ev.FlowRate = m.FlowRate
		ev.TimerElapsed = s.timer.Elapsed()

		logrus.WithFields(logrus.Fields{
			"command": cmd.String(),
			"weight":  ev.Weight,
		}).Debug("command")
		s.notify(ev)
	}
}

// OnCommand registers a callback invoked for every applied command.
// Callbacks run on the calling task and must not block.
func (s *Scale) OnCommand(callback func(Event)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

// notify invokes callbacks without holding the lock.
func (s *Scale) notify(ev Event) {
	s.cbMu.RLock()
	callbacks := make([]func(Event), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(ev)
		}
	}
}

// Tare performs a manual tare: the timer and automation are reset and the
// call returns once the sampling task has completed the tare.
func (s *Scale) Tare(ctx context.Context) error {
	s.dispatch([]brew.Command{
		brew.ShowMessage{Message: brew.Taring},
		brew.ResetTimer{},
	})
	s.controller.Reset()

	done := make(chan error, 1)
	s.requestTare(done)

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "tare")
		}
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "tare")
	}

	s.dispatch([]brew.Command{brew.ShowMessage{Message: brew.Tared}})
	return nil
}

// OnTouchReleased forwards a touch release to the controller.
func (s *Scale) OnTouchReleased() {
	s.dispatch(s.controller.OnTouchReleased(s.timeNow()))
}

// OnModeSwitchRequested cycles the mode.
func (s *Scale) OnModeSwitchRequested(delayTare bool) {
	s.dispatch(s.controller.OnModeSwitchRequested(delayTare, s.timeNow()))
}

// SetMode switches directly to m.
func (s *Scale) SetMode(m brew.Mode) {
	s.dispatch(s.controller.SetMode(m, s.timeNow()))
}

// StartTimer starts or resumes the brew timer.
func (s *Scale) StartTimer() { s.dispatch([]brew.Command{brew.StartTimer{}}) }

// StopTimer pauses the brew timer.
func (s *Scale) StopTimer() { s.dispatch([]brew.Command{brew.StopTimer{}}) }

// ResetTimer zeroes the brew timer.
func (s *Scale) ResetTimer() { s.dispatch([]brew.Command{brew.ResetTimer{}}) }

// Measurement returns the latest sampling snapshot.
func (s *Scale) Measurement() Measurement { return *s.measurement.Load() }

// Status returns the latest automation snapshot.
func (s *Scale) Status() Status { return *s.status.Load() }

// Weight returns the latest filtered weight.
func (s *Scale) Weight() float32 { return s.measurement.Load().Weight }

// FlowRate returns the latest flow rate.
func (s *Scale) FlowRate() float32 { return s.measurement.Load().FlowRate }

// FilterState returns the latest filter state.
func (s *Scale) FilterState() filter.State { return s.measurement.Load().State }

// TimerAverageFlowRate returns the brew's average flow rate, if any.
func (s *Scale) TimerAverageFlowRate() (float32, bool) { return s.flow.TimerAverage() }

// TimerRunning reports whether the brew timer is running.
func (s *Scale) TimerRunning() bool { return s.timer.Running() }

// TimerElapsed returns the brew timer value.
func (s *Scale) TimerElapsed() time.Duration { return s.timer.Elapsed() }

// Profile returns the filter profile.
func (s *Scale) Profile() filter.Profile { return s.engine.Profile() }

// Debug returns diagnostics for every component.
func (s *Scale) Debug() Debug {
	return Debug{
		Filter:     s.engine.Debug(),
		Flow:       s.flow.Debug(),
		Automation: s.controller.Status(s.timeNow()),
	}
}

// SetCalibrationFactor sets the counts per gram and persists the profile.
func (s *Scale) SetCalibrationFactor(f float32) error { return s.engine.SetCalibrationFactor(f) }

// Calibrate derives the calibration factor from knownWeight grams on the
// tared pan and returns it.
func (s *Scale) Calibrate(knownWeight float32) (float32, error) {
	return s.engine.Calibrate(knownWeight)
}

// SetBrewingThreshold sets the per-sample change in grams above which the
// filter treats the reading as brewing.
func (s *Scale) SetBrewingThreshold(v float32) error { return s.engine.SetBrewingThreshold(v) }

// SetStabilityTimeout sets how long a brew must be quiet before the filter
// returns to stable.
func (s *Scale) SetStabilityTimeout(d time.Duration) error { return s.engine.SetStabilityTimeout(d) }

// SetMedianSamples sets the median window used while brewing.
func (s *Scale) SetMedianSamples(n int) error { return s.engine.SetMedianSamples(n) }

// SetAverageSamples sets the averaging window of the stable path.
func (s *Scale) SetAverageSamples(n int) error { return s.engine.SetAverageSamples(n) }

// SetFilterSettings validates every setting before applying any of them.
func (s *Scale) SetFilterSettings(fs filter.Settings) error { return s.engine.SetFilterSettings(fs) }
