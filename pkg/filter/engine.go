// Package filter turns noisy load-cell readings into a stable weight.
package filter

import (
	"context"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/brewscale/pkg/config"
	"github.com/itohio/brewscale/pkg/settings"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// EscapeDelta is the jump in grams above which the filter is bypassed.
const EscapeDelta = 5.0

// Source provides raw readings in grams. ok is false when no reading is
// available this cycle.
type Source interface {
	Sample() (grams float32, ok bool)
}

// Calibratable is implemented by sources that convert counts to grams
// themselves and must follow calibration changes.
type Calibratable interface {
	SetCalibrationFactor(countsPerGram float32)
}

// RawReporter is implemented by sources that keep the undecoded ADC reading.
type RawReporter interface {
	RawCounts() int32
}

// FlowController is the part of the flow estimator the filter coordinates
// with during a tare.
type FlowController interface {
	PauseCalculation()
	ResumeCalculation()
	ClearBuffer()
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for state timeouts and probing deadlines.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.timeNow = now }
}

// WithWait sets how the engine waits between probes.
func WithWait(wait WaitFunc) Option {
	return func(e *Engine) { e.wait = wait }
}

// WithFlow wires the flow estimator that is paused around tares.
func WithFlow(flow FlowController) Option {
	return func(e *Engine) { e.flow = flow }
}

// Debug is a diagnostic view of the engine internals.
type Debug struct {
	State            State
	Weight           float32
	LastRaw          float32
	RawCounts        int32
	LastStableWeight float32
	LastActivity     time.Time
	Offset           float32
	InvalidSamples   uint64
	Ready            bool
	FlowPaused       bool
}

// Engine filters raw readings. Read and Tare are meant to be called from a
// single sampling goroutine; every other method is safe for concurrent use.
type Engine struct {
	cfg    config.FilterConfig
	source Source
	store  settings.Store
	flow   FlowController

	timeNow func() time.Time
	wait    WaitFunc

	mu               sync.RWMutex
	profile          Profile
	state            State
	ring             Ring
	seeded           bool
	lastFiltered     float32
	lastRaw          float32
	lastStableWeight float32
	lastActivity     time.Time
	offset           float32 // Gross grams that read as zero
	ready            bool
	tared            bool
	invalidSamples   uint64

	flowPaused  bool
	settleUntil time.Time
}

// New creates an engine reading from source. The profile is loaded from store
// with configuration values as defaults. A nil store keeps settings in memory.
func New(cfg *config.Config, source Source, store settings.Store, opts ...Option) *Engine {
	if store == nil {
		store = settings.NewMemoryStore()
	}

	e := &Engine{
		cfg:     cfg.Filter,
		source:  source,
		store:   store,
		timeNow: time.Now,
		wait:    sleep,
		state:   Stable,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.profile = loadProfile(store, defaultProfile(&e.cfg))
	if c, ok := source.(Calibratable); ok {
		c.SetCalibrationFactor(e.profile.CalibrationFactor)
	}

	return e
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Initialize probes the source for a valid non-zero reading for up to the
// configured probe timeout and then tares. On failure the engine stays in
// degraded mode and Read returns 0.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	e.ready = false
	e.mu.Unlock()

	deadline := e.timeNow().Add(e.cfg.ProbeTimeout)
	for {
		raw, err := e.next()
		if err == nil && raw != 0 {
			break
		}
		if !e.timeNow().Before(deadline) {
			logrus.Warnf("load cell not responding after %v", e.cfg.ProbeTimeout)
			return errors.Wrapf(ErrNotResponding, "no reading within %v", e.cfg.ProbeTimeout)
		}
		if err := e.wait(ctx, e.cfg.ProbeInterval); err != nil {
			return errors.Wrap(err, "initialize")
		}
	}

	e.mu.Lock()
	e.ready = true
	e.mu.Unlock()

	if err := e.Tare(ctx, e.cfg.TareSamples); err != nil {
		e.mu.Lock()
		e.ready = false
		e.mu.Unlock()
		return err
	}

	logrus.Info("load cell initialized")
	return nil
}

// Tare averages samples raw readings into a new zero offset. Readings are
// polled at the tare poll interval so the tare takes about as long as the
// source needs to produce them, and never longer than the tare timeout. Flow
// is paused before the filter is cleared and resumed by Read once the settle
// delay has passed. When no valid reading arrives the previous offset is kept.
func (e *Engine) Tare(ctx context.Context, samples int) error {
	if samples <= 0 {
		samples = e.cfg.TareSamples
	}

	e.pauseFlow()
	defer e.scheduleResume()

	var (
		sum   float32
		count int
	)
	deadline := e.timeNow().Add(e.cfg.TareTimeout)
	for count < samples {
		raw, err := e.next()
		if err == nil {
			sum += raw
			count++
			continue
		}
		if !e.timeNow().Before(deadline) {
			break
		}
		if err := e.wait(ctx, e.cfg.TarePollInterval); err != nil {
			return errors.Wrap(err, "tare")
		}
	}

	if count == 0 {
		logrus.Warn("tare failed: no valid readings")
		return errors.Wrap(ErrNotResponding, "tare")
	}
	if count < samples {
		logrus.Debugf("tare used %d of %d samples", count, samples)
	}

	e.mu.Lock()
	e.offset = sum / float32(count)
	e.ring.Reset()
	e.seeded = false
	e.state = Stable
	e.lastFiltered = 0
	e.lastStableWeight = 0
	e.lastActivity = e.timeNow()
	e.tared = true
	e.mu.Unlock()

	if e.flow != nil {
		e.flow.ClearBuffer()
	}

	logrus.WithField("samples", count).Debug("tared")
	return nil
}

func (e *Engine) pauseFlow() {
	e.mu.Lock()
	e.flowPaused = true
	e.settleUntil = time.Time{}
	e.mu.Unlock()

	if e.flow != nil {
		e.flow.PauseCalculation()
	}
}

func (e *Engine) scheduleResume() {
	e.mu.Lock()
	e.settleUntil = e.timeNow().Add(e.cfg.SettleDelay)
	e.mu.Unlock()
}

// resumeFlowIfSettled resumes flow on the first call at or after the settle
// deadline. Caller holds mu.
func (e *Engine) resumeFlowIfSettled(now time.Time) {
	if !e.flowPaused || e.settleUntil.IsZero() || now.Before(e.settleUntil) {
		return
	}
	e.flowPaused = false
	e.settleUntil = time.Time{}
	if e.flow != nil {
		e.flow.ResumeCalculation()
	}
}

var errNoSample = errors.New("no sample")

// next pulls one raw reading from the source.
func (e *Engine) next() (float32, error) {
	raw, ok := e.source.Sample()
	if !ok {
		return 0, errNoSample
	}
	if !e.plausible(raw) {
		return 0, errors.Wrapf(ErrInvalidSample, "raw reading %v", raw)
	}
	return raw, nil
}

func (e *Engine) plausible(raw float32) bool {
	if math32.IsNaN(raw) || math32.IsInf(raw, 0) {
		return false
	}
	return e.cfg.MaxPlausibleWeight <= 0 || math32.Abs(raw) <= e.cfg.MaxPlausibleWeight
}

// Read pulls one sample and returns the filtered weight. Invalid or missing
// samples return the previous filtered weight.
func (e *Engine) Read() float32 {
	raw, err := e.next()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.timeNow()
	e.resumeFlowIfSettled(now)

	if !e.ready {
		return 0
	}

	if err != nil {
		if errors.Is(err, ErrInvalidSample) {
			e.invalidSamples++
			logrus.WithError(err).Debug("dropping sample")
		}
		return e.lastFiltered
	}

	return e.filter(raw-e.offset, now)
}

// filter runs one accepted net sample through the state machine and the
// smoothing stage. Caller holds mu.
func (e *Engine) filter(net float32, now time.Time) float32 {
	e.lastRaw = net

	if !e.seeded {
		e.ring.Fill(net)
		e.seeded = true
		e.lastFiltered = net
		e.lastActivity = now
		return net
	}

	delta := math32.Abs(net - e.lastFiltered)
	enteredStable := e.advance(delta, now)

	if delta > EscapeDelta {
		e.ring.Fill(net)
		e.lastFiltered = net
		if enteredStable {
			e.lastStableWeight = net
		}
		return net
	}

	e.ring.Push(net)

	var out float32
	if e.state == Brewing {
		out = e.ring.Median(e.profile.MedianSamples)
	} else {
		out = e.ring.Mean(e.profile.AverageSamples)
	}

	e.lastFiltered = out
	if enteredStable {
		e.lastStableWeight = out
	}
	return out
}

// advance applies the state transition table and reports whether Stable was
// entered. Caller holds mu.
func (e *Engine) advance(delta float32, now time.Time) bool {
	active := delta > e.profile.BrewingThreshold
	idle := now.Sub(e.lastActivity)

	switch e.state {
	case Stable:
		if active {
			e.state = Brewing
			e.lastActivity = now
		}
	case Brewing:
		if active {
			e.lastActivity = now
		} else if idle >= e.profile.StabilityTimeout {
			e.state = Transitioning
		}
	case Transitioning:
		if active {
			e.state = Brewing
			e.lastActivity = now
		} else if idle >= 2*e.profile.StabilityTimeout {
			e.state = Stable
			return true
		}
	}
	return false
}

// SetCalibrationFactor applies and persists a new counts-per-gram factor. The
// zero offset is rescaled so that an empty pan keeps reading zero.
func (e *Engine) SetCalibrationFactor(f float32) error {
	if err := validateCalibrationFactor(f); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.profile.CalibrationFactor
	if f == old {
		return nil
	}
	if err := e.store.SetF32(settings.KeyCalibrationFactor, f); err != nil {
		return errors.Wrap(err, "persist calibration factor")
	}

	e.profile.CalibrationFactor = f
	e.offset *= old / f
	e.seeded = false
	if c, ok := e.source.(Calibratable); ok {
		c.SetCalibrationFactor(f)
	}

	logrus.Infof("calibration factor changed from %v to %v", old, f)
	return nil
}

// Calibrate derives a calibration factor from a known weight currently on
// the pan and applies it. It returns the new factor.
func (e *Engine) Calibrate(knownWeight float32) (float32, error) {
	if math32.IsNaN(knownWeight) || knownWeight <= 0 {
		return 0, errors.Wrapf(ErrInvalidParameter, "known weight %v", knownWeight)
	}

	e.mu.RLock()
	measured := e.lastFiltered
	factor := e.profile.CalibrationFactor
	e.mu.RUnlock()

	if math32.Abs(measured) < 0.01 {
		return 0, errors.Wrap(ErrInvalidParameter, "nothing on the pan")
	}

	next := factor * measured / knownWeight
	if err := e.SetCalibrationFactor(next); err != nil {
		return 0, err
	}
	return next, nil
}

// SetBrewingThreshold sets the per-sample delta that counts as activity.
func (e *Engine) SetBrewingThreshold(v float32) error {
	if err := validateBrewingThreshold(v); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if v == e.profile.BrewingThreshold {
		return nil
	}
	if err := e.store.SetF32(settings.KeyBrewingThreshold, v); err != nil {
		return errors.Wrap(err, "persist brewing threshold")
	}
	e.profile.BrewingThreshold = v
	return nil
}

// SetStabilityTimeout sets how long the pan must be idle before leaving Brewing.
func (e *Engine) SetStabilityTimeout(d time.Duration) error {
	if err := validateStabilityTimeout(d); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if d == e.profile.StabilityTimeout {
		return nil
	}
	if err := e.store.SetU32(settings.KeyStabilityTimeout, uint32(d/time.Millisecond)); err != nil {
		return errors.Wrap(err, "persist stability timeout")
	}
	e.profile.StabilityTimeout = d
	return nil
}

// SetMedianSamples sets the median window used while brewing.
func (e *Engine) SetMedianSamples(n int) error {
	if err := validateSampleCount("median samples", n); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if n == e.profile.MedianSamples {
		return nil
	}
	if err := e.store.SetU32(settings.KeyMedianSamples, uint32(n)); err != nil {
		return errors.Wrap(err, "persist median samples")
	}
	e.profile.MedianSamples = n
	return nil
}

// SetAverageSamples sets the averaging window used while stable.
func (e *Engine) SetAverageSamples(n int) error {
	if err := validateSampleCount("average samples", n); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if n == e.profile.AverageSamples {
		return nil
	}
	if err := e.store.SetU32(settings.KeyAverageSamples, uint32(n)); err != nil {
		return errors.Wrap(err, "persist average samples")
	}
	e.profile.AverageSamples = n
	return nil
}

// SetFilterSettings applies every set field of fs. Nothing is applied unless
// all of them are valid.
func (e *Engine) SetFilterSettings(fs Settings) error {
	if err := fs.Validate(); err != nil {
		return err
	}
	if fs.BrewingThreshold != nil {
		if err := e.SetBrewingThreshold(*fs.BrewingThreshold); err != nil {
			return err
		}
	}
	if fs.StabilityTimeout != nil {
		if err := e.SetStabilityTimeout(*fs.StabilityTimeout); err != nil {
			return err
		}
	}
	if fs.MedianSamples != nil {
		if err := e.SetMedianSamples(*fs.MedianSamples); err != nil {
			return err
		}
	}
	if fs.AverageSamples != nil {
		if err := e.SetAverageSamples(*fs.AverageSamples); err != nil {
			return err
		}
	}
	return nil
}

// Weight returns the last filtered weight.
func (e *Engine) Weight() float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastFiltered
}

// State returns the current filter state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Profile returns a copy of the current profile.
func (e *Engine) Profile() Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profile
}

// Ready reports whether Initialize succeeded.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Tared reports whether at least one tare completed.
func (e *Engine) Tared() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tared
}

// Connected reports whether the engine is initialized and, when the source
// can tell, whether the source is still connected.
func (e *Engine) Connected() bool {
	if !e.Ready() {
		return false
	}
	if c, ok := e.source.(interface{ Connected() bool }); ok {
		return c.Connected()
	}
	return true
}

// Debug returns a snapshot of engine internals.
func (e *Engine) Debug() Debug {
	var counts int32
	if r, ok := e.source.(RawReporter); ok {
		counts = r.RawCounts()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return Debug{
		State:            e.state,
		Weight:           e.lastFiltered,
		LastRaw:          e.lastRaw,
		RawCounts:        counts,
		LastStableWeight: e.lastStableWeight,
		LastActivity:     e.lastActivity,
		Offset:           e.offset,
		InvalidSamples:   e.invalidSamples,
		Ready:            e.ready,
		FlowPaused:       e.flowPaused,
	}
}
