// Package flow derives a liquid flow rate from the filtered weight.
package flow

import (
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/brewscale/pkg/config"
	"github.com/itohio/brewscale/pkg/filter"
)

var _ filter.FlowController = (*Estimator)(nil)

// Estimator computes a smoothed first derivative of weight over time.
type Estimator struct {
	cfg     config.FlowConfig
	timeNow func() time.Time

	mu sync.RWMutex

	rates []float32 // ring of instantaneous rates
	head  int
	count int

	primed     bool
	lastWeight float32
	lastTime   time.Time
	rate       float32
	removing   bool
	paused     bool

	timer accumulator
}

// accumulator averages the flow rate over one brew.
type accumulator struct {
	active bool
	sum    float32
	count  uint32
}

// Debug is a diagnostic view of the estimator.
type Debug struct {
	Rate         float32
	Samples      int
	Removing     bool
	Paused       bool
	TimerActive  bool
	TimerSamples uint32
}

// New creates an estimator.
func New(cfg *config.Config) *Estimator {
	window := cfg.Flow.Window
	if window <= 0 {
		window = config.Default().Flow.Window
	}
	return &Estimator{
		cfg:     cfg.Flow,
		timeNow: time.Now,
		rates:   make([]float32, window),
	}
}

// WithClock replaces the clock used for delta-time computation.
func (e *Estimator) WithClock(now func() time.Time) *Estimator {
	e.timeNow = now
	return e
}

// Update feeds the current filtered weight.
func (e *Estimator) Update(weight float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return
	}

	now := e.timeNow()
	if !e.primed {
		e.primed = true
		e.lastWeight = weight
		e.lastTime = now
		return
	}

	dt := now.Sub(e.lastTime)
	if dt < e.cfg.MinDeltaTime || dt <= 0 {
		return
	}

	dw := weight - e.lastWeight
	e.lastWeight = weight
	e.lastTime = now

	if math32.Abs(dw) < e.cfg.WeightDeadband {
		dw = 0
	}
	e.removing = dw < -e.cfg.NegativeChangeThreshold

	inst := dw / float32(dt.Seconds())
	if e.removing && -dw > e.cfg.RemovalCutoff {
		e.flush()
	}
	e.push(inst)

	var out float32
	if e.removing {
		out = e.mean(e.cfg.FastSamples)
	} else {
		out = e.weighted()
	}
	if math32.Abs(out) < e.cfg.ZeroThreshold {
		out = 0
	}
	e.rate = out

	if e.timer.active && out > e.cfg.TimerMinRate {
		e.timer.sum += out
		e.timer.count++
	}
}

func (e *Estimator) push(v float32) {
	e.rates[e.head] = v
	e.head = (e.head + 1) % len(e.rates)
	if e.count < len(e.rates) {
		e.count++
	}
}

func (e *Estimator) flush() {
	e.head = 0
	e.count = 0
}

// at returns the rate with the given age, 0 being the newest.
func (e *Estimator) at(age int) float32 {
	n := len(e.rates)
	return e.rates[(e.head-1-age+n)%n]
}

// weighted is a linearly weighted average favouring newer samples.
func (e *Estimator) weighted() float32 {
	if e.count == 0 {
		return 0
	}
	n := float32(e.count)
	var sum, wsum float32
	for age := 0; age < e.count; age++ {
		w := 1 + e.cfg.WeightSlope*(n-float32(age))
		sum += e.at(age) * w
		wsum += w
	}
	return sum / wsum
}

// mean is the unweighted average of the newest n samples.
func (e *Estimator) mean(n int) float32 {
	if n > e.count {
		n = e.count
	}
	if n <= 0 {
		return 0
	}
	var sum float32
	for age := 0; age < n; age++ {
		sum += e.at(age)
	}
	return sum / float32(n)
}

// FlowRate returns the last computed rate in g/s.
func (e *Estimator) FlowRate() float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rate
}

// PauseCalculation makes Update a no-op until ResumeCalculation.
func (e *Estimator) PauseCalculation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// ResumeCalculation restarts updates. The next Update only re-anchors the
// reference so no rate spans the paused interval.
func (e *Estimator) ResumeCalculation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	e.primed = false
	e.lastTime = e.timeNow()
}

// ClearBuffer drops all rate history and the current rate. The brew average
// is left to its own lifecycle.
func (e *Estimator) ClearBuffer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flush()
	e.primed = false
	e.lastWeight = 0
	e.lastTime = time.Time{}
	e.rate = 0
	e.removing = false
}

// StartTimerAveraging zeroes and activates the brew average.
func (e *Estimator) StartTimerAveraging() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timer = accumulator{active: true}
}

// ResumeTimerAveraging re-activates the brew average keeping what was
// accumulated so far.
func (e *Estimator) ResumeTimerAveraging() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timer.active = true
}

// StopTimerAveraging stops accumulating; the average stays readable.
func (e *Estimator) StopTimerAveraging() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timer.active = false
}

// ResetTimerAveraging clears the brew average.
func (e *Estimator) ResetTimerAveraging() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timer = accumulator{}
}

// TimerAverage returns the average flow rate over the brew. ok is false when
// no qualifying sample has been accumulated.
func (e *Estimator) TimerAverage() (float32, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.timer.count == 0 {
		return 0, false
	}
	return e.timer.sum / float32(e.timer.count), true
}

// Debug returns a snapshot of estimator internals.
func (e *Estimator) Debug() Debug {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Debug{
		Rate:         e.rate,
		Samples:      e.count,
		Removing:     e.removing,
		Paused:       e.paused,
		TimerActive:  e.timer.active,
		TimerSamples: e.timer.count,
	}
}
