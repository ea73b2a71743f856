// Package brew automates taring and timing around a brew.
package brew

import (
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/brewscale/pkg/config"
	"github.com/sirupsen/logrus"
)

// autoTareStage tracks cup detection in Auto mode.
type autoTareStage interface{ autoTareStage() string }

type (
	autoIdle        struct{}
	awaitingCup     struct{}
	awaitingCupRest struct {
		anchor float32
		since  time.Time
	}
	// autoFired follows an auto-tare. settled is set once the pan reads near
	// zero, loaded once a brew has added weight after that.
	autoFired struct {
		since        time.Time
		settled      bool
		loaded       bool
		timerStarted bool
	}
)

func (autoIdle) autoTareStage() string        { return "idle" }
func (awaitingCup) autoTareStage() string     { return "awaiting-cup" }
func (awaitingCupRest) autoTareStage() string { return "awaiting-stable" }
func (autoFired) autoTareStage() string       { return "fired" }

// modeTareStage tracks the tare that follows a touch mode switch.
type modeTareStage interface{ modeTareStage() string }

type (
	noModeTare      struct{}
	pendingModeTare struct{}
	awaitingRelease struct{ pressWeight float32 }
	awaitingPanRest struct {
		anchor float32
		since  time.Time
	}
)

func (noModeTare) modeTareStage() string      { return "none" }
func (pendingModeTare) modeTareStage() string { return "pending" }
func (awaitingRelease) modeTareStage() string { return "awaiting-release" }
func (awaitingPanRest) modeTareStage() string { return "awaiting-stable" }

// Status is a diagnostic view of the controller.
type Status struct {
	Mode           Mode
	AutoTareStage  string
	ModeTareStage  string
	InGracePeriod  bool
	LastModeSwitch time.Time
}

// Controller turns weight and flow readings into brew commands. All methods
// are safe for concurrent use.
type Controller struct {
	cfg config.AutomationConfig

	mu             sync.Mutex
	mode           Mode
	autoTare       autoTareStage
	modeTare       modeTareStage
	lastModeSwitch time.Time
	lastWeight     float32
	haveWeight     bool
}

// NewController creates a controller in the configured initial mode. No grace
// period applies at startup.
func NewController(cfg *config.Config) *Controller {
	mode, err := ParseMode(cfg.Automation.InitialMode)
	if err != nil {
		logrus.WithError(err).Warn("falling back to auto mode")
		mode = Auto
	}

	c := &Controller{
		cfg:      cfg.Automation,
		mode:     mode,
		modeTare: noModeTare{},
	}
	c.armAutoTare()
	return c
}

// armAutoTare puts auto-tare into its starting stage for the current mode.
// Caller holds mu.
func (c *Controller) armAutoTare() {
	if c.mode == Auto {
		c.autoTare = awaitingCup{}
	} else {
		c.autoTare = autoIdle{}
	}
}

func (c *Controller) inGrace(now time.Time) bool {
	return !c.lastModeSwitch.IsZero() && now.Sub(c.lastModeSwitch) < c.cfg.GracePeriod
}

// Evaluate runs one automation cycle.
func (c *Controller) Evaluate(weight, flowRate float32, now time.Time) []Command {
	if math32.IsNaN(weight) || math32.IsInf(weight, 0) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var cmds []Command
	cmds = c.evaluateModeTare(weight, now, cmds)
	if c.mode == Auto && !c.inGrace(now) {
		cmds = c.evaluateAutoTare(weight, flowRate, now, cmds)
	}

	c.lastWeight = weight
	c.haveWeight = true
	return cmds
}

// Caller holds mu.
func (c *Controller) evaluateAutoTare(weight, flowRate float32, now time.Time, cmds []Command) []Command {
	switch s := c.autoTare.(type) {
	case awaitingCup:
		if c.haveWeight && weight-c.lastWeight > c.cfg.CupThreshold {
			logrus.WithField("weight", weight).Debug("cup placed")
			c.autoTare = awaitingCupRest{anchor: weight, since: now}
		}

	case awaitingCupRest:
		if math32.Abs(weight-s.anchor) > c.cfg.CupStableTolerance {
			c.autoTare = awaitingCupRest{anchor: weight, since: now}
		} else if now.Sub(s.since) > c.cfg.CupStableTime {
			logrus.WithField("weight", weight).Info("auto-tare")
			// Each auto-tare begins a new brew.
			cmds = append(cmds, ResetTimer{}, RequestTare{}, ShowMessage{Message: AutoTared})
			c.autoTare = autoFired{since: now}
		}

	case autoFired:
		threshold := c.cfg.CupRemovalThreshold
		if !s.settled {
			if math32.Abs(weight) < threshold {
				s.settled = true
			} else if now.Sub(s.since) > c.cfg.TareSettleTimeout {
				logrus.WithField("weight", weight).Warn("auto-tare did not settle")
				c.autoTare = awaitingCup{}
				break
			}
			c.autoTare = s
			break
		}

		if weight >= threshold {
			s.loaded = true
		}
		if weight < -threshold || (s.loaded && weight < threshold) {
			logrus.WithField("weight", weight).Info("cup removed")
			cmds = append(cmds, StopTimer{})
			c.autoTare = awaitingCup{}
			break
		}

		if !s.timerStarted && flowRate > c.cfg.FlowStartThreshold {
			logrus.WithField("flow", flowRate).Info("auto-timer start")
			cmds = append(cmds, StartTimer{})
			s.timerStarted = true
		}
		c.autoTare = s
	}
	return cmds
}

// Caller holds mu.
func (c *Controller) evaluateModeTare(weight float32, now time.Time, cmds []Command) []Command {
	switch s := c.modeTare.(type) {
	case awaitingRelease:
		if s.pressWeight-weight >= c.cfg.FingerReleaseDrop {
			c.modeTare = awaitingPanRest{anchor: weight, since: now}
		}

	case awaitingPanRest:
		if math32.Abs(weight-s.anchor) >= c.cfg.ModeStableTolerance {
			c.modeTare = awaitingPanRest{anchor: weight, since: now}
		} else if now.Sub(s.since) >= c.cfg.ModeStableTime {
			logrus.WithField("weight", weight).Info("mode switch tare")
			cmds = append(cmds, RequestTare{}, ShowMessage{Message: Tared})
			c.modeTare = noModeTare{}
		}
	}
	return cmds
}

// OnModeSwitchRequested advances to the next mode. With delayTare the tare
// waits for the finger to leave the pan.
func (c *Controller) OnModeSwitchRequested(delayTare bool, now time.Time) []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switchMode(c.mode.Next(), delayTare, now)
}

// SetMode switches directly to m. Switching to the current mode does nothing.
func (c *Controller) SetMode(m Mode, now time.Time) []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m == c.mode {
		return nil
	}
	return c.switchMode(m, false, now)
}

// Caller holds mu.
func (c *Controller) switchMode(m Mode, delayTare bool, now time.Time) []Command {
	logrus.Infof("mode %s -> %s", c.mode, m)

	c.mode = m
	c.lastModeSwitch = now
	c.armAutoTare()
	if delayTare {
		c.modeTare = pendingModeTare{}
	} else {
		c.modeTare = noModeTare{}
	}

	return []Command{ResetTimer{}, ModeChanged{Mode: m}, ShowMessage{Message: ModeBanner}}
}

// OnTouchReleased moves a pending mode-switch tare to waiting for the
// weight to drop.
func (c *Controller) OnTouchReleased(now time.Time) []Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.modeTare.(pendingModeTare); ok {
		c.modeTare = awaitingRelease{pressWeight: c.lastWeight}
	}
	return nil
}

// Reset returns every sub-state to its starting stage. Used on manual tare.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armAutoTare()
	c.modeTare = noModeTare{}
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// AutoTareArmed reports whether a cup placement would trigger an auto-tare.
func (c *Controller) AutoTareArmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.autoTare.(type) {
	case awaitingCup, awaitingCupRest:
		return true
	}
	return false
}

// Status returns a diagnostic snapshot.
func (c *Controller) Status(now time.Time) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Mode:           c.mode,
		AutoTareStage:  c.autoTare.autoTareStage(),
		ModeTareStage:  c.modeTare.modeTareStage(),
		InGracePeriod:  c.inGrace(now),
		LastModeSwitch: c.lastModeSwitch,
	}
}
