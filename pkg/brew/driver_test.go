package brew

import (
	"time"

	"github.com/itohio/brewscale/pkg/config"
)

const cycle = 25 * time.Millisecond

// driver feeds a controller at the automation task rate.
type driver struct {
	c    *Controller
	now  time.Time
	cmds []Command
}

func newDriver(mode string) *driver {
	cfg := config.Default()
	cfg.Automation.InitialMode = mode
	return &driver{
		c:   NewController(cfg),
		now: time.Unix(1700000000, 0),
	}
}

// hold evaluates weight and flow every cycle for d.
func (d *driver) hold(weight, flow float32, dur time.Duration) {
	for elapsed := time.Duration(0); elapsed < dur; elapsed += cycle {
		d.now = d.now.Add(cycle)
		d.cmds = append(d.cmds, d.c.Evaluate(weight, flow, d.now)...)
	}
}

func (d *driver) switchMode(delayTare bool) {
	d.cmds = append(d.cmds, d.c.OnModeSwitchRequested(delayTare, d.now)...)
}

func (d *driver) release() {
	d.cmds = append(d.cmds, d.c.OnTouchReleased(d.now)...)
}

func (d *driver) take() []Command {
	cmds := d.cmds
	d.cmds = nil
	return cmds
}

func count[T Command](cmds []Command) int {
	n := 0
	for _, c := range cmds {
		if _, ok := c.(T); ok {
			n++
		}
	}
	return n
}
