// Package history keeps a bounded trace of weight and flow for charting.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/itohio/brewscale/pkg/config"
	"github.com/sirupsen/logrus"
)

// Point is one recorded reading.
type Point struct {
	Time     time.Time `json:"t"`
	Weight   float32   `json:"w"`
	FlowRate float32   `json:"f"`
}

// History is a fixed-capacity ring of points. It is safe for concurrent use.
type History struct {
	cfg config.HistoryConfig

	mu    sync.RWMutex
	buf   []Point
	start int
	n     int
}

// New creates an empty history.
func New(cfg *config.Config) *History {
	capacity := cfg.History.Capacity
	if capacity <= 0 {
		capacity = config.Default().History.Capacity
	}
	return &History{
		cfg: cfg.History,
		buf: make([]Point, capacity),
	}
}

// Add appends p, evicting the oldest point when full.
func (h *History) Add(p Point) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = p
		h.n++
		return
	}
	h.buf[h.start] = p
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of points held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

// Reset drops every point.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.start = 0
	h.n = 0
}

// Points copies the points recorded at or after since into dst, oldest
// first, decimated to at most maxPoints. A zero since returns everything.
// maxPoints <= 0 uses the configured default.
func (h *History) Points(dst []Point, since time.Time, maxPoints int) []Point {
	if maxPoints <= 0 {
		maxPoints = h.cfg.MaxPoints
	}

	h.mu.RLock()
	all := make([]Point, 0, h.n)
	for i := 0; i < h.n; i++ {
		p := h.buf[(h.start+i)%len(h.buf)]
		if !since.IsZero() && p.Time.Before(since) {
			continue
		}
		all = append(all, p)
	}
	h.mu.RUnlock()

	return Downsample(dst, all, maxPoints)
}

// Record adds a point from read every period until ctx is done.
func (h *History) Record(ctx context.Context, read func() Point) {
	period := h.cfg.Period
	if period <= 0 {
		period = config.Default().History.Period
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	logrus.WithField("period", period).Debug("recording history")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Add(read())
		}
	}
}
