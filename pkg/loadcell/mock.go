package loadcell

import (
	"context"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/brewscale/pkg/config"
	"github.com/pkg/errors"
)

// Mock simulates a load cell with a cup being placed, filled and lifted.
type Mock struct {
	cfg           *config.MockConfig
	countsPerGram float32

	samples   chan RawSample
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	timeNow   func() time.Time
	startTime time.Time
}

// NewMock creates a new simulated device. countsPerGram should match the
// calibration factor the filter expects, otherwise the simulated weights
// come out scaled.
func NewMock(cfg *config.MockConfig, countsPerGram float32) *Mock {
	if cfg == nil {
		cfg = &config.Default().Mock
	}
	if countsPerGram == 0 {
		countsPerGram = config.Default().Filter.CalibrationFactor
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Mock{
		cfg:           cfg,
		countsPerGram: countsPerGram,
		samples:       make(chan RawSample, DefaultBufferSize),
		ctx:           ctx,
		cancel:        cancel,
		timeNow:       time.Now,
	}
}

// Connect starts generating samples.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return errors.New("already connected")
	}

	m.connected = true
	m.startTime = m.timeNow()

	go m.generateSamples()

	return nil
}

// Close stops the simulated device.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.cancel()
	m.connected = false
	close(m.samples)

	return nil
}

// Samples returns the channel for reading samples.
func (m *Mock) Samples() <-chan RawSample {
	return m.samples
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *Mock) generateSamples() {
	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			sample := m.generateSample()

			m.mu.RLock()
			if !m.connected {
				m.mu.RUnlock()
				return
			}
			select {
			case m.samples <- sample:
			default:
				// Channel full, skip
			}
			m.mu.RUnlock()
		}
	}
}

// generateSample produces the reading for the current instant.
func (m *Mock) generateSample() RawSample {
	m.mu.RLock()
	start := m.startTime
	m.mu.RUnlock()

	now := m.timeNow()
	elapsed := now.Sub(start)

	grams := m.weightAt(elapsed)

	// Deterministic noise, bounded by NoiseLevel
	t := float32(elapsed.Seconds())
	noise := (math32.Sin(t*37.0) + math32.Cos(t*53.0)) * m.cfg.NoiseLevel * 0.5
	grams += noise

	counts := float32(m.cfg.Offset) + grams*m.countsPerGram
	counts = math32.Min(math32.Max(counts, -(1<<23)), 1<<23-1)

	return RawSample{
		Timestamp: now,
		Counts:    int32(counts),
	}
}

// weightAt returns the noise-free simulated weight at the given time since connect.
func (m *Mock) weightAt(elapsed time.Duration) float32 {
	cfg := m.cfg

	if cfg.RemoveAt > 0 && elapsed >= cfg.RemoveAt {
		return 0
	}
	if elapsed < cfg.CupAt {
		return 0
	}

	w := cfg.CupWeight
	if elapsed > cfg.PourAt {
		pouring := elapsed - cfg.PourAt
		if pouring > cfg.PourDuration {
			pouring = cfg.PourDuration
		}
		w += cfg.PourRate * float32(pouring.Seconds())
	}
	return w
}
