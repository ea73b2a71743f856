package loadcell

import (
	"sync"

	"github.com/chewxy/math32"
)

// Source adapts a Device to the pull-style weight source used by the filter.
// Each call returns the newest buffered sample converted to grams.
type Source struct {
	dev Device

	mu            sync.RWMutex
	countsPerGram float32
	last          RawSample
}

// NewSource creates a Source reading from dev.
func NewSource(dev Device, countsPerGram float32) *Source {
	return &Source{
		dev:           dev,
		countsPerGram: countsPerGram,
	}
}

// Sample drains pending samples without blocking and returns the newest one
// in grams. ok is false when nothing arrived since the previous call.
func (s *Source) Sample() (float32, bool) {
	var (
		latest RawSample
		got    bool
	)

	ch := s.dev.Samples()
drain:
	for {
		select {
		case rs, open := <-ch:
			if !open {
				break drain
			}
			latest = rs
			got = true
		default:
			break drain
		}
	}

	if !got {
		return 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = latest

	if s.countsPerGram == 0 || math32.IsNaN(s.countsPerGram) {
		return 0, false
	}
	return float32(latest.Counts) / s.countsPerGram, true
}

// SetCalibrationFactor changes the counts-per-gram conversion.
func (s *Source) SetCalibrationFactor(countsPerGram float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countsPerGram = countsPerGram
}

// CalibrationFactor returns the current counts-per-gram conversion.
func (s *Source) CalibrationFactor() float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countsPerGram
}

// RawCounts returns the ADC counts of the most recent sample seen by Sample.
func (s *Source) RawCounts() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last.Counts
}

// Connected reports whether the underlying device is connected.
func (s *Source) Connected() bool {
	return s.dev.IsConnected()
}
