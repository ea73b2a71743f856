package filter

import "slices"

// MaxSamples is the capacity of the sample ring and the upper bound for
// median and average window sizes.
const MaxSamples = 10

// Ring holds the most recent raw readings.
type Ring struct {
	buf   [MaxSamples]float32
	head  int // next write position
	count int
}

// Push appends v, overwriting the oldest reading when full.
func (r *Ring) Push(v float32) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % MaxSamples
	if r.count < MaxSamples {
		r.count++
	}
}

// Fill replaces the whole ring with v.
func (r *Ring) Fill(v float32) {
	for i := range r.buf {
		r.buf[i] = v
	}
	r.head = 0
	r.count = MaxSamples
}

// Reset empties the ring.
func (r *Ring) Reset() {
	r.head = 0
	r.count = 0
}

// Len returns the number of readings held.
func (r *Ring) Len() int {
	return r.count
}

// Recent appends up to n of the newest readings to dst, oldest first.
func (r *Ring) Recent(dst []float32, n int) []float32 {
	if n > r.count {
		n = r.count
	}
	for i := n; i > 0; i-- {
		idx := (r.head - i + MaxSamples) % MaxSamples
		dst = append(dst, r.buf[idx])
	}
	return dst
}

// Mean returns the arithmetic mean of the newest n readings.
func (r *Ring) Mean(n int) float32 {
	var tmp [MaxSamples]float32
	vals := r.Recent(tmp[:0], n)
	if len(vals) == 0 {
		return 0
	}
	var sum float32
	for _, v := range vals {
		sum += v
	}
	return sum / float32(len(vals))
}

// Median returns the median of the newest n readings. With an even count the
// two middle values are averaged.
func (r *Ring) Median(n int) float32 {
	var tmp [MaxSamples]float32
	vals := r.Recent(tmp[:0], n)
	switch len(vals) {
	case 0:
		return 0
	case 1:
		return vals[0]
	}
	slices.Sort(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 0 {
		return (vals[mid-1] + vals[mid]) / 2
	}
	return vals[mid]
}
