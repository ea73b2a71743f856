package history

import (
	"testing"
	"time"

	"github.com/itohio/brewscale/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(capacity int) *config.Config {
	cfg := config.Default()
	cfg.History.Capacity = capacity
	cfg.History.Period = time.Millisecond
	cfg.History.MaxPoints = 100
	return cfg
}

func at(i int) time.Time {
	return time.Unix(1700000000, 0).Add(time.Duration(i) * 100 * time.Millisecond)
}

func TestHistory_AddWraps(t *testing.T) {
	h := New(testConfig(3))
	for i := 0; i < 5; i++ {
		h.Add(Point{Time: at(i), Weight: float32(i)})
	}

	assert.Equal(t, 3, h.Len())
	pts := h.Points(nil, time.Time{}, 0)
	require.Len(t, pts, 3)
	assert.Equal(t, []float32{2, 3, 4}, []float32{pts[0].Weight, pts[1].Weight, pts[2].Weight})
}

func TestHistory_Since(t *testing.T) {
	h := New(testConfig(10))
	for i := 0; i < 10; i++ {
		h.Add(Point{Time: at(i), Weight: float32(i)})
	}

	pts := h.Points(nil, at(7), 0)
	require.Len(t, pts, 3)
	assert.Equal(t, float32(7), pts[0].Weight)
}

func TestHistory_Reset(t *testing.T) {
	h := New(testConfig(4))
	h.Add(Point{Weight: 1})
	h.Reset()

	assert.Zero(t, h.Len())
	assert.Empty(t, h.Points(nil, time.Time{}, 0))
}

func TestHistory_DefaultCapacity(t *testing.T) {
	h := New(testConfig(0))
	assert.Len(t, h.buf, config.Default().History.Capacity)
}

func TestDownsample(t *testing.T) {
	points := make([]Point, 1000)
	for i := range points {
		points[i] = Point{Weight: float32(i)}
	}

	tests := []struct {
		name      string
		maxPoints int
		wantLen   int
	}{
		{"fewer than max", 2000, 1000},
		{"unlimited", 0, 1000},
		{"decimated", 100, 100},
		{"single", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Downsample(nil, points, tt.maxPoints)
			require.Len(t, got, tt.wantLen)
			assert.Equal(t, float32(999), got[len(got)-1].Weight, "newest point kept")
		})
	}
}

func TestDownsample_ReusesDst(t *testing.T) {
	points := make([]Point, 50)
	dst := make([]Point, 0, 64)

	got := Downsample(dst, points, 10)
	assert.Len(t, got, 10)
	assert.Equal(t, cap(dst), cap(got))

	got = Downsample(dst, points[:20], 30)
	assert.Len(t, got, 20)
	assert.Equal(t, cap(dst), cap(got))
}

func TestDownsample_Empty(t *testing.T) {
	assert.Empty(t, Downsample(nil, nil, 10))
}
