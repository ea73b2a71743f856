package filter

import (
	"context"
	"testing"
	"time"

	"github.com/itohio/brewscale/pkg/config"
	"github.com/itohio/brewscale/pkg/loadcell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_TareTracksSourceRate(t *testing.T) {
	cfg := config.Default()
	dev := loadcell.NewMock(&cfg.Mock, cfg.Filter.CalibrationFactor)
	require.NoError(t, dev.Connect())
	defer dev.Close()

	e := New(cfg, loadcell.NewSource(dev, cfg.Filter.CalibrationFactor), nil)

	start := time.Now()
	require.NoError(t, e.Tare(context.Background(), 0))
	took := time.Since(start)

	// 20 samples at 80 SPS is 250ms
	assert.Less(t, took, 750*time.Millisecond)
	assert.True(t, e.Tared())
	assert.InDelta(t, float32(cfg.Mock.Offset)/cfg.Filter.CalibrationFactor, e.Debug().Offset, 0.1)
	assert.InDelta(t, cfg.Mock.Offset, e.Debug().RawCounts, 1000, "raw counts of the empty pan")
}

func TestEngine_TarePollsAtTareInterval(t *testing.T) {
	var queue []reading
	for i := 0; i < 10; i++ {
		queue = append(queue, reading{ok: false}, reading{v: 20, ok: true})
	}
	src := &fakeSource{queue: queue, value: 20, ok: true}
	clock := newFakeClock()
	e := New(config.Default(), src, nil, WithClock(clock.Now), WithWait(clock.Wait))

	start := clock.Now()
	require.NoError(t, e.Tare(context.Background(), 20))

	assert.Equal(t, 10*config.Default().Filter.TarePollInterval, clock.Now().Sub(start))
	assert.InDelta(t, 20, e.Debug().Offset, 1e-4)
}

func TestEngine_TareBoundedByTimeout(t *testing.T) {
	src := &fakeSource{queue: []reading{{v: 20, ok: true}}}
	clock := newFakeClock()
	e := New(config.Default(), src, nil, WithClock(clock.Now), WithWait(clock.Wait))

	start := clock.Now()
	require.NoError(t, e.Tare(context.Background(), 20), "partial tare is accepted")

	assert.LessOrEqual(t, clock.Now().Sub(start), config.Default().Filter.TareTimeout+config.Default().Filter.TarePollInterval)
	assert.InDelta(t, 20, e.Debug().Offset, 1e-4)
}
