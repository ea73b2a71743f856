package loadcell

import (
	"testing"
	"time"

	"github.com/itohio/brewscale/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fastBrewConfig plays a whole cup, pour and removal within a fraction of a second.
func fastBrewConfig() *config.MockConfig {
	return &config.MockConfig{
		SampleRate:   2 * time.Millisecond,
		Offset:       1000,
		CupWeight:    200,
		CupAt:        20 * time.Millisecond,
		PourAt:       80 * time.Millisecond,
		PourRate:     500,
		PourDuration: 40 * time.Millisecond,
		RemoveAt:     200 * time.Millisecond,
	}
}

// TestMock_BrewThenShutdown follows the simulated brew to the cup being lifted
// and then closes the device; the samples channel must close and the
// generator must exit.
func TestMock_BrewThenShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := NewMock(fastBrewConfig(), 100)
	require.NoError(t, mock.Connect())

	samples := mock.Samples()

	var (
		cup, poured, removed bool
		peak                 float32
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range samples {
			grams := float32(s.Counts-1000) / 100
			switch {
			case !cup && grams >= 199.5:
				cup = true
			case cup && !poured && grams > 200.5:
				poured = true
			case poured && !removed && grams < 0.5:
				removed = true
				mock.Close()
			}
			if grams > peak {
				peak = grams
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		mock.Close()
		t.Fatal("simulated brew did not finish")
	}

	assert.True(t, cup, "cup placed")
	assert.True(t, poured, "water poured")
	assert.True(t, removed, "cup lifted")
	assert.InDelta(t, 220, peak, 0.5, "pour adds rate times duration")

	_, ok := <-samples
	assert.False(t, ok, "channel closed")
	assert.False(t, mock.IsConnected())
}
