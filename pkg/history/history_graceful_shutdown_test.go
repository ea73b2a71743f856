package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestHistory_RecordStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := New(testConfig(100))
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.Record(ctx, func() Point { return Point{Time: time.Now(), Weight: 1} })
	}()

	assert.Eventually(t, func() bool { return h.Len() >= 3 }, time.Second, time.Millisecond)
	cancel()
	wg.Wait()

	n := h.Len()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, h.Len(), "no points after cancel")
}
