package journal

import (
	"sync"

	"github.com/google/uuid"
	"github.com/itohio/brewscale/pkg/brew"
	"github.com/itohio/brewscale/pkg/scale"
	"github.com/sirupsen/logrus"
)

// Sink turns scale events into journal entries. A fresh timer start opens a
// new session and a timer reset closes it.
type Sink struct {
	rec   Recorder
	newID func() uuid.UUID

	mu      sync.Mutex
	mode    brew.Mode
	session uuid.UUID
}

// NewSink creates a sink that records to rec. mode is the scale's mode at
// the time the sink is attached.
func NewSink(rec Recorder, mode brew.Mode) *Sink {
	return &Sink{
		rec:   rec,
		newID: uuid.New,
		mode:  mode,
	}
}

// Attach subscribes the sink to s.
func (k *Sink) Attach(s *scale.Scale) {
	s.OnCommand(k.Handle)
}

// Session returns the current session id, or uuid.Nil outside a brew.
func (k *Sink) Session() uuid.UUID {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.session
}

// Handle records one event. Transient messages are not journaled.
func (k *Sink) Handle(ev scale.Event) {
	if _, ok := ev.Command.(brew.ShowMessage); ok {
		return
	}

	k.mu.Lock()
	switch c := ev.Command.(type) {
	case brew.StartTimer:
		if ev.TimerStart == brew.StartFresh {
			k.session = k.newID()
		}
	case brew.ModeChanged:
		k.mode = c.Mode
	}

	entry := Entry{
		Time:     ev.Time,
		Session:  k.session,
		Command:  ev.Command.String(),
		Mode:     k.mode.String(),
		Weight:   ev.Weight,
		FlowRate: ev.FlowRate,
		Elapsed:  ev.TimerElapsed,
	}

	if _, ok := ev.Command.(brew.ResetTimer); ok {
		k.session = uuid.Nil
	}
	k.mu.Unlock()

	if err := k.rec.Record(entry); err != nil {
		logrus.WithError(err).Warn("journal record failed")
	}
}
