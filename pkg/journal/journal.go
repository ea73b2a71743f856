// Package journal records brew commands to an append-only CBOR file.
package journal

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrClosed is returned when recording to a closed journal.
var ErrClosed = errors.New("journal closed")

// Entry is one journaled command. Integer keys keep the file compact.
type Entry struct {
	Time     time.Time     `cbor:"1,keyasint"`
	Session  uuid.UUID     `cbor:"2,keyasint"`
	Command  string        `cbor:"3,keyasint"`
	Mode     string        `cbor:"4,keyasint,omitempty"`
	Weight   float32       `cbor:"5,keyasint"`
	FlowRate float32       `cbor:"6,keyasint"`
	Elapsed  time.Duration `cbor:"7,keyasint,omitempty"`
}

// Recorder accepts journal entries.
type Recorder interface {
	Record(Entry) error
}

var _ Recorder = (*Journal)(nil)

// Journal writes entries as a stream of CBOR items.
type Journal struct {
	mu      sync.Mutex
	closer  io.Closer
	encoder *cbor.Encoder
	closed  bool
}

// Open opens or creates a journal file for appending.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	return &Journal{
		closer:  f,
		encoder: newEncoder(f),
	}, nil
}

// NewWriter creates a journal writing to w. Close does not close w.
func NewWriter(w io.Writer) *Journal {
	return &Journal{encoder: newEncoder(w)}
}

// Record appends an entry.
func (j *Journal) Record(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	return errors.Wrap(j.encoder.Encode(e), "record")
}

// Close closes the journal. Calling Close more than once is a no-op.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	if j.closer == nil {
		return nil
	}
	return j.closer.Close()
}
