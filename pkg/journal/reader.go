package journal

import (
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/itohio/brewscale/pkg/brew"
	"github.com/pkg/errors"
)

var (
	startTimer = brew.StartTimer{}.String()
	stopTimer  = brew.StopTimer{}.String()
)

// Reader iterates over journal entries.
type Reader struct {
	decoder *cbor.Decoder
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{decoder: newDecoder(r)}
}

// Next returns the next entry, or io.EOF at the end of the stream.
func (r *Reader) Next() (Entry, error) {
	var e Entry
	if err := r.decoder.Decode(&e); err != nil {
		if err == io.EOF {
			return Entry{}, io.EOF
		}
		return Entry{}, errors.Wrap(err, "decode entry")
	}
	return e, nil
}

// ReadFile reads every entry of the journal at path.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	defer f.Close()

	var entries []Entry
	r := NewReader(f)
	for {
		e, err := r.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
}

// Session summarizes one timed brew.
type Session struct {
	ID          uuid.UUID
	Mode        string
	Start       time.Time
	End         time.Time
	Elapsed     time.Duration
	FinalWeight float32
	Entries     int
}

// AverageFlow returns the final weight over the timed duration.
func (s Session) AverageFlow() float32 {
	if s.Elapsed <= 0 {
		return 0
	}
	return s.FinalWeight / float32(s.Elapsed.Seconds())
}

// Sessions groups entries by session in order of first appearance. Entries
// that belong to no session are skipped.
func Sessions(entries []Entry) []Session {
	var out []Session
	index := map[uuid.UUID]int{}

	for _, e := range entries {
		if e.Session == uuid.Nil {
			continue
		}
		i, ok := index[e.Session]
		if !ok {
			i = len(out)
			index[e.Session] = i
			out = append(out, Session{ID: e.Session, Mode: e.Mode, Start: e.Time})
		}
		s := &out[i]
		s.End = e.Time
		s.Entries++
		if e.Elapsed > s.Elapsed {
			s.Elapsed = e.Elapsed
		}
		if e.Command == stopTimer || e.Command == startTimer {
			s.FinalWeight = e.Weight
		}
	}
	return out
}
