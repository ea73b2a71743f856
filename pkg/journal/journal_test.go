package journal

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(cmd string, w float32) Entry {
	return Entry{
		Time:     time.Date(2024, 3, 1, 8, 30, 0, 123456789, time.UTC),
		Session:  uuid.MustParse("6f1c2a9e-95a4-4c1b-8f43-2d1f0b6c7e11"),
		Command:  cmd,
		Mode:     "auto",
		Weight:   w,
		FlowRate: 1.5,
		Elapsed:  12 * time.Second,
	}
}

func TestJournal_OpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brew.cbor")

	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestJournal_OpenInvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "brew.cbor"))
	assert.Error(t, err)
}

func TestJournal_RecordAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brew.cbor")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(testEntry("StartTimer", 0.4)))
	require.NoError(t, j.Record(testEntry("StopTimer", 36.2)))
	require.NoError(t, j.Close())

	entries, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "StartTimer", entries[0].Command)
	assert.Equal(t, float32(36.2), entries[1].Weight)
	assert.Equal(t, 12*time.Second, entries[1].Elapsed)
	assert.True(t, testEntry("", 0).Time.Equal(entries[0].Time))
	assert.Equal(t, testEntry("", 0).Session, entries[0].Session)
}

func TestJournal_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brew.cbor")

	for i := 0; i < 2; i++ {
		j, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, j.Record(testEntry("StartTimer", float32(i))))
		require.NoError(t, j.Close())
	}

	entries, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestJournal_CloseIdempotent(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "brew.cbor"))
	require.NoError(t, err)

	assert.NoError(t, j.Close())
	assert.NoError(t, j.Close())
	assert.ErrorIs(t, j.Record(testEntry("StartTimer", 0)), ErrClosed)
}

func TestReader_Stream(t *testing.T) {
	var buf bytes.Buffer
	j := NewWriter(&buf)
	require.NoError(t, j.Record(testEntry("ResetTimer", 0)))
	require.NoError(t, j.Close())

	r := NewReader(&buf)
	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "ResetTimer", e.Command)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_Garbage(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xff, 0x00, 0x13}))
	_, err := r.Next()
	assert.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestMarshalUnmarshal(t *testing.T) {
	data, err := Marshal(testEntry("StartTimer", 1))
	require.NoError(t, err)

	e, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "StartTimer", e.Command)
	assert.Equal(t, "auto", e.Mode)
}

func TestSessions(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	t0 := time.Unix(1700000000, 0)

	entries := []Entry{
		{Time: t0, Command: "ModeChanged(auto)"},
		{Time: t0.Add(time.Second), Session: a, Command: "StartTimer", Mode: "auto", Weight: 0.3},
		{Time: t0.Add(31 * time.Second), Session: a, Command: "StopTimer", Weight: 60, Elapsed: 30 * time.Second},
		{Time: t0.Add(32 * time.Second), Session: a, Command: "ResetTimer"},
		{Time: t0.Add(40 * time.Second), Session: b, Command: "StartTimer", Mode: "time"},
	}

	sessions := Sessions(entries)
	require.Len(t, sessions, 2)

	assert.Equal(t, a, sessions[0].ID)
	assert.Equal(t, "auto", sessions[0].Mode)
	assert.Equal(t, 3, sessions[0].Entries)
	assert.Equal(t, 30*time.Second, sessions[0].Elapsed)
	assert.Equal(t, float32(60), sessions[0].FinalWeight)
	assert.InDelta(t, 2.0, sessions[0].AverageFlow(), 1e-6)
	assert.True(t, sessions[0].End.Equal(t0.Add(32*time.Second)))

	assert.Equal(t, b, sessions[1].ID)
	assert.Zero(t, sessions[1].AverageFlow())
}
