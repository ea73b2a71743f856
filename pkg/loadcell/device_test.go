package loadcell

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    RawSample
		wantErr bool
	}{
		{
			name: "valid line - positive counts",
			line: "1234567890123,84213",
			want: RawSample{
				Timestamp: time.UnixMicro(1234567890123),
				Counts:    84213,
			},
		},
		{
			name: "valid line - negative counts",
			line: "1234567890123,-84213",
			want: RawSample{
				Timestamp: time.UnixMicro(1234567890123),
				Counts:    -84213,
			},
		},
		{
			name: "valid line - 24-bit extremes",
			line: "0,8388607",
			want: RawSample{
				Timestamp: time.UnixMicro(0),
				Counts:    8388607,
			},
		},
		{
			name:    "invalid - wrong number of fields",
			line:    "1234567890123",
			wantErr: true,
		},
		{
			name:    "invalid - too many fields",
			line:    "1234567890123,1,2",
			wantErr: true,
		},
		{
			name:    "invalid - non-numeric timestamp",
			line:    "abc,100",
			wantErr: true,
		},
		{
			name:    "invalid - non-numeric counts",
			line:    "1234567890123,abc",
			wantErr: true,
		},
		{
			name:    "invalid - counts out of range",
			line:    "1234567890123,8388608",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Timestamp.Equal(got.Timestamp))
			assert.Equal(t, tt.want.Counts, got.Counts)
		})
	}
}

func TestSerial_readSamples(t *testing.T) {
	d := New("test", 0, 10)
	d.connected = true

	input := strings.Join([]string{
		"# hx711 bridge ready",
		"1000,100",
		"",
		"garbage",
		"2000,-200",
		"3000,300",
	}, "\n")

	d.readSamples(strings.NewReader(input))

	require.Len(t, d.samples, 3)
	assert.Equal(t, int32(100), (<-d.samples).Counts)
	assert.Equal(t, int32(-200), (<-d.samples).Counts)
	assert.Equal(t, int32(300), (<-d.samples).Counts)
}

func TestSerial_readSamplesDropsWhenFull(t *testing.T) {
	d := New("test", 0, 1)
	d.connected = true

	d.readSamples(strings.NewReader("1000,1\n2000,2\n3000,3\n"))

	require.Len(t, d.samples, 1)
	assert.Equal(t, int32(1), (<-d.samples).Counts)
}

func TestSerial_Defaults(t *testing.T) {
	d := New("/dev/null", 0, 0)
	assert.Equal(t, DefaultBaudRate, d.baudRate)
	assert.Equal(t, DefaultBufferSize, cap(d.samples))
	assert.False(t, d.IsConnected())
	assert.NoError(t, d.Close(), "closing a never-connected device is a no-op")
}
