package loadcell

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the baud rate the bridge firmware uses.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the samples channel buffer.
	DefaultBufferSize = 100
)

// RawSample is a single HX711 conversion as reported by the bridge.
type RawSample struct {
	Timestamp time.Time
	Counts    int32 // Signed 24-bit ADC reading
}

// Serial is a connection to the HX711 bridge MCU.
type Serial struct {
	port     string
	baudRate int
	bufSize  int

	conn      serial.Port
	samples   chan RawSample
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
}

// New creates a new Serial device with the specified port, baud rate, and buffer size.
func New(port string, baudRate int, bufSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		samples:  make(chan RawSample, bufSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Ports returns the names of available serial ports.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list serial ports")
	}
	return ports, nil
}

// Connect opens the serial port and starts reading samples.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return errors.New("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return errors.Wrapf(err, "failed to open serial port %s", d.port)
	}

	d.conn = port
	d.connected = true

	go d.readSamples(port)

	return nil
}

// Close closes the connection and stops reading samples.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			logrus.WithError(err).Warn("error closing serial port")
		}
		d.conn = nil
	}

	d.connected = false
	close(d.samples)

	return nil
}

// Samples returns the channel for reading samples.
func (d *Serial) Samples() <-chan RawSample {
	return d.samples
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// readSamples reads lines from the port until it is closed or fails.
func (d *Serial) readSamples(r io.Reader) {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.Errorf("panic in readSamples: %v", rec)
		}
	}()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		sample, err := parseLine(line)
		if err != nil {
			logrus.WithError(err).Debugf("failed to parse line %q", line)
			continue
		}

		d.mu.RLock()
		if !d.connected {
			d.mu.RUnlock()
			return
		}
		select {
		case d.samples <- sample:
		default:
			logrus.Debug("samples channel full, dropping sample")
		}
		d.mu.RUnlock()
	}

	if err := scanner.Err(); err != nil && d.ctx.Err() == nil {
		logrus.WithError(err).Warn("error reading from serial port")
	}

	d.mu.Lock()
	lost := d.connected && d.ctx.Err() == nil
	d.mu.Unlock()
	if lost {
		logrus.Warnf("serial port %s stopped delivering samples", d.port)
	}
}

// parseLine parses a line from the bridge into a RawSample.
// Format: unix_micros,counts
// Example: 1234567890123,-84213
func parseLine(line string) (RawSample, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return RawSample{}, errors.Errorf("invalid line format: expected 2 comma-separated values, got %d", len(parts))
	}

	timestampMicros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return RawSample{}, errors.Wrap(err, "invalid timestamp")
	}

	counts, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return RawSample{}, errors.Wrap(err, "invalid counts")
	}
	if counts < -(1<<23) || counts >= 1<<23 {
		return RawSample{}, errors.Errorf("counts out of 24-bit range: %d", counts)
	}

	return RawSample{
		Timestamp: time.UnixMicro(timestampMicros),
		Counts:    int32(counts),
	}, nil
}
