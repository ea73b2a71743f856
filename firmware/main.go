//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"
)

var (
	uart = machine.UART0

	gainPulses      = DEFAULT_GAIN_PULSES
	ignoreCountdown int

	// Serial buffer for reading command lines
	serialBuffer [8]byte
	serialPos    int
)

func main() {
	PIN_HX711_DOUT.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_HX711_SCK.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_HX711_SCK.Low()

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	print("# hx711 bridge\n")
	resetHX711()

	for {
		processSerial()

		// DOUT goes low when a conversion is ready
		if !PIN_HX711_DOUT.Get() {
			counts := readHX711()
			if ignoreCountdown > 0 {
				ignoreCountdown--
				continue
			}
			outputSample(counts)
		}

		time.Sleep(100 * time.Microsecond)
	}
}

// readHX711 clocks out one 24-bit two's complement conversion and selects
// the gain for the next one.
func readHX711() int32 {
	var value uint32
	for range 24 {
		PIN_HX711_SCK.High()
		value = value<<1 | bit(PIN_HX711_DOUT.Get())
		PIN_HX711_SCK.Low()
	}
	for range gainPulses {
		PIN_HX711_SCK.High()
		PIN_HX711_SCK.Low()
	}

	// Sign-extend from 24 bits
	if value&0x800000 != 0 {
		value |= 0xff000000
	}
	return int32(value)
}

func bit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// resetHX711 power cycles the chip by holding SCK high.
func resetHX711() {
	PIN_HX711_SCK.High()
	time.Sleep(POWER_DOWN_US * time.Microsecond)
	PIN_HX711_SCK.Low()
	ignoreCountdown = IGNORE_SAMPLES_AFTER_CHANGE
}

func outputSample(counts int32) {
	timestampMicros := time.Now().UnixNano() / 1000

	// Output format: "unix_micros,counts\n"
	print(timestampMicros)
	print(",")
	print(counts)
	print("\n")
}

// processSerial accepts "r" (reset) and "g128", "g64", "g32" (gain).
func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			handleCommand(string(serialBuffer[:serialPos]))
			serialPos = 0
			continue
		}

		if data == ' ' || data == '\t' {
			continue
		}

		if serialPos < len(serialBuffer) {
			serialBuffer[serialPos] = data
			serialPos++
		} else {
			// Too long - drop the line
			serialPos = 0
		}
	}
}

func handleCommand(cmd string) {
	switch cmd {
	case "r":
		resetHX711()
	case "g128":
		setGain(1)
	case "g64":
		setGain(3)
	case "g32":
		setGain(2)
	}
}

func setGain(pulses int) {
	if pulses == gainPulses {
		return
	}
	gainPulses = pulses
	ignoreCountdown = IGNORE_SAMPLES_AFTER_CHANGE
}
