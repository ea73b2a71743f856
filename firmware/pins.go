//go:build tinygo

package main

import "machine"

const (
	// HX711 pins
	PIN_HX711_DOUT = machine.D2
	PIN_HX711_SCK  = machine.D3

	// Gain pulses after the 24 data bits: 1 = channel A/128, 3 = A/64, 2 = B/32
	DEFAULT_GAIN_PULSES = 1

	// SCK high for longer than this powers the HX711 down
	POWER_DOWN_US = 80

	// Samples dropped after a gain change or reset while the chip settles
	IGNORE_SAMPLES_AFTER_CHANGE = 4

	// Serial configuration
	// Format "unix_micros,counts\n", e.g. "1234567890123456,-8388608\n" = ~26 bytes max per line
	// 80 SPS * 26 bytes/line = 2,080 bytes/sec
	// UART 8N1: 10 bits/byte = 20,800 baud minimum
	// 115200 provides ~5.5x headroom
	UART_BAUD_RATE = 115200
)
