package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, float32(0.15), cfg.Filter.BrewingThreshold)
	assert.Equal(t, 2*time.Second, cfg.Filter.StabilityTimeout)
	assert.Equal(t, 3, cfg.Filter.MedianSamples)
	assert.Equal(t, 2, cfg.Filter.AverageSamples)
	assert.Equal(t, 12, cfg.Flow.Window)
	assert.Equal(t, 80*time.Millisecond, cfg.Flow.MinDeltaTime)
	assert.Equal(t, float32(10.0), cfg.Automation.CupThreshold)
	assert.Equal(t, float32(0.2), cfg.Automation.FlowStartThreshold)
	assert.Equal(t, 3*time.Second, cfg.Automation.TareSettleTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Tasks.SamplePeriod)
	assert.Equal(t, 25*time.Millisecond, cfg.Tasks.AutomationPeriod)
	assert.Equal(t, 5*time.Millisecond, cfg.Filter.TarePollInterval)
	assert.Equal(t, time.Second, cfg.Filter.TareTimeout)
	assert.Equal(t, 3000, cfg.History.Capacity)
	assert.Equal(t, 100*time.Millisecond, cfg.History.Period)
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
serial:
  port: "/dev/ttyUSB0"

filter:
  calibration_factor: 2100.5
  brewing_threshold: 0.3
  stability_timeout: 1500ms
  median_samples: 5

flow:
  window: 16
  min_delta_time: 100ms

automation:
  initial_mode: flow
  cup_threshold: 15
  mode_stable_time: 500ms

tasks:
  sample_period: 40ms
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, float32(2100.5), cfg.Filter.CalibrationFactor)
	assert.Equal(t, float32(0.3), cfg.Filter.BrewingThreshold)
	assert.Equal(t, 1500*time.Millisecond, cfg.Filter.StabilityTimeout)
	assert.Equal(t, 5, cfg.Filter.MedianSamples)
	assert.Equal(t, 16, cfg.Flow.Window)
	assert.Equal(t, 100*time.Millisecond, cfg.Flow.MinDeltaTime)
	assert.Equal(t, "flow", cfg.Automation.InitialMode)
	assert.Equal(t, float32(15), cfg.Automation.CupThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Automation.ModeStableTime)
	assert.Equal(t, 40*time.Millisecond, cfg.Tasks.SamplePeriod)
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString("invalid: yaml: content: [")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
serial:
  port: "COM4"
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Should use defaults for missing fields
	assert.Equal(t, "COM4", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)                     // default
	assert.Equal(t, float32(0.15), cfg.Filter.BrewingThreshold)      // default
	assert.Equal(t, 25*time.Millisecond, cfg.Tasks.AutomationPeriod) // default
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB1"
	cfg.Automation.GracePeriod = 3 * time.Second

	tmpfile, err := os.CreateTemp("", "test_save_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	err = cfg.Save(tmpfile.Name())
	require.NoError(t, err)

	// Load it back and verify
	loaded, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", loaded.Serial.Port)
	assert.Equal(t, 3*time.Second, loaded.Automation.GracePeriod)
	assert.Equal(t, cfg.Filter.CalibrationFactor, loaded.Filter.CalibrationFactor)
}
