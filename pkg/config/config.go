package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial     SerialConfig     `yaml:"serial"`
	Filter     FilterConfig     `yaml:"filter"`
	Flow       FlowConfig       `yaml:"flow"`
	Automation AutomationConfig `yaml:"automation"`
	Tasks      TasksConfig      `yaml:"tasks"`
	Storage    StorageConfig    `yaml:"storage"`
	API        APIConfig        `yaml:"api"`
	Journal    JournalConfig    `yaml:"journal"`
	History    HistoryConfig    `yaml:"history"`
	Mock       MockConfig       `yaml:"mock"`
}

// SerialConfig contains serial port configuration for the load-cell bridge.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// FilterConfig contains the weight filter defaults. Values persisted in the
// settings store take precedence over these at startup.
type FilterConfig struct {
	CalibrationFactor float32       `yaml:"calibration_factor"` // ADC counts per gram
	BrewingThreshold  float32       `yaml:"brewing_threshold"`  // Grams per sample that count as activity
	StabilityTimeout  time.Duration `yaml:"stability_timeout"`
	MedianSamples     int           `yaml:"median_samples"`
	AverageSamples    int           `yaml:"average_samples"`
	TareSamples       int           `yaml:"tare_samples"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`  // How long Initialize waits for the sensor
	ProbeInterval     time.Duration `yaml:"probe_interval"` // Poll interval while probing
	SettleDelay       time.Duration `yaml:"settle_delay"`   // Flow stays paused this long after a tare

	TarePollInterval time.Duration `yaml:"tare_poll_interval"` // Poll interval while collecting tare samples
	TareTimeout      time.Duration `yaml:"tare_timeout"`       // A tare uses what it has collected by then

	MaxPlausibleWeight float32 `yaml:"max_plausible_weight"` // Raw readings beyond this are discarded
}

// FlowConfig contains flow-rate estimator parameters.
type FlowConfig struct {
	Window                  int           `yaml:"window"`
	WeightDeadband          float32       `yaml:"weight_deadband"`
	MinDeltaTime            time.Duration `yaml:"min_delta_time"`
	ZeroThreshold           float32       `yaml:"zero_threshold"`
	NegativeChangeThreshold float32       `yaml:"negative_change_threshold"`
	RemovalCutoff           float32       `yaml:"removal_cutoff"` // Removal above this flushes the buffer
	WeightSlope             float32       `yaml:"weight_slope"`   // k in 1 + k*(n-i)
	FastSamples             int           `yaml:"fast_samples"`
	TimerMinRate            float32       `yaml:"timer_min_rate"`
}

// AutomationConfig contains brew automation thresholds.
type AutomationConfig struct {
	InitialMode         string        `yaml:"initial_mode"` // flow, time or auto
	GracePeriod         time.Duration `yaml:"grace_period"`
	CupThreshold        float32       `yaml:"cup_threshold"`
	CupStableTolerance  float32       `yaml:"cup_stable_tolerance"`
	CupStableTime       time.Duration `yaml:"cup_stable_time"`
	FlowStartThreshold  float32       `yaml:"flow_start_threshold"`
	CupRemovalThreshold float32       `yaml:"cup_removal_threshold"`
	TareSettleTimeout   time.Duration `yaml:"tare_settle_timeout"` // Auto-tare re-arms if the pan has not zeroed by then
	FingerReleaseDrop   float32       `yaml:"finger_release_drop"`
	ModeStableTolerance float32       `yaml:"mode_stable_tolerance"`
	ModeStableTime      time.Duration `yaml:"mode_stable_time"`
}

// TasksConfig contains the periods of the two periodic tasks.
type TasksConfig struct {
	SamplePeriod     time.Duration `yaml:"sample_period"`
	AutomationPeriod time.Duration `yaml:"automation_period"`
}

// StorageConfig contains settings store configuration.
type StorageConfig struct {
	SettingsFile string        `yaml:"settings_file"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// APIConfig contains the HTTP API configuration.
type APIConfig struct {
	Listen string `yaml:"listen"` // Empty disables the API
}

// JournalConfig contains brew journal configuration.
type JournalConfig struct {
	Path string `yaml:"path"` // Empty disables the journal
}

// HistoryConfig contains the weight trace configuration.
type HistoryConfig struct {
	Capacity  int           `yaml:"capacity"`   // Points kept
	Period    time.Duration `yaml:"period"`     // Recording interval
	MaxPoints int           `yaml:"max_points"` // Default points served to clients
}

// MockConfig contains simulated load-cell configuration.
type MockConfig struct {
	SampleRate   time.Duration `yaml:"sample_rate"`
	NoiseLevel   float32       `yaml:"noise_level"` // Peak noise (g)
	Offset       int32         `yaml:"offset"`      // Empty-pan ADC counts
	CupWeight    float32       `yaml:"cup_weight"`  // Simulated cup (g)
	CupAt        time.Duration `yaml:"cup_at"`      // When the cup is placed
	PourAt       time.Duration `yaml:"pour_at"`     // When liquid starts flowing
	PourRate     float32       `yaml:"pour_rate"`   // g/s
	PourDuration time.Duration `yaml:"pour_duration"`
	RemoveAt     time.Duration `yaml:"remove_at"` // When the cup is lifted (0 = never)
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 115200,
		},
		Filter: FilterConfig{
			CalibrationFactor: 4195.712891,
			BrewingThreshold:  0.15,
			StabilityTimeout:  2 * time.Second,
			MedianSamples:     3,
			AverageSamples:    2,
			TareSamples:       20,
			ProbeTimeout:      3 * time.Second,
			ProbeInterval:     100 * time.Millisecond,
			SettleDelay:       200 * time.Millisecond,
			TarePollInterval:  5 * time.Millisecond,
			TareTimeout:       time.Second,

			MaxPlausibleWeight: 5000,
		},
		Flow: FlowConfig{
			Window:                  12,
			WeightDeadband:          0.05,
			MinDeltaTime:            80 * time.Millisecond,
			ZeroThreshold:           0.05,
			NegativeChangeThreshold: 0.3,
			RemovalCutoff:           1.0,
			WeightSlope:             0.05,
			FastSamples:             5,
			TimerMinRate:            0.1,
		},
		Automation: AutomationConfig{
			InitialMode:         "auto",
			GracePeriod:         5 * time.Second,
			CupThreshold:        10.0,
			CupStableTolerance:  1.0,
			CupStableTime:       1000 * time.Millisecond,
			FlowStartThreshold:  0.2,
			CupRemovalThreshold: 2.0,
			TareSettleTimeout:   3 * time.Second,
			FingerReleaseDrop:   0.5,
			ModeStableTolerance: 0.05,
			ModeStableTime:      400 * time.Millisecond,
		},
		Tasks: TasksConfig{
			SamplePeriod:     50 * time.Millisecond,
			AutomationPeriod: 25 * time.Millisecond,
		},
		Storage: StorageConfig{
			SettingsFile: "settings.yaml",
			CacheTTL:     5 * time.Minute,
		},
		API: APIConfig{
			Listen: ":8080",
		},
		Journal: JournalConfig{
			Path: "",
		},
		History: HistoryConfig{
			Capacity:  3000, // 5 minutes
			Period:    100 * time.Millisecond,
			MaxPoints: 300,
		},
		Mock: MockConfig{
			SampleRate:   12500 * time.Microsecond, // 80 SPS, HX711 fast mode
			NoiseLevel:   0.03,
			Offset:       84000,
			CupWeight:    250,
			CupAt:        3 * time.Second,
			PourAt:       12 * time.Second,
			PourRate:     2.0,
			PourDuration: 20 * time.Second,
			RemoveAt:     45 * time.Second,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, errors.Wrap(err, "failed to read config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Filter.CalibrationFactor == 0 {
		c.Filter.CalibrationFactor = def.Filter.CalibrationFactor
	}
	if c.Filter.BrewingThreshold == 0 {
		c.Filter.BrewingThreshold = def.Filter.BrewingThreshold
	}
	if c.Filter.StabilityTimeout == 0 {
		c.Filter.StabilityTimeout = def.Filter.StabilityTimeout
	}
	if c.Filter.MedianSamples == 0 {
		c.Filter.MedianSamples = def.Filter.MedianSamples
	}
	if c.Filter.AverageSamples == 0 {
		c.Filter.AverageSamples = def.Filter.AverageSamples
	}
	if c.Filter.TareSamples == 0 {
		c.Filter.TareSamples = def.Filter.TareSamples
	}
	if c.Filter.ProbeTimeout == 0 {
		c.Filter.ProbeTimeout = def.Filter.ProbeTimeout
	}
	if c.Filter.ProbeInterval == 0 {
		c.Filter.ProbeInterval = def.Filter.ProbeInterval
	}
	if c.Filter.SettleDelay == 0 {
		c.Filter.SettleDelay = def.Filter.SettleDelay
	}
	if c.Filter.TarePollInterval == 0 {
		c.Filter.TarePollInterval = def.Filter.TarePollInterval
	}
	if c.Filter.TareTimeout == 0 {
		c.Filter.TareTimeout = def.Filter.TareTimeout
	}
	if c.Filter.MaxPlausibleWeight == 0 {
		c.Filter.MaxPlausibleWeight = def.Filter.MaxPlausibleWeight
	}

	if c.Flow.Window == 0 {
		c.Flow.Window = def.Flow.Window
	}
	if c.Flow.WeightDeadband == 0 {
		c.Flow.WeightDeadband = def.Flow.WeightDeadband
	}
	if c.Flow.MinDeltaTime == 0 {
		c.Flow.MinDeltaTime = def.Flow.MinDeltaTime
	}
	if c.Flow.ZeroThreshold == 0 {
		c.Flow.ZeroThreshold = def.Flow.ZeroThreshold
	}
	if c.Flow.NegativeChangeThreshold == 0 {
		c.Flow.NegativeChangeThreshold = def.Flow.NegativeChangeThreshold
	}
	if c.Flow.RemovalCutoff == 0 {
		c.Flow.RemovalCutoff = def.Flow.RemovalCutoff
	}
	if c.Flow.FastSamples == 0 {
		c.Flow.FastSamples = def.Flow.FastSamples
	}
	if c.Flow.TimerMinRate == 0 {
		c.Flow.TimerMinRate = def.Flow.TimerMinRate
	}
	// WeightSlope 0 is a valid (unweighted) choice, so it is left alone.

	if c.Automation.InitialMode == "" {
		c.Automation.InitialMode = def.Automation.InitialMode
	}
	if c.Automation.GracePeriod == 0 {
		c.Automation.GracePeriod = def.Automation.GracePeriod
	}
	if c.Automation.CupThreshold == 0 {
		c.Automation.CupThreshold = def.Automation.CupThreshold
	}
	if c.Automation.CupStableTolerance == 0 {
		c.Automation.CupStableTolerance = def.Automation.CupStableTolerance
	}
	if c.Automation.CupStableTime == 0 {
		c.Automation.CupStableTime = def.Automation.CupStableTime
	}
	if c.Automation.FlowStartThreshold == 0 {
		c.Automation.FlowStartThreshold = def.Automation.FlowStartThreshold
	}
	if c.Automation.CupRemovalThreshold == 0 {
		c.Automation.CupRemovalThreshold = def.Automation.CupRemovalThreshold
	}
	if c.Automation.TareSettleTimeout == 0 {
		c.Automation.TareSettleTimeout = def.Automation.TareSettleTimeout
	}
	if c.Automation.FingerReleaseDrop == 0 {
		c.Automation.FingerReleaseDrop = def.Automation.FingerReleaseDrop
	}
	if c.Automation.ModeStableTolerance == 0 {
		c.Automation.ModeStableTolerance = def.Automation.ModeStableTolerance
	}
	if c.Automation.ModeStableTime == 0 {
		c.Automation.ModeStableTime = def.Automation.ModeStableTime
	}

	if c.Tasks.SamplePeriod == 0 {
		c.Tasks.SamplePeriod = def.Tasks.SamplePeriod
	}
	if c.Tasks.AutomationPeriod == 0 {
		c.Tasks.AutomationPeriod = def.Tasks.AutomationPeriod
	}

	if c.Storage.SettingsFile == "" {
		c.Storage.SettingsFile = def.Storage.SettingsFile
	}
	if c.Storage.CacheTTL == 0 {
		c.Storage.CacheTTL = def.Storage.CacheTTL
	}

	if c.History.Capacity == 0 {
		c.History.Capacity = def.History.Capacity
	}
	if c.History.Period == 0 {
		c.History.Period = def.History.Period
	}
	if c.History.MaxPoints == 0 {
		c.History.MaxPoints = def.History.MaxPoints
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
}
