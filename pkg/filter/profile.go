package filter

import (
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/brewscale/pkg/config"
	"github.com/itohio/brewscale/pkg/settings"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Parameter bounds accepted by the setters.
const (
	MinBrewingThreshold = 0.05
	MaxBrewingThreshold = 1.0
	MinStabilityTimeout = 500 * time.Millisecond
	MaxStabilityTimeout = 10 * time.Second
)

// Profile holds the user-tunable filter parameters.
type Profile struct {
	CalibrationFactor float32 // ADC counts per gram
	BrewingThreshold  float32 // Grams per sample that count as activity
	StabilityTimeout  time.Duration
	MedianSamples     int
	AverageSamples    int
}

func validateCalibrationFactor(f float32) error {
	if f == 0 || math32.IsNaN(f) || math32.IsInf(f, 0) {
		return errors.Wrapf(ErrInvalidParameter, "calibration factor %v", f)
	}
	return nil
}

func validateBrewingThreshold(v float32) error {
	if math32.IsNaN(v) || v < MinBrewingThreshold || v > MaxBrewingThreshold {
		return errors.Wrapf(ErrInvalidParameter, "brewing threshold %v outside [%v, %v]", v, MinBrewingThreshold, MaxBrewingThreshold)
	}
	return nil
}

func validateStabilityTimeout(d time.Duration) error {
	if d < MinStabilityTimeout || d > MaxStabilityTimeout {
		return errors.Wrapf(ErrInvalidParameter, "stability timeout %v outside [%v, %v]", d, MinStabilityTimeout, MaxStabilityTimeout)
	}
	return nil
}

func validateSampleCount(name string, n int) error {
	if n < 1 || n > MaxSamples {
		return errors.Wrapf(ErrInvalidParameter, "%s %d outside [1, %d]", name, n, MaxSamples)
	}
	return nil
}

// Settings is a partial profile update. Nil fields are left unchanged.
type Settings struct {
	BrewingThreshold *float32
	StabilityTimeout *time.Duration
	MedianSamples    *int
	AverageSamples   *int
}

// Empty reports whether no field is set.
func (s Settings) Empty() bool {
	return s.BrewingThreshold == nil && s.StabilityTimeout == nil && s.MedianSamples == nil && s.AverageSamples == nil
}

// Validate checks every set field.
func (s Settings) Validate() error {
	if s.BrewingThreshold != nil {
		if err := validateBrewingThreshold(*s.BrewingThreshold); err != nil {
			return err
		}
	}
	if s.StabilityTimeout != nil {
		if err := validateStabilityTimeout(*s.StabilityTimeout); err != nil {
			return err
		}
	}
	if s.MedianSamples != nil {
		if err := validateSampleCount("median samples", *s.MedianSamples); err != nil {
			return err
		}
	}
	if s.AverageSamples != nil {
		if err := validateSampleCount("average samples", *s.AverageSamples); err != nil {
			return err
		}
	}
	return nil
}

// defaultProfile builds a profile from configuration, replacing values the
// setters would reject with built-in defaults.
func defaultProfile(cfg *config.FilterConfig) Profile {
	def := config.Default().Filter
	p := Profile{
		CalibrationFactor: cfg.CalibrationFactor,
		BrewingThreshold:  cfg.BrewingThreshold,
		StabilityTimeout:  cfg.StabilityTimeout,
		MedianSamples:     cfg.MedianSamples,
		AverageSamples:    cfg.AverageSamples,
	}
	if validateCalibrationFactor(p.CalibrationFactor) != nil {
		p.CalibrationFactor = def.CalibrationFactor
	}
	if validateBrewingThreshold(p.BrewingThreshold) != nil {
		p.BrewingThreshold = def.BrewingThreshold
	}
	if validateStabilityTimeout(p.StabilityTimeout) != nil {
		p.StabilityTimeout = def.StabilityTimeout
	}
	if validateSampleCount("median samples", p.MedianSamples) != nil {
		p.MedianSamples = def.MedianSamples
	}
	if validateSampleCount("average samples", p.AverageSamples) != nil {
		p.AverageSamples = def.AverageSamples
	}
	return p
}

// loadProfile reads persisted values over the defaults. Persisted values that
// fail validation are ignored.
func loadProfile(store settings.Store, def Profile) Profile {
	p := def

	if v := store.GetF32(settings.KeyCalibrationFactor, def.CalibrationFactor); validateCalibrationFactor(v) == nil {
		p.CalibrationFactor = v
	} else {
		logrus.Warnf("ignoring stored calibration factor %v", v)
	}
	if v := store.GetF32(settings.KeyBrewingThreshold, def.BrewingThreshold); validateBrewingThreshold(v) == nil {
		p.BrewingThreshold = v
	} else {
		logrus.Warnf("ignoring stored brewing threshold %v", v)
	}
	ms := store.GetU32(settings.KeyStabilityTimeout, uint32(def.StabilityTimeout/time.Millisecond))
	if d := time.Duration(ms) * time.Millisecond; validateStabilityTimeout(d) == nil {
		p.StabilityTimeout = d
	} else {
		logrus.Warnf("ignoring stored stability timeout %dms", ms)
	}
	if v := int(store.GetU32(settings.KeyMedianSamples, uint32(def.MedianSamples))); validateSampleCount("median samples", v) == nil {
		p.MedianSamples = v
	} else {
		logrus.Warnf("ignoring stored median samples %d", v)
	}
	if v := int(store.GetU32(settings.KeyAverageSamples, uint32(def.AverageSamples))); validateSampleCount("average samples", v) == nil {
		p.AverageSamples = v
	} else {
		logrus.Warnf("ignoring stored average samples %d", v)
	}

	return p
}
