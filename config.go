package roboarm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hipsterbrown/feetech-servo"
	"go.viam.com/rdk/logging"
)

// Config configures one ik-arm component. Port is optional: without it
// the component runs solver-only and move commands update the modeled
// pose without driving hardware.
type Config struct {
	Port     string `json:"port,omitempty"`
	Baudrate int    `json:"baudrate,omitempty"`

	ServoIDs []int `json:"servo_ids,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty"`

	SpeedDegsPerSec float32 `json:"speed_degs_per_sec,omitempty"`

	CalibrationFile string `json:"calibration_file,omitempty"`

	// Geometry overrides the stock arm dimensions; zero fields keep the
	// defaults.
	Geometry ArmGeometry `json:"geometry,omitempty"`

	// Solver tunables. Zero values take the solver defaults.
	MaxIterations      int       `json:"max_iterations,omitempty"`
	ToleranceCm        float64   `json:"tolerance_cm,omitempty"`
	HardFailureCm      float64   `json:"hard_failure_cm,omitempty"`
	Fractions          []float64 `json:"fractions,omitempty"`
	AbortOnUnreachable bool      `json:"abort_on_unreachable,omitempty"`

	// Not serialized
	Logger logging.Logger `json:"-"`
}

// ArmCalibration maps each driven joint to its servo calibration.
type ArmCalibration struct {
	BaseYaw       *feetech.MotorCalibration `json:"base_yaw"`
	ShoulderPitch *feetech.MotorCalibration `json:"shoulder_pitch"`
	ForearmPitch  *feetech.MotorCalibration `json:"forearm_pitch"`
}

var DefaultArmCalibration = ArmCalibration{
	BaseYaw: &feetech.MotorCalibration{
		ID: 1, DriveMode: 0, HomingOffset: 0,
		RangeMin: 0, RangeMax: 4095,
		NormMode: feetech.NormModeDegrees,
	},
	ShoulderPitch: &feetech.MotorCalibration{
		ID: 2, DriveMode: 0, HomingOffset: 0,
		RangeMin: 1024, RangeMax: 3072,
		NormMode: feetech.NormModeDegrees,
	},
	ForearmPitch: &feetech.MotorCalibration{
		ID: 3, DriveMode: 0, HomingOffset: 0,
		RangeMin: 512, RangeMax: 3584,
		NormMode: feetech.NormModeDegrees,
	},
}

// Validate checks the config and fills defaults in place.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if len(cfg.ServoIDs) == 0 {
		cfg.ServoIDs = []int{1, 2, 3}
	}
	if len(cfg.ServoIDs) != 3 {
		return nil, nil, fmt.Errorf("servo_ids must name exactly 3 servos (yaw, shoulder, forearm), got %d", len(cfg.ServoIDs))
	}
	seen := make(map[int]bool, len(cfg.ServoIDs))
	for _, id := range cfg.ServoIDs {
		if id < 1 || id > 253 {
			return nil, nil, fmt.Errorf("servo id %d out of range [1, 253]", id)
		}
		if seen[id] {
			return nil, nil, fmt.Errorf("duplicate servo id %d", id)
		}
		seen[id] = true
	}

	if cfg.Baudrate == 0 {
		cfg.Baudrate = 1000000
	}

	if cfg.MaxIterations < 0 {
		return nil, nil, fmt.Errorf("max_iterations must be non-negative, got %d", cfg.MaxIterations)
	}
	if cfg.ToleranceCm < 0 {
		return nil, nil, fmt.Errorf("tolerance_cm must be non-negative, got %v", cfg.ToleranceCm)
	}
	if cfg.HardFailureCm < 0 {
		return nil, nil, fmt.Errorf("hard_failure_cm must be non-negative, got %v", cfg.HardFailureCm)
	}

	geo := cfg.Geometry
	if geo != (ArmGeometry{}) {
		def := DefaultArmGeometry()
		if geo.BaseLength == 0 {
			geo.BaseLength = def.BaseLength
		}
		if geo.ShoulderLength == 0 {
			geo.ShoulderLength = def.ShoulderLength
		}
		if geo.AnkleLength == 0 {
			geo.AnkleLength = def.AnkleLength
		}
		if geo.Ankle2Length == 0 {
			geo.Ankle2Length = def.Ankle2Length
		}
		if geo.ForearmLength == 0 {
			geo.ForearmLength = def.ForearmLength
		}
		if geo.ShoulderLimitDeg == 0 {
			geo.ShoulderLimitDeg = def.ShoulderLimitDeg
		}
		if geo.ForearmLimitDeg == 0 {
			geo.ForearmLimitDeg = def.ForearmLimitDeg
		}
		if err := geo.validate(); err != nil {
			return nil, nil, err
		}
	}

	return nil, nil, nil
}

// LoadCalibration loads calibration from file or returns the default.
// The second return reports whether a file supplied it.
func (cfg *Config) LoadCalibration(logger logging.Logger) (ArmCalibration, bool) {
	if cfg.CalibrationFile == "" {
		if logger != nil {
			logger.Debug("No calibration file specified, using default calibration")
		}
		return DefaultArmCalibration, false
	}

	// Relative paths resolve under VIAM_MODULE_DATA.
	if !filepath.IsAbs(cfg.CalibrationFile) {
		moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
		if moduleDataDir == "" {
			moduleDataDir = "/tmp"
		}
		cfg.CalibrationFile = filepath.Join(moduleDataDir, cfg.CalibrationFile)
	}

	calibration, err := LoadCalibrationFromFile(cfg.CalibrationFile, logger)
	if err != nil {
		if logger != nil {
			logger.Warnf("Failed to load calibration from %s: %v, using default calibration", cfg.CalibrationFile, err)
		}
		return DefaultArmCalibration, false
	}

	if logger != nil {
		logger.Infof("Successfully loaded calibration from %s", cfg.CalibrationFile)
	}
	return calibration, true
}

// LoadCalibrationFromFile loads and validates calibration from a JSON
// file. Joints missing from the file keep their default calibration.
func LoadCalibrationFromFile(filePath string, logger logging.Logger) (ArmCalibration, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return ArmCalibration{}, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var calibration ArmCalibration
	if err := json.Unmarshal(data, &calibration); err != nil {
		return ArmCalibration{}, fmt.Errorf("failed to parse calibration JSON: %w", err)
	}

	if calibration.BaseYaw == nil {
		calibration.BaseYaw = DefaultArmCalibration.BaseYaw
	}
	if calibration.ShoulderPitch == nil {
		calibration.ShoulderPitch = DefaultArmCalibration.ShoulderPitch
	}
	if calibration.ForearmPitch == nil {
		calibration.ForearmPitch = DefaultArmCalibration.ForearmPitch
	}
	for _, cal := range []*feetech.MotorCalibration{calibration.BaseYaw, calibration.ShoulderPitch, calibration.ForearmPitch} {
		if cal.NormMode == 0 {
			cal.NormMode = feetech.NormModeDegrees
		}
	}

	if err := ValidateCalibration(calibration, logger); err != nil {
		return ArmCalibration{}, fmt.Errorf("calibration validation failed: %w", err)
	}

	return calibration, nil
}

// SaveCalibrationToFile writes calibration as indented JSON.
func SaveCalibrationToFile(filePath string, calibration ArmCalibration) error {
	data, err := json.MarshalIndent(calibration, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal calibration: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}

	return nil
}

// ValidateCalibration checks that every joint carries a usable
// calibration.
func ValidateCalibration(cal ArmCalibration, logger logging.Logger) error {
	joints := []struct {
		name   string
		config *feetech.MotorCalibration
	}{
		{"base_yaw", cal.BaseYaw},
		{"shoulder_pitch", cal.ShoulderPitch},
		{"forearm_pitch", cal.ForearmPitch},
	}

	for _, joint := range joints {
		if joint.config == nil {
			return fmt.Errorf("joint %s: calibration is nil", joint.name)
		}
		if err := joint.config.Validate(); err != nil {
			return fmt.Errorf("joint %s: %w", joint.name, err)
		}
	}

	if logger != nil {
		logger.Debug("Calibration validation passed")
	}

	return nil
}

// ToFeetechCalibrationMap keys the joint calibrations by servo ID for the
// feetech bus.
func (cal ArmCalibration) ToFeetechCalibrationMap() map[int]*feetech.MotorCalibration {
	out := make(map[int]*feetech.MotorCalibration, 3)
	for _, mc := range []*feetech.MotorCalibration{cal.BaseYaw, cal.ShoulderPitch, cal.ForearmPitch} {
		if mc != nil {
			out[mc.ID] = mc
		}
	}
	return out
}

func (cal ArmCalibration) Equal(other ArmCalibration) bool {
	return calibrationsEqual(cal.BaseYaw, other.BaseYaw) &&
		calibrationsEqual(cal.ShoulderPitch, other.ShoulderPitch) &&
		calibrationsEqual(cal.ForearmPitch, other.ForearmPitch)
}

func calibrationsEqual(a, b *feetech.MotorCalibration) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.ID == b.ID &&
		a.DriveMode == b.DriveMode &&
		a.HomingOffset == b.HomingOffset &&
		a.RangeMin == b.RangeMin &&
		a.RangeMax == b.RangeMax &&
		a.NormMode == b.NormMode
}
