// calibration.go - guided calibration workflow, exposed as a sensor
package roboarm

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var CalibrationSensorModel = resource.NewModel("kvasdopil", "arm", "calibration")

func init() {
	resource.RegisterComponent(sensor.API, CalibrationSensorModel,
		resource.Registration[sensor.Sensor, *CalibrationSensorConfig]{
			Constructor: NewCalibrationSensor,
		},
	)
}

// CalibrationState represents the current state of the calibration workflow
type CalibrationState int

const (
	StateIdle CalibrationState = iota
	StateStarted
	StateHomingPosition
	StateRangeRecording
	StateCompleted
	StateError
)

func (s CalibrationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateHomingPosition:
		return "homing_position"
	case StateRangeRecording:
		return "range_recording"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// JointCalibrationData holds calibration data for a single joint during the process
type JointCalibrationData struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	HomingOffset int    `json:"homing_offset"`
	RangeMin     int    `json:"range_min"`
	RangeMax     int    `json:"range_max"`
	CurrentPos   int    `json:"current_position"`
	RecordedMin  int    `json:"recorded_min"`
	RecordedMax  int    `json:"recorded_max"`
	IsCompleted  bool   `json:"is_completed"`
}

// CalibrationSensorConfig configures the calibration sensor.
type CalibrationSensorConfig struct {
	ServoIDs        []int  `json:"servo_ids,omitempty"`
	CalibrationFile string `json:"calibration_file,omitempty"`

	// Controller configuration (shared with the arm component)
	Port     string        `json:"port,omitempty"`
	Baudrate int           `json:"baudrate,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *CalibrationSensorConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, fmt.Errorf("must specify port for serial communication")
	}

	if len(cfg.ServoIDs) == 0 {
		cfg.ServoIDs = []int{1, 2, 3}
	}
	if len(cfg.ServoIDs) != 3 {
		return nil, nil, fmt.Errorf("expected 3 servo IDs, got %d", len(cfg.ServoIDs))
	}

	return nil, nil, nil
}

// calibrationSensor walks the user through a joint calibration: disable
// torque, mark the center pose, sweep each joint through its travel, and
// save the recorded ranges.
type calibrationSensor struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	cfg        *CalibrationSensorConfig
	controller *SafeArmController

	mu               sync.RWMutex
	state            CalibrationState
	errorMsg         string
	joints           map[int]*JointCalibrationData
	recordingStarted time.Time
	lastInstruction  string

	recordingActive bool
	recordingCancel context.CancelFunc
	positionSamples int
}

// jointNameForIndex maps the position in ServoIDs to the calibration
// joint name.
var calibrationJointNames = []string{"base_yaw", "shoulder_pitch", "forearm_pitch"}

func NewCalibrationSensor(
	ctx context.Context,
	deps resource.Dependencies,
	rawConf resource.Config,
	logger logging.Logger,
) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*CalibrationSensorConfig](rawConf)
	if err != nil {
		return nil, err
	}

	if conf.Baudrate == 0 {
		conf.Baudrate = 1000000
	}
	if conf.CalibrationFile == "" {
		conf.CalibrationFile = "ik_arm_calibration.json"
	}

	// Handle relative paths using VIAM_MODULE_DATA
	if !filepath.IsAbs(conf.CalibrationFile) {
		moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
		if moduleDataDir == "" {
			moduleDataDir = "/tmp"
		}
		conf.CalibrationFile = filepath.Join(moduleDataDir, conf.CalibrationFile)
	}

	controllerConfig := &Config{
		Port:            conf.Port,
		Baudrate:        conf.Baudrate,
		ServoIDs:        conf.ServoIDs,
		Timeout:         conf.Timeout,
		CalibrationFile: conf.CalibrationFile,
		Logger:          logger,
	}
	if _, _, err := controllerConfig.Validate(""); err != nil {
		return nil, err
	}

	calibration, fromFile := controllerConfig.LoadCalibration(logger)
	controller, err := sharedRegistry.GetController(conf.Port, controllerConfig, calibration, fromFile)
	if err != nil {
		return nil, fmt.Errorf("failed to get shared arm controller: %w", err)
	}

	joints := make(map[int]*JointCalibrationData)
	for i, servoID := range conf.ServoIDs {
		joints[servoID] = &JointCalibrationData{
			ID:          servoID,
			Name:        calibrationJointNames[i],
			RecordedMin: math.MaxInt32,
			RecordedMax: math.MinInt32,
		}
	}

	cs := &calibrationSensor{
		name:            rawConf.ResourceName(),
		logger:          logger,
		cfg:             conf,
		controller:      controller,
		state:           StateIdle,
		joints:          joints,
		lastInstruction: "Ready to start calibration. Use DoCommand with 'start' to begin.",
	}

	logger.Infof("Calibration sensor initialized for servos: %v", conf.ServoIDs)
	return cs, nil
}

func (cs *calibrationSensor) Name() resource.Name {
	return cs.name
}

// Readings returns the current calibration status and instructions.
func (cs *calibrationSensor) Readings(ctx context.Context, extra map[string]any) (map[string]any, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	readings := map[string]any{
		"calibration_state": cs.state.String(),
		"instruction":       cs.lastInstruction,
		"servo_count":       len(cs.cfg.ServoIDs),
	}

	if cs.state == StateError {
		readings["error"] = cs.errorMsg
	}

	jointInfo := make(map[string]any)
	for _, joint := range cs.joints {
		jointInfo[joint.Name] = map[string]any{
			"id":               joint.ID,
			"current_position": joint.CurrentPos,
			"homing_offset":    joint.HomingOffset,
			"range_min":        joint.RangeMin,
			"range_max":        joint.RangeMax,
			"recorded_min":     joint.RecordedMin,
			"recorded_max":     joint.RecordedMax,
			"is_completed":     joint.IsCompleted,
		}
	}
	readings["joints"] = jointInfo

	if cs.state == StateRangeRecording && cs.recordingActive {
		elapsed := time.Since(cs.recordingStarted)
		readings["recording_time_seconds"] = elapsed.Seconds()
		readings["position_samples"] = cs.positionSamples
	}

	availableCommands := []any{}
	switch cs.state {
	case StateIdle:
		availableCommands = []any{"start"}
	case StateStarted:
		availableCommands = []any{"set_homing", "abort"}
	case StateHomingPosition:
		availableCommands = []any{"start_range_recording", "abort"}
	case StateRangeRecording:
		availableCommands = []any{"stop_range_recording", "abort"}
	case StateCompleted:
		availableCommands = []any{"save_calibration", "start"}
	case StateError:
		availableCommands = []any{"reset", "start"}
	}
	readings["available_commands"] = availableCommands

	return readings, nil
}

// DoCommand handles calibration workflow commands
func (cs *calibrationSensor) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("command must be a string")
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch command {
	case "start":
		return cs.startCalibration(ctx)
	case "set_homing":
		return cs.setHomingPosition(ctx)
	case "start_range_recording":
		return cs.startRangeRecording(ctx)
	case "stop_range_recording":
		return cs.stopRangeRecording(ctx)
	case "save_calibration":
		return cs.saveCalibration(ctx)
	case "abort":
		return cs.abortCalibration(ctx)
	case "reset":
		return cs.resetCalibration(ctx)
	case "get_current_positions":
		return cs.getCurrentPositions(ctx)
	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

func (cs *calibrationSensor) setState(state CalibrationState, instruction string) {
	cs.state = state
	cs.lastInstruction = instruction
	if state == StateError {
		cs.errorMsg = instruction
	}
}

// startCalibration begins the calibration workflow
func (cs *calibrationSensor) startCalibration(ctx context.Context) (map[string]any, error) {
	if cs.state != StateIdle && cs.state != StateCompleted && cs.state != StateError {
		return map[string]any{"success": false},
			fmt.Errorf("calibration already in progress (state: %s)", cs.state.String())
	}

	cs.logger.Info("Starting calibration workflow")

	// Disable torque to allow manual movement
	if err := cs.controller.SetTorqueEnable(ctx, false); err != nil {
		cs.setState(StateError, fmt.Sprintf("Failed to disable torque: %v", err))
		return map[string]any{"success": false}, err
	}

	for _, joint := range cs.joints {
		joint.HomingOffset = 0
		joint.RangeMin = 0
		joint.RangeMax = 4095
		joint.RecordedMin = math.MaxInt32
		joint.RecordedMax = math.MinInt32
		joint.IsCompleted = false
	}

	cs.setState(StateStarted,
		"Calibration started. Manually move the arm to the middle of its range of motion, then use 'set_homing' command.")

	return map[string]any{
		"success": true,
		"state":   cs.state.String(),
		"message": cs.lastInstruction,
	}, nil
}

// setHomingPosition marks the current pose as the center of travel. The
// offset is kept in the calibration file; servo registers stay untouched.
func (cs *calibrationSensor) setHomingPosition(ctx context.Context) (map[string]any, error) {
	if cs.state != StateStarted {
		return map[string]any{"success": false},
			fmt.Errorf("must start calibration first (current state: %s)", cs.state.String())
	}

	cs.logger.Info("Setting homing positions...")

	positions, err := cs.controller.RawPositions(ctx)
	if err != nil {
		cs.setState(StateError, fmt.Sprintf("Failed to read servo positions: %v", err))
		return map[string]any{"success": false}, err
	}

	homingOffsets := make(map[string]any)
	for _, servoID := range cs.cfg.ServoIDs {
		currentRawPos := positions[servoID]

		// Offset that would make the current position the encoder center.
		targetCenter := 2047
		homingOffset := currentRawPos - targetCenter

		joint := cs.joints[servoID]
		joint.HomingOffset = homingOffset
		joint.CurrentPos = currentRawPos
		homingOffsets[joint.Name] = homingOffset

		cs.logger.Infof("Servo %d (%s): raw_position=%d, homing_offset=%d",
			servoID, joint.Name, currentRawPos, homingOffset)
	}

	cs.setState(StateHomingPosition,
		"Homing positions set. Now use 'start_range_recording' command, then move all joints through their entire ranges of motion.")

	return map[string]any{
		"success":        true,
		"state":          cs.state.String(),
		"homing_offsets": homingOffsets,
		"message":        cs.lastInstruction,
	}, nil
}

// startRangeRecording begins recording min/max positions
func (cs *calibrationSensor) startRangeRecording(_ context.Context) (map[string]any, error) {
	if cs.state != StateHomingPosition {
		return map[string]any{"success": false},
			fmt.Errorf("must set homing position first (current state: %s)", cs.state.String())
	}

	cs.logger.Info("Starting range of motion recording...")

	// Dedicated context so recording survives the DoCommand return.
	recordingCtx, cancel := context.WithCancel(context.Background())
	cs.recordingCancel = cancel
	cs.recordingActive = true
	cs.recordingStarted = time.Now()
	cs.positionSamples = 0

	cs.setState(StateRangeRecording,
		"Recording range of motion. Move all joints through their full ranges. Use 'stop_range_recording' when complete.")

	go cs.recordPositions(recordingCtx)

	return map[string]any{
		"success": true,
		"state":   cs.state.String(),
		"message": cs.lastInstruction,
	}, nil
}

// recordPositions continuously records servo positions in the background
func (cs *calibrationSensor) recordPositions(recordingCtx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	cs.logger.Debug("Position recording goroutine started")

	for {
		select {
		case <-recordingCtx.Done():
			cs.logger.Debug("Position recording goroutine stopped - context cancelled")
			return
		case <-ticker.C:
			cs.mu.RLock()
			active := cs.recordingActive && cs.state == StateRangeRecording
			cs.mu.RUnlock()
			if !active {
				cs.logger.Debug("Position recording goroutine stopped - recording not active")
				return
			}

			positions, err := cs.controller.RawPositions(recordingCtx)
			if err != nil {
				cs.logger.Errorf("Failed to read positions during recording: %v", err)
				continue
			}

			cs.mu.Lock()
			if cs.recordingActive {
				for _, servoID := range cs.cfg.ServoIDs {
					rawPos := positions[servoID]
					joint := cs.joints[servoID]
					joint.CurrentPos = rawPos

					if rawPos < joint.RecordedMin {
						joint.RecordedMin = rawPos
					}
					if rawPos > joint.RecordedMax {
						joint.RecordedMax = rawPos
					}
				}
				cs.positionSamples++
			}
			cs.mu.Unlock()
		}
	}
}

// stopRangeRecording completes the range recording process
func (cs *calibrationSensor) stopRangeRecording(_ context.Context) (map[string]any, error) {
	if cs.state != StateRangeRecording {
		return map[string]any{"success": false},
			fmt.Errorf("range recording not active (current state: %s)", cs.state.String())
	}

	if cs.recordingCancel != nil {
		cs.recordingCancel()
		cs.recordingCancel = nil
	}

	cs.recordingActive = false
	recordingDuration := time.Since(cs.recordingStarted)

	cs.logger.Infof("Range recording stopped after %.1f seconds, %d samples collected",
		recordingDuration.Seconds(), cs.positionSamples)

	rangeData := make(map[string]any)
	allValid := true

	for servoID, joint := range cs.joints {
		if joint.RecordedMin >= joint.RecordedMax {
			cs.logger.Errorf("Invalid range for servo %d (%s): min=%d, max=%d",
				servoID, joint.Name, joint.RecordedMin, joint.RecordedMax)
			allValid = false
			continue
		}

		joint.RangeMin = joint.RecordedMin
		joint.RangeMax = joint.RecordedMax
		joint.IsCompleted = true

		rangeData[joint.Name] = map[string]any{
			"min":   joint.RangeMin,
			"max":   joint.RangeMax,
			"range": joint.RangeMax - joint.RangeMin,
		}

		cs.logger.Infof("Servo %d (%s): range [%d, %d] (span: %d)",
			servoID, joint.Name, joint.RangeMin, joint.RangeMax, joint.RangeMax-joint.RangeMin)
	}

	if !allValid {
		cs.setState(StateError, "Invalid ranges detected. Some joints may not have been moved through their full range.")
		return map[string]any{"success": false}, fmt.Errorf("invalid ranges detected")
	}

	cs.setState(StateCompleted,
		"Range recording completed. Use 'save_calibration' to save the calibration file.")

	return map[string]any{
		"success":            true,
		"state":              cs.state.String(),
		"recording_duration": recordingDuration.Seconds(),
		"samples_collected":  cs.positionSamples,
		"ranges":             rangeData,
		"message":            cs.lastInstruction,
	}, nil
}

// saveCalibration writes the recorded calibration to file and pushes it
// to the shared controller.
func (cs *calibrationSensor) saveCalibration(_ context.Context) (map[string]any, error) {
	if cs.state != StateCompleted {
		return map[string]any{"success": false},
			fmt.Errorf("calibration not completed (current state: %s)", cs.state.String())
	}

	cs.logger.Info("Saving calibration to file...")

	calibration := ArmCalibration{}
	for i, servoID := range cs.cfg.ServoIDs {
		joint := cs.joints[servoID]
		motorCal := &feetech.MotorCalibration{
			ID:           servoID,
			DriveMode:    0,
			HomingOffset: joint.HomingOffset,
			RangeMin:     joint.RangeMin,
			RangeMax:     joint.RangeMax,
			NormMode:     feetech.NormModeDegrees,
		}

		switch calibrationJointNames[i] {
		case "base_yaw":
			calibration.BaseYaw = motorCal
		case "shoulder_pitch":
			calibration.ShoulderPitch = motorCal
		case "forearm_pitch":
			calibration.ForearmPitch = motorCal
		}
	}

	if err := SaveCalibrationToFile(cs.cfg.CalibrationFile, calibration); err != nil {
		cs.setState(StateError, fmt.Sprintf("Failed to save calibration file: %v", err))
		return map[string]any{"success": false}, err
	}

	cs.controller.UpdateCalibration(calibration)

	cs.setState(StateIdle, fmt.Sprintf("Calibration saved to %s.", cs.cfg.CalibrationFile))

	return map[string]any{
		"success": true,
		"file":    cs.cfg.CalibrationFile,
		"message": cs.lastInstruction,
	}, nil
}

// abortCalibration cancels the current workflow and re-enables torque.
func (cs *calibrationSensor) abortCalibration(ctx context.Context) (map[string]any, error) {
	if cs.recordingCancel != nil {
		cs.recordingCancel()
		cs.recordingCancel = nil
	}
	cs.recordingActive = false

	if err := cs.controller.SetTorqueEnable(ctx, true); err != nil {
		cs.logger.Warnf("Failed to re-enable torque after abort: %v", err)
	}

	cs.setState(StateIdle, "Calibration aborted. Use 'start' to begin again.")
	return map[string]any{"success": true, "state": cs.state.String()}, nil
}

// resetCalibration clears error state.
func (cs *calibrationSensor) resetCalibration(_ context.Context) (map[string]any, error) {
	cs.errorMsg = ""
	cs.setState(StateIdle, "Ready to start calibration. Use DoCommand with 'start' to begin.")
	return map[string]any{"success": true, "state": cs.state.String()}, nil
}

// getCurrentPositions reads raw servo positions without changing state.
func (cs *calibrationSensor) getCurrentPositions(ctx context.Context) (map[string]any, error) {
	positions, err := cs.controller.RawPositions(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(positions))
	for _, servoID := range cs.cfg.ServoIDs {
		joint := cs.joints[servoID]
		joint.CurrentPos = positions[servoID]
		out[joint.Name] = positions[servoID]
	}
	return map[string]any{"success": true, "positions": out}, nil
}

// Close stops any active recording and releases the shared controller.
func (cs *calibrationSensor) Close(context.Context) error {
	cs.mu.Lock()
	if cs.recordingCancel != nil {
		cs.recordingCancel()
		cs.recordingCancel = nil
	}
	cs.recordingActive = false
	cs.mu.Unlock()

	sharedRegistry.ReleaseController(cs.cfg.Port)
	return nil
}
