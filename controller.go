package roboarm

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/hipsterbrown/feetech-servo"
	"go.viam.com/rdk/logging"
)

// jointOrder maps positions in Config.ServoIDs to joint names: the first
// configured servo drives base yaw, the second shoulder pitch, the third
// forearm pitch.
var jointOrder = []string{JointBaseYaw, JointShoulderPitch, JointForearmPitch}

const rawTicksPerRev = 4096

// SafeArmController drives the three arm servos over a shared feetech
// bus. All methods serialize on an internal mutex; the bus itself is
// owned by the registry and shared between controllers on the same port.
//
// Position reads and writes go through the bus's normalized path: the
// bus holds a MotorCalibration per servo (seeded from BusConfig and
// refreshed by UpdateCalibration), so degree values map onto each
// joint's calibrated range with drive-mode inversion applied.
type SafeArmController struct {
	bus         *feetech.Bus
	servos      map[int]*feetech.Servo
	servoIDs    []int
	calibration ArmCalibration
	logger      logging.Logger
	mu          sync.Mutex
}

func newArmController(bus *feetech.Bus, servos map[int]*feetech.Servo, servoIDs []int, calibration ArmCalibration, logger logging.Logger) *SafeArmController {
	return &SafeArmController{
		bus:         bus,
		servos:      servos,
		servoIDs:    servoIDs,
		calibration: calibration,
		logger:      logger,
	}
}

// speedToRaw converts degrees per second to raw goal-velocity ticks.
// Zero means the servo's unthrottled default.
func speedToRaw(degsPerSec float64) int {
	if degsPerSec <= 0 {
		return 0
	}
	return int(math.Round(degsPerSec * rawTicksPerRev / 360.0))
}

// MoveToJointAngles commands each joint named in angles to its target in
// degrees. Joints absent from the map hold their current target.
func (s *SafeArmController) MoveToJointAngles(ctx context.Context, angles map[string]float64, speedDegsPerSec float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	speed := speedToRaw(speedDegsPerSec)
	for i, name := range jointOrder {
		deg, ok := angles[name]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		id := s.servoIDs[i]
		servo, ok := s.servos[id]
		if !ok {
			return fmt.Errorf("no servo %d for joint %s", id, name)
		}
		if err := servo.WriteVelocity(float64(speed), false); err != nil {
			return fmt.Errorf("failed to set speed on servo %d (joint %s): %w", id, name, err)
		}
		if err := servo.WritePosition(deg, true); err != nil {
			return fmt.Errorf("failed to move servo %d (joint %s): %w", id, name, err)
		}
	}
	return nil
}

// JointAngles reads the present position of every joint in degrees.
func (s *SafeArmController) JointAngles(ctx context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]float64, len(jointOrder))
	for i, name := range jointOrder {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := s.servoIDs[i]
		servo, ok := s.servos[id]
		if !ok {
			return nil, fmt.Errorf("no servo %d for joint %s", id, name)
		}
		deg, err := servo.ReadPosition(true)
		if err != nil {
			return nil, fmt.Errorf("failed to read servo %d (joint %s): %w", id, name, err)
		}
		out[name] = deg
	}
	return out, nil
}

// RawPositions reads the present position of every servo in raw ticks,
// keyed by servo ID. The calibration workflow records ranges from these.
func (s *SafeArmController) RawPositions(ctx context.Context) (map[int]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]int, len(s.servoIDs))
	for _, id := range s.servoIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		servo, ok := s.servos[id]
		if !ok {
			return nil, fmt.Errorf("no servo %d on bus", id)
		}
		raw, err := servo.ReadPosition(false)
		if err != nil {
			return nil, fmt.Errorf("failed to read servo %d: %w", id, err)
		}
		out[id] = int(math.Round(raw))
	}
	return out, nil
}

// SetTorqueEnable enables or disables torque on every arm servo.
func (s *SafeArmController) SetTorqueEnable(ctx context.Context, enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, name := range jointOrder {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := s.servoIDs[i]
		servo, ok := s.servos[id]
		if !ok {
			return fmt.Errorf("no servo %d for joint %s", id, name)
		}
		if err := servo.SetTorqueEnable(enable); err != nil {
			return fmt.Errorf("failed to set torque on servo %d: %w", id, err)
		}
	}
	return nil
}

// Ping verifies every arm servo answers on the bus.
func (s *SafeArmController) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, name := range jointOrder {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := s.servoIDs[i]
		servo, ok := s.servos[id]
		if !ok {
			return fmt.Errorf("no servo %d for joint %s", id, name)
		}
		if _, err := servo.Ping(); err != nil {
			return fmt.Errorf("servo %d (joint %s) did not respond: %w", id, name, err)
		}
	}
	return nil
}

// Stop halts in-flight motion by re-commanding each servo to its present
// position at the unthrottled speed.
func (s *SafeArmController) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, name := range jointOrder {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := s.servoIDs[i]
		servo, ok := s.servos[id]
		if !ok {
			return fmt.Errorf("no servo %d for joint %s", id, name)
		}
		raw, err := servo.ReadPosition(false)
		if err != nil {
			return fmt.Errorf("failed to read servo %d for stop: %w", id, err)
		}
		if err := servo.WriteVelocity(0, false); err != nil {
			return fmt.Errorf("failed to reset speed on servo %d: %w", id, err)
		}
		if err := servo.WritePosition(raw, false); err != nil {
			return fmt.Errorf("failed to stop servo %d: %w", id, err)
		}
	}
	return nil
}

// UpdateCalibration swaps in new joint calibrations and pushes them to
// the bus for normalization.
func (s *SafeArmController) UpdateCalibration(calibration ArmCalibration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calibration = calibration
	if s.bus != nil {
		for id, cal := range calibration.ToFeetechCalibrationMap() {
			s.bus.SetCalibration(id, cal)
		}
	}
}

// Calibration returns the controller's current joint calibrations.
func (s *SafeArmController) Calibration() ArmCalibration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calibration
}

// Close releases the controller's reference on its shared bus; the bus
// itself closes when the registry drops the last reference.
func (s *SafeArmController) Close() error {
	return nil
}
