package roboarm

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/utils/rpc"
)

//go:embed arm_model.json
var armModelJSON []byte

var IkArmModel = resource.NewModel("kvasdopil", "arm", "ik-arm")

var _ arm.Arm = (*ikArm)(nil)

// The reference pose and solve interface work in centimeters; the arm
// API works in millimeters.
const cmToMM = 10.0

// defaultAnchor places the chain base slightly below the work origin,
// matching the physical mounting plate.
var defaultAnchor = r3.Vector{X: 0, Y: -1, Z: 0}

var sharedRegistry = NewControllerRegistry()

func init() {
	resource.RegisterComponent(arm.API, IkArmModel,
		resource.Registration[arm.Arm, *Config]{
			Constructor: newIkArm,
		},
	)
}

const waypointSettleTime = 100 * time.Millisecond

// createArmModel parses the embedded kinematic model.
func createArmModel() (referenceframe.Model, error) {
	if len(armModelJSON) == 0 {
		return nil, fmt.Errorf("no embedded arm_model.json kinematic model found")
	}
	m := &referenceframe.ModelConfigJSON{
		OriginalFile: &referenceframe.ModelFile{
			Bytes:     armModelJSON,
			Extension: "json",
		},
	}
	if err := json.Unmarshal(armModelJSON, m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal json file")
	}
	return m.ParseConfig("ik_arm")
}

// ikArm is a 3-DOF arm whose Cartesian moves are planned by the
// constrained chain solver. Without a configured port it runs
// solver-only: moves update the modeled pose and solve commands answer,
// but no hardware is driven.
type ikArm struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	cfg    *Config
	opMgr  *operation.SingleOperationManager

	mu       sync.RWMutex
	moveLock sync.Mutex
	isMoving atomic.Bool

	kin        *ArmKinematics
	controller *SafeArmController
	model      referenceframe.Model

	speedDegsPerSec float64

	cancelCtx  context.Context
	cancelFunc func()
}

func newIkArm(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (arm.Arm, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}
	conf.Logger = logger
	return NewIkArm(ctx, rawConf.ResourceName(), conf, logger)
}

func NewIkArm(ctx context.Context, name resource.Name, conf *Config, logger logging.Logger) (arm.Arm, error) {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	if conf.Logger == nil {
		conf.Logger = logger
	}

	solver := NewSolver(conf.MaxIterations, conf.ToleranceCm, logger)
	kin, err := NewArmKinematics(conf.Geometry, defaultAnchor, solver, PlannerConfig{
		Fractions:           conf.Fractions,
		HardFailureDistance: conf.HardFailureCm,
		AbortOnUnreachable:  conf.AbortOnUnreachable,
	}, logger)
	if err != nil {
		cancelFunc()
		return nil, fmt.Errorf("failed to build arm kinematics: %w", err)
	}

	model, err := createArmModel()
	if err != nil {
		cancelFunc()
		return nil, fmt.Errorf("failed to create kinematic model: %w", err)
	}

	s := &ikArm{
		name:            name,
		logger:          logger,
		cfg:             conf,
		opMgr:           operation.NewSingleOperationManager(),
		kin:             kin,
		model:           model,
		speedDegsPerSec: float64(conf.SpeedDegsPerSec),
		cancelCtx:       cancelCtx,
		cancelFunc:      cancelFunc,
	}

	if conf.Port != "" {
		calibration, fromFile := conf.LoadCalibration(logger)
		controller, err := sharedRegistry.GetController(conf.Port, conf, calibration, fromFile)
		if err != nil {
			cancelFunc()
			return nil, fmt.Errorf("failed to initialize arm controller: %w", err)
		}
		s.controller = controller

		if err := controller.SetTorqueEnable(ctx, true); err != nil {
			logger.Warnf("Failed to enable torque: %v", err)
		}
		logger.Infof("ik-arm initialized on port %s with servo IDs: %v", conf.Port, conf.ServoIDs)
	} else {
		logger.Info("ik-arm initialized in solver-only mode (no port configured)")
	}

	return s, nil
}

func (s *ikArm) Name() resource.Name {
	return s.name
}

func (s *ikArm) NewClientFromConn(ctx context.Context, conn rpc.ClientConn, remoteName string, name resource.Name, logger logging.Logger) (arm.Arm, error) {
	return nil, errors.New("remote client not implemented")
}

// anglesToInputs orders named joint angles (degrees) into arm inputs
// (radians).
func anglesToInputs(angles map[string]float64) []referenceframe.Input {
	inputs := make([]referenceframe.Input, len(jointOrder))
	for i, name := range jointOrder {
		inputs[i] = degToRad(angles[name])
	}
	return inputs
}

// inputsToAngles converts arm inputs (radians) to named joint angles in
// degrees.
func inputsToAngles(inputs []referenceframe.Input) map[string]float64 {
	angles := make(map[string]float64, len(jointOrder))
	for i, name := range jointOrder {
		if i < len(inputs) {
			angles[name] = radToDeg(inputs[i])
		}
	}
	return angles
}

func (s *ikArm) EndPosition(ctx context.Context, extra map[string]interface{}) (spatialmath.Pose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	effector := s.kin.Effector()
	return spatialmath.NewPoseFromPoint(effector.Mul(cmToMM)), nil
}

func (s *ikArm) MoveToPosition(ctx context.Context, pose spatialmath.Pose, extra map[string]interface{}) error {
	ctx, done := s.opMgr.New(ctx)
	defer done()

	target := pose.Point().Mul(1.0 / cmToMM)
	_, err := s.planAndMove(ctx, nil, target, nil)
	return err
}

// planAndMove solves the waypoint sequence toward target and, when
// hardware is attached, steps the servos through it. A non-nil origin
// replaces the current effector as the interpolation start. The modeled
// pose always advances to the last solved waypoint.
func (s *ikArm) planAndMove(ctx context.Context, origin *r3.Vector, target r3.Vector, fractions []float64) (*SolveResponse, error) {
	s.moveLock.Lock()
	defer s.moveLock.Unlock()

	s.isMoving.Store(true)
	defer s.isMoving.Store(false)

	s.mu.Lock()
	var resp *SolveResponse
	var err error
	if origin != nil {
		resp, err = s.kin.MoveFrom(*origin, target, fractions)
	} else {
		resp, err = s.kin.MoveTo(target, fractions)
	}
	s.mu.Unlock()
	if resp == nil {
		return nil, err
	}
	if err != nil {
		var unreachable *TargetUnreachableError
		if errors.As(err, &unreachable) {
			s.logger.Warnf("target partially unreachable: %v", err)
		} else {
			return resp, err
		}
	}

	if s.controller != nil {
		steps := append(append([]WaypointReport(nil), resp.Intermediates...), resp.Final)
		for _, step := range steps {
			if ctx.Err() != nil {
				return resp, ctx.Err()
			}
			if err := s.controller.MoveToJointAngles(ctx, step.Angles, s.currentSpeed()); err != nil {
				return resp, fmt.Errorf("failed to move to waypoint: %w", err)
			}
			if !waitForSettle(ctx, waypointSettleTime) {
				return resp, ctx.Err()
			}
		}
	}

	return resp, err
}

func waitForSettle(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *ikArm) currentSpeed() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speedDegsPerSec
}

func (s *ikArm) MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error {
	s.moveLock.Lock()
	defer s.moveLock.Unlock()

	if len(positions) != len(jointOrder) {
		return fmt.Errorf("expected %d joint positions, got %d", len(jointOrder), len(positions))
	}

	s.isMoving.Store(true)
	defer s.isMoving.Store(false)

	angles := inputsToAngles(positions)

	s.mu.Lock()
	err := s.kin.SetJointAngles(angles)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to pose joints: %w", err)
	}

	if s.controller != nil {
		if err := s.controller.MoveToJointAngles(ctx, angles, s.currentSpeed()); err != nil {
			return fmt.Errorf("failed to move to joint positions: %w", err)
		}
	}
	return nil
}

func (s *ikArm) MoveThroughJointPositions(ctx context.Context, positions [][]referenceframe.Input, options *arm.MoveOptions, extra map[string]interface{}) error {
	for _, jointPositions := range positions {
		if err := s.MoveToJointPositions(ctx, jointPositions, extra); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !waitForSettle(ctx, waypointSettleTime) {
			return ctx.Err()
		}
	}
	return nil
}

func (s *ikArm) JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error) {
	if s.controller != nil {
		angles, err := s.controller.JointAngles(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read joint positions: %w", err)
		}
		return anglesToInputs(angles), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return anglesToInputs(s.kin.CurrentAngles()), nil
}

func (s *ikArm) Stop(ctx context.Context, extra map[string]interface{}) error {
	s.isMoving.Store(false)
	if s.controller == nil {
		return nil
	}
	return s.controller.Stop(ctx)
}

func (s *ikArm) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return s.model, nil
}

// Get3DModels returns mesh models for visualization. None ship with
// this arm, so the map is empty.
func (s *ikArm) Get3DModels(ctx context.Context, extra map[string]interface{}) (map[string]*commonpb.Mesh, error) {
	return map[string]*commonpb.Mesh{}, nil
}

func (s *ikArm) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return s.JointPositions(ctx, nil)
}

func (s *ikArm) GoToInputs(ctx context.Context, inputSteps ...[]referenceframe.Input) error {
	return s.MoveThroughJointPositions(ctx, inputSteps, nil, nil)
}

func (s *ikArm) IsMoving(ctx context.Context) (bool, error) {
	return s.isMoving.Load(), nil
}

func (s *ikArm) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	inputs, err := s.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	gif, err := s.model.Geometries(inputs)
	if err != nil {
		return nil, err
	}
	return gif.Geometries(), nil
}

func (s *ikArm) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "solve":
		return s.doSolve(ctx, cmd)

	case "reset_pose":
		s.mu.Lock()
		s.kin.Reset()
		s.mu.Unlock()
		return map[string]interface{}{"success": true}, nil

	case "set_torque":
		enable, ok := cmd["enable"].(bool)
		if !ok {
			return nil, fmt.Errorf("set_torque command requires 'enable' boolean parameter")
		}
		if s.controller == nil {
			return nil, errNoHardware
		}
		err := s.controller.SetTorqueEnable(ctx, enable)
		return map[string]interface{}{"success": err == nil}, err

	case "ping_servos":
		if s.controller == nil {
			return nil, errNoHardware
		}
		err := s.controller.Ping(ctx)
		return map[string]interface{}{"success": err == nil}, err

	case "set_motion_params":
		result := make(map[string]interface{})
		if speedVal, ok := cmd["speed_degs_per_sec"].(float64); ok {
			if speedVal < 0 {
				return nil, fmt.Errorf("speed_degs_per_sec must be non-negative, got %v", speedVal)
			}
			s.mu.Lock()
			s.speedDegsPerSec = speedVal
			s.mu.Unlock()
			result["speed_set"] = speedVal
		}
		return result, nil

	case "get_status":
		s.mu.RLock()
		angles := s.kin.CurrentAngles()
		effector := s.kin.Effector()
		s.mu.RUnlock()
		status := map[string]interface{}{
			"angles":   angles,
			"effector": []float64{effector.X, effector.Y, effector.Z},
			"hardware": s.controller != nil,
		}
		if s.cfg.Port != "" {
			refCount, active, summary := sharedRegistry.GetControllerStatus(s.cfg.Port)
			status["controller"] = map[string]interface{}{
				"ref_count": refCount,
				"active":    active,
				"summary":   summary,
			}
		}
		return status, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

var errNoHardware = errors.New("no hardware configured: arm is in solver-only mode")

// doSolve runs the full waypoint plan toward a Cartesian target given in
// centimeters and returns the wire-shaped result. With hardware attached
// the arm also executes the plan unless "move" is false.
func (s *ikArm) doSolve(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	target, err := parseVector(cmd["target"])
	if err != nil {
		return nil, fmt.Errorf("solve command requires 'target' [x, y, z]: %w", err)
	}

	var origin *r3.Vector
	if raw, ok := cmd["origin"]; ok && raw != nil {
		o, parseErr := parseVector(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("'origin' must be [x, y, z]: %w", parseErr)
		}
		origin = &o
	}

	var fractions []float64
	if raw, ok := cmd["fractions"].([]interface{}); ok {
		for _, f := range raw {
			v, ok := f.(float64)
			if !ok {
				return nil, fmt.Errorf("fractions must be numbers, got %T", f)
			}
			fractions = append(fractions, v)
		}
	} else if raw, ok := cmd["sample_count"].(float64); ok {
		n := int(raw)
		if n < 1 {
			return nil, fmt.Errorf("sample_count must be at least 1, got %v", raw)
		}
		fractions = FractionsForCount(n)
	}

	move := true
	if m, ok := cmd["move"].(bool); ok {
		move = m
	}

	var resp *SolveResponse
	if move {
		resp, err = s.planAndMove(ctx, origin, target, fractions)
	} else {
		s.moveLock.Lock()
		s.mu.Lock()
		if origin != nil {
			resp, err = s.kin.MoveFrom(*origin, target, fractions)
		} else {
			resp, err = s.kin.MoveTo(target, fractions)
		}
		s.mu.Unlock()
		s.moveLock.Unlock()
	}
	if resp == nil {
		return nil, err
	}

	out, mapErr := responseToMap(resp)
	if mapErr != nil {
		return nil, mapErr
	}
	var unreachable *TargetUnreachableError
	if errors.As(err, &unreachable) {
		out["unreachable_waypoint"] = unreachable.Waypoint
		out["unreachable_residual"] = unreachable.Residual
		return out, nil
	}
	return out, err
}

func parseVector(raw interface{}) (r3.Vector, error) {
	coords, ok := raw.([]interface{})
	if !ok || len(coords) != 3 {
		return r3.Vector{}, fmt.Errorf("expected [x, y, z] array, got %v", raw)
	}
	var out [3]float64
	for i, c := range coords {
		v, ok := c.(float64)
		if !ok {
			return r3.Vector{}, fmt.Errorf("coordinate %d must be a number, got %T", i, c)
		}
		out[i] = v
	}
	return r3.Vector{X: out[0], Y: out[1], Z: out[2]}, nil
}

// responseToMap converts the typed response through its JSON form so
// DoCommand returns plain maps.
func responseToMap(resp *SolveResponse) (map[string]interface{}, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal solve response: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to convert solve response: %w", err)
	}
	return out, nil
}

func (s *ikArm) Close(context.Context) error {
	s.logger.Info("Closing ik-arm")

	s.cancelFunc()

	if s.controller != nil {
		sharedRegistry.ReleaseController(s.cfg.Port)
		s.controller = nil
	}

	return nil
}
