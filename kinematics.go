package roboarm

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Joint names reported by angle extraction and accepted by joint-space
// commands. They double as the wire keys of solve responses.
const (
	JointBaseYaw       = "baseYawDeg"
	JointShoulderPitch = "shoulderPitchDeg"
	JointForearmPitch  = "forearmPitchDeg"
)

// ArmGeometry holds the segment lengths and joint travel of the arm. The
// two bracket links between shoulder and forearm are rigid offsets of the
// physical frame; they carry no joint of their own.
type ArmGeometry struct {
	BaseLength     float64 `json:"base_length,omitempty"`
	ShoulderLength float64 `json:"shoulder_length,omitempty"`
	AnkleLength    float64 `json:"ankle_length,omitempty"`
	Ankle2Length   float64 `json:"ankle2_length,omitempty"`
	ForearmLength  float64 `json:"forearm_length,omitempty"`

	ShoulderLimitDeg float64 `json:"shoulder_limit_deg,omitempty"`
	ForearmLimitDeg  float64 `json:"forearm_limit_deg,omitempty"`
}

// DefaultArmGeometry returns the stock arm dimensions in centimeters.
func DefaultArmGeometry() ArmGeometry {
	return ArmGeometry{
		BaseLength:       3,
		ShoulderLength:   4,
		AnkleLength:      10,
		Ankle2Length:     4,
		ForearmLength:    10,
		ShoulderLimitDeg: 90,
		ForearmLimitDeg:  135,
	}
}

func (g ArmGeometry) validate() error {
	for _, l := range []struct {
		name  string
		value float64
	}{
		{"base_length", g.BaseLength},
		{"shoulder_length", g.ShoulderLength},
		{"ankle_length", g.AnkleLength},
		{"ankle2_length", g.Ankle2Length},
		{"forearm_length", g.ForearmLength},
	} {
		if l.value <= 0 {
			return errors.Errorf("%s must be positive, got %v", l.name, l.value)
		}
	}
	if g.ShoulderLimitDeg <= 0 || g.ShoulderLimitDeg > 180 {
		return errors.Errorf("shoulder_limit_deg must be in (0, 180], got %v", g.ShoulderLimitDeg)
	}
	if g.ForearmLimitDeg <= 0 || g.ForearmLimitDeg > 180 {
		return errors.Errorf("forearm_limit_deg must be in (0, 180], got %v", g.ForearmLimitDeg)
	}
	return nil
}

// segments builds the canonical rest-pose chain: base up, the shoulder
// link out along -X, the two bracket offsets and the forearm. Hinge axes
// are expressed at yaw zero; the work-plane orientation rotates them
// toward each solve target.
func (g ArmGeometry) segments() []Segment {
	negX := xAxis.Mul(-1)
	return []Segment{
		{Name: "base", Direction: yAxis, Length: g.BaseLength,
			Constraint: NewRotorCone(yAxis, 0)},
		{Name: "shoulder", Direction: negX, Length: g.ShoulderLength,
			Constraint: NewHinge(zAxis, g.ShoulderLimitDeg, g.ShoulderLimitDeg, negX, FrameGlobal)},
		{Name: "ankle", Direction: yAxis, Length: g.AnkleLength,
			Constraint: NewHinge(zAxis, 0, 0, yAxis, FrameLocal)},
		{Name: "ankle2", Direction: xAxis, Length: g.Ankle2Length,
			Constraint: NewHinge(zAxis, 0, 0, xAxis, FrameLocal)},
		{Name: "forearm", Direction: yAxis, Length: g.ForearmLength,
			Constraint: NewHinge(zAxis, g.ForearmLimitDeg, g.ForearmLimitDeg, yAxis, FrameLocal)},
	}
}

// joints names the three driven joints of the arm. The bracket links have
// none; yaw and shoulder pitch both act on the shoulder bone and are
// decomposed sequentially.
func (g ArmGeometry) joints() []JointSpec {
	return []JointSpec{
		{Name: JointBaseYaw, Bone: 1, Axis: yAxis, MinDeg: -180, MaxDeg: 180},
		{Name: JointShoulderPitch, Bone: 1, Axis: zAxis, MinDeg: -g.ShoulderLimitDeg, MaxDeg: g.ShoulderLimitDeg},
		{Name: JointForearmPitch, Bone: 4, Axis: zAxis, MinDeg: -g.ForearmLimitDeg, MaxDeg: g.ForearmLimitDeg},
	}
}

// BoneState is the wire form of one solved bone.
type BoneState struct {
	Name  string     `json:"name"`
	Start [3]float64 `json:"start"`
	End   [3]float64 `json:"end"`
}

// WaypointReport is the wire form of one solved waypoint.
type WaypointReport struct {
	Position   [3]float64         `json:"position"`
	Effector   [3]float64         `json:"effector"`
	Angles     map[string]float64 `json:"angles"`
	Bones      []BoneState        `json:"bones"`
	Status     string             `json:"status"`
	Iterations int                `json:"iterations"`
	Residual   float64            `json:"residual"`
}

// SolveResponse is the wire form of a full move plan. The top level
// mirrors the final waypoint so simple callers can ignore intermediates.
type SolveResponse struct {
	Intermediates []WaypointReport   `json:"intermediates"`
	Final         WaypointReport     `json:"final"`
	Angles        map[string]float64 `json:"angles"`
	Bones         []BoneState        `json:"bones"`
	Effector      [3]float64         `json:"effector"`
}

func vec3(v r3.Vector) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

func waypointReport(pose WaypointPose) WaypointReport {
	bones := make([]BoneState, len(pose.Bones))
	for i, b := range pose.Bones {
		bones[i] = BoneState{Name: b.Name, Start: vec3(b.Start), End: vec3(b.End)}
	}
	return WaypointReport{
		Position:   vec3(pose.Position),
		Effector:   vec3(pose.Effector),
		Angles:     pose.Angles,
		Bones:      bones,
		Status:     pose.Result.Status.String(),
		Iterations: pose.Result.Iterations,
		Residual:   pose.Result.Residual,
	}
}

// ArmKinematics owns the solver-side state of one arm: its chain, the
// planner and the work-plane yaw applied before each solve. It is not
// safe for concurrent use; the component layer serializes access.
type ArmKinematics struct {
	geo    ArmGeometry
	anchor r3.Vector
	segs   []Segment
	joints []JointSpec

	chain   *Chain
	planner *Planner
	yawDeg  float64
	logger  logging.Logger
}

// NewArmKinematics builds the arm at its rest pose. Zero-valued geometry
// fields take the stock dimensions.
func NewArmKinematics(geo ArmGeometry, anchor r3.Vector, solver *Solver, cfg PlannerConfig, logger logging.Logger) (*ArmKinematics, error) {
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
		return nil, errors.Wrap(err, "invalid arm geometry")
	}
	if logger == nil {
		logger = logging.NewLogger("kinematics")
	}
	if solver == nil {
		solver = NewSolver(0, 0, logger)
	}

	segs := geo.segments()
	joints := geo.joints()
	chain, err := NewChain(anchor, segs)
	if err != nil {
		return nil, err
	}

	k := &ArmKinematics{
		geo:    geo,
		anchor: anchor,
		segs:   segs,
		joints: joints,
		chain:  chain,
		logger: logger,
	}
	k.planner = NewPlanner(solver, joints, cfg, logger)
	k.planner.PreSolve = k.orientToward
	return k, nil
}

// Geometry returns the resolved arm dimensions.
func (k *ArmKinematics) Geometry() ArmGeometry { return k.geo }

// Joints returns the driven joint specs in bone order.
func (k *ArmKinematics) Joints() []JointSpec {
	return append([]JointSpec(nil), k.joints...)
}

// Chain exposes the live chain for inspection. Callers must not solve it
// directly; mutation goes through MoveTo and SetJointAngles.
func (k *ArmKinematics) Chain() *Chain { return k.chain }

// Effector returns the current effector position.
func (k *ArmKinematics) Effector() r3.Vector { return k.chain.Effector() }

// CurrentAngles reports the joint angles of the current pose in degrees.
func (k *ArmKinematics) CurrentAngles() map[string]float64 {
	return ExtractAngles(k.chain, k.joints)
}

// orientToward turns the work plane about the vertical axis so the
// shoulder hinge plane contains the waypoint. A waypoint directly above
// the base leaves the previous plane in place.
func (k *ArmKinematics) orientToward(chain *Chain, waypoint r3.Vector) {
	horiz := waypoint.Sub(chain.Anchor())
	horiz.Y = 0
	if horiz.Norm2() < vecEpsilon*vecEpsilon {
		k.logger.Debugf("waypoint (%.3f, %.3f, %.3f) is on the yaw axis, keeping yaw %.2f deg",
			waypoint.X, waypoint.Y, waypoint.Z, k.yawDeg)
		return
	}
	k.applyYaw(chain, signedAngle(xAxis.Mul(-1), horiz.Normalize(), yAxis))
}

// applyYaw re-expresses hinge frames and work-frame rest directions at
// the given yaw about +Y. The chain's bone positions are untouched; only
// the planes the next solve clamps against move.
func (k *ArmKinematics) applyYaw(chain *Chain, yaw float64) {
	k.yawDeg = radToDeg(yaw)
	for i := range k.segs {
		bone := chain.Bone(i)
		c := k.segs[i].Constraint
		switch c.Kind {
		case Hinge, FreeHinge:
			c.Axis = rotateAbout(c.Axis, yAxis, yaw)
			c.ReferenceAxis = rotateAbout(c.ReferenceAxis, yAxis, yaw)
		}
		bone.Constraint = c
		bone.work = rotateAbout(safeNormalize(k.segs[i].Direction, yAxis), yAxis, yaw)
	}
}

// MoveTo plans and applies a move from the current effector position to
// target, returning the wire-shaped plan. The chain is left at the last
// solved waypoint, so the next move warm-starts from it. On an
// unreachable waypoint the response still carries every best-effort
// pose alongside the *TargetUnreachableError.
func (k *ArmKinematics) MoveTo(target r3.Vector, fractions []float64) (*SolveResponse, error) {
	return k.MoveFrom(k.chain.Effector(), target, fractions)
}

// MoveFrom plans a move like MoveTo but interpolates waypoints from an
// explicit origin instead of the chain's current effector. The solves
// still warm-start from the chain's current pose.
func (k *ArmKinematics) MoveFrom(origin, target r3.Vector, fractions []float64) (*SolveResponse, error) {
	poses, err := k.planner.PlanMoveWith(k.chain, origin, target, fractions)
	if len(poses) == 0 {
		return nil, err
	}

	resp := &SolveResponse{
		Intermediates: make([]WaypointReport, 0, len(poses)-1),
	}
	for _, pose := range poses[:len(poses)-1] {
		resp.Intermediates = append(resp.Intermediates, waypointReport(pose))
	}
	resp.Final = waypointReport(poses[len(poses)-1])
	resp.Angles = resp.Final.Angles
	resp.Bones = resp.Final.Bones
	resp.Effector = resp.Final.Effector
	return resp, err
}

// SetJointAngles poses the chain directly from named joint angles in
// degrees, bypassing the solver. Angles outside the joint limits are
// clamped. The work plane follows the commanded yaw.
func (k *ArmKinematics) SetJointAngles(angles map[string]float64) error {
	clamped := make(map[string]float64, len(angles))
	for _, joint := range k.joints {
		clamped[joint.Name] = clampFloat(angles[joint.Name], joint.MinDeg, joint.MaxDeg)
	}
	posed, err := PoseFromAngles(k.anchor, k.segs, k.joints, clamped)
	if err != nil {
		return err
	}
	k.chain.SetPose(posed)
	k.applyYaw(k.chain, degToRad(clamped[JointBaseYaw]))
	return nil
}

// Reset returns the chain to its rest pose at yaw zero.
func (k *ArmKinematics) Reset() {
	rest, err := NewChain(k.anchor, k.segs)
	if err != nil {
		return
	}
	k.chain.SetPose(rest)
	k.applyYaw(k.chain, 0)
}
