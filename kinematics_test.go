package roboarm

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"go.viam.com/rdk/logging"
)

func testKinematics(t *testing.T) *ArmKinematics {
	t.Helper()
	logger := logging.NewTestLogger(t)
	solver := NewSolver(100, 0.05, logger)
	kin, err := NewArmKinematics(ArmGeometry{}, r3.Vector{Y: -1}, solver, PlannerConfig{}, logger)
	assert.NoError(t, err)
	return kin
}

func TestNewArmKinematicsDefaults(t *testing.T) {
	kin := testKinematics(t)

	geo := kin.Geometry()
	assert.Equal(t, DefaultArmGeometry(), geo)
	assert.Equal(t, 5, kin.Chain().Len())
	assertVecInDelta(t, r3.Vector{Y: 22}, kin.Effector(), 1e-9)

	angles := kin.CurrentAngles()
	assert.InDelta(t, 0, angles[JointBaseYaw], 1e-9)
	assert.InDelta(t, 0, angles[JointShoulderPitch], 1e-9)
	assert.InDelta(t, 0, angles[JointForearmPitch], 1e-9)
}

func TestNewArmKinematicsRejectsBadGeometry(t *testing.T) {
	_, err := NewArmKinematics(ArmGeometry{BaseLength: -1}, r3.Vector{}, nil, PlannerConfig{}, nil)
	assert.Error(t, err)
}

func TestMoveToReachableTarget(t *testing.T) {
	kin := testKinematics(t)

	target := r3.Vector{X: -10, Y: 10}
	resp, err := kin.MoveTo(target, nil)
	assert.NoError(t, err)
	assert.NotNil(t, resp)

	assert.Len(t, resp.Intermediates, len(DefaultFractions))
	assert.Len(t, resp.Bones, 5)
	assert.Equal(t, vec3(target), resp.Final.Position)
	assert.Less(t, resp.Final.Residual, 0.5)
	assertVecInDelta(t, target, kin.Effector(), 0.5)

	// top level mirrors the final waypoint
	assert.Equal(t, resp.Final.Angles, resp.Angles)
	assert.Equal(t, resp.Final.Effector, resp.Effector)
}

func TestMoveToOrientsWorkPlane(t *testing.T) {
	kin := testKinematics(t)

	// target behind the arm along -Z: the base must yaw to -90
	target := r3.Vector{Y: 10, Z: -8}
	resp, err := kin.MoveTo(target, nil)
	assert.NoError(t, err)
	assert.Less(t, resp.Final.Residual, 0.5)

	assert.InDelta(t, -90, kin.yawDeg, 1e-6)
	// every bone stays in the yawed vertical plane x=0
	for i := 0; i < kin.Chain().Len(); i++ {
		assert.InDelta(t, 0, kin.Chain().Bone(i).End.X, 1e-3, "bone %d", i)
	}
}

func TestMoveToOnYawAxisKeepsPreviousPlane(t *testing.T) {
	kin := testKinematics(t)

	_, err := kin.MoveTo(r3.Vector{Y: 10, Z: -8}, nil)
	assert.NoError(t, err)
	assert.InDelta(t, -90, kin.yawDeg, 1e-6)

	// a target on the vertical axis has no defined yaw; the plane stays
	resp, err := kin.MoveTo(r3.Vector{Y: 15}, nil)
	assert.NoError(t, err)
	assert.Less(t, resp.Final.Residual, 0.5)
	assert.InDelta(t, -90, kin.yawDeg, 1e-6)
}

func TestMoveToWithExplicitFractions(t *testing.T) {
	kin := testKinematics(t)

	resp, err := kin.MoveTo(r3.Vector{X: -10, Y: 10}, []float64{0.5})
	assert.NoError(t, err)
	assert.Len(t, resp.Intermediates, 1)
}

func TestMoveFromExplicitOrigin(t *testing.T) {
	kin := testKinematics(t)

	origin := r3.Vector{Y: 15}
	target := r3.Vector{X: -10, Y: 10}
	resp, err := kin.MoveFrom(origin, target, []float64{0.5})
	assert.NoError(t, err)
	assert.Len(t, resp.Intermediates, 1)

	// waypoints interpolate from the supplied origin, not the rest
	// effector at (0, 22, 0)
	mid := lerp(origin, target, 0.5)
	assert.InDelta(t, mid.X, resp.Intermediates[0].Position[0], 1e-9)
	assert.InDelta(t, mid.Y, resp.Intermediates[0].Position[1], 1e-9)
	assert.InDelta(t, mid.Z, resp.Intermediates[0].Position[2], 1e-9)
}

func TestMoveToUnreachableBestEffort(t *testing.T) {
	logger := logging.NewTestLogger(t)
	solver := NewSolver(100, 0.05, logger)
	kin, err := NewArmKinematics(ArmGeometry{}, r3.Vector{Y: -1}, solver,
		PlannerConfig{HardFailureDistance: 1.0}, logger)
	assert.NoError(t, err)

	resp, err := kin.MoveTo(r3.Vector{X: -40, Y: 10}, nil)

	var unreachable *TargetUnreachableError
	assert.ErrorAs(t, err, &unreachable)
	// the response still carries every best-effort pose
	assert.NotNil(t, resp)
	assert.Len(t, resp.Intermediates, len(DefaultFractions))
	assert.Greater(t, resp.Final.Residual, 1.0)
}

func TestSetJointAngles(t *testing.T) {
	kin := testKinematics(t)

	angles := map[string]float64{
		JointBaseYaw:       30,
		JointShoulderPitch: 40,
		JointForearmPitch:  -50,
	}
	assert.NoError(t, kin.SetJointAngles(angles))

	current := kin.CurrentAngles()
	for name, want := range angles {
		assert.InDelta(t, want, current[name], 1e-6, "joint %s", name)
	}

	expected, err := PoseFromAngles(r3.Vector{Y: -1}, DefaultArmGeometry().segments(),
		DefaultArmGeometry().joints(), angles)
	assert.NoError(t, err)
	assertVecInDelta(t, expected.Effector(), kin.Effector(), 1e-9)
}

func TestSetJointAnglesClampsToLimits(t *testing.T) {
	kin := testKinematics(t)

	assert.NoError(t, kin.SetJointAngles(map[string]float64{
		JointShoulderPitch: 200,
	}))
	assert.InDelta(t, 90, kin.CurrentAngles()[JointShoulderPitch], 1e-6)
}

func TestReset(t *testing.T) {
	kin := testKinematics(t)

	assert.NoError(t, kin.SetJointAngles(map[string]float64{
		JointBaseYaw:       45,
		JointShoulderPitch: 30,
	}))

	kin.Reset()
	assertVecInDelta(t, r3.Vector{Y: 22}, kin.Effector(), 1e-9)
	assert.InDelta(t, 0, kin.CurrentAngles()[JointBaseYaw], 1e-9)
}

func TestSolveKeepsBracketsRigid(t *testing.T) {
	kin := testKinematics(t)

	_, err := kin.MoveTo(r3.Vector{X: -8, Y: 12, Z: 3}, nil)
	assert.NoError(t, err)

	chain := kin.Chain()
	// the two bracket links stay orthogonal to the links they join and
	// anti-parallel to each other
	shoulder := chain.Bone(1).Direction()
	ankle2 := chain.Bone(3).Direction()
	assert.InDelta(t, -1, shoulder.Dot(ankle2), 1e-3)

	ankle := chain.Bone(2).Direction()
	assert.InDelta(t, 0, ankle.Dot(ankle2), 1e-3)
}
