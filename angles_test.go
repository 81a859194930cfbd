package roboarm

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

func TestAnglesRoundTrip(t *testing.T) {
	geo := DefaultArmGeometry()
	anchor := r3.Vector{Y: -1}
	joints := geo.joints()

	cases := []map[string]float64{
		{JointBaseYaw: 0, JointShoulderPitch: 0, JointForearmPitch: 0},
		{JointBaseYaw: 30, JointShoulderPitch: 40, JointForearmPitch: -50},
		{JointBaseYaw: -120, JointShoulderPitch: -60, JointForearmPitch: 100},
		{JointBaseYaw: 170, JointShoulderPitch: 15, JointForearmPitch: 0},
	}

	for _, angles := range cases {
		chain, err := PoseFromAngles(anchor, geo.segments(), joints, angles)
		assert.NoError(t, err)

		recovered := ExtractAngles(chain, joints)
		for name, want := range angles {
			assert.InDelta(t, want, recovered[name], 1e-6, "joint %s", name)
		}
	}
}

func TestPoseFromAnglesRestPose(t *testing.T) {
	geo := DefaultArmGeometry()
	anchor := r3.Vector{Y: -1}

	chain, err := PoseFromAngles(anchor, geo.segments(), geo.joints(), nil)
	assert.NoError(t, err)
	assertVecInDelta(t, r3.Vector{Y: 22}, chain.Effector(), 1e-9)
}

func TestPoseFromAnglesYawOnly(t *testing.T) {
	geo := DefaultArmGeometry()
	anchor := r3.Vector{Y: -1}

	chain, err := PoseFromAngles(anchor, geo.segments(), geo.joints(),
		map[string]float64{JointBaseYaw: 90})
	assert.NoError(t, err)

	// yaw alone spins the arm about the vertical axis; height is unchanged
	effector := chain.Effector()
	assert.InDelta(t, 22, effector.Y, 1e-9)
	// the shoulder points along -X at rest; +90 yaw about +Y carries it to +Z
	assertVecInDelta(t, zAxis, chain.Bone(1).Direction(), 1e-9)
}

func TestPoseFromAnglesRejectsUnorderedJoints(t *testing.T) {
	geo := DefaultArmGeometry()
	joints := geo.joints()
	joints[0], joints[2] = joints[2], joints[0]

	_, err := PoseFromAngles(r3.Vector{}, geo.segments(), joints, nil)
	assert.Error(t, err)
}

func TestExtractAnglesClampsToLimits(t *testing.T) {
	segs := []Segment{
		{Name: "arm", Direction: yAxis, Length: 10, Constraint: NewUnconstrained()},
	}
	joints := []JointSpec{
		{Name: "pitch", Bone: 0, Axis: zAxis, MinDeg: -45, MaxDeg: 45},
	}

	chain, err := NewChain(r3.Vector{}, segs)
	assert.NoError(t, err)

	// pose the bone 90 degrees over, past the reporting limit
	bone := chain.Bone(0)
	bone.End = bone.Start.Add(xAxis.Mul(-10))

	angles := ExtractAngles(chain, joints)
	assert.InDelta(t, 45, angles["pitch"], 1e-9)
}

func TestExtractAnglesSkipsOutOfRangeBones(t *testing.T) {
	chain, err := NewChain(r3.Vector{}, twoBoneSegments())
	assert.NoError(t, err)

	angles := ExtractAngles(chain, []JointSpec{
		{Name: "ghost", Bone: 7, Axis: zAxis, MinDeg: -180, MaxDeg: 180},
	})
	_, present := angles["ghost"]
	assert.False(t, present)
}
