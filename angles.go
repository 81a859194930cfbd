package roboarm

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// JointSpec names one human-meaningful joint angle recoverable from a
// solved chain. Bone is the first bone the joint drives; Axis is the
// joint's rotation axis expressed in the rest pose. Mechanical limits are
// data here, not constants: configurations with different limits for the
// same logical joint just carry different specs.
type JointSpec struct {
	Name   string    `json:"name"`
	Bone   int       `json:"bone"`
	Axis   r3.Vector `json:"axis"`
	MinDeg float64   `json:"min_deg"`
	MaxDeg float64   `json:"max_deg"`
}

// basis is an accumulated rotation held as the images of the world axes.
// Joints are decomposed sequentially: each extracted angle advances the
// basis, so every joint's zero reference is the rest direction carried
// through all preceding joint rotations.
type basis struct {
	x, y, z r3.Vector
}

func newBasis() basis {
	return basis{x: xAxis, y: yAxis, z: zAxis}
}

func (b basis) apply(v r3.Vector) r3.Vector {
	return b.x.Mul(v.X).Add(b.y.Mul(v.Y)).Add(b.z.Mul(v.Z))
}

func (b basis) rotated(axis r3.Vector, angle float64) basis {
	return basis{
		x: rotateAbout(b.x, axis, angle),
		y: rotateAbout(b.y, axis, angle),
		z: rotateAbout(b.z, axis, angle),
	}
}

// ExtractAngles recovers named joint angles in degrees from a solved
// chain. The angle convention is the signed angle (right-hand rule)
// between the projections of the zero reference and the solved bone
// direction onto the plane orthogonal to the joint axis; PoseFromAngles
// applies the same convention forward, so the two round-trip.
//
// Reported angles are clamped to the joint's mechanical limits; the clamp
// is a safety net over floating-point residue, independent of the
// geometric constraint clamp applied during solving. Joints must be
// ordered by Bone index.
func ExtractAngles(chain *Chain, joints []JointSpec) map[string]float64 {
	out := make(map[string]float64, len(joints))
	frame := newBasis()
	for _, joint := range joints {
		if joint.Bone < 0 || joint.Bone >= chain.Len() {
			continue
		}
		bone := chain.Bone(joint.Bone)
		axis := safeNormalize(frame.apply(joint.Axis), zAxis)
		zero := projectOnPlane(frame.apply(bone.RestDirection()), axis)
		dir := projectOnPlane(bone.Direction(), axis)

		angle := 0.0
		if zero.Norm2() >= vecEpsilon*vecEpsilon && dir.Norm2() >= vecEpsilon*vecEpsilon {
			angle = signedAngle(zero.Normalize(), dir.Normalize(), axis)
		}

		out[joint.Name] = clampFloat(radToDeg(angle), joint.MinDeg, joint.MaxDeg)
		// The frame advances by the raw angle so later joints see the
		// true accumulated orientation even when the report clamps.
		frame = frame.rotated(axis, angle)
	}
	return out
}

// PoseFromAngles builds a chain posed at the given named joint angles
// (degrees) by running the joint decomposition forward: each joint
// rotation is applied about its axis carried through the preceding
// rotations, and every bone from the joint's index on follows. Joints
// must be ordered by Bone index. Unnamed angles default to zero.
func PoseFromAngles(anchor r3.Vector, segments []Segment, joints []JointSpec, angles map[string]float64) (*Chain, error) {
	chain, err := NewChain(anchor, segments)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(joints); i++ {
		if joints[i].Bone < joints[i-1].Bone {
			return nil, errors.New("joint specs must be ordered by bone index")
		}
	}

	frame := newBasis()
	cursor := anchor
	next := 0
	for i := 0; i < chain.Len(); i++ {
		for next < len(joints) && joints[next].Bone == i {
			joint := joints[next]
			axis := safeNormalize(frame.apply(joint.Axis), zAxis)
			frame = frame.rotated(axis, degToRad(angles[joint.Name]))
			next++
		}
		bone := chain.Bone(i)
		dir := frame.apply(bone.RestDirection())
		bone.Start = cursor
		bone.End = cursor.Add(dir.Mul(bone.Length()))
		cursor = bone.End
	}
	return chain, nil
}
