package roboarm

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// ConstraintKind selects the constraint variant attached to a bone.
type ConstraintKind int

const (
	// Unconstrained places no restriction on the bone direction.
	Unconstrained ConstraintKind = iota
	// RotorCone keeps the direction within a cone around an axis.
	RotorCone
	// Hinge keeps the direction in the plane orthogonal to an axis,
	// within signed angular limits from a reference direction.
	Hinge
	// FreeHinge keeps the direction in the plane orthogonal to an axis
	// with unlimited rotation inside that plane.
	FreeHinge
)

func (k ConstraintKind) String() string {
	switch k {
	case Unconstrained:
		return "unconstrained"
	case RotorCone:
		return "rotor_cone"
	case Hinge:
		return "hinge"
	case FreeHinge:
		return "free_hinge"
	default:
		return fmt.Sprintf("constraint(%d)", int(k))
	}
}

// HingeFrame selects the frame hinge axes are expressed in.
type HingeFrame int

const (
	// FrameGlobal interprets Axis/ReferenceAxis as world directions.
	FrameGlobal HingeFrame = iota
	// FrameLocal interprets them relative to the previous bone: they are
	// carried into world space by the rotation taking the previous
	// bone's rest direction onto its current direction.
	FrameLocal
)

// Constraint is a tagged variant over the four joint restriction kinds.
// A constraint only ever changes a bone's direction, never its length.
type Constraint struct {
	Kind ConstraintKind `json:"kind"`

	// Axis is the cone axis (RotorCone) or hinge rotation axis.
	Axis r3.Vector `json:"axis,omitempty"`

	// HalfAngleDeg is the cone half-angle for RotorCone.
	HalfAngleDeg float64 `json:"half_angle_deg,omitempty"`

	// Hinge limits, measured from ReferenceAxis around Axis.
	ClockwiseDeg        float64 `json:"clockwise_deg,omitempty"`
	CounterClockwiseDeg float64 `json:"counter_clockwise_deg,omitempty"`

	// ReferenceAxis is the hinge zero direction, in-plane.
	ReferenceAxis r3.Vector `json:"reference_axis,omitempty"`

	Frame HingeFrame `json:"frame,omitempty"`
}

// NewUnconstrained returns a constraint that accepts any direction.
func NewUnconstrained() Constraint {
	return Constraint{Kind: Unconstrained}
}

// NewRotorCone constrains directions to a cone of halfAngleDeg around axis.
func NewRotorCone(axis r3.Vector, halfAngleDeg float64) Constraint {
	return Constraint{Kind: RotorCone, Axis: axis, HalfAngleDeg: halfAngleDeg}
}

// NewHinge constrains directions to the plane orthogonal to axis, between
// -clockwiseDeg and +counterClockwiseDeg from referenceAxis.
func NewHinge(axis r3.Vector, clockwiseDeg, counterClockwiseDeg float64, referenceAxis r3.Vector, frame HingeFrame) Constraint {
	return Constraint{
		Kind:                Hinge,
		Axis:                axis,
		ClockwiseDeg:        clockwiseDeg,
		CounterClockwiseDeg: counterClockwiseDeg,
		ReferenceAxis:       referenceAxis,
		Frame:               frame,
	}
}

// NewFreeHinge constrains directions to the plane orthogonal to axis.
func NewFreeHinge(axis r3.Vector) Constraint {
	return Constraint{Kind: FreeHinge, Axis: axis}
}

// validate rejects constraints whose axes cannot define a cone or plane.
func (c Constraint) validate() error {
	switch c.Kind {
	case Unconstrained:
		return nil
	case RotorCone:
		if c.Axis.Norm2() < vecEpsilon*vecEpsilon {
			return fmt.Errorf("rotor cone axis is undefined")
		}
		if c.HalfAngleDeg < 0 || c.HalfAngleDeg > 180 {
			return fmt.Errorf("rotor cone half-angle %.2f outside [0, 180]", c.HalfAngleDeg)
		}
		return nil
	case Hinge, FreeHinge:
		if c.Axis.Norm2() < vecEpsilon*vecEpsilon {
			return fmt.Errorf("hinge axis is undefined")
		}
		if c.Kind == Hinge {
			if c.ReferenceAxis.Norm2() < vecEpsilon*vecEpsilon {
				return fmt.Errorf("hinge reference axis is undefined")
			}
			if c.ClockwiseDeg < 0 || c.CounterClockwiseDeg < 0 {
				return fmt.Errorf("hinge limits must be non-negative, got cw=%.2f ccw=%.2f",
					c.ClockwiseDeg, c.CounterClockwiseDeg)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown constraint kind %d", int(c.Kind))
	}
}

// worldAxes resolves Axis/ReferenceAxis into the world frame. For local
// hinges the previous bone supplies the frame: the rotation that carried
// its rest direction onto its current direction carries the axes too.
func (c Constraint) worldAxes(prev *Bone) (axis, ref r3.Vector) {
	axis = safeNormalize(c.Axis, zAxis)
	ref = safeNormalize(c.ReferenceAxis, yAxis)
	if c.Frame == FrameLocal && prev != nil {
		rotAxis, angle := rotationFromTo(prev.work, prev.Direction())
		if angle != 0 {
			axis = rotateAbout(axis, rotAxis, angle)
			ref = rotateAbout(ref, rotAxis, angle)
		}
	}
	return axis, ref
}

// Repair clamps a proposed bone direction to the nearest direction the
// constraint permits. prev is the previous bone in the chain (nil for the
// base bone) and is consulted only by local-frame hinges. The returned
// bool reports that a degenerate geometry fallback was taken; callers
// count these for diagnostics, they are never errors.
func (c Constraint) Repair(proposed r3.Vector, prev *Bone) (r3.Vector, bool) {
	dir := safeNormalize(proposed, yAxis)

	switch c.Kind {
	case Unconstrained:
		return dir, false

	case RotorCone:
		axis := safeNormalize(c.Axis, yAxis)
		half := degToRad(c.HalfAngleDeg)
		corr := dir.Cross(axis)
		if corr.Norm2() < vecEpsilon*vecEpsilon {
			if dir.Dot(axis) > 0 {
				return axis, false
			}
			// Anti-parallel to the axis: azimuth is undefined, land on
			// the cone surface at an arbitrary azimuth.
			return rotateAbout(axis, anyPerpendicular(axis), half), true
		}
		angle := math.Acos(clampFloat(dir.Dot(axis), -1, 1))
		if angle <= half {
			return dir, false
		}
		// Rotate back onto the cone surface, shortest way, azimuth kept:
		// corr = dir x axis, so a positive rotation about it tilts dir
		// toward the axis.
		return rotateAbout(dir, corr.Normalize(), angle-half), false

	case Hinge, FreeHinge:
		axis, ref := c.worldAxes(prev)
		ref = safeNormalize(projectOnPlane(ref, axis), anyPerpendicular(axis))
		planar := projectOnPlane(dir, axis)
		if planar.Norm2() < vecEpsilon*vecEpsilon {
			// Direction sits on the hinge axis: the in-plane angle is
			// undefined, fall back to the zero reference.
			return ref, true
		}
		planar = planar.Normalize()
		if c.Kind == FreeHinge {
			return planar, false
		}
		angle := signedAngle(ref, planar, axis)
		clamped := clampFloat(angle, -degToRad(c.ClockwiseDeg), degToRad(c.CounterClockwiseDeg))
		if clamped == angle {
			return planar, false
		}
		return rotateAbout(ref, axis, clamped), false
	}

	return dir, false
}
