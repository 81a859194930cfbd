package roboarm

import (
	"math"

	"github.com/golang/geo/r3"
)

// Geometry helpers shared by the constraint evaluator, solver and angle
// extractor. All directions are unit r3.Vectors in the world frame unless
// a local hinge frame is explicitly constructed.

const vecEpsilon = 1e-9

// yAxis is the fallback direction for degenerate normalizations. The arm
// is modeled Y-up, so "straight up" is the least surprising repair.
var (
	xAxis = r3.Vector{X: 1}
	yAxis = r3.Vector{Y: 1}
	zAxis = r3.Vector{Z: 1}
)

// safeNormalize returns v scaled to unit length, or fallback when v is too
// short to carry a direction. Length-zero inputs must never produce NaN.
func safeNormalize(v, fallback r3.Vector) r3.Vector {
	if v.Norm2() < vecEpsilon*vecEpsilon {
		return fallback
	}
	return v.Normalize()
}

// rotateAbout rotates v around the unit axis by angle radians using the
// Rodrigues formula. Positive angles follow the right-hand rule.
func rotateAbout(v, axis r3.Vector, angle float64) r3.Vector {
	sin, cos := math.Sincos(angle)
	return v.Mul(cos).
		Add(axis.Cross(v).Mul(sin)).
		Add(axis.Mul(axis.Dot(v) * (1 - cos)))
}

// projectOnPlane returns the component of v orthogonal to the unit normal.
func projectOnPlane(v, normal r3.Vector) r3.Vector {
	return v.Sub(normal.Mul(v.Dot(normal)))
}

// signedAngle reports the angle in radians from a to b measured around the
// unit axis, in (-pi, pi], right-hand rule. This is the single angle
// convention used throughout the package; extraction and forward
// kinematics both go through it so they cannot drift apart.
func signedAngle(a, b, axis r3.Vector) float64 {
	return math.Atan2(a.Cross(b).Dot(axis), a.Dot(b))
}

// rotationFromTo returns axis and angle of the shortest rotation taking
// unit vector from onto unit vector to. Anti-parallel inputs rotate pi
// around an arbitrary perpendicular so the result is always well defined.
func rotationFromTo(from, to r3.Vector) (r3.Vector, float64) {
	cross := from.Cross(to)
	dot := from.Dot(to)
	if cross.Norm2() < vecEpsilon*vecEpsilon {
		if dot >= 0 {
			return yAxis, 0
		}
		return anyPerpendicular(from), math.Pi
	}
	angle := math.Atan2(cross.Norm(), dot)
	return cross.Normalize(), angle
}

// anyPerpendicular picks a unit vector orthogonal to the unit vector v.
func anyPerpendicular(v r3.Vector) r3.Vector {
	p := v.Cross(xAxis)
	if p.Norm2() < vecEpsilon*vecEpsilon {
		p = v.Cross(yAxis)
	}
	return p.Normalize()
}

// lerp interpolates from a to b at fraction t.
func lerp(a, b r3.Vector, t float64) r3.Vector {
	return a.Add(b.Sub(a).Mul(t))
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }

func radToDeg(r float64) float64 { return r * 180 / math.Pi }
