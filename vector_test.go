package roboarm

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

func assertVecInDelta(t *testing.T, expected, actual r3.Vector, delta float64) {
	t.Helper()
	assert.InDelta(t, expected.X, actual.X, delta, "X component")
	assert.InDelta(t, expected.Y, actual.Y, delta, "Y component")
	assert.InDelta(t, expected.Z, actual.Z, delta, "Z component")
}

func TestSafeNormalize(t *testing.T) {
	t.Run("normalizes regular vectors", func(t *testing.T) {
		v := safeNormalize(r3.Vector{X: 3, Y: 4}, yAxis)
		assertVecInDelta(t, r3.Vector{X: 0.6, Y: 0.8}, v, 1e-12)
	})

	t.Run("falls back on zero vectors", func(t *testing.T) {
		v := safeNormalize(r3.Vector{}, yAxis)
		assertVecInDelta(t, yAxis, v, 1e-12)
	})
}

func TestRotateAbout(t *testing.T) {
	t.Run("quarter turn about Z", func(t *testing.T) {
		v := rotateAbout(xAxis, zAxis, math.Pi/2)
		assertVecInDelta(t, yAxis, v, 1e-12)
	})

	t.Run("rotation preserves length", func(t *testing.T) {
		v := r3.Vector{X: 1, Y: 2, Z: 3}
		rotated := rotateAbout(v, r3.Vector{X: 1, Y: 1, Z: 0}.Normalize(), 1.3)
		assert.InDelta(t, v.Norm(), rotated.Norm(), 1e-12)
	})

	t.Run("rotation about parallel axis is identity", func(t *testing.T) {
		v := rotateAbout(yAxis, yAxis, 1.7)
		assertVecInDelta(t, yAxis, v, 1e-12)
	})
}

func TestProjectOnPlane(t *testing.T) {
	v := r3.Vector{X: 1, Y: 2, Z: 3}
	planar := projectOnPlane(v, yAxis)
	assertVecInDelta(t, r3.Vector{X: 1, Z: 3}, planar, 1e-12)
	assert.InDelta(t, 0, planar.Dot(yAxis), 1e-12)
}

func TestSignedAngle(t *testing.T) {
	tests := []struct {
		name     string
		a, b     r3.Vector
		axis     r3.Vector
		expected float64
	}{
		{"positive quarter turn", xAxis, yAxis, zAxis, math.Pi / 2},
		{"negative quarter turn", yAxis, xAxis, zAxis, -math.Pi / 2},
		{"zero angle", xAxis, xAxis, zAxis, 0},
		{"half turn", xAxis, xAxis.Mul(-1), zAxis, math.Pi},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, math.Abs(signedAngle(tt.a, tt.b, tt.axis))*sign(tt.expected), 1e-12)
		})
	}
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func TestRotationFromTo(t *testing.T) {
	t.Run("maps from onto to", func(t *testing.T) {
		from := r3.Vector{X: 1, Y: 1, Z: 0}.Normalize()
		to := r3.Vector{X: 0, Y: 1, Z: 1}.Normalize()
		axis, angle := rotationFromTo(from, to)
		assertVecInDelta(t, to, rotateAbout(from, axis, angle), 1e-9)
	})

	t.Run("identical vectors give zero angle", func(t *testing.T) {
		_, angle := rotationFromTo(yAxis, yAxis)
		assert.Equal(t, 0.0, angle)
	})

	t.Run("opposite vectors give half turn", func(t *testing.T) {
		axis, angle := rotationFromTo(yAxis, yAxis.Mul(-1))
		assert.InDelta(t, math.Pi, angle, 1e-9)
		assertVecInDelta(t, yAxis.Mul(-1), rotateAbout(yAxis, axis, angle), 1e-9)
	})
}

func TestAnyPerpendicular(t *testing.T) {
	for _, v := range []r3.Vector{xAxis, yAxis, zAxis, {X: 1, Y: 2, Z: 3}, {X: -0.1, Y: 0, Z: 0.9}} {
		p := anyPerpendicular(v)
		assert.InDelta(t, 0, p.Dot(v), 1e-9)
		assert.Greater(t, p.Norm(), 0.5)
	}
}

func TestLerpAndClamp(t *testing.T) {
	mid := lerp(r3.Vector{}, r3.Vector{X: 2, Y: 4, Z: -6}, 0.5)
	assertVecInDelta(t, r3.Vector{X: 1, Y: 2, Z: -3}, mid, 1e-12)

	assert.Equal(t, 1.0, clampFloat(2, -1, 1))
	assert.Equal(t, -1.0, clampFloat(-2, -1, 1))
	assert.Equal(t, 0.5, clampFloat(0.5, -1, 1))
}
