package roboarm

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

func TestUnconstrainedRepair(t *testing.T) {
	c := NewUnconstrained()
	dir, degen := c.Repair(r3.Vector{X: 2, Y: 2, Z: 0}, nil)
	assert.False(t, degen)
	assertVecInDelta(t, r3.Vector{X: 1, Y: 1}.Normalize(), dir, 1e-12)
}

func TestRotorConeRepair(t *testing.T) {
	c := NewRotorCone(yAxis, 30)

	t.Run("legal direction passes unchanged", func(t *testing.T) {
		in := rotateAbout(yAxis, zAxis, degToRad(20))
		out, degen := c.Repair(in, nil)
		assert.False(t, degen)
		assertVecInDelta(t, in, out, 1e-12)
	})

	t.Run("repair is idempotent", func(t *testing.T) {
		out, _ := c.Repair(xAxis, nil)
		again, degen := c.Repair(out, nil)
		assert.False(t, degen)
		assertVecInDelta(t, out, again, 1e-9)
	})

	t.Run("clamps to cone surface keeping azimuth", func(t *testing.T) {
		out, degen := c.Repair(xAxis, nil)
		assert.False(t, degen)
		assert.InDelta(t, math.Cos(degToRad(30)), out.Dot(yAxis), 1e-9)
		// azimuth kept: stays in the X-Y plane on the +X side
		assert.InDelta(t, 0, out.Z, 1e-9)
		assert.Greater(t, out.X, 0.0)
	})

	t.Run("anti-parallel direction is degenerate", func(t *testing.T) {
		out, degen := c.Repair(yAxis.Mul(-1), nil)
		assert.True(t, degen)
		assert.InDelta(t, math.Cos(degToRad(30)), out.Dot(yAxis), 1e-9)
	})

	t.Run("zero half-angle pins to the axis", func(t *testing.T) {
		rigid := NewRotorCone(yAxis, 0)
		out, degen := rigid.Repair(r3.Vector{X: 1, Y: 1, Z: 1}, nil)
		assert.False(t, degen)
		assertVecInDelta(t, yAxis, out, 1e-9)
	})
}

func TestHingeRepair(t *testing.T) {
	c := NewHinge(zAxis, 45, 90, xAxis, FrameGlobal)

	t.Run("legal in-plane direction passes", func(t *testing.T) {
		in := rotateAbout(xAxis, zAxis, degToRad(30))
		out, degen := c.Repair(in, nil)
		assert.False(t, degen)
		assertVecInDelta(t, in, out, 1e-12)
	})

	t.Run("out-of-plane direction is flattened", func(t *testing.T) {
		out, degen := c.Repair(r3.Vector{X: 1, Y: 0, Z: 1}, nil)
		assert.False(t, degen)
		assertVecInDelta(t, xAxis, out, 1e-9)
	})

	t.Run("clamps counter-clockwise limit", func(t *testing.T) {
		in := rotateAbout(xAxis, zAxis, degToRad(120))
		out, _ := c.Repair(in, nil)
		assertVecInDelta(t, yAxis, out, 1e-9)
	})

	t.Run("clamps clockwise limit", func(t *testing.T) {
		in := rotateAbout(xAxis, zAxis, degToRad(-60))
		out, _ := c.Repair(in, nil)
		assertVecInDelta(t, rotateAbout(xAxis, zAxis, degToRad(-45)), out, 1e-9)
	})

	t.Run("direction on the hinge axis is degenerate", func(t *testing.T) {
		out, degen := c.Repair(zAxis, nil)
		assert.True(t, degen)
		assertVecInDelta(t, xAxis, out, 1e-9)
	})
}

func TestFreeHingeRepair(t *testing.T) {
	c := NewFreeHinge(yAxis)
	out, degen := c.Repair(r3.Vector{X: 1, Y: 5, Z: 0}, nil)
	assert.False(t, degen)
	assertVecInDelta(t, xAxis, out, 1e-9)
}

func TestLocalHingeFollowsPreviousBone(t *testing.T) {
	// A zero-travel local hinge keeps its bone rigidly aligned with the
	// frame of the bone before it.
	prev := &Bone{
		Start: r3.Vector{},
		End:   xAxis.Mul(4),
		work:  yAxis,
	}
	prev.length = 4
	prev.rest = yAxis

	c := NewHinge(zAxis, 0, 0, yAxis, FrameLocal)

	// prev rotated from rest +Y to +X, so the local +Y reference lands on +X
	out, degen := c.Repair(r3.Vector{X: 0.3, Y: 0.8, Z: 0.1}, prev)
	assert.False(t, degen)
	assertVecInDelta(t, xAxis, out, 1e-9)
}

func TestConstraintValidate(t *testing.T) {
	tests := []struct {
		name    string
		c       Constraint
		wantErr bool
	}{
		{"unconstrained ok", NewUnconstrained(), false},
		{"cone ok", NewRotorCone(yAxis, 45), false},
		{"cone zero axis", NewRotorCone(r3.Vector{}, 45), true},
		{"cone bad half angle", NewRotorCone(yAxis, 200), true},
		{"hinge ok", NewHinge(zAxis, 45, 45, xAxis, FrameGlobal), false},
		{"hinge zero axis", NewHinge(r3.Vector{}, 45, 45, xAxis, FrameGlobal), true},
		{"hinge zero reference", NewHinge(zAxis, 45, 45, r3.Vector{}, FrameGlobal), true},
		{"hinge negative limit", NewHinge(zAxis, -1, 45, xAxis, FrameGlobal), true},
		{"free hinge ok", NewFreeHinge(zAxis), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
