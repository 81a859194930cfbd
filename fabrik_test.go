package roboarm

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"go.viam.com/rdk/logging"
)

func assertChainIntegrity(t *testing.T, chain *Chain) {
	t.Helper()
	cursor := chain.Anchor()
	for i := 0; i < chain.Len(); i++ {
		bone := chain.Bone(i)
		assertVecInDelta(t, cursor, bone.Start, 1e-9)
		assert.InDelta(t, bone.Length(), bone.End.Sub(bone.Start).Norm(), 1e-9,
			"bone %d length drifted", i)
		for _, v := range []float64{bone.End.X, bone.End.Y, bone.End.Z} {
			assert.False(t, math.IsNaN(v), "bone %d has NaN coordinate", i)
		}
		cursor = bone.End
	}
}

func TestSolveReachableTarget(t *testing.T) {
	logger := logging.NewTestLogger(t)
	chain, err := NewChain(r3.Vector{}, twoBoneSegments())
	assert.NoError(t, err)

	solver := NewSolver(0, 0, logger)
	target := r3.Vector{X: 4, Y: 6, Z: -4}

	result := solver.Solve(chain, target)

	assert.Equal(t, Converged, result.Status)
	assert.LessOrEqual(t, result.Iterations, DefaultMaxIterations)
	assert.Less(t, result.Residual, 0.01)
	assertVecInDelta(t, target, chain.Effector(), 0.01)
	assertChainIntegrity(t, chain)
}

func TestSolveIsWarmStartIdempotent(t *testing.T) {
	logger := logging.NewTestLogger(t)
	chain, err := NewChain(r3.Vector{}, twoBoneSegments())
	assert.NoError(t, err)

	solver := NewSolver(0, 0, logger)
	target := r3.Vector{X: 4, Y: 6, Z: -4}

	first := solver.Solve(chain, target)
	assert.Equal(t, Converged, first.Status)

	// already within tolerance: the second solve early-outs untouched
	second := solver.Solve(chain, target)
	assert.Equal(t, Converged, second.Status)
	assert.Equal(t, 0, second.Iterations)
}

func TestSolveInteriorTargetDegradesGracefully(t *testing.T) {
	logger := logging.NewTestLogger(t)
	chain, err := NewChain(r3.Vector{}, twoBoneSegments())
	assert.NoError(t, err)

	solver := NewSolver(0, 0, logger)
	// closer to the anchor than the minimum reach |10-4| of the two bones
	target := r3.Vector{X: 1, Y: 3, Z: -1}

	result := solver.Solve(chain, target)

	assert.Equal(t, IterationLimitReached, result.Status)
	assert.Greater(t, result.Residual, 1.0)
	assert.Less(t, result.Residual, chain.Reach())
	assertChainIntegrity(t, chain)
}

func TestSolveBeyondReach(t *testing.T) {
	logger := logging.NewTestLogger(t)
	chain, err := NewChain(r3.Vector{}, twoBoneSegments())
	assert.NoError(t, err)

	solver := NewSolver(0, 0, logger)
	target := r3.Vector{Y: 30}

	result := solver.Solve(chain, target)

	assert.Equal(t, IterationLimitReached, result.Status)
	// best effort: fully stretched toward the target
	assert.InDelta(t, 30-chain.Reach(), result.Residual, 0.01)
	assertChainIntegrity(t, chain)
}

func TestSolveRespectsRigidBase(t *testing.T) {
	logger := logging.NewTestLogger(t)
	segs := []Segment{
		{Name: "base", Direction: yAxis, Length: 4, Constraint: NewRotorCone(yAxis, 0)},
		{Name: "arm", Direction: yAxis, Length: 10, Constraint: NewUnconstrained()},
	}
	chain, err := NewChain(r3.Vector{}, segs)
	assert.NoError(t, err)

	solver := NewSolver(0, 0, logger)
	// exactly 10 from the fixed base tip (0,4,0)
	target := r3.Vector{X: 6, Y: 12}

	result := solver.Solve(chain, target)

	assert.Equal(t, Converged, result.Status)
	assertVecInDelta(t, yAxis, chain.Bone(0).Direction(), 1e-6)
	assertVecInDelta(t, target, chain.Effector(), 0.01)
	assertChainIntegrity(t, chain)
}

func TestSolveTargetAtAnchor(t *testing.T) {
	logger := logging.NewTestLogger(t)
	chain, err := NewChain(r3.Vector{}, twoBoneSegments())
	assert.NoError(t, err)

	solver := NewSolver(0, 0, logger)
	result := solver.Solve(chain, r3.Vector{})

	// interior point, unreachable for unequal bones, but never NaN
	assert.Equal(t, IterationLimitReached, result.Status)
	assertChainIntegrity(t, chain)
}

func TestSolverDefaults(t *testing.T) {
	s := NewSolver(0, 0, nil)
	assert.Equal(t, DefaultMaxIterations, s.MaxIterations)
	assert.Equal(t, DefaultTolerance, s.Tolerance)

	s = NewSolver(50, 0.5, nil)
	assert.Equal(t, 50, s.MaxIterations)
	assert.Equal(t, 0.5, s.Tolerance)
}
