package roboarm

import (
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
)

// SolveStatus is the terminal state of a solve. Hitting the iteration cap
// is not an error; the chain holds the best pose reached either way.
type SolveStatus int

const (
	// Converged means the effector ended within tolerance of the target.
	Converged SolveStatus = iota
	// IterationLimitReached means the cap was hit first; the result
	// carries the residual distance for the caller to judge.
	IterationLimitReached
)

func (s SolveStatus) String() string {
	if s == Converged {
		return "converged"
	}
	return "iteration_limit_reached"
}

const (
	// DefaultMaxIterations bounds a solve to a small, predictable cost.
	DefaultMaxIterations = 20
	// DefaultTolerance is the convergence distance in chain units.
	DefaultTolerance = 1e-3
)

// SolveResult reports how a solve terminated.
type SolveResult struct {
	Status     SolveStatus
	Iterations int
	// Residual is the effector-to-target distance at termination.
	Residual float64
	// DegenerateRepairs counts constraint repairs that hit the
	// documented degenerate-geometry fallback during this solve.
	// Persistently non-zero counts point at an ill-posed chain config.
	DegenerateRepairs int
}

// Solver runs constrained FABRIK solves over a chain. It is synchronous,
// CPU-bound and fully deterministic for a given starting pose and target;
// there is no shared state beyond the counters below, and a solver must
// not run concurrent solves against the same chain.
type Solver struct {
	MaxIterations int
	Tolerance     float64

	logger logging.Logger

	// cumulative degenerate-fallback count across solves, for diagnostics
	degenerateTotal int
}

// NewSolver returns a solver with the given limits; zero values pick the
// package defaults.
func NewSolver(maxIterations int, tolerance float64, logger logging.Logger) *Solver {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if logger == nil {
		logger = logging.NewLogger("fabrik")
	}
	return &Solver{MaxIterations: maxIterations, Tolerance: tolerance, logger: logger}
}

// DegenerateTotal returns the cumulative degenerate-repair count.
func (s *Solver) DegenerateTotal() int { return s.degenerateTotal }

// Solve runs forward-and-backward reaching iterations moving the chain's
// effector toward target, passing every bone update through that bone's
// constraint, until convergence or the iteration cap. The chain is
// mutated in place; its current pose is the warm start.
func (s *Solver) Solve(chain *Chain, target r3.Vector) SolveResult {
	degenerate := 0

	residual := chain.Effector().Sub(target).Norm()
	if residual <= s.Tolerance {
		return SolveResult{Status: Converged, Residual: residual}
	}

	iterations := 0
	for iterations < s.MaxIterations {
		iterations++
		degenerate += s.backward(chain, target)
		degenerate += s.forward(chain)
		residual = chain.Effector().Sub(target).Norm()
		if residual <= s.Tolerance {
			break
		}
	}

	s.degenerateTotal += degenerate
	if degenerate > 0 {
		s.logger.Debugf("solve finished with %d degenerate constraint repairs", degenerate)
	}

	status := Converged
	if residual > s.Tolerance {
		status = IterationLimitReached
		s.logger.Debugf("iteration limit %d reached, residual %.6f", s.MaxIterations, residual)
	}
	return SolveResult{
		Status:            status,
		Iterations:        iterations,
		Residual:          residual,
		DegenerateRepairs: degenerate,
	}
}

// backward pins the effector to the target and walks tip to base, pulling
// each joint in while keeping segment lengths fixed and directions legal.
func (s *Solver) backward(chain *Chain, target r3.Vector) int {
	degenerate := 0
	end := target
	for i := chain.Len() - 1; i >= 0; i-- {
		bone := chain.Bone(i)
		var prev *Bone
		if i > 0 {
			prev = chain.Bone(i - 1)
		}
		dir := safeNormalize(end.Sub(bone.Start), bone.Direction())
		dir, degen := bone.Constraint.Repair(dir, prev)
		if degen {
			degenerate++
		}
		bone.End = end
		bone.Start = end.Sub(dir.Mul(bone.Length()))
		end = bone.Start
	}
	return degenerate
}

// forward re-anchors the base and walks base to tip, re-extending each
// bone toward the position the backward pass asked for. Connectivity and
// lengths hold exactly after this pass.
func (s *Solver) forward(chain *Chain) int {
	degenerate := 0
	start := chain.Anchor()
	for i := 0; i < chain.Len(); i++ {
		bone := chain.Bone(i)
		var prev *Bone
		if i > 0 {
			prev = chain.Bone(i - 1)
		}
		dir := safeNormalize(bone.End.Sub(start), bone.work)
		dir, degen := bone.Constraint.Repair(dir, prev)
		if degen {
			degenerate++
		}
		bone.Start = start
		bone.End = start.Add(dir.Mul(bone.Length()))
		start = bone.End
	}
	return degenerate
}
