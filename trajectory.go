package roboarm

import (
	"fmt"
	"sort"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
)

// DefaultFractions are the intermediate waypoint fractions used when a
// move request does not supply its own.
var DefaultFractions = []float64{0.25, 0.5, 0.75}

// WaypointPose is one solved step of a planned move: the Cartesian
// waypoint, a snapshot of the solved bones, the extracted joint angles
// and how the solve terminated.
type WaypointPose struct {
	Position r3.Vector
	Bones    []Bone
	Angles   map[string]float64
	Effector r3.Vector
	Result   SolveResult
}

// TargetUnreachableError reports a waypoint whose best-effort solve left
// the effector further from the waypoint than the planner's hard failure
// threshold. The pose sequence returned alongside it still carries the
// closest achieved pose for every solved waypoint.
type TargetUnreachableError struct {
	Waypoint int
	Position r3.Vector
	Residual float64
}

func (e *TargetUnreachableError) Error() string {
	return fmt.Sprintf("target unreachable: waypoint %d at (%.3f, %.3f, %.3f), residual %.4f",
		e.Waypoint, e.Position.X, e.Position.Y, e.Position.Z, e.Residual)
}

// PlannerConfig is the constructor-level policy of a Planner.
type PlannerConfig struct {
	// Fractions are intermediate waypoint fractions in (0, 1); values
	// outside the open interval are dropped, duplicates collapse and the
	// rest are sorted. Empty means DefaultFractions.
	Fractions []float64

	// HardFailureDistance is the residual above which an iteration-capped
	// waypoint counts as unreachable. Zero disables the check.
	HardFailureDistance float64

	// AbortOnUnreachable stops the remaining sequence at the first
	// unreachable waypoint instead of continuing best-effort.
	AbortOnUnreachable bool
}

// Planner turns a move request into a sequence of solved waypoints. Each
// waypoint is solved warm-started from the chain's pose left by the
// previous one, which is what keeps successive solutions on the same side
// of geometrically ambiguous targets instead of flipping joints. The
// starting pose is whatever chain the caller passes in; the planner holds
// no pose state of its own between calls.
type Planner struct {
	solver *Solver
	joints []JointSpec
	cfg    PlannerConfig
	logger logging.Logger

	// PreSolve, when set, runs before each waypoint solve; the arm layer
	// uses it to orient the work-plane hinges toward the waypoint.
	PreSolve func(chain *Chain, waypoint r3.Vector)
}

// NewPlanner builds a planner over a solver and the joint specs used to
// report angles for every solved waypoint.
func NewPlanner(solver *Solver, joints []JointSpec, cfg PlannerConfig, logger logging.Logger) *Planner {
	if logger == nil {
		logger = logging.NewLogger("planner")
	}
	return &Planner{solver: solver, joints: joints, cfg: cfg, logger: logger}
}

// sanitizeFractions filters to the open interval (0,1), dedupes and sorts,
// falling back to DefaultFractions when nothing usable remains.
func sanitizeFractions(fractions []float64) []float64 {
	seen := make(map[float64]bool)
	var out []float64
	for _, f := range fractions {
		if f > 0 && f < 1 && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return append([]float64(nil), DefaultFractions...)
	}
	sort.Float64s(out)
	return out
}

// FractionsForCount spreads count intermediate waypoints evenly over the
// open interval (0,1): fraction i/(count+1) for i in 1..count. A count of
// 3 reproduces DefaultFractions. Counts below 1 return nil, which
// PlanMoveWith treats as a request for the configured fractions.
func FractionsForCount(count int) []float64 {
	if count < 1 {
		return nil
	}
	out := make([]float64, count)
	for i := 1; i <= count; i++ {
		out[i-1] = float64(i) / float64(count+1)
	}
	return out
}

// PlanMove interpolates waypoints from origin to target at the configured
// fractions (plus the target itself; the origin is presumed already
// reached and is not re-solved), solves each one warm-started from the
// chain's current pose and reports the solved geometry and angles per
// waypoint. The final element always corresponds to the target.
//
// When a waypoint exceeds the hard failure threshold the returned error
// is a *TargetUnreachableError for the first such waypoint; in
// continue mode the sequence is still complete and best-effort.
func (p *Planner) PlanMove(chain *Chain, origin, target r3.Vector) ([]WaypointPose, error) {
	return p.PlanMoveWith(chain, origin, target, p.cfg.Fractions)
}

// PlanMoveWith is PlanMove with per-request fractions overriding the
// configured ones. Empty falls back to the planner's configuration.
func (p *Planner) PlanMoveWith(chain *Chain, origin, target r3.Vector, requested []float64) ([]WaypointPose, error) {
	if len(requested) == 0 {
		requested = p.cfg.Fractions
	}
	fractions := sanitizeFractions(requested)
	waypoints := make([]r3.Vector, 0, len(fractions)+1)
	for _, f := range fractions {
		waypoints = append(waypoints, lerp(origin, target, f))
	}
	waypoints = append(waypoints, target)

	var firstUnreachable *TargetUnreachableError
	poses := make([]WaypointPose, 0, len(waypoints))
	for i, wp := range waypoints {
		if p.PreSolve != nil {
			p.PreSolve(chain, wp)
		}
		result := p.solver.Solve(chain, wp)
		poses = append(poses, WaypointPose{
			Position: wp,
			Bones:    chain.Bones(),
			Angles:   ExtractAngles(chain, p.joints),
			Effector: chain.Effector(),
			Result:   result,
		})

		if p.cfg.HardFailureDistance > 0 &&
			result.Status == IterationLimitReached &&
			result.Residual > p.cfg.HardFailureDistance {
			unreachable := &TargetUnreachableError{Waypoint: i, Position: wp, Residual: result.Residual}
			p.logger.Debugf("waypoint %d/%d unreachable, residual %.4f", i+1, len(waypoints), result.Residual)
			if p.cfg.AbortOnUnreachable {
				return poses, unreachable
			}
			if firstUnreachable == nil {
				firstUnreachable = unreachable
			}
		}
	}
	if firstUnreachable != nil {
		return poses, firstUnreachable
	}
	return poses, nil
}
