package roboarm

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrInvalidChain is returned when a chain cannot be constructed: an empty
// bone list, a non-positive segment length, or a constraint whose axes are
// undefined. Construction failures are fatal; a chain that exists is
// always structurally solvable.
var ErrInvalidChain = errors.New("invalid chain configuration")

// Segment describes one bone of a chain to be built: a name, a rest
// direction (need not be unit length), a fixed segment length and the
// joint constraint attached to the bone.
type Segment struct {
	Name       string     `json:"name"`
	Direction  r3.Vector  `json:"direction"`
	Length     float64    `json:"length"`
	Constraint Constraint `json:"constraint"`
}

// Bone is one rigid segment of a chain. Start and End are owned by the
// chain and only ever updated together by solving; the distance between
// them is invariant for the life of the chain.
type Bone struct {
	Name       string
	Start      r3.Vector
	End        r3.Vector
	Constraint Constraint

	length float64
	rest   r3.Vector // unit direction at construction time
	work   r3.Vector // rest direction carried into the current work frame
}

// Direction returns the current unit direction from Start to End.
func (b *Bone) Direction() r3.Vector {
	return safeNormalize(b.End.Sub(b.Start), b.work)
}

// Length returns the configured segment length.
func (b *Bone) Length() float64 { return b.length }

// RestDirection returns the unit direction the bone had at construction.
func (b *Bone) RestDirection() r3.Vector { return b.rest }

// Chain is an ordered sequence of bones from a fixed anchor to a free
// effector. It is mutated in place by solving and must not be shared
// between concurrent solves; callers owning multiple arms hold one chain
// per arm and serialize access themselves.
type Chain struct {
	anchor r3.Vector
	bones  []Bone
}

// NewChain builds a connected chain from segments, anchoring the first
// bone's start at anchor. Bone directions start out as the given rest
// pose. Returns ErrInvalidChain for structurally unusable input.
func NewChain(anchor r3.Vector, segments []Segment) (*Chain, error) {
	if len(segments) == 0 {
		return nil, errors.Wrap(ErrInvalidChain, "chain has no bones")
	}

	bones := make([]Bone, 0, len(segments))
	cursor := anchor
	for i, seg := range segments {
		if seg.Length <= 0 {
			return nil, errors.Wrapf(ErrInvalidChain, "bone %q (index %d) has non-positive length %v",
				seg.Name, i, seg.Length)
		}
		if err := seg.Constraint.validate(); err != nil {
			return nil, errors.Wrapf(ErrInvalidChain, "bone %q (index %d): %v", seg.Name, i, err)
		}
		dir := safeNormalize(seg.Direction, yAxis)
		end := cursor.Add(dir.Mul(seg.Length))
		bones = append(bones, Bone{
			Name:       seg.Name,
			Start:      cursor,
			End:        end,
			Constraint: seg.Constraint,
			length:     seg.Length,
			rest:       dir,
			work:       dir,
		})
		cursor = end
	}

	return &Chain{anchor: anchor, bones: bones}, nil
}

// Anchor returns the fixed base point; solving never moves it.
func (c *Chain) Anchor() r3.Vector { return c.anchor }

// Len returns the number of bones.
func (c *Chain) Len() int { return len(c.bones) }

// Bone returns a pointer to bone i for in-place updates by the solver.
func (c *Chain) Bone(i int) *Bone { return &c.bones[i] }

// Bones returns a snapshot copy of the bones, safe to hand to callers.
func (c *Chain) Bones() []Bone {
	out := make([]Bone, len(c.bones))
	copy(out, c.bones)
	return out
}

// Effector returns the free end of the last bone.
func (c *Chain) Effector() r3.Vector {
	return c.bones[len(c.bones)-1].End
}

// Reach returns the sum of all segment lengths, the radius of the chain's
// maximal workspace ignoring constraints.
func (c *Chain) Reach() float64 {
	total := 0.0
	for i := range c.bones {
		total += c.bones[i].length
	}
	return total
}

// Clone returns an independent copy sharing no state with the original.
// The trajectory layer snapshots poses this way for warm-start bookkeeping.
func (c *Chain) Clone() *Chain {
	return &Chain{anchor: c.anchor, bones: c.Bones()}
}

// SetPose copies bone positions from another chain with the same shape.
// Lengths, constraints and the anchor are left untouched.
func (c *Chain) SetPose(from *Chain) {
	if len(from.bones) != len(c.bones) {
		return
	}
	for i := range c.bones {
		c.bones[i].Start = from.bones[i].Start
		c.bones[i].End = from.bones[i].End
	}
}
