package decoder

import (
	"github.com/dgallion1/lmrate/internal/doctree"
	"github.com/dgallion1/lmrate/internal/lattice"
)

// Result is the outcome of one decode.
type Result struct {
	Tree     *Tree
	Best     NodeID   // cheapest hypothesis after the last step
	Frontier []NodeID // final beam, ascending cost
	Steps    []lattice.Step
	Trace    []StepStats
}

// Choice is one consumed alternative on the best path.
type Choice struct {
	Step        int
	Element     *doctree.Element // nil for separators
	Alternative doctree.Alternative
	DeltaCost   float64 // cost added by consuming the alternative
	Bytes       int     // bytes consumed
}

// Cost is the total cost of the best path.
func (r *Result) Cost() float64 {
	return r.Tree.Node(r.Best).Cost
}

// Choices returns the alternatives chosen along the best path in document
// order. The root is not included.
func (r *Result) Choices() []Choice {
	seq := r.Tree.Sequence(r.Best)
	if len(seq) <= 1 {
		return nil
	}
	out := make([]Choice, 0, len(seq)-1)
	for i := 1; i < len(seq); i++ {
		n := r.Tree.Node(seq[i])
		parent := r.Tree.Node(n.Parent)
		step := r.Steps[n.Step]
		out = append(out, Choice{
			Step:        n.Step,
			Element:     step.Element,
			Alternative: step.Alternatives[n.Alt],
			DeltaCost:   n.Cost - parent.Cost,
			Bytes:       n.Bytes,
		})
	}
	return out
}
