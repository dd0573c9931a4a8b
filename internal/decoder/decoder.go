// Package decoder finds the most probable reading of a document by beam
// search over the lattice of its alternatives, scoring every hypothesis
// byte by byte with a sequence model.
package decoder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/dgallion1/lmrate/internal/lattice"
	"github.com/dgallion1/lmrate/internal/scorer"
)

// probFloor keeps the cost of an impossible byte finite.
const probFloor = 1e-99

// StepStats describes what happened during one step.
type StepStats struct {
	Step         int     `json:"step"`
	Frontier     int     `json:"frontier"`     // hypotheses entering the step
	Alternatives int     `json:"alternatives"` // alternatives offered by the step
	Candidates   int     `json:"candidates"`   // hypotheses created by fan-out
	Batches      int     `json:"batches"`      // incremental scorer calls
	Merged       int     `json:"merged"`       // hypotheses dropped by clustering
	Inserted     int     `json:"inserted"`     // next frontier size before the width prune
	Kept         int     `json:"kept"`         // hypotheses leaving the step
	Skipped      bool    `json:"skipped"`      // step had no alternatives
	BestCost     float64 `json:"best_cost"`
}

// Decoder runs beam search with one scorer.
type Decoder struct {
	scorer scorer.Scorer
	cfg    Config
	log    *slog.Logger

	// OnStep, when set, is called after every step.
	OnStep func(StepStats)
}

// New returns a decoder. The scorer must support incremental prediction.
func New(s scorer.Scorer, cfg Config, log *slog.Logger) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !s.Properties().Incremental {
		return nil, ErrNotIncremental
	}
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{scorer: s, cfg: cfg, log: log}, nil
}

func (d *Decoder) Config() Config { return d.cfg }

// candidate is a child hypothesis while its alternative is being consumed.
type candidate struct {
	parent NodeID
	alt    int
	symbol byte
	state  scorer.State
	cost   float64
	depth  int
}

// Decode searches steps in order and returns the cheapest complete
// hypothesis together with the final frontier. Steps without alternatives
// are passed over: the frontier carries into the next step unchanged.
// A scorer error aborts the decode and is returned wrapped; it is not
// retried.
func (d *Decoder) Decode(ctx context.Context, steps []lattice.Step) (*Result, error) {
	start := time.Now()
	defer func() { DecodeDuration.Observe(time.Since(start).Seconds()) }()

	tree := NewTree(d.scorer.InitialState())
	frontier := []NodeID{Root}
	trace := make([]StepStats, 0, len(steps))
	depth := d.scorer.Properties().Depth

	for si, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st := StepStats{Step: si, Frontier: len(frontier), Alternatives: len(step.Alternatives)}

		if len(step.Alternatives) == 0 {
			st.Skipped = true
			st.Kept = len(frontier)
			st.BestCost = tree.Node(frontier[0]).Cost
			StepsTotal.WithLabelValues("skipped").Inc()
			d.log.Debug("step has no alternatives, passing frontier through", "step", si)
			trace = append(trace, st)
			d.notify(st)
			continue
		}

		texts := make([][]byte, len(step.Alternatives))
		for i, alt := range step.Alternatives {
			b := []byte(alt.Text)
			if len(b) > d.cfg.MaxAlternativeLength {
				b = b[:d.cfg.MaxAlternativeLength]
			}
			texts[i] = b
		}

		// fan-out
		cands := make([]candidate, 0, len(frontier)*len(texts))
		for _, id := range frontier {
			n := tree.Node(id)
			for ai := range texts {
				cands = append(cands, candidate{
					parent: id,
					alt:    ai,
					symbol: n.Symbol,
					state:  n.State,
					cost:   n.Cost,
					depth:  n.Depth + 1,
				})
			}
		}
		st.Candidates = len(cands)

		batches, err := d.consume(ctx, cands, texts)
		st.Batches = batches
		if err != nil {
			return nil, fmt.Errorf("decode step %d: %w", si, err)
		}

		next := d.rank(cands, depth, &st)
		st.Inserted = len(next)
		if len(next) > d.cfg.BeamWidth {
			PrunedTotal.Add(float64(len(next) - d.cfg.BeamWidth))
			next = next[:d.cfg.BeamWidth]
		}

		for _, id := range frontier {
			tree.Release(id)
		}
		frontier = frontier[:0]
		for _, ci := range next {
			c := cands[ci]
			frontier = append(frontier, tree.Add(Node{
				Parent: c.parent,
				Symbol: c.symbol,
				State:  c.state,
				Cost:   c.cost,
				Depth:  c.depth,
				Bytes:  len(texts[c.alt]),
				Step:   si,
				Alt:    c.alt,
			}))
		}

		st.Kept = len(frontier)
		st.BestCost = tree.Node(frontier[0]).Cost
		StepsTotal.WithLabelValues("decoded").Inc()
		trace = append(trace, st)
		d.notify(st)
	}

	res := &Result{
		Tree:     tree,
		Best:     frontier[0],
		Frontier: frontier,
		Steps:    steps,
		Trace:    trace,
	}
	d.log.Debug("decode finished",
		"steps", len(steps),
		"nodes", tree.Len(),
		"best_cost", tree.Node(res.Best).Cost,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// consume feeds every candidate its alternative one byte offset at a time.
// All candidates with a byte at the current offset go into one batch.
func (d *Decoder) consume(ctx context.Context, cands []candidate, texts [][]byte) (int, error) {
	batches := 0
	active := make([]int, 0, len(cands))
	symbols := make([]byte, 0, len(cands))
	states := make([]scorer.State, 0, len(cands))

	for off := 0; off < d.cfg.MaxAlternativeLength; off++ {
		active, symbols, states = active[:0], symbols[:0], states[:0]
		for i, c := range cands {
			if off < len(texts[c.alt]) {
				active = append(active, i)
				symbols = append(symbols, c.symbol)
				states = append(states, c.state)
			}
		}
		if len(active) == 0 {
			break
		}

		dists, nextStates, err := d.scorer.PredictIncremental(ctx, symbols, states)
		batches++
		if err != nil {
			return batches, fmt.Errorf("predict offset %d: %w", off, err)
		}
		if len(dists) != len(active) || len(nextStates) != len(active) {
			return batches, fmt.Errorf("predict offset %d: scorer returned %d results for %d inputs", off, len(dists), len(active))
		}
		BatchSize.Observe(float64(len(active)))

		for k, i := range active {
			c := &cands[i]
			sym := texts[c.alt][off]
			c.cost += -math.Log2(math.Max(dists[k].Prob(sym), probFloor))
			c.symbol = sym
			c.state = nextStates[k]
		}
	}
	return batches, nil
}

// rank builds the next frontier from finished candidates, in candidate
// order: optional clustering against what is already there, then sorted
// insertion. It returns candidate indices ordered by ascending cost; a
// candidate goes after existing entries of equal cost.
func (d *Decoder) rank(cands []candidate, depth int, st *StepStats) []int {
	next := make([]int, 0, len(cands))
	for ci := range cands {
		c := &cands[ci]
		if d.cfg.Clustering {
			if j := d.findCluster(cands, next, c, depth); j >= 0 {
				st.Merged++
				MergesTotal.Inc()
				if cands[next[j]].cost < c.cost {
					c.state = nil
					continue
				}
				cands[next[j]].state = nil
				next = append(next[:j], next[j+1:]...)
			}
		}
		pos := sort.Search(len(next), func(k int) bool {
			return cands[next[k]].cost > c.cost
		})
		next = append(next, 0)
		copy(next[pos+1:], next[pos:])
		next[pos] = ci
	}
	return next
}

// findCluster returns the position in next of the first hypothesis that
// ends in the same byte as c with every state layer closer than the
// cluster distance, or -1.
func (d *Decoder) findCluster(cands []candidate, next []int, c *candidate, depth int) int {
	layers := depth
	if layers <= 0 {
		layers = len(c.state)
	}
	for j, oi := range next {
		o := &cands[oi]
		if o.symbol != c.symbol {
			continue
		}
		near := true
		for l := 0; l < layers; l++ {
			if c.state.Distance(o.state, l) >= d.cfg.ClusterDistance {
				near = false
				break
			}
		}
		if near {
			return j
		}
	}
	return -1
}

func (d *Decoder) notify(st StepStats) {
	if d.OnStep != nil {
		d.OnStep(st)
	}
}
