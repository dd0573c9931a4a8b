// Package scorer defines the contract between the decoder and a byte-level
// sequence model, plus helpers shared by the concrete adapters.
//
// A scorer consumes one byte at a time. Incremental prediction is stateless
// with respect to the caller: every call receives the recurrent state to
// continue from and returns the successor state, so any number of
// hypotheses can be advanced in one batch.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// VocabSize is the number of distinct symbols (bytes).
const VocabSize = 256

// SeedSymbol is the conventional symbol consumed first: the start of a
// document looks like the start of a new line.
const SeedSymbol byte = '\n'

// ErrBatchMismatch is returned when symbols and states differ in length.
var ErrBatchMismatch = errors.New("scorer: symbols and states differ in length")

// State is an opaque recurrent-state snapshot, one vector per model layer.
// It is never interpreted except for distance comparison.
type State [][]float64

// Distance returns the Euclidean distance between s and o at layer.
// Missing layers compare as empty vectors.
func (s State) Distance(o State, layer int) float64 {
	var a, b []float64
	if layer < len(s) {
		a = s[layer]
	}
	if layer < len(o) {
		b = o[layer]
	}
	n := max(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		var x, y float64
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		d := x - y
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for i, layer := range s {
		out[i] = append([]float64(nil), layer...)
	}
	return out
}

// Distribution holds next-symbol probabilities indexed by byte value.
type Distribution []float64

// Prob returns the probability of sym, or 0 when the distribution is short.
func (d Distribution) Prob(sym byte) float64 {
	if int(sym) < len(d) {
		return d[sym]
	}
	return 0
}

// Properties describe how a scorer carries context.
type Properties struct {
	// Stateful scorers carry state implicitly across PredictStream calls.
	Stateful bool `json:"stateful"`
	// Incremental scorers accept explicit state in PredictIncremental.
	Incremental bool `json:"incremental"`
	// Depth is the number of state layers compared during clustering.
	Depth int `json:"depth"`
}

// Scorer is a byte-level sequence model queried incrementally.
type Scorer interface {
	Properties() Properties

	// InitialState is the state before the seed symbol is consumed.
	InitialState() State

	// PredictIncremental consumes symbols[i] in context states[i] and returns,
	// for each i, the distribution of the following symbol and the new state.
	// Batches of any size (including 1) are accepted. Results are
	// deterministic for identical inputs.
	PredictIncremental(ctx context.Context, symbols []byte, states []State) ([]Distribution, []State, error)

	// PredictStream scores text in one pass and returns, for every byte of
	// text, the probability the model assigned to it given everything before.
	PredictStream(ctx context.Context, text []byte) ([]float64, error)
}

// StreamFromIncremental implements PredictStream on top of incremental
// prediction. It continues from the pair (last, state), which is
// (SeedSymbol, InitialState()) at the start of a document, and returns the
// per-byte probabilities plus the pair to continue from afterwards.
func StreamFromIncremental(ctx context.Context, s Scorer, last byte, state State, text []byte) ([]float64, byte, State, error) {
	probs := make([]float64, 0, len(text))
	for i, b := range text {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, last, state, err
			}
		}
		dists, states, err := s.PredictIncremental(ctx, []byte{last}, []State{state})
		if err != nil {
			return nil, last, state, fmt.Errorf("predict byte %d: %w", i, err)
		}
		if len(dists) != 1 || len(states) != 1 {
			return nil, last, state, fmt.Errorf("predict byte %d: expected 1 result, got %d", i, len(dists))
		}
		probs = append(probs, dists[0].Prob(b))
		state = states[0]
		last = b
	}
	return probs, last, state, nil
}

// CheckBatch validates the shape of an incremental batch.
func CheckBatch(symbols []byte, states []State) error {
	if len(symbols) != len(states) {
		return fmt.Errorf("%w: %d symbols, %d states", ErrBatchMismatch, len(symbols), len(states))
	}
	return nil
}
