// Package lstm runs inference for a byte-level stacked LSTM language model
// trained elsewhere (Keras layout: gates ordered input, forget, cell,
// output; one-hot byte input; dense softmax output).
//
// The recurrent state of every layer is exposed as the concatenation of its
// hidden and cell vectors, which is what history clustering compares.
package lstm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"sync"

	"github.com/dgallion1/lmrate/internal/scorer"
)

// ErrNoLayers is returned when a model file has no recurrent layers.
var ErrNoLayers = errors.New("lstm: model has no layers")

// Layer holds the weights of one LSTM layer.
type Layer struct {
	Units     int         `json:"units"`
	Kernel    [][]float64 `json:"kernel"`    // [input][4*units]
	Recurrent [][]float64 `json:"recurrent"` // [units][4*units]
	Bias      []float64   `json:"bias"`      // [4*units]
}

// Dense is the softmax output projection.
type Dense struct {
	Kernel [][]float64 `json:"kernel"` // [units][256]
	Bias   []float64   `json:"bias"`   // [256]
}

// Weights is the on-disk model description.
type Weights struct {
	Layers   []Layer `json:"layers"`
	Output   Dense   `json:"output"`
	Stateful bool    `json:"stateful"`
}

// Model is a loaded LSTM ready for inference. Weights are read-only after
// construction, so incremental prediction is safe for concurrent use.
type Model struct {
	w Weights

	mu       sync.Mutex
	stateful bool
	last     byte
	state    scorer.State
}

// New validates the weight shapes and returns a model.
func New(w Weights) (*Model, error) {
	if len(w.Layers) == 0 {
		return nil, ErrNoLayers
	}
	in := scorer.VocabSize
	for i, l := range w.Layers {
		if l.Units <= 0 {
			return nil, fmt.Errorf("lstm: layer %d: units must be positive", i)
		}
		if err := checkMatrix(l.Kernel, in, 4*l.Units); err != nil {
			return nil, fmt.Errorf("lstm: layer %d kernel: %w", i, err)
		}
		if err := checkMatrix(l.Recurrent, l.Units, 4*l.Units); err != nil {
			return nil, fmt.Errorf("lstm: layer %d recurrent kernel: %w", i, err)
		}
		if len(l.Bias) != 4*l.Units {
			return nil, fmt.Errorf("lstm: layer %d bias: expected %d entries, got %d", i, 4*l.Units, len(l.Bias))
		}
		in = l.Units
	}
	if err := checkMatrix(w.Output.Kernel, in, scorer.VocabSize); err != nil {
		return nil, fmt.Errorf("lstm: output kernel: %w", err)
	}
	if len(w.Output.Bias) != scorer.VocabSize {
		return nil, fmt.Errorf("lstm: output bias: expected %d entries, got %d", scorer.VocabSize, len(w.Output.Bias))
	}
	m := &Model{w: w, stateful: w.Stateful}
	m.Reset()
	return m, nil
}

func checkMatrix(m [][]float64, rows, cols int) error {
	if len(m) != rows {
		return fmt.Errorf("expected %d rows, got %d", rows, len(m))
	}
	for i, row := range m {
		if len(row) != cols {
			return fmt.Errorf("row %d: expected %d columns, got %d", i, cols, len(row))
		}
	}
	return nil
}

// Load reads a JSON weights file.
func Load(r io.Reader) (*Model, error) {
	var w Weights
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode lstm weights: %w", err)
	}
	return New(w)
}

// LoadFile reads a JSON weights file from path.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// SetStateful makes PredictStream continue from the previous call.
func (m *Model) SetStateful(stateful bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateful = stateful
}

// Reset clears the implicit stream state.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = scorer.SeedSymbol
	m.state = m.InitialState()
}

func (m *Model) Properties() scorer.Properties {
	m.mu.Lock()
	defer m.mu.Unlock()
	return scorer.Properties{Stateful: m.stateful, Incremental: true, Depth: len(m.w.Layers)}
}

func (m *Model) InitialState() scorer.State {
	s := make(scorer.State, len(m.w.Layers))
	for i, l := range m.w.Layers {
		s[i] = make([]float64, 2*l.Units)
	}
	return s
}

// step consumes sym in state s and returns the next-symbol distribution and
// the successor state. s is not modified.
func (m *Model) step(sym byte, s scorer.State) (scorer.Distribution, scorer.State, error) {
	if len(s) != len(m.w.Layers) {
		return nil, nil, fmt.Errorf("lstm: state has %d layers, expected %d", len(s), len(m.w.Layers))
	}
	next := make(scorer.State, len(m.w.Layers))
	var x []float64 // nil means one-hot sym
	for li, l := range m.w.Layers {
		u := l.Units
		if len(s[li]) != 2*u {
			return nil, nil, fmt.Errorf("lstm: layer %d state has %d entries, expected %d", li, len(s[li]), 2*u)
		}
		h, c := s[li][:u], s[li][u:]

		z := append([]float64(nil), l.Bias...)
		if x == nil {
			addRow(z, l.Kernel[sym], 1)
		} else {
			for j, xv := range x {
				if xv != 0 {
					addRow(z, l.Kernel[j], xv)
				}
			}
		}
		for j, hv := range h {
			if hv != 0 {
				addRow(z, l.Recurrent[j], hv)
			}
		}

		out := make([]float64, 2*u)
		nh, nc := out[:u], out[u:]
		for k := 0; k < u; k++ {
			ig := sigmoid(z[k])
			fg := sigmoid(z[u+k])
			cg := math.Tanh(z[2*u+k])
			og := sigmoid(z[3*u+k])
			nc[k] = fg*c[k] + ig*cg
			nh[k] = og * math.Tanh(nc[k])
		}
		next[li] = out
		x = nh
	}

	logits := append([]float64(nil), m.w.Output.Bias...)
	for j, hv := range x {
		if hv != 0 {
			addRow(logits, m.w.Output.Kernel[j], hv)
		}
	}
	return softmax(logits), next, nil
}

func addRow(dst, row []float64, scale float64) {
	for k, v := range row {
		dst[k] += v * scale
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func softmax(logits []float64) scorer.Distribution {
	maxv := math.Inf(-1)
	for _, v := range logits {
		maxv = math.Max(maxv, v)
	}
	var sum float64
	out := make(scorer.Distribution, len(logits))
	for i, v := range logits {
		out[i] = math.Exp(v - maxv)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// parallelThreshold is the batch size from which prediction fans out over
// goroutines.
const parallelThreshold = 16

func (m *Model) PredictIncremental(ctx context.Context, symbols []byte, states []scorer.State) ([]scorer.Distribution, []scorer.State, error) {
	if err := scorer.CheckBatch(symbols, states); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	dists := make([]scorer.Distribution, len(symbols))
	next := make([]scorer.State, len(symbols))
	errs := make([]error, len(symbols))

	run := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			dists[i], next[i], errs[i] = m.step(symbols[i], states[i])
		}
	}
	if len(symbols) < parallelThreshold {
		run(0, len(symbols))
	} else {
		workers := min(runtime.GOMAXPROCS(0), len(symbols))
		per := (len(symbols) + workers - 1) / workers
		var wg sync.WaitGroup
		for lo := 0; lo < len(symbols); lo += per {
			hi := min(lo+per, len(symbols))
			wg.Add(1)
			go func() {
				defer wg.Done()
				run(lo, hi)
			}()
		}
		wg.Wait()
	}
	for i, err := range errs {
		if err != nil {
			return nil, nil, fmt.Errorf("batch item %d: %w", i, err)
		}
	}
	return dists, next, nil
}

func (m *Model) PredictStream(ctx context.Context, text []byte) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, state := scorer.SeedSymbol, m.InitialState()
	if m.stateful {
		last, state = m.last, m.state
	}
	probs, last, state, err := scorer.StreamFromIncremental(ctx, m, last, state, text)
	if err != nil {
		return nil, err
	}
	if m.stateful {
		m.last, m.state = last, state
	}
	return probs, nil
}
