// Package ngram is a byte-level n-gram language model implementing the
// scorer contract. Its recurrent state is simply the last n-1 bytes, so
// history clustering merges exactly the hypotheses with identical context.
package ngram

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dgallion1/lmrate/internal/scorer"
)

// StateScale spreads byte values in the state vector so that two distinct
// contexts are at least this far apart.
const StateScale = 16.0

// ErrInvalidOrder is returned for orders below 1.
var ErrInvalidOrder = errors.New("ngram: order must be at least 1")

// Model is a byte n-gram model with recursive interpolation towards
// shorter contexts:
//
//	P_k(b|h) = (c(h,b) + β·P_{k-1}(b|h')) / (c(h) + β)
//
// bottoming out in an add-one unigram.
type Model struct {
	order     int
	smoothing float64
	counts    []map[string]*[scorer.VocabSize]uint32 // by context length
	totals    []map[string]uint64

	stateful bool
	mu       sync.Mutex
	last     byte
	state    scorer.State
}

// New returns an empty model of the given order.
func New(order int, smoothing float64) (*Model, error) {
	if order < 1 {
		return nil, ErrInvalidOrder
	}
	if smoothing <= 0 {
		smoothing = 1
	}
	m := &Model{
		order:     order,
		smoothing: smoothing,
		counts:    make([]map[string]*[scorer.VocabSize]uint32, order),
		totals:    make([]map[string]uint64, order),
	}
	for k := range order {
		m.counts[k] = make(map[string]*[scorer.VocabSize]uint32)
		m.totals[k] = make(map[string]uint64)
	}
	m.Reset()
	return m, nil
}

// Order returns n.
func (m *Model) Order() int { return m.order }

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

// Train adds the byte counts of one document. Every document starts in the
// initial state with the seed symbol, exactly as it is scored.
func (m *Model) Train(text []byte) {
	ctx := make([]byte, m.order-1)
	last := scorer.SeedSymbol
	for _, b := range text {
		ctx = shift(ctx, last)
		m.count(ctx, b)
		last = b
	}
}

func (m *Model) count(ctx []byte, b byte) {
	for k := 0; k < m.order; k++ {
		key := string(ctx[len(ctx)-k:])
		c, ok := m.counts[k][key]
		if !ok {
			c = new([scorer.VocabSize]uint32)
			m.counts[k][key] = c
		}
		c[b]++
		m.totals[k][key]++
	}
}

func shift(ctx []byte, b byte) []byte {
	if len(ctx) == 0 {
		return ctx
	}
	next := make([]byte, len(ctx))
	copy(next, ctx[1:])
	next[len(next)-1] = b
	return next
}

// distribution returns P(·|ctx) for a context of length order-1.
func (m *Model) distribution(ctx []byte) scorer.Distribution {
	dist := make(scorer.Distribution, scorer.VocabSize)
	unigram := m.counts[0][""]
	total := float64(m.totals[0][""])
	for b := range dist {
		var c float64
		if unigram != nil {
			c = float64(unigram[b])
		}
		dist[b] = (c + 1) / (total + scorer.VocabSize)
	}
	for k := 1; k < m.order; k++ {
		key := string(ctx[len(ctx)-k:])
		counts, ok := m.counts[k][key]
		if !ok {
			break // longer contexts are unseen too
		}
		t := float64(m.totals[k][key])
		for b := range dist {
			dist[b] = (float64(counts[b]) + m.smoothing*dist[b]) / (t + m.smoothing)
		}
	}
	return dist
}

func (m *Model) encode(ctx []byte) scorer.State {
	v := make([]float64, len(ctx))
	for i, b := range ctx {
		v[i] = float64(b) * StateScale
	}
	return scorer.State{v}
}

func (m *Model) decode(s scorer.State) ([]byte, error) {
	ctx := make([]byte, m.order-1)
	if len(s) == 0 {
		return ctx, nil
	}
	if len(s[0]) != len(ctx) {
		return nil, fmt.Errorf("ngram: state has %d entries, expected %d", len(s[0]), len(ctx))
	}
	for i, v := range s[0] {
		ctx[i] = byte(v / StateScale)
	}
	return ctx, nil
}

func (m *Model) Properties() scorer.Properties {
	m.mu.Lock()
	defer m.mu.Unlock()
	return scorer.Properties{Stateful: m.stateful, Incremental: true, Depth: 1}
}

func (m *Model) InitialState() scorer.State {
	return m.encode(make([]byte, m.order-1))
}

func (m *Model) PredictIncremental(ctx context.Context, symbols []byte, states []scorer.State) ([]scorer.Distribution, []scorer.State, error) {
	if err := scorer.CheckBatch(symbols, states); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	dists := make([]scorer.Distribution, len(symbols))
	next := make([]scorer.State, len(symbols))
	for i, sym := range symbols {
		hist, err := m.decode(states[i])
		if err != nil {
			return nil, nil, err
		}
		hist = shift(hist, sym)
		dists[i] = m.distribution(hist)
		next[i] = m.encode(hist)
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

type modelFile struct {
	Order     int                   `json:"order"`
	Smoothing float64               `json:"smoothing"`
	Counts    []map[string][]uint32 `json:"counts"` // hex-encoded context -> counts
}

// Save writes the model as JSON.
func (m *Model) Save(w io.Writer) error {
	mf := modelFile{Order: m.order, Smoothing: m.smoothing, Counts: make([]map[string][]uint32, m.order)}
	for k := range m.order {
		mf.Counts[k] = make(map[string][]uint32, len(m.counts[k]))
		for key, c := range m.counts[k] {
			mf.Counts[k][hex.EncodeToString([]byte(key))] = append([]uint32(nil), c[:]...)
		}
	}
	if err := json.NewEncoder(w).Encode(mf); err != nil {
		return fmt.Errorf("encode ngram model: %w", err)
	}
	return nil
}

// Load reads a model written by Save.
func Load(r io.Reader) (*Model, error) {
	var mf modelFile
	if err := json.NewDecoder(r).Decode(&mf); err != nil {
		return nil, fmt.Errorf("decode ngram model: %w", err)
	}
	m, err := New(mf.Order, mf.Smoothing)
	if err != nil {
		return nil, err
	}
	if len(mf.Counts) != mf.Order {
		return nil, fmt.Errorf("ngram model: %d count tables for order %d", len(mf.Counts), mf.Order)
	}
	for k, table := range mf.Counts {
		for hexKey, counts := range table {
			key, err := hex.DecodeString(hexKey)
			if err != nil {
				return nil, fmt.Errorf("ngram model: context %q: %w", hexKey, err)
			}
			if len(key) != k || len(counts) != scorer.VocabSize {
				return nil, fmt.Errorf("ngram model: malformed entry %q at order %d", hexKey, k)
			}
			var c [scorer.VocabSize]uint32
			var total uint64
			for b, n := range counts {
				c[b] = n
				total += uint64(n)
			}
			m.counts[k][string(key)] = &c
			m.totals[k][string(key)] = total
		}
	}
	return m, nil
}

// LoadFile reads a model from path.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
