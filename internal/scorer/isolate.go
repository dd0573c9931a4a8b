package scorer

import (
	"context"
	"sync"
)

// Resetter is implemented by stateful scorers whose implicit stream state
// can be cleared.
type Resetter interface {
	Reset()
}

// Reset clears the implicit state of s when it has any.
func Reset(s Scorer) {
	if r, ok := s.(Resetter); ok {
		r.Reset()
	}
}

// Reset forwards to the wrapped scorer.
func (i *Instrumented) Reset() { Reset(i.Scorer) }

// Isolated runs every PredictStream call of a stateful scorer from the
// initial state, one call at a time, so a document's stream rating never
// depends on the documents scored before it.
type Isolated struct {
	Scorer
	mu sync.Mutex
}

// Isolate wraps s when it is stateful and returns it unchanged otherwise.
func Isolate(s Scorer) Scorer {
	if _, ok := s.(*Isolated); ok || !s.Properties().Stateful {
		return s
	}
	return &Isolated{Scorer: s}
}

func (i *Isolated) PredictStream(ctx context.Context, text []byte) ([]float64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	Reset(i.Scorer)
	return i.Scorer.PredictStream(ctx, text)
}
