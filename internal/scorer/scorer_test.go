package scorer

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingScorer predicts that the next byte equals the last one with
// probability 0.5 and spreads the rest uniformly. Its state counts the
// bytes consumed so far.
type countingScorer struct {
	calls int
	fail  error
}

func (c *countingScorer) Properties() Properties {
	return Properties{Incremental: true, Depth: 1}
}

func (c *countingScorer) InitialState() State { return State{{0}} }

func (c *countingScorer) PredictIncremental(_ context.Context, symbols []byte, states []State) ([]Distribution, []State, error) {
	if err := CheckBatch(symbols, states); err != nil {
		return nil, nil, err
	}
	c.calls++
	if c.fail != nil {
		return nil, nil, c.fail
	}
	dists := make([]Distribution, len(symbols))
	next := make([]State, len(symbols))
	for i, sym := range symbols {
		d := make(Distribution, VocabSize)
		for j := range d {
			d[j] = 0.5 / (VocabSize - 1)
		}
		d[sym] = 0.5
		dists[i] = d
		next[i] = State{{states[i][0][0] + 1}}
	}
	return dists, next, nil
}

func (c *countingScorer) PredictStream(ctx context.Context, text []byte) ([]float64, error) {
	probs, _, _, err := StreamFromIncremental(ctx, c, SeedSymbol, c.InitialState(), text)
	return probs, err
}

func TestStateDistance(t *testing.T) {
	a := State{{0, 0}, {1, 1}}
	b := State{{3, 4}, {1, 1}}

	assert.InDelta(t, 5.0, a.Distance(b, 0), 1e-12)
	assert.Zero(t, a.Distance(b, 1))
	// missing layer compares against an empty vector
	assert.InDelta(t, math.Sqrt(2), a.Distance(State{{0, 0}}, 1), 1e-12)
}

func TestStateClone(t *testing.T) {
	a := State{{1, 2}}
	b := a.Clone()
	b[0][0] = 9
	assert.Equal(t, 1.0, a[0][0])
	assert.Nil(t, State(nil).Clone())
}

func TestDistributionProb(t *testing.T) {
	d := Distribution{0.25, 0.75}
	assert.Equal(t, 0.75, d.Prob(1))
	assert.Zero(t, d.Prob('z'))
}

func TestCheckBatch(t *testing.T) {
	err := CheckBatch([]byte{'a'}, nil)
	assert.True(t, errors.Is(err, ErrBatchMismatch))
	assert.NoError(t, CheckBatch([]byte{'a'}, []State{nil}))
}

func TestStreamFromIncremental(t *testing.T) {
	s := &countingScorer{}
	probs, last, state, err := StreamFromIncremental(context.Background(), s, SeedSymbol, s.InitialState(), []byte("\naab"))
	require.NoError(t, err)

	want := []float64{0.5, 0.5 / 255, 0.5, 0.5 / 255}
	require.Len(t, probs, len(want))
	for i := range want {
		assert.InDelta(t, want[i], probs[i], 1e-12, "byte %d", i)
	}
	assert.Equal(t, byte('b'), last)
	assert.Equal(t, State{{4}}, state)
	assert.Equal(t, 4, s.calls)
}

func TestStreamFromIncremental_PropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	s := &countingScorer{fail: boom}
	_, _, _, err := StreamFromIncremental(context.Background(), s, SeedSymbol, s.InitialState(), []byte("x"))
	assert.ErrorIs(t, err, boom)
}

func TestStreamFromIncremental_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &countingScorer{}
	_, _, _, err := StreamFromIncremental(ctx, s, SeedSymbol, s.InitialState(), []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.calls)
}

func TestInstrumentRecordsStats(t *testing.T) {
	s := Instrument(&countingScorer{}, nil)
	_, err := s.PredictStream(context.Background(), []byte("abc"))
	require.NoError(t, err)

	snap := s.Stats.Snapshot()
	assert.Equal(t, 1, snap.Count)
	assert.Equal(t, 3, snap.Symbols)
}

// carryingScorer continues every stream from the last byte of the previous
// one until Reset.
type carryingScorer struct {
	countingScorer
	last byte
}

func newCarryingScorer() *carryingScorer { return &carryingScorer{last: SeedSymbol} }

func (c *carryingScorer) Properties() Properties {
	return Properties{Stateful: true, Incremental: true, Depth: 1}
}

func (c *carryingScorer) Reset() { c.last = SeedSymbol }

func (c *carryingScorer) PredictStream(ctx context.Context, text []byte) ([]float64, error) {
	probs, last, _, err := StreamFromIncremental(ctx, c, c.last, c.InitialState(), text)
	c.last = last
	return probs, err
}

func TestIsolateRestartsStatefulStreams(t *testing.T) {
	ctx := context.Background()
	raw := newCarryingScorer()
	first, err := raw.PredictStream(ctx, []byte("ab"))
	require.NoError(t, err)
	_, err = raw.PredictStream(ctx, []byte("xa"))
	require.NoError(t, err)
	again, err := raw.PredictStream(ctx, []byte("ab"))
	require.NoError(t, err)
	require.NotEqual(t, first, again, "unwrapped scorer should carry state")

	s := Isolate(Instrument(newCarryingScorer(), nil))
	first, err = s.PredictStream(ctx, []byte("ab"))
	require.NoError(t, err)
	_, err = s.PredictStream(ctx, []byte("xa"))
	require.NoError(t, err)
	again, err = s.PredictStream(ctx, []byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestIsolateLeavesStatelessScorers(t *testing.T) {
	s := &countingScorer{}
	assert.Same(t, s, Isolate(s))

	iso := Isolate(newCarryingScorer())
	assert.Same(t, iso, Isolate(iso))
}
