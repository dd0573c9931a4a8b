package ngram

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/lmrate/internal/scorer"
)

func trained(t *testing.T, order int) *Model {
	t.Helper()
	m, err := New(order, 1)
	require.NoError(t, err)
	for range 20 {
		m.Train([]byte("the cat sat on the mat\n"))
	}
	return m
}

func TestNew_InvalidOrder(t *testing.T) {
	_, err := New(0, 1)
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestDistributionSumsToOne(t *testing.T) {
	m := trained(t, 3)
	for _, ctx := range [][]byte{{'t', 'h'}, {'x', 'q'}, {0, 0}} {
		var sum float64
		for _, p := range m.distribution(ctx) {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "context %q", ctx)
	}
}

func TestPredictIncremental_PrefersSeenContinuation(t *testing.T) {
	m := trained(t, 3)
	ctx := context.Background()

	probs, err := m.PredictStream(ctx, []byte("the cat"))
	require.NoError(t, err)
	require.Len(t, probs, 7)

	other, err := m.PredictStream(ctx, []byte("the cqt"))
	require.NoError(t, err)
	assert.Greater(t, probs[5], other[5], "'a' after \"c\" should beat 'q'")
}

func TestPredictIncremental_Deterministic(t *testing.T) {
	m := trained(t, 2)
	ctx := context.Background()
	init := m.InitialState()

	d1, s1, err := m.PredictIncremental(ctx, []byte{'\n', 't'}, []scorer.State{init, init})
	require.NoError(t, err)
	d2, s2, err := m.PredictIncremental(ctx, []byte{'\n'}, []scorer.State{init})
	require.NoError(t, err)

	assert.Equal(t, d1[0], d2[0])
	assert.Equal(t, s1[0], s2[0])
	assert.NotEqual(t, s1[0], s1[1])
}

func TestPredictIncremental_BatchMismatch(t *testing.T) {
	m := trained(t, 2)
	_, _, err := m.PredictIncremental(context.Background(), []byte{'a'}, nil)
	assert.ErrorIs(t, err, scorer.ErrBatchMismatch)
}

func TestStateDistanceSeparatesContexts(t *testing.T) {
	m := trained(t, 3)
	a := m.encode([]byte("ab"))
	b := m.encode([]byte("ac"))
	assert.Equal(t, 0.0, a.Distance(m.encode([]byte("ab")), 0))
	assert.GreaterOrEqual(t, a.Distance(b, 0), StateScale)
}

func TestStatefulStreamContinues(t *testing.T) {
	m := trained(t, 3)
	ctx := context.Background()

	whole, err := m.PredictStream(ctx, []byte("the cat"))
	require.NoError(t, err)

	m.SetStateful(true)
	first, err := m.PredictStream(ctx, []byte("the "))
	require.NoError(t, err)
	second, err := m.PredictStream(ctx, []byte("cat"))
	require.NoError(t, err)
	assert.Equal(t, whole, append(first, second...))

	m.Reset()
	again, err := m.PredictStream(ctx, []byte("the "))
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestSaveLoadRoundTripPreservesPredictions(t *testing.T) {
	m := trained(t, 3)
	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Order())

	ctx := context.Background()
	want, err := m.PredictStream(ctx, []byte("on the mat"))
	require.NoError(t, err)
	got, err := loaded.PredictStream(ctx, []byte("on the mat"))
	require.NoError(t, err)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-12)
	}
}

func TestUntrainedModelIsUniform(t *testing.T) {
	m, err := New(2, 1)
	require.NoError(t, err)
	probs, err := m.PredictStream(context.Background(), []byte("xy"))
	require.NoError(t, err)
	for _, p := range probs {
		assert.InDelta(t, 1.0/256, p, 1e-12)
	}
	assert.False(t, math.IsNaN(probs[0]))
}
