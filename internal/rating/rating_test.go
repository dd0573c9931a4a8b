package rating

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/lmrate/internal/decoder"
	"github.com/dgallion1/lmrate/internal/doctree"
	"github.com/dgallion1/lmrate/internal/lattice"
	"github.com/dgallion1/lmrate/internal/scorer"
)

// mapScorer predicts fixed byte probabilities (0.01 otherwise) and keeps
// the last byte as its state.
type mapScorer map[byte]float64

func (m mapScorer) Properties() scorer.Properties {
	return scorer.Properties{Incremental: true, Depth: 1}
}

func (m mapScorer) InitialState() scorer.State { return scorer.State{{0}} }

func (m mapScorer) PredictIncremental(_ context.Context, symbols []byte, states []scorer.State) ([]scorer.Distribution, []scorer.State, error) {
	dists := make([]scorer.Distribution, len(symbols))
	next := make([]scorer.State, len(symbols))
	for i, sym := range symbols {
		d := make(scorer.Distribution, scorer.VocabSize)
		for j := range d {
			d[j] = 0.01
		}
		for b, p := range m {
			d[b] = p
		}
		dists[i] = d
		next[i] = scorer.State{{float64(sym) * 100}}
	}
	return dists, next, nil
}

func (m mapScorer) PredictStream(ctx context.Context, text []byte) ([]float64, error) {
	probs, _, _, err := scorer.StreamFromIncremental(ctx, m, scorer.SeedSymbol, m.InitialState(), text)
	return probs, err
}

func elem(id string, texts ...string) *doctree.Element {
	e := &doctree.Element{ID: id, Level: doctree.LevelGlyph}
	for _, t := range texts {
		e.Alternatives = append(e.Alternatives, doctree.Alternative{Text: t, Conf: 0.9})
	}
	return e
}

func steps(elems ...*doctree.Element) []lattice.Step {
	out := make([]lattice.Step, 0, len(elems))
	for _, e := range elems {
		if e == nil {
			out = append(out, lattice.Step{Alternatives: []doctree.Alternative{{Text: " "}}})
			continue
		}
		out = append(out, lattice.Step{Element: e, Alternatives: e.Alternatives})
	}
	return out
}

func decode(t *testing.T, s scorer.Scorer, st []lattice.Step) *decoder.Result {
	t.Helper()
	d, err := decoder.New(s, decoder.DefaultConfig(), nil)
	require.NoError(t, err)
	res, err := d.Decode(context.Background(), st)
	require.NoError(t, err)
	return res
}

func TestFromPath_SingleAlternative(t *testing.T) {
	res := decode(t, mapScorer{'a': 0.5}, steps(elem("g1", "a")))

	r := FromPath(res)
	require.Len(t, r.Confidences, 1)
	assert.Equal(t, 0.5, r.Confidences[0].Conf)
	assert.Equal(t, "g1", r.Confidences[0].ElementID)
	assert.Equal(t, 2.0, r.Stats.BytePerplexity)
	assert.Equal(t, 0.5, r.Stats.AvgProb)
	assert.Equal(t, 2.0, r.Stats.ElementPerplexity)
	assert.False(t, r.Stats.Empty)
}

func TestFromPath_ConfidenceRangeAndPerplexityIdentity(t *testing.T) {
	s := mapScorer{'t': 0.3, 'h': 0.2, 'e': 0.4, ' ': 0.6, 'c': 1e-120}
	st := steps(
		elem("w1", "the", "tha", "te"),
		nil,
		elem("w2", "cat", "hat"),
		nil,
		elem("w3", "", "e"),
	)
	r := FromPath(decode(t, s, st))

	require.Len(t, r.Confidences, 5)
	for _, c := range r.Confidences {
		assert.Greater(t, c.Conf, 0.0, c.Text)
		assert.LessOrEqual(t, c.Conf, 1.0, c.Text)
	}
	assert.InDelta(t, math.Pow(2, -r.Stats.Entropy), r.Stats.AvgProb, 1e-15)
	assert.InDelta(t, 1/r.Stats.AvgProb, r.Stats.BytePerplexity, 1e-9*r.Stats.BytePerplexity)
	assert.InDelta(t, r.Stats.Cost/float64(r.Stats.Units), r.Stats.Entropy, 1e-15)
	assert.Equal(t, 5, r.Stats.Elements)
}

func TestFromPath_IsPure(t *testing.T) {
	res := decode(t, mapScorer{'a': 0.7, 'b': 0.2}, steps(elem("g1", "a", "b"), nil, elem("g2", "ab", "ba")))

	first := FromPath(res)
	second := FromPath(res)
	assert.Equal(t, first, second)
}

func TestFromPath_EmptyDocument(t *testing.T) {
	r := FromPath(decode(t, mapScorer{}, nil))

	assert.Empty(t, r.Confidences)
	assert.Equal(t, Stats{Empty: true}, r.Stats)
	_, err := json.Marshal(r.Summary())
	assert.NoError(t, err)
}

func TestFromPath_EmptyAlternativeIsCertain(t *testing.T) {
	r := FromPath(decode(t, mapScorer{}, steps(elem("g1", ""))))

	require.Len(t, r.Confidences, 1)
	assert.Equal(t, 1.0, r.Confidences[0].Conf)
	assert.True(t, r.Stats.Empty)
}

func TestApply_ChoosesAlternatives(t *testing.T) {
	g1 := elem("g1", "a", "b")
	g2 := elem("g2", "b", "a")
	r := FromPath(decode(t, mapScorer{'a': 0.8, 'b': 0.1}, steps(g1, nil, g2)))

	assert.Equal(t, 2, r.Apply())
	require.Len(t, g1.Alternatives, 1)
	assert.Equal(t, "a", g1.Alternatives[0].Text)
	assert.InDelta(t, 0.8, g1.Alternatives[0].Conf, 1e-12)
	require.Len(t, g2.Alternatives, 1)
	assert.Equal(t, "a", g2.Alternatives[0].Text)

	before := *g1
	r.Apply()
	assert.Equal(t, before.Alternatives, g1.Alternatives)
}

func TestFromStream_SlicesByFirstChoice(t *testing.T) {
	st := steps(elem("w1", "ab", "xx"), nil, elem("w2", "c"))
	r := FromStream(st, []float64{0.5, 0.25, 1, 0.5})

	require.Len(t, r.Confidences, 3)
	assert.Equal(t, 0.375, r.Confidences[0].Conf)
	assert.Equal(t, 1.0, r.Confidences[1].Conf)
	assert.True(t, r.Confidences[1].Separator())
	assert.Equal(t, 0.5, r.Confidences[2].Conf)
	assert.Empty(t, r.Warnings)

	assert.Equal(t, 4, r.Stats.Units)
	assert.Equal(t, 3, r.Stats.Elements)
	assert.InDelta(t, 1.0, r.Stats.Entropy, 1e-12) // (1+2+0+1)/4
	assert.InDelta(t, 2.0, r.Stats.BytePerplexity, 1e-12)
	assert.InDelta(t, math.Pow(2, 4.0/3), r.Stats.ElementPerplexity, 1e-12)
}

func TestFromStream_LengthMismatchIsReported(t *testing.T) {
	st := steps(elem("w1", "ab"), nil, elem("w2", "cd"))
	r := FromStream(st, []float64{0.5, 0.5, 0.5})

	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "off by 2 bytes")
	require.Len(t, r.Confidences, 2)
	assert.Equal(t, "w1", r.Confidences[0].ElementID)
	assert.False(t, r.Stats.Empty)
}

func TestFromStream_Empty(t *testing.T) {
	r := FromStream(nil, nil)
	assert.Equal(t, Stats{Empty: true}, r.Stats)
	assert.Empty(t, r.Warnings)
}

func TestStream_ScoresFirstChoices(t *testing.T) {
	st := steps(elem("g1", "a", "b"), nil, elem("g2", "a"))
	r, err := Stream(context.Background(), mapScorer{'a': 0.5, ' ': 0.25}, st)
	require.NoError(t, err)

	require.Len(t, r.Confidences, 3)
	assert.Equal(t, 0.5, r.Confidences[0].Conf)
	assert.Equal(t, 0.25, r.Confidences[1].Conf)
	assert.Equal(t, ModeStream, r.Mode)
}

func TestSummary_SkipsSeparators(t *testing.T) {
	st := steps(elem("g1", "a"), nil, elem("g2", "b"))
	s := FromStream(st, []float64{0.5, 0.5, 0.5}).Summary()

	require.Len(t, s.Elements, 2)
	assert.Equal(t, "g2", s.Elements[1].ID)
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"byte_perplexity":2`)
}
