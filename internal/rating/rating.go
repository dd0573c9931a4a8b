// Package rating turns a decode result, or a single-pass probability
// stream, into per-element confidences and perplexity statistics.
package rating

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/dgallion1/lmrate/internal/decoder"
	"github.com/dgallion1/lmrate/internal/doctree"
	"github.com/dgallion1/lmrate/internal/lattice"
	"github.com/dgallion1/lmrate/internal/scorer"
)

const probFloor = 1e-99

// Mode records how a rating was produced.
type Mode string

const (
	ModeAlternatives Mode = "alternatives"
	ModeStream       Mode = "stream"
)

// Confidence is the rated reading of one step.
type Confidence struct {
	Step      int              `json:"step"`
	Element   *doctree.Element `json:"-"`
	ElementID string           `json:"element_id,omitempty"` // empty for separators
	Text      string           `json:"text"`
	Conf      float64          `json:"conf"`
	Bytes     int              `json:"bytes"`
}

// Separator reports whether the confidence belongs to an inserted separator.
func (c Confidence) Separator() bool { return c.Element == nil }

// Stats are corpus-level aggregates. Empty is set when there was nothing
// to rate, in which case every other field is zero.
type Stats struct {
	Empty             bool    `json:"empty"`
	Units             int     `json:"units"`    // bytes scored
	Elements          int     `json:"elements"` // elements and separators scored
	Cost              float64 `json:"cost"`     // total -log2 probability
	Entropy           float64 `json:"entropy"`  // Cost / Units
	AvgProb           float64 `json:"avg_prob"`
	BytePerplexity    float64 `json:"byte_perplexity"`
	ElementPerplexity float64 `json:"element_perplexity"`
}

func newStats(cost float64, units, elements int) Stats {
	if units == 0 || elements == 0 {
		return Stats{Empty: true}
	}
	h := cost / float64(units)
	return Stats{
		Units:             units,
		Elements:          elements,
		Cost:              cost,
		Entropy:           h,
		AvgProb:           math.Pow(2, -h),
		BytePerplexity:    math.Pow(2, h),
		ElementPerplexity: math.Pow(2, h*float64(units)/float64(elements)),
	}
}

// Rating is the outcome for one document.
type Rating struct {
	Mode        Mode         `json:"mode"`
	Confidences []Confidence `json:"confidences"`
	Stats       Stats        `json:"stats"`
	Warnings    []string     `json:"warnings,omitempty"`
}

// FromPath rates the best path of res. Each alternative's confidence is
// the geometric mean of its byte probabilities, 2^(-Δcost/bytes); an
// alternative without bytes gets 1. It does not modify res.
func FromPath(res *decoder.Result) Rating {
	choices := res.Choices()
	r := Rating{Mode: ModeAlternatives, Confidences: make([]Confidence, 0, len(choices))}
	units := 0
	for _, c := range choices {
		conf := 1.0
		if c.Bytes > 0 {
			conf = math.Pow(2, -c.DeltaCost/float64(c.Bytes))
		}
		units += c.Bytes
		r.Confidences = append(r.Confidences, newConfidence(c.Step, c.Element, c.Alternative.Text, conf, c.Bytes))
	}
	r.Stats = newStats(res.Cost(), units, len(choices))
	return r
}

// FromStream rates the first-choice reading of steps from per-byte
// probabilities of their concatenation. Each element's confidence is the
// arithmetic mean of its window. A length mismatch between the text and
// probs is recorded as a warning and the windows are cut best-effort.
func FromStream(steps []lattice.Step, probs []float64) Rating {
	r := Rating{Mode: ModeStream, Confidences: make([]Confidence, 0, len(steps))}
	elements := 0
	i := 0
	for si, st := range steps {
		if len(st.Alternatives) == 0 {
			continue
		}
		text := st.Alternatives[0].Text
		n := len(text)
		lo, hi := min(i, len(probs)), min(i+n, len(probs))
		i += n
		elements++
		if n > 0 && lo == hi {
			continue
		}
		conf := 1.0
		if hi > lo {
			var sum float64
			for _, p := range probs[lo:hi] {
				sum += p
			}
			conf = math.Min(math.Max(sum/float64(hi-lo), probFloor), 1)
		}
		r.Confidences = append(r.Confidences, newConfidence(si, st.Element, text, conf, n))
	}
	if i != len(probs) {
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"input text length and output scores length are off by %d bytes", i-len(probs)))
	}

	var cost float64
	for _, p := range probs {
		cost += -math.Log2(math.Max(p, probFloor))
	}
	r.Stats = newStats(cost, len(probs), elements)
	return r
}

// Stream scores the first-choice text of steps in one pass.
func Stream(ctx context.Context, s scorer.Scorer, steps []lattice.Step) (Rating, error) {
	text := lattice.FirstChoiceText(steps)
	probs, err := s.PredictStream(ctx, []byte(text))
	if err != nil {
		return Rating{}, fmt.Errorf("predict stream: %w", err)
	}
	return FromStream(steps, probs), nil
}

func newConfidence(step int, e *doctree.Element, text string, conf float64, n int) Confidence {
	c := Confidence{Step: step, Element: e, Text: text, Conf: conf, Bytes: n}
	if e != nil {
		c.ElementID = e.ID
	}
	return c
}

// Apply writes each rated reading back into its element as the sole
// alternative. Separators are skipped. Applying twice is a no-op.
func (r Rating) Apply() int {
	n := 0
	for _, c := range r.Confidences {
		if c.Element == nil {
			continue
		}
		c.Element.Choose(doctree.Alternative{Text: c.Text, Conf: c.Conf})
		n++
	}
	return n
}

// Log emits the summary line for a document rated at level.
func (r Rating) Log(log *slog.Logger, level doctree.Level) {
	if r.Stats.Empty {
		log.Info("nothing to rate", "mode", string(r.Mode))
		return
	}
	log.Info("rating finished",
		"mode", string(r.Mode),
		"avg", round3(r.Stats.AvgProb),
		"byte_ppl", round3(r.Stats.BytePerplexity),
		level.String()+"_ppl", round3(r.Stats.ElementPerplexity),
	)
	for _, w := range r.Warnings {
		log.Warn(w)
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// ElementSummary is the rated reading of one element.
type ElementSummary struct {
	ID   string  `json:"id"`
	Text string  `json:"text"`
	Conf float64 `json:"conf"`
}

// Summary is the JSON form of a rating with separators left out.
type Summary struct {
	Mode     Mode             `json:"mode"`
	Stats    Stats            `json:"stats"`
	Elements []ElementSummary `json:"elements"`
	Warnings []string         `json:"warnings,omitempty"`
}

func (r Rating) Summary() Summary {
	s := Summary{
		Mode:     r.Mode,
		Stats:    r.Stats,
		Elements: make([]ElementSummary, 0, len(r.Confidences)),
		Warnings: r.Warnings,
	}
	for _, c := range r.Confidences {
		if c.Element == nil {
			continue
		}
		s.Elements = append(s.Elements, ElementSummary{ID: c.ElementID, Text: c.Text, Conf: c.Conf})
	}
	return s
}
