// Package lattice turns a document hierarchy into the ordered sequence of
// decoding steps, each carrying the filtered alternatives of one element or
// a separator the language model needs between elements.
package lattice

import (
	"log/slog"
	"strings"

	"github.com/dgallion1/lmrate/internal/doctree"
)

// Step pairs an element with its candidate readings. A nil Element marks an
// inserted separator (space or newline) with exactly one alternative.
type Step struct {
	Element      *doctree.Element
	Alternatives []doctree.Alternative
}

// IsSeparator reports whether the step was inserted between elements.
func (s Step) IsSeparator() bool { return s.Element == nil }

// Config controls lattice construction.
type Config struct {
	Level           doctree.Level // Granularity at which text is read.
	ChoiceLimit     int           // Maximum alternatives per element.
	ChoiceThreshold float64       // Maximum conf drop from the best alternative.
	AddSpaceGlyphs  bool          // Materialize separators as pseudo glyphs (glyph level only).
}

// DefaultConfig returns the defaults used by the rating processor.
func DefaultConfig() Config {
	return Config{
		Level:           doctree.LevelGlyph,
		ChoiceLimit:     4,
		ChoiceThreshold: 0.1,
	}
}

func separator(text string) Step {
	return Step{Alternatives: []doctree.Alternative{{Text: text}}}
}

// Build walks doc region → line → word → glyph, truncated at cfg.Level,
// and returns the steps in reading order. Newlines separate regions and
// lines, spaces separate words. Elements without any alternative are
// logged and left out.
func Build(doc *doctree.Document, cfg Config, log *slog.Logger) []Step {
	if cfg.ChoiceLimit <= 0 {
		cfg.ChoiceLimit = 4
	}
	if log == nil {
		log = slog.Default()
	}
	b := &builder{cfg: cfg, log: log}

	if len(doc.Regions) == 0 {
		log.Warn("page contains no text regions", "doc_id", doc.ID)
	}
	firstRegion := true
	for _, region := range doc.Regions {
		if cfg.Level == doctree.LevelRegion {
			if !firstRegion {
				b.steps = append(b.steps, separator("\n"))
			}
			firstRegion = false
			b.add(region)
			continue
		}
		if len(region.Children) == 0 {
			log.Warn("region contains no text lines", "region_id", region.ID)
		}
		firstLine := true
		for _, line := range region.Children {
			if cfg.Level == doctree.LevelLine {
				if !firstLine || !firstRegion {
					b.steps = append(b.steps, separator("\n"))
				}
				firstLine = false
				b.add(line)
				continue
			}
			if len(line.Children) == 0 {
				log.Warn("line contains no words", "line_id", line.ID)
			}
			firstWord := true
			for _, word := range line.Children {
				sep := ""
				if !firstWord {
					sep = " "
				} else if !firstLine || !firstRegion {
					sep = "\n"
				}
				firstWord = false

				if cfg.Level == doctree.LevelWord {
					if sep != "" {
						b.steps = append(b.steps, separator(sep))
					}
					b.add(word)
					continue
				}

				if sep != "" {
					if cfg.AddSpaceGlyphs {
						addSpaceGlyph(word, sep)
					} else {
						b.steps = append(b.steps, separator(sep))
					}
				}
				if len(word.Children) == 0 {
					log.Warn("word contains no glyphs", "word_id", word.ID)
				}
				for _, glyph := range word.Children {
					b.add(glyph)
				}
			}
			firstLine = false
		}
		firstRegion = false
	}
	return b.steps
}

// addSpaceGlyph prepends a pseudo glyph carrying sep to word, once.
func addSpaceGlyph(word *doctree.Element, sep string) {
	id := word.ID + "_space"
	if len(word.Children) > 0 && word.Children[0].ID == id {
		return
	}
	space := &doctree.Element{
		ID:           id,
		Level:        doctree.LevelGlyph,
		Alternatives: []doctree.Alternative{{Text: sep}},
	}
	word.Children = append([]*doctree.Element{space}, word.Children...)
}

type builder struct {
	cfg   Config
	log   *slog.Logger
	steps []Step
}

func (b *builder) add(e *doctree.Element) {
	if len(e.Alternatives) == 0 {
		b.log.Warn("element contains no text results", "level", e.Level.String(), "id", e.ID)
		return
	}
	b.log.Debug("getting text", "level", e.Level.String(), "id", e.ID)
	b.steps = append(b.steps, Step{
		Element:      e,
		Alternatives: FilterChoices(e.Alternatives, b.cfg.ChoiceLimit, b.cfg.ChoiceThreshold),
	})
}

// FilterChoices keeps at most limit alternatives and drops those whose
// confidence is threshold or more below the first one. Alternatives are
// assumed to be ranked by input confidence already. When the first
// alternative has no confidence, only the limit applies.
func FilterChoices(alts []doctree.Alternative, limit int, threshold float64) []doctree.Alternative {
	if limit > 0 && len(alts) > limit {
		alts = alts[:limit]
	}
	if len(alts) == 0 {
		return nil
	}
	conf0 := alts[0].Conf
	out := make([]doctree.Alternative, 0, len(alts))
	for i, alt := range alts {
		if i == 0 || conf0 == 0 || conf0-alt.Conf < threshold {
			out = append(out, alt)
		}
	}
	return out
}

// FirstChoiceText concatenates the first alternative of every step. It is
// the input of a single-pass stream rating.
func FirstChoiceText(steps []Step) string {
	var sb strings.Builder
	for _, s := range steps {
		if len(s.Alternatives) > 0 {
			sb.WriteString(s.Alternatives[0].Text)
		}
	}
	return sb.String()
}
