package doctree

import (
	"fmt"
	"strings"
)

// Level is the granularity of an element in the document hierarchy.
type Level int

const (
	LevelRegion Level = iota
	LevelLine
	LevelWord
	LevelGlyph
)

func (l Level) String() string {
	switch l {
	case LevelRegion:
		return "region"
	case LevelLine:
		return "line"
	case LevelWord:
		return "word"
	case LevelGlyph:
		return "glyph"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel maps a level name to its Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "region":
		return LevelRegion, nil
	case "line":
		return LevelLine, nil
	case "word":
		return LevelWord, nil
	case "glyph":
		return LevelGlyph, nil
	}
	return 0, fmt.Errorf("unknown text level: %q", s)
}

// Alternative is one candidate reading of an element.
type Alternative struct {
	Text string  `json:"text"`
	Conf float64 `json:"conf"` // 0 when the input carries no confidence
}

// Element is an addressable unit of a document (region, line, word or glyph).
type Element struct {
	ID           string        `json:"id"`
	Level        Level         `json:"level"`
	Alternatives []Alternative `json:"alternatives"`
	Children     []*Element    `json:"children,omitempty"`
	Rated        bool          `json:"rated,omitempty"` // set by Choose
}

// Choose replaces the element's alternatives with the single surviving one
// and marks the element as rated.
func (e *Element) Choose(alt Alternative) {
	e.Alternatives = []Alternative{alt}
	e.Rated = true
}

// Index maps element IDs to elements. Elements without an ID are left out.
func (d *Document) Index() map[string]*Element {
	idx := make(map[string]*Element)
	d.Walk(func(e *Element) bool {
		if e.ID != "" {
			idx[e.ID] = e
		}
		return true
	})
	return idx
}

// Document is the root of a parsed document.
type Document struct {
	ID      string     // Document identifier (from metadata or filename)
	Title   string     // Document title
	Regions []*Element // Top-level text regions in reading order
}

// Walk visits every element depth-first in document order.
// Returning false from fn skips the element's children.
func (d *Document) Walk(fn func(e *Element) bool) {
	var walk func(elems []*Element)
	walk = func(elems []*Element) {
		for _, e := range elems {
			if fn(e) {
				walk(e.Children)
			}
		}
	}
	walk(d.Regions)
}

// Text returns the first-choice text of the document with newlines between
// regions and lines and spaces between words.
func (d *Document) Text() string {
	var sb strings.Builder
	for i, region := range d.Regions {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(elementText(region))
	}
	return sb.String()
}

func elementText(e *Element) string {
	if len(e.Children) == 0 {
		if len(e.Alternatives) == 0 {
			return ""
		}
		return e.Alternatives[0].Text
	}
	sep := ""
	switch e.Level {
	case LevelRegion:
		sep = "\n"
	case LevelLine:
		sep = " "
	}
	parts := make([]string, 0, len(e.Children))
	for _, c := range e.Children {
		parts = append(parts, elementText(c))
	}
	return strings.Join(parts, sep)
}

// NewTextElement builds an element with a single certain alternative.
func NewTextElement(id string, level Level, text string) *Element {
	return &Element{
		ID:           id,
		Level:        level,
		Alternatives: []Alternative{{Text: text, Conf: 1}},
	}
}
