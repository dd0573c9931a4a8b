package doctree

import (
	"slices"
	"testing"
)

func sampleDocument() *Document {
	word := &Element{ID: "w1", Level: LevelWord, Children: []*Element{
		NewTextElement("g1", LevelGlyph, "a"),
		NewTextElement("g2", LevelGlyph, "b"),
	}}
	line := &Element{ID: "l1", Level: LevelLine, Children: []*Element{word, NewTextElement("w2", LevelWord, "c")}}
	return &Document{ID: "d", Regions: []*Element{
		{ID: "r1", Level: LevelRegion, Children: []*Element{line}},
		NewTextElement("r2", LevelRegion, "tail"),
	}}
}

func TestWalkDocumentOrder(t *testing.T) {
	var ids []string
	sampleDocument().Walk(func(e *Element) bool {
		ids = append(ids, e.ID)
		return e.Level != LevelWord
	})
	want := []string{"r1", "l1", "w1", "w2", "r2"}
	if !slices.Equal(ids, want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
}

func TestIndexAndChoose(t *testing.T) {
	doc := sampleDocument()
	idx := doc.Index()
	if len(idx) != 7 {
		t.Fatalf("expected 7 indexed elements, got %d", len(idx))
	}
	g2 := idx["g2"]
	if g2 == nil || g2.Rated {
		t.Fatalf("expected unrated glyph g2, got %+v", g2)
	}
	g2.Choose(Alternative{Text: "h", Conf: 0.4})
	if !g2.Rated || len(g2.Alternatives) != 1 || g2.Alternatives[0].Text != "h" {
		t.Fatalf("unexpected chosen glyph %+v", g2)
	}
	if got := doc.Text(); got != "ah c\ntail" {
		t.Fatalf("expected %q, got %q", "ah c\ntail", got)
	}
}
