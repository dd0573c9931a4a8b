package parser

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/dgallion1/lmrate/internal/doctree"
	"github.com/dgallion1/lmrate/internal/lattice"
)

const ratedPage = `<?xml version="1.0" encoding="UTF-8"?>
<!-- scanned -->
<PcGts xmlns="http://schema.primaresearch.org/PAGE/gts/pagecontent/2019-07-15" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:schemaLocation="a b" pcGtsId="p1">
  <Metadata><Creator>ocr &amp; co</Creator></Metadata>
  <Page imageFilename="p1.png" imageWidth="100" imageHeight="40">
    <TextRegion id="r1">
      <Coords points="0,0 100,0 100,40 0,40"/>
      <TextLine id="l1">
        <Word id="w1">
          <Coords points="0,0 20,0 20,10 0,10"/>
          <Glyph id="w1_g1"><Coords points="0,0 10,0 10,10 0,10"/><TextEquiv conf="0.9"><Unicode>a</Unicode></TextEquiv><TextEquiv conf="0.85"><Unicode>o</Unicode></TextEquiv></Glyph>
          <TextEquiv conf="0.9"><Unicode>a</Unicode></TextEquiv>
        </Word>
        <Word id="w2">
          <Coords points="30,0 50,0 50,10 30,10"/>
          <Glyph id="w2_g1"><TextEquiv conf="0.8"><Unicode>b</Unicode></TextEquiv><TextEquiv conf="0.75"><Unicode>h</Unicode></TextEquiv></Glyph>
          <TextEquiv><Unicode>b</Unicode></TextEquiv>
        </Word>
      </TextLine>
    </TextRegion>
  </Page>
</PcGts>`

// chooseLast rates every step with its last alternative.
func chooseLast(t *testing.T, doc *doctree.Document) {
	t.Helper()
	cfg := lattice.Config{Level: doctree.LevelGlyph, ChoiceLimit: 4, ChoiceThreshold: 0.1, AddSpaceGlyphs: true}
	steps := lattice.Build(doc, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, st := range steps {
		if st.Element == nil {
			continue
		}
		alt := st.Alternatives[len(st.Alternatives)-1]
		st.Element.Choose(doctree.Alternative{Text: alt.Text, Conf: 0.5})
	}
}

func rewrite(t *testing.T, src string, doc *doctree.Document) string {
	t.Helper()
	var out bytes.Buffer
	step := ProcessingStep{
		Name:   "recognition/text-recognition",
		Value:  "lmrate",
		Labels: []Label{{Type: "level", Value: "glyph"}, {Type: "beam_width", Value: "100"}},
	}
	if err := WritePageXML(&out, strings.NewReader(src), doc, step); err != nil {
		t.Fatalf("write page xml: %v", err)
	}
	return out.String()
}

func TestWritePageXML_ReplacesRatedTextEquivs(t *testing.T) {
	p := &PageXMLParser{}
	doc, err := p.Parse(strings.NewReader(ratedPage), "p1.xml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	chooseLast(t, doc)
	out := rewrite(t, ratedPage, doc)

	back, err := p.Parse(strings.NewReader(out), "p1.xml")
	if err != nil {
		t.Fatalf("reparse rewritten page: %v\n%s", err, out)
	}
	w1 := back.Regions[0].Children[0].Children[0]
	if got := w1.Children[0].Alternatives; len(got) != 1 || got[0].Text != "o" || got[0].Conf != 0.5 {
		t.Errorf("expected glyph w1_g1 rewritten to o@0.5, got %+v", got)
	}
	if got := w1.Alternatives; len(got) != 1 || got[0].Text != "a" || got[0].Conf != 0.9 {
		t.Errorf("expected unrated word w1 unchanged, got %+v", got)
	}

	w2 := back.Regions[0].Children[0].Children[1]
	if len(w2.Children) != 2 {
		t.Fatalf("expected space glyph plus w2_g1, got %d glyphs", len(w2.Children))
	}
	space := w2.Children[0]
	if space.ID != "w2_space" || space.Alternatives[0].Text != " " || space.Alternatives[0].Conf != 0.5 {
		t.Errorf("unexpected space glyph %+v", space)
	}
	if got := w2.Children[1].Alternatives; len(got) != 1 || got[0].Text != "h" {
		t.Errorf("expected glyph w2_g1 rewritten to h, got %+v", got)
	}

	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		"<!-- scanned -->",
		`xsi:schemaLocation="a b"`,
		"ocr &amp; co",
		`<Coords points="0,0 100,0 100,40 0,40">`,
		`<Coords points="30,0 30,0 30,0 30,0">`,
		`<MetadataItem type="processingStep" name="recognition/text-recognition" value="lmrate">`,
		`<Label type="beam_width" value="100">`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q\n%s", want, out)
		}
	}
	if strings.Index(out, "<MetadataItem") > strings.Index(out, "</Metadata>") {
		t.Error("expected processing step inside Metadata")
	}
}

func TestWritePageXML_KeepsExistingSpaceGlyph(t *testing.T) {
	p := &PageXMLParser{}
	doc, err := p.Parse(strings.NewReader(ratedPage), "p1.xml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	chooseLast(t, doc)
	once := rewrite(t, ratedPage, doc)

	again, err := p.Parse(strings.NewReader(once), "p1.xml")
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	chooseLast(t, again)
	twice := rewrite(t, once, again)
	if n := strings.Count(twice, `id="w2_space"`); n != 1 {
		t.Fatalf("expected one space glyph after rewriting twice, got %d", n)
	}
}

func TestWritePageXML_UnratedDocumentIsCopied(t *testing.T) {
	p := &PageXMLParser{}
	doc, err := p.Parse(strings.NewReader(samplePage), "page0001.xml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var out bytes.Buffer
	if err := WritePageXML(&out, strings.NewReader(samplePage), doc, ProcessingStep{Name: "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	back, err := p.Parse(strings.NewReader(out.String()), "page0001.xml")
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	glyph := back.Regions[0].Children[0].Children[0].Children[0]
	if len(glyph.Alternatives) != 2 {
		t.Fatalf("expected both glyph alternatives kept, got %+v", glyph.Alternatives)
	}
}

func TestWritePageXML_Malformed(t *testing.T) {
	err := WritePageXML(io.Discard, strings.NewReader("<PcGts><Page>"), &doctree.Document{}, ProcessingStep{})
	if err == nil {
		t.Fatal("expected error for truncated xml")
	}
}
