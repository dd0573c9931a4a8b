package parser

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dgallion1/lmrate/internal/doctree"
)

// Label is one parameter recorded with a processing step.
type Label struct {
	Type  string
	Value string
}

// ProcessingStep is appended to the page metadata as a MetadataItem.
type ProcessingStep struct {
	Name   string
	Value  string
	Labels []Label
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "\n", "&#xA;", "\t", "&#x9;")
)

// pageLevels are the PAGE elements that map onto doctree elements.
var pageLevels = map[string]bool{"TextRegion": true, "TextLine": true, "Word": true, "Glyph": true}

// WritePageXML copies the PAGE-XML document read from src to w. Every
// element of doc marked as rated gets its TextEquivs replaced by its single
// chosen reading, pseudo space glyphs present in doc but not in src are
// inserted as the first glyph of their word, and step is appended to the
// page metadata. Everything else is copied unchanged.
func WritePageXML(w io.Writer, src io.Reader, doc *doctree.Document, step ProcessingStep) error {
	rw := &pageWriter{
		out:      bufio.NewWriter(w),
		elements: doc.Index(),
		step:     step,
	}
	dec := xml.NewDecoder(src)
	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("rewrite page xml: %w", err)
		}
		rw.token(tok)
	}
	if len(rw.stack) != 0 {
		return fmt.Errorf("rewrite page xml: unclosed element %s", qualified(rw.stack[len(rw.stack)-1].name))
	}
	return rw.out.Flush()
}

type pageFrame struct {
	name     xml.Name
	el       *doctree.Element
	replaced bool             // chosen TextEquiv already written
	space    *doctree.Element // pseudo glyph still to be written
	origin   string           // first point of the word's Coords
}

type pageWriter struct {
	out      *bufio.Writer
	elements map[string]*doctree.Element
	step     ProcessingStep
	stack    []*pageFrame
	skip     int // depth inside a dropped TextEquiv
}

func (rw *pageWriter) top() *pageFrame {
	if len(rw.stack) == 0 {
		return nil
	}
	return rw.stack[len(rw.stack)-1]
}

func (rw *pageWriter) token(tok xml.Token) {
	if rw.skip > 0 {
		switch tok.(type) {
		case xml.StartElement:
			rw.skip++
		case xml.EndElement:
			rw.skip--
		}
		return
	}
	switch t := tok.(type) {
	case xml.StartElement:
		rw.start(t)
	case xml.EndElement:
		rw.end(t)
	case xml.CharData:
		textEscaper.WriteString(rw.out, string(t))
	case xml.Comment:
		fmt.Fprintf(rw.out, "<!--%s-->", t)
	case xml.ProcInst:
		fmt.Fprintf(rw.out, "<?%s %s?>", t.Target, t.Inst)
	case xml.Directive:
		fmt.Fprintf(rw.out, "<!%s>", t)
	}
}

func (rw *pageWriter) start(t xml.StartElement) {
	if parent := rw.top(); parent != nil {
		if parent.el != nil && parent.el.Rated && t.Name.Local == "TextEquiv" {
			if !parent.replaced {
				rw.writeTextEquiv(t.Name.Space, parent.el.Alternatives[0])
				parent.replaced = true
			}
			rw.skip = 1
			return
		}
		if parent.space != nil {
			switch {
			case t.Name.Local == "Glyph" && xmlAttr(t, "id") == parent.space.ID:
				parent.space = nil
			case t.Name.Local != "AlternativeImage" && t.Name.Local != "Coords":
				rw.writeSpaceGlyph(parent)
			}
		}
		if parent.name.Local == "Word" && t.Name.Local == "Coords" {
			parent.origin, _, _ = strings.Cut(strings.TrimSpace(xmlAttr(t, "points")), " ")
		}
	}

	frame := &pageFrame{name: t.Name}
	if pageLevels[t.Name.Local] {
		frame.el = rw.elements[xmlAttr(t, "id")]
		if frame.el != nil && t.Name.Local == "Word" && len(frame.el.Children) > 0 {
			if first := frame.el.Children[0]; first.ID == frame.el.ID+"_space" {
				frame.space = first
			}
		}
	}
	rw.stack = append(rw.stack, frame)

	rw.out.WriteString("<" + qualified(t.Name))
	for _, a := range t.Attr {
		rw.out.WriteString(" " + qualified(a.Name) + `="`)
		attrEscaper.WriteString(rw.out, a.Value)
		rw.out.WriteString(`"`)
	}
	rw.out.WriteString(">")
}

func (rw *pageWriter) end(t xml.EndElement) {
	frame := rw.top()
	if frame == nil {
		return
	}
	rw.stack = rw.stack[:len(rw.stack)-1]

	if frame.space != nil {
		rw.writeSpaceGlyph(frame)
	}
	if frame.el != nil && frame.el.Rated && !frame.replaced {
		rw.writeTextEquiv(frame.name.Space, frame.el.Alternatives[0])
	}
	if frame.name.Local == "Metadata" {
		if parent := rw.top(); parent != nil && parent.name.Local == "PcGts" {
			rw.writeMetadataItem(frame.name.Space)
		}
	}
	rw.out.WriteString("</" + qualified(t.Name) + ">")
}

func (rw *pageWriter) writeTextEquiv(prefix string, alt doctree.Alternative) {
	rw.out.WriteString("<" + qualified(xml.Name{Space: prefix, Local: "TextEquiv"}))
	if alt.Conf > 0 {
		rw.out.WriteString(` conf="` + strconv.FormatFloat(alt.Conf, 'g', -1, 64) + `"`)
	}
	rw.out.WriteString("><" + qualified(xml.Name{Space: prefix, Local: "Unicode"}) + ">")
	textEscaper.WriteString(rw.out, alt.Text)
	rw.out.WriteString("</" + qualified(xml.Name{Space: prefix, Local: "Unicode"}) + ">")
	rw.out.WriteString("</" + qualified(xml.Name{Space: prefix, Local: "TextEquiv"}) + ">")
}

// writeSpaceGlyph emits the word's pseudo glyph with an empty box at the
// word's first coordinate.
func (rw *pageWriter) writeSpaceGlyph(word *pageFrame) {
	glyph := word.space
	word.space = nil
	prefix := word.name.Space
	rw.out.WriteString("<" + qualified(xml.Name{Space: prefix, Local: "Glyph"}) + ` id="`)
	attrEscaper.WriteString(rw.out, glyph.ID)
	rw.out.WriteString(`">`)
	if word.origin != "" {
		box := strings.Repeat(word.origin+" ", 3) + word.origin
		rw.out.WriteString("<" + qualified(xml.Name{Space: prefix, Local: "Coords"}) + ` points="`)
		attrEscaper.WriteString(rw.out, box)
		rw.out.WriteString(`"></` + qualified(xml.Name{Space: prefix, Local: "Coords"}) + ">")
	}
	if len(glyph.Alternatives) > 0 {
		rw.writeTextEquiv(prefix, glyph.Alternatives[0])
	}
	rw.out.WriteString("</" + qualified(xml.Name{Space: prefix, Local: "Glyph"}) + ">")
}

func (rw *pageWriter) writeMetadataItem(prefix string) {
	item := qualified(xml.Name{Space: prefix, Local: "MetadataItem"})
	rw.out.WriteString("<" + item + ` type="processingStep" name="`)
	attrEscaper.WriteString(rw.out, rw.step.Name)
	rw.out.WriteString(`" value="`)
	attrEscaper.WriteString(rw.out, rw.step.Value)
	rw.out.WriteString(`">`)
	if len(rw.step.Labels) > 0 {
		labels := qualified(xml.Name{Space: prefix, Local: "Labels"})
		rw.out.WriteString("<" + labels + ` externalRef="parameters">`)
		for _, l := range rw.step.Labels {
			rw.out.WriteString("<" + qualified(xml.Name{Space: prefix, Local: "Label"}) + ` type="`)
			attrEscaper.WriteString(rw.out, l.Type)
			rw.out.WriteString(`" value="`)
			attrEscaper.WriteString(rw.out, l.Value)
			rw.out.WriteString(`"></` + qualified(xml.Name{Space: prefix, Local: "Label"}) + ">")
		}
		rw.out.WriteString("</" + labels + ">")
	}
	rw.out.WriteString("</" + item + ">")
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func xmlAttr(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local && a.Name.Space == "" {
			return a.Value
		}
	}
	return ""
}
