package parser

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dgallion1/lmrate/internal/doctree"
)

// PageXMLParser reads PAGE-XML annotations (PcGts). Every TextEquiv of an
// element becomes one alternative, in annotation order.
type PageXMLParser struct{}

type pcGts struct {
	XMLName xml.Name `xml:"PcGts"`
	PcGtsID string   `xml:"pcGtsId,attr"`
	Page    pageType `xml:"Page"`
}

type pageType struct {
	ImageFilename string       `xml:"imageFilename,attr"`
	Regions       []regionType `xml:"TextRegion"`
}

type textEquivType struct {
	Index   string `xml:"index,attr"`
	Conf    string `xml:"conf,attr"`
	Unicode string `xml:"Unicode"`
}

type regionType struct {
	ID         string          `xml:"id,attr"`
	Regions    []regionType    `xml:"TextRegion"`
	Lines      []lineType      `xml:"TextLine"`
	TextEquivs []textEquivType `xml:"TextEquiv"`
}

type lineType struct {
	ID         string          `xml:"id,attr"`
	Words      []wordType      `xml:"Word"`
	TextEquivs []textEquivType `xml:"TextEquiv"`
}

type wordType struct {
	ID         string          `xml:"id,attr"`
	Glyphs     []glyphType     `xml:"Glyph"`
	TextEquivs []textEquivType `xml:"TextEquiv"`
}

type glyphType struct {
	ID         string          `xml:"id,attr"`
	TextEquivs []textEquivType `xml:"TextEquiv"`
}

func (p *PageXMLParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	var pc pcGts
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&pc); err != nil {
		return nil, fmt.Errorf("parse page xml: %w", err)
	}

	doc := &doctree.Document{
		ID:    pc.PcGtsID,
		Title: baseTitle(filename, ".xml"),
	}
	if doc.ID == "" {
		doc.ID = doc.Title
	}
	if pc.Page.ImageFilename != "" {
		doc.Title = pc.Page.ImageFilename
	}

	var addRegions func(regions []regionType) error
	addRegions = func(regions []regionType) error {
		for _, rg := range regions {
			region, err := convertRegion(rg)
			if err != nil {
				return err
			}
			doc.Regions = append(doc.Regions, region)
			if err := addRegions(rg.Regions); err != nil {
				return err
			}
		}
		return nil
	}
	if err := addRegions(pc.Page.Regions); err != nil {
		return nil, err
	}
	return doc, nil
}

func convertRegion(rg regionType) (*doctree.Element, error) {
	alts, err := convertTextEquivs(rg.ID, rg.TextEquivs)
	if err != nil {
		return nil, err
	}
	region := &doctree.Element{ID: rg.ID, Level: doctree.LevelRegion, Alternatives: alts}
	for _, ln := range rg.Lines {
		alts, err := convertTextEquivs(ln.ID, ln.TextEquivs)
		if err != nil {
			return nil, err
		}
		line := &doctree.Element{ID: ln.ID, Level: doctree.LevelLine, Alternatives: alts}
		for _, wd := range ln.Words {
			alts, err := convertTextEquivs(wd.ID, wd.TextEquivs)
			if err != nil {
				return nil, err
			}
			word := &doctree.Element{ID: wd.ID, Level: doctree.LevelWord, Alternatives: alts}
			for _, gl := range wd.Glyphs {
				alts, err := convertTextEquivs(gl.ID, gl.TextEquivs)
				if err != nil {
					return nil, err
				}
				word.Children = append(word.Children,
					&doctree.Element{ID: gl.ID, Level: doctree.LevelGlyph, Alternatives: alts})
			}
			line.Children = append(line.Children, word)
		}
		region.Children = append(region.Children, line)
	}
	return region, nil
}

func convertTextEquivs(id string, tes []textEquivType) ([]doctree.Alternative, error) {
	alts := make([]doctree.Alternative, 0, len(tes))
	for _, te := range tes {
		alt := doctree.Alternative{Text: te.Unicode}
		if c := strings.TrimSpace(te.Conf); c != "" {
			conf, err := strconv.ParseFloat(c, 64)
			if err != nil {
				return nil, fmt.Errorf("element %s: invalid conf %q: %w", id, te.Conf, err)
			}
			alt.Conf = conf
		}
		alts = append(alts, alt)
	}
	return alts, nil
}
