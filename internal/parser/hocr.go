package parser

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dgallion1/lmrate/internal/doctree"
	"golang.org/x/net/html"
)

// HOCRParser reads hOCR output. Paragraphs (or content areas without
// paragraphs) are regions, ocr_line spans are lines, ocrx_word spans are
// words and ocrx_cinfo spans are glyphs. Tesseract "alternatives" markup
// provides extra word readings.
type HOCRParser struct{}

var hocrLineClasses = []string{"ocr_line", "ocrx_line", "ocr_header", "ocr_caption", "ocr_textfloat"}

func (p *HOCRParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse hocr: %w", err)
	}

	doc := &doctree.Document{ID: baseTitle(filename, ".hocr"), Title: baseTitle(filename, ".hocr")}
	if t := findTitle(root); t != "" {
		doc.Title = t
	}

	var region, line *doctree.Element
	newRegion := func(id string) {
		if id == "" {
			id = fmt.Sprintf("region_%d", len(doc.Regions)+1)
		}
		region = &doctree.Element{ID: id, Level: doctree.LevelRegion}
		doc.Regions = append(doc.Regions, region)
		line = nil
	}

	var walk func(*html.Node) error
	walk = func(n *html.Node) error {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "ocr_par") || hasClass(n, "ocr_carea"):
				newRegion(attr(n, "id"))
			case isHOCRLine(n):
				if region == nil {
					newRegion("")
				}
				id := attr(n, "id")
				if id == "" {
					id = fmt.Sprintf("%s_line_%d", region.ID, len(region.Children)+1)
				}
				line = &doctree.Element{ID: id, Level: doctree.LevelLine}
				region.Children = append(region.Children, line)
			case hasClass(n, "ocrx_word"):
				if line == nil {
					if region == nil {
						newRegion("")
					}
					line = &doctree.Element{ID: fmt.Sprintf("%s_line_%d", region.ID, len(region.Children)+1), Level: doctree.LevelLine}
					region.Children = append(region.Children, line)
				}
				word, err := hocrWord(n, len(line.Children)+1, line.ID)
				if err != nil {
					return err
				}
				if word != nil {
					line.Children = append(line.Children, word)
				}
				return nil
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}

	// Content areas that only wrapped paragraphs, and lines without words, drop out.
	regions := doc.Regions[:0]
	for _, rg := range doc.Regions {
		lines := rg.Children[:0]
		for _, ln := range rg.Children {
			if len(ln.Children) > 0 {
				ln.Alternatives = []doctree.Alternative{{Text: joinFirst(ln.Children, " ")}}
				lines = append(lines, ln)
			}
		}
		rg.Children = lines
		if len(rg.Children) > 0 {
			rg.Alternatives = []doctree.Alternative{{Text: joinFirst(rg.Children, "\n")}}
			regions = append(regions, rg)
		}
	}
	doc.Regions = regions
	return doc, nil
}

func isHOCRLine(n *html.Node) bool {
	for _, c := range hocrLineClasses {
		if hasClass(n, c) {
			return true
		}
	}
	return false
}

func hocrWord(n *html.Node, index int, lineID string) (*doctree.Element, error) {
	id := attr(n, "id")
	if id == "" {
		id = fmt.Sprintf("%s_word_%d", lineID, index)
	}
	word := &doctree.Element{ID: id, Level: doctree.LevelWord}

	wconf, _, err := titleProperty(n, "x_wconf")
	if err != nil {
		return nil, fmt.Errorf("word %s: %w", id, err)
	}

	var alts *html.Node
	var glyphs []*html.Node
	var collect func(*html.Node)
	collect = func(c *html.Node) {
		if c.Type == html.ElementNode {
			if hasClass(c, "alternatives") && alts == nil {
				alts = c
				return
			}
			if hasClass(c, "ocrx_cinfo") {
				glyphs = append(glyphs, c)
				return
			}
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			collect(cc)
		}
	}
	collect(n)

	if alts != nil {
		for c := alts.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || !hasClass(c, "alt") {
				continue
			}
			alt := doctree.Alternative{Text: textContent(c)}
			if cost, ok, err := titleProperty(c, "x_cost"); err != nil {
				return nil, fmt.Errorf("word %s: %w", id, err)
			} else if ok {
				alt.Conf = 1 / (1 + cost)
			} else if c.Data == "ins" {
				alt.Conf = wconf / 100
			}
			word.Alternatives = append(word.Alternatives, alt)
		}
	}
	if len(word.Alternatives) == 0 {
		text := textContent(n)
		if text == "" {
			return nil, nil
		}
		word.Alternatives = []doctree.Alternative{{Text: text, Conf: wconf / 100}}
	}

	for i, g := range glyphs {
		conf, _, err := titleProperty(g, "x_conf")
		if err != nil {
			return nil, fmt.Errorf("glyph in word %s: %w", id, err)
		}
		gid := attr(g, "id")
		if gid == "" {
			gid = fmt.Sprintf("%s_glyph_%d", id, i+1)
		}
		word.Children = append(word.Children, &doctree.Element{
			ID:           gid,
			Level:        doctree.LevelGlyph,
			Alternatives: []doctree.Alternative{{Text: textContent(g), Conf: conf / 100}},
		})
	}
	return word, nil
}

// titleProperty reads a numeric property like "x_wconf 93" from the
// semicolon-separated hOCR title attribute.
func titleProperty(n *html.Node, key string) (float64, bool, error) {
	for _, prop := range strings.Split(attr(n, "title"), ";") {
		fields := strings.Fields(prop)
		if len(fields) < 2 || fields[0] != key {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid %s %q: %w", key, fields[1], err)
		}
		return v, true, nil
	}
	return 0, false, nil
}

func joinFirst(elems []*doctree.Element, sep string) string {
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		if len(e.Alternatives) > 0 {
			parts = append(parts, e.Alternatives[0].Text)
		}
	}
	return strings.Join(parts, sep)
}
