package parser

import (
	"fmt"
	"strings"

	"github.com/dgallion1/lmrate/internal/doctree"
)

// fromParagraphs builds a document without alternatives from plain text
// blocks: each block is a region, each text line a line, each
// whitespace-separated token a word and each rune a glyph.
func fromParagraphs(title string, paragraphs []string) *doctree.Document {
	doc := &doctree.Document{ID: title, Title: title}
	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		rid := fmt.Sprintf("r%d", len(doc.Regions)+1)
		region := doctree.NewTextElement(rid, doctree.LevelRegion, "")
		var lineTexts []string
		for _, line := range strings.Split(para, "\n") {
			words := strings.Fields(line)
			if len(words) == 0 {
				continue
			}
			lid := fmt.Sprintf("%s_l%d", rid, len(region.Children)+1)
			lineElem := doctree.NewTextElement(lid, doctree.LevelLine, strings.Join(words, " "))
			for wi, w := range words {
				wid := fmt.Sprintf("%s_w%d", lid, wi+1)
				word := doctree.NewTextElement(wid, doctree.LevelWord, w)
				gi := 0
				for _, r := range w {
					gi++
					word.Children = append(word.Children,
						doctree.NewTextElement(fmt.Sprintf("%s_g%d", wid, gi), doctree.LevelGlyph, string(r)))
				}
				lineElem.Children = append(lineElem.Children, word)
			}
			region.Children = append(region.Children, lineElem)
			lineTexts = append(lineTexts, lineElem.Alternatives[0].Text)
		}
		if len(region.Children) == 0 {
			continue
		}
		region.Alternatives[0].Text = strings.Join(lineTexts, "\n")
		doc.Regions = append(doc.Regions, region)
	}
	return doc
}
