package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/lmrate/internal/doctree"
)

// CSVParser handles CSV files. Each batch of rows is a region and each row
// a line whose words are the non-empty cells.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	const batchSize = 20
	var blocks []string
	for i := 0; i < len(records); i += batchSize {
		end := min(i+batchSize, len(records))
		var text strings.Builder
		for _, row := range records[i:end] {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if cell = strings.TrimSpace(cell); cell != "" {
					cells = append(cells, cell)
				}
			}
			if len(cells) == 0 {
				continue
			}
			text.WriteString(strings.Join(cells, " "))
			text.WriteString("\n")
		}
		blocks = append(blocks, text.String())
	}

	return fromParagraphs(baseTitle(filename, ".csv"), blocks), nil
}
