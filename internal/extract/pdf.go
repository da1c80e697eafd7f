package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/CdubVentures/spec-harvester-sub003/internal/fetch"
)

var pdfColumnSplitRe = regexp.MustCompile(`\s{2,}|\t`)

// extractPDFBlock parses one pre-segmented PDF region. Table blocks carry
// column-aligned text; kv blocks carry "Key: Value" lines.
func extractPDFBlock(block fetch.PDFBlock, blockIdx int) []RawKV {
	surface := SurfacePDFKV
	if block.Kind == "table" {
		surface = SurfacePDFTable
	}
	tableID := fmt.Sprintf("pdf%d", blockIdx)

	var out []RawKV
	row := 0
	for _, line := range strings.Split(block.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var key, value string
		if surface == SurfacePDFTable {
			cols := pdfColumnSplitRe.Split(line, 2)
			if len(cols) != 2 {
				continue
			}
			key, value = cols[0], cols[1]
		} else {
			k, v, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			key, value = k, v
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out = append(out, RawKV{
			Key:     key,
			Value:   value,
			Path:    fmt.Sprintf("pdf[%d]/page[%d]/line[%d]", blockIdx, block.Page, row),
			Surface: surface,
			RowID:   fmt.Sprintf("%sr%d", tableID, row),
			TableID: tableID,
		})
		row++
	}
	return out
}
