package extract

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// dimensionKeys are the spec-sheet keys that only make sense qualified by the
// section they appear under ("Dimensions" vs "Packaging").
var dimensionKeys = map[string]bool{
	"width":  true,
	"height": true,
	"depth":  true,
	"length": true,
	"weight": true,
}

type cell struct {
	text    string
	header  bool
	rowSpan int
	colSpan int
}

// extractHTML pulls key/value rows out of spec tables and definition lists.
func extractHTML(raw string) ([]RawKV, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var out []RawKV
	tableIdx := 0
	dlIdx := 0
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		switch n.Data {
		case "table":
			out = append(out, extractTable(n, tableIdx)...)
			tableIdx++
			return false
		case "dl":
			out = append(out, extractDefinitionList(n, dlIdx)...)
			dlIdx++
			return false
		}
		return true
	})
	return out, nil
}

// extractTable walks rows tracking the section label a rowspan or full-width
// header cell establishes, so dimension keys pick up their context.
func extractTable(table *html.Node, tableIdx int) []RawKV {
	var rows [][]cell
	walk(table, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "tr" {
			rows = append(rows, rowCells(n))
			return false
		}
		return true
	})

	tableID := fmt.Sprintf("t%d", tableIdx)
	var out []RawKV
	section := ""
	sectionRows := 0

	for ri, cells := range rows {
		if len(cells) == 0 {
			continue
		}
		// full-width header row becomes the section for everything below it
		if len(cells) == 1 {
			if cells[0].header || cells[0].colSpan > 1 {
				section = cells[0].text
				sectionRows = -1 // until replaced
			}
			continue
		}
		// leading rowspan cell labels this row and the next rowSpan-1 rows
		if cells[0].rowSpan > 1 && len(cells) >= 3 {
			section = cells[0].text
			sectionRows = cells[0].rowSpan
			cells = cells[1:]
		} else if sectionRows > 0 {
			sectionRows--
			if sectionRows == 0 {
				section = ""
			}
		}

		key := cells[0].text
		value := cells[1].text
		if key == "" || value == "" {
			continue
		}
		qualified := key
		if section != "" && dimensionKeys[strings.ToLower(key)] {
			qualified = section + " " + key
		}
		out = append(out, RawKV{
			Key:     qualified,
			Value:   value,
			Path:    fmt.Sprintf("table[%d]/tr[%d]", tableIdx, ri),
			Surface: SurfaceHTMLTable,
			RowID:   fmt.Sprintf("%sr%d", tableID, ri),
			TableID: tableID,
		})
	}
	return out
}

func rowCells(tr *html.Node) []cell {
	var cells []cell
	for n := tr.FirstChild; n != nil; n = n.NextSibling {
		if n.Type != html.ElementNode || (n.Data != "td" && n.Data != "th") {
			continue
		}
		cells = append(cells, cell{
			text:    strings.TrimSpace(textContent(n)),
			header:  n.Data == "th",
			rowSpan: intAttr(n, "rowspan", 1),
			colSpan: intAttr(n, "colspan", 1),
		})
	}
	return cells
}

// extractDefinitionList pairs each dt with the dd that follows it.
func extractDefinitionList(dl *html.Node, dlIdx int) []RawKV {
	tableID := fmt.Sprintf("dl%d", dlIdx)
	var out []RawKV
	key := ""
	row := 0
	for n := dl.FirstChild; n != nil; n = n.NextSibling {
		if n.Type != html.ElementNode {
			continue
		}
		switch n.Data {
		case "dt":
			key = strings.TrimSpace(textContent(n))
		case "dd":
			value := strings.TrimSpace(textContent(n))
			if key != "" && value != "" {
				out = append(out, RawKV{
					Key:     key,
					Value:   value,
					Path:    fmt.Sprintf("dl[%d]/dd[%d]", dlIdx, row),
					Surface: SurfaceDOM,
					RowID:   fmt.Sprintf("%sr%d", tableID, row),
					TableID: tableID,
				})
			}
			row++
		}
	}
	return out
}

// walk visits nodes depth-first; fn returning false prunes the subtree.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func intAttr(n *html.Node, name string, def int) int {
	for _, a := range n.Attr {
		if a.Key == name {
			if v, err := strconv.Atoi(strings.TrimSpace(a.Val)); err == nil && v > 0 {
				return v
			}
		}
	}
	return def
}
