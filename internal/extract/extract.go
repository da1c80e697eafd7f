// Package extract turns fetched page data into raw key/value observations.
// Each surface family (HTML tables, definition lists, JSON-LD, embedded app
// state, captured network JSON, PDF blocks) yields rows tagged with enough
// provenance for the candidate pipeline to score and dedup them.
package extract

import (
	"fmt"

	"github.com/CdubVentures/spec-harvester-sub003/internal/fetch"
	"github.com/CdubVentures/spec-harvester-sub003/internal/logging"
)

// Surface names the extraction family a raw observation came from.
const (
	SurfaceHTMLTable   = "html_table"
	SurfaceDOM         = "dom"
	SurfaceLDJSON      = "ldjson"
	SurfaceNetworkJSON = "network_json"
	SurfacePDFTable    = "pdf_table"
	SurfacePDFKV       = "pdf_kv"
)

// RawKV is one observed key/value pair before field mapping.
type RawKV struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Path    string `json:"path"`
	Surface string `json:"surface"`
	RowID   string `json:"row_id"`
	TableID string `json:"table_id"`
}

// Extract runs every applicable surface over one page.
func Extract(page *fetch.PageData) []RawKV {
	if page == nil {
		return nil
	}
	log := logging.Get(logging.CategoryExtract)
	var out []RawKV

	if page.HTML != "" {
		rows, err := extractHTML(page.HTML)
		if err != nil {
			log.Debug("html surface failed", logging.Err(err))
		} else {
			out = append(out, rows...)
		}
	}
	for i, block := range page.LDJSONBlocks {
		out = append(out, extractJSONBlock(block, SurfaceLDJSON, fmt.Sprintf("ldjson:%d", i))...)
	}
	for i, block := range page.EmbeddedState {
		out = append(out, extractJSONBlock(block, SurfaceNetworkJSON, fmt.Sprintf("embedded:%d", i))...)
	}
	for i, resp := range page.NetworkResponses {
		out = append(out, extractJSONBlock(resp.Body, SurfaceNetworkJSON, fmt.Sprintf("network:%d:%s", i, resp.URL))...)
	}
	for i, block := range page.PDFBlocks {
		out = append(out, extractPDFBlock(block, i)...)
	}

	for i := range out {
		out[i].Value = NormalizeUnitsInline(out[i].Value)
	}
	return out
}
