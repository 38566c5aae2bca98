package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/docchat/internal/store"
)

// FormatSearchResults formats ranked passages as markdown.
func FormatSearchResults(query string, hits []store.Hit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(hits))
	if len(hits) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, h := range hits {
		fmt.Fprintf(&sb, "### %d. Passage %d (score: %.2f)\n\n", i+1, h.Chunk.Order+1, h.Score)
		sb.WriteString(strings.TrimSpace(h.Chunk.Text))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// ToSearchOutput converts ranked hits to the search_document output.
func ToSearchOutput(hits []store.Hit) SearchOutput {
	out := SearchOutput{
		Results: make([]SearchResultOutput, 0, len(hits)),
		Count:   len(hits),
	}
	for _, h := range hits {
		out.Results = append(out.Results, SearchResultOutput{
			Order:   h.Chunk.Order,
			Content: h.Chunk.Text,
			Score:   float64(h.Score),
		})
	}
	return out
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, maxVal int) int {
	if limit <= 0 {
		return defaultVal
	}
	return min(limit, maxVal)
}
