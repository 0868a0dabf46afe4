package model

import (
	"fmt"
	"strings"
)

// NoEvidenceMarker is the canonical tool output for an empty retrieval.
// The grader short-circuits on it without a model call.
const NoEvidenceMarker = "No relevant information found in the knowledge base."

// SecurityContextMissingMarker is returned when a scoped tool runs without
// a resolvable identity. Surfaced to the model, not raised to the caller.
const SecurityContextMissingMarker = "Error: security context missing"

// EvidenceItem is one retrieved chunk with source attribution
type EvidenceItem struct {
	Source  string  `json:"source"`
	Page    string  `json:"page"`
	Score   float64 `json:"score"`
	Content string  `json:"content"`
}

// Evidence is the ranked result of a single retrieval call. Ephemeral:
// it only survives as the formatted content of a tool message.
type Evidence []EvidenceItem

// Format renders cited context blocks for the model, or the canonical
// empty marker when nothing was retrieved.
func (e Evidence) Format() string {
	if len(e) == 0 {
		return NoEvidenceMarker
	}

	blocks := make([]string, 0, len(e))
	for i, item := range e {
		source := item.Source
		if source == "" {
			source = "Unknown Source"
		}
		page := item.Page
		if page == "" {
			page = "N/A"
		}
		blocks = append(blocks, fmt.Sprintf("[%d] Source: %s (Page %s)\n%s", i+1, source, page, strings.TrimSpace(item.Content)))
	}

	return strings.Join(blocks, "\n\n")
}
