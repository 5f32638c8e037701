package retrieval

import (
	"fmt"
	"strings"

	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
)

// Compress renders the bundle as prompt context, cut at a word boundary near maxChars.
func (b Bundle) Compress(maxChars int) string {
	var sb strings.Builder
	if len(b.Similar) > 0 {
		sb.WriteString("Related thoughts:\n")
		for _, st := range b.Similar {
			text := st.Summary
			if text == "" {
				text = st.Content
			}
			fmt.Fprintf(&sb, "- (%.2f) %s\n", st.Score, common.Truncate(text, 240))
		}
	}
	if len(b.Entities) > 0 {
		sb.WriteString("Known entities:\n")
		for _, e := range b.Entities {
			if e.Description != "" {
				fmt.Fprintf(&sb, "- %s (%s): %s\n", e.Name, e.Type, e.Description)
			} else {
				fmt.Fprintf(&sb, "- %s (%s)\n", e.Name, e.Type)
			}
		}
	}
	if len(b.Neighbors) > 0 {
		sb.WriteString("Connected:\n")
		for _, n := range b.Neighbors {
			if line := describe(n.Label, n.String("name"), n.String("title"), n.String("summary"), n.String("content")); line != "" {
				fmt.Fprintf(&sb, "- %s: %s\n", n.Label, line)
			}
		}
	}
	if sb.Len() == 0 {
		return "No prior context."
	}
	return common.Truncate(sb.String(), maxChars)
}

func describe(label string, candidates ...string) string {
	limit := 160
	if label == model.LabelThought {
		limit = 200
	}
	for _, c := range candidates {
		if c != "" {
			return common.Truncate(c, limit)
		}
	}
	return ""
}
