// Package respond renders the user-facing reply to a captured thought.
package respond

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/core/retrieval"
	"github.com/umeshshetty/peoples-agent/internal/llm"
)

type Reply struct {
	Text           string   `json:"text"`
	HasConnections bool     `json:"has_connections"`
	Related        []string `json:"related,omitempty"`
	Degraded       bool     `json:"degraded"`
}

type Responder struct {
	LLM          llm.LLMClient
	Prompt       string
	ContextChars int
	Logger       *zap.Logger
}

func NewResponder(client llm.LLMClient, prompt string, contextChars int, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{LLM: client, Prompt: prompt, ContextChars: contextChars, Logger: logger.Named("respond")}
}

// Reply never fails; an inference failure falls back to a templated acknowledgement.
func (r *Responder) Reply(ctx context.Context, text string, x model.Extraction, bundle retrieval.Bundle) Reply {
	out := Reply{HasConnections: bundle.HasConnections()}
	for _, st := range bundle.Similar {
		out.Related = append(out.Related, st.ID)
	}

	prompt := fmt.Sprintf(r.Prompt, text, x.Summary, entityList(x.Entities), bundle.Compress(r.ContextChars))
	resp, err := r.LLM.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(resp) != "" {
		out.Text = strings.TrimSpace(resp)
		return out
	}
	if err != nil {
		r.Logger.Warn("reply generation failed, using template", zap.Error(err))
	}
	out.Text = Template(text, x, bundle)
	out.Degraded = true
	return out
}

// Template is the reply used when inference is unavailable.
func Template(text string, x model.Extraction, bundle retrieval.Bundle) string {
	var sb strings.Builder
	summary := x.Summary
	if summary == "" {
		summary = common.Truncate(text, 120)
	}
	fmt.Fprintf(&sb, "Got it: %s", summary)
	if len(x.Entities) > 0 {
		fmt.Fprintf(&sb, " (mentions %s)", entityList(x.Entities))
	}
	sb.WriteString(".")
	if n := len(bundle.Similar); n > 0 {
		fmt.Fprintf(&sb, " This connects to %d earlier thought", n)
		if n > 1 {
			sb.WriteString("s")
		}
		sb.WriteString(".")
	}
	return sb.String()
}

func entityList(entities []model.Entity) string {
	if len(entities) == 0 {
		return "none"
	}
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	return strings.Join(names, ", ")
}
