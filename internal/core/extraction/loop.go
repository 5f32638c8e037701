package extraction

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/core/retrieval"
)

type state int

const (
	stateCritique state = iota
	stateRefine
)

// Loop runs EXTRACT, then alternates CRITIQUE and REFINE until the critique is
// empty or MaxRefines refines have run.
type Loop struct {
	Extractor    *Extractor
	Config       config.ExtractionConfig
	ContextChars int
	Logger       *zap.Logger
}

func NewLoop(e *Extractor, cfg config.ExtractionConfig, contextChars int, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{Extractor: e, Config: cfg, ContextChars: contextChars, Logger: logger.Named("extraction")}
}

// Run never fails on inference errors; it degrades instead. It returns an
// error only when ctx is done.
func (l *Loop) Run(ctx context.Context, text string, bundle retrieval.Bundle) (model.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return model.Extraction{}, err
	}
	contextText := bundle.Compress(l.ContextChars)

	x, err := l.Extractor.Extract(ctx, text, contextText)
	if err != nil {
		if ctx.Err() != nil {
			return model.Extraction{}, ctx.Err()
		}
		l.Logger.Warn("extraction failed, using fallback", zap.Error(err))
		return l.fallback(text), nil
	}
	x.Iterations = 1

	if len([]rune(strings.TrimSpace(text))) < l.Config.SimpleInputChars {
		x.Status = model.StatusAccepted
		return x, nil
	}

	var gaps []string
	refines := 0
	st := stateCritique
	for {
		switch st {
		case stateCritique:
			gaps, err = l.Extractor.Critique(ctx, text, contextText, x)
			if err != nil {
				if ctx.Err() != nil {
					return model.Extraction{}, ctx.Err()
				}
				l.Logger.Warn("critique failed, keeping current extraction", zap.Error(err))
				return l.withGaps(x, x.Gaps, true), nil
			}
			if len(gaps) == 0 {
				x.Status = model.StatusAccepted
				x.Gaps = nil
				return x, nil
			}
			if refines >= l.Config.MaxRefines {
				return l.withGaps(x, gaps, false), nil
			}
			st = stateRefine

		case stateRefine:
			refined, err := l.Extractor.Refine(ctx, text, contextText, x, gaps)
			if err != nil {
				if ctx.Err() != nil {
					return model.Extraction{}, ctx.Err()
				}
				l.Logger.Warn("refine failed, keeping current extraction", zap.Error(err))
				return l.withGaps(x, gaps, true), nil
			}
			refines++
			refined.Iterations = x.Iterations + 1
			x = refined
			st = stateCritique
		}
	}
}

func (l *Loop) withGaps(x model.Extraction, gaps []string, degraded bool) model.Extraction {
	x.Status = model.StatusAcceptedWithGaps
	x.Gaps = gaps
	x.Confidence *= l.Config.GapPenalty
	x.Degraded = x.Degraded || degraded
	return x
}

func (l *Loop) fallback(text string) model.Extraction {
	return model.Extraction{
		Summary:    common.Truncate(text, l.Config.SummaryFallbackChars),
		Status:     model.StatusAcceptedWithGaps,
		Iterations: 1,
		Degraded:   true,
	}
}
