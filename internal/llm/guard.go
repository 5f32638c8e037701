package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/core/common"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/observability"
)

// Guard wraps a provider with a per-call timeout, one retry on transient
// failures and a circuit breaker shared by generation and embedding.
type Guard struct {
	gen     LLMClient
	emb     EmbedderClient
	breaker *gobreaker.CircuitBreaker

	callTimeout time.Duration
	backoff     time.Duration
	metrics     *observability.Metrics
	logger      *zap.Logger
}

func NewGuard(gen LLMClient, emb EmbedderClient, cfg config.PipelineConfig, metrics *observability.Metrics, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	failures := cfg.BreakerFailures
	g := &Guard{
		gen:         gen,
		emb:         emb,
		callTimeout: cfg.CallTimeout.Std(),
		backoff:     cfg.RetryBackoff.Std(),
		metrics:     metrics,
		logger:      logger,
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inference",
		MaxRequests: cfg.BreakerHalfOpen,
		Timeout:     cfg.BreakerTimeout.Std(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Rejected input says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || Classify(err) == errs.KindPermanent
		},
	})
	return g
}

func (g *Guard) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := g.call(ctx, "llm.generate", func(callCtx context.Context) (any, error) {
		return g.gen.Generate(callCtx, prompt)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (g *Guard) Embed(ctx context.Context, text string) ([]float32, error) {
	if g.emb == nil {
		return nil, errs.New(errs.KindPermanent, "llm.embed", "no embedder configured")
	}
	out, err := g.call(ctx, "llm.embed", func(callCtx context.Context) (any, error) {
		return g.emb.Embed(callCtx, text)
	})
	if err != nil {
		return nil, err
	}
	return out.([]float32), nil
}

// State exposes the breaker state for health reporting.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

func (g *Guard) call(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errs.Wrap(errs.KindTimeout, op, ctx.Err())
			case <-time.After(g.backoff):
			}
		}

		out, err := g.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := g.withTimeout(ctx)
			defer cancel()
			return fn(callCtx)
		})
		if err == nil {
			g.count("ok")
			return out, nil
		}
		if ctx.Err() != nil {
			g.count("timeout")
			return nil, errs.Wrap(errs.KindTimeout, op, ctx.Err())
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.count("open")
			return nil, errs.Wrap(errs.KindTransient, op, err)
		}

		kind := Classify(err)
		g.count(string(kind))
		lastErr = errs.Wrap(kind, op, err)
		if kind != errs.KindTransient {
			break
		}
		g.logger.Debug("retrying inference call", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, lastErr
}

func (g *Guard) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.callTimeout)
}

func (g *Guard) count(status string) {
	if g.metrics != nil {
		g.metrics.InferenceCalls.WithLabelValues(status).Inc()
	}
}

// Classify maps a provider error to a failure kind. Unknown errors are
// treated as transient.
func Classify(err error) errs.Kind {
	var typed *errs.Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, context.Canceled) {
		return errs.KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.KindTransient
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}
	return errs.KindTransient
}

func classifyStatus(code int) errs.Kind {
	switch {
	case code == 0, code >= 500, code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return errs.KindTransient
	case code >= 400:
		return errs.KindPermanent
	default:
		return errs.KindTransient
	}
}

// GenerateJSON generates and decodes a JSON object. An unparseable reply is a
// permanent failure; retrying the same prompt is not expected to fix it.
func GenerateJSON[T any](ctx context.Context, client LLMClient, prompt string) (T, error) {
	var zero T
	resp, err := client.Generate(ctx, prompt)
	if err != nil {
		return zero, err
	}
	out, err := common.ParseJSON[T](resp)
	if err != nil {
		return zero, errs.Wrap(errs.KindPermanent, "llm.parse", err)
	}
	return out, nil
}
