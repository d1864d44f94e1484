package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"llm-trading-arena/feeds"
	"llm-trading-arena/internal/config"
	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ADAPTER - Model capability with retry, timeout and rate limiting
// ═══════════════════════════════════════════════════════════════════════════════

// ErrorKind classifies adapter failures. Only Timeout and RateLimited are
// worth retrying.
type ErrorKind int

const (
	KindTimeout ErrorKind = iota
	KindRateLimited
	KindTransport
	KindBadResponse
	KindValidationFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindTransport:
		return "transport"
	case KindBadResponse:
		return "bad_response"
	case KindValidationFailed:
		return "validation_failed"
	default:
		return "unknown"
	}
}

// AdapterError wraps a model call failure with its classification.
type AdapterError struct {
	Kind  ErrorKind
	Model string
	Err   error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Model, e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *AdapterError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindRateLimited
}

// Adapter produces one decision bundle per round.
type Adapter interface {
	ID() string
	Decide(ctx context.Context, payload *types.RoundPayload) (*types.DecisionBundle, error)
}

// LLMAdapter drives one provider client with the per-model retry policy.
type LLMAdapter struct {
	id      string
	cfg     config.ModelConfig
	client  *Client
	limiter *feeds.RateLimiter
	logger  zerolog.Logger
}

// NewLLMAdapter creates an adapter for one configured provider
func NewLLMAdapter(id string, cfg config.ModelConfig) *LLMAdapter {
	return &LLMAdapter{
		id:      id,
		cfg:     cfg,
		client:  NewClient(cfg),
		limiter: feeds.NewRateLimiter(cfg.MaxRequestsPerMinute, time.Minute),
		logger:  log.With().Str("model", id).Logger(),
	}
}

func (a *LLMAdapter) ID() string { return a.id }

// Decide renders the payload, calls the provider and validates the reply.
// Transient failures back off with delay·2^attempt up to MaxRetries.
func (a *LLMAdapter) Decide(ctx context.Context, payload *types.RoundPayload) (*types.DecisionBundle, error) {
	start := time.Now()
	user := RenderPrompt(payload)

	var lastErr *AdapterError
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := a.cfg.RetryDelay * time.Duration(1<<(attempt-1))
			a.logger.Warn().
				Int("attempt", attempt).
				Dur("delay", delay).
				Str("kind", lastErr.Kind.String()).
				Msg("🔁 Retrying model call")
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, a.wrapCtx(err)
			}
		}

		if err := a.limiter.Acquire(ctx); err != nil {
			return nil, a.wrapCtx(err)
		}

		raw, err := a.client.Complete(ctx, systemPrompt, user)
		if err != nil {
			ae := a.classify(err)
			if ae.Retryable() && attempt < a.cfg.MaxRetries {
				lastErr = ae
				continue
			}
			return nil, ae
		}

		decisions, err := ParseBundle(raw, payload.Symbols)
		if err != nil {
			return nil, &AdapterError{Kind: KindValidationFailed, Model: a.id, Err: err}
		}

		return &types.DecisionBundle{
			Model:     a.id,
			Decisions: decisions,
			LatencyMS: time.Since(start).Milliseconds(),
		}, nil
	}
	return nil, lastErr
}

// classify normalizes client errors into adapter kinds.
func (a *LLMAdapter) classify(err error) *AdapterError {
	var ae *AdapterError
	if errors.As(err, &ae) {
		ae.Model = a.id
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &AdapterError{Kind: KindTimeout, Model: a.id, Err: err}
	}
	return &AdapterError{Kind: KindTransport, Model: a.id, Err: err}
}

// wrapCtx maps context termination onto adapter kinds.
func (a *LLMAdapter) wrapCtx(err error) *AdapterError {
	kind := KindTransport
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &AdapterError{Kind: kind, Model: a.id, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
