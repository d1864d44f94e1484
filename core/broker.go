package core

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"llm-trading-arena/metrics"
	"llm-trading-arena/models"
	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BROKER - Parallel decision fan-out with per-model fault isolation
// ═══════════════════════════════════════════════════════════════════════════════

// Broker collects one bundle per model per round. One failing or hanging
// adapter never blocks its siblings: results arrive over a buffered channel
// and collection stops at the round deadline, leaving stragglers to settle
// into the buffer on their own.
type Broker struct {
	logger zerolog.Logger
}

// NewBroker creates the decision broker
func NewBroker() *Broker {
	return &Broker{logger: log.With().Str("component", "broker").Logger()}
}

type decideResult struct {
	id     string
	bundle *types.DecisionBundle
	err    error
}

// Collect fans the payload out to every runtime and gathers replies until
// all models answered or ctx expires. The payload's Account block is
// personalized per model before dispatch. Failed or late models map to nil.
func (b *Broker) Collect(ctx context.Context, runtimes []*ModelRuntime, base types.RoundPayload, prices map[string]float64) map[string]*types.DecisionBundle {
	results := make(chan decideResult, len(runtimes))

	for _, rt := range runtimes {
		payload := base
		payload.Account = rt.Ledger.State(prices)

		go func(rt *ModelRuntime, payload types.RoundPayload) {
			bundle, err := rt.Adapter.Decide(ctx, &payload)
			results <- decideResult{id: rt.ID(), bundle: bundle, err: err}
		}(rt, payload)
	}

	byID := make(map[string]*ModelRuntime, len(runtimes))
	bundles := make(map[string]*types.DecisionBundle, len(runtimes))
	for _, rt := range runtimes {
		byID[rt.ID()] = rt
		bundles[rt.ID()] = nil
	}

	settled := make(map[string]bool, len(runtimes))
	for len(settled) < len(runtimes) {
		select {
		case res := <-results:
			settled[res.id] = true
			rt := byID[res.id]
			if res.err != nil {
				rt.RecordError(res.err)
				metrics.IncModelError(res.id, errorKind(res.err))
				b.logger.Warn().Err(res.err).Str("model", res.id).Msg("⚠️ Model failed this round")
				continue
			}
			rt.RecordBundle(len(res.bundle.Decisions), res.bundle.LatencyMS)
			bundles[res.id] = res.bundle

		case <-ctx.Done():
			// Deadline: everyone still out is scored as a timeout. Their
			// goroutines finish into the buffered channel and are dropped.
			for _, rt := range runtimes {
				if !settled[rt.ID()] {
					rt.RecordError(ctx.Err())
					metrics.IncModelError(rt.ID(), "timeout")
				}
			}
			b.logger.Warn().
				Int("received", len(settled)).
				Int("expected", len(runtimes)).
				Msg("⏱️ Round deadline hit while collecting decisions")
			return bundles
		}
	}
	return bundles
}

func errorKind(err error) string {
	var ae *models.AdapterError
	if errors.As(err, &ae) {
		return ae.Kind.String()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
