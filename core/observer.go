package core

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OBSERVERS - Lifecycle event sinks
// ═══════════════════════════════════════════════════════════════════════════════

// Observer receives scheduler lifecycle events. Implementations must not
// block; slow sinks should hand off internally.
type Observer interface {
	SessionStarted(sessionID string, symbols, modelIDs []string)
	RoundStarted(round int)
	RoundCompleted(rec types.RoundRecord)
	SessionFinished(sessionID string, final []types.LeaderboardEntry)
	SessionError(round int, err error)
}

// LogObserver writes lifecycle events to the structured log.
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver creates the console observer
func NewLogObserver() *LogObserver {
	return &LogObserver{logger: log.With().Str("component", "arena").Logger()}
}

func (o *LogObserver) SessionStarted(sessionID string, symbols, modelIDs []string) {
	o.logger.Info().
		Str("session", sessionID).
		Strs("symbols", symbols).
		Strs("models", modelIDs).
		Msg("🏁 Competition started")
}

func (o *LogObserver) RoundStarted(round int) {
	o.logger.Info().Int("round", round).Msg("▶️ Round started")
}

func (o *LogObserver) RoundCompleted(rec types.RoundRecord) {
	ev := o.logger.Info().
		Int("round", rec.Round).
		Int("executed", rec.TotalExecuted()).
		Int("rejected", rec.TotalRejected()).
		Int64("duration_ms", rec.DurationMS)
	if len(rec.Leaderboard) > 0 {
		lead := rec.Leaderboard[0]
		ev = ev.Str("leader", lead.Model).Float64("leader_return_pct", lead.ReturnPct)
	}
	ev.Msg("✅ Round complete")

	for _, e := range rec.Leaderboard {
		o.logger.Info().
			Int("rank", e.Rank).
			Str("model", e.Model).
			Float64("value", e.TotalValue).
			Float64("return_pct", e.ReturnPct).
			Float64("win_rate", e.WinRate).
			Msg("📊 Standing")
	}
}

func (o *LogObserver) SessionFinished(sessionID string, final []types.LeaderboardEntry) {
	o.logger.Info().Str("session", sessionID).Msg("🏆 Competition finished")
	for _, e := range final {
		o.logger.Info().
			Int("rank", e.Rank).
			Str("model", e.Model).
			Float64("value", e.TotalValue).
			Float64("return_pct", e.ReturnPct).
			Msg("Final standing")
	}
}

func (o *LogObserver) SessionError(round int, err error) {
	o.logger.Error().Err(err).Int("round", round).Msg("Round error")
}
