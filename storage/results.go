package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RESULTS - Session JSON and leaderboard CSV export
// ═══════════════════════════════════════════════════════════════════════════════

// SessionConfig echoes the run parameters into the result file.
type SessionConfig struct {
	DecisionInterval string  `json:"decision_interval"`
	CapitalPerModel  float64 `json:"capital_per_model"`
}

// SessionSummary is the human-facing digest embedded in the result file.
type SessionSummary struct {
	DurationMinutes float64 `json:"duration_minutes"`
	TotalDecisions  int     `json:"total_decisions"`
	TotalErrors     int     `json:"total_errors"`
	Leader          string  `json:"leader"`
	LeaderReturnPct float64 `json:"leader_return_pct"`
}

// SessionResult is the full session artifact written at shutdown.
type SessionResult struct {
	SessionID        string                   `json:"session_id"`
	SessionStart     time.Time                `json:"session_start"`
	SessionEnd       time.Time                `json:"session_end"`
	Symbols          []string                 `json:"symbols"`
	TotalRounds      int                      `json:"total_rounds"`
	Config           SessionConfig            `json:"config"`
	FinalLeaderboard []types.LeaderboardEntry `json:"final_leaderboard"`
	RoundResults     []types.RoundRecord      `json:"round_results"`
	Summary          SessionSummary           `json:"summary"`
}

// ResultsWriter exports one session to data/results-style files.
type ResultsWriter struct {
	dir       string
	sessionID string
}

// NewResultsWriter derives the session id from the start time
func NewResultsWriter(dir string, start time.Time) *ResultsWriter {
	return &ResultsWriter{
		dir:       dir,
		sessionID: start.Format("20060102_150405"),
	}
}

// SessionID returns the timestamp-derived session identifier.
func (w *ResultsWriter) SessionID() string { return w.sessionID }

// Export writes session_<id>.json and leaderboard_<id>.csv. Failures are
// logged per file so one bad write cannot take the other artifact down.
func (w *ResultsWriter) Export(result SessionResult) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}

	var firstErr error
	if err := w.writeJSON(result); err != nil {
		log.Error().Err(err).Msg("Failed to write session JSON")
		firstErr = err
	}
	if err := w.writeCSV(result.FinalLeaderboard); err != nil {
		log.Error().Err(err).Msg("Failed to write leaderboard CSV")
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		log.Info().Str("dir", w.dir).Str("session", w.sessionID).Msg("📁 Results exported")
	}
	return firstErr
}

func (w *ResultsWriter) writeJSON(result SessionResult) error {
	path := filepath.Join(w.dir, fmt.Sprintf("session_%s.json", w.sessionID))
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (w *ResultsWriter) writeCSV(leaderboard []types.LeaderboardEntry) error {
	path := filepath.Join(w.dir, fmt.Sprintf("leaderboard_%s.csv", w.sessionID))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{
		"rank", "model", "total_value", "return_pct", "cash", "positions",
		"total_trades", "win_rate", "decisions", "errors", "avg_latency_ms",
	}); err != nil {
		return err
	}
	for _, e := range leaderboard {
		row := []string{
			fmt.Sprintf("%d", e.Rank),
			e.Model,
			fmt.Sprintf("%.2f", e.TotalValue),
			fmt.Sprintf("%.4f", e.ReturnPct),
			fmt.Sprintf("%.2f", e.Cash),
			fmt.Sprintf("%d", e.Positions),
			fmt.Sprintf("%d", e.TotalTrades),
			fmt.Sprintf("%.4f", e.WinRate),
			fmt.Sprintf("%d", e.Decisions),
			fmt.Sprintf("%d", e.Errors),
			fmt.Sprintf("%d", e.AvgLatencyMS),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
