package core

import (
	"sort"

	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD - Standings by return
// ═══════════════════════════════════════════════════════════════════════════════

// BuildLeaderboard marks every account to the given prices and ranks by
// return, best first. Ties break on model id so equal accounts always list
// in the same order. A model with no trades sits at 0%.
func BuildLeaderboard(runtimes []*ModelRuntime, prices map[string]float64) []types.LeaderboardEntry {
	entries := make([]types.LeaderboardEntry, 0, len(runtimes))

	for _, rt := range runtimes {
		view := rt.Ledger.State(prices)
		decisions, errCount, avgLatency := rt.Stats()

		entries = append(entries, types.LeaderboardEntry{
			Model:        rt.ID(),
			TotalValue:   view.TotalValue,
			ReturnPct:    view.ReturnPct,
			Cash:         view.Cash,
			Positions:    len(view.Positions),
			TotalTrades:  view.TotalTrades,
			WinRate:      view.WinRate,
			Decisions:    decisions,
			Errors:       errCount,
			AvgLatencyMS: avgLatency,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ReturnPct != entries[j].ReturnPct {
			return entries[i].ReturnPct > entries[j].ReturnPct
		}
		return entries[i].Model < entries[j].Model
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
