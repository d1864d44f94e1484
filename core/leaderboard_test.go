package core

import (
	"testing"

	"github.com/shopspring/decimal"

	"llm-trading-arena/types"
)

func TestBuildLeaderboardRanksByReturn(t *testing.T) {
	winner := testRuntime(&scriptedAdapter{id: "winner"})
	loser := testRuntime(&scriptedAdapter{id: "loser"})
	idle := testRuntime(&scriptedAdapter{id: "idle"})

	// winner buys at 100, marked at 120; loser buys at 100, marked at 80.
	if _, err := winner.Ledger.Execute("BTC/USDT", types.ActionBuy, decimal.NewFromInt(1), decimal.NewFromInt(100)); err != nil {
		t.Fatal(err)
	}
	if _, err := loser.Ledger.Execute("BTC/USDT", types.ActionBuy, decimal.NewFromInt(1), decimal.NewFromInt(100)); err != nil {
		t.Fatal(err)
	}

	entries := BuildLeaderboard([]*ModelRuntime{loser, idle, winner}, map[string]float64{"BTC/USDT": 120})
	// loser must be marked down separately
	entries2 := BuildLeaderboard([]*ModelRuntime{loser}, map[string]float64{"BTC/USDT": 80})

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Model != "winner" || entries[0].Rank != 1 {
		t.Errorf("expected winner first, got %s rank %d", entries[0].Model, entries[0].Rank)
	}
	if entries[0].ReturnPct <= 0 {
		t.Errorf("marked-up account should be positive, got %f", entries[0].ReturnPct)
	}
	if entries2[0].ReturnPct >= 0 {
		t.Errorf("marked-down account should be negative, got %f", entries2[0].ReturnPct)
	}

	// Untouched account sits at exactly 0%.
	var idleEntry types.LeaderboardEntry
	for _, e := range entries {
		if e.Model == "idle" {
			idleEntry = e
		}
	}
	if idleEntry.ReturnPct != 0 || idleEntry.TotalValue != 1000 {
		t.Errorf("idle account should be flat, got %+v", idleEntry)
	}
}

func TestBuildLeaderboardTieBreaksOnModel(t *testing.T) {
	a := testRuntime(&scriptedAdapter{id: "bravo"})
	b := testRuntime(&scriptedAdapter{id: "alpha"})

	entries := BuildLeaderboard([]*ModelRuntime{a, b}, nil)
	if entries[0].Model != "alpha" || entries[1].Model != "bravo" {
		t.Errorf("equal accounts must order by model id, got %s then %s",
			entries[0].Model, entries[1].Model)
	}
	if entries[0].Rank != 1 || entries[1].Rank != 2 {
		t.Errorf("ranks = %d, %d", entries[0].Rank, entries[1].Rank)
	}
}
