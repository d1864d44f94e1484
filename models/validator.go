package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VALIDATOR - Sanitize and constrain model replies
// ═══════════════════════════════════════════════════════════════════════════════

const (
	minReasoningLen = 10
	maxReasoningLen = 2000
)

// Sanitize strips prose and markdown around the JSON a model returned.
// Preference order: fenced ```json block, fenced ``` block, then the
// outermost JSON container found in the raw text.
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)

	for _, fence := range []string{"```json", "```"} {
		if start := strings.Index(raw, fence); start != -1 {
			rest := raw[start+len(fence):]
			if end := strings.Index(rest, "```"); end != -1 {
				// Fences can still wrap prose around the payload.
				return outerContainer(strings.TrimSpace(rest[:end]))
			}
		}
	}
	return outerContainer(raw)
}

// outerContainer trims to the outermost JSON array or object; the array
// wins when it opens before the first object.
func outerContainer(s string) string {
	arrStart := strings.Index(s, "[")
	objStart := strings.Index(s, "{")
	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		if end := strings.LastIndex(s, "]"); end > arrStart {
			return s[arrStart : end+1]
		}
	}
	if objStart != -1 {
		if end := strings.LastIndex(s, "}"); end > objStart {
			return s[objStart : end+1]
		}
	}
	return s
}

// ParseBundle sanitizes and validates a raw model reply against the
// configured symbols. A single object is accepted as a one-element bundle.
func ParseBundle(raw string, symbols []string) ([]types.Decision, error) {
	clean := Sanitize(raw)
	if clean == "" {
		return nil, fmt.Errorf("empty reply")
	}

	var decisions []types.Decision
	if strings.HasPrefix(clean, "[") {
		if err := json.Unmarshal([]byte(clean), &decisions); err != nil {
			return nil, fmt.Errorf("parse decision array: %w", err)
		}
	} else {
		var single types.Decision
		if err := json.Unmarshal([]byte(clean), &single); err != nil {
			return nil, fmt.Errorf("parse decision object: %w", err)
		}
		decisions = []types.Decision{single}
	}
	if len(decisions) == 0 {
		return nil, fmt.Errorf("no decisions in reply")
	}

	seen := make(map[string]bool, len(decisions))
	for i := range decisions {
		if err := validateDecision(&decisions[i], symbols); err != nil {
			return nil, err
		}
		if seen[decisions[i].Symbol] {
			return nil, fmt.Errorf("duplicate decision for %s", decisions[i].Symbol)
		}
		seen[decisions[i].Symbol] = true
	}
	return decisions, nil
}

func validateDecision(d *types.Decision, symbols []string) error {
	// A missing symbol is tolerable only when there is exactly one to mean.
	if d.Symbol == "" {
		if len(symbols) != 1 {
			return fmt.Errorf("decision missing symbol")
		}
		d.Symbol = symbols[0]
	}
	if !containsString(symbols, d.Symbol) {
		return fmt.Errorf("unknown symbol %q", d.Symbol)
	}

	d.Action = strings.ToUpper(strings.TrimSpace(d.Action))
	switch d.Action {
	case types.ActionBuy, types.ActionSell, types.ActionHold:
	default:
		return fmt.Errorf("invalid action %q for %s", d.Action, d.Symbol)
	}

	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %.3f out of [0,1] for %s", d.Confidence, d.Symbol)
	}
	if d.PositionSize < 0 || d.PositionSize > 1 {
		return fmt.Errorf("position_size %.3f out of [0,1] for %s", d.PositionSize, d.Symbol)
	}
	if d.Action == types.ActionHold && d.PositionSize != 0 {
		log.Warn().Str("symbol", d.Symbol).Float64("position_size", d.PositionSize).
			Msg("HOLD with nonzero position size, coercing to 0")
		d.PositionSize = 0
	}

	if n := len(d.Reasoning); n < minReasoningLen || n > maxReasoningLen {
		return fmt.Errorf("reasoning length %d out of [%d,%d] for %s", n, minReasoningLen, maxReasoningLen, d.Symbol)
	}

	if d.StopLoss != nil && d.TakeProfit != nil {
		switch d.Action {
		case types.ActionBuy:
			if *d.StopLoss >= *d.TakeProfit {
				return fmt.Errorf("BUY stop_loss %.4f must be below take_profit %.4f for %s", *d.StopLoss, *d.TakeProfit, d.Symbol)
			}
		case types.ActionSell:
			if *d.StopLoss <= *d.TakeProfit {
				return fmt.Errorf("SELL stop_loss %.4f must be above take_profit %.4f for %s", *d.StopLoss, *d.TakeProfit, d.Symbol)
			}
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
