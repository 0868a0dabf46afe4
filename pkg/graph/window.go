package graph

import "github.com/knowhq/sable/pkg/model"

// defaultTokenBudget matches the reasoning-context limit applied before
// each agent invocation
const defaultTokenBudget = 4000

// estimateTokens approximates the token cost of a message. A chars/4
// heuristic keeps trimming free of a tokenizer RPC; the budget is a
// safety margin, not an exact accounting.
func estimateTokens(msg model.Message) int {
	n := len(msg.Content)/4 + 4
	for _, tc := range msg.ToolCalls {
		n += len(tc.Name)/4 + 8
		for k, v := range tc.Args {
			n += len(k) / 4
			if s, ok := v.(string); ok {
				n += len(s) / 4
			} else {
				n += 4
			}
		}
	}
	return n
}

// trimHistory keeps the most recent messages within the token budget.
// System messages are excluded entirely (the system instruction is
// re-added unconditionally at the front of every agent call, so it can
// never be evicted by history growth). The kept window always starts at
// a human message so a tool-call/tool-result pair is never split; when
// the nearest human message does not fit the budget, the window is
// widened back to it rather than dropping the question.
func trimHistory(msgs []model.Message, budgetTokens int) []model.Message {
	if budgetTokens <= 0 {
		budgetTokens = defaultTokenBudget
	}

	hist := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			continue
		}
		hist = append(hist, m)
	}
	if len(hist) == 0 {
		return hist
	}

	// Walk backward until the budget is spent. The most recent message is
	// always kept.
	start := len(hist) - 1
	used := estimateTokens(hist[start])
	for i := len(hist) - 2; i >= 0; i-- {
		cost := estimateTokens(hist[i])
		if used+cost > budgetTokens {
			break
		}
		used += cost
		start = i
	}

	// Align the window start on a human message
	aligned := start
	for aligned < len(hist) && hist[aligned].Role != model.RoleHuman {
		aligned++
	}
	if aligned < len(hist) {
		return hist[aligned:]
	}

	// No human message inside the window: widen back to the nearest one
	for i := start; i >= 0; i-- {
		if hist[i].Role == model.RoleHuman {
			return hist[i:]
		}
	}

	return hist[start:]
}
