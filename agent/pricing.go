/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agent

import "strings"

// USD per million tokens. Matched by prefix so dated snapshots of a model
// family resolve without a table update.
var modelPricing = []struct {
	prefix          string
	inputPerMTok    float64
	outputPerMTok   float64
}{
	{"claude-opus-4", 15.00, 75.00},
	{"claude-sonnet-4", 3.00, 15.00},
	{"claude-3-7-sonnet", 3.00, 15.00},
	{"claude-3-5-haiku", 0.80, 4.00},
}

// costUSD estimates the run cost from token usage. Returns nil when the
// model has no pricing entry, so callers omit cost rather than report a
// wrong number.
func costUSD(model string, inputTokens, outputTokens int64) *float64 {
	for _, p := range modelPricing {
		if strings.HasPrefix(model, p.prefix) {
			cost := float64(inputTokens)/1e6*p.inputPerMTok + float64(outputTokens)/1e6*p.outputPerMTok
			return &cost
		}
	}
	return nil
}
