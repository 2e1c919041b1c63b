/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package agent defines the boundary to the delegated AI agent and a Claude
// implementation of it. The pipeline runs the executor exactly once per
// delivery; the executor honors the context deadline at every remote call.
package agent

import (
	"context"
	"time"

	"chainguard.dev/mentionbot/toolconfig"
)

// Request carries everything one agent run needs.
type Request struct {
	// Prompt is the fully assembled user prompt.
	Prompt string
	// WorkDir is the isolated checkout the agent may read (and, when
	// granted, write). Tools never escape it.
	WorkDir string
	// AllowedTools names the tools this run may invoke.
	AllowedTools []string
	// Servers are the resolved tool servers for this run.
	Servers map[string]toolconfig.ServerConfig
}

// Result is the outcome of a completed agent run. Duration, CostUSD and
// NumTurns are best-effort: absent values stay at their zero value (nil for
// cost) and are omitted from user-visible summaries.
type Result struct {
	Success  bool
	Duration time.Duration
	CostUSD  *float64
	NumTurns int
}

// Executor runs the delegated agent. Implementations may take minutes and
// are not safe to blindly re-run; callers must not retry Execute.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}
