/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chainguard.dev/mentionbot/retry"
	"chainguard.dev/mentionbot/toolconfig"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/chainguard-dev/clog"
)

// ClaudeExecutor runs the agent as an in-process Claude conversation with
// workspace tools rooted at the request's working tree.
type ClaudeExecutor struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	maxTurns    int
	system      string
	retryConfig retry.Config
}

// ClaudeOption configures a ClaudeExecutor.
type ClaudeOption func(*ClaudeExecutor) error

// WithModel overrides the model name.
func WithModel(model string) ClaudeOption {
	return func(e *ClaudeExecutor) error {
		if !strings.HasPrefix(model, "claude-") {
			return fmt.Errorf("model %q does not appear to be a Claude model", model)
		}
		e.model = model
		return nil
	}
}

// WithMaxTurns caps how many model round-trips one run may take.
func WithMaxTurns(n int) ClaudeOption {
	return func(e *ClaudeExecutor) error {
		if n < 1 {
			return fmt.Errorf("max turns must be positive, got %d", n)
		}
		e.maxTurns = n
		return nil
	}
}

// WithMaxTokens sets the per-response token budget.
func WithMaxTokens(n int64) ClaudeOption {
	return func(e *ClaudeExecutor) error {
		if n <= 0 {
			return fmt.Errorf("max tokens must be positive, got %d", n)
		}
		e.maxTokens = n
		return nil
	}
}

// WithSystemPrompt sets system instructions prepended to every run.
func WithSystemPrompt(system string) ClaudeOption {
	return func(e *ClaudeExecutor) error {
		e.system = system
		return nil
	}
}

// WithRetryConfig sets the retry configuration for transient model API
// errors. This retries individual API calls within a run, never the run.
func WithRetryConfig(cfg retry.Config) ClaudeOption {
	return func(e *ClaudeExecutor) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid retry config: %w", err)
		}
		e.retryConfig = cfg
		return nil
	}
}

// NewClaudeExecutor constructs a ClaudeExecutor.
func NewClaudeExecutor(client anthropic.Client, opts ...ClaudeOption) (*ClaudeExecutor, error) {
	e := &ClaudeExecutor{
		client:      client,
		model:       "claude-sonnet-4-20250514",
		maxTokens:   8192,
		maxTurns:    30,
		retryConfig: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// isPermanentClaudeError reports whether a model API error should fail the
// call immediately. Rate limit (429), overloaded (529) and 5xx responses are
// transient; other client errors are not worth repeating.
func isPermanentClaudeError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504, 529:
			return false
		default:
			return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
		}
	}
	return false
}

// Execute runs one agent conversation. It returns an error for run-level
// failures (API failure after retries, turn-cap overrun, context deadline);
// the caller treats any error as a failed delivery.
func (e *ClaudeExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	log := clog.FromContext(ctx)
	start := time.Now()

	var tools map[string]tool
	if _, ok := req.Servers[toolconfig.WorkspaceServer]; ok {
		tools = workspaceTools(req.WorkDir, req.AllowedTools)
	} else {
		log.Warn("No workspace server resolved, running without tools")
	}

	toolDefs := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		def := t.definition
		toolDefs = append(toolDefs, anthropic.ToolUnionParam{OfTool: &def})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		Messages: []anthropic.MessageParam{{
			Role: anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{
				anthropic.NewTextBlock(req.Prompt),
			},
		}},
		Tools: toolDefs,
	}
	if e.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: e.system}}
	}

	log.With("model", e.model).
		With("prompt_length", len(req.Prompt)).
		With("tools", len(tools)).
		Info("Starting agent run")

	var inputTokens, outputTokens int64
	turns := 0

	for {
		if turns >= e.maxTurns {
			return nil, fmt.Errorf("agent exceeded %d turns without completing", e.maxTurns)
		}

		message, err := retry.DoWithClassifier(ctx, e.retryConfig, "create message", isPermanentClaudeError, func() (*anthropic.Message, error) {
			return e.client.Messages.New(ctx, params)
		})
		if err != nil {
			return nil, fmt.Errorf("calling model: %w", err)
		}
		turns++
		inputTokens += message.Usage.InputTokens
		outputTokens += message.Usage.OutputTokens

		var toolUses []anthropic.ToolUseBlock
		for _, content := range message.Content {
			if content.Type == "tool_use" {
				toolUses = append(toolUses, anthropic.ToolUseBlock{
					ID:    content.ID,
					Name:  content.Name,
					Input: content.Input,
				})
			}
		}

		if len(toolUses) == 0 {
			break
		}

		params.Messages = append(params.Messages, message.ToParam())

		var results []anthropic.ContentBlockParamUnion
		for _, use := range toolUses {
			log.With("tool", use.Name).With("id", use.ID).Info("Executing tool call")

			var out map[string]any
			if t, ok := tools[use.Name]; ok {
				out = t.handler(ctx, use.Input)
			} else {
				log.With("tool", use.Name).Warn("Agent requested tool outside its grant")
				out = toolError("tool %q is not available in this run", use.Name)
			}

			body, err := json.Marshal(out)
			if err != nil {
				return nil, fmt.Errorf("marshaling tool result: %w", err)
			}
			results = append(results, anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: use.ID,
					Content: []anthropic.ToolResultBlockParamContentUnion{{
						OfText: &anthropic.TextBlockParam{Text: string(body)},
					}},
				},
			})
		}

		params.Messages = append(params.Messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRoleUser,
			Content: results,
		})
	}

	res := &Result{
		Success:  true,
		Duration: time.Since(start),
		NumTurns: turns,
		CostUSD:  costUSD(e.model, inputTokens, outputTokens),
	}

	log.With("turns", turns).
		With("input_tokens", inputTokens).
		With("output_tokens", outputTokens).
		With("duration", res.Duration).
		Info("Agent run completed")
	return res, nil
}
