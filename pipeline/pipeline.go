/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package pipeline orchestrates one mention request end to end: duplicate
// suppression, admission, tracking comment, context fetch, checkout, agent
// execution, and finalization. Process never returns an error to its caller;
// every failure terminates in the server logs plus a generic user-visible
// outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainguard.dev/mentionbot/agent"
	"chainguard.dev/mentionbot/checkout"
	"chainguard.dev/mentionbot/ghdata"
	"chainguard.dev/mentionbot/metrics"
	"chainguard.dev/mentionbot/prompt"
	"chainguard.dev/mentionbot/retry"
	"chainguard.dev/mentionbot/toolconfig"
	"chainguard.dev/mentionbot/tracking"
	"github.com/chainguard-dev/clog"
)

// Guard suppresses duplicate deliveries. Implemented by idempotency.Guard.
type Guard interface {
	ShouldSkip(ctx context.Context, owner, repo string, number int, deliveryID string) (bool, error)
}

// Gate bounds concurrent executions. Implemented by admission.Gate.
type Gate interface {
	TryAdmit() bool
	Release()
}

// TrackingComment is the handle the pipeline finalizes exactly once.
type TrackingComment interface {
	Finalize(ctx context.Context, res *agent.Result) error
	FinalizeError(ctx context.Context) error
}

// Tracker creates tracking comments and posts capacity notices.
type Tracker interface {
	Create(ctx context.Context, owner, repo string, number int, deliveryID, actor string) (TrackingComment, error)
	PostCapacityNotice(ctx context.Context, owner, repo string, number int) error
}

// AdaptTracker wraps a tracking.Tracker as a pipeline Tracker.
func AdaptTracker(t *tracking.Tracker) Tracker {
	return trackerAdapter{t: t}
}

type trackerAdapter struct {
	t *tracking.Tracker
}

func (a trackerAdapter) Create(ctx context.Context, owner, repo string, number int, deliveryID, actor string) (TrackingComment, error) {
	c, err := a.t.Create(ctx, owner, repo, number, deliveryID, actor)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (a trackerAdapter) PostCapacityNotice(ctx context.Context, owner, repo string, number int) error {
	return a.t.PostCapacityNotice(ctx, owner, repo, number)
}

// TokenProvider mints installation tokens for git access. Implemented by
// credentials.Provider.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Cloner checks out the target repository. Implemented by checkout.Cloner.
type Cloner interface {
	Clone(ctx context.Context, owner, repo, branch, token string) (string, checkout.CleanupFunc, error)
}

// PromptBuilder renders the agent prompt. Implemented by prompt.Builder.
type PromptBuilder interface {
	Build(in prompt.Input) (string, error)
}

// ToolResolver computes tool grants. Implemented by toolconfig.Resolver.
type ToolResolver interface {
	ServerConfig(owner, repo string, isPR bool) map[string]toolconfig.ServerConfig
	AllowedTools(owner, repo string, isPR bool) []string
}

// Deps are the pipeline's collaborators. All fields are required.
type Deps struct {
	Guard       Guard
	Gate        Gate
	Tracker     Tracker
	Credentials TokenProvider
	Fetcher     ghdata.Fetcher
	Prompts     PromptBuilder
	Cloner      Cloner
	Tools       ToolResolver
	Executor    agent.Executor
}

func (d Deps) validate() error {
	switch {
	case d.Guard == nil:
		return errors.New("pipeline: Guard is required")
	case d.Gate == nil:
		return errors.New("pipeline: Gate is required")
	case d.Tracker == nil:
		return errors.New("pipeline: Tracker is required")
	case d.Credentials == nil:
		return errors.New("pipeline: Credentials is required")
	case d.Fetcher == nil:
		return errors.New("pipeline: Fetcher is required")
	case d.Prompts == nil:
		return errors.New("pipeline: Prompts is required")
	case d.Cloner == nil:
		return errors.New("pipeline: Cloner is required")
	case d.Tools == nil:
		return errors.New("pipeline: Tools is required")
	case d.Executor == nil:
		return errors.New("pipeline: Executor is required")
	}
	return nil
}

// Pipeline processes mention requests.
type Pipeline struct {
	deps         Deps
	retryCfg     retry.Config
	agentTimeout time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetryConfig overrides the retry configuration for remote fetches.
func WithRetryConfig(cfg retry.Config) Option {
	return func(p *Pipeline) {
		p.retryCfg = cfg
	}
}

// WithAgentTimeout bounds how long one agent execution may run.
func WithAgentTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.agentTimeout = d
	}
}

// New constructs a Pipeline.
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		deps:         deps,
		retryCfg:     retry.DefaultConfig(),
		agentTimeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.retryCfg.Validate(); err != nil {
		return nil, err
	}
	if p.agentTimeout <= 0 {
		return nil, errors.New("pipeline: agent timeout must be positive")
	}
	return p, nil
}

// Process runs one delivery to a terminal outcome. It never returns an error:
// internal failures are logged with full detail, and the user only ever sees
// the tracking comment's generic outcome.
func (p *Pipeline) Process(ctx context.Context, req *RequestContext) {
	log := clog.FromContext(ctx).
		With("delivery", req.DeliveryID).
		With("repo", req.Repository()).
		With("number", req.Number)
	ctx = clog.WithLogger(ctx, log)

	skip, err := p.deps.Guard.ShouldSkip(ctx, req.Owner, req.Repo, req.Number, req.DeliveryID)
	if err != nil {
		// Nothing user-visible exists yet, so there is nothing to finalize.
		log.Errorf("Duplicate check failed, dropping delivery: %v", err)
		metrics.RecordOutcome(metrics.OutcomeFailed)
		return
	}
	if skip {
		metrics.RecordOutcome(metrics.OutcomeDuplicate)
		return
	}

	if !p.deps.Gate.TryAdmit() {
		log.Info("At capacity, rejecting delivery")
		metrics.RecordOutcome(metrics.OutcomeCapacity)
		if err := p.deps.Tracker.PostCapacityNotice(ctx, req.Owner, req.Repo, req.Number); err != nil {
			log.Warnf("Could not post capacity notice: %v", err)
		}
		return
	}
	metrics.ExecutionStarted()
	defer func() {
		p.deps.Gate.Release()
		metrics.ExecutionFinished()
	}()

	comment, err := p.deps.Tracker.Create(ctx, req.Owner, req.Repo, req.Number, req.DeliveryID, req.Actor)
	if err != nil {
		log.Errorf("Could not create tracking comment: %v", err)
		metrics.RecordOutcome(metrics.OutcomeFailed)
		return
	}

	res, err := p.run(ctx, req)
	if err != nil {
		log.Errorf("Processing failed: %v", err)
		if ferr := comment.FinalizeError(ctx); ferr != nil {
			log.Errorf("Could not finalize tracking comment after failure: %v", ferr)
		}
		metrics.RecordOutcome(metrics.OutcomeFailed)
		return
	}

	if err := comment.Finalize(ctx, res); err != nil {
		log.Errorf("Could not finalize tracking comment: %v", err)
		metrics.RecordOutcome(metrics.OutcomeFailed)
		return
	}
	metrics.RecordOutcome(metrics.OutcomeCompleted)
}

// run performs the fallible middle of the pipeline. Its error is for the
// server logs only; callers must never surface it to users.
func (p *Pipeline) run(ctx context.Context, req *RequestContext) (*agent.Result, error) {
	log := clog.FromContext(ctx)

	token, err := p.deps.Credentials.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("minting installation token: %w", err)
	}

	data, err := retry.Do(ctx, p.retryCfg, "fetch thread context", func() (*ghdata.Data, error) {
		return p.deps.Fetcher.Fetch(ctx, req.Owner, req.Repo, req.Number, req.IsPR)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching thread context: %w", err)
	}

	enriched := req.Enrich(data)

	promptText, err := p.deps.Prompts.Build(prompt.Input{
		Owner:      req.Owner,
		Repo:       req.Repo,
		Number:     req.Number,
		IsPR:       req.IsPR,
		Actor:      req.Actor,
		Message:    req.Message,
		HeadBranch: enriched.HeadBranch,
		BaseBranch: enriched.BaseBranch,
		Context:    ghdata.Format(data, req.IsPR),
	})
	if err != nil {
		return nil, fmt.Errorf("building prompt: %w", err)
	}

	workdir, cleanup, err := p.deps.Cloner.Clone(ctx, req.Owner, req.Repo, enriched.CloneBranch(), token)
	if err != nil {
		return nil, fmt.Errorf("checking out repository: %w", err)
	}
	defer func() {
		if err := cleanup(ctx); err != nil {
			log.Warnf("Could not clean up checkout: %v", err)
		}
	}()

	// The executor runs exactly once; it is not safe to re-run, so no retry
	// wraps it.
	agentCtx, cancel := context.WithTimeout(ctx, p.agentTimeout)
	defer cancel()

	res, err := p.deps.Executor.Execute(agentCtx, agent.Request{
		Prompt:       promptText,
		WorkDir:      workdir,
		AllowedTools: p.deps.Tools.AllowedTools(req.Owner, req.Repo, req.IsPR),
		Servers:      p.deps.Tools.ServerConfig(req.Owner, req.Repo, req.IsPR),
	})
	if err != nil {
		return nil, fmt.Errorf("executing agent: %w", err)
	}
	metrics.ObserveAgentDuration(res.Duration)
	return res, nil
}
