/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main runs the mention bot webhook server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainguard.dev/mentionbot/agent"
	"chainguard.dev/mentionbot/checkout"
	"chainguard.dev/mentionbot/credentials"
	"chainguard.dev/mentionbot/ghdata"
	"chainguard.dev/mentionbot/pipeline"
	"chainguard.dev/mentionbot/pipeline/admission"
	"chainguard.dev/mentionbot/pipeline/idempotency"
	"chainguard.dev/mentionbot/prompt"
	"chainguard.dev/mentionbot/retry"
	"chainguard.dev/mentionbot/toolconfig"
	"chainguard.dev/mentionbot/tracking"
	"chainguard.dev/mentionbot/webhook"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

type config struct {
	Port        int `env:"PORT,default=8080"`
	MetricsPort int `env:"METRICS_PORT,default=2112"`

	// GitHub App identity
	WebhookSecret  string `env:"GITHUB_WEBHOOK_SECRET,required"`
	AppID          int64  `env:"GITHUB_APP_ID,required"`
	InstallationID int64  `env:"GITHUB_INSTALLATION_ID,required"`
	PrivateKeyPath string `env:"GITHUB_PRIVATE_KEY_PATH,required"`
	BotLogin       string `env:"BOT_LOGIN,default=mentionbot"`

	// Pipeline tuning
	MaxConcurrent        int           `env:"MAX_CONCURRENT,default=3"`
	ReservationRetention time.Duration `env:"RESERVATION_RETENTION,default=1h"`
	RetryMaxAttempts     int           `env:"RETRY_MAX_ATTEMPTS,default=3"`
	RetryInitialDelay    time.Duration `env:"RETRY_INITIAL_DELAY,default=500ms"`
	RetryMaxDelay        time.Duration `env:"RETRY_MAX_DELAY,default=30s"`

	// Agent configuration. ANTHROPIC_API_KEY is read by the SDK itself.
	AgentTimeout time.Duration `env:"AGENT_TIMEOUT,default=10m"`
	ClaudeModel  string        `env:"CLAUDE_MODEL"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	creds, err := credentials.NewProvider(cfg.AppID, cfg.InstallationID, cfg.PrivateKeyPath)
	if err != nil {
		clog.FatalContextf(ctx, "creating credentials provider: %v", err)
	}

	retryCfg := retry.Config{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		Factor:       2,
	}
	if err := retryCfg.Validate(); err != nil {
		clog.FatalContextf(ctx, "invalid retry config: %v", err)
	}

	tracker := tracking.NewTracker(
		tracking.NewGitHubAPI(creds.Client()),
		tracking.WithRetryConfig(retryCfg),
	)

	guard := idempotency.NewGuard(tracker, cfg.ReservationRetention)
	guard.StartSweeping(ctx)

	prompts, err := prompt.NewBuilder()
	if err != nil {
		clog.FatalContextf(ctx, "building prompt template: %v", err)
	}

	var executorOpts []agent.ClaudeOption
	if cfg.ClaudeModel != "" {
		executorOpts = append(executorOpts, agent.WithModel(cfg.ClaudeModel))
	}
	executor, err := agent.NewClaudeExecutor(anthropic.NewClient(), executorOpts...)
	if err != nil {
		clog.FatalContextf(ctx, "creating agent executor: %v", err)
	}

	fetcher := ghdata.NewGraphQLFetcher(githubv4.NewClient(
		oauth2.NewClient(ctx, creds.TokenSource(ctx))))

	p, err := pipeline.New(pipeline.Deps{
		Guard:       guard,
		Gate:        admission.NewGate(cfg.MaxConcurrent),
		Tracker:     pipeline.AdaptTracker(tracker),
		Credentials: creds,
		Fetcher:     fetcher,
		Prompts:     prompts,
		Cloner:      checkout.NewCloner(),
		Tools:       toolconfig.NewResolver(),
		Executor:    executor,
	},
		pipeline.WithRetryConfig(retryCfg),
		pipeline.WithAgentTimeout(cfg.AgentTimeout),
	)
	if err != nil {
		clog.FatalContextf(ctx, "creating pipeline: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /webhook", webhook.NewHandler([]byte(cfg.WebhookSecret), cfg.BotLogin, p.Process))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			clog.FatalContextf(ctx, "metrics server failed: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			clog.ErrorContextf(ctx, "shutting down: %v", err)
		}
	}()

	clog.InfoContextf(ctx, "Starting mention bot on port %d (bot=@%s, max_concurrent=%d)",
		cfg.Port, cfg.BotLogin, cfg.MaxConcurrent)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		clog.FatalContextf(ctx, "server failed: %v", err)
	}
}
