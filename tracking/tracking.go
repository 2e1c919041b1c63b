/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package tracking manages the single tracking comment each delivery gets:
// created once, updated in place, finalized exactly once. The comment body
// carries a hidden marker embedding the delivery identifier, which doubles
// as the durable idempotency signal across process restarts.
package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chainguard.dev/mentionbot/agent"
	"chainguard.dev/mentionbot/retry"
	"github.com/chainguard-dev/clog"
)

// GenericErrorMessage is the only error text ever shown to users. Internal
// error detail stays in the server logs.
const GenericErrorMessage = "Something went wrong while processing this request. The maintainers can find details in the server logs."

// capacityMessage is posted when the admission gate rejects a delivery.
const capacityMessage = "I'm at capacity right now and can't pick this up. GitHub will redeliver the event shortly; no action needed."

// Marker returns the hidden HTML comment embedded in tracking comment
// bodies for the given delivery identifier.
func Marker(deliveryID string) string {
	return fmt.Sprintf("<!-- mentionbot:delivery:%s -->", deliveryID)
}

// API is the narrow comment-thread surface the tracker needs. Implemented by
// GitHubAPI; faked in tests.
type API interface {
	// ListCommentBodies returns up to perPage comment bodies, most recent
	// first.
	ListCommentBodies(ctx context.Context, owner, repo string, number, perPage int) ([]string, error)
	CreateComment(ctx context.Context, owner, repo string, number int, body string) (int64, error)
	UpdateComment(ctx context.Context, owner, repo string, id int64, body string) error
	GetComment(ctx context.Context, owner, repo string, id int64) (string, error)
}

// Tracker creates and finalizes tracking comments.
type Tracker struct {
	api      API
	retryCfg retry.Config
	pageSize int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRetryConfig overrides the retry configuration for comment writes.
func WithRetryConfig(cfg retry.Config) Option {
	return func(t *Tracker) {
		t.retryCfg = cfg
	}
}

// WithPageSize overrides how many comments the durable marker check scans.
func WithPageSize(n int) Option {
	return func(t *Tracker) {
		t.pageSize = n
	}
}

// NewTracker constructs a Tracker.
func NewTracker(api API, opts ...Option) *Tracker {
	t := &Tracker{
		api:      api,
		retryCfg: retry.DefaultConfig(),
		// Generous page: on busy threads the tracking comment is one of the
		// newest, so a recency-ordered page this size cannot miss it.
		pageSize: 100,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// HasDeliveryMarker reports whether any recent comment on the thread carries
// the marker for deliveryID. This is the durable half of the idempotency
// guard; failures propagate so the caller neither duplicates work nor
// starves retries.
func (t *Tracker) HasDeliveryMarker(ctx context.Context, owner, repo string, number int, deliveryID string) (bool, error) {
	bodies, err := t.api.ListCommentBodies(ctx, owner, repo, number, t.pageSize)
	if err != nil {
		return false, fmt.Errorf("listing comments: %w", err)
	}
	marker := Marker(deliveryID)
	for _, body := range bodies {
		if strings.Contains(body, marker) {
			return true, nil
		}
	}
	return false, nil
}

// Create posts the initial tracking comment and returns a handle for later
// finalization. The create is retried; a failure here means there is nothing
// to finalize, which the pipeline handles by logging only.
func (t *Tracker) Create(ctx context.Context, owner, repo string, number int, deliveryID, actor string) (*Comment, error) {
	body := fmt.Sprintf("Working on it, @%s — I'll update this comment as I make progress.\n\n%s",
		actor, Marker(deliveryID))

	id, err := retry.Do(ctx, t.retryCfg, "create tracking comment", func() (int64, error) {
		return t.api.CreateComment(ctx, owner, repo, number, body)
	})
	if err != nil {
		return nil, err
	}

	return &Comment{
		tracker:    t,
		owner:      owner,
		repo:       repo,
		number:     number,
		id:         id,
		deliveryID: deliveryID,
	}, nil
}

// PostCapacityNotice posts a one-shot, best-effort capacity message. Not
// retried; the caller logs and swallows any failure.
func (t *Tracker) PostCapacityNotice(ctx context.Context, owner, repo string, number int) error {
	_, err := t.api.CreateComment(ctx, owner, repo, number, capacityMessage)
	return err
}

// Comment is a handle to a created tracking comment.
type Comment struct {
	tracker    *Tracker
	owner      string
	repo       string
	number     int
	id         int64
	deliveryID string
}

// ID returns the comment identifier.
func (c *Comment) ID() int64 {
	return c.id
}

// Finalize appends the terminal success summary to the tracking comment,
// keeping only the result fields that are present, and guarantees the
// delivery marker survives whatever intermediate updates did to the body.
func (c *Comment) Finalize(ctx context.Context, res *agent.Result) error {
	var sb strings.Builder
	if res != nil && res.Success {
		sb.WriteString("### Request completed\n")
	} else {
		sb.WriteString("### Request finished without completing\n")
	}
	if res != nil {
		if res.Duration > 0 {
			d := res.Duration.Round(time.Second)
			if d == 0 {
				d = res.Duration.Round(time.Millisecond)
			}
			fmt.Fprintf(&sb, "- Duration: %s\n", d)
		}
		if res.CostUSD != nil {
			fmt.Fprintf(&sb, "- Cost: $%.4f\n", *res.CostUSD)
		}
		if res.NumTurns > 0 {
			fmt.Fprintf(&sb, "- Turns: %d\n", res.NumTurns)
		}
	}
	return c.finalize(ctx, sb.String())
}

// FinalizeError replaces the outcome with the fixed generic error sentence.
// No internal error detail ever reaches this body.
func (c *Comment) FinalizeError(ctx context.Context) error {
	return c.finalize(ctx, GenericErrorMessage)
}

func (c *Comment) finalize(ctx context.Context, outcome string) error {
	log := clog.FromContext(ctx)

	// Preserve whatever progress the agent wrote, falling back to just the
	// outcome if the current body cannot be fetched.
	current, err := retry.Do(ctx, c.tracker.retryCfg, "get tracking comment", func() (string, error) {
		return c.tracker.api.GetComment(ctx, c.owner, c.repo, c.id)
	})
	if err != nil {
		log.With("comment_id", c.id).Warnf("Could not fetch tracking comment before finalizing: %v", err)
		current = ""
	}

	body := strings.TrimSpace(current)
	if body != "" {
		body += "\n\n---\n\n"
	}
	body += outcome
	if marker := Marker(c.deliveryID); !strings.Contains(body, marker) {
		body += "\n\n" + marker
	}

	_, err = retry.Do(ctx, c.tracker.retryCfg, "finalize tracking comment", func() (struct{}, error) {
		return struct{}{}, c.tracker.api.UpdateComment(ctx, c.owner, c.repo, c.id, body)
	})
	return err
}
