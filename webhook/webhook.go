/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package webhook receives GitHub issue_comment events, filters them down to
// bot mentions, and hands each accepted delivery to the pipeline. The HTTP
// response is sent before processing starts; GitHub only needs to know the
// delivery was accepted.
package webhook

import (
	"context"
	"net/http"
	"strings"
	"time"

	"chainguard.dev/mentionbot/pipeline"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"github.com/google/uuid"
)

// Dispatcher processes one accepted mention request. Satisfied by
// pipeline.Pipeline.Process.
type Dispatcher func(ctx context.Context, req *pipeline.RequestContext)

// Handler is the webhook HTTP endpoint.
type Handler struct {
	secret   []byte
	mention  string
	dispatch Dispatcher
}

// NewHandler constructs a Handler. botLogin is the bot's GitHub login without
// the leading @.
func NewHandler(secret []byte, botLogin string, dispatch Dispatcher) *Handler {
	return &Handler{
		secret:   secret,
		mention:  "@" + strings.TrimPrefix(botLogin, "@"),
		dispatch: dispatch,
	}
}

// ServeHTTP validates, filters, and acknowledges one delivery. Accepted
// deliveries are processed on their own goroutine, detached from the request
// context so GitHub's client timeout cannot cancel the work.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deliveryID := github.DeliveryID(r)
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	log := clog.FromContext(r.Context()).With("delivery", deliveryID)

	payload, err := github.ValidatePayload(r, h.secret)
	if err != nil {
		log.Warnf("Rejecting delivery with invalid payload: %v", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		log.Warnf("Rejecting unparseable delivery: %v", err)
		http.Error(w, "unsupported event", http.StatusBadRequest)
		return
	}

	comment, ok := event.(*github.IssueCommentEvent)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	req, reason := h.requestFor(comment, deliveryID)
	if req == nil {
		log.Debugf("Ignoring issue_comment delivery: %s", reason)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Acknowledge before processing; the pipeline reports through the
	// tracking comment from here on.
	w.WriteHeader(http.StatusAccepted)

	ctx := clog.WithLogger(context.WithoutCancel(r.Context()), log)
	go h.dispatch(ctx, req)
}

// requestFor converts a filtered event into a pipeline request, or returns
// nil with the reason the event does not qualify.
func (h *Handler) requestFor(event *github.IssueCommentEvent, deliveryID string) (*pipeline.RequestContext, string) {
	if event.GetAction() != "created" {
		return nil, "action is not created"
	}

	user := event.GetComment().GetUser()
	if user.GetType() == "Bot" || strings.HasSuffix(user.GetLogin(), "[bot]") {
		return nil, "comment author is a bot"
	}

	body := event.GetComment().GetBody()
	if !mentionsBot(body, h.mention) {
		return nil, "comment does not mention the bot"
	}

	triggeredAt := event.GetComment().GetCreatedAt().Time
	if triggeredAt.IsZero() {
		triggeredAt = time.Now()
	}

	return &pipeline.RequestContext{
		Owner:         event.GetRepo().GetOwner().GetLogin(),
		Repo:          event.GetRepo().GetName(),
		DefaultBranch: event.GetRepo().GetDefaultBranch(),
		Number:        event.GetIssue().GetNumber(),
		IsPR:          event.GetIssue().IsPullRequest(),
		Actor:         user.GetLogin(),
		Message:       stripMention(body, h.mention),
		TriggeredAt:   triggeredAt,
		DeliveryID:    deliveryID,
	}, ""
}

// mentionsBot reports whether body contains the mention as a whole token, so
// @mentionbot-other does not trigger @mentionbot.
func mentionsBot(body, mention string) bool {
	rest := body
	for {
		i := strings.Index(rest, mention)
		if i < 0 {
			return false
		}
		after := rest[i+len(mention):]
		if after == "" || !isLoginChar(after[0]) {
			return true
		}
		rest = after
	}
}

func isLoginChar(c byte) bool {
	return c == '-' || c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func stripMention(body, mention string) string {
	return strings.TrimSpace(strings.ReplaceAll(body, mention, ""))
}
