/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pipeline

import (
	"fmt"
	"time"

	"chainguard.dev/mentionbot/ghdata"
)

// RequestContext is the parsed mention request handed off by the webhook
// layer. It contains only what the delivery payload provides; Enrich fills in
// the rest from the fetched thread data.
type RequestContext struct {
	Owner         string
	Repo          string
	DefaultBranch string
	Number        int
	IsPR          bool
	Actor         string
	// Message is the comment body with the bot mention stripped.
	Message     string
	TriggeredAt time.Time
	DeliveryID  string

	// Branch hints from the payload, when present. Fetched data wins.
	HeadBranch string
	BaseBranch string
}

// Repository returns the owner/repo slug.
func (r *RequestContext) Repository() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Repo)
}

// EnrichedContext is a RequestContext combined with branch information from
// the fetched thread data.
type EnrichedContext struct {
	Request *RequestContext

	HeadBranch string
	BaseBranch string
	HeadSHA    string
}

// Enrich merges fetched thread data into the request. Fetched branch fields
// take precedence over payload hints; missing fields keep the hint.
func (r *RequestContext) Enrich(d *ghdata.Data) *EnrichedContext {
	e := &EnrichedContext{
		Request:    r,
		HeadBranch: r.HeadBranch,
		BaseBranch: r.BaseBranch,
	}
	if d != nil {
		if d.HeadBranch != "" {
			e.HeadBranch = d.HeadBranch
		}
		if d.BaseBranch != "" {
			e.BaseBranch = d.BaseBranch
		}
		e.HeadSHA = d.HeadSHA
	}
	return e
}

// CloneBranch returns the branch the checkout should track: the PR head when
// known, the repository default branch otherwise.
func (e *EnrichedContext) CloneBranch() string {
	if e.Request.IsPR && e.HeadBranch != "" {
		return e.HeadBranch
	}
	if e.Request.DefaultBranch != "" {
		return e.Request.DefaultBranch
	}
	return "main"
}
