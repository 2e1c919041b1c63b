/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package tracking

import (
	"context"
	"fmt"

	"github.com/google/go-github/v75/github"
)

// GitHubAPI implements API over the GitHub issues REST surface. PR comments
// live on the issues API, so one implementation covers both entity kinds.
type GitHubAPI struct {
	client *github.Client
}

var _ API = (*GitHubAPI)(nil)

// NewGitHubAPI wraps a GitHub client.
func NewGitHubAPI(client *github.Client) *GitHubAPI {
	return &GitHubAPI{client: client}
}

// ListCommentBodies lists up to perPage comment bodies, most recent first.
// Descending recency matters: on busy threads the tracking comment is near
// the end of the thread and would fall off an oldest-first page.
func (g *GitHubAPI) ListCommentBodies(ctx context.Context, owner, repo string, number, perPage int) ([]string, error) {
	comments, _, err := g.client.Issues.ListComments(ctx, owner, repo, number, &github.IssueListCommentsOptions{
		Sort:        github.Ptr("created"),
		Direction:   github.Ptr("desc"),
		ListOptions: github.ListOptions{PerPage: perPage},
	})
	if err != nil {
		return nil, err
	}

	bodies := make([]string, 0, len(comments))
	for _, c := range comments {
		bodies = append(bodies, c.GetBody())
	}
	return bodies, nil
}

// CreateComment posts a new comment and returns its identifier.
func (g *GitHubAPI) CreateComment(ctx context.Context, owner, repo string, number int, body string) (int64, error) {
	created, _, err := g.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return 0, err
	}
	return created.GetID(), nil
}

// UpdateComment overwrites a comment body by id.
func (g *GitHubAPI) UpdateComment(ctx context.Context, owner, repo string, id int64, body string) error {
	_, _, err := g.client.Issues.EditComment(ctx, owner, repo, id, &github.IssueComment{
		Body: github.Ptr(body),
	})
	return err
}

// GetComment returns the current body of a comment.
func (g *GitHubAPI) GetComment(ctx context.Context, owner, repo string, id int64) (string, error) {
	comment, _, err := g.client.Issues.GetComment(ctx, owner, repo, id)
	if err != nil {
		return "", err
	}
	if comment == nil {
		return "", fmt.Errorf("comment %d not found", id)
	}
	return comment.GetBody(), nil
}
