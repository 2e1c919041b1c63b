/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package ghdata fetches the conversation and change context for an issue or
// pull request over the GitHub GraphQL API, sanitizes user-authored content,
// and formats the result for prompt assembly.
package ghdata

import (
	"context"
	"fmt"
	"time"

	"github.com/shurcooL/githubv4"
)

// Comment is one issue or PR conversation comment.
type Comment struct {
	Author    string
	Body      string
	CreatedAt time.Time
}

// ReviewComment is one inline review comment on a PR.
type ReviewComment struct {
	Author string
	Path   string
	Body   string
}

// ChangedFile is one file touched by a PR.
type ChangedFile struct {
	Path      string
	Additions int
	Deletions int
}

// Data is everything fetched about the triggering entity. Branch fields are
// populated for pull requests only.
type Data struct {
	Title    string
	Body     string
	State    string
	Author   string
	Comments []Comment

	// PR-only fields.
	ReviewComments []ReviewComment
	ChangedFiles   []ChangedFile
	HeadBranch     string
	BaseBranch     string
	HeadSHA        string
}

// Fetcher retrieves Data for the triggering entity.
type Fetcher interface {
	Fetch(ctx context.Context, owner, repo string, number int, isPR bool) (*Data, error)
}

// GraphQLFetcher implements Fetcher over githubv4.
type GraphQLFetcher struct {
	client *githubv4.Client
}

var _ Fetcher = (*GraphQLFetcher)(nil)

// NewGraphQLFetcher constructs a fetcher from a GraphQL client.
func NewGraphQLFetcher(client *githubv4.Client) *GraphQLFetcher {
	return &GraphQLFetcher{client: client}
}

type commentNodes struct {
	Nodes []struct {
		Author struct {
			Login string
		}
		Body      string
		CreatedAt time.Time
	}
}

// Fetch runs one query per entity kind; page sizes are bounded because the
// prompt has a finite context budget anyway.
func (f *GraphQLFetcher) Fetch(ctx context.Context, owner, repo string, number int, isPR bool) (*Data, error) {
	if isPR {
		return f.fetchPullRequest(ctx, owner, repo, number)
	}
	return f.fetchIssue(ctx, owner, repo, number)
}

func (f *GraphQLFetcher) fetchIssue(ctx context.Context, owner, repo string, number int) (*Data, error) {
	var query struct {
		Repository struct {
			Issue struct {
				Title  string
				Body   string
				State  string
				Author struct {
					Login string
				}
				Comments commentNodes `graphql:"comments(last: 50)"`
			} `graphql:"issue(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	variables := map[string]any{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(repo),
		"number": githubv4.Int(number),
	}

	if err := f.client.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("querying issue #%d: %w", number, err)
	}

	issue := query.Repository.Issue
	return &Data{
		Title:    Sanitize(issue.Title),
		Body:     Sanitize(issue.Body),
		State:    issue.State,
		Author:   issue.Author.Login,
		Comments: convertComments(issue.Comments),
	}, nil
}

func (f *GraphQLFetcher) fetchPullRequest(ctx context.Context, owner, repo string, number int) (*Data, error) {
	var query struct {
		Repository struct {
			PullRequest struct {
				Title  string
				Body   string
				State  string
				Author struct {
					Login string
				}
				HeadRefName string
				BaseRefName string
				HeadRefOid  string
				Comments    commentNodes `graphql:"comments(last: 50)"`
				Reviews     struct {
					Nodes []struct {
						Author struct {
							Login string
						}
						Comments struct {
							Nodes []struct {
								Path string
								Body string
							}
						} `graphql:"comments(last: 20)"`
					}
				} `graphql:"reviews(last: 20)"`
				Files struct {
					Nodes []struct {
						Path      string
						Additions int
						Deletions int
					}
				} `graphql:"files(first: 100)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	variables := map[string]any{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(repo),
		"number": githubv4.Int(number),
	}

	if err := f.client.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("querying pull request #%d: %w", number, err)
	}

	pr := query.Repository.PullRequest
	data := &Data{
		Title:      Sanitize(pr.Title),
		Body:       Sanitize(pr.Body),
		State:      pr.State,
		Author:     pr.Author.Login,
		Comments:   convertComments(pr.Comments),
		HeadBranch: pr.HeadRefName,
		BaseBranch: pr.BaseRefName,
		HeadSHA:    pr.HeadRefOid,
	}

	for _, review := range pr.Reviews.Nodes {
		for _, rc := range review.Comments.Nodes {
			data.ReviewComments = append(data.ReviewComments, ReviewComment{
				Author: review.Author.Login,
				Path:   rc.Path,
				Body:   Sanitize(rc.Body),
			})
		}
	}
	for _, file := range pr.Files.Nodes {
		data.ChangedFiles = append(data.ChangedFiles, ChangedFile{
			Path:      file.Path,
			Additions: file.Additions,
			Deletions: file.Deletions,
		})
	}

	return data, nil
}

func convertComments(nodes commentNodes) []Comment {
	out := make([]Comment, 0, len(nodes.Nodes))
	for _, n := range nodes.Nodes {
		out = append(out, Comment{
			Author:    n.Author.Login,
			Body:      Sanitize(n.Body),
			CreatedAt: n.CreatedAt,
		})
	}
	return out
}
