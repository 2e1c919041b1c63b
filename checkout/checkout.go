/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package checkout clones the target repository into an isolated working
// directory for one delivery. Each checkout is exclusively owned by its
// delivery and removed by the returned cleanup handle; nothing is pooled or
// shared.
package checkout

import (
	"context"
	"fmt"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

const cloneDirPrefix = "mentionbot-checkout-"

// repoURL resolves the remote git URL for a repository. Tests override this
// to clone local filesystem fixtures.
var repoURL = defaultRemoteURL

func defaultRemoteURL(owner, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s", owner, repo)
}

// CleanupFunc removes a checkout's working directory. The pipeline calls it
// exactly once on every exit path.
type CleanupFunc func(context.Context) error

// Cloner produces per-delivery checkouts.
type Cloner struct {
	depth int
}

// Option configures a Cloner.
type Option func(*Cloner)

// WithDepth sets the clone depth. Zero means a full clone.
func WithDepth(depth int) Option {
	return func(c *Cloner) {
		c.depth = depth
	}
}

// NewCloner constructs a Cloner. Checkouts are shallow by default: the agent
// reads the tree, it does not walk history.
func NewCloner(opts ...Option) *Cloner {
	c := &Cloner{depth: 1}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clone checks out a single branch of owner/repo into a fresh temp directory
// and returns the directory with its cleanup handle. A failed clone cleans
// up its own partial directory and returns no handle.
func (c *Cloner) Clone(ctx context.Context, owner, repo, branch, token string) (string, CleanupFunc, error) {
	dir, err := os.MkdirTemp("", cloneDirPrefix)
	if err != nil {
		return "", nil, fmt.Errorf("creating temp dir: %w", err)
	}

	remote := repoURL(owner, repo)
	clog.FromContext(ctx).With("remote", remote).With("branch", branch).Infof("Cloning into %s", dir)

	var auth *githttp.BasicAuth
	if token != "" {
		auth = &githttp.BasicAuth{
			Username: "x-access-token",
			Password: token,
		}
	}

	if _, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           remote,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Depth:         c.depth,
		Auth:          auth,
	}); err != nil {
		os.RemoveAll(dir)
		return "", nil, fmt.Errorf("cloning repository: %w", err)
	}

	cleanup := func(ctx context.Context) error {
		clog.FromContext(ctx).Debugf("Removing checkout %s", dir)
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}
