/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildIssuePrompt(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	out, err := b.Build(Input{
		Owner:   "org",
		Repo:    "repo",
		Number:  12,
		IsPR:    false,
		Actor:   "octocat",
		Message: "why does startup panic?",
		Context: "## Issue: Crash on startup",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "org/repo")
	assert.Contains(t, out, "issue #12")
	assert.Contains(t, out, "octocat")
	assert.Contains(t, out, "why does startup panic?")
	assert.Contains(t, out, "## Issue: Crash on startup")
	assert.NotContains(t, out, "head branch")
}

func TestBuildPRPromptIncludesBranches(t *testing.T) {
	b, err := NewBuilder()
	require.NoError(t, err)

	out, err := b.Build(Input{
		Owner:      "org",
		Repo:       "repo",
		Number:     9,
		IsPR:       true,
		Actor:      "octocat",
		Message:    "please fix the failing test",
		HeadBranch: "feature/x",
		BaseBranch: "main",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "pull request #9")
	assert.Contains(t, out, "feature/x")
	assert.Contains(t, out, "main")
}

func TestWithTemplate(t *testing.T) {
	b, err := NewBuilder(WithTemplate("{{.Actor}} on #{{.Number}}: {{.Message}}"))
	require.NoError(t, err)

	out, err := b.Build(Input{Actor: "a", Number: 3, Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, "a on #3: m", out)

	_, err = NewBuilder(WithTemplate("{{.Broken"))
	assert.Error(t, err)

	_, err = NewBuilder(WithTemplate("   "))
	assert.Error(t, err)
}
