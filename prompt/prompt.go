/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package prompt assembles the agent prompt from the enriched request and
// the fetched repository context.
package prompt

import (
	"errors"
	"strings"
	"text/template"
)

// Input is everything the prompt template may reference.
type Input struct {
	Owner      string
	Repo       string
	Number     int
	IsPR       bool
	Actor      string
	Message    string
	HeadBranch string
	BaseBranch string
	// Context is the formatted repository context (ghdata.Format output).
	Context string
}

const defaultTemplate = `You are a software engineering assistant working inside a checkout of {{.Owner}}/{{.Repo}}.

{{if .IsPR}}You were mentioned on pull request #{{.Number}} (head branch {{.HeadBranch}}, base branch {{.BaseBranch}}).{{else}}You were mentioned on issue #{{.Number}}.{{end}}
The user {{.Actor}} asked:

{{.Message}}

Repository context:

{{.Context}}

Use the available tools to inspect the checkout before answering. If you were granted write access and the request calls for code changes, make them in the working tree. Finish with a concise summary of what you found or changed.`

// Builder renders prompts from a parsed template.
type Builder struct {
	tmpl *template.Template
}

// Option configures a Builder.
type Option func(*Builder) error

// WithTemplate replaces the default prompt template.
func WithTemplate(text string) Option {
	return func(b *Builder) error {
		if strings.TrimSpace(text) == "" {
			return errors.New("template cannot be empty")
		}
		tmpl, err := template.New("prompt").Parse(text)
		if err != nil {
			return err
		}
		b.tmpl = tmpl
		return nil
	}
}

// NewBuilder constructs a Builder. Template problems surface here, at wiring
// time, not per request.
func NewBuilder(opts ...Option) (*Builder, error) {
	tmpl, err := template.New("prompt").Parse(defaultTemplate)
	if err != nil {
		return nil, err
	}
	b := &Builder{tmpl: tmpl}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Build renders the prompt for one request.
func (b *Builder) Build(in Input) (string, error) {
	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, in); err != nil {
		return "", err
	}
	return sb.String(), nil
}
