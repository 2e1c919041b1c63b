/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package toolconfig resolves which tools and tool servers an agent run may
// use. Resolution is a pure function of the request: no side effects, so the
// pipeline can call it inside the cleanup-guarded scope without compensation.
package toolconfig

import "fmt"

// ServerConfig describes a named tool server made available to an agent run.
// The executor decides how to realize each server; built-in servers carry no
// command and are served in-process.
type ServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// WorkspaceServer is the built-in server exposing the checked-out working
// tree to the agent.
const WorkspaceServer = "workspace"

// Resolver computes tool grants for a request.
type Resolver struct {
	extraAllowed []string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithExtraAllowedTools grants additional tool names on every request.
func WithExtraAllowedTools(names ...string) Option {
	return func(r *Resolver) {
		r.extraAllowed = append(r.extraAllowed, names...)
	}
}

// NewResolver constructs a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ServerConfig returns the tool servers for a request.
func (r *Resolver) ServerConfig(owner, repo string, isPR bool) map[string]ServerConfig {
	return map[string]ServerConfig{
		WorkspaceServer: {
			Env: map[string]string{
				"MENTIONBOT_REPOSITORY": fmt.Sprintf("%s/%s", owner, repo),
			},
		},
	}
}

// AllowedTools returns the tool names an agent run may invoke. Issue
// requests get a read-only set; pull requests additionally get write access
// to the working tree.
func (r *Resolver) AllowedTools(_, _ string, isPR bool) []string {
	allowed := []string{"read_file", "list_files"}
	if isPR {
		allowed = append(allowed, "write_file")
	}
	return append(allowed, r.extraAllowed...)
}
