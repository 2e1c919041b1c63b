/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package credentials provides short-lived GitHub App installation tokens
// for API and git operations. Tokens expire after an hour; the underlying
// transport refreshes them transparently, and AccessToken always returns a
// currently valid one.
package credentials

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"
)

// Provider mints installation tokens and API clients bound to them.
type Provider struct {
	transport *ghinstallation.Transport
	client    *github.Client
}

// NewProvider constructs a Provider from GitHub App credentials.
func NewProvider(appID, installationID int64, privateKeyPath string) (*Provider, error) {
	transport, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, appID, installationID, privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("creating installation transport: %w", err)
	}
	return newProvider(transport), nil
}

// NewProviderFromKey is NewProvider with an in-memory PEM key.
func NewProviderFromKey(appID, installationID int64, privateKey []byte) (*Provider, error) {
	transport, err := ghinstallation.New(http.DefaultTransport, appID, installationID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("creating installation transport: %w", err)
	}
	return newProvider(transport), nil
}

func newProvider(transport *ghinstallation.Transport) *Provider {
	return &Provider{
		transport: transport,
		client:    github.NewClient(&http.Client{Transport: transport}),
	}
}

// AccessToken returns a currently valid installation token for callers that
// need the raw bearer string (git over HTTPS).
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	token, err := p.transport.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("getting installation token: %w", err)
	}
	return token, nil
}

// Client returns a REST client authenticated as the installation.
func (p *Provider) Client() *github.Client {
	return p.client
}

// TokenSource adapts the provider for oauth2 consumers (the GraphQL client).
func (p *Provider) TokenSource(ctx context.Context) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, tokenSource{ctx: ctx, provider: p})
}

type tokenSource struct {
	ctx      context.Context
	provider *Provider
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	token, err := s.provider.AccessToken(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: token}, nil
}
