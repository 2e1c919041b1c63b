/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package credentials

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func TestNewProviderFromKey(t *testing.T) {
	p, err := NewProviderFromKey(1234, 5678, testKeyPEM(t))
	require.NoError(t, err)
	assert.NotNil(t, p.Client())
}

func TestNewProviderFromKeyRejectsGarbage(t *testing.T) {
	_, err := NewProviderFromKey(1234, 5678, []byte("not a key"))
	assert.Error(t, err)
}

func TestNewProviderMissingFile(t *testing.T) {
	_, err := NewProvider(1234, 5678, "/does/not/exist.pem")
	assert.Error(t, err)
}
