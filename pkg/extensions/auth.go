// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
)

// ErrUnauthorized is returned when authentication fails.
// Implementations should wrap it with context:
//
//	return nil, fmt.Errorf("token expired: %w", extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// LocalUserID is the identity assigned by NopAuthProvider.
const LocalUserID = "local-user"

// AuthInfo is the identity resolved for a request.
//
// UserID is the only required field. It is the owner key for every
// decision the caller can see or mutate.
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user.
	UserID string

	// Roles is informational; the journal only scopes by UserID.
	Roles []string
}

// HasRole checks if the user has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// AuthProvider resolves a bearer token to an identity.
//
// # Description
//
// Called once per request by the auth middleware. The token is the raw
// value after "Bearer " and may be empty when no header was sent.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every request as LocalUserID.
//
// Used for single-user local installs where the journal binds to localhost.
type NopAuthProvider struct{}

func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: LocalUserID,
		Roles:  []string{"owner"},
	}, nil
}

// StaticTokenProvider maps fixed bearer tokens to user ids.
//
// # Description
//
// Backs the auth.tokens section of the configuration file. Token comparison
// is constant time per candidate.
//
// # Limitations
//
//   - Tokens never expire; rotate by editing the config and restarting.
type StaticTokenProvider struct {
	tokens map[string]string
}

// NewStaticTokenProvider returns a provider for token → user id pairs.
func NewStaticTokenProvider(tokens map[string]string) (*StaticTokenProvider, error) {
	if len(tokens) == 0 {
		return nil, errors.New("at least one token is required")
	}
	copied := make(map[string]string, len(tokens))
	for token, user := range tokens {
		if token == "" || user == "" {
			return nil, errors.New("tokens and user ids must be non-empty")
		}
		copied[token] = user
	}
	return &StaticTokenProvider{tokens: copied}, nil
}

func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}
	for candidate, user := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return &AuthInfo{UserID: user, Roles: []string{"owner"}}, nil
		}
	}
	return nil, fmt.Errorf("unknown bearer token: %w", ErrUnauthorized)
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*StaticTokenProvider)(nil)
)
