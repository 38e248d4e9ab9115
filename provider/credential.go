package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Credential acquisition errors. Adapters surface ErrNotLoggedIn and
// ErrExpired unchanged so drivers can prompt for re-authentication.
var (
	ErrNotLoggedIn = errors.New("not logged in")
	ErrExpired     = errors.New("credential expired")
)

// CredentialProvider hands out the current credential for a provider family.
// Implementations wrap whatever acquisition flow the host application uses;
// the engine treats credentials as opaque tokens.
type CredentialProvider interface {
	Credential(ctx context.Context, provider string) (string, error)
}

// Refresher is optionally implemented by credential providers that can renew
// an expired credential.
type Refresher interface {
	Refresh(ctx context.Context, provider string) error
}

// ResolveCredential fetches the current credential, attempting one refresh
// when the provider reports it expired. Any other failure, or a second
// expiry after refresh, fails the turn.
func ResolveCredential(ctx context.Context, creds CredentialProvider, provider string) (string, error) {
	token, err := creds.Credential(ctx, provider)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, ErrExpired) {
		return "", err
	}
	refresher, ok := creds.(Refresher)
	if !ok {
		return "", err
	}
	if rerr := refresher.Refresh(ctx, provider); rerr != nil {
		return "", fmt.Errorf("credential refresh failed: %w", rerr)
	}
	return creds.Credential(ctx, provider)
}

// StaticCredentials is a CredentialProvider backed by a fixed map, keyed by
// provider name. Suitable for API-key setups and tests.
type StaticCredentials struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewStaticCredentials builds a provider from the given tokens.
func NewStaticCredentials(tokens map[string]string) *StaticCredentials {
	copied := make(map[string]string, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &StaticCredentials{tokens: copied}
}

// Credential returns the stored token or ErrNotLoggedIn.
func (s *StaticCredentials) Credential(_ context.Context, provider string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[provider]
	if !ok || token == "" {
		return "", ErrNotLoggedIn
	}
	return token, nil
}

// Set stores or replaces a token.
func (s *StaticCredentials) Set(provider, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[provider] = token
}
