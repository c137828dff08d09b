package devrun

import (
	"context"
	"sync"
)

// CredentialStore holds the session credential handed over by the user.
// It is safe for concurrent use and implements CredentialProvider.
type CredentialStore struct {
	value string
	mu    sync.RWMutex
}

// NewCredentialStore creates an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

// Set replaces the stored credential.
func (s *CredentialStore) Set(credential string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = credential
}

// Clear forgets the stored credential.
func (s *CredentialStore) Clear() {
	s.Set("")
}

// Credential returns the stored credential or ErrAuthMissing.
func (s *CredentialStore) Credential(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.value == "" {
		return "", ErrAuthMissing
	}
	return s.value, nil
}

// StaticCredential is a fixed credential.
type StaticCredential string

// Credential returns the credential or ErrAuthMissing when empty.
func (c StaticCredential) Credential(_ context.Context) (string, error) {
	if c == "" {
		return "", ErrAuthMissing
	}
	return string(c), nil
}
