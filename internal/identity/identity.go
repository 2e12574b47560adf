// Package identity exposes the currently authenticated user.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"firebase.google.com/go/v4/auth"
)

// User is the authenticated principal.
type User struct {
	UID   string `json:"uid" yaml:"uid"`
	Email string `json:"email" yaml:"email"`
	Name  string `json:"name" yaml:"name"`
	Role  string `json:"role" yaml:"role"`
}

// Provider returns the current user, or false when nobody is signed in.
type Provider interface {
	Current() (User, bool)
}

// Static is a Provider whose user is set explicitly.
type Static struct {
	mu   sync.RWMutex
	user *User
}

// NewStatic returns a provider signed in as u.
func NewStatic(u User) *Static {
	return &Static{user: &u}
}

// Anonymous returns a provider with nobody signed in.
func Anonymous() *Static {
	return &Static{}
}

func (s *Static) Current() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// SignIn replaces the current user.
func (s *Static) SignIn(u User) {
	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
}

// SignOut clears the current user.
func (s *Static) SignOut() {
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
}

// UID returns the current user's id or fallback when signed out.
func UID(p Provider, fallback string) string {
	if p == nil {
		return fallback
	}
	if u, ok := p.Current(); ok && u.UID != "" {
		return u.UID
	}
	return fallback
}

// TokenVerifier is the subset of the Firebase auth client used here.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FromIDToken verifies a Firebase ID token and builds the user from its
// claims. The role comes from a custom "role" claim when present.
func FromIDToken(ctx context.Context, v TokenVerifier, idToken string) (User, error) {
	if idToken == "" {
		return User{}, errors.New("empty token provided")
	}
	tok, err := v.VerifyIDToken(ctx, idToken)
	if err != nil {
		return User{}, fmt.Errorf("verify id token: %w", err)
	}
	u := User{UID: tok.UID, Role: "member"}
	if email, ok := tok.Claims["email"].(string); ok {
		u.Email = email
	}
	if name, ok := tok.Claims["name"].(string); ok {
		u.Name = name
	}
	if role, ok := tok.Claims["role"].(string); ok && role != "" {
		u.Role = role
	}
	return u, nil
}
