package identity

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/auth"
)

type fakeVerifier struct {
	tok *auth.Token
	err error
}

func (f fakeVerifier) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	return f.tok, f.err
}

func TestFromIDToken(t *testing.T) {
	v := fakeVerifier{tok: &auth.Token{
		UID:    "u1",
		Claims: map[string]interface{}{"email": "a@example.com", "name": "Ada", "role": "admin"},
	}}
	u, err := FromIDToken(context.Background(), v, "token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.UID != "u1" || u.Email != "a@example.com" || u.Name != "Ada" || u.Role != "admin" {
		t.Errorf("unexpected user: %+v", u)
	}
}

func TestFromIDToken_DefaultRoleAndErrors(t *testing.T) {
	u, err := FromIDToken(context.Background(), fakeVerifier{tok: &auth.Token{UID: "u2"}}, "token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Role != "member" {
		t.Errorf("expected default role member, got %q", u.Role)
	}

	if _, err := FromIDToken(context.Background(), fakeVerifier{}, ""); err == nil {
		t.Error("expected error for empty token")
	}
	boom := errors.New("expired")
	if _, err := FromIDToken(context.Background(), fakeVerifier{err: boom}, "t"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped verifier error, got %v", err)
	}
}

func TestStatic(t *testing.T) {
	p := Anonymous()
	if _, ok := p.Current(); ok {
		t.Fatal("expected no user")
	}
	if got := UID(p, "system"); got != "system" {
		t.Errorf("expected fallback uid, got %q", got)
	}
	p.SignIn(User{UID: "u1"})
	if got := UID(p, "system"); got != "u1" {
		t.Errorf("expected u1, got %q", got)
	}
	p.SignOut()
	if _, ok := p.Current(); ok {
		t.Error("expected signed out")
	}
}
