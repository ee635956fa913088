package model

import (
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "user123", nil},
		{"valid with underscore", "my_user", nil},
		{"valid with hyphen", "my-user", nil},
		{"valid max length", strings.Repeat("a", MaxUsernameLength), nil},
		{"empty", "", ErrUsernameEmpty},
		{"too long", strings.Repeat("a", MaxUsernameLength+1), ErrUsernameTooLong},
		{"contains space", "has space", ErrUsernameInvalidChars},
		{"contains dot", "user.name", ErrUsernameInvalidChars},
		{"unicode letter", "ñoño", ErrUsernameInvalidChars},
		{"newline", "user\nname", ErrUsernameInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateUsername(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCredentials(t *testing.T) {
	if err := ValidateCredentials("bob", ""); err != ErrPasswordEmpty {
		t.Errorf("ValidateCredentials empty password = %v, want %v", err, ErrPasswordEmpty)
	}
	if err := ValidateCredentials("bob", strings.Repeat("p", MaxPasswordLength+1)); err != ErrPasswordTooLong {
		t.Errorf("ValidateCredentials long password = %v, want %v", err, ErrPasswordTooLong)
	}
	if err := ValidateCredentials("", "pw"); err != ErrUsernameEmpty {
		t.Errorf("ValidateCredentials empty username = %v, want %v", err, ErrUsernameEmpty)
	}
	if err := ValidateCredentials("bob", "pw1"); err != nil {
		t.Errorf("ValidateCredentials valid = %v, want nil", err)
	}
}

func TestSessionBind(t *testing.T) {
	s := &Session{ID: 1, RemoteAddr: "127.0.0.1:5000"}
	if s.Authenticated() {
		t.Fatalf("new session should be unauthenticated")
	}
	if !s.Bind("alice") {
		t.Fatalf("Bind(alice) on fresh session = false")
	}
	if !s.Bind("alice") {
		t.Fatalf("re-binding same identity should succeed")
	}
	if s.Bind("bob") {
		t.Fatalf("Bind(bob) after alice = true, identity must be immutable")
	}
	if s.Username != "alice" {
		t.Fatalf("Username = %q, want alice", s.Username)
	}
}
