package crypto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	// ProtectedMarker is the sentinel plaintext of a document guarded by a
	// custom master password.
	ProtectedMarker = "ThisIsProtected"
	// UnprotectedMarker is the sentinel plaintext of a document encrypted
	// with DefaultPassword.
	UnprotectedMarker = "ThisIsNotProtected"
	// DefaultPassword encrypts documents that have no master password.
	DefaultPassword = "mR3m"
	// MaxAttempts bounds how many times the user is prompted.
	MaxAttempts = 3
)

var (
	// ErrAuthenticationFailed is returned after every attempt was rejected.
	ErrAuthenticationFailed = errors.New("master password verification failed")
	// ErrAuthenticationCancelled is returned when the prompt is dismissed.
	ErrAuthenticationCancelled = errors.New("master password prompt cancelled")
)

// Prompt asks the user for the master password. ok is false when the user
// dismissed the prompt.
type Prompt func(ctx context.Context) (password string, ok bool)

// Authentication is the outcome of a successful verification.
type Authentication struct {
	Password  string
	Protected bool
	// Prompts is the number of times the prompt was invoked.
	Prompts int
}

// Authenticator checks candidate passwords against a document's protected
// marker.
type Authenticator struct {
	provider    *Provider
	prompt      Prompt
	maxAttempts int
	logger      *slog.Logger
}

// NewAuthenticator builds an authenticator. A nil prompt means only the
// default password can be tried.
func NewAuthenticator(p *Provider, prompt Prompt, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{provider: p, prompt: prompt, maxAttempts: MaxAttempts, logger: logger}
}

// WithProvider returns a copy that verifies with p. Loaders use it once
// the document's cipher settings are known.
func (a *Authenticator) WithProvider(p *Provider) *Authenticator {
	c := *a
	c.provider = p
	return &c
}

// Verify reports whether password opens the marker, and whether the marker
// says the document is protected.
func (a *Authenticator) Verify(marker, password string) (ok, protected bool) {
	plain, err := a.provider.Decrypt(marker, password)
	if err != nil {
		return false, false
	}
	switch plain {
	case ProtectedMarker:
		return true, true
	case UnprotectedMarker:
		return true, false
	}
	return false, false
}

// Authenticate resolves the password for a document. An empty marker means
// the document has no protection and DefaultPassword is used without
// prompting. Otherwise the default password is tried first, then the
// prompt up to MaxAttempts times.
func (a *Authenticator) Authenticate(ctx context.Context, marker string) (Authentication, error) {
	if marker == "" {
		return Authentication{Password: DefaultPassword}, nil
	}
	if ok, protected := a.Verify(marker, DefaultPassword); ok {
		return Authentication{Password: DefaultPassword, Protected: protected}, nil
	}
	if a.prompt == nil {
		return Authentication{}, fmt.Errorf("%w: no password prompt available", ErrAuthenticationFailed)
	}

	prompts := 0
	for prompts < a.maxAttempts {
		password, ok := a.prompt(ctx)
		prompts++
		if !ok {
			return Authentication{}, ErrAuthenticationCancelled
		}
		if password == "" {
			break
		}
		if ok, protected := a.Verify(marker, password); ok {
			return Authentication{Password: password, Protected: protected, Prompts: prompts}, nil
		}
		a.logger.Warn("master password rejected", "attempt", prompts, "max_attempts", a.maxAttempts)
	}
	return Authentication{}, fmt.Errorf("%w after %d attempts", ErrAuthenticationFailed, prompts)
}

// NewMarker encrypts the sentinel describing the document's protection.
// Unprotected documents are sealed with DefaultPassword.
func NewMarker(p *Provider, password string, protected bool) (string, error) {
	if !protected || password == "" {
		return p.Encrypt(UnprotectedMarker, DefaultPassword)
	}
	return p.Encrypt(ProtectedMarker, password)
}
