package authclient

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// API is the set of server endpoints the session core consumes.
type API interface {
	Login(ctx context.Context, input LoginInput) (*AuthResult, error)
	Register(ctx context.Context, input RegisterInput) (*AuthResult, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*Identity, error)
	RefreshCredentials(ctx context.Context, refreshToken string) (CredentialPair, error)
	GetUser(ctx context.Context, id int64) (*Identity, error)
	UpdateUser(ctx context.Context, id int64, patch ProfilePatch) (*Identity, error)
}

// AuthResult is the validated outcome of a login or registration call.
type AuthResult struct {
	Message     string
	User        *Identity
	Credentials CredentialPair
}

// SessionSource is what the profile cache needs from the session manager.
type SessionSource interface {
	Current() *Identity
	UpdateLocal(ctx context.Context, patch IdentityPatch) (*Identity, error)
	Subscribe(listener SessionListener) (unsubscribe func())
	Expire(ctx context.Context, cause error)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTHCLIENT "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTHCLIENT "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTHCLIENT "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
