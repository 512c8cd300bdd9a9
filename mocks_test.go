package authclient_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/store"
	"github.com/stretchr/testify/mock"
)

// MockAPI implements authclient.API
type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) Login(ctx context.Context, input authclient.LoginInput) (*authclient.AuthResult, error) {
	args := m.Called(ctx, input)
	if res, ok := args.Get(0).(*authclient.AuthResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) Register(ctx context.Context, input authclient.RegisterInput) (*authclient.AuthResult, error) {
	args := m.Called(ctx, input)
	if res, ok := args.Get(0).(*authclient.AuthResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockAPI) Me(ctx context.Context) (*authclient.Identity, error) {
	args := m.Called(ctx)
	if identity, ok := args.Get(0).(*authclient.Identity); ok {
		return identity.Clone(), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) RefreshCredentials(ctx context.Context, refreshToken string) (authclient.CredentialPair, error) {
	args := m.Called(ctx, refreshToken)
	return args.Get(0).(authclient.CredentialPair), args.Error(1)
}

func (m *MockAPI) GetUser(ctx context.Context, id int64) (*authclient.Identity, error) {
	args := m.Called(ctx, id)
	if identity, ok := args.Get(0).(*authclient.Identity); ok {
		return identity.Clone(), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) UpdateUser(ctx context.Context, id int64, patch authclient.ProfilePatch) (*authclient.Identity, error) {
	args := m.Called(ctx, id, patch)
	if identity, ok := args.Get(0).(*authclient.Identity); ok {
		return identity.Clone(), args.Error(1)
	}
	return nil, args.Error(1)
}

// captureLogger records log lines for assertions.
type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) record(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprint(append([]any{format}, args...)...))
}

func (l *captureLogger) Debug(format string, args ...any) { l.record("debug", format, args...) }
func (l *captureLogger) Info(format string, args ...any)  { l.record("info", format, args...) }
func (l *captureLogger) Error(format string, args ...any) { l.record("error", format, args...) }

func (l *captureLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// failingStore wraps a Store and fails the selected operations.
type failingStore struct {
	store.Store
	failSet    bool
	failRemove bool
}

func (s *failingStore) Set(ctx context.Context, key, value string) error {
	if s.failSet {
		return fmt.Errorf("disk full")
	}
	return s.Store.Set(ctx, key, value)
}

func (s *failingStore) SetMany(ctx context.Context, values map[string]string) error {
	if s.failSet {
		return fmt.Errorf("disk full")
	}
	return s.Store.SetMany(ctx, values)
}

func (s *failingStore) Remove(ctx context.Context, keys ...string) error {
	if s.failRemove {
		_ = s.Store.Remove(ctx, keys...)
		return fmt.Errorf("disk busy")
	}
	return s.Store.Remove(ctx, keys...)
}

// eventRecorder collects session events.
type eventRecorder struct {
	mu     sync.Mutex
	events []authclient.SessionEvent
}

func (r *eventRecorder) listen(_ context.Context, ev authclient.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) Events() []authclient.SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]authclient.SessionEvent(nil), r.events...)
}

func (r *eventRecorder) Reasons() []authclient.SessionEventReason {
	var out []authclient.SessionEventReason
	for _, ev := range r.Events() {
		out = append(out, ev.Reason)
	}
	return out
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

func buyer() *authclient.Identity {
	return &authclient.Identity{
		ID:       7,
		Name:     "Ana Buyer",
		Email:    "ana@example.com",
		Role:     authclient.RoleBuyer,
		Avatar:   "storage/avatars/7.png",
		Phone:    "+14155550101",
		Location: "Oakland",
	}
}

func farmer() *authclient.Identity {
	return &authclient.Identity{
		ID:    9,
		Name:  "Budi Farmer",
		Email: "budi@example.com",
		Role:  authclient.RoleFarmer,
	}
}

func authResult(identity *authclient.Identity, access, refresh string) *authclient.AuthResult {
	return &authclient.AuthResult{
		Message: "ok",
		User:    identity.Clone(),
		Credentials: authclient.CredentialPair{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    "Bearer",
			ExpiresIn:    3600,
		},
	}
}
