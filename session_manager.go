package authclient

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-auth-client/store"
)

// SessionEventReason says why the session changed.
type SessionEventReason string

const (
	ReasonBootstrap   SessionEventReason = "bootstrap"
	ReasonLogin       SessionEventReason = "login"
	ReasonRegister    SessionEventReason = "register"
	ReasonLogout      SessionEventReason = "logout"
	ReasonRefresh     SessionEventReason = "refresh"
	ReasonLocalUpdate SessionEventReason = "local_update"
	ReasonExpired     SessionEventReason = "expired"
)

// SessionEvent is published to listeners after every session change.
// Previous and Current are copies.
type SessionEvent struct {
	Reason   SessionEventReason
	Previous *Identity
	Current  *Identity
	State    State
}

// PreviousUserID returns the id active before the change, 0 if none.
func (e SessionEvent) PreviousUserID() int64 {
	if e.Previous == nil {
		return 0
	}
	return e.Previous.ID
}

// CurrentUserID returns the id active after the change, 0 if none.
func (e SessionEvent) CurrentUserID() int64 {
	if e.Current == nil {
		return 0
	}
	return e.Current.ID
}

// UserChanged reports whether the active user id changed.
func (e SessionEvent) UserChanged() bool {
	return e.PreviousUserID() != e.CurrentUserID()
}

// SessionListener receives session events. Listeners are called outside the
// manager's locks and may call back into it.
type SessionListener func(ctx context.Context, event SessionEvent)

// SessionManager owns the authoritative identity and the session state.
type SessionManager struct {
	api    API
	store  store.Store
	logger Logger
	sink   ActivitySink
	now    func() time.Time

	states *sessionStateMachine

	mu       sync.RWMutex
	identity *Identity

	// persistMu serializes identity snapshot writes with the in-memory swap
	// so the stored snapshot always matches the last installed identity.
	persistMu sync.Mutex
	bootMu    sync.Mutex

	lmu          sync.RWMutex
	listeners    map[uint64]SessionListener
	nextListener uint64
}

var _ SessionSource = (*SessionManager)(nil)

// SessionOption customizes the SessionManager.
type SessionOption func(*SessionManager)

// WithSessionLogger overrides the logger.
func WithSessionLogger(logger Logger) SessionOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSessionActivitySink sets the ActivitySink used to publish session events.
func WithSessionActivitySink(sink ActivitySink) SessionOption {
	return func(m *SessionManager) {
		m.sink = normalizeActivitySink(sink)
	}
}

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// NewSessionManager creates a manager in the loading state. Call Bootstrap
// once at startup.
func NewSessionManager(api API, st store.Store, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		api:       api,
		store:     st,
		logger:    defLogger{},
		sink:      noopActivitySink{},
		now:       time.Now,
		states:    newSessionStateMachine(),
		listeners: make(map[uint64]SessionListener),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// State returns the current session state.
func (m *SessionManager) State() State {
	return m.states.Current()
}

// Current returns a copy of the identity, nil when unauthenticated.
func (m *SessionManager) Current() *Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity.Clone()
}

// IsAuthenticated reports whether a session is active.
func (m *SessionManager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity != nil && m.states.Current() == StateAuthenticated
}

// Subscribe registers listener for session events.
func (m *SessionManager) Subscribe(listener SessionListener) func() {
	if listener == nil {
		return func() {}
	}

	m.lmu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = listener
	m.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.lmu.Lock()
			delete(m.listeners, id)
			m.lmu.Unlock()
		})
	}
}

// Bootstrap restores the session from the durable store. The server record
// wins over the stored snapshot; the snapshot is only used when the server
// cannot be reached and it still validates. Bootstrap never fails: it settles
// in either StateAuthenticated or StateUnauthenticated.
func (m *SessionManager) Bootstrap(ctx context.Context) State {
	m.bootMu.Lock()
	defer m.bootMu.Unlock()

	if state := m.State(); state != StateLoading {
		m.logger.Debug("bootstrap skipped", "state", state)
		return state
	}

	rawIdentity, hasIdentity, err := m.store.Get(ctx, store.KeyIdentity)
	if err != nil {
		m.logger.Error("bootstrap failed to read identity snapshot", "error", err)
		return m.settleUnauthenticated(ctx, ReasonBootstrap)
	}

	access, hasAccess, err := m.store.Get(ctx, store.KeyAccessToken)
	if err != nil {
		m.logger.Error("bootstrap failed to read access credential", "error", err)
		return m.settleUnauthenticated(ctx, ReasonBootstrap)
	}

	if !hasIdentity || !hasAccess || access == "" {
		return m.settleUnauthenticated(ctx, ReasonBootstrap)
	}

	stored, err := decodeStoredIdentity(rawIdentity)
	if err != nil {
		m.logger.Error("stored identity snapshot is invalid", "error", err)
		return m.settleUnauthenticated(ctx, ReasonBootstrap)
	}

	fresh, err := m.api.Me(ctx)
	if err == nil {
		if fresh.ID != stored.ID {
			m.logger.Info("stored snapshot belongs to another user, dropping its profile", "stored", stored.ID, "current", fresh.ID)
			if rerr := m.store.Remove(ctx, store.ProfileKey(stored.ID)); rerr != nil {
				m.logger.Error("failed to remove stale profile record", "error", rerr)
			}
		}
		_, cerr := m.commit(ctx, ReasonBootstrap, func(*Identity) (*Identity, error) {
			return fresh, nil
		})
		if cerr != nil {
			m.logger.Error("bootstrap failed to persist identity, keeping it in memory", "error", cerr)
			m.publish(ctx, m.install(ReasonBootstrap, fresh, StateAuthenticated))
		}
		m.record(ctx, ActivityEventBootstrap, fresh.ID, map[string]any{"source": "server"})
		return m.State()
	}

	if IsSessionExpired(err) {
		return m.settleUnauthenticated(ctx, ReasonExpired)
	}

	m.logger.Info("bootstrap could not confirm identity, using stored snapshot", "error", err)

	m.publish(ctx, m.install(ReasonBootstrap, stored, StateAuthenticated))
	m.record(ctx, ActivityEventBootstrap, stored.ID, map[string]any{"source": "store"})
	return m.State()
}

// Login authenticates with email and password.
func (m *SessionManager) Login(ctx context.Context, email, password string) (*Identity, error) {
	input := LoginInput{Email: strings.TrimSpace(email), Password: password}
	if err := input.Validate(); err != nil {
		return nil, validationError(err)
	}

	res, err := m.api.Login(ctx, input)
	if err != nil {
		m.failAuth(ctx, ActivityEventLoginFailure, err)
		return nil, err
	}
	return m.adopt(ctx, ReasonLogin, ActivityEventLoginSuccess, ActivityEventLoginFailure, res)
}

// Register creates an account and authenticates with it.
func (m *SessionManager) Register(ctx context.Context, input RegisterInput) (*Identity, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.TrimSpace(input.Email)
	if err := input.Validate(); err != nil {
		return nil, validationError(err)
	}

	res, err := m.api.Register(ctx, input)
	if err != nil {
		m.failAuth(ctx, ActivityEventRegisterFailure, err)
		return nil, err
	}
	return m.adopt(ctx, ReasonRegister, ActivityEventRegister, ActivityEventRegisterFailure, res)
}

// adopt persists a fresh credential pair and the best identity available.
func (m *SessionManager) adopt(ctx context.Context, reason SessionEventReason, event, failure ActivityEventType, res *AuthResult) (*Identity, error) {
	err := m.store.SetMany(ctx, map[string]string{
		store.KeyAccessToken:  res.Credentials.AccessToken,
		store.KeyRefreshToken: res.Credentials.RefreshToken,
	})
	if err != nil {
		m.failAuth(ctx, failure, err)
		return nil, err
	}

	identity := res.User
	fresh, err := m.api.Me(ctx)
	switch {
	case err == nil && fresh.ID == res.User.ID:
		identity = fresh
	case err == nil:
		m.logger.Error("current user does not match authenticated user", "expected", res.User.ID, "got", fresh.ID)
	case IsSessionExpired(err):
		m.Expire(ctx, err)
		return nil, err
	default:
		m.logger.Debug("could not fetch current user after authentication, using response record", "error", err)
	}

	committed, err := m.commit(ctx, reason, func(*Identity) (*Identity, error) {
		return identity, nil
	})
	if err != nil {
		if rerr := m.store.Remove(ctx, store.SessionKeys...); rerr != nil {
			m.logger.Error("failed to roll back credentials", "error", rerr)
		}
		m.failAuth(ctx, failure, err)
		return nil, err
	}

	m.record(ctx, event, committed.ID, nil)
	return committed, nil
}

// failAuth settles a failed login or registration. An already authenticated
// session is left untouched.
func (m *SessionManager) failAuth(ctx context.Context, eventType ActivityEventType, err error) {
	m.record(ctx, eventType, 0, map[string]any{"error": err.Error()})
	if m.State() == StateAuthenticated {
		return
	}
	m.publish(ctx, m.install("", nil, StateUnauthenticated))
}

// Logout ends the session. The server call is best-effort; local cleanup
// always happens and the manager is unauthenticated afterwards even when
// the store fails, in which case the store error is returned. Cleanup does
// not observe ctx cancellation, so a caller deadline spent on the server
// call cannot leave credentials behind.
func (m *SessionManager) Logout(ctx context.Context) error {
	prev := m.Current()
	if prev != nil {
		if err := m.api.Logout(ctx); err != nil {
			m.logger.Info("server logout failed, continuing with local cleanup", "error", err)
		}
	}

	ctx = context.WithoutCancel(ctx)
	m.persistMu.Lock()
	err := m.store.Remove(ctx, store.SessionKeys...)
	ev := m.install(ReasonLogout, nil, StateUnauthenticated)
	m.persistMu.Unlock()

	if err != nil {
		m.logger.Error("failed to clear credential store on logout", "error", err)
	}

	m.publish(ctx, ev)
	if prev != nil {
		m.record(ctx, ActivityEventLogout, prev.ID, nil)
	}
	return err
}

// Refresh replaces the identity with the server's current record. On failure
// the existing identity is kept; only an expired session logs the user out.
func (m *SessionManager) Refresh(ctx context.Context) (*Identity, error) {
	cur := m.Current()
	if cur == nil {
		return nil, newError(ErrUnauthenticated, nil, map[string]any{"operation": "refresh"})
	}

	fresh, err := m.api.Me(ctx)
	if err != nil {
		if IsSessionExpired(err) {
			m.Expire(ctx, err)
		} else {
			m.logger.Info("identity refresh failed, keeping current identity", "error", err)
		}
		return nil, err
	}

	committed, err := m.commit(ctx, ReasonRefresh, func(cur *Identity) (*Identity, error) {
		// the user logged out or switched accounts while the call was in flight
		if cur == nil || cur.ID != fresh.ID {
			return nil, newError(ErrUnauthenticated, nil, map[string]any{
				"operation": "refresh",
				"reason":    "session changed during refresh",
			})
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}

	m.record(ctx, ActivityEventRefresh, committed.ID, nil)
	return committed, nil
}

// UpdateLocal merges patch into the identity and persists it without a
// server round-trip. Use it for values the server already confirmed.
func (m *SessionManager) UpdateLocal(ctx context.Context, patch IdentityPatch) (*Identity, error) {
	return m.commit(ctx, ReasonLocalUpdate, func(cur *Identity) (*Identity, error) {
		if cur == nil {
			return nil, newError(ErrUnauthenticated, nil, map[string]any{"operation": "update_local"})
		}
		return patch.Apply(cur), nil
	})
}

// Expire forces the unauthenticated state after a SessionExpired failure.
func (m *SessionManager) Expire(ctx context.Context, cause error) {
	ctx = context.WithoutCancel(ctx)
	m.persistMu.Lock()
	prev := m.Current()
	if prev == nil && m.State() == StateUnauthenticated {
		m.persistMu.Unlock()
		return
	}
	if err := m.store.Remove(ctx, store.SessionKeys...); err != nil {
		m.logger.Error("failed to clear credential store on session expiry", "error", err)
	}
	ev := m.install(ReasonExpired, nil, StateUnauthenticated)
	m.persistMu.Unlock()

	m.publish(ctx, ev)

	var userID int64
	if prev != nil {
		userID = prev.ID
	}
	meta := map[string]any{}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	m.record(ctx, ActivityEventSessionExpired, userID, meta)
}

// RefreshAsync runs Refresh in the background.
func (m *SessionManager) RefreshAsync(ctx context.Context) *Future[*Identity] {
	return Go(ctx, m.Refresh)
}

// UpdateLocalAsync runs UpdateLocal in the background.
func (m *SessionManager) UpdateLocalAsync(ctx context.Context, patch IdentityPatch) *Future[*Identity] {
	return Go(ctx, func(ctx context.Context) (*Identity, error) {
		return m.UpdateLocal(ctx, patch)
	})
}

// LogoutAsync runs Logout in the background.
func (m *SessionManager) LogoutAsync(ctx context.Context) *Future[struct{}] {
	return Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.Logout(ctx)
	})
}

// commit computes the next identity, writes its snapshot and installs it.
// Nothing changes when next or the write fails.
func (m *SessionManager) commit(ctx context.Context, reason SessionEventReason, next func(cur *Identity) (*Identity, error)) (*Identity, error) {
	m.persistMu.Lock()

	identity, err := next(m.Current())
	if err != nil {
		m.persistMu.Unlock()
		return nil, err
	}

	raw, err := encodeIdentity(identity)
	if err != nil {
		m.persistMu.Unlock()
		return nil, newError(ErrInvalidServerResponse, err, map[string]any{"reason": "identity not serializable"})
	}

	if err := m.store.Set(ctx, store.KeyIdentity, raw); err != nil {
		m.persistMu.Unlock()
		return nil, err
	}

	ev := m.install(reason, identity, StateAuthenticated)
	m.persistMu.Unlock()

	m.publish(ctx, ev)
	return identity.Clone(), nil
}

// install swaps the in-memory identity and state and returns the event to
// publish once every lock is released.
func (m *SessionManager) install(reason SessionEventReason, identity *Identity, target State) SessionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.identity
	m.identity = identity.Clone()
	if _, err := m.states.Transition(target); err != nil {
		m.logger.Error("session state transition rejected", "error", err)
	}

	return SessionEvent{
		Reason:   reason,
		Previous: prev.Clone(),
		Current:  m.identity.Clone(),
		State:    m.states.Current(),
	}
}

func (m *SessionManager) settleUnauthenticated(ctx context.Context, reason SessionEventReason) State {
	ctx = context.WithoutCancel(ctx)
	m.persistMu.Lock()
	if err := m.store.Remove(ctx, store.SessionKeys...); err != nil {
		m.logger.Error("failed to clear credential store", "error", err)
	}
	ev := m.install(reason, nil, StateUnauthenticated)
	m.persistMu.Unlock()

	m.publish(ctx, ev)
	return m.State()
}

func (m *SessionManager) publish(ctx context.Context, ev SessionEvent) {
	if ev.Reason == "" {
		return
	}

	m.lmu.RLock()
	listeners := make([]SessionListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.lmu.RUnlock()

	for _, l := range listeners {
		l(ctx, ev)
	}
}

func (m *SessionManager) record(ctx context.Context, eventType ActivityEventType, userID int64, meta map[string]any) {
	recordActivity(ctx, m.sink, m.logger, m.now, eventType, userID, meta)
}
