package authclient

import (
	"context"
	"net/http"
	"time"

	"github.com/goliatone/go-auth-client/store"
)

// Client wires the transport, session manager, profile cache and avatar
// resolver around one credential store. Build it once at startup, call
// Bootstrap, and share it for the lifetime of the process.
type Client struct {
	config   Config
	store    store.Store
	logger   Logger
	http     *http.Client
	api      *HTTPAPI
	session  *SessionManager
	profiles *ProfileCache
	avatars  *AvatarResolver
}

// Option customizes the Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger        Logger
	sink          ActivitySink
	base          http.RoundTripper
	now           func() time.Time
	proactiveSkew time.Duration
	autoLoad      bool
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithActivitySink sets the sink receiving session and profile activity.
func WithActivitySink(sink ActivitySink) Option {
	return func(o *clientOptions) {
		o.sink = sink
	}
}

// WithRoundTripper sets the RoundTripper performing network I/O.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(o *clientOptions) {
		o.base = rt
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *clientOptions) {
		if clock != nil {
			o.now = clock
		}
	}
}

// WithRefreshSkew recovers ahead of time when the access credential expires
// within skew.
func WithRefreshSkew(skew time.Duration) Option {
	return func(o *clientOptions) {
		o.proactiveSkew = skew
	}
}

// WithAutoLoadProfile loads the profile whenever a new user signs in.
func WithAutoLoadProfile(enabled bool) Option {
	return func(o *clientOptions) {
		o.autoLoad = enabled
	}
}

// New validates cfg and builds a Client on top of st.
func New(cfg Config, st store.Store, opts ...Option) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, newError(ErrValidationFailed, nil, map[string]any{"store": "is nil"})
	}

	o := &clientOptions{
		base: http.DefaultTransport,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	logger := normalizeLogger(o.logger)
	sink := normalizeActivitySink(o.sink)
	timeout := cfg.GetRequestTimeout()

	c := &Client{
		config: cfg,
		store:  st,
		logger: logger,
	}

	plain := &http.Client{Transport: o.base, Timeout: timeout}
	refresher := NewTokenRefresher(cfg.GetBaseURL(), plain)
	refresher.now = o.now

	transport := NewTransport(st, refresher,
		WithBaseTransport(o.base),
		WithTransportLogger(logger),
		WithTransportClock(o.now),
		WithProactiveRefresh(o.proactiveSkew),
		WithSessionExpiredHandler(func(ctx context.Context, err error) {
			c.session.Expire(ctx, err)
		}),
	)

	c.http = &http.Client{Transport: transport, Timeout: timeout}
	c.api = NewHTTPAPI(cfg.GetBaseURL(), c.http, refresher)
	c.api.now = o.now

	c.avatars = NewAvatarResolver(cfg.GetContentBaseURL(),
		WithStorageMarkers(cfg.GetStorageMarkers()...),
		WithAvatarClock(o.now),
	)

	c.session = NewSessionManager(c.api, st,
		WithSessionLogger(logger),
		WithSessionActivitySink(sink),
		WithSessionClock(o.now),
	)

	c.profiles = NewProfileCache(c.api, c.session, st, c.avatars,
		WithProfileLogger(logger),
		WithProfileActivitySink(sink),
		WithProfileClock(o.now),
		WithPhoneRegion(cfg.GetPhoneRegion()),
		WithProfileAutoLoad(o.autoLoad),
	)

	return c, nil
}

// Bootstrap restores the stored session and, when it is valid, the cached
// profile. It returns the settled state.
func (c *Client) Bootstrap(ctx context.Context) State {
	state := c.session.Bootstrap(ctx)
	if state == StateAuthenticated {
		if _, err := c.profiles.Restore(ctx); err != nil {
			c.logger.Debug("could not restore cached profile", "error", err)
		}
	}
	return state
}

// State returns the session state.
func (c *Client) State() State {
	return c.session.State()
}

// CurrentIdentity returns a copy of the authenticated identity or nil.
func (c *Client) CurrentIdentity() *Identity {
	return c.session.Current()
}

// IsAuthenticated reports whether a session is active.
func (c *Client) IsAuthenticated() bool {
	return c.session.IsAuthenticated()
}

func (c *Client) Login(ctx context.Context, email, password string) (*Identity, error) {
	return c.session.Login(ctx, email, password)
}

func (c *Client) Register(ctx context.Context, input RegisterInput) (*Identity, error) {
	return c.session.Register(ctx, input)
}

// Logout clears the profile cache and ends the session. The session always
// ends up unauthenticated; the returned error reports store failures.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.profiles.Clear(context.WithoutCancel(ctx)); err != nil {
		c.logger.Error("failed to clear profile cache on logout", "error", err)
	}
	return c.session.Logout(ctx)
}

func (c *Client) Refresh(ctx context.Context) (*Identity, error) {
	return c.session.Refresh(ctx)
}

func (c *Client) UpdateLocal(ctx context.Context, patch IdentityPatch) (*Identity, error) {
	return c.session.UpdateLocal(ctx, patch)
}

// CurrentProfile returns a copy of the cached profile or nil.
func (c *Client) CurrentProfile() *Profile {
	return c.profiles.Current()
}

func (c *Client) LoadProfile(ctx context.Context) (*Profile, error) {
	return c.profiles.Load(ctx)
}

func (c *Client) RefreshProfile(ctx context.Context) (*Profile, error) {
	return c.profiles.Refresh(ctx)
}

func (c *Client) UpdateProfile(ctx context.Context, patch ProfilePatch) (*Profile, error) {
	return c.profiles.Update(ctx, patch)
}

func (c *Client) SaveProfile(ctx context.Context, patch ProfilePatch) (*Profile, error) {
	return c.profiles.Save(ctx, patch)
}

func (c *Client) ClearProfileCache(ctx context.Context) error {
	return c.profiles.Clear(ctx)
}

// ResolveAvatar turns an avatar reference into an absolute cache-busted URL.
func (c *Client) ResolveAvatar(ref string) string {
	return c.avatars.Resolve(ref)
}

// Subscribe registers listener for session events.
func (c *Client) Subscribe(listener SessionListener) func() {
	return c.session.Subscribe(listener)
}

// HTTPClient returns the authenticated client. Requests sent through it
// carry the access credential and share the expired credential recovery.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

func (c *Client) Session() *SessionManager {
	return c.session
}

func (c *Client) Profiles() *ProfileCache {
	return c.profiles
}

func (c *Client) Avatars() *AvatarResolver {
	return c.avatars
}

// Close detaches the profile cache from the session.
func (c *Client) Close() {
	c.profiles.Close()
}
