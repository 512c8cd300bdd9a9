package authclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/goliatone/go-auth-client/store"
)

// ProfileCache keeps the enriched profile of the active user. It follows the
// session through a subscription and drops its record whenever the active
// user id changes, so one user's profile never shows up on another's.
//
// The cache is authoritative for avatar, name, phone and location and writes
// those back to the session on Refresh and Update. The session never pushes
// changes into the cache; call Load or Refresh to re-sync.
type ProfileCache struct {
	api     API
	session SessionSource
	store   store.Store
	avatars *AvatarResolver
	logger  Logger
	sink    ActivitySink
	now     func() time.Time

	phoneRegion string
	autoLoad    bool

	mu         sync.RWMutex
	profile    *Profile
	userID     int64
	generation uint64

	// writeMu orders durable writes of the per-user key with removals.
	writeMu sync.Mutex

	unsubscribe func()
}

// ProfileOption customizes the ProfileCache.
type ProfileOption func(*ProfileCache)

// WithProfileLogger overrides the logger.
func WithProfileLogger(logger Logger) ProfileOption {
	return func(c *ProfileCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithProfileActivitySink sets the ActivitySink for profile updates.
func WithProfileActivitySink(sink ActivitySink) ProfileOption {
	return func(c *ProfileCache) {
		c.sink = normalizeActivitySink(sink)
	}
}

// WithProfileClock injects a custom clock (useful for tests).
func WithProfileClock(clock func() time.Time) ProfileOption {
	return func(c *ProfileCache) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithPhoneRegion sets the region used to normalize numbers without a
// country prefix.
func WithPhoneRegion(region string) ProfileOption {
	return func(c *ProfileCache) {
		c.phoneRegion = region
	}
}

// WithProfileAutoLoad loads the profile in the background every time a new
// user becomes active.
func WithProfileAutoLoad(enabled bool) ProfileOption {
	return func(c *ProfileCache) {
		c.autoLoad = enabled
	}
}

// NewProfileCache creates a cache bound to session. Call Close to detach it.
func NewProfileCache(api API, session SessionSource, st store.Store, avatars *AvatarResolver, opts ...ProfileOption) *ProfileCache {
	c := &ProfileCache{
		api:     api,
		session: session,
		store:   st,
		avatars: avatars,
		logger:  defLogger{},
		sink:    noopActivitySink{},
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if cur := session.Current(); cur != nil {
		c.userID = cur.ID
	}
	c.unsubscribe = session.Subscribe(c.onSessionEvent)
	return c
}

// Close stops following the session.
func (c *ProfileCache) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// Current returns a copy of the cached profile, nil when nothing is loaded.
func (c *ProfileCache) Current() *Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile.Clone()
}

func (c *ProfileCache) onSessionEvent(ctx context.Context, ev SessionEvent) {
	if !ev.UserChanged() {
		return
	}

	next := ev.CurrentUserID()
	c.bind(next)

	if prev := ev.PreviousUserID(); prev != 0 {
		c.writeMu.Lock()
		if err := c.store.Remove(ctx, store.ProfileKey(prev)); err != nil {
			c.logger.Error("failed to remove cached profile", "user_id", prev, "error", err)
		}
		c.writeMu.Unlock()
	}

	if c.autoLoad && next != 0 {
		Go(context.WithoutCancel(ctx), func(ctx context.Context) (*Profile, error) {
			p, err := c.Load(ctx)
			if err != nil {
				c.logger.Debug("profile auto load failed", "user_id", next, "error", err)
			}
			return p, err
		})
	}
}

// bind makes id the active user, discarding any record of another user.
// It returns the generation loads for id must match to install.
func (c *ProfileCache) bind(id int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.userID != id || (c.profile != nil && c.profile.ID != id) {
		c.profile = nil
		c.userID = id
		c.generation++
	}
	return c.generation
}

// install stores profile unless the active user moved on since gen.
func (c *ProfileCache) install(gen uint64, profile *Profile) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen || c.userID != profile.ID {
		return false
	}
	c.profile = profile.Clone()
	return true
}

// Load builds the profile of the active user from the profile lookup merged
// over the session fields. When the lookup fails the session fields alone are
// used. The result is persisted under the user's key.
func (c *ProfileCache) Load(ctx context.Context) (*Profile, error) {
	profile, _, err := c.load(ctx)
	return profile, err
}

func (c *ProfileCache) load(ctx context.Context) (*Profile, bool, error) {
	identity := c.session.Current()
	if identity == nil {
		return nil, false, newError(ErrUnauthenticated, nil, map[string]any{"operation": "profile_load"})
	}
	gen := c.bind(identity.ID)

	fromServer := true
	var profile *Profile

	lookup, err := c.api.GetUser(ctx, identity.ID)
	switch {
	case err == nil && lookup.ID == identity.ID:
		profile = c.merge(identity, lookup)
	case err == nil:
		c.logger.Error("profile lookup returned another user, using session fields", "expected", identity.ID, "got", lookup.ID)
		fromServer = false
		profile = c.fromIdentity(identity)
	case IsSessionExpired(err):
		c.session.Expire(ctx, err)
		return nil, false, err
	default:
		c.logger.Info("profile lookup failed, using session fields", "user_id", identity.ID, "error", err)
		fromServer = false
		profile = c.fromIdentity(identity)
	}

	c.writeMu.Lock()
	if !c.install(gen, profile) {
		c.writeMu.Unlock()
		return nil, false, newError(ErrUnauthenticated, nil, map[string]any{
			"operation": "profile_load",
			"reason":    "active user changed during load",
		})
	}
	c.persist(ctx, profile)
	c.writeMu.Unlock()

	return profile.Clone(), fromServer, nil
}

// Refresh reloads the profile and, when the lookup succeeded, writes the
// fields the cache owns back into the session.
func (c *ProfileCache) Refresh(ctx context.Context) (*Profile, error) {
	profile, fromServer, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if !fromServer {
		return profile, nil
	}

	patch := IdentityPatch{
		Name:     String(profile.Name),
		Avatar:   String(profile.Avatar),
		Phone:    String(profile.Phone),
		Location: String(profile.Location),
	}
	if _, err := c.session.UpdateLocal(ctx, patch); err != nil {
		c.logger.Error("profile write back failed", "user_id", profile.ID, "error", err)
		return profile, err
	}
	return profile, nil
}

// Update merges patch into the cached profile, persists it and writes back
// the session owned fields it touches. No server call is made; use Save for
// changes the server has not seen yet.
func (c *ProfileCache) Update(ctx context.Context, patch ProfilePatch) (*Profile, error) {
	identity := c.session.Current()
	if identity == nil {
		return nil, newError(ErrUnauthenticated, nil, map[string]any{"operation": "profile_update"})
	}
	if patch.IsEmpty() {
		return c.Current(), nil
	}

	gen := c.bind(identity.ID)

	c.mu.RLock()
	base := c.profile.Clone()
	c.mu.RUnlock()
	if base == nil {
		base = c.fromIdentity(identity)
	}

	next := patch.apply(base)
	if patch.Avatar != nil {
		next.Avatar = c.avatars.Resolve(next.Avatar)
	}
	if patch.Phone != nil {
		next.Phone = NormalizePhone(next.Phone, c.phoneRegion)
	}

	c.writeMu.Lock()
	if !c.install(gen, next) {
		c.writeMu.Unlock()
		return nil, newError(ErrUnauthenticated, nil, map[string]any{
			"operation": "profile_update",
			"reason":    "active user changed during update",
		})
	}
	c.persist(ctx, next)
	c.writeMu.Unlock()

	recordActivity(ctx, c.sink, c.logger, c.now, ActivityEventProfileUpdated, next.ID, nil)

	if !patch.touchesSession() {
		return next.Clone(), nil
	}

	// write back the stored values, not the raw patch, so both records agree
	back := patch.sessionPatch()
	if back.Name != nil {
		back.Name = String(next.Name)
	}
	if back.Avatar != nil {
		back.Avatar = String(next.Avatar)
	}
	if back.Phone != nil {
		back.Phone = String(next.Phone)
	}
	if back.Location != nil {
		back.Location = String(next.Location)
	}
	if _, err := c.session.UpdateLocal(ctx, back); err != nil {
		c.logger.Error("profile write back failed", "user_id", next.ID, "error", err)
		return next.Clone(), err
	}
	return next.Clone(), nil
}

// Save sends patch to the server and applies the confirmed record locally.
func (c *ProfileCache) Save(ctx context.Context, patch ProfilePatch) (*Profile, error) {
	identity := c.session.Current()
	if identity == nil {
		return nil, newError(ErrUnauthenticated, nil, map[string]any{"operation": "profile_save"})
	}
	if patch.IsEmpty() {
		return c.Current(), nil
	}

	if patch.Phone != nil {
		patch.Phone = String(NormalizePhone(*patch.Phone, c.phoneRegion))
	}

	updated, err := c.api.UpdateUser(ctx, identity.ID, patch)
	if err != nil {
		if IsSessionExpired(err) {
			c.session.Expire(ctx, err)
		}
		return nil, err
	}
	if updated.ID != identity.ID {
		return nil, newError(ErrInvalidServerResponse, nil, map[string]any{
			"operation": "profile_save",
			"reason":    "server returned another user",
		})
	}

	confirmed := ProfilePatch{}
	if patch.Name != nil {
		confirmed.Name = String(updated.Name)
	}
	if patch.Email != nil {
		confirmed.Email = String(updated.Email)
	}
	if patch.Avatar != nil {
		confirmed.Avatar = String(updated.Avatar)
	}
	if patch.Phone != nil {
		confirmed.Phone = String(updated.Phone)
	}
	if patch.Location != nil {
		confirmed.Location = String(updated.Location)
	}
	return c.Update(ctx, confirmed)
}

// Clear removes the per-user durable key and forgets the in-memory record.
func (c *ProfileCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	id := c.userID
	if c.profile != nil {
		id = c.profile.ID
	}
	c.profile = nil
	c.generation++
	c.mu.Unlock()

	if id == 0 {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.store.Remove(ctx, store.ProfileKey(id))
}

// Restore seeds the cache from the durable per-user key. It does nothing
// when a record is already loaded or the stored record belongs to another
// user.
func (c *ProfileCache) Restore(ctx context.Context) (*Profile, error) {
	identity := c.session.Current()
	if identity == nil {
		return nil, newError(ErrUnauthenticated, nil, map[string]any{"operation": "profile_restore"})
	}
	gen := c.bind(identity.ID)

	if cur := c.Current(); cur != nil {
		return cur, nil
	}

	raw, ok, err := c.store.Get(ctx, store.ProfileKey(identity.ID))
	if err != nil || !ok {
		return nil, err
	}

	var stored Profile
	if err := json.Unmarshal([]byte(raw), &stored); err != nil || stored.ID != identity.ID {
		c.logger.Info("discarding unusable cached profile", "user_id", identity.ID)
		c.writeMu.Lock()
		if rerr := c.store.Remove(ctx, store.ProfileKey(identity.ID)); rerr != nil {
			c.logger.Error("failed to remove cached profile", "user_id", identity.ID, "error", rerr)
		}
		c.writeMu.Unlock()
		return nil, nil
	}

	if !c.install(gen, &stored) {
		return nil, nil
	}
	return stored.Clone(), nil
}

// RefreshAsync runs Refresh in the background.
func (c *ProfileCache) RefreshAsync(ctx context.Context) *Future[*Profile] {
	return Go(ctx, c.Refresh)
}

// UpdateAsync runs Update in the background.
func (c *ProfileCache) UpdateAsync(ctx context.Context, patch ProfilePatch) *Future[*Profile] {
	return Go(ctx, func(ctx context.Context) (*Profile, error) {
		return c.Update(ctx, patch)
	})
}

// merge lays the lookup over the session fields. Lookup values win; empty
// lookup values fall back to the session.
func (c *ProfileCache) merge(identity, lookup *Identity) *Profile {
	p := c.fromIdentity(identity)
	if lookup.Name != "" {
		p.Name = lookup.Name
	}
	if lookup.Email != "" {
		p.Email = lookup.Email
	}
	if lookup.Role != "" {
		p.Role = lookup.Role
	}
	if lookup.Avatar != "" {
		p.Avatar = c.avatars.Resolve(lookup.Avatar)
	}
	if lookup.Phone != "" {
		p.Phone = NormalizePhone(lookup.Phone, c.phoneRegion)
	}
	if lookup.Location != "" {
		p.Location = lookup.Location
	}
	return p
}

func (c *ProfileCache) fromIdentity(identity *Identity) *Profile {
	return &Profile{
		ID:       identity.ID,
		Name:     identity.Name,
		Email:    identity.Email,
		Role:     identity.Role,
		Avatar:   c.avatars.Resolve(identity.Avatar),
		Phone:    NormalizePhone(identity.Phone, c.phoneRegion),
		Location: identity.Location,
	}
}

// persist writes profile under its per-user key. Failures are logged only,
// the in-memory record stays usable.
func (c *ProfileCache) persist(ctx context.Context, profile *Profile) {
	b, err := json.Marshal(profile)
	if err != nil {
		c.logger.Error("failed to encode profile", "user_id", profile.ID, "error", err)
		return
	}
	if err := c.store.Set(ctx, store.ProfileKey(profile.ID), string(b)); err != nil {
		c.logger.Error("failed to persist profile", "user_id", profile.ID, "error", err)
	}
}
