package authclient

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CacheBustParam is the query parameter carrying the cache-busting version.
const CacheBustParam = "v"

var (
	schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)
	// host:port without a scheme, e.g. localhost:8000/storage/a.png
	hostPortPattern = regexp.MustCompile(`^[^/:]+:\d+(/|$)`)
)

// AvatarResolver turns partial avatar references into absolute,
// cache-busted content URLs.
type AvatarResolver struct {
	baseURL string
	markers []string
	now     func() time.Time

	mu   sync.Mutex
	last int64
}

// AvatarOption customizes the resolver.
type AvatarOption func(*AvatarResolver)

// WithAvatarClock injects the clock used for cache-busting (useful for tests).
func WithAvatarClock(clock func() time.Time) AvatarOption {
	return func(r *AvatarResolver) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithStorageMarkers replaces the storage path markers.
func WithStorageMarkers(markers ...string) AvatarOption {
	return func(r *AvatarResolver) {
		if len(markers) > 0 {
			r.markers = markers
		}
	}
}

// NewAvatarResolver creates a resolver rebasing relative paths onto
// contentBaseURL.
func NewAvatarResolver(contentBaseURL string, opts ...AvatarOption) *AvatarResolver {
	r := &AvatarResolver{
		baseURL: strings.TrimRight(strings.TrimSpace(contentBaseURL), "/"),
		markers: DefaultStorageMarkers,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve returns the absolute URL for ref, or "" when ref is absent.
//
// Rules, in order: absolute references (any scheme, or protocol-relative)
// are only cache-busted, and opaque ones such as data: URIs are returned
// as is; references
// containing a storage marker are cut after the marker and rebased onto the
// content base URL; anything else is treated as an object key and rebased.
func (r *AvatarResolver) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == "null" {
		return ""
	}

	if isAbsoluteRef(ref) {
		return r.bust(ref)
	}

	key := ref
	for _, marker := range r.markers {
		if idx := strings.Index(ref, marker); idx >= 0 {
			key = ref[idx+len(marker):]
			break
		}
	}

	return r.bust(r.baseURL + "/" + strings.TrimLeft(key, "/"))
}

func isAbsoluteRef(ref string) bool {
	if strings.HasPrefix(ref, "//") {
		return true
	}
	return schemePattern.MatchString(ref) && !hostPortPattern.MatchString(ref)
}

// bust sets the cache-busting parameter, replacing any previous value.
func (r *AvatarResolver) bust(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Opaque != "" {
		return raw
	}
	q := u.Query()
	q.Set(CacheBustParam, strconv.FormatInt(r.nextVersion(), 10))
	u.RawQuery = q.Encode()
	return u.String()
}

// nextVersion is a millisecond timestamp that never repeats or goes back.
func (r *AvatarResolver) nextVersion() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.now().UnixMilli()
	if v <= r.last {
		v = r.last + 1
	}
	r.last = v
	return v
}

// StripCacheBuster removes the cache-busting parameter from raw. The
// remaining query is re-encoded in canonical order so equal resources
// compare equal.
func StripCacheBuster(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Opaque != "" {
		return raw
	}
	q := u.Query()
	q.Del(CacheBustParam)
	u.RawQuery = q.Encode()
	return u.String()
}

// SameResource reports whether a and b point at the same avatar, ignoring
// cache-busting.
func SameResource(a, b string) bool {
	return StripCacheBuster(a) == StripCacheBuster(b)
}
