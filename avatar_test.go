package authclient_test

import (
	"net/url"
	"strconv"
	"testing"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvatarResolve(t *testing.T) {
	r := authclient.NewAvatarResolver("https://cdn.example.com/", authclient.WithAvatarClock(fixedClock))

	tests := []struct {
		name     string
		ref      string
		expected string
	}{
		{name: "empty", ref: "", expected: ""},
		{name: "literal null", ref: "null", expected: ""},
		{name: "whitespace", ref: "   ", expected: ""},
		{name: "absolute", ref: "https://img.example.com/a.png", expected: "https://img.example.com/a.png"},
		{name: "absolute keeps other params", ref: "https://img.example.com/a.png?size=64", expected: "https://img.example.com/a.png?size=64"},
		{name: "absolute replaces old version", ref: "https://img.example.com/a.png?v=1", expected: "https://img.example.com/a.png"},
		{name: "storage marker with leading slash", ref: "/storage/avatars/7.png", expected: "https://cdn.example.com/avatars/7.png"},
		{name: "storage marker relative", ref: "storage/avatars/7.png", expected: "https://cdn.example.com/avatars/7.png"},
		{name: "storage marker on api host", ref: "http://api.local:8000/storage/avatars/7.png", expected: "http://api.local:8000/storage/avatars/7.png"},
		{name: "object key", ref: "avatars/7.png", expected: "https://cdn.example.com/avatars/7.png"},
		{name: "object key with leading slash", ref: "/avatars/7.png", expected: "https://cdn.example.com/avatars/7.png"},
		{name: "host and port without scheme", ref: "localhost:8000/storage/a.png", expected: "https://cdn.example.com/a.png"},
		{name: "protocol relative", ref: "//img.example.com/a.png", expected: "//img.example.com/a.png"},
		{name: "custom scheme", ref: "s3+https://bucket/a.png", expected: "s3+https://bucket/a.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(tt.ref)
			if tt.expected == "" {
				assert.Empty(t, got)
				return
			}

			u, err := url.Parse(got)
			require.NoError(t, err)
			assert.NotEmpty(t, u.Query().Get(authclient.CacheBustParam))
			assert.Len(t, u.Query()[authclient.CacheBustParam], 1)
			assert.Equal(t, tt.expected, authclient.StripCacheBuster(got))
		})
	}
}

func TestAvatarResolveIsIdempotent(t *testing.T) {
	r := authclient.NewAvatarResolver("https://cdn.example.com")

	first := r.Resolve("storage/avatars/7.png")
	second := r.Resolve(first)
	third := r.Resolve(second)

	assert.True(t, authclient.SameResource(first, second))
	assert.True(t, authclient.SameResource(second, third))
	assert.Equal(t, "https://cdn.example.com/avatars/7.png", authclient.StripCacheBuster(third))
}

func TestAvatarCacheBusterIncreases(t *testing.T) {
	// a frozen clock must still produce distinct versions
	r := authclient.NewAvatarResolver("https://cdn.example.com", authclient.WithAvatarClock(func() time.Time {
		return fixedNow
	}))

	a := r.Resolve("avatars/7.png")
	b := r.Resolve("avatars/7.png")

	assert.NotEqual(t, a, b)
	assert.True(t, authclient.SameResource(a, b))
	assert.Equal(t, "https://cdn.example.com/avatars/7.png?v="+strconv.FormatInt(fixedNow.UnixMilli(), 10), a)
	assert.Equal(t, "https://cdn.example.com/avatars/7.png?v="+strconv.FormatInt(fixedNow.UnixMilli()+1, 10), b)
}

func TestAvatarCustomStorageMarkers(t *testing.T) {
	r := authclient.NewAvatarResolver("https://cdn.example.com",
		authclient.WithStorageMarkers("/uploads/"),
		authclient.WithAvatarClock(fixedClock),
	)

	got := r.Resolve("/var/www/uploads/u/7.png")
	assert.Equal(t, "https://cdn.example.com/u/7.png", authclient.StripCacheBuster(got))
}

func TestSameResource(t *testing.T) {
	assert.True(t, authclient.SameResource("https://a/x.png?v=1", "https://a/x.png?v=2"))
	assert.True(t, authclient.SameResource("https://a/x.png", "https://a/x.png?v=2"))
	assert.False(t, authclient.SameResource("https://a/x.png?v=1", "https://a/y.png?v=1"))
	assert.False(t, authclient.SameResource("https://a/x.png?size=1", "https://a/x.png?size=2"))
}

func TestAvatarResolveLeavesOpaqueURIsAlone(t *testing.T) {
	r := authclient.NewAvatarResolver("https://cdn.example.com", authclient.WithAvatarClock(fixedClock))

	for _, ref := range []string{
		"data:image/png;base64,iVBORw0KGgo=",
		"blob:https://app.example.com/5d1c0a9e",
	} {
		assert.Equal(t, ref, r.Resolve(ref))
		assert.True(t, authclient.SameResource(ref, r.Resolve(ref)))
	}
}

func TestSameResourceIgnoresQueryOrder(t *testing.T) {
	r := authclient.NewAvatarResolver("https://cdn.example.com", authclient.WithAvatarClock(fixedClock))

	raw := "https://x.example.com/a.png?b=2&a=1"
	assert.True(t, authclient.SameResource(raw, r.Resolve(raw)))
	assert.Equal(t, "https://x.example.com/a.png?a=1&b=2", authclient.StripCacheBuster(raw))
}
