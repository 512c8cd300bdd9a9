// Package store holds the durable key-value storage used to keep session
// credentials and identity snapshots across process restarts.
//
// Implementations must make multi-key writes and removals all-or-nothing: a
// SetMany or Remove that returns nil has applied every key, and one that
// returns an error has applied none of them.
package store

import (
	"context"
	"errors"
	"strconv"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// KeyAccessToken holds the short lived access credential
	KeyAccessToken = "auth.access_token"
	// KeyRefreshToken holds the refresh credential
	KeyRefreshToken = "auth.refresh_token"
	// KeyIdentity holds the serialized identity snapshot
	KeyIdentity = "auth.identity"

	profileKeyPrefix = "profile."
)

// SessionKeys are the keys owned by the session manager.
var SessionKeys = []string{KeyAccessToken, KeyRefreshToken, KeyIdentity}

// ProfileKey returns the per-user key used by the profile cache.
func ProfileKey(userID int64) string {
	return profileKeyPrefix + strconv.FormatInt(userID, 10)
}

// Store is a durable key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetMany(ctx context.Context, values map[string]string) error
	Remove(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
}

func wrapErr(err error, op string, keys ...string) error {
	if err == nil {
		return nil
	}
	meta := map[string]any{"operation": op}
	if len(keys) > 0 {
		meta["keys"] = keys
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "credential store "+op+" failed").
		WithTextCode(TextCodeStoreFailure).
		WithMetadata(meta)
}

// TextCodeStoreFailure tags every error returned by a Store implementation.
const TextCodeStoreFailure = "CREDENTIAL_STORE_FAILURE"

// IsStoreError reports whether err originated in a Store.
func IsStoreError(err error) bool {
	var se *goerrors.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.TextCode == TextCodeStoreFailure
}
