// Package authclient keeps the signed in user of a marketplace client
// (buyers and farmers) consistent across the session, an enriched profile
// cache and a durable credential store.
//
// Components:
//   - Transport is an http.RoundTripper that attaches the access credential
//     and, on a 401, exchanges the refresh credential once and reissues the
//     request. Concurrent recoveries share one exchange. A failed recovery
//     clears the store and surfaces ErrSessionExpired.
//   - SessionManager owns the Identity. It bootstraps from the store, handles
//     login, registration, logout and refresh, and publishes a SessionEvent
//     to subscribers after each change.
//   - ProfileCache holds the Profile of the active user. It drops its record
//     whenever the active user id changes and writes avatar, name, phone and
//     location back to the session.
//   - AvatarResolver turns relative avatar paths into absolute cache-busted
//     URLs.
//
// Client wires all of them together:
//
//	st, err := store.OpenSQLite(ctx, "file:session.db")
//	client, err := authclient.New(authclient.Options{
//		BaseURL:        "https://api.example.com/api",
//		ContentBaseURL: "https://cdn.example.com",
//	}, st)
//	client.Bootstrap(ctx)
//
// Errors are go-errors values; use IsSessionExpired, IsNetworkUnavailable
// and friends to branch, and UserMessage to get text fit for display.
package authclient
