package authclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-auth-client/store"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// HeaderRequestID is attached to every originating request and kept on the
// reissue so both attempts correlate in server logs.
const HeaderRequestID = "X-Request-ID"

// CredentialExchanger trades a refresh credential for a new pair.
type CredentialExchanger interface {
	Exchange(ctx context.Context, refreshToken string) (CredentialPair, error)
}

// CredentialExchangerFunc adapts a function to CredentialExchanger.
type CredentialExchangerFunc func(ctx context.Context, refreshToken string) (CredentialPair, error)

// Exchange implements CredentialExchanger.
func (f CredentialExchangerFunc) Exchange(ctx context.Context, refreshToken string) (CredentialPair, error) {
	return f(ctx, refreshToken)
}

// Transport is an http.RoundTripper that authenticates requests with the
// stored access credential and runs the expired credential recovery once per
// originating request.
//
// Recovery: on a 401 the refresh credential is read from the store and
// exchanged, the new pair is persisted and the request reissued. A missing
// refresh credential, a failed exchange, a failed write or a second 401 clear
// the store and fail the request with ErrSessionExpired. Concurrent
// recoveries share a single exchange.
type Transport struct {
	base      http.RoundTripper
	store     store.Store
	exchanger CredentialExchanger
	logger    Logger
	now       func() time.Time

	proactiveSkew time.Duration
	onExpired     func(ctx context.Context, err error)
	notifying     atomic.Bool

	group singleflight.Group
}

var _ http.RoundTripper = (*Transport)(nil)

// TransportOption customizes the Transport.
type TransportOption func(*Transport)

// WithBaseTransport sets the RoundTripper that performs the actual I/O.
func WithBaseTransport(rt http.RoundTripper) TransportOption {
	return func(t *Transport) {
		if rt != nil {
			t.base = rt
		}
	}
}

// WithTransportLogger overrides the logger.
func WithTransportLogger(logger Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTransportClock injects a custom clock (useful for tests).
func WithTransportClock(clock func() time.Time) TransportOption {
	return func(t *Transport) {
		if clock != nil {
			t.now = clock
		}
	}
}

// WithProactiveRefresh recovers before sending when the access credential is
// a JWT expiring within skew. It uses up the request's single recovery.
func WithProactiveRefresh(skew time.Duration) TransportOption {
	return func(t *Transport) {
		t.proactiveSkew = skew
	}
}

// WithSessionExpiredHandler registers a callback run whenever recovery ends
// in ErrSessionExpired. It runs outside any in-flight recovery, so it may
// issue requests through the same transport; expiries raised by those
// requests while it runs are not reported to it again.
func WithSessionExpiredHandler(fn func(ctx context.Context, err error)) TransportOption {
	return func(t *Transport) {
		t.onExpired = fn
	}
}

// NewTransport creates an authenticating transport.
func NewTransport(st store.Store, exchanger CredentialExchanger, opts ...TransportOption) *Transport {
	t := &Transport{
		base:      http.DefaultTransport,
		store:     st,
		exchanger: exchanger,
		logger:    defLogger{},
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	body, err := replayableBody(req)
	if err != nil {
		return nil, newError(ErrNetworkUnavailable, err, map[string]any{"reason": "request body unreadable"})
	}

	requestID := req.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	access, _, err := t.store.Get(ctx, store.KeyAccessToken)
	if err != nil {
		return nil, err
	}

	retried := false
	if access != "" && t.proactiveSkew > 0 && AccessTokenExpiresWithin(access, t.proactiveSkew, t.now()) {
		t.logger.Debug("access credential about to expire, recovering before send", "request_id", requestID)
		retried = true
		access, err = t.recover(ctx, access)
		if err != nil {
			return nil, err
		}
	}

	resp, err := t.send(req, body, access, requestID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	if retried {
		return nil, t.notifyExpired(ctx, t.expire(ctx, nil, "rejected after recovery"))
	}

	access, err = t.recover(ctx, access)
	if err != nil {
		return nil, err
	}

	resp, err = t.send(req, body, access, requestID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		return nil, t.notifyExpired(ctx, t.expire(ctx, nil, "rejected after recovery"))
	}
	return resp, nil
}

func (t *Transport) send(req *http.Request, body []byte, access, requestID string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		out.ContentLength = int64(len(body))
	}
	out.Header.Set(HeaderRequestID, requestID)
	if access != "" {
		out.Header.Set("Authorization", "Bearer "+access)
	} else {
		out.Header.Del("Authorization")
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, newError(ErrNetworkUnavailable, err, map[string]any{
			"request_id": requestID,
			"url":        req.URL.Redacted(),
		})
	}
	return resp, nil
}

// recover returns a fresh access credential. rejected is the credential the
// server just refused; when the store already holds a different one, a
// concurrent recovery won and no exchange is needed.
func (t *Transport) recover(ctx context.Context, rejected string) (string, error) {
	current, _, err := t.store.Get(ctx, store.KeyAccessToken)
	if err != nil {
		return "", t.notifyExpired(ctx, t.expire(ctx, err, "read access credential"))
	}
	if current != "" && current != rejected {
		return current, nil
	}

	// only the caller whose function ran the exchange reports its failure,
	// after the flight has settled
	led := false
	settle := func(res singleflight.Result) {
		if led && res.Err != nil {
			t.notifyExpired(context.WithoutCancel(ctx), res.Err)
		}
	}

	ch := t.group.DoChan("recover", func() (any, error) {
		led = true
		// detached so one caller giving up does not fail every waiter
		ctx := context.WithoutCancel(ctx)
		// a flight that settled between our read and DoChan already rotated
		if current, _, err := t.store.Get(ctx, store.KeyAccessToken); err == nil && current != "" && current != rejected {
			return current, nil
		}
		return t.exchange(ctx)
	})

	select {
	case <-ctx.Done():
		go func() { settle(<-ch) }()
		return "", newError(ErrNetworkUnavailable, ctx.Err(), map[string]any{"reason": "recovery abandoned"})
	case res := <-ch:
		if res.Shared {
			t.logger.Debug("joined in-flight credential recovery")
		}
		settle(res)
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (t *Transport) exchange(ctx context.Context) (string, error) {
	refresh, ok, err := t.store.Get(ctx, store.KeyRefreshToken)
	if err != nil {
		return "", t.expire(ctx, err, "read refresh credential")
	}
	if !ok || refresh == "" {
		return "", t.expire(ctx, nil, "no refresh credential")
	}

	pair, err := t.exchanger.Exchange(ctx, refresh)
	if err != nil {
		return "", t.expire(ctx, err, "exchange refresh credential")
	}

	err = t.store.SetMany(ctx, map[string]string{
		store.KeyAccessToken:  pair.AccessToken,
		store.KeyRefreshToken: pair.RefreshToken,
	})
	if err != nil {
		return "", t.expire(ctx, err, "persist credential pair")
	}

	t.logger.Info("access credential recovered")
	return pair.AccessToken, nil
}

// expire clears the store and returns ErrSessionExpired wrapping cause.
func (t *Transport) expire(ctx context.Context, cause error, reason string) *goerrors.Error {
	if err := t.store.Clear(context.WithoutCancel(ctx)); err != nil {
		t.logger.Error("failed to clear credential store after recovery failure", "error", err)
	}

	t.logger.Info("session expired", "reason", reason)
	return newError(ErrSessionExpired, cause, map[string]any{"reason": reason})
}

// notifyExpired runs the expiry handler unless it is already running.
func (t *Transport) notifyExpired(ctx context.Context, err error) error {
	if t.onExpired == nil || !IsSessionExpired(err) {
		return err
	}
	if !t.notifying.CompareAndSwap(false, true) {
		t.logger.Debug("session expiry raised from within the expiry handler")
		return err
	}
	defer t.notifying.Store(false)
	t.onExpired(ctx, err)
	return err
}

func replayableBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return io.ReadAll(req.Body)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	_ = resp.Body.Close()
}
