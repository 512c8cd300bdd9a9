package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	pathLogin    = "/auth/login"
	pathRegister = "/auth/register"
	pathLogout   = "/auth/logout"
	pathMe       = "/auth/me"
	pathRefresh  = "/auth/refresh"
	pathUsers    = "/users/%d"

	maxResponseBody = 1 << 20
)

// HTTPAPI implements API over JSON HTTP endpoints.
type HTTPAPI struct {
	baseURL   string
	client    *http.Client
	plain     *http.Client
	refresher *TokenRefresher
	now       func() time.Time
}

var _ API = (*HTTPAPI)(nil)

// NewHTTPAPI creates the endpoint client. authed must carry a Transport so
// requests are authenticated and recovered; the refresher's plain client is
// used for the login, registration and refresh calls.
func NewHTTPAPI(baseURL string, authed *http.Client, refresher *TokenRefresher) *HTTPAPI {
	if authed == nil {
		authed = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &HTTPAPI{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    authed,
		plain:     refresher.client,
		refresher: refresher,
		now:       time.Now,
	}
}

func (a *HTTPAPI) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	var env envelope
	if err := a.do(ctx, a.plain, "login", http.MethodPost, pathLogin, input, &env); err != nil {
		return nil, err
	}
	return a.authResult(env)
}

func (a *HTTPAPI) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	if input.PasswordConfirmation == "" {
		input.PasswordConfirmation = input.Password
	}
	var env envelope
	if err := a.do(ctx, a.plain, "register", http.MethodPost, pathRegister, input, &env); err != nil {
		return nil, err
	}
	return a.authResult(env)
}

func (a *HTTPAPI) Logout(ctx context.Context) error {
	return a.do(ctx, a.client, "logout", http.MethodPost, pathLogout, nil, nil)
}

func (a *HTTPAPI) Me(ctx context.Context) (*Identity, error) {
	var env envelope
	if err := a.do(ctx, a.client, "me", http.MethodGet, pathMe, nil, &env); err != nil {
		return nil, err
	}
	return parseUser(env.User)
}

func (a *HTTPAPI) RefreshCredentials(ctx context.Context, refreshToken string) (CredentialPair, error) {
	return a.refresher.Exchange(ctx, refreshToken)
}

func (a *HTTPAPI) GetUser(ctx context.Context, id int64) (*Identity, error) {
	var env envelope
	if err := a.do(ctx, a.client, "get_user", http.MethodGet, fmt.Sprintf(pathUsers, id), nil, &env); err != nil {
		return nil, err
	}
	return parseUser(env.User)
}

func (a *HTTPAPI) UpdateUser(ctx context.Context, id int64, patch ProfilePatch) (*Identity, error) {
	var env envelope
	if err := a.do(ctx, a.client, "update_user", http.MethodPut, fmt.Sprintf(pathUsers, id), patch, &env); err != nil {
		return nil, err
	}
	return parseUser(env.User)
}

func (a *HTTPAPI) authResult(env envelope) (*AuthResult, error) {
	if env.AccessToken == "" || env.RefreshToken == "" {
		return nil, newError(ErrInvalidServerResponse, nil, map[string]any{"reason": "missing credentials"})
	}

	user, err := parseUser(env.User)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		Message: env.Message,
		User:    user,
		Credentials: CredentialPair{
			AccessToken:  env.AccessToken,
			RefreshToken: env.RefreshToken,
			TokenType:    env.TokenType,
			ExpiresIn:    env.ExpiresIn,
			issuedAt:     a.now(),
		},
	}, nil
}

func (a *HTTPAPI) do(ctx context.Context, client *http.Client, op, method, path string, body any, out *envelope) error {
	return doJSON(ctx, client, op, method, a.baseURL+path, body, out)
}

// TokenRefresher performs the refresh credential exchange. It talks to the
// server without the authenticating Transport so a rejected refresh can never
// recurse into another recovery.
type TokenRefresher struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewTokenRefresher creates a refresher posting to baseURL + /auth/refresh.
func NewTokenRefresher(baseURL string, client *http.Client) *TokenRefresher {
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &TokenRefresher{
		url:    strings.TrimRight(baseURL, "/") + pathRefresh,
		client: client,
		now:    time.Now,
	}
}

// Exchange trades refreshToken for a new credential pair. Servers that do not
// rotate refresh credentials may omit refresh_token; the old one is kept.
func (r *TokenRefresher) Exchange(ctx context.Context, refreshToken string) (CredentialPair, error) {
	var env envelope
	payload := map[string]string{"refresh_token": refreshToken}
	if err := doJSON(ctx, r.client, "refresh", http.MethodPost, r.url, payload, &env); err != nil {
		return CredentialPair{}, err
	}

	if env.AccessToken == "" {
		return CredentialPair{}, newError(ErrInvalidServerResponse, nil, map[string]any{"reason": "missing access token"})
	}

	pair := CredentialPair{
		AccessToken:  env.AccessToken,
		RefreshToken: env.RefreshToken,
		TokenType:    env.TokenType,
		ExpiresIn:    env.ExpiresIn,
		issuedAt:     r.now(),
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

func doJSON(ctx context.Context, client *http.Client, op, method, url string, body any, out *envelope) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode "+op+" request")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build "+op+" request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return newError(ErrNetworkUnavailable, err, map[string]any{"operation": op})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(op, resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return newError(ErrInvalidServerResponse, nil, map[string]any{"operation": op, "reason": "empty body"})
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newError(ErrInvalidServerResponse, err, map[string]any{"operation": op, "reason": "malformed body"})
	}
	if statusFailed(out.Status) {
		return &ResponseError{Operation: op, Status: resp.StatusCode, Message: out.Message, Fields: out.Errors}
	}
	return nil
}

// classifyTransportError keeps typed failures raised by the Transport and
// maps everything else (dial errors, timeouts) to NetworkUnavailable.
func classifyTransportError(op string, err error) error {
	var ge *goerrors.Error
	if errors.As(err, &ge) {
		return ge
	}
	return newError(ErrNetworkUnavailable, err, map[string]any{"operation": op})
}

func responseError(op string, status int, raw []byte) error {
	rerr := &ResponseError{Operation: op, Status: status}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil {
		rerr.Message = env.Message
		rerr.Fields = env.Errors
	}
	return rerr
}

func statusFailed(status any) bool {
	switch s := status.(type) {
	case bool:
		return !s
	case string:
		switch strings.ToLower(s) {
		case "error", "fail", "failed", "failure":
			return true
		}
	}
	return false
}
