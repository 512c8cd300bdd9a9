package authclient_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testPassword = "correct-horse"

type backendUser struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Avatar   string `json:"avatar,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`
}

// fakeBackend is a minimal auth API with rotating credential pairs.
type fakeBackend struct {
	server *httptest.Server

	mu       sync.Mutex
	seq      int
	users    map[int64]*backendUser
	access   map[string]int64
	refresh  map[string]int64
	bodies   []string
	requests map[string][]string

	refreshCalls atomic.Int32
	refreshDelay time.Duration
	rejectAll    bool
	rejectSwap   bool
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{
		users:    map[int64]*backendUser{},
		access:   map[string]int64{},
		refresh:  map[string]int64{},
		requests: map[string][]string{},
	}
	b.users[7] = &backendUser{ID: 7, Name: "Ana Buyer", Email: "ana@example.com", Role: "buyer", Avatar: "/storage/avatars/7.png", Phone: "(415) 555-0101", Location: "Oakland"}
	b.users[9] = &backendUser{ID: 9, Name: "Budi Farmer", Email: "budi@example.com", Role: "farmer"}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", b.login)
	mux.HandleFunc("POST /auth/register", b.register)
	mux.HandleFunc("POST /auth/logout", b.authed(b.logout))
	mux.HandleFunc("GET /auth/me", b.authed(b.me))
	mux.HandleFunc("POST /auth/refresh", b.swap)
	mux.HandleFunc("GET /users/{id}", b.authed(b.getUser))
	mux.HandleFunc("PUT /users/{id}", b.authed(b.updateUser))

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) URL() string {
	return b.server.URL
}

// issue creates a credential pair for id.
func (b *fakeBackend) issue(id int64) (string, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issueLocked(id)
}

func (b *fakeBackend) issueLocked(id int64) (string, string) {
	b.seq++
	access := fmt.Sprintf("access-%d", b.seq)
	refresh := fmt.Sprintf("refresh-%d", b.seq)
	b.access[access] = id
	b.refresh[refresh] = id
	return access, refresh
}

func (b *fakeBackend) setRejectSwap(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectSwap = v
}

func (b *fakeBackend) setRejectAll(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectAll = v
}

func (b *fakeBackend) setRefreshDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshDelay = d
}

// expire revokes an access credential, as if it timed out.
func (b *fakeBackend) expire(access string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.access, access)
}

func (b *fakeBackend) requestIDs(path string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests[path]...)
}

func (b *fakeBackend) receivedBodies() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.bodies...)
}

func (b *fakeBackend) authed(next func(w http.ResponseWriter, r *http.Request, userID int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests[r.URL.Path] = append(b.requests[r.URL.Path], r.Header.Get("X-Request-ID"))
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		id, ok := b.access[token]
		reject := b.rejectAll
		b.mu.Unlock()

		if !ok || reject {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthenticated."})
			return
		}
		next(w, r, id)
	}
}

func (b *fakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)

	b.mu.Lock()
	var user *backendUser
	for _, u := range b.users {
		if u.Email == in.Email && in.Password == testPassword {
			user = u
		}
	}
	if user == nil {
		b.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "error", "message": "Invalid credentials"})
		return
	}
	access, refresh := b.issueLocked(user.ID)
	copied := *user
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "success",
		"message":       "Login successful",
		"user":          copied,
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
}

func (b *fakeBackend) register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name                 string `json:"name"`
		Email                string `json:"email"`
		Password             string `json:"password"`
		PasswordConfirmation string `json:"password_confirmation"`
		Role                 string `json:"role"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)

	if in.Password != in.PasswordConfirmation {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "The given data was invalid.",
			"errors":  map[string][]string{"password": {"The password confirmation does not match."}},
		})
		return
	}

	b.mu.Lock()
	for _, u := range b.users {
		if u.Email == in.Email {
			b.mu.Unlock()
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"message": "The email has already been taken.",
				"errors":  map[string][]string{"email": {"The email has already been taken."}},
			})
			return
		}
	}
	id := int64(100 + len(b.users))
	user := &backendUser{ID: id, Name: in.Name, Email: in.Email, Role: in.Role}
	b.users[id] = user
	access, refresh := b.issueLocked(id)
	copied := *user
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":        "success",
		"user":          map[string]any{"id": strconv.FormatInt(copied.ID, 10), "name": copied.Name, "email": copied.Email, "role": copied.Role},
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (b *fakeBackend) logout(w http.ResponseWriter, r *http.Request, _ int64) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.expire(token)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "Logged out"})
}

func (b *fakeBackend) me(w http.ResponseWriter, _ *http.Request, userID int64) {
	b.mu.Lock()
	copied := *b.users[userID]
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "user": copied})
}

func (b *fakeBackend) swap(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)
	b.mu.Lock()
	delay := b.refreshDelay
	b.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)

	b.mu.Lock()
	id, ok := b.refresh[in.RefreshToken]
	if !ok || b.rejectSwap {
		b.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Refresh token is invalid."})
		return
	}
	delete(b.refresh, in.RefreshToken)
	access, refresh := b.issueLocked(id)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
}

func (b *fakeBackend) getUser(w http.ResponseWriter, r *http.Request, _ int64) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	b.mu.Lock()
	user, ok := b.users[id]
	var copied backendUser
	if ok {
		copied = *user
	}
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "User not found."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "user": copied})
}

func (b *fakeBackend) updateUser(w http.ResponseWriter, r *http.Request, userID int64) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if id != userID {
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "Forbidden."})
		return
	}

	raw, _ := io.ReadAll(r.Body)
	var in map[string]string
	_ = json.Unmarshal(raw, &in)

	b.mu.Lock()
	b.bodies = append(b.bodies, string(raw))
	user := b.users[id]
	if v, ok := in["name"]; ok {
		user.Name = v
	}
	if v, ok := in["avatar"]; ok {
		user.Avatar = v
	}
	if v, ok := in["phone"]; ok {
		user.Phone = v
	}
	if v, ok := in["location"]; ok {
		user.Location = v
	}
	copied := *user
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "Profile updated", "user": copied})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
