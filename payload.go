package authclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// flexID accepts ids sent either as JSON numbers or numeric strings.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}

	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*f = 0
			return nil
		}
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// 12.0 style floats still identify a user
		fl, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || !(fl >= math.MinInt64 && fl < -math.MinInt64) || fl != math.Trunc(fl) {
			return fmt.Errorf("id %q is not an integer", raw)
		}
		n = int64(fl)
	}
	*f = flexID(n)
	return nil
}

// userPayload is the user object as sent by the auth and users endpoints.
type userPayload struct {
	ID        flexID  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Role      string  `json:"role"`
	Avatar    *string `json:"avatar"`
	Phone     *string `json:"phone"`
	Location  *string `json:"location"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// Validate applies the acceptance rule for records coming from the server.
func (u userPayload) Validate() error {
	roles := make([]any, 0, len(Roles))
	for _, r := range Roles {
		roles = append(roles, string(r))
	}

	return validation.ValidateStruct(&u,
		validation.Field(&u.ID, validation.Required, validation.Min(flexID(1))),
		validation.Field(&u.Name, validation.Required),
		validation.Field(&u.Email, validation.Required),
		validation.Field(&u.Role, validation.Required, validation.In(roles...)),
	)
}

// validateStored is the lighter rule used for snapshots read back from the
// durable store.
func (u userPayload) validateStored() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.ID, validation.Required, validation.Min(flexID(1))),
		validation.Field(&u.Email, validation.Required),
		validation.Field(&u.Role, validation.Required),
	)
}

func (u userPayload) identity() *Identity {
	return &Identity{
		ID:        int64(u.ID),
		Name:      strings.TrimSpace(u.Name),
		Email:     strings.TrimSpace(u.Email),
		Role:      Role(u.Role),
		Avatar:    deref(u.Avatar),
		Phone:     deref(u.Phone),
		Location:  deref(u.Location),
		CreatedAt: parseTimestamp(u.CreatedAt),
		UpdatedAt: parseTimestamp(u.UpdatedAt),
	}
}

// envelope is the common response body shape.
type envelope struct {
	Status       any                 `json:"status"`
	Message      string              `json:"message"`
	User         json.RawMessage     `json:"user"`
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
	TokenType    string              `json:"token_type"`
	ExpiresIn    int64               `json:"expires_in"`
	Errors       map[string][]string `json:"errors"`
}

// parseUser decodes and validates a user object from the server.
func parseUser(raw json.RawMessage) (*Identity, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, newError(ErrInvalidServerResponse, nil, map[string]any{"reason": "missing user"})
	}

	var u userPayload
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, newError(ErrInvalidServerResponse, err, map[string]any{"reason": "malformed user"})
	}
	if err := u.Validate(); err != nil {
		return nil, newError(ErrInvalidServerResponse, err, map[string]any{"reason": "user failed validation"})
	}
	return u.identity(), nil
}

// decodeStoredIdentity reads an identity snapshot written by the session
// manager. Snapshots written by older builds may carry string ids.
func decodeStoredIdentity(raw string) (*Identity, error) {
	var u userPayload
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, err
	}
	if err := u.validateStored(); err != nil {
		return nil, err
	}
	return u.identity(), nil
}

func encodeIdentity(identity *Identity) (string, error) {
	b, err := json.Marshal(identity)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// LoginInput holds the login form values.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate rejects malformed input before any network call.
func (r LoginInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// RegisterInput holds the registration form values.
type RegisterInput struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
	Role                 Role   `json:"role"`
}

// Validate rejects malformed input before any network call.
func (r RegisterInput) Validate() error {
	roles := make([]any, 0, len(Roles))
	for _, role := range Roles {
		roles = append(roles, role)
	}

	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 255), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 255)),
		validation.Field(
			&r.PasswordConfirmation,
			validation.By(matches(r.Password)),
		),
		validation.Field(&r.Role, validation.Required, validation.In(roles...)),
	)
}

// matches allows an empty confirmation, which is filled in from the password.
func matches(expected string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s == "" || s == expected {
			return nil
		}
		return fmt.Errorf("does not match password")
	}
}

func validationError(err error) error {
	meta := map[string]any{}
	if errs, ok := err.(validation.Errors); ok {
		for field, ferr := range errs {
			meta[field] = ferr.Error()
		}
	}
	return newError(ErrValidationFailed, err, meta)
}
