package authclient

import (
	"time"
)

// Role is the marketplace role of a user
type Role string

const (
	// RoleBuyer purchases produce
	RoleBuyer Role = "buyer"
	// RoleFarmer lists and sells produce
	RoleFarmer Role = "farmer"
)

// Roles lists every accepted role.
var Roles = []Role{RoleBuyer, RoleFarmer}

// ParseRole returns the Role for s and whether it is known.
func ParseRole(s string) (Role, bool) {
	for _, r := range Roles {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

// Identity is the authenticated user record held by the SessionManager.
// Values handed out by the manager are copies.
type Identity struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Avatar    string    `json:"avatar,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of the identity, nil safe.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// IsBuyer reports whether the identity has the buyer role.
func (i *Identity) IsBuyer() bool {
	return i != nil && i.Role == RoleBuyer
}

// IsFarmer reports whether the identity has the farmer role.
func (i *Identity) IsFarmer() bool {
	return i != nil && i.Role == RoleFarmer
}

// IdentityPatch holds a partial identity update. Nil fields are left as is.
type IdentityPatch struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Location *string `json:"location,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p IdentityPatch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Avatar == nil && p.Phone == nil && p.Location == nil
}

// Apply merges the patch into a copy of identity.
func (p IdentityPatch) Apply(identity *Identity) *Identity {
	out := identity.Clone()
	if out == nil {
		return nil
	}
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Email != nil {
		out.Email = *p.Email
	}
	if p.Avatar != nil {
		out.Avatar = *p.Avatar
	}
	if p.Phone != nil {
		out.Phone = *p.Phone
	}
	if p.Location != nil {
		out.Location = *p.Location
	}
	return out
}

// CredentialPair is the access/refresh credential pair issued by the server.
type CredentialPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`

	issuedAt time.Time
}

// ExpiresAt returns when the access credential stops being valid. It uses
// expires_in when the server sent it and the JWT exp claim otherwise.
func (c CredentialPair) ExpiresAt() (time.Time, bool) {
	if c.ExpiresIn > 0 && !c.issuedAt.IsZero() {
		return c.issuedAt.Add(time.Duration(c.ExpiresIn) * time.Second), true
	}
	return AccessTokenExpiry(c.AccessToken)
}

// Profile is the enriched record held by the ProfileCache.
type Profile struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Avatar   string `json:"avatar,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`
}

// Clone returns a copy of the profile, nil safe.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// ProfilePatch holds a partial profile update. Nil fields are left as is.
type ProfilePatch struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Location *string `json:"location,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ProfilePatch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Avatar == nil && p.Phone == nil && p.Location == nil
}

// touchesSession reports whether the patch changes a field the profile cache
// writes back to the session.
func (p ProfilePatch) touchesSession() bool {
	return p.Name != nil || p.Avatar != nil || p.Phone != nil || p.Location != nil
}

// sessionPatch keeps only the fields the profile cache is authoritative for.
func (p ProfilePatch) sessionPatch() IdentityPatch {
	return IdentityPatch{
		Name:     p.Name,
		Avatar:   p.Avatar,
		Phone:    p.Phone,
		Location: p.Location,
	}
}

func (p ProfilePatch) apply(profile *Profile) *Profile {
	out := profile.Clone()
	if out == nil {
		return nil
	}
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Email != nil {
		out.Email = *p.Email
	}
	if p.Avatar != nil {
		out.Avatar = *p.Avatar
	}
	if p.Phone != nil {
		out.Phone = *p.Phone
	}
	if p.Location != nil {
		out.Location = *p.Location
	}
	return out
}

// String returns a pointer to s, handy when building patches.
func String(s string) *string {
	return &s
}
