package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mfigueiredo/go-auth-client/internal/utils"
)

// User is the snapshot of the authenticated principal carried by the session.
// Field tags match the identity service's wire shape.
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"user_name"`
	Email     string `json:"email"`
	Role      string `json:"user_type"`
	Enabled   bool   `json:"enabled"`
	CompanyID string `json:"company_id"`
}

// Session is the central entity of the client core: one server-issued login
// instance with its renewable token pair, the user snapshot and the active
// tenant. Exactly one Session is current at a time; it is created on sign-in,
// restored on load, mutated by refresh/user-update/tenant-switch and ended on
// sign-out or irrecoverable refresh failure.
//
// A current Session is shared between the caller's goroutines, the transport
// and the background refresh timer, so the mutable fields are guarded: mutate
// through the methods and read the token/tenant fields through Tokens and
// Tenant when the session may be current. ID and StartedAt never change after
// creation.
type Session struct {
	lock sync.RWMutex

	ID              string     `json:"session_id"`
	UserID          int64      `json:"user_id"`
	User            *User      `json:"user,omitempty"`
	TenantID        string     `json:"tenant_id,omitempty"`
	AccessToken     string     `json:"access_token"`
	RefreshToken    string     `json:"refresh_token"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the session may still authorize requests. A session
// with EndedAt set is terminal.
func (s *Session) Active() bool {
	if s == nil {
		return false
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.EndedAt == nil && s.AccessToken != "" && s.RefreshToken != ""
}

// Tokens returns the current token pair.
func (s *Session) Tokens() (accessToken, refreshToken string) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.AccessToken, s.RefreshToken
}

// Tenant returns the active tenant id, empty when none is selected.
func (s *Session) Tenant() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.TenantID
}

// UpdateTokens replaces the token pair after a refresh. A rotated refresh
// token is applied atomically with the access token; an empty refreshToken
// keeps the current one (the refresh endpoint may or may not rotate).
func (s *Session) UpdateTokens(accessToken, refreshToken string, expiresAt *time.Time) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.AccessToken = accessToken
	if refreshToken != "" {
		s.RefreshToken = refreshToken
	}
	s.AccessExpiresAt = expiresAt
}

// UpdateUser replaces the user snapshot. The session's tenant follows the
// snapshot's company; SwitchTenant keeps the snapshot in sync the other way,
// so a profile refresh never reverts a tenant switch.
func (s *Session) UpdateUser(user *User) {
	if user == nil {
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.User = user
	s.UserID = user.ID
	if user.CompanyID != "" {
		s.TenantID = user.CompanyID
	}
}

// SwitchTenant changes the active tenant. The user snapshot's company id is
// kept in sync so a later UpdateUser round-trip does not revert the switch.
func (s *Session) SwitchTenant(tenantID string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.TenantID = tenantID
	if s.User != nil {
		s.User.CompanyID = tenantID
	}
}

// End stamps the session terminal. An ended session must never be saved back
// as current; callers clear the store instead.
func (s *Session) End(now time.Time) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.EndedAt = utils.Ptr(now)
}

// Encode serializes the session for persistence. Stores use it instead of
// marshalling the struct themselves so the snapshot is consistent even while a
// background refresh is writing.
func (s *Session) Encode() ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return json.Marshal(s)
}
