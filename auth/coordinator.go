package auth

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mfigueiredo/go-auth-client/expiry"
	"github.com/mfigueiredo/go-auth-client/identity"
	autherrors "github.com/mfigueiredo/go-auth-client/internal/errors"
	"github.com/mfigueiredo/go-auth-client/internal/utils"
	"github.com/mfigueiredo/go-auth-client/session"
	"github.com/mfigueiredo/go-auth-client/tenants"
	"github.com/mfigueiredo/go-auth-client/token"
)

// State is the coordinator's lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	}
	return "uninitialized"
}

// IdentityService is the slice of the identity client the coordinator needs.
type IdentityService interface {
	Login(ctx context.Context, creds identity.Credentials) (*identity.LoginResult, error)
	Validate(ctx context.Context) (*identity.ValidationResult, error)
	Logout(ctx context.Context) error
}

// Deps holds all dependencies of the Coordinator.
type Deps struct {
	Store    session.Store    // Durable single-slot session persistence
	Runtime  *session.Runtime // Current-session holder shared with the transport
	Identity IdentityService  // Identity service client
	Tokens   *token.Manager   // Token lifecycle manager
	Tenants  *tenants.Context // Tenant context
	Notifier *expiry.Notifier // Session-expired debouncer
}

// Coordinator is the façade the rest of the application talks to: sign-in,
// sign-out, initialize-on-load, current user and tenant switch. It composes
// the session store, the token lifecycle manager, the tenant context and the
// expiry notifier.
type Coordinator struct {
	deps      Deps
	nowTime   func() time.Time
	logger    zerolog.Logger
	signedOut func()

	lock  sync.Mutex
	state State
}

// CoordinatorOption defines a function type to modify the Coordinator instance.
type CoordinatorOption func(*Coordinator)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.nowTime = nowFunc
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithSignOutHandler registers the user-visible sign-out notice, suppressed
// by SignOut(silent).
func WithSignOutHandler(handler func()) CoordinatorOption {
	return func(c *Coordinator) {
		c.signedOut = handler
	}
}

// NewCoordinator initializes a Coordinator with required dependencies.
func NewCoordinator(deps Deps, options ...CoordinatorOption) (*Coordinator, error) {
	if deps.Store == nil {
		return nil, errors.New("[NewCoordinator] Store is required")
	}
	if deps.Runtime == nil {
		return nil, errors.New("[NewCoordinator] Runtime is required")
	}
	if deps.Identity == nil {
		return nil, errors.New("[NewCoordinator] Identity is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("[NewCoordinator] Tokens is required")
	}
	if deps.Tenants == nil {
		return nil, errors.New("[NewCoordinator] Tenants is required")
	}

	coordinator := &Coordinator{
		deps:    deps,
		nowTime: time.Now,
		logger:  zerolog.Nop(),
		state:   StateUninitialized,
	}
	for _, opt := range options {
		opt(coordinator)
	}
	coordinator.logger = coordinator.logger.With().Str("component", "coordinator").Logger()
	return coordinator, nil
}

// State returns the coordinator state.
func (c *Coordinator) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

func (c *Coordinator) setState(state State) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.state = state
}

// Initialize restores the persisted session, validates it locally and against
// the server, hydrates the tenant context and arms the background refresh.
// It is idempotent: a second call while initializing or initialized is a
// no-op, so repeated app-load hooks cannot cause duplicate validation calls.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.lock.Lock()
	if c.state != StateUninitialized {
		c.lock.Unlock()
		return nil
	}
	c.state = StateInitializing
	c.lock.Unlock()

	sess, err := c.deps.Store.Load()
	if err != nil {
		c.setState(StateUnauthenticated)
		return errors.Wrap(err, "[Coordinator.Initialize] store.Load")
	}
	if !sess.Active() {
		c.setState(StateUnauthenticated)
		return nil
	}

	// Local validity first; refresh an expired token before asking the
	// server, so a restored-but-stale session does not bounce through a 401.
	if valid, _ := c.deps.Tokens.Validate(sess); !valid {
		refreshed, err := c.deps.Tokens.EnsureFresh(ctx, sess)
		if err != nil {
			c.logger.Info().Err(err).Msg("stored session could not be refreshed")
			c.expireLocalLocked()
			return nil
		}
		sess = refreshed
	}

	c.deps.Runtime.Set(sess)

	result, err := c.deps.Identity.Validate(ctx)
	if err != nil {
		if autherrors.Is(err, autherrors.ErrSessionExpired) {
			c.expireLocalLocked()
			return nil
		}
		c.deps.Runtime.Clear()
		c.setState(StateUnauthenticated)
		return errors.Wrap(err, "[Coordinator.Initialize] validate")
	}
	if !result.Valid {
		c.logger.Info().Str("reason", result.Reason).Msg("server invalidated stored session")
		c.expireLocalLocked()
		return nil
	}
	if result.User != nil {
		sess.UpdateUser(result.User)
		if err := c.deps.Store.Save(sess); err != nil {
			c.logger.Warn().Err(err).Msg("persisting refreshed user snapshot failed")
		}
	}

	c.hydrateTenants(ctx, sess)
	c.deps.Tokens.ScheduleBackgroundRefresh(sess)
	c.setState(StateAuthenticated)
	c.logger.Info().Str("session_id", sess.ID).Msg("session restored")
	return nil
}

// hydrateTenants loads the tenant set and re-validates the persisted tenant
// id against it: an id no longer available falls back to the user's home
// company when that one is listed, otherwise it is unset.
func (c *Coordinator) hydrateTenants(ctx context.Context, sess *session.Session) {
	if _, err := c.deps.Tenants.Reload(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("tenant hydration failed")
		return
	}
	tenantID := sess.Tenant()
	if tenantID == "" || c.deps.Tenants.Available(tenantID) {
		return
	}

	fallback := ""
	if sess.User != nil && c.deps.Tenants.Available(sess.User.CompanyID) {
		fallback = sess.User.CompanyID
	}
	c.logger.Warn().
		Str("tenant_id", tenantID).
		Str("fallback", fallback).
		Msg("persisted tenant no longer available")
	sess.SwitchTenant(fallback)
	if err := c.deps.Store.Save(sess); err != nil {
		c.logger.Warn().Err(err).Msg("persisting tenant fallback failed")
	}
}

// SignIn authenticates the credentials, builds and persists a fresh session,
// hydrates the tenant context and arms the background refresh. Credential
// and field-validation failures are surfaced to the caller untouched.
func (c *Coordinator) SignIn(ctx context.Context, creds identity.Credentials) (*session.Session, error) {
	result, err := c.deps.Identity.Login(ctx, creds)
	if err != nil {
		return nil, err
	}

	now := c.nowTime()
	sess := &session.Session{
		ID:        result.SessionID,
		StartedAt: now,
	}
	sess.UpdateUser(result.User)

	var expiresAt *time.Time
	if claims, decodeErr := token.Decode(result.AccessToken); decodeErr == nil && !claims.ExpiresAt.IsZero() {
		expiresAt = utils.Ptr(claims.ExpiresAt)
	} else if result.ExpiresIn > 0 {
		expiresAt = utils.Ptr(now.Add(time.Duration(result.ExpiresIn) * time.Second))
	}
	sess.UpdateTokens(result.AccessToken, result.RefreshToken, expiresAt)

	if err := c.deps.Store.Save(sess); err != nil {
		return nil, errors.Wrap(err, "[Coordinator.SignIn] store.Save")
	}

	// Replacing the session invalidates any timer armed for the old one.
	c.deps.Tokens.CancelScheduled()
	c.deps.Runtime.Set(sess)
	c.deps.Tenants.Invalidate()
	if _, err := c.deps.Tenants.Reload(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("tenant hydration after sign-in failed")
	}
	c.deps.Tokens.ScheduleBackgroundRefresh(sess)
	c.setState(StateAuthenticated)
	c.logger.Info().Str("session_id", sess.ID).Int64("user_id", sess.UserID).Msg("signed in")
	return sess, nil
}

// SignOut ends the session. The server-side logout is best effort: a failure
// is logged and never blocks local teardown, so user-perceived logout always
// succeeds. silent suppresses the sign-out notice.
func (c *Coordinator) SignOut(ctx context.Context, silent bool) error {
	c.deps.Tokens.CancelScheduled()

	if sess := c.deps.Runtime.Current(); sess.Active() {
		if err := c.deps.Identity.Logout(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("server-side logout failed")
		}
		sess.End(c.nowTime())
	}

	if err := c.deps.Store.Clear(); err != nil {
		c.logger.Warn().Err(err).Msg("clearing session store failed")
	}
	c.deps.Runtime.Clear()
	c.deps.Tenants.Invalidate()
	c.setState(StateUnauthenticated)
	c.logger.Info().Msg("signed out")

	if !silent && c.signedOut != nil {
		c.signedOut()
	}
	return nil
}

// ExpireLocal is the session-reset hook the expiry notifier invokes: local
// teardown only, no server call and no user-visible side effects (those are
// the notifier's).
func (c *Coordinator) ExpireLocal() {
	c.expireLocalLocked()
}

func (c *Coordinator) expireLocalLocked() {
	c.deps.Tokens.CancelScheduled()
	if sess := c.deps.Runtime.Current(); sess != nil {
		sess.End(c.nowTime())
	}
	if err := c.deps.Store.Clear(); err != nil {
		c.logger.Warn().Err(err).Msg("clearing session store failed")
	}
	c.deps.Runtime.Clear()
	c.deps.Tenants.Invalidate()
	c.setState(StateUnauthenticated)
}

// CurrentUser returns the authenticated principal's snapshot, or nil.
func (c *Coordinator) CurrentUser() *session.User {
	sess := c.deps.Runtime.Current()
	if sess == nil {
		return nil
	}
	return sess.User
}

// CurrentSession returns the current session, or nil.
func (c *Coordinator) CurrentSession() *session.Session {
	return c.deps.Runtime.Current()
}

// SwitchTenant activates another tenant for the current session.
func (c *Coordinator) SwitchTenant(ctx context.Context, tenantID string) (*tenants.Tenant, error) {
	return c.deps.Tenants.Switch(ctx, tenantID)
}

// RefreshUserInfo re-validates the session against the server and refreshes
// the user snapshot when the server returns one. A server-side invalidation
// raises the expiry signal.
func (c *Coordinator) RefreshUserInfo(ctx context.Context) (*session.User, error) {
	sess := c.deps.Runtime.Current()
	if !sess.Active() {
		return nil, errors.Wrap(autherrors.ErrNoSession, "[Coordinator.RefreshUserInfo] no current session")
	}

	result, err := c.deps.Identity.Validate(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Coordinator.RefreshUserInfo] validate")
	}
	if !result.Valid {
		if c.deps.Notifier != nil {
			c.deps.Notifier.Trigger(expiry.ReasonServerInvalidated)
		}
		return nil, errors.Wrap(autherrors.ErrSessionExpired, result.Reason)
	}
	if result.User != nil {
		sess.UpdateUser(result.User)
		if err := c.deps.Store.Save(sess); err != nil {
			c.logger.Warn().Err(err).Msg("persisting user snapshot failed")
		}
	}
	return sess.User, nil
}
