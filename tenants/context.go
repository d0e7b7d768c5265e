package tenants

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	autherrors "github.com/mfigueiredo/go-auth-client/internal/errors"
	"github.com/mfigueiredo/go-auth-client/session"
)

// Service is the slice of the identity service the tenant context needs.
type Service interface {
	ListTenants(ctx context.Context) ([]Tenant, error)
	SwitchTenant(ctx context.Context, tenantID string) error
}

// Context tracks the active tenant and the set of tenants available to the
// current user, and keeps the session record's tenant id in sync. Switching
// tenants never forces a token refresh; it only changes the tenant header
// attached to subsequent requests.
type Context struct {
	service Service
	store   session.Store
	runtime *session.Runtime
	logger  zerolog.Logger

	lock   sync.RWMutex
	cache  []Tenant
	loaded bool
}

// NewContext creates a tenant context.
func NewContext(service Service, store session.Store, runtime *session.Runtime, logger zerolog.Logger) (*Context, error) {
	if service == nil {
		return nil, errors.New("[NewContext] service is required")
	}
	if store == nil {
		return nil, errors.New("[NewContext] store is required")
	}
	if runtime == nil {
		return nil, errors.New("[NewContext] runtime is required")
	}
	return &Context{
		service: service,
		store:   store,
		runtime: runtime,
		logger:  logger.With().Str("component", "tenants").Logger(),
	}, nil
}

// List returns the tenants visible to the current user, fetching them once
// and serving from cache until Invalidate or Reload.
func (c *Context) List(ctx context.Context) ([]Tenant, error) {
	c.lock.RLock()
	if c.loaded {
		cached := make([]Tenant, len(c.cache))
		copy(cached, c.cache)
		c.lock.RUnlock()
		return cached, nil
	}
	c.lock.RUnlock()
	return c.Reload(ctx)
}

// Reload refetches the tenant set from the identity service.
func (c *Context) Reload(ctx context.Context) ([]Tenant, error) {
	listed, err := c.service.ListTenants(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Context.Reload] ListTenants")
	}

	c.lock.Lock()
	c.cache = listed
	c.loaded = true
	c.lock.Unlock()

	result := make([]Tenant, len(listed))
	copy(result, listed)
	return result, nil
}

// Invalidate drops the cached tenant set. Called on sign-in and sign-out.
func (c *Context) Invalidate() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.cache = nil
	c.loaded = false
}

// Current returns the active tenant, or nil before first selection.
func (c *Context) Current() *Tenant {
	sess := c.runtime.Current()
	if sess == nil {
		return nil
	}
	tenantID := sess.Tenant()
	if tenantID == "" {
		return nil
	}

	c.lock.RLock()
	defer c.lock.RUnlock()
	for i := range c.cache {
		if c.cache[i].ID == tenantID {
			tenant := c.cache[i]
			return &tenant
		}
	}
	return nil
}

// Available reports whether tenantID belongs to the cached tenant set.
func (c *Context) Available(tenantID string) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	for i := range c.cache {
		if c.cache[i].ID == tenantID {
			return true
		}
	}
	return false
}

// Switch activates the given tenant: it must be in the user's tenant set, the
// session record is updated and persisted, and the server is notified on a
// best-effort basis (a failed notify is logged, the local switch stands).
// The session's tenant id is left untouched when the id is not available.
func (c *Context) Switch(ctx context.Context, tenantID string) (*Tenant, error) {
	if _, err := c.List(ctx); err != nil {
		return nil, errors.Wrap(err, "[Context.Switch] List")
	}

	c.lock.RLock()
	var target *Tenant
	for i := range c.cache {
		if c.cache[i].ID == tenantID {
			tenant := c.cache[i]
			target = &tenant
			break
		}
	}
	c.lock.RUnlock()

	if target == nil {
		return nil, errors.Wrapf(autherrors.ErrTenantNotAvailable, "[Context.Switch] %s", tenantID)
	}

	sess := c.runtime.Current()
	if sess == nil {
		return nil, errors.Wrap(autherrors.ErrNoSession, "[Context.Switch] no current session")
	}

	sess.SwitchTenant(target.ID)
	if err := c.store.Save(sess); err != nil {
		return nil, errors.Wrap(err, "[Context.Switch] store.Save")
	}

	if err := c.service.SwitchTenant(ctx, target.ID); err != nil {
		c.logger.Warn().Err(err).Str("tenant_id", target.ID).Msg("server tenant-switch notify failed")
	}

	c.logger.Info().Str("tenant_id", target.ID).Msg("tenant switched")
	return target, nil
}
