package token

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	retrylib "github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	autherrors "github.com/mfigueiredo/go-auth-client/internal/errors"
	"github.com/mfigueiredo/go-auth-client/internal/utils"
	"github.com/mfigueiredo/go-auth-client/session"
)

// State is the lifecycle state of the current session's access token.
type State int32

const (
	StateUnknown State = iota
	StateValid
	StateExpiring
	StateRefreshing
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateExpiring:
		return "expiring"
	case StateRefreshing:
		return "refreshing"
	case StateInvalid:
		return "invalid"
	}
	return "unknown"
}

// Pair is the result of a refresh call. RefreshToken is empty when the server
// did not rotate it.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Refresher exchanges a refresh token for a new token pair. A rejected
// refresh token must surface as autherrors.ErrTokenInvalid; transport
// failures as anything else (they are retried).
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Pair, error)
}

// RetryPolicy bounds the transport-failure retries around a refresh attempt.
type RetryPolicy struct {
	Attempts  uint64
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

const (
	defaultRefreshBuffer = 5 * time.Minute
	defaultExpirySkew    = 30 * time.Second
	retryJitter          = 100 * time.Millisecond
)

// Manager owns the refresh protocol for the current session: local validity
// checks, the single-flight refresh and the proactive pre-expiry renewal
// timer. At most one refresh is in flight per session at any time; concurrent
// callers of EnsureFresh attach to the in-flight attempt instead of starting
// a second one. Refresh tokens are single-use on rotation, so a duplicate
// refresh would invalidate an otherwise healthy session.
type Manager struct {
	store     session.Store
	refresher Refresher
	buffer    time.Duration
	skew      time.Duration
	retry     RetryPolicy
	nowTime   func() time.Time
	logger    zerolog.Logger
	onInvalid func(reason string)

	group singleflight.Group

	lock           sync.Mutex
	state          State
	timer          *time.Timer
	timerGen       uint64
	timerSessionID string
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithRefreshBuffer sets how long before expiry the background renewal fires.
func WithRefreshBuffer(buffer time.Duration) ManagerOption {
	return func(m *Manager) {
		m.buffer = buffer
	}
}

// WithExpirySkew sets the window within which a token counts as expired.
func WithExpirySkew(skew time.Duration) ManagerOption {
	return func(m *Manager) {
		m.skew = skew
	}
}

// WithRetryPolicy overrides the transport-failure retry policy.
func WithRetryPolicy(policy RetryPolicy) ManagerOption {
	return func(m *Manager) {
		m.retry = policy
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithInvalidHandler registers a callback fired once the manager classifies
// the session Invalid (refresh token rejected or retries exhausted).
func WithInvalidHandler(handler func(reason string)) ManagerOption {
	return func(m *Manager) {
		m.onInvalid = handler
	}
}

// NewManager initializes a Manager with required dependencies.
func NewManager(store session.Store, refresher Refresher, options ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[NewManager] store is required")
	}
	if refresher == nil {
		return nil, errors.New("[NewManager] refresher is required")
	}

	manager := &Manager{
		store:     store,
		refresher: refresher,
		buffer:    defaultRefreshBuffer,
		skew:      defaultExpirySkew,
		retry:     RetryPolicy{Attempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		nowTime:   time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range options {
		opt(manager)
	}
	manager.logger = manager.logger.With().Str("component", "token-lifecycle").Logger()
	return manager, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.state
}

func (m *Manager) setState(state State) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.state = state
}

// Validate checks the session's access token locally, without any network
// call and without mutating the session. A decode failure means invalid, not
// an error.
func (m *Manager) Validate(sess *session.Session) (bool, *Claims) {
	if !sess.Active() {
		m.firstValidation(false)
		return false, nil
	}
	access, _ := sess.Tokens()
	claims, err := Decode(access)
	if err != nil {
		m.firstValidation(false)
		return false, nil
	}
	valid := !claims.Expired(m.nowTime(), m.skew)
	m.firstValidation(valid)
	return valid, claims
}

func (m *Manager) firstValidation(valid bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.state != StateUnknown {
		return
	}
	if valid {
		m.state = StateValid
	} else {
		m.state = StateInvalid
	}
}

// EnsureFresh is the entry point callers use before relying on the session's
// access token. If the token is still valid it returns the session untouched;
// otherwise it performs the single-flight refresh and returns the session with
// its updated token pair. An Invalid classification surfaces as
// autherrors.ErrSessionExpired.
func (m *Manager) EnsureFresh(ctx context.Context, sess *session.Session) (*session.Session, error) {
	if !sess.Active() {
		return nil, errors.Wrap(autherrors.ErrSessionExpired, "[Manager.EnsureFresh] no active session")
	}

	access, _ := sess.Tokens()
	if claims, err := Decode(access); err == nil && !claims.Expired(m.nowTime(), m.skew) {
		m.setState(StateValid)
		return sess, nil
	}
	return m.ForceRefresh(ctx, sess)
}

// ForceRefresh performs the single-flight refresh regardless of the token's
// local validity. The pre-expiry renewal timer and the transport's 401
// handling use it: both fire exactly when the local view still says valid but
// the token must be replaced anyway.
func (m *Manager) ForceRefresh(ctx context.Context, sess *session.Session) (*session.Session, error) {
	if !sess.Active() {
		return nil, errors.Wrap(autherrors.ErrSessionExpired, "[Manager.ForceRefresh] no active session")
	}
	m.setState(StateExpiring)

	result, err, _ := m.group.Do(sess.ID, func() (interface{}, error) {
		return m.refresh(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return result.(*session.Session), nil
}

// refresh runs inside the single-flight group: it is the only code path that
// mutates the session's tokens.
func (m *Manager) refresh(ctx context.Context, sess *session.Session) (*session.Session, error) {
	m.setState(StateRefreshing)

	backoff := retrylib.WithMaxRetries(m.retry.Attempts,
		retrylib.WithCappedDuration(m.retry.MaxDelay,
			retrylib.WithJitter(retryJitter,
				retrylib.NewExponential(m.retry.BaseDelay))))

	_, refreshToken := sess.Tokens()

	var pair *Pair
	err := retrylib.Do(ctx, backoff, func(ctx context.Context) error {
		result, err := m.refresher.Refresh(ctx, refreshToken)
		if err != nil {
			// A rejected refresh token is terminal; anything else is a
			// transport failure worth retrying.
			if autherrors.Is(err, autherrors.ErrTokenInvalid) {
				return err
			}
			return retrylib.RetryableError(err)
		}
		pair = result
		return nil
	})
	if err != nil {
		m.setState(StateInvalid)
		m.CancelScheduled()
		m.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("token refresh failed")
		if m.onInvalid != nil {
			m.onInvalid("refresh_failed")
		}
		return nil, errors.Wrap(autherrors.ErrSessionExpired, err.Error())
	}

	var expiresAt *time.Time
	if claims, decodeErr := Decode(pair.AccessToken); decodeErr == nil && !claims.ExpiresAt.IsZero() {
		expiresAt = utils.Ptr(claims.ExpiresAt)
	}
	sess.UpdateTokens(pair.AccessToken, pair.RefreshToken, expiresAt)

	if err := m.store.Save(sess); err != nil {
		return nil, errors.Wrap(err, "[Manager.refresh] store.Save")
	}

	m.setState(StateValid)
	m.ScheduleBackgroundRefresh(sess)
	m.logger.Debug().Str("session_id", sess.ID).Msg("token refreshed")
	return sess, nil
}

// ScheduleBackgroundRefresh arms the proactive renewal timer to fire at
// expiry minus the refresh buffer, immediately when already inside the
// buffer. Re-arming cancels any previous timer so a stale timer never fires
// against a replaced session. Tokens without an expiry claim get no timer.
func (m *Manager) ScheduleBackgroundRefresh(sess *session.Session) {
	if !sess.Active() {
		return
	}
	access, _ := sess.Tokens()
	claims, err := Decode(access)
	if err != nil || claims.ExpiresAt.IsZero() {
		return
	}

	delay := claims.ExpiresAt.Sub(m.nowTime()) - m.buffer
	if delay < 0 {
		delay = 0
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerGen++
	generation := m.timerGen
	m.timerSessionID = sess.ID
	m.timer = time.AfterFunc(delay, func() {
		m.fireScheduled(generation, sess)
	})
	m.logger.Debug().Str("session_id", sess.ID).Dur("delay", delay).Msg("background refresh armed")
}

func (m *Manager) fireScheduled(generation uint64, sess *session.Session) {
	m.lock.Lock()
	stale := generation != m.timerGen || m.timerSessionID != sess.ID
	m.lock.Unlock()
	if stale {
		return
	}
	// The timer fires at expiry minus the buffer, when the token still looks
	// valid locally; the renewal must not fall through the validity fast path.
	if _, err := m.ForceRefresh(context.Background(), sess); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("background refresh failed")
	}
}

// CancelScheduled disarms the renewal timer. Mandatory on sign-out and
// session replacement.
func (m *Manager) CancelScheduled() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
	m.timerSessionID = ""
}

// Scheduled reports whether a renewal timer is currently armed.
func (m *Manager) Scheduled() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.timer != nil
}
