package expiry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Reason describes why a session-expired signal was raised.
type Reason string

const (
	ReasonRefreshFailed     Reason = "refresh_failed"
	ReasonTokenInvalid      Reason = "token_not_valid"
	ReasonServerInvalidated Reason = "server_invalidated"
)

// RedirectMarker is the query marker carried on the redirect to sign-in so
// the destination can surface the expiry once more on initial paint.
const RedirectMarker = "session=expired"

// SignInView is the navigational context in which expiry notifications are
// suppressed (no point telling the sign-in view to go sign in).
const SignInView = "signin"

// Sink receives the user-visible side effects of an expired session. The UI
// layer registers one; deep call sites only ever talk to the Notifier.
type Sink interface {
	SessionExpired(reason Reason)
	RedirectToSignIn(marker string)
}

const (
	defaultMinInterval = 5 * time.Second
	defaultCooldown    = 500 * time.Millisecond
)

// Notifier debounces and serializes "session expired" handling: N concurrent
// triggers clear the session once, emit one notification and request one
// redirect. Without it, N concurrent 401s produce N toasts and N redirects.
type Notifier struct {
	clearSession func()
	sink         Sink
	currentView  func() string
	minInterval  time.Duration
	cooldown     time.Duration
	nowTime      func() time.Time
	logger       zerolog.Logger

	lock         sync.Mutex
	handling     bool
	lastNotified time.Time
}

// NotifierOption defines a function type to modify the Notifier instance.
type NotifierOption func(*Notifier)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) NotifierOption {
	return func(n *Notifier) {
		n.nowTime = nowFunc
	}
}

// WithMinInterval sets the minimum interval between user-visible expiry
// notifications.
func WithMinInterval(interval time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.minInterval = interval
	}
}

// WithCooldown sets how long the handling lock is held after processing.
func WithCooldown(cooldown time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.cooldown = cooldown
	}
}

// WithSink registers the UI-layer sink.
func WithSink(sink Sink) NotifierOption {
	return func(n *Notifier) {
		n.sink = sink
	}
}

// WithCurrentView sets the navigational-context probe used to suppress
// self-notification on the sign-in view.
func WithCurrentView(view func() string) NotifierOption {
	return func(n *Notifier) {
		n.currentView = view
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) NotifierOption {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier creates a Notifier. clearSession is invoked synchronously while
// handling and must reset the session store and coordinator state.
func NewNotifier(clearSession func(), options ...NotifierOption) *Notifier {
	notifier := &Notifier{
		clearSession: clearSession,
		minInterval:  defaultMinInterval,
		cooldown:     defaultCooldown,
		nowTime:      time.Now,
		logger:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(notifier)
	}
	notifier.logger = notifier.logger.With().Str("component", "expiry-notifier").Logger()
	return notifier
}

// Trigger raises the session-expired signal. Idempotent within the debounce
// window: while a trigger is being handled, or within the minimum interval of
// the last one, it is a no-op.
func (n *Notifier) Trigger(reason Reason) {
	now := n.nowTime()

	n.lock.Lock()
	if n.handling || now.Sub(n.lastNotified) < n.minInterval {
		n.lock.Unlock()
		return
	}
	n.handling = true
	n.lastNotified = now
	n.lock.Unlock()

	n.logger.Info().Str("reason", string(reason)).Msg("session expired")

	if n.clearSession != nil {
		n.clearSession()
	}

	onSignInView := n.currentView != nil && n.currentView() == SignInView
	if n.sink != nil && !onSignInView {
		n.sink.SessionExpired(reason)
		n.sink.RedirectToSignIn(RedirectMarker)
	}

	time.AfterFunc(n.cooldown, func() {
		n.lock.Lock()
		n.handling = false
		n.lock.Unlock()
	})
}
