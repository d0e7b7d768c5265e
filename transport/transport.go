package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	retrylib "github.com/sethvargo/go-retry"

	"github.com/mfigueiredo/go-auth-client/expiry"
	autherrors "github.com/mfigueiredo/go-auth-client/internal/errors"
	"github.com/mfigueiredo/go-auth-client/session"
)

// SessionSource yields the current session for header decoration.
type SessionSource interface {
	Current() *session.Session
}

// Freshener is the slice of the token lifecycle manager the transport needs.
// The refresh is forced: a 401 means the server no longer accepts the token
// even when it still looks valid locally, so a validity fast path must not
// short-circuit it.
type Freshener interface {
	ForceRefresh(ctx context.Context, sess *session.Session) (*session.Session, error)
}

// ExpiryTrigger raises the session-expired signal.
type ExpiryTrigger interface {
	Trigger(reason expiry.Reason)
}

// AuthTransport decorates every outbound call with the session's credentials
// and tenant header and implements the one-retry-after-refresh policy: a 401
// on a non-auth endpoint triggers a single-flight token refresh and exactly
// one resend of the original request; a second 401 fails immediately. Auth
// endpoints themselves are exempt, so a failing refresh can never loop.
type AuthTransport struct {
	base     http.RoundTripper
	source   SessionSource
	tokens   Freshener
	notifier ExpiryTrigger
	retry    RetryPolicy
	logger   zerolog.Logger
}

var _ http.RoundTripper = (*AuthTransport)(nil)

// TransportOption defines a function type to modify the AuthTransport instance.
type TransportOption func(*AuthTransport)

// WithBase sets the underlying round tripper (defaults to http.DefaultTransport).
func WithBase(base http.RoundTripper) TransportOption {
	return func(t *AuthTransport) {
		t.base = base
	}
}

// WithExpiryTrigger wires the session-expired signal raised when the refresh
// behind the auth retry fails.
func WithExpiryTrigger(notifier ExpiryTrigger) TransportOption {
	return func(t *AuthTransport) {
		t.notifier = notifier
	}
}

// WithRetryPolicy overrides the transient-failure retry policy.
func WithRetryPolicy(policy RetryPolicy) TransportOption {
	return func(t *AuthTransport) {
		t.retry = policy
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) TransportOption {
	return func(t *AuthTransport) {
		t.logger = logger
	}
}

// New creates an AuthTransport.
func New(source SessionSource, tokens Freshener, options ...TransportOption) (*AuthTransport, error) {
	if source == nil {
		return nil, errors.New("[transport.New] source is required")
	}
	if tokens == nil {
		return nil, errors.New("[transport.New] tokens is required")
	}
	transport := &AuthTransport{
		base:   http.DefaultTransport,
		source: source,
		tokens: tokens,
		retry:  DefaultRetryPolicy(),
		logger: zerolog.Nop(),
	}
	for _, opt := range options {
		opt(transport)
	}
	transport.logger = transport.logger.With().Str("component", "transport").Logger()
	return transport, nil
}

// RoundTrip implements http.RoundTripper.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	sess := t.source.Current()

	resp, err := t.send(req, sess)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || isAuthPath(req.URL.Path) || sess == nil || !replayable(req) {
		return resp, nil
	}

	// One retry after a forced refresh. The refresh itself is single-flight
	// in the lifecycle manager, so a burst of concurrent 401s still yields
	// one refresh call.
	drainAndClose(resp.Body)
	fresh, err := t.tokens.ForceRefresh(req.Context(), sess)
	if err != nil {
		if t.notifier != nil {
			t.notifier.Trigger(expiry.ReasonRefreshFailed)
		}
		return nil, errors.Wrap(autherrors.ErrSessionExpired, "[AuthTransport.RoundTrip] refresh failed")
	}

	t.logger.Debug().Str("path", req.URL.Path).Msg("resending request with refreshed token")
	retryResp, err := t.send(req, fresh)
	if err != nil {
		return nil, err
	}
	if retryResp.StatusCode == http.StatusUnauthorized {
		// Never a third attempt: a 401 with a freshly refreshed token means
		// the session is gone server-side. That is an expiry the user must
		// hear about, so it routes through the notifier like a failed refresh.
		drainAndClose(retryResp.Body)
		if t.notifier != nil {
			t.notifier.Trigger(expiry.ReasonServerInvalidated)
		}
		return nil, errors.Wrap(autherrors.ErrSessionExpired, "[AuthTransport.RoundTrip] unauthorized after refresh")
	}
	return retryResp, nil
}

// send performs one decorated request with transient-failure retries. When
// the allow-listed retries are exhausted the last response is passed through
// for caller-level handling.
func (t *AuthTransport) send(req *http.Request, sess *session.Session) (*http.Response, error) {
	if !replayable(req) || t.retry.Attempts == 0 {
		attempt := req.Clone(req.Context())
		t.decorate(attempt, sess)
		return t.base.RoundTrip(attempt)
	}

	backoff := retrylib.WithMaxRetries(t.retry.Attempts,
		retrylib.WithCappedDuration(t.retry.MaxDelay,
			retrylib.WithJitter(t.retry.Jitter,
				retrylib.NewExponential(t.retry.BaseDelay))))

	var resp *http.Response
	err := retrylib.Do(req.Context(), backoff, func(ctx context.Context) error {
		attempt, err := t.cloneRequest(req, sess)
		if err != nil {
			return err
		}
		result, err := t.base.RoundTrip(attempt)
		if err != nil {
			return retrylib.RetryableError(err)
		}
		if resp != nil {
			drainAndClose(resp.Body)
		}
		resp = result
		if t.retry.retryable(result.StatusCode) {
			t.logger.Debug().Int("status", result.StatusCode).Str("path", req.URL.Path).Msg("transient failure, retrying")
			return retrylib.RetryableError(fmt.Errorf("retryable status %d", result.StatusCode))
		}
		return nil
	})
	if resp != nil {
		return resp, nil
	}
	return nil, err
}

func (t *AuthTransport) cloneRequest(req *http.Request, sess *session.Session) (*http.Request, error) {
	attempt := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Wrap(err, "[AuthTransport.cloneRequest] GetBody")
		}
		attempt.Body = body
	}
	t.decorate(attempt, sess)
	return attempt, nil
}

// decorate attaches credentials and context headers. The tenant header is
// omitted on auth endpoints; the identity service rejects it there.
func (t *AuthTransport) decorate(req *http.Request, sess *session.Session) {
	req.Header.Set("X-Request-ID", uuid.New().String())
	if sess == nil {
		return
	}
	if access, _ := sess.Tokens(); access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	if sess.ID != "" {
		req.Header.Set("X-Session-ID", sess.ID)
	}
	if tenant := sess.Tenant(); tenant != "" && !isAuthPath(req.URL.Path) {
		req.Header.Set("X-Tenant-ID", tenant)
	}
}

func isAuthPath(path string) bool {
	return strings.Contains(path, "/auth/")
}

// replayable reports whether the request body can be re-sent. A consumed
// one-shot body must be neither retried nor resent after a refresh.
func replayable(req *http.Request) bool {
	return req.Body == nil || req.GetBody != nil
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
