package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	autherrors "github.com/mfigueiredo/go-auth-client/internal/errors"
	"github.com/mfigueiredo/go-auth-client/tenants"
	"github.com/mfigueiredo/go-auth-client/token"
)

const (
	loginPath        = "/auth/login"
	refreshPath      = "/auth/refresh"
	validatePath     = "/auth/validate"
	logoutPath       = "/auth/logout"
	tenantsPath      = "/tenants"
	tenantSwitchPath = "/tenants/switch"
)

// Client talks to the identity/tenant HTTP service. It owns response
// normalization and the mapping of HTTP failures onto the error taxonomy;
// credential headers and retries are the transport's concern.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

var _ token.Refresher = (*Client)(nil)
var _ tenants.Service = (*Client)(nil)

// New creates a Client. httpClient is expected to carry the auth transport
// and the request timeout.
func New(baseURL string, httpClient *http.Client, logger zerolog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[identity.New] baseURL is required")
	}
	if httpClient == nil {
		return nil, errors.New("[identity.New] httpClient is required")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger.With().Str("component", "identity").Logger(),
	}, nil
}

// Login authenticates the credentials. Rejected credentials surface as
// ErrInvalidCredentials, a disabled account as ErrUserDisabled, field-level
// complaints as *ValidationError.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	resp, err := c.post(ctx, loginPath, creds)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readErrorBody(resp)
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, errors.Wrap(autherrors.ErrInvalidCredentials, body.Detail)
		case resp.StatusCode == http.StatusForbidden:
			return nil, errors.Wrap(autherrors.ErrUserDisabled, body.Detail)
		case resp.StatusCode == http.StatusBadRequest && len(body.Errors) > 0:
			return nil, &autherrors.ValidationError{Detail: body.Detail, Fields: body.Errors}
		case resp.StatusCode == http.StatusBadRequest:
			return nil, errors.Wrap(autherrors.ErrInvalidCredentials, body.Detail)
		default:
			return nil, serverError(resp.StatusCode, body)
		}
	}

	var result LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "[Client.Login] decode")
	}
	if result.AccessToken == "" || result.User == nil {
		return nil, errors.Wrap(autherrors.ErrServer, "[Client.Login] incomplete auth response")
	}
	return &result, nil
}

// Refresh exchanges the refresh token for a new pair. A 400/401 means the
// refresh token was rejected and surfaces as ErrTokenInvalid, which the
// lifecycle manager treats as terminal (no retry).
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	resp, err := c.post(ctx, refreshPath, map[string]string{"refresh": refreshToken})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readErrorBody(resp)
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.Wrap(autherrors.ErrTokenInvalid, body.Detail)
		}
		return nil, serverError(resp.StatusCode, body)
	}

	var payload refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh] decode")
	}
	if payload.Access == "" {
		return nil, errors.Wrap(autherrors.ErrServer, "[Client.Refresh] no access token in response")
	}
	return &token.Pair{AccessToken: payload.Access, RefreshToken: payload.Refresh}, nil
}

// Validate asks the server whether the current session is still valid. An
// unauthorized or token_not_valid reply normalizes to Valid=false rather
// than an error; only transport and server failures are errors.
func (c *Client) Validate(ctx context.Context) (*ValidationResult, error) {
	resp, err := c.post(ctx, validatePath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		body := readErrorBody(resp)
		return &ValidationResult{Valid: false, Reason: body.Detail}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp.StatusCode, readErrorBody(resp))
	}

	var result ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "[Client.Validate] decode")
	}
	return &result, nil
}

// Logout invalidates the session server-side. Callers treat failures as
// non-blocking: local teardown always proceeds.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.post(ctx, logoutPath, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return serverError(resp.StatusCode, readErrorBody(resp))
	}
	return nil
}

// ListTenants returns the tenants visible to the current user.
func (c *Client) ListTenants(ctx context.Context) ([]tenants.Tenant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tenantsPath, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ListTenants] build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapDoError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp.StatusCode, readErrorBody(resp))
	}

	var payload tenantListResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "[Client.ListTenants] decode")
	}
	return payload.Results, nil
}

// SwitchTenant notifies the server about the tenant change.
func (c *Client) SwitchTenant(ctx context.Context, tenantID string) error {
	resp, err := c.post(ctx, tenantSwitchPath, map[string]string{"tenant_id": tenantID})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return serverError(resp.StatusCode, readErrorBody(resp))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrapf(err, "[Client.post] marshal %s", path)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "[Client.post] build request %s", path)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapDoError(err)
	}
	return resp, nil
}

// wrapDoError keeps transport-raised taxonomy errors (e.g. SessionExpired
// from the auth retry path) intact and classifies the rest as network
// failures.
func wrapDoError(err error) error {
	if autherrors.Is(err, autherrors.ErrSessionExpired) {
		return err
	}
	return errors.Wrap(autherrors.ErrNetwork, err.Error())
}

func readErrorBody(resp *http.Response) errorBody {
	var body errorBody
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return body
	}
	_ = json.Unmarshal(raw, &body)
	if body.Detail == "" {
		body.Detail = http.StatusText(resp.StatusCode)
	}
	return body
}

func serverError(status int, body errorBody) error {
	if status >= http.StatusInternalServerError {
		return errors.Wrapf(autherrors.ErrServer, "%d: %s", status, body.Detail)
	}
	return errors.Wrapf(autherrors.ErrServer, "unexpected status %d: %s", status, body.Detail)
}
