package identity_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mfigueiredo/go-auth-client/identity"
	autherrors "github.com/mfigueiredo/go-auth-client/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *identity.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := identity.New(server.URL, server.Client(), zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestLoginSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var creds identity.Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		require.Equal(t, "jane", creds.Login)

		_, _ = io.WriteString(w, `{
			"access": "access-1",
			"refresh": "refresh-1",
			"session_id": "session-1",
			"expires_in": 900,
			"user": {"id": 42, "login": "jane", "user_name": "Jane Doe", "company_id": "tenant-1"}
		}`)
	})

	result, err := client.Login(context.Background(), identity.Credentials{Login: "jane", Password: "secret"})
	require.NoError(t, err)
	require.Equal(t, "access-1", result.AccessToken)
	require.Equal(t, "refresh-1", result.RefreshToken)
	require.Equal(t, "session-1", result.SessionID)
	require.Equal(t, int64(900), result.ExpiresIn)
	require.Equal(t, "Jane Doe", result.User.Name)
	require.Equal(t, "tenant-1", result.User.CompanyID)
}

func TestLoginRejectedCredentials(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail": "invalid credentials"}`)
	})

	_, err := client.Login(context.Background(), identity.Credentials{Login: "jane", Password: "wrong"})
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
}

func TestLoginDisabledAccount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"detail": "User account is disabled"}`)
	})

	_, err := client.Login(context.Background(), identity.Credentials{Login: "jane", Password: "secret"})
	require.ErrorIs(t, err, autherrors.ErrUserDisabled)
}

func TestLoginFieldValidationErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail": "validation failed", "errors": {"login": ["required"]}}`)
	})

	_, err := client.Login(context.Background(), identity.Credentials{})
	var validationErr *autherrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, []string{"required"}, validationErr.Fields["login"])
}

func TestLoginIncompleteResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"access": "access-1"}`)
	})

	_, err := client.Login(context.Background(), identity.Credentials{Login: "jane", Password: "secret"})
	require.ErrorIs(t, err, autherrors.ErrServer)
}

func TestRefreshSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/refresh", r.URL.Path)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "refresh-1", payload["refresh"])
		_, _ = io.WriteString(w, `{"access": "access-2", "refresh": "refresh-2"}`)
	})

	pair, err := client.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	require.Equal(t, "access-2", pair.AccessToken)
	require.Equal(t, "refresh-2", pair.RefreshToken)
}

func TestRefreshWithoutRotation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"access": "access-2"}`)
	})

	pair, err := client.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	require.Empty(t, pair.RefreshToken)
}

func TestRefreshRejectedToken(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"detail": "Token is invalid or expired", "code": "token_not_valid"}`)
		})

		_, err := client.Refresh(context.Background(), "refresh-1")
		require.ErrorIs(t, err, autherrors.ErrTokenInvalid)
	}
}

func TestValidateBareBoolean(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `true`)
	})

	result, err := client.Validate(context.Background())
	require.NoError(t, err)
	require.True(t, result.Valid)
}

func TestValidateObjectPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"is_valid": true, "user": {"id": 42, "user_name": "Jane Doe"}}`)
	})

	result, err := client.Validate(context.Background())
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, "Jane Doe", result.User.Name)
}

func TestValidateTokenNotValidCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"valid": true, "code": "token_not_valid", "detail": "Token is invalid or expired"}`)
	})

	// The machine code wins over any valid flag the payload also carries.
	result, err := client.Validate(context.Background())
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, "Token is invalid or expired", result.Reason)
}

func TestValidateUnauthorizedIsNotAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail": "Session expired"}`)
	})

	result, err := client.Validate(context.Background())
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, "Session expired", result.Reason)
}

func TestValidateServerFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Validate(context.Background())
	require.ErrorIs(t, err, autherrors.ErrServer)
}

func TestLogout(t *testing.T) {
	var hit bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hit = true
		require.Equal(t, "/auth/logout", r.URL.Path)
	})

	require.NoError(t, client.Logout(context.Background()))
	require.True(t, hit)
}

func TestListTenants(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tenants", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		_, _ = io.WriteString(w, `{
			"results": [
				{"company_id": "tenant-1", "name": "Acme Industrial", "enabled": true},
				{"company_id": "tenant-2", "name": "Acme Retail", "enabled": true}
			],
			"count": 2
		}`)
	})

	listed, err := client.ListTenants(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, "tenant-1", listed[0].ID)
	require.Equal(t, "Acme Retail", listed[1].Name)
}

func TestSwitchTenant(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tenants/switch", r.URL.Path)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "tenant-2", payload["tenant_id"])
	})

	require.NoError(t, client.SwitchTenant(context.Background(), "tenant-2"))
}

func TestNetworkFailure(t *testing.T) {
	client, err := identity.New("http://127.0.0.1:1", &http.Client{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Login(context.Background(), identity.Credentials{Login: "jane", Password: "secret"})
	require.ErrorIs(t, err, autherrors.ErrNetwork)
}
