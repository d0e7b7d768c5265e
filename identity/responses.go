package identity

import (
	"encoding/json"

	"github.com/mfigueiredo/go-auth-client/session"
	"github.com/mfigueiredo/go-auth-client/tenants"
)

// Credentials are the sign-in inputs.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// LoginResult is the normalized response of POST /auth/login.
type LoginResult struct {
	AccessToken  string        `json:"access"`
	RefreshToken string        `json:"refresh"`
	SessionID    string        `json:"session_id"`
	ExpiresIn    int64         `json:"expires_in"`
	User         *session.User `json:"user"`
}

const tokenNotValidCode = "token_not_valid"

// ValidationResult is the normalized response of POST /auth/validate. The
// service is loose about the payload shape (a bare boolean, or an object with
// is_valid/user/detail, or a token_not_valid error body); normalization
// happens here so the core never branches on payload shape.
type ValidationResult struct {
	Valid  bool
	User   *session.User
	Reason string
}

func (v *ValidationResult) UnmarshalJSON(data []byte) error {
	var plain bool
	if err := json.Unmarshal(data, &plain); err == nil {
		v.Valid = plain
		return nil
	}

	var payload struct {
		IsValid *bool         `json:"is_valid"`
		Valid   *bool         `json:"valid"`
		User    *session.User `json:"user"`
		Detail  string        `json:"detail"`
		Code    string        `json:"code"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	switch {
	case payload.Code == tokenNotValidCode:
		v.Valid = false
	case payload.IsValid != nil:
		v.Valid = *payload.IsValid
	case payload.Valid != nil:
		v.Valid = *payload.Valid
	}
	v.User = payload.User
	v.Reason = payload.Detail
	return nil
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type tenantListResponse struct {
	Results []tenants.Tenant `json:"results"`
	Count   int              `json:"count"`
}

// errorBody is the service's error envelope: a human detail, an optional
// machine code and optional per-field messages.
type errorBody struct {
	Detail string              `json:"detail"`
	Code   string              `json:"code"`
	Errors map[string][]string `json:"errors"`
}
