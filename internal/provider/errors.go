package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes returned by the provider in error.message
const (
	CodeEmailNotFound       = "EMAIL_NOT_FOUND"
	CodeInvalidPassword     = "INVALID_PASSWORD"
	CodeInvalidCredentials  = "INVALID_LOGIN_CREDENTIALS"
	CodeInvalidEmail        = "INVALID_EMAIL"
	CodeEmailExists         = "EMAIL_EXISTS"
	CodeWeakPassword        = "WEAK_PASSWORD"
	CodeUserDisabled        = "USER_DISABLED"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeTooManyAttempts     = "TOO_MANY_ATTEMPTS_TRY_LATER"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeInvalidIDToken      = "INVALID_ID_TOKEN"
	CodeInvalidAPIKey       = "API_KEY_INVALID"
)

// ErrUnavailable wraps transport failures reaching the provider
var ErrUnavailable = errors.New("identity provider unreachable")

// Error is a rejection returned by the provider
type Error struct {
	Status  int    // HTTP status
	Code    string // e.g. EMAIL_NOT_FOUND
	Message string // optional detail after the code
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("identity provider: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("identity provider: %s", e.Code)
}

// Code returns the provider error code carried by err, or "" if none
func Code(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ""
}

// IsCredentialError reports whether err rejects the submitted email or password
func IsCredentialError(err error) bool {
	switch Code(err) {
	case CodeEmailNotFound, CodeInvalidPassword, CodeInvalidCredentials, CodeUserDisabled:
		return true
	}
	return false
}

// IsTokenRejected reports whether err rejects the ID token itself. A refresh
// decides whether the session behind it is still valid.
func IsTokenRejected(err error) bool {
	switch Code(err) {
	case CodeTokenExpired, CodeInvalidIDToken:
		return true
	}
	return false
}

// IsSessionRevoked reports whether err means the stored session can no longer be used
func IsSessionRevoked(err error) bool {
	switch Code(err) {
	case CodeTokenExpired, CodeInvalidRefreshToken, CodeInvalidIDToken, CodeUserDisabled, CodeUserNotFound:
		return true
	}
	return false
}

// parseError decodes {"error":{"code":400,"message":"WEAK_PASSWORD : Password should be at least 6 characters"}}
func parseError(status int, body []byte) error {
	var payload struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	perr := &Error{Status: status}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		perr.Code = strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
		perr.Message = strings.TrimSpace(string(body))
		return perr
	}

	code, detail, _ := strings.Cut(payload.Error.Message, ":")
	perr.Code = strings.TrimSpace(code)
	perr.Message = strings.TrimSpace(detail)
	return perr
}
