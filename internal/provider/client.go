// Package provider talks to the hosted identity provider's REST API
// (Identity Toolkit accounts:* endpoints plus the secure token endpoint).
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/branchd-dev/authflow/internal/config"
)

// Client represents an HTTP client for the identity provider
type Client struct {
	baseURL    string
	tokenURL   string
	apiKey     string
	httpClient *http.Client
}

// New creates a new provider client
func New(cfg config.ProviderConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		tokenURL: strings.TrimRight(cfg.TokenURL, "/"),
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// Tokens is the token set returned by sign-in, sign-up, update and refresh
type Tokens struct {
	LocalID      string
	Email        string
	DisplayName  string
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
}

// UserRecord is the provider's account record as returned by accounts:lookup
type UserRecord struct {
	LocalID       string `json:"localId"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	EmailVerified bool   `json:"emailVerified"`
	Disabled      bool   `json:"disabled"`
}

type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type tokenResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

func (r *tokenResponse) tokens() *Tokens {
	return &Tokens{
		LocalID:      r.LocalID,
		Email:        r.Email,
		DisplayName:  r.DisplayName,
		IDToken:      r.IDToken,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    parseExpiresIn(r.ExpiresIn),
	}
}

// SignInWithPassword authenticates an existing account
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Tokens, error) {
	var resp tokenResponse
	err := c.postJSON(ctx, "accounts:signInWithPassword", passwordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.tokens(), nil
}

// SignUp creates a new account; the provider signs it in immediately
func (c *Client) SignUp(ctx context.Context, email, password string) (*Tokens, error) {
	var resp tokenResponse
	err := c.postJSON(ctx, "accounts:signUp", passwordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.tokens(), nil
}

// Lookup fetches the account record for an ID token
func (c *Client) Lookup(ctx context.Context, idToken string) (*UserRecord, error) {
	var resp struct {
		Users []UserRecord `json:"users"`
	}
	if err := c.postJSON(ctx, "accounts:lookup", map[string]string{"idToken": idToken}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, &Error{Status: http.StatusBadRequest, Code: CodeUserNotFound}
	}
	return &resp.Users[0], nil
}

// UpdateProfile sets the display name. Token fields are empty when the
// provider did not rotate them.
func (c *Client) UpdateProfile(ctx context.Context, idToken, displayName string) (*Tokens, error) {
	var resp tokenResponse
	err := c.postJSON(ctx, "accounts:update", map[string]interface{}{
		"idToken":           idToken,
		"displayName":       displayName,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.tokens(), nil
}

// SendEmailVerification asks the provider to mail a verification link
func (c *Client) SendEmailVerification(ctx context.Context, idToken string) error {
	return c.postJSON(ctx, "accounts:sendOobCode", map[string]string{
		"requestType": "VERIFY_EMAIL",
		"idToken":     idToken,
	}, nil)
}

// SendPasswordReset asks the provider to mail a password reset link
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return c.postJSON(ctx, "accounts:sendOobCode", map[string]string{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

// Refresh exchanges a refresh token for a new ID token
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(
		ctx,
		"POST",
		fmt.Sprintf("%s/v1/token?key=%s", c.tokenURL, url.QueryEscape(c.apiKey)),
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
		UserID       string `json:"user_id"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	return &Tokens{
		LocalID:      resp.UserID,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    parseExpiresIn(resp.ExpiresIn),
	}, nil
}

func (c *Client) postJSON(ctx context.Context, method string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		"POST",
		fmt.Sprintf("%s/v1/%s?key=%s", c.baseURL, method, url.QueryEscape(c.apiKey)),
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return parseError(resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseExpiresIn reads the provider's seconds-as-string lifetime
func parseExpiresIn(value string) time.Duration {
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
