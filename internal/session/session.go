// Package session is the facade over the hosted identity provider. It owns
// the single signed-in account, persists it, and streams sign-in status
// changes to the rest of the application.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/branchd-dev/authflow/internal/models"
	"github.com/branchd-dev/authflow/internal/notify"
	"github.com/branchd-dev/authflow/internal/provider"
	"github.com/branchd-dev/authflow/internal/store"
)

var (
	ErrNotSignedIn    = errors.New("not signed in")
	ErrSessionRevoked = errors.New("session revoked by identity provider")
	ErrClosed         = errors.New("session client closed")
)

const DefaultRefreshWindow = 5 * time.Minute

// Provider is the subset of the identity provider API the session uses
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*provider.Tokens, error)
	SignUp(ctx context.Context, email, password string) (*provider.Tokens, error)
	Lookup(ctx context.Context, idToken string) (*provider.UserRecord, error)
	UpdateProfile(ctx context.Context, idToken, displayName string) (*provider.Tokens, error)
	SendEmailVerification(ctx context.Context, idToken string) error
	SendPasswordReset(ctx context.Context, email string) error
	Refresh(ctx context.Context, refreshToken string) (*provider.Tokens, error)
}

// Store persists the session. Load returns store.ErrNotFound when empty.
type Store interface {
	Load(ctx context.Context) (*models.Credential, error)
	Save(ctx context.Context, cred *models.Credential) error
	Delete(ctx context.Context) error
}

// Option configures a Client
type Option func(*Client)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRefreshWindow sets how long before expiry a token is refreshed.
// Zero keeps DefaultRefreshWindow.
func WithRefreshWindow(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.refreshWindow = d
		}
	}
}

// Client is the session client
type Client struct {
	provider      Provider
	store         Store
	logger        zerolog.Logger
	now           func() time.Time
	refreshWindow time.Duration

	// opMu serializes operations that change the session
	opMu sync.Mutex

	mu           sync.RWMutex
	user         *models.AppUser
	idToken      string
	refreshToken string
	expiresAt    time.Time
	closed       bool

	feed *notify.Feed[*models.AppUser]
}

// New creates a signed-out session client
func New(p Provider, s Store, zlog zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		provider:      p,
		store:         s,
		logger:        zlog.With().Str("component", "session").Logger(),
		now:           time.Now,
		refreshWindow: DefaultRefreshWindow,
		feed:          notify.NewFeed[*models.AppUser](nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentUser returns the signed-in user, or nil
func (c *Client) CurrentUser() *models.AppUser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user.Clone()
}

// IDToken returns the current ID token and its expiry
func (c *Client) IDToken() (string, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idToken, c.expiresAt
}

// Changes streams the signed-in user: the current value first, then one
// value per change. nil means signed out.
func (c *Client) Changes(ctx context.Context) <-chan *models.AppUser {
	return c.feed.Subscribe(ctx)
}

// SignIn authenticates with email and password
func (c *Client) SignIn(ctx context.Context, email, password string) (*models.AppUser, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	tokens, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign in failed: %w", err)
	}

	user := c.lookupOrFallback(ctx, tokens)
	if err := c.establish(ctx, user, tokens); err != nil {
		return nil, err
	}

	c.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("Signed in")
	return user.Clone(), nil
}

// SignUp creates an account and signs it in
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*models.AppUser, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	tokens, err := c.provider.SignUp(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign up failed: %w", err)
	}

	if displayName != "" {
		updated, err := c.provider.UpdateProfile(ctx, tokens.IDToken, displayName)
		if err != nil {
			// The account exists and is signed in; only the profile is missing
			c.logger.Warn().Err(err).Str("user_id", tokens.LocalID).Msg("Failed to set display name")
		} else {
			tokens.DisplayName = updated.DisplayName
			if updated.IDToken != "" {
				tokens.IDToken = updated.IDToken
				tokens.ExpiresIn = updated.ExpiresIn
			}
			if updated.RefreshToken != "" {
				tokens.RefreshToken = updated.RefreshToken
			}
		}
	}

	user := c.lookupOrFallback(ctx, tokens)
	if err := c.establish(ctx, user, tokens); err != nil {
		return nil, err
	}

	c.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("Account created")
	return user.Clone(), nil
}

// SignOut clears the session. Signing out while signed out does nothing.
func (c *Client) SignOut(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	c.mu.RLock()
	user := c.user
	c.mu.RUnlock()
	if user == nil {
		return nil
	}

	if err := c.clear(ctx); err != nil {
		return err
	}
	c.logger.Info().Str("user_id", user.ID).Msg("Signed out")
	return nil
}

// Restore loads the persisted session, refreshing it when expired. It
// returns nil without error when nothing is persisted.
func (c *Client) Restore(ctx context.Context) (*models.AppUser, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	cred, err := c.store.Load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Debug().Msg("No persisted session")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}

	c.mu.Lock()
	c.user = cred.User()
	c.idToken = cred.IDToken
	c.refreshToken = cred.RefreshToken
	c.expiresAt = cred.ExpiresAt
	c.mu.Unlock()

	fresh := true
	if c.expiring() {
		if err := c.refreshLocked(ctx); err != nil {
			if errors.Is(err, ErrSessionRevoked) {
				return nil, err
			}
			// Keep the persisted session; the scheduler retries the refresh
			c.logger.Warn().Err(err).Msg("Failed to refresh restored session")
			fresh = false
		}
	}

	if !fresh {
		c.logger.Debug().Msg("Skipping user reload with stale token")
	} else if _, err := c.reloadLocked(ctx, false); err != nil {
		if errors.Is(err, ErrSessionRevoked) {
			return nil, err
		}
		c.logger.Warn().Err(err).Msg("Failed to reload restored user, using persisted profile")
	}

	user := c.CurrentUser()
	c.feed.Publish(user.Clone())
	c.logger.Info().Str("user_id", user.ID).Msg("Session restored")
	return user, nil
}

// Refresh exchanges the refresh token when the ID token expires within the
// refresh window, or always when force is set.
func (c *Client) Refresh(ctx context.Context, force bool) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	c.mu.RLock()
	signedIn := c.user != nil
	c.mu.RUnlock()
	if !signedIn {
		return ErrNotSignedIn
	}
	if !force && !c.expiring() {
		return nil
	}
	return c.refreshLocked(ctx)
}

// Reload re-fetches the user record and emits when it changed
func (c *Client) Reload(ctx context.Context) (*models.AppUser, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.reloadLocked(ctx, true)
}

// SendEmailVerification mails a verification link to the signed-in user
func (c *Client) SendEmailVerification(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.CurrentUser() == nil {
		return ErrNotSignedIn
	}

	err := c.withFreshToken(ctx, func(idToken string) error {
		return c.provider.SendEmailVerification(ctx, idToken)
	})
	if err != nil {
		if errors.Is(err, ErrSessionRevoked) {
			return err
		}
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	return nil
}

// SendPasswordReset mails a password reset link
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	if err := c.provider.SendPasswordReset(ctx, email); err != nil {
		return fmt.Errorf("failed to send password reset: %w", err)
	}
	return nil
}

// Close ends every change stream. The persisted session is kept.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.feed.Close()
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Client) expiring() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.now().Add(c.refreshWindow).Before(c.expiresAt)
}

// refreshLocked must be called with opMu held
func (c *Client) refreshLocked(ctx context.Context) error {
	c.mu.RLock()
	refreshToken := c.refreshToken
	c.mu.RUnlock()

	tokens, err := c.provider.Refresh(ctx, refreshToken)
	if err != nil {
		if provider.IsSessionRevoked(err) {
			c.logger.Warn().Err(err).Msg("Refresh rejected, signing out")
			if clearErr := c.clear(ctx); clearErr != nil {
				c.logger.Error().Err(clearErr).Msg("Failed to clear revoked session")
			}
			return fmt.Errorf("%w: %v", ErrSessionRevoked, err)
		}
		return fmt.Errorf("token refresh failed: %w", err)
	}

	c.mu.RLock()
	user := c.user.Clone()
	c.mu.RUnlock()
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	if err := c.persist(ctx, user, tokens); err != nil {
		return err
	}

	_, expiresAt := c.IDToken()
	c.logger.Debug().Time("expires_at", expiresAt).Msg("ID token refreshed")
	return nil
}

// reloadLocked must be called with opMu held
func (c *Client) reloadLocked(ctx context.Context, emit bool) (*models.AppUser, error) {
	current := c.CurrentUser()
	if current == nil {
		return nil, ErrNotSignedIn
	}

	var rec *provider.UserRecord
	err := c.withFreshToken(ctx, func(idToken string) error {
		var err error
		rec, err = c.provider.Lookup(ctx, idToken)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrSessionRevoked) {
			return nil, err
		}
		// Rejected after a refresh succeeded: the account itself is gone
		if provider.IsSessionRevoked(err) {
			if clearErr := c.clear(ctx); clearErr != nil {
				c.logger.Error().Err(clearErr).Msg("Failed to clear revoked session")
			}
			return nil, fmt.Errorf("%w: %v", ErrSessionRevoked, err)
		}
		return nil, fmt.Errorf("failed to reload user: %w", err)
	}

	user := userFromRecord(rec)
	if user.Equal(current) {
		return user, nil
	}

	cred := c.credential(user)
	if err := c.store.Save(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()

	if emit {
		c.feed.Publish(user.Clone())
	}
	return user.Clone(), nil
}

// withFreshToken calls fn with the ID token, refreshing it first when it
// expires within the refresh window. A token the provider rejects before any
// refresh is refreshed once and fn is retried, so only the refresh outcome
// decides whether the session was revoked. Must be called with opMu held.
func (c *Client) withFreshToken(ctx context.Context, fn func(idToken string) error) error {
	refreshed := false
	if c.expiring() {
		if err := c.refreshLocked(ctx); err != nil {
			return err
		}
		refreshed = true
	}

	idToken, _ := c.IDToken()
	err := fn(idToken)
	if err == nil || refreshed || !provider.IsTokenRejected(err) {
		return err
	}

	c.logger.Debug().Err(err).Msg("ID token rejected, refreshing and retrying")
	if err := c.refreshLocked(ctx); err != nil {
		return err
	}
	idToken, _ = c.IDToken()
	return fn(idToken)
}

func (c *Client) lookupOrFallback(ctx context.Context, tokens *provider.Tokens) *models.AppUser {
	rec, err := c.provider.Lookup(ctx, tokens.IDToken)
	if err != nil {
		c.logger.Warn().Err(err).Str("user_id", tokens.LocalID).Msg("User lookup failed, using token response")
		return models.NewAppUser(tokens.LocalID, tokens.Email, tokens.DisplayName, false)
	}
	return userFromRecord(rec)
}

// establish persists a new session and then emits it
func (c *Client) establish(ctx context.Context, user *models.AppUser, tokens *provider.Tokens) error {
	if err := c.persist(ctx, user, tokens); err != nil {
		return err
	}
	c.feed.Publish(user.Clone())
	return nil
}

func (c *Client) persist(ctx context.Context, user *models.AppUser, tokens *provider.Tokens) error {
	expiresAt := c.tokenExpiry(tokens.IDToken, tokens.ExpiresIn)
	cred := &models.Credential{
		UserID:        user.ID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		EmailVerified: user.EmailVerified,
		IDToken:       tokens.IDToken,
		RefreshToken:  tokens.RefreshToken,
		ExpiresAt:     expiresAt,
	}
	if err := c.store.Save(ctx, cred); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	c.mu.Lock()
	c.user = user.Clone()
	c.idToken = tokens.IDToken
	c.refreshToken = tokens.RefreshToken
	c.expiresAt = expiresAt
	c.mu.Unlock()
	return nil
}

func (c *Client) credential(user *models.AppUser) *models.Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &models.Credential{
		UserID:        user.ID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		EmailVerified: user.EmailVerified,
		IDToken:       c.idToken,
		RefreshToken:  c.refreshToken,
		ExpiresAt:     c.expiresAt,
	}
}

// clear deletes the persisted session, then emits signed out
func (c *Client) clear(ctx context.Context) error {
	if err := c.store.Delete(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	c.mu.Lock()
	c.user = nil
	c.idToken = ""
	c.refreshToken = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
	c.feed.Publish(nil)
	return nil
}

// tokenExpiry reads exp from the ID token without verifying it; the
// provider verifies tokens, the client only schedules refreshes.
func (c *Client) tokenExpiry(idToken string, fallback time.Duration) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	if fallback <= 0 {
		fallback = time.Hour
	}
	return c.now().Add(fallback)
}

func userFromRecord(rec *provider.UserRecord) *models.AppUser {
	return models.NewAppUser(rec.LocalID, rec.Email, rec.DisplayName, rec.EmailVerified)
}
