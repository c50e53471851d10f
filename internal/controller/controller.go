// Package controller tracks the in-flight authentication request so the
// interface layer can show progress and failures.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/branchd-dev/authflow/internal/models"
	"github.com/branchd-dev/authflow/internal/notify"
)

// ErrBusy is returned when a request is already loading
var ErrBusy = errors.New("another authentication request is in progress")

// Status is the request state
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Op names the request being tracked
type Op string

const (
	OpNone          Op = ""
	OpSignIn        Op = "sign_in"
	OpSignUp        Op = "sign_up"
	OpSignOut       Op = "sign_out"
	OpPasswordReset Op = "password_reset"
	OpVerifyEmail   Op = "verify_email"
)

// State is a snapshot of the controller
type State struct {
	Status  Status    `json:"status"`
	Op      Op        `json:"op,omitempty"`
	Message string    `json:"message,omitempty"`
	Err     error     `json:"-"`
	Updated time.Time `json:"updated_at"`
}

// Session is the subset of the session client the controller drives
type Session interface {
	SignIn(ctx context.Context, email, password string) (*models.AppUser, error)
	SignUp(ctx context.Context, email, password, displayName string) (*models.AppUser, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
	SendEmailVerification(ctx context.Context) error
}

// SignInInput is validated before a sign-in request starts
type SignInInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// SignUpInput is validated before a sign-up request starts
type SignUpInput struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6"`
	DisplayName string `json:"display_name" validate:"max=64"`
}

// PasswordResetInput is validated before a reset request starts
type PasswordResetInput struct {
	Email string `json:"email" validate:"required,email"`
}

// Controller is a single-flight request state machine
type Controller struct {
	session  Session
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	state State
	feed  *notify.Feed[State]
}

// New creates an idle controller
func New(session Session, zlog zerolog.Logger) *Controller {
	c := &Controller{
		session:  session,
		validate: validator.New(),
		logger:   zlog.With().Str("component", "controller").Logger(),
		now:      time.Now,
	}
	c.state = State{Status: StatusIdle, Updated: c.now()}
	c.feed = notify.NewFeed(c.state)
	return c
}

// State returns the current snapshot
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watch streams snapshots, starting with the current one
func (c *Controller) Watch(ctx context.Context) <-chan State {
	return c.feed.Subscribe(ctx)
}

// Close ends every Watch stream. Requests still update State.
func (c *Controller) Close() {
	c.feed.Close()
}

// Reset returns to idle unless a request is loading
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status == StatusLoading {
		return
	}
	c.setLocked(State{Status: StatusIdle})
}

// SignIn runs a sign-in request
func (c *Controller) SignIn(ctx context.Context, in SignInInput) error {
	return c.run(ctx, OpSignIn, &in, func(ctx context.Context) error {
		_, err := c.session.SignIn(ctx, in.Email, in.Password)
		return err
	})
}

// SignUp runs a sign-up request
func (c *Controller) SignUp(ctx context.Context, in SignUpInput) error {
	return c.run(ctx, OpSignUp, &in, func(ctx context.Context) error {
		_, err := c.session.SignUp(ctx, in.Email, in.Password, in.DisplayName)
		return err
	})
}

// SignOut runs a sign-out request
func (c *Controller) SignOut(ctx context.Context) error {
	return c.run(ctx, OpSignOut, nil, c.session.SignOut)
}

// ResetPassword asks the provider to mail a reset link
func (c *Controller) ResetPassword(ctx context.Context, in PasswordResetInput) error {
	return c.run(ctx, OpPasswordReset, &in, func(ctx context.Context) error {
		return c.session.SendPasswordReset(ctx, in.Email)
	})
}

// VerifyEmail asks the provider to mail a verification link
func (c *Controller) VerifyEmail(ctx context.Context) error {
	return c.run(ctx, OpVerifyEmail, nil, c.session.SendEmailVerification)
}

func (c *Controller) run(ctx context.Context, op Op, input interface{}, fn func(context.Context) error) error {
	c.mu.Lock()
	if c.state.Status == StatusLoading {
		c.mu.Unlock()
		return ErrBusy
	}

	if input != nil {
		if err := c.validate.Struct(input); err != nil {
			c.setLocked(State{Status: StatusError, Op: op, Err: err, Message: Message(err)})
			c.mu.Unlock()
			return err
		}
	}

	c.setLocked(State{Status: StatusLoading, Op: op})
	c.mu.Unlock()

	start := c.now()
	err := fn(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.logger.Warn().Err(err).Str("op", string(op)).Dur("duration", c.now().Sub(start)).Msg("Request failed")
		c.setLocked(State{Status: StatusError, Op: op, Err: err, Message: Message(err)})
		return err
	}

	c.logger.Debug().Str("op", string(op)).Dur("duration", c.now().Sub(start)).Msg("Request succeeded")
	c.setLocked(State{Status: StatusSuccess, Op: op})
	return nil
}

// setLocked must be called with mu held
func (c *Controller) setLocked(s State) {
	s.Updated = c.now()
	c.state = s
	c.feed.Publish(s)
}
