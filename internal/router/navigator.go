package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/branchd-dev/authflow/internal/models"
	"github.com/branchd-dev/authflow/internal/notify"
)

// maxRedirects bounds a redirect chain for a single navigation
const maxRedirects = 5

var ErrRedirectLoop = errors.New("too many redirects")

// Navigator holds the active location and re-applies the guard whenever the
// sign-in status changes
type Navigator struct {
	guard  *Guard
	logger zerolog.Logger

	mu       sync.Mutex
	location string
	signedIn bool
	feed     *notify.Feed[string]
}

// NewNavigator starts signed out at initial, after applying the guard
func NewNavigator(guard *Guard, initial string, zlog zerolog.Logger) *Navigator {
	n := &Navigator{
		guard:  guard,
		logger: zlog.With().Str("component", "navigator").Logger(),
	}
	location, err := n.Resolve(initial, false)
	if err != nil {
		location = guard.table.SignIn
	}
	n.location = location
	n.feed = notify.NewFeed(location)
	return n
}

// Location returns the active location
func (n *Navigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}

// SignedIn returns the sign-in status the navigator last saw
func (n *Navigator) SignedIn() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.signedIn
}

// Watch streams the active location, starting with the current one
func (n *Navigator) Watch(ctx context.Context) <-chan string {
	return n.feed.Subscribe(ctx)
}

// Resolve follows the guard's redirects from location
func (n *Navigator) Resolve(location string, signedIn bool) (string, error) {
	current := location
	for i := 0; i < maxRedirects; i++ {
		target, redirect := n.guard.Redirect(current, signedIn)
		if !redirect {
			return current, nil
		}
		current = target
	}
	return "", fmt.Errorf("%w from %s", ErrRedirectLoop, location)
}

// Go navigates to location through the guard and returns where it landed
func (n *Navigator) Go(location string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	resolved, err := n.Resolve(location, n.signedIn)
	if err != nil {
		return n.location, err
	}
	if resolved != location {
		n.logger.Debug().Str("requested", location).Str("location", resolved).Msg("Navigation redirected")
	}
	n.setLocked(resolved)
	return resolved, nil
}

// SetSignedIn records a sign-in status change and re-evaluates the active location
func (n *Navigator) SetSignedIn(signedIn bool) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.signedIn = signedIn
	resolved, err := n.Resolve(n.location, signedIn)
	if err != nil {
		n.logger.Error().Err(err).Str("location", n.location).Msg("Guard failed to settle")
		resolved = n.guard.landing(signedIn)
	}
	if resolved != n.location {
		n.logger.Info().Str("from", n.location).Str("to", resolved).Bool("signed_in", signedIn).Msg("Auth change redirected")
	}
	n.setLocked(resolved)
	return resolved
}

// Run re-evaluates the active location on every emission of changes until
// ctx is done or changes closes
func (n *Navigator) Run(ctx context.Context, changes <-chan *models.AppUser) {
	for {
		select {
		case <-ctx.Done():
			return
		case user, ok := <-changes:
			if !ok {
				return
			}
			n.SetSignedIn(user != nil)
		}
	}
}

// setLocked must be called with mu held
func (n *Navigator) setLocked(location string) {
	if location == n.location {
		return
	}
	n.location = location
	n.feed.Publish(location)
}
