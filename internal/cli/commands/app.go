package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/branchd-dev/authflow/internal/config"
	"github.com/branchd-dev/authflow/internal/controller"
	"github.com/branchd-dev/authflow/internal/logger"
	"github.com/branchd-dev/authflow/internal/provider"
	"github.com/branchd-dev/authflow/internal/router"
	"github.com/branchd-dev/authflow/internal/session"
	"github.com/branchd-dev/authflow/internal/store"
)

// App wires the session client, the request controller and the navigator
// for a single CLI invocation
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Session    *session.Client
	Controller *controller.Controller
	Guard      *router.Guard
	Navigator  *router.Navigator

	store      store.CredentialStore
	restoreErr error
}

// openApp loads configuration, opens the credential store and restores the
// persisted session
func openApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Console output on stderr keeps stdout for command results
	zlog := logger.New(os.Stderr, cfg.Logging.Level, "console")

	credStore, err := store.Open(cfg.Session, zlog)
	if err != nil {
		return nil, err
	}

	table := router.DefaultTable()
	if cfg.Routes.File != "" {
		table, err = router.LoadTable(cfg.Routes.File)
		if err != nil {
			credStore.Close()
			return nil, err
		}
	}

	app := newApp(cfg, zlog, credStore, table)
	app.restore(ctx)
	return app, nil
}

func newApp(cfg *config.Config, zlog zerolog.Logger, credStore store.CredentialStore, table *router.Table) *App {
	sess := session.New(
		provider.New(cfg.Provider),
		credStore,
		zlog,
		session.WithRefreshWindow(cfg.Session.RefreshWindow),
	)
	guard := router.NewGuard(table)

	return &App{
		Config:     cfg,
		Logger:     zlog,
		Session:    sess,
		Controller: controller.New(sess, zlog),
		Guard:      guard,
		Navigator:  router.NewNavigator(guard, table.Splash, zlog),
		store:      credStore,
	}
}

// restore brings back the persisted session. A revoked or unreadable
// session leaves the app signed out so sign-in and sign-out still work.
func (a *App) restore(ctx context.Context) {
	_, err := a.Session.Restore(ctx)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrSessionRevoked):
		a.Logger.Warn().Err(err).Msg("Persisted session was revoked")
	default:
		a.restoreErr = err
		a.Logger.Warn().Err(err).Msg("Persisted session could not be restored, starting signed out")
	}
	a.Navigator.SetSignedIn(a.Session.CurrentUser() != nil)
}

// discardUnreadable deletes a persisted session that failed to restore
func (a *App) discardUnreadable(ctx context.Context) (bool, error) {
	if a.restoreErr == nil {
		return false, nil
	}
	if err := a.store.Delete(ctx); err != nil {
		return false, fmt.Errorf("failed to delete stored session: %w", err)
	}
	a.restoreErr = nil
	return true, nil
}

// Close releases the session and the credential store
func (a *App) Close() {
	a.Controller.Close()
	a.Session.Close()
	if err := a.store.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Error closing session store")
	}
}

// withApp opens the app for the duration of fn
func withApp(ctx context.Context, fn func(*App) error) error {
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}
