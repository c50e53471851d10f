package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/branchd-dev/authflow/internal/session"
)

const refreshTimeout = 30 * time.Second

// Refresher is implemented by the session client
type Refresher interface {
	Refresh(ctx context.Context, force bool) error
}

// StartRefreshScheduler runs a token refresh check on schedule until ctx is
// done. The returned cron is already started.
func StartRefreshScheduler(ctx context.Context, schedule string, refresher Refresher, logger zerolog.Logger) (*cron.Cron, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}

	c := cron.New(cron.WithParser(parser))
	c.Schedule(sched, cron.FuncJob(func() {
		checkAndRefresh(ctx, refresher, logger)
	}))
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		logger.Debug().Msg("Refresh scheduler stopped")
	}()

	logger.Info().Str("schedule", schedule).Msg("Refresh scheduler started")
	return c, nil
}

func checkAndRefresh(ctx context.Context, refresher Refresher, logger zerolog.Logger) {
	if ctx.Err() != nil {
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	err := refresher.Refresh(runCtx, false)
	switch {
	case err == nil:
		logger.Debug().Msg("Refresh check complete")
	case errors.Is(err, session.ErrNotSignedIn):
		logger.Debug().Msg("Not signed in - skipping refresh")
	case errors.Is(err, session.ErrSessionRevoked):
		logger.Warn().Err(err).Msg("Session revoked during scheduled refresh")
	default:
		logger.Error().Err(err).Msg("Scheduled refresh failed")
	}
}
