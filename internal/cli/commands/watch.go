package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/branchd-dev/authflow/internal/workers"
)

// NewWatchCmd creates the watch command
func NewWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the session fresh and print auth and location changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(app *App) error {
				if _, err := workers.StartRefreshScheduler(ctx, app.Config.Session.RefreshSchedule, app.Session, app.Logger); err != nil {
					return fmt.Errorf("failed to start refresh scheduler: %w", err)
				}
				return runWatch(ctx, app, cmd.OutOrStdout())
			})
		},
	}
}

// runWatch prints every auth state and location emission until ctx is done
func runWatch(ctx context.Context, app *App, out io.Writer) error {
	go app.Navigator.Run(ctx, app.Session.Changes(ctx))

	users := app.Session.Changes(ctx)
	locations := app.Navigator.Watch(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case user, ok := <-users:
			if !ok {
				return nil
			}
			if user == nil {
				fmt.Fprintln(out, "auth: signed out")
			} else {
				fmt.Fprintf(out, "auth: signed in as %s\n", user.Email)
			}
		case location, ok := <-locations:
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "location: %s\n", location)
		}
	}
}
