package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd() *cobra.Command {
	var reload bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *App) error {
				return runWhoami(cmd.Context(), app, cmd.OutOrStdout(), reload)
			})
		},
	}

	cmd.Flags().BoolVar(&reload, "reload", false, "Re-fetch the profile from the identity provider")

	return cmd
}

func runWhoami(ctx context.Context, app *App, out io.Writer, reload bool) error {
	user := app.Session.CurrentUser()
	if user == nil {
		fmt.Fprintln(out, "Not signed in")
		return nil
	}

	if reload {
		reloaded, err := app.Session.Reload(ctx)
		if err != nil {
			return &requestError{op: "reload", err: err}
		}
		if reloaded == nil {
			fmt.Fprintln(out, "Not signed in")
			return nil
		}
		user = reloaded
	}

	printUser(out, user)
	fmt.Fprintf(out, "  ID: %s\n", user.ID)
	if _, expiresAt := app.Session.IDToken(); !expiresAt.IsZero() {
		fmt.Fprintf(out, "  Token expires: %s\n", expiresAt.Local().Format(time.RFC3339))
	}
	return nil
}
