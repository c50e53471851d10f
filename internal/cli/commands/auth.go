package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/branchd-dev/authflow/internal/controller"
	"github.com/branchd-dev/authflow/internal/models"
)

// requestError carries the user-facing message for a failed request while
// keeping the cause reachable with errors.Is
type requestError struct {
	op  string
	err error
}

func (e *requestError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.op, controller.Message(e.err))
}

func (e *requestError) Unwrap() error { return e.err }

// NewSignInCmd creates the sign-in command
func NewSignInCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "sign-in",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := resolveEmail(email)
			if err != nil {
				return err
			}
			password, err := resolvePassword(password)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(app *App) error {
				return runSignIn(cmd.Context(), app, cmd.OutOrStdout(), email, password)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set "+emailEnv+")")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set "+passwordEnv+", will prompt if not provided)")

	return cmd
}

func runSignIn(ctx context.Context, app *App, out io.Writer, email, password string) error {
	fmt.Fprintf(out, "Signing in as %s...\n", email)
	if err := app.Controller.SignIn(ctx, controller.SignInInput{Email: email, Password: password}); err != nil {
		return &requestError{op: "sign in", err: err}
	}

	fmt.Fprintln(out, "✓ Signed in")
	printUser(out, app.Session.CurrentUser())
	return nil
}

// NewSignUpCmd creates the sign-up command
func NewSignUpCmd() *cobra.Command {
	var email, password, displayName string

	cmd := &cobra.Command{
		Use:   "sign-up",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := resolveEmail(email)
			if err != nil {
				return err
			}
			password, err := resolvePassword(password)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(app *App) error {
				return runSignUp(cmd.Context(), app, cmd.OutOrStdout(), email, password, displayName)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set "+emailEnv+")")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set "+passwordEnv+", will prompt if not provided)")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name")

	return cmd
}

func runSignUp(ctx context.Context, app *App, out io.Writer, email, password, displayName string) error {
	fmt.Fprintf(out, "Creating account for %s...\n", email)
	in := controller.SignUpInput{Email: email, Password: password, DisplayName: displayName}
	if err := app.Controller.SignUp(ctx, in); err != nil {
		return &requestError{op: "sign up", err: err}
	}

	fmt.Fprintln(out, "✓ Account created")
	printUser(out, app.Session.CurrentUser())
	return nil
}

// NewSignOutCmd creates the sign-out command
func NewSignOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign-out",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *App) error {
				return runSignOut(cmd.Context(), app, cmd.OutOrStdout())
			})
		},
	}
}

func runSignOut(ctx context.Context, app *App, out io.Writer) error {
	if app.Session.CurrentUser() == nil {
		discarded, err := app.discardUnreadable(ctx)
		if err != nil {
			return err
		}
		if discarded {
			fmt.Fprintln(out, "✓ Removed unreadable stored session")
			return nil
		}
		fmt.Fprintln(out, "Already signed out")
		return nil
	}
	if err := app.Controller.SignOut(ctx); err != nil {
		return &requestError{op: "sign out", err: err}
	}
	fmt.Fprintln(out, "✓ Signed out")
	return nil
}

// NewResetPasswordCmd creates the reset-password command
func NewResetPasswordCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Send a password reset email",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := resolveEmail(email)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(app *App) error {
				return runResetPassword(cmd.Context(), app, cmd.OutOrStdout(), email)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set "+emailEnv+")")

	return cmd
}

func runResetPassword(ctx context.Context, app *App, out io.Writer, email string) error {
	if err := app.Controller.ResetPassword(ctx, controller.PasswordResetInput{Email: email}); err != nil {
		return &requestError{op: "password reset", err: err}
	}
	fmt.Fprintf(out, "✓ Password reset email sent to %s\n", email)
	return nil
}

// NewVerifyEmailCmd creates the verify-email command
func NewVerifyEmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-email",
		Short: "Send a verification email to the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *App) error {
				return runVerifyEmail(cmd.Context(), app, cmd.OutOrStdout())
			})
		},
	}
}

func runVerifyEmail(ctx context.Context, app *App, out io.Writer) error {
	if err := app.Controller.VerifyEmail(ctx); err != nil {
		return &requestError{op: "email verification", err: err}
	}
	fmt.Fprintf(out, "✓ Verification email sent to %s\n", app.Session.CurrentUser().Email)
	return nil
}

func printUser(out io.Writer, user *models.AppUser) {
	if user == nil {
		return
	}
	fmt.Fprintf(out, "  User: %s (%s)\n", user.DisplayName, user.Email)
	if user.EmailVerified {
		fmt.Fprintln(out, "  Email: verified")
	} else {
		fmt.Fprintln(out, "  Email: not verified")
	}
}
