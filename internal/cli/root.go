// Package cli implements the courtside command line: a thin driver around
// courtside.Provider for exercising the session core against a local or
// remote backend.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/panyam/courtside"
	"github.com/panyam/courtside/internal/config"
)

// options are the persistent flags shared by every command
type options struct {
	envFile string
	route   string
}

// run loads configuration, builds the app and hands it to fn, closing it afterwards
func (o *options) run(fn func(cmd *cobra.Command, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(o.envFile)
		if err != nil {
			return err
		}
		a, err := newApp(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a)
	}
}

// NewRootCommand builds the courtside command tree
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "courtside",
		Short: "Drive the Courtside session core from the terminal",
		Long: `courtside signs in, signs up, onboards and signs out against the configured
backend, printing the resulting session and the navigation guard's decision.

The backend is chosen with COURTSIDE_GATEWAY:
  local   accounts and profiles in a SQLite file under COURTSIDE_DATA_DIR
  remote  the HTTP API at COURTSIDE_BACKEND_URL
  none    no backend; every operation fails with network_unavailable`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&opts.route, "route", courtside.DefaultRoutes().Main, "route the app is showing, for the guard decision")

	root.AddCommand(
		newSignupCommand(opts),
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newWhoamiCommand(opts),
		newOnboardCommand(opts),
		newWatchCommand(opts),
	)
	return root
}

// ExecuteContext runs the CLI
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// printSession writes the session and what the guard would do on route
func printSession(w io.Writer, view courtside.SessionView, route string) {
	routes := courtside.DefaultRoutes()
	switch {
	case view.IsLoading:
		fmt.Fprintln(w, "session:  loading")
	case !view.IsAuthenticated:
		fmt.Fprintln(w, "session:  signed out")
	default:
		fmt.Fprintf(w, "session:  signed in as %s (%s)\n", view.Identity.Email, view.Identity.ID)
	}
	if view.IsAuthenticated {
		if view.Profile == nil {
			fmt.Fprintln(w, "profile:  none (onboarding required)")
		} else {
			fmt.Fprintf(w, "profile:  %s, sports %v\n", view.Profile.DisplayName, view.Profile.Sports)
		}
	}

	state := &courtside.SessionState{Identity: view.Identity, Profile: view.Profile, Status: courtside.StatusResolved}
	if view.IsLoading {
		state.Status = courtside.StatusLoading
	}
	decision := courtside.Decide(state, routes.GroupOf(route))
	if decision.Redirect {
		fmt.Fprintf(w, "guard:    %s -> %s\n", route, routes.RouteFor(decision.Target))
	} else {
		fmt.Fprintf(w, "guard:    stay on %s\n", route)
	}
}

// describeError renders an auth error the way a screen would show it
func describeError(err error) error {
	authErr := courtside.Normalize(err)
	if authErr == nil {
		return nil
	}
	return fmt.Errorf("%s (%s)", authErr.Message, authErr.Code)
}
