package cli

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/panyam/courtside"
)

func credentialFlags(cmd *cobra.Command) {
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
}

func credentialFrom(cmd *cobra.Command) courtside.Credential {
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")
	return courtside.Credential{Email: email, Password: password}
}

func newSignupCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		RunE: opts.run(func(cmd *cobra.Command, a *app) error {
			if _, err := a.start(cmd.Context()); err != nil {
				return err
			}

			name, _ := cmd.Flags().GetString("name")
			if _, err := a.provider.SignUp(cmd.Context(), credentialFrom(cmd), courtside.IdentityAttributes{DisplayName: name}); err != nil {
				return describeError(err)
			}
			view, err := a.settle(cmd.Context(), (*courtside.SessionState).IsAuthenticated)
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), view, opts.route)
			return nil
		}),
	}
	credentialFlags(cmd)
	cmd.Flags().String("name", "", "display name")
	return cmd
}

func newLoginCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: opts.run(func(cmd *cobra.Command, a *app) error {
			if _, err := a.start(cmd.Context()); err != nil {
				return err
			}

			_, err := a.provider.SignIn(cmd.Context(), credentialFrom(cmd))
			switch {
			case err == nil:
			case courtside.CodeOf(err) == courtside.CodeProfileNotFound:
				fmt.Fprintln(cmd.OutOrStdout(), "signed in, but onboarding is not finished; run `courtside onboard`")
			default:
				return describeError(err)
			}

			view, err := a.settle(cmd.Context(), (*courtside.SessionState).IsAuthenticated)
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), view, opts.route)
			return nil
		}),
	}
	credentialFlags(cmd)
	return cmd
}

func newLogoutCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		RunE: opts.run(func(cmd *cobra.Command, a *app) error {
			if _, err := a.start(cmd.Context()); err != nil {
				return err
			}
			a.provider.SignOut(cmd.Context())
			printSession(cmd.OutOrStdout(), a.provider.Session(), opts.route)
			return nil
		}),
	}
}

func newWhoamiCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: opts.run(func(cmd *cobra.Command, a *app) error {
			view, err := a.start(cmd.Context())
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), view, opts.route)
			return nil
		}),
	}
}

func newOnboardCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "onboard",
		Short:   "Complete (or update) the signed-in user's profile",
		Example: `  courtside onboard --name Ana --sports tennis,padel --skill tennis=advanced --city Lisbon --discoverable`,
		RunE: opts.run(func(cmd *cobra.Command, a *app) error {
			view, err := a.start(cmd.Context())
			if err != nil {
				return err
			}
			if !view.IsAuthenticated {
				return errors.New("not signed in; run `courtside login` first")
			}

			data, err := onboardingDataFrom(cmd)
			if err != nil {
				return err
			}
			if data.DisplayName == "" {
				data.DisplayName = view.Identity.DisplayName
			}
			if _, err := a.provider.CompleteOnboarding(cmd.Context(), view.Identity.ID, data); err != nil {
				return describeError(err)
			}

			view, err = a.settle(cmd.Context(), func(s *courtside.SessionState) bool { return s.Profile != nil })
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), view, opts.route)
			return nil
		}),
	}
	cmd.Flags().String("name", "", "display name (defaults to the account's)")
	cmd.Flags().StringSlice("sports", nil, "sports played")
	cmd.Flags().StringToString("skill", nil, "skill level per sport (beginner, intermediate, advanced, pro)")
	cmd.Flags().String("city", "", "home city")
	cmd.Flags().String("region", "", "home region")
	cmd.Flags().String("bio", "", "short bio")
	cmd.Flags().Bool("show-location", false, "show location to other players")
	cmd.Flags().Bool("show-skills", false, "show skill levels to other players")
	cmd.Flags().Bool("discoverable", false, "appear in player search")
	return cmd
}

func onboardingDataFrom(cmd *cobra.Command) (courtside.OnboardingData, error) {
	flags := cmd.Flags()
	name, _ := flags.GetString("name")
	sports, _ := flags.GetStringSlice("sports")
	skills, _ := flags.GetStringToString("skill")
	city, _ := flags.GetString("city")
	region, _ := flags.GetString("region")
	bio, _ := flags.GetString("bio")
	showLocation, _ := flags.GetBool("show-location")
	showSkills, _ := flags.GetBool("show-skills")
	discoverable, _ := flags.GetBool("discoverable")

	levels := make(map[string]courtside.SkillLevel, len(skills))
	for sport, level := range skills {
		switch l := courtside.SkillLevel(strings.ToLower(level)); l {
		case courtside.SkillBeginner, courtside.SkillIntermediate, courtside.SkillAdvanced, courtside.SkillPro:
			levels[sport] = l
		default:
			return courtside.OnboardingData{}, fmt.Errorf("unknown skill level %q for %s", level, sport)
		}
	}

	return courtside.OnboardingData{
		DisplayName: name,
		Sports:      sports,
		SkillLevels: levels,
		Location:    courtside.Location{City: city, Region: region},
		Bio:         bio,
		Visibility: courtside.Visibility{
			ShowLocation:    showLocation,
			ShowSkillLevels: showSkills,
			Discoverable:    discoverable,
		},
	}, nil
}

func newWatchCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the navigation guard against a console router until interrupted",
		RunE: opts.run(func(cmd *cobra.Command, a *app) error {
			out := cmd.OutOrStdout()

			if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
				srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics server failed", "error", err)
					}
				}()
				defer srv.Close()
			}

			router := NewConsoleRouter(opts.route, out)
			unsubscribe := a.provider.Subscribe(func(view courtside.SessionView) {
				printSession(out, view, router.CurrentRoute())
			})
			defer unsubscribe()

			nav := courtside.NewNavigator(a.provider.Cell(), router, &courtside.NavigatorConfig{
				Cooldown:       a.config.NavCooldown,
				LoadingTimeout: a.config.LoadingTimeout,
				Logger:         a.logger,
				Metrics:        a.metrics,
			})
			nav.Start()
			defer nav.Stop()

			a.provider.Start(cmd.Context())
			<-cmd.Context().Done()
			return nil
		}),
	}
	cmd.Flags().String("metrics-addr", "", "serve session metrics on this address (e.g. :9100)")
	return cmd
}
