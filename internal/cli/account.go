package cli

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"backend-fittrack/internal/apiclient"
	"backend-fittrack/internal/session"
	"backend-fittrack/internal/validation"

	"github.com/spf13/cobra"
)

// googleTokenTTL matches the lifetime of Google ID tokens and of the tokens
// the server issues after the consent flow.
const googleTokenTTL = time.Hour

func (a *App) loginCommand() *cobra.Command {
	var form validation.LoginForm
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validation.Struct(form); err != nil {
				return err
			}
			res, err := a.client().Login(cmd.Context(), form.Email, form.Password)
			if err != nil {
				return loginError(err)
			}
			return a.completeLogin(cmd, res.User, res.Tokens.AccessToken, res.Tokens.TTL())
		},
	}
	cmd.Flags().StringVar(&form.Email, "email", "", "account email")
	cmd.Flags().StringVar(&form.Password, "password", "", "account password")
	return cmd
}

func (a *App) registerCommand() *cobra.Command {
	var form validation.RegistrationForm
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validation.Struct(form); err != nil {
				return err
			}
			res, err := a.client().Register(cmd.Context(), apiclient.Registration{
				FirstName:       form.FirstName,
				LastName:        form.LastName,
				Email:           form.Email,
				Password:        form.Password,
				ConfirmPassword: form.ConfirmPassword,
			})
			if err != nil {
				return err
			}
			return a.completeLogin(cmd, res.User, res.Tokens.AccessToken, res.Tokens.TTL())
		},
	}
	f := cmd.Flags()
	f.StringVar(&form.FirstName, "first-name", "", "first name")
	f.StringVar(&form.LastName, "last-name", "", "last name")
	f.StringVar(&form.Email, "email", "", "account email")
	f.StringVar(&form.Password, "password", "", "password, at least 6 characters")
	f.StringVar(&form.ConfirmPassword, "confirm-password", "", "repeat the password")
	return cmd
}

func (a *App) googleLoginCommand() *cobra.Command {
	var idToken string
	cmd := &cobra.Command{
		Use:   "google-login",
		Short: "Sign in with a Google ID token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if idToken == "" {
				return errors.New("--id-token is required")
			}
			user, err := a.client().GoogleLogin(cmd.Context(), idToken)
			if err != nil {
				return loginError(err)
			}
			return a.completeLogin(cmd, user, idToken, googleTokenTTL)
		},
	}
	cmd.Flags().StringVar(&idToken, "id-token", "", "Google ID token")
	return cmd
}

func (a *App) useTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use-token TOKEN",
		Short: "Sign in with the token from the Google Fit consent redirect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.client().FetchUser(cmd.Context(), args[0])
			if err != nil {
				return loginError(err)
			}
			return a.completeLogin(cmd, user, args[0], googleTokenTTL)
		},
	}
}

func (a *App) completeLogin(cmd *cobra.Command, user session.User, token string, ttl time.Duration) error {
	return a.withSession(cmd.Context(), false, func(mgr *session.Manager) error {
		if err := mgr.CompleteLogin(cmd.Context(), user, token, ttl); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Signed in as %s\n", displayName(user))
		return nil
	})
}

func (a *App) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Restore the stored session and show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), true, func(mgr *session.Manager) error {
				s := mgr.Current()
				if !s.Authenticated() {
					fmt.Fprintln(a.out, "Not signed in")
					return nil
				}
				fmt.Fprintf(a.out, "%s <%s>\n", displayName(*s.User), s.User.Email)
				fmt.Fprintf(a.out, "Session valid until %s\n", s.TokenExpiry.Local().Format(time.RFC1123))
				return nil
			})
		},
	}
}

func (a *App) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), false, func(mgr *session.Manager) error {
				return mgr.Logout(cmd.Context())
			})
		},
	}
}

func (a *App) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow sign-ins and sign-outs made by other fitctl processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var mu sync.Mutex
			last := "-"
			report := func(s session.Session) {
				line := "signed out"
				if s.Authenticated() {
					line = "signed in: " + displayName(*s.User)
				}
				mu.Lock()
				defer mu.Unlock()
				if line != last {
					last = line
					fmt.Fprintln(a.out, line)
				}
			}
			return a.withSession(cmd.Context(), true, func(mgr *session.Manager) error {
				report(mgr.Current())
				<-cmd.Context().Done()
				return nil
			}, session.WithChangeHandler(report))
		},
	}
}

func loginError(err error) error {
	if errors.Is(err, apiclient.ErrUnauthorized) {
		var status *apiclient.StatusError
		if errors.As(err, &status) && status.Message != "" {
			return fmt.Errorf("sign-in rejected: %s", status.Message)
		}
		return errors.New("sign-in rejected")
	}
	return err
}

func displayName(u session.User) string {
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}
