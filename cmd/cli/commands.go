package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/model"
)

func rootCmd() *cobra.Command {
	g := &globalOpts{}

	cmd := &cobra.Command{
		Use:   "sk",
		Short: "Secure session manager",
		Long: `sk keeps one login session on this device.

Tokens live in an encrypted local store, the refresh token renews
expired access tokens, and an optional passcode gate protects reads.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.storePath, "store", "", "secure store file (overrides config)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		loginCmd(g),
		statusCmd(g),
		logoutCmd(g),
		headersCmd(g),
		whoamiCmd(g),
		biometricCmd(g),
		passcodeCmd(g),
		watchCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "sk %s (%s)\n", version, buildDate)
			},
		},
	)
	return cmd
}

// run opens the app for one command and always closes it.
func run(cmd *cobra.Command, g *globalOpts, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, g, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

type stateView struct {
	Status        string         `json:"status"`
	Authenticated bool           `json:"authenticated"`
	User          *model.Profile `json:"user,omitempty"`
	Error         string         `json:"error,omitempty"`
}

func viewOf(s model.State) stateView {
	return stateView{Status: s.Status.String(), Authenticated: s.IsAuthenticated, User: s.User, Error: s.Error}
}

func loginCmd(g *globalOpts) *cobra.Command {
	var method, phone, email, name, idToken string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with phone, apple or google",
		Example: `  sk login --method phone --phone +15550001234
  sk login --method google --email me@gmail.com --id-token "$ID_TOKEN"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := model.ParseAuthMethod(method)
			if err != nil {
				return fmt.Errorf("%w: %v", errs.ErrUnsupportedMethod, err)
			}
			return run(cmd, g, func(ctx context.Context, a *app) error {
				ok := a.mgr.Login(ctx, m, model.LoginData{
					PhoneNumber: phone,
					Email:       email,
					Name:        name,
					IDToken:     idToken,
				})
				st := a.mgr.State()
				if !ok {
					return fmt.Errorf("login failed: %s", st.Error)
				}
				printJSON(cmd.OutOrStdout(), viewOf(st))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", "", "phone, apple or google")
	cmd.Flags().StringVar(&phone, "phone", "", "E.164 phone number (phone method)")
	cmd.Flags().StringVar(&email, "email", "", "account email (apple/google)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&idToken, "id-token", "", "OIDC ID token (apple/google)")
	_ = cmd.MarkFlagRequired("method")
	return cmd
}

func statusCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the stored session, refreshing it when expired",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, g, func(ctx context.Context, a *app) error {
				a.mgr.Start(ctx)
				printJSON(cmd.OutOrStdout(), viewOf(a.mgr.State()))
				return nil
			})
		},
	}
}

func logoutCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and erase the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, g, func(ctx context.Context, a *app) error {
				a.mgr.Logout(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), "logged out")
				return nil
			})
		},
	}
}

func headersCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "headers",
		Short: "Print request headers for the current access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, g, func(ctx context.Context, a *app) error {
				h, err := a.mgr.AuthHeaders(ctx)
				if err != nil {
					if a.mgr.State().IsAuthenticated {
						return fmt.Errorf("%w (session renewed, run again)", err)
					}
					return err
				}
				printJSON(cmd.OutOrStdout(), h)
				return nil
			})
		},
	}
}

func whoamiCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the signed-in profile (asks the issuer in grpc mode)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, g, func(ctx context.Context, a *app) error {
				if a.remote == nil {
					p, err := a.store.GetUserData(ctx)
					if err != nil {
						return fmt.Errorf("no stored profile: %w", err)
					}
					printJSON(cmd.OutOrStdout(), p)
					return nil
				}
				creds, err := a.store.GetTokens(ctx)
				if err != nil {
					return err
				}
				ictx, cancel := context.WithTimeout(ctx, a.cfg.Issuer.Timeout)
				defer cancel()
				p, err := a.remote.Profile(ictx, creds.AccessToken)
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}
}

func biometricCmd(g *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "biometric",
		Short: "Manage the passcode gate on token reads",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Require the device passcode to read tokens",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, g, func(ctx context.Context, a *app) error {
					ok, err := a.mgr.EnableBiometric(ctx)
					switch {
					case errors.Is(err, errs.ErrBiometricUnavailable):
						return fmt.Errorf("%w (run `sk passcode enroll` in a terminal first)", err)
					case err != nil:
						return err
					case !ok:
						return errs.ErrBiometricRejected
					}
					fmt.Fprintln(cmd.OutOrStdout(), "biometric gate enabled")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show gate availability and whether it is enabled",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, g, func(ctx context.Context, a *app) error {
					enabled, err := a.store.IsBiometricEnabled(ctx)
					if err != nil {
						return err
					}
					printJSON(cmd.OutOrStdout(), map[string]bool{
						"available": a.gate.IsAvailable(ctx),
						"enabled":   enabled,
					})
					return nil
				})
			},
		},
	)
	return cmd
}

func passcodeCmd(g *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "passcode",
		Short: "Manage the device passcode",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "enroll",
		Short: "Set the device passcode used by the gate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, g, func(ctx context.Context, a *app) error {
				sr := newSecretReader(cmd.InOrStdin(), cmd.ErrOrStderr())
				first, err := sr.Read("New passcode: ")
				if err != nil {
					return err
				}
				again, err := sr.Read("Repeat passcode: ")
				if err != nil {
					return err
				}
				if string(first) != string(again) {
					return errors.New("passcodes do not match")
				}
				if err := a.passcode.Enroll(ctx, first); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "passcode enrolled")
				return nil
			})
		},
	})
	return cmd
}

func watchCmd(g *globalOpts) *cobra.Command {
	var (
		interval time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-check the session periodically and print every state change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}
			return run(cmd, g, func(ctx context.Context, a *app) error {
				states, cancel := a.mgr.Subscribe()
				done := make(chan struct{})
				go func() {
					defer close(done)
					for s := range states {
						printJSON(cmd.OutOrStdout(), viewOf(s))
					}
				}()

				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for i := 0; count <= 0 || i < count; i++ {
					a.mgr.CheckStatus(ctx)
					if count > 0 && i == count-1 {
						break
					}
					select {
					case <-ctx.Done():
						cancel()
						<-done
						return nil
					case <-ticker.C:
					}
				}
				cancel()
				<-done
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "time between checks")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many checks (0 runs until interrupted)")
	return cmd
}
