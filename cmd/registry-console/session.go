package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/registry-console/app"
	"github.com/upb/registry-console/claims"
	"github.com/upb/registry-console/session"
)

func loginCmd() *cobra.Command {
	var (
		username      string
		password      string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and persist the credential for the profile",
		Long: `Log in at the identity provider and persist the credential.

Examples:
  registry-console login --username dr.gomez --password-stdin < secret.txt
  SESSION_PROFILE=ward-3 registry-console login -u dr.gomez -p s3cret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password from stdin: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if username == "" || password == "" {
				return errors.New("username and password are required")
			}

			return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				resp, err := deps.Identity.Login(ctx, username, password)
				if err != nil {
					return err
				}
				if err := deps.Session.Save(ctx, session.Credential{
					Token:        resp.Token,
					Roles:        resp.Roles,
					RefreshToken: resp.RefreshToken,
				}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s on profile %s (roles: %s)\n",
					username, deps.Session.Profile(), strings.Join(resp.Roles, ", "))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")

	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the persisted credential of the profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				if err := deps.Session.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "logged out of profile %s\n", deps.Session.Profile())
				return nil
			})
		},
	}
}

type whoami struct {
	Profile   string     `json:"profile"`
	LoggedIn  bool       `json:"logged_in"`
	User      string     `json:"user,omitempty"`
	Roles     []string   `json:"roles"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the session state of the profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
				out := whoami{
					Profile:  deps.Session.Profile(),
					LoggedIn: deps.Session.IsLoggedIn(),
					Roles:    []string{},
				}
				if out.LoggedIn {
					roles, err := deps.Session.Roles()
					if err != nil {
						return err
					}
					out.Roles = roles

					// best effort, opaque tokens carry no claims
					token := deps.Session.Token()
					if user, err := claims.Subject(token); err == nil {
						out.User = user
					}
					if exp, err := claims.ExpiresAt(token); err == nil {
						exp = exp.UTC()
						out.ExpiresAt = &exp
					}
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}
