package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"dovakin0007.com/private-notes/internal/session"
	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long:  `Sign in against the identity provider and store the session for later commands. The password is read from stdin when --password is not given.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			s, err := a.sessions.SignIn(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", s.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.sessions.SignOut(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user as the server sees it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := a.token(cmd.Context())
			if err != nil {
				return err
			}
			user, err := a.client.Me(cmd.Context(), tok)
			if err != nil {
				return apiError(err)
			}
			if a.jsonOut {
				return writeJSON(cmd, user)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", user.ID, user.Email)
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print sign-in and sign-out events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, unsubscribe := a.sessions.Subscribe()
			defer unsubscribe()

			errc := make(chan error, 1)
			go func() { errc <- a.sessions.Watch(cmd.Context()) }()

			out := cmd.OutOrStdout()
			for {
				select {
				case err := <-errc:
					return err
				case ev := <-events:
					switch ev.Kind {
					case session.SignedIn:
						email := ""
						if ev.User != nil {
							email = ev.User.Email
						}
						fmt.Fprintf(out, "%s %s\n", ev.Kind, email)
					default:
						fmt.Fprintln(out, ev.Kind)
					}
				}
			}
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}
