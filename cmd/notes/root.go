package main

import (
	"context"
	"errors"
	"fmt"

	"dovakin0007.com/private-notes/internal/config"
	"dovakin0007.com/private-notes/internal/session"
	"dovakin0007.com/private-notes/pkg/notesclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var errNotSignedIn = errors.New("not signed in; run `notes login` first")

// app is the state shared by every command. Tests fill it in directly;
// otherwise it is built from the environment before the first command runs.
type app struct {
	sessions *session.Manager
	client   *notesclient.Client
	logger   *zap.Logger

	verbose bool
	jsonOut bool
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "notes",
		Short:         "Command-line client for private notes",
		Long:          `Sign in once, then list, read, write and delete your own notes from the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Output in JSON format")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newWatchCmd(a),
		newListCmd(a),
		newGetCmd(a),
		newCreateCmd(a),
		newUpdateCmd(a),
		newDeleteCmd(a),
	)
	return root
}

func (a *app) init() error {
	if a.client != nil && a.sessions != nil {
		return nil
	}
	if err := config.LoadEnvFile(); err != nil {
		return err
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if a.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	a.logger = logger

	path := cfg.SessionFile
	if path == "" {
		if path, err = session.DefaultPath(cfg.BackendURL); err != nil {
			return err
		}
	}
	a.sessions, err = session.NewManager(session.Config{
		Path:    path,
		AuthURL: cfg.AuthURL,
		AnonKey: cfg.AuthAnonKey,
		Logger:  logger.Named("session"),
	})
	if err != nil {
		return err
	}
	a.client = notesclient.New(notesclient.Config{
		BaseURL: cfg.BackendURL,
		Logger:  logger.Named("api"),
	})
	return nil
}

// token returns the stored access token or errNotSignedIn.
func (a *app) token(ctx context.Context) (string, error) {
	tok := a.sessions.AccessToken(ctx)
	if tok == "" {
		return "", errNotSignedIn
	}
	return tok, nil
}

// apiError points the user back at login when the server rejected the
// token.
func apiError(err error) error {
	if notesclient.IsUnauthorized(err) {
		return fmt.Errorf("%w; run `notes login` again", err)
	}
	return err
}
