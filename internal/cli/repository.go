package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/crepo/internal/config"
	"github.com/roach88/crepo/internal/session"
	"github.com/roach88/crepo/internal/store"
	"github.com/roach88/crepo/internal/transport"
)

// repository is an open store with a session logged into the configured
// workspace.
type repository struct {
	config  *config.Config
	store   *store.Store
	session *session.Session
}

// newLogger builds the text logger every command writes diagnostics to.
// --verbose lowers the configured level to debug.
func newLogger(w io.Writer, cfg *config.Config, verbose bool) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// openRepository loads the configuration, opens the database (creating it
// if it doesn't exist) and logs a session in.
func openRepository(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*repository, error) {
	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}
	slog.SetDefault(logger)

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	s, err := session.Login(ctx, st.Connect(), transport.Credentials{UserID: cfg.User}, cfg.Workspace,
		session.WithLogger(logger),
		session.WithFetchDepth(cfg.FetchDepth),
		session.WithAutoLastModified(cfg.AutoLastModified))
	if err != nil {
		st.Close()
		return nil, err
	}
	return &repository{config: cfg, store: st, session: s}, nil
}

// Close logs the session out and closes the database. Unsaved changes are
// discarded.
func (r *repository) Close(ctx context.Context) {
	if err := r.session.Logout(ctx); err != nil {
		slog.Warn("logout failed", "error", err)
	}
	if err := r.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// commandContext returns the command's context, or a background context
// when the command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// fail reports err. Errors that already carry an exit code pass through
// after being printed.
func fail(f *OutputFormatter, message string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return f.Fail(exitErr.Code, exitErr.Message, exitErr.Err)
	}
	return f.Fail(ExitCommandError, message, err)
}
