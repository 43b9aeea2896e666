package session

import (
	"context"
	"log/slog"

	"github.com/roach88/crepo/internal/nodetype"
	"github.com/roach88/crepo/internal/om"
	"github.com/roach88/crepo/internal/qom/sql2"
	"github.com/roach88/crepo/internal/querysql"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
)

// Session is one logged-in view of a workspace.
//
// A Session owns its transport and object manager and is used by one
// caller at a time. Concurrency comes from opening several sessions, each
// over its own transport.
type Session struct {
	t         transport.Transport
	caps      transport.Capabilities
	om        *om.Manager
	types     *nodetype.Registry
	logger    *slog.Logger
	workspace string
	userID    string

	cnd       nodetype.CNDParser
	compilers []Compiler
	closed    bool
}

// options collects Login settings before the session exists.
type options struct {
	logger           *slog.Logger
	fetchDepth       *int
	autoLastModified *bool
	cnd              nodetype.CNDParser
	compilers        []Compiler
	newID            func() string
}

// Option configures Login.
type Option func(*options)

// WithLogger sets the session logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithFetchDepth sets how many levels below a requested node the transport
// returns in one read.
func WithFetchDepth(depth int) Option {
	return func(o *options) {
		o.fetchDepth = &depth
	}
}

// WithAutoLastModified turns mix:lastModified stamping on or off in the
// transport.
func WithAutoLastModified(enabled bool) Option {
	return func(o *options) {
		o.autoLastModified = &enabled
	}
}

// WithCNDParser sets the parser used to register CND text on transports
// that only accept definitions.
func WithCNDParser(p nodetype.CNDParser) Option {
	return func(o *options) {
		o.cnd = p
	}
}

// WithCompilers replaces the query compilers, in order of preference. The
// default is JCR-SQL2 then the SQLite dialect.
func WithCompilers(cs ...Compiler) Option {
	return func(o *options) {
		o.compilers = cs
	}
}

// WithIdentifiers sets the generator of identifiers for new referenceable
// nodes.
func WithIdentifiers(next func() string) Option {
	return func(o *options) {
		o.newID = next
	}
}

// Login authenticates t against workspace (the backend default when empty)
// and returns a session over it.
//
// Fetch depth and auto-last-modified are applied to the transport before
// login. Capabilities are detected once here and node types the backend
// defines are merged over the built-in table.
func Login(ctx context.Context, t transport.Transport, creds transport.Credentials, workspace string, opts ...Option) (*Session, error) {
	o := options{
		logger:    slog.Default(),
		compilers: []Compiler{sql2.NewCompiler(), querysql.NewSQLCompiler()},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fetchDepth != nil {
		if *o.fetchDepth < 0 {
			return nil, repoerr.At(repoerr.CodeInvalidArgument, "login", "", "fetch depth must not be negative, got %d", *o.fetchDepth)
		}
		t.SetFetchDepth(*o.fetchDepth)
	}
	if o.autoLastModified != nil {
		t.SetAutoLastModified(*o.autoLastModified)
	}

	ws, err := t.Login(ctx, creds, workspace)
	if err != nil {
		return nil, repoerr.Wrap(err, "login", workspace)
	}
	caps := transport.Detect(t)

	types := nodetype.NewRegistry(nodetype.Builtin())
	defs, err := t.GetNodeTypes(ctx, nil)
	if err != nil {
		return nil, repoerr.Wrap(err, "login", ws)
	}
	if err := types.Register(defs, true); err != nil {
		return nil, repoerr.Wrap(err, "login", ws)
	}

	omOpts := []om.Option{om.WithLogger(o.logger), om.WithCapabilities(caps)}
	if o.newID != nil {
		omOpts = append(omOpts, om.WithIdentifiers(o.newID))
	}
	s := &Session{
		t:         t,
		caps:      caps,
		om:        om.New(t, types, omOpts...),
		types:     types,
		logger:    o.logger,
		workspace: ws,
		userID:    creds.UserID,
		cnd:       o.cnd,
		compilers: o.compilers,
	}
	s.logger.Debug("session opened",
		"workspace", ws,
		"user", creds.UserID,
		"capabilities", caps.Names(),
		"custom_node_types", len(defs))
	return s, nil
}

// Workspace returns the name of the workspace connected at login.
func (s *Session) Workspace() string { return s.workspace }

// UserID returns the user the session logged in as.
func (s *Session) UserID() string { return s.userID }

// Capabilities returns what the transport offers.
func (s *Session) Capabilities() transport.Capabilities { return s.caps }

// Manager exposes the object manager behind the session.
func (s *Session) Manager() *om.Manager { return s.om }

// Descriptors returns the repository descriptors.
func (s *Session) Descriptors(ctx context.Context) (map[string][]string, error) {
	d, err := s.t.GetRepositoryDescriptors(ctx)
	if err != nil {
		return nil, repoerr.Wrap(err, "descriptors", "")
	}
	return d, nil
}

// AccessibleWorkspaces lists the workspaces the user may log in to.
func (s *Session) AccessibleWorkspaces(ctx context.Context) ([]string, error) {
	names, err := s.t.GetAccessibleWorkspaceNames(ctx)
	if err != nil {
		return nil, repoerr.Wrap(err, "accessibleWorkspaces", "")
	}
	return names, nil
}

// IsLive reports whether the session has not been logged out.
func (s *Session) IsLive() bool { return !s.closed }

// Logout ends the session. Pending changes are discarded. Logging out
// twice is harmless.
func (s *Session) Logout(ctx context.Context) error {
	if s.closed {
		return nil
	}
	if s.om.HasPendingChanges() {
		s.logger.Warn("logout discards pending changes", "operations", len(s.om.PendingOperations()))
	}
	s.om.Refresh(false)
	s.closed = true
	if err := s.t.Logout(ctx); err != nil {
		return repoerr.Wrap(err, "logout", "")
	}
	return nil
}

// check fails with NotLoggedIn once the session is logged out.
func (s *Session) check(op string) error {
	if s.closed {
		return repoerr.At(repoerr.CodeNotLoggedIn, op, "", "session is logged out")
	}
	return nil
}
