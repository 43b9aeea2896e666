package transport

import "github.com/roach88/crepo/internal/repoerr"

// State is a transport's login state.
type State int

const (
	StateUnauthenticated State = iota
	StateLoggedIn
	StateLoggedOut
)

// String names the state.
func (s State) String() string {
	switch s {
	case StateLoggedIn:
		return "logged-in"
	case StateLoggedOut:
		return "logged-out"
	}
	return "unauthenticated"
}

// Lifecycle tracks the Unauthenticated -> LoggedIn -> LoggedOut state
// machine. Backends embed it and call Check at the top of every method that
// requires a login.
type Lifecycle struct {
	state     State
	workspace string
	userID    string
}

// BeginLogin verifies that a login may be attempted. A transport accepts at
// most one login; a second attempt, even after logout, fails.
func (l *Lifecycle) BeginLogin() error {
	if l.state != StateUnauthenticated {
		return repoerr.At(repoerr.CodeLoginFailed, "login", "", "transport already used (state %s); create a new transport per login", l.state)
	}
	return nil
}

// CompleteLogin records a successful login.
func (l *Lifecycle) CompleteLogin(workspace, userID string) {
	l.state = StateLoggedIn
	l.workspace = workspace
	l.userID = userID
}

// Logout moves to LoggedOut. Logging out twice is harmless.
func (l *Lifecycle) Logout() {
	l.state = StateLoggedOut
}

// Check fails with NotLoggedIn unless the transport is logged in.
func (l *Lifecycle) Check(op string) error {
	if l.state != StateLoggedIn {
		return repoerr.At(repoerr.CodeNotLoggedIn, op, "", "transport is %s", l.state)
	}
	return nil
}

// State returns the current state.
func (l *Lifecycle) State() State { return l.state }

// Workspace returns the workspace connected at login.
func (l *Lifecycle) Workspace() string { return l.workspace }

// UserID returns the user that logged in.
func (l *Lifecycle) UserID() string { return l.userID }
