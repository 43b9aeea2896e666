// Package transport defines the seam between the repository engine and a
// backend.
//
// Every backend implements Transport. Backends opt into further behavior by
// also implementing capability interfaces (Writing, Locking, Versioning,
// Transactional, Observation, AccessControl, Permission, Query,
// NodeTypeManagement or NodeTypeCndManagement, NodeTypeFilter). The engine
// resolves capabilities once with Detect and falls back to client-side
// behavior, or fails with UnsupportedOperation, when one is absent.
//
// Every method blocks. A Transport instance serves one logged-in session;
// concurrency comes from using several Session/Transport pairs.
package transport

import (
	"context"
	"io"
	"time"

	"github.com/roach88/crepo/internal/nodetype"
	"github.com/roach88/crepo/internal/operation"
)

// Transport is the mandatory backend contract.
//
// Lifecycle: Unauthenticated -> LoggedIn -> LoggedOut. Login succeeds at
// most once per instance. GetRepositoryDescriptors and
// GetAccessibleWorkspaceNames work before login; every other method fails
// with NotLoggedIn outside the LoggedIn state.
type Transport interface {
	GetRepositoryDescriptors(ctx context.Context) (map[string][]string, error)
	GetAccessibleWorkspaceNames(ctx context.Context) ([]string, error)

	// Login connects to workspace (the backend default when empty) and
	// returns the workspace actually connected.
	Login(ctx context.Context, creds Credentials, workspace string) (string, error)
	Logout(ctx context.Context) error

	// GetNamespaces returns prefix -> uri. No namespaces is an empty map.
	GetNamespaces(ctx context.Context) (map[string]string, error)

	GetNode(ctx context.Context, path string) (*NodeRecord, error)
	// GetNodes returns the records found, keyed by path. Missing paths are
	// omitted rather than reported as errors.
	GetNodes(ctx context.Context, paths []string) (map[string]*NodeRecord, error)
	GetNodeByIdentifier(ctx context.Context, id string) (*NodeRecord, error)
	// GetNodesByIdentifier returns the records found, keyed by identifier.
	GetNodesByIdentifier(ctx context.Context, ids []string) (map[string]*NodeRecord, error)
	GetNodePathForIdentifier(ctx context.Context, id string) (string, error)
	GetProperty(ctx context.Context, path string) (*PropertyRecord, error)

	// GetBinaryStream opens the binary at a property path. Multi-valued
	// binaries are addressed as "<path>[n]" with n starting at 1.
	GetBinaryStream(ctx context.Context, path string) (io.ReadCloser, error)

	// GetReferences returns paths of REFERENCE properties pointing at the
	// node at path, restricted to properties called name when name is set.
	GetReferences(ctx context.Context, path, name string) ([]string, error)
	GetWeakReferences(ctx context.Context, path, name string) ([]string, error)

	// GetNodeTypes returns definitions for names, or all custom types when
	// names is empty.
	GetNodeTypes(ctx context.Context, names []string) ([]nodetype.Definition, error)

	SetFetchDepth(depth int)
	FetchDepth() int
	SetAutoLastModified(enabled bool)
	AutoLastModified() bool
}

// Writing is implemented by backends that accept mutations.
type Writing interface {
	Transport

	// StoreNode creates the node described by rec together with its
	// properties. Children are stored by their own calls.
	StoreNode(ctx context.Context, rec *NodeRecord) error
	// StoreProperty creates or replaces a property of the node at nodePath.
	StoreProperty(ctx context.Context, nodePath string, prop PropertyRecord) error
	DeleteNode(ctx context.Context, path string) error
	DeleteProperty(ctx context.Context, path string) error
	MoveNode(ctx context.Context, src, dst string) error
	// CopyNode copies a subtree, from srcWorkspace when it is set.
	CopyNode(ctx context.Context, src, dst, srcWorkspace string) error
	ReorderChildren(ctx context.Context, parentPath string, order []string) error

	RegisterNamespace(ctx context.Context, prefix, uri string) error
	UnregisterNamespace(ctx context.Context, prefix string) error

	// Save lifecycle hooks bracketing one flush when no transaction is used.
	PrepareSave(ctx context.Context) error
	FinishSave(ctx context.Context) error
	RollbackSave(ctx context.Context) error
}

// Locking is implemented by backends that support locks.
type Locking interface {
	Transport

	Lock(ctx context.Context, path string, deep, sessionScoped bool, timeout time.Duration, owner string) (*LockInfo, error)
	Unlock(ctx context.Context, path, token string) error
	IsLocked(ctx context.Context, path string) (bool, error)
	GetLock(ctx context.Context, path string) (*LockInfo, error)
}

// Versioning is implemented by backends that keep version histories.
type Versioning interface {
	Transport

	// Checkin creates a version of the node and returns its path.
	Checkin(ctx context.Context, path string) (string, error)
	Checkout(ctx context.Context, path string) error
	Restore(ctx context.Context, removeExisting bool, versionPath, path string) error
	RemoveVersion(ctx context.Context, versionHistoryPath, versionName string) error
}

// Transactional is implemented by backends that can bracket writes.
type Transactional interface {
	Transport

	BeginTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
	SetTransactionTimeout(d time.Duration)
}

// Observation is implemented by backends that keep an event journal.
type Observation interface {
	Transport

	// GetEvents returns up to limit events after cursor that pass filter,
	// in journal order. limit <= 0 means no limit.
	GetEvents(ctx context.Context, filter EventFilter, after Cursor, limit int) ([]Event, error)
	// CursorAt returns the cursor just before the first event at or after t.
	CursorAt(ctx context.Context, t time.Time) (Cursor, error)
}

// AccessControl is implemented by backends that manage policies.
type AccessControl interface {
	Transport

	GetSupportedPrivileges(ctx context.Context, path string) ([]string, error)
	GetPolicies(ctx context.Context, path string) ([]operation.Policy, error)
	SetPolicy(ctx context.Context, path string, policy operation.Policy) error
}

// Permission is implemented by backends that evaluate permissions.
type Permission interface {
	Transport

	// GetPermissions returns the actions (read, add_node, set_property,
	// remove) the session may perform at path.
	GetPermissions(ctx context.Context, path string) ([]string, error)
}

// Query is implemented by backends that execute queries.
type Query interface {
	Transport

	SupportedQueryLanguages() []string
	Query(ctx context.Context, stmt Statement) ([]Row, error)
}

// NodeTypeManagement registers node types from definitions.
type NodeTypeManagement interface {
	Transport

	RegisterNodeTypes(ctx context.Context, defs []nodetype.Definition, allowUpdate bool) error
	UnregisterNodeTypes(ctx context.Context, names []string) error
}

// NodeTypeCndManagement registers node types from CND text. A backend
// implements at most one of NodeTypeManagement and NodeTypeCndManagement.
type NodeTypeCndManagement interface {
	Transport

	RegisterNodeTypesCnd(ctx context.Context, cnd string, allowUpdate bool) error
}

// NodeTypeFilter pushes node type filtering down to the backend.
type NodeTypeFilter interface {
	Transport

	// GetNodesFiltered is GetNodes restricted to nodes of at least one of
	// nodeTypes, including subtypes and mixins.
	GetNodesFiltered(ctx context.Context, paths []string, nodeTypes []string) (map[string]*NodeRecord, error)
}
