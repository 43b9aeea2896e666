// Package operation describes pending mutations queued by a session until
// save.
//
// Operation is a sealed interface: only the types in this package implement
// it, so the flush loop can switch over them exhaustively. Every operation
// records SrcPath as it was when the operation was created. Replay applies
// operations in creation order against those paths, never against live
// item objects, which keeps multiple moves of the same subtree within one
// save consistent.
package operation

// Kind names an operation variant.
type Kind string

const (
	KindAddNode        Kind = "add_node"
	KindRemoveNode     Kind = "remove_node"
	KindRemoveProperty Kind = "remove_property"
	KindMoveNode       Kind = "move_node"
	KindSetPolicy      Kind = "set_policy"
)

// Operation is one pending mutation.
type Operation interface {
	// Kind identifies the variant.
	Kind() Kind

	// Path is the source path captured at creation time.
	Path() string

	operationNode() // Marker method - seals interface to this package
}

// AddNode records the creation of a node at SrcPath. Properties of the new
// node are read from the session cache at flush time.
type AddNode struct {
	SrcPath     string
	PrimaryType string
	Identifier  string // Assigned up front for referenceable nodes
}

func (AddNode) operationNode() {}

// Kind implements Operation.
func (AddNode) Kind() Kind { return KindAddNode }

// Path implements Operation.
func (o AddNode) Path() string { return o.SrcPath }

// RemoveNode records the removal of the node at SrcPath.
type RemoveNode struct {
	SrcPath    string
	Identifier string // Identifier of the removed node, if referenceable
}

func (RemoveNode) operationNode() {}

// Kind implements Operation.
func (RemoveNode) Kind() Kind { return KindRemoveNode }

// Path implements Operation.
func (o RemoveNode) Path() string { return o.SrcPath }

// RemoveProperty records the removal of the property at SrcPath.
type RemoveProperty struct {
	SrcPath string
}

func (RemoveProperty) operationNode() {}

// Kind implements Operation.
func (RemoveProperty) Kind() Kind { return KindRemoveProperty }

// Path implements Operation.
func (o RemoveProperty) Path() string { return o.SrcPath }

// MoveNode records a move of the subtree at SrcPath to DstPath.
type MoveNode struct {
	SrcPath string
	DstPath string
}

func (MoveNode) operationNode() {}

// Kind implements Operation.
func (MoveNode) Kind() Kind { return KindMoveNode }

// Path implements Operation.
func (o MoveNode) Path() string { return o.SrcPath }

// Policy is an access control policy as understood by the transport.
type Policy struct {
	Name    string
	Entries []AccessControlEntry
}

// AccessControlEntry grants or denies privileges to a principal.
type AccessControlEntry struct {
	Principal  string
	Privileges []string
	Allow      bool
}

// SetPolicy records binding an access control policy to the node at SrcPath.
type SetPolicy struct {
	SrcPath string
	Policy  Policy
}

func (SetPolicy) operationNode() {}

// Kind implements Operation.
func (SetPolicy) Kind() Kind { return KindSetPolicy }

// Path implements Operation.
func (o SetPolicy) Path() string { return o.SrcPath }
