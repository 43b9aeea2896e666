package session

import (
	"context"
	"io"
	"slices"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/om"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/value"
)

// RootNode returns the root node of the workspace.
func (s *Session) RootNode(ctx context.Context) (*om.Node, error) {
	return s.Node(ctx, itempath.Root)
}

// Node returns the node at an absolute path.
func (s *Session) Node(ctx context.Context, path string) (*om.Node, error) {
	if err := s.check("getNode"); err != nil {
		return nil, err
	}
	return s.om.GetNodeByPath(ctx, path)
}

// NodeByIdentifier returns the referenceable node with identifier id.
func (s *Session) NodeByIdentifier(ctx context.Context, id string) (*om.Node, error) {
	if err := s.check("getNodeByIdentifier"); err != nil {
		return nil, err
	}
	if !itempath.IsIdentifier(id) {
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "getNodeByIdentifier", "", "%q is not an identifier", id)
	}
	return s.om.GetNode(ctx, id, itempath.Root)
}

// RelativeNode resolves an identifier, or a path relative to root.
func (s *Session) RelativeNode(ctx context.Context, identifierOrPath, root string) (*om.Node, error) {
	if err := s.check("getNode"); err != nil {
		return nil, err
	}
	return s.om.GetNode(ctx, identifierOrPath, root)
}

// Nodes returns the nodes found at paths, optionally restricted to nodes of
// at least one of nodeTypes. Missing paths are skipped.
func (s *Session) Nodes(ctx context.Context, paths []string, nodeTypes ...string) ([]*om.Node, error) {
	if err := s.check("getNodes"); err != nil {
		return nil, err
	}
	return s.om.GetNodesByPath(ctx, paths, nodeTypes...)
}

// NodesByIdentifier returns the nodes found for ids. Unknown identifiers
// are skipped.
func (s *Session) NodesByIdentifier(ctx context.Context, ids []string) ([]*om.Node, error) {
	if err := s.check("getNodesByIdentifier"); err != nil {
		return nil, err
	}
	return s.om.GetNodesByIdentifier(ctx, ids)
}

// Children returns the child nodes of the node at path, in order.
func (s *Session) Children(ctx context.Context, path string) ([]*om.Node, error) {
	n, err := s.Node(ctx, path)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(n.Children))
	for i, name := range n.Children {
		paths[i] = itempath.Child(n.Path, name)
	}
	return s.om.GetNodesByPath(ctx, paths)
}

// Property returns the property at an absolute path.
func (s *Session) Property(ctx context.Context, path string) (*om.Property, error) {
	if err := s.check("getProperty"); err != nil {
		return nil, err
	}
	return s.om.GetPropertyByPath(ctx, path)
}

// NodeExists reports whether a node is visible at path.
func (s *Session) NodeExists(ctx context.Context, path string) (bool, error) {
	if err := s.check("nodeExists"); err != nil {
		return false, err
	}
	return s.om.NodeExists(ctx, path)
}

// ItemExists reports whether a node or a property is visible at path.
func (s *Session) ItemExists(ctx context.Context, path string) (bool, error) {
	ok, err := s.NodeExists(ctx, path)
	if err != nil || ok {
		return ok, err
	}
	if path == itempath.Root {
		return false, nil
	}
	return s.om.PropertyExists(ctx, path)
}

// AddNode creates name under the node at parentPath. An empty primaryType
// takes the default the parent's definition declares for that name.
func (s *Session) AddNode(ctx context.Context, parentPath, name, primaryType string) (*om.Node, error) {
	if err := s.check("addNode"); err != nil {
		return nil, err
	}
	return s.om.AddNode(ctx, parentPath, name, primaryType)
}

// SetProperty sets a single-valued property. A zero Value removes it.
func (s *Session) SetProperty(ctx context.Context, nodePath, name string, v value.Value) (*om.Property, error) {
	if err := s.check("setProperty"); err != nil {
		return nil, err
	}
	if v.IsZero() {
		return s.om.SetProperty(ctx, nodePath, name, value.Undefined, nil, false)
	}
	return s.om.SetProperty(ctx, nodePath, name, v.Type(), []value.Value{v}, false)
}

// SetValues sets a multi-valued property of type typ. Undefined takes the
// type of the first value.
func (s *Session) SetValues(ctx context.Context, nodePath, name string, typ value.Type, vals []value.Value) (*om.Property, error) {
	if err := s.check("setProperty"); err != nil {
		return nil, err
	}
	return s.om.SetProperty(ctx, nodePath, name, typ, vals, true)
}

// SetBinary sets a single-valued BINARY property.
func (s *Session) SetBinary(ctx context.Context, nodePath, name string, data []byte) (*om.Property, error) {
	if err := s.check("setProperty"); err != nil {
		return nil, err
	}
	return s.om.SetBinary(ctx, nodePath, name, [][]byte{data}, false)
}

// Binary opens the index-th value of a BINARY property.
func (s *Session) Binary(ctx context.Context, propPath string, index int) (io.ReadCloser, error) {
	if err := s.check("getBinary"); err != nil {
		return nil, err
	}
	return s.om.OpenBinary(ctx, propPath, index)
}

// AddMixin adds a mixin type to the node at path. Adding a mixin the node
// already has does nothing.
func (s *Session) AddMixin(ctx context.Context, path, mixin string) error {
	n, err := s.Node(ctx, path)
	if err != nil {
		return err
	}
	if slices.Contains(n.Mixins, mixin) {
		return nil
	}
	_, err = s.om.SetProperty(ctx, n.Path, om.PropMixinTypes, value.Name, mixinValues(append(slices.Clone(n.Mixins), mixin)), true)
	return err
}

// RemoveMixin removes a mixin type from the node at path.
func (s *Session) RemoveMixin(ctx context.Context, path, mixin string) error {
	n, err := s.Node(ctx, path)
	if err != nil {
		return err
	}
	if !slices.Contains(n.Mixins, mixin) {
		return repoerr.At(repoerr.CodeNoSuchNodeType, "removeMixin", n.Path, "node does not have mixin %s", mixin)
	}
	rest := slices.DeleteFunc(slices.Clone(n.Mixins), func(m string) bool { return m == mixin })
	if len(rest) == 0 {
		return s.om.RemoveProperty(ctx, itempath.Child(n.Path, om.PropMixinTypes))
	}
	_, err = s.om.SetProperty(ctx, n.Path, om.PropMixinTypes, value.Name, mixinValues(rest), true)
	return err
}

func mixinValues(names []string) []value.Value {
	vals := make([]value.Value, len(names))
	for i, n := range names {
		vals[i] = value.NewName(n)
	}
	return vals
}

// RemoveItem removes the node at path, or the property when no node is
// there.
func (s *Session) RemoveItem(ctx context.Context, path string) error {
	ok, err := s.NodeExists(ctx, path)
	if err != nil {
		return err
	}
	if ok {
		return s.om.RemoveNode(ctx, path)
	}
	return s.om.RemoveProperty(ctx, path)
}

// Move moves the node at src to dst, which names the new node itself.
func (s *Session) Move(ctx context.Context, src, dst string) (*om.Node, error) {
	if err := s.check("move"); err != nil {
		return nil, err
	}
	return s.om.MoveNode(ctx, src, dst)
}

// Copy copies the subtree at src to dst within the workspace. It writes
// immediately.
func (s *Session) Copy(ctx context.Context, src, dst string) (*om.Node, error) {
	if err := s.check("copy"); err != nil {
		return nil, err
	}
	return s.om.CopyNode(ctx, src, dst, "")
}

// CopyFrom copies the subtree at src in srcWorkspace to dst in this
// workspace. It writes immediately.
func (s *Session) CopyFrom(ctx context.Context, srcWorkspace, src, dst string) (*om.Node, error) {
	if err := s.check("copy"); err != nil {
		return nil, err
	}
	if srcWorkspace == "" {
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "copy", src, "source workspace must not be empty")
	}
	return s.om.CopyNode(ctx, src, dst, srcWorkspace)
}

// OrderBefore moves child src of the node at parentPath before dest, or to
// the end when dest is empty. It writes immediately.
func (s *Session) OrderBefore(ctx context.Context, parentPath, src, dest string) error {
	if err := s.check("orderBefore"); err != nil {
		return err
	}
	return s.om.OrderBefore(ctx, parentPath, src, dest)
}

// References returns paths of REFERENCE properties pointing at the node at
// path, restricted to properties called name when name is set.
func (s *Session) References(ctx context.Context, path, name string) ([]string, error) {
	bp, err := s.backendPath("getReferences", path)
	if err != nil {
		return nil, err
	}
	refs, err := s.t.GetReferences(ctx, bp, name)
	if err != nil {
		return nil, repoerr.Wrap(err, "getReferences", path)
	}
	return refs, nil
}

// WeakReferences is References for WEAKREFERENCE properties.
func (s *Session) WeakReferences(ctx context.Context, path, name string) ([]string, error) {
	bp, err := s.backendPath("getWeakReferences", path)
	if err != nil {
		return nil, err
	}
	refs, err := s.t.GetWeakReferences(ctx, bp, name)
	if err != nil {
		return nil, repoerr.Wrap(err, "getWeakReferences", path)
	}
	return refs, nil
}

// HasPendingChanges reports whether Save has anything to write.
func (s *Session) HasPendingChanges() bool { return s.om.HasPendingChanges() }

// Save writes pending changes to the backend.
func (s *Session) Save(ctx context.Context) error {
	if err := s.check("save"); err != nil {
		return err
	}
	return s.om.Save(ctx)
}

// Refresh drops cached state. Without keepChanges pending changes are
// discarded too.
func (s *Session) Refresh(keepChanges bool) {
	s.om.Refresh(keepChanges)
}

// backendPath checks the session and translates path for a direct
// transport call.
func (s *Session) backendPath(op, path string) (string, error) {
	if err := s.check(op); err != nil {
		return "", err
	}
	bp, err := s.om.BackendPath(path)
	if err != nil {
		return "", repoerr.Wrap(err, op, path)
	}
	return bp, nil
}
