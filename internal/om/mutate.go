package om

import (
	"context"
	"slices"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/nodetype"
	"github.com/roach88/crepo/internal/operation"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/value"
)

const mixReferenceable = "mix:referenceable"

// AddNode creates an unsaved node called name under parentPath. An empty
// primaryType uses the default type the parent's definition declares for
// that child, else nt:unstructured. Referenceable nodes get an identifier
// immediately.
func (m *Manager) AddNode(ctx context.Context, parentPath, name, primaryType string) (*Node, error) {
	if _, err := m.requireWriting("addNode"); err != nil {
		return nil, err
	}
	m.enter()
	defer m.leave()

	parent, err := m.GetNodeByPath(ctx, parentPath)
	if err != nil {
		return nil, err
	}
	p, err := itempath.Normalize(itempath.Child(parent.Path, name))
	if err != nil {
		return nil, err
	}
	if itempath.Parent(p) != parent.Path {
		return nil, repoerr.At(repoerr.CodeInvalidPath, "addNode", p, "name %q is not a single segment", name)
	}
	if primaryType == "" {
		primaryType = m.defaultChildType(parent, itempath.Name(p))
	}
	def, err := m.types.Get(primaryType)
	if err != nil {
		return nil, repoerr.Wrap(err, "addNode", p)
	}
	if def.Mixin || def.Abstract {
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "addNode", p, "%s cannot be a primary type", primaryType)
	}
	if _, ok := m.nodes[p]; ok || parent.HasChild(itempath.Name(p)) {
		return nil, repoerr.At(repoerr.CodeItemExists, "addNode", p, "node already exists")
	}

	n := &Node{
		Path:        p,
		Name:        itempath.Name(p),
		Depth:       itempath.Depth(p),
		PrimaryType: primaryType,
		New:         true,
		Modified:    true,
	}
	_, n.Index = itempath.SplitName(n.Name)
	if m.types.IsNodeType(primaryType, nil, mixReferenceable) {
		n.Identifier = m.newID()
	}
	n.syncDerived()
	for _, pd := range def.Properties {
		if !pd.AutoCreated || pd.Name == nodetype.Residual || isDerived(pd.Name) || len(pd.Defaults) == 0 {
			continue
		}
		if err := n.autoCreate(pd.Name, pd.RequiredType, pd.Multiple, pd.Defaults); err != nil {
			return nil, repoerr.Wrap(err, "addNode", p)
		}
	}

	parent.Children = append(parent.Children, n.Name)
	m.register(n)
	m.RegisterOperation(operation.AddNode{SrcPath: p, PrimaryType: primaryType, Identifier: n.Identifier})
	m.MarkModified(parent.Path)
	return n, nil
}

func (m *Manager) defaultChildType(parent *Node, name string) string {
	for _, t := range append([]string{parent.PrimaryType}, parent.Mixins...) {
		def, err := m.types.Get(t)
		if err != nil {
			continue
		}
		if cd, ok := def.Child(name); ok && cd.DefaultType != "" {
			return cd.DefaultType
		}
	}
	return "nt:unstructured"
}

// SetProperty sets a property of the node at nodePath. typ is the property
// type the values are converted to; Undefined keeps the type of the first
// value. Setting a single-valued property to no values removes it.
//
// jcr:primaryType and jcr:mixinTypes change the node's types. jcr:uuid is
// protected.
func (m *Manager) SetProperty(ctx context.Context, nodePath, name string, typ value.Type, vals []value.Value, multiple bool) (*Property, error) {
	if _, err := m.requireWriting("setProperty"); err != nil {
		return nil, err
	}
	m.enter()
	defer m.leave()

	n, err := m.GetNodeByPath(ctx, nodePath)
	if err != nil {
		return nil, err
	}
	if err := itempath.ValidateName(name); err != nil {
		return nil, err
	}
	p := itempath.Child(n.Path, name)
	if !multiple && len(vals) > 1 {
		return nil, repoerr.At(repoerr.CodeValueFormat, "setProperty", p, "%d values for a single-valued property", len(vals))
	}
	if !multiple && len(vals) == 0 {
		if _, ok := n.Property(name); !ok {
			return nil, nil
		}
		return nil, m.RemoveProperty(ctx, p)
	}
	if typ == value.Undefined {
		typ = value.String
		if len(vals) > 0 {
			typ = vals[0].Type()
		}
	}
	if typ == value.Binary {
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "setProperty", p, "binary content is set with SetBinary")
	}
	converted := make([]value.Value, len(vals))
	for i, v := range vals {
		if converted[i], err = v.Convert(typ); err != nil {
			return nil, repoerr.Wrap(err, "setProperty", p)
		}
	}

	switch name {
	case PropUUID:
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "setProperty", p, "property is protected")
	case PropPrimaryType:
		if err := m.setPrimaryType(n, converted); err != nil {
			return nil, err
		}
		prop, _ := n.Property(name)
		prop.Modified = true
		m.MarkModified(n.Path)
		return prop, nil
	case PropMixinTypes:
		if err := m.setMixins(n, converted); err != nil {
			return nil, err
		}
		m.MarkModified(n.Path)
		prop, _ := n.Property(name)
		return prop, nil
	}

	prop, ok := n.Property(name)
	if !ok {
		prop = &Property{Path: p, Name: name, New: true}
		n.props = append(n.props, prop)
	}
	prop.Type = typ
	prop.Multiple = multiple
	prop.Values = converted
	prop.Lengths = nil
	prop.binaries = nil
	prop.Modified = true
	m.MarkModified(n.Path)
	return prop, nil
}

func (m *Manager) setPrimaryType(n *Node, vals []value.Value) error {
	if len(vals) != 1 {
		return repoerr.At(repoerr.CodeValueFormat, "setPrimaryType", n.Path, "primary type must be a single name")
	}
	name := vals[0].String()
	def, err := m.types.Get(name)
	if err != nil {
		return repoerr.Wrap(err, "setPrimaryType", n.Path)
	}
	if def.Mixin || def.Abstract {
		return repoerr.At(repoerr.CodeInvalidArgument, "setPrimaryType", n.Path, "%s cannot be a primary type", name)
	}
	n.PrimaryType = name
	m.assignIdentifier(n)
	return nil
}

func (m *Manager) setMixins(n *Node, vals []value.Value) error {
	mixins := make([]string, 0, len(vals))
	for _, v := range vals {
		def, err := m.types.Get(v.String())
		if err != nil {
			return repoerr.Wrap(err, "addMixin", n.Path)
		}
		if !def.Mixin {
			return repoerr.At(repoerr.CodeInvalidArgument, "addMixin", n.Path, "%s is not a mixin type", def.Name)
		}
		if !slices.Contains(mixins, def.Name) {
			mixins = append(mixins, def.Name)
		}
	}
	n.Mixins = mixins
	n.mixinsDirty = !n.New
	m.assignIdentifier(n)
	return nil
}

// assignIdentifier gives a new node that became referenceable an
// identifier. Saved nodes get theirs from the backend.
func (m *Manager) assignIdentifier(n *Node) {
	if n.New && n.Identifier == "" && m.types.IsNodeType(n.PrimaryType, n.Mixins, mixReferenceable) {
		n.Identifier = m.newID()
		m.uuids[n.Identifier] = n.Path
	}
	n.syncDerived()
}

// SetBinary sets a BINARY property from in-memory content. The content is
// kept until save.
func (m *Manager) SetBinary(ctx context.Context, nodePath, name string, data [][]byte, multiple bool) (*Property, error) {
	if _, err := m.requireWriting("setProperty"); err != nil {
		return nil, err
	}
	m.enter()
	defer m.leave()

	n, err := m.GetNodeByPath(ctx, nodePath)
	if err != nil {
		return nil, err
	}
	if err := itempath.ValidateName(name); err != nil {
		return nil, err
	}
	p := itempath.Child(n.Path, name)
	if isDerived(name) {
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "setProperty", p, "property is protected")
	}
	if !multiple && len(data) != 1 {
		return nil, repoerr.At(repoerr.CodeValueFormat, "setProperty", p, "%d values for a single-valued property", len(data))
	}

	prop, ok := n.Property(name)
	if !ok {
		prop = &Property{Path: p, Name: name, New: true}
		n.props = append(n.props, prop)
	}
	prop.Type = value.Binary
	prop.Multiple = multiple
	prop.Values = nil
	prop.binaries = make([][]byte, len(data))
	prop.Lengths = make([]int64, len(data))
	for i, b := range data {
		prop.binaries[i] = slices.Clone(b)
		prop.Lengths[i] = int64(len(b))
	}
	prop.Modified = true
	m.MarkModified(n.Path)
	return prop, nil
}

// RemoveProperty removes the property at path. Properties that exist only
// in the session are dropped without queuing an operation.
func (m *Manager) RemoveProperty(ctx context.Context, path string) error {
	if _, err := m.requireWriting("removeProperty"); err != nil {
		return err
	}
	m.enter()
	defer m.leave()

	prop, err := m.GetPropertyByPath(ctx, path)
	if err != nil {
		return err
	}
	if prop.Name == PropPrimaryType || prop.Name == PropUUID {
		return repoerr.At(repoerr.CodeInvalidArgument, "removeProperty", prop.Path, "property is protected")
	}
	parentPath := itempath.Parent(prop.Path)
	n := m.nodes[parentPath]

	if prop.Name == PropMixinTypes {
		n.Mixins = nil
		n.mixinsDirty = !n.New
		n.syncDerived()
		m.MarkModified(n.Path)
		return nil
	}

	n.dropProperty(prop.Name)
	if !prop.New && !n.New {
		m.RegisterOperation(operation.RemoveProperty{SrcPath: prop.Path})
	}
	m.MarkModified(n.Path)
	return nil
}

// RemoveNode removes the node at path and its subtree from the session.
// Cached descendants are evicted immediately.
func (m *Manager) RemoveNode(ctx context.Context, path string) error {
	if _, err := m.requireWriting("removeNode"); err != nil {
		return err
	}
	m.enter()
	defer m.leave()

	n, err := m.GetNodeByPath(ctx, path)
	if err != nil {
		return err
	}
	if n.Path == itempath.Root {
		return repoerr.At(repoerr.CodeInvalidArgument, "removeNode", n.Path, "root node cannot be removed")
	}

	evicted := m.evict(n.Path)
	if parent, ok := m.nodes[n.Parent()]; ok {
		parent.Children = slices.DeleteFunc(parent.Children, func(c string) bool { return c == n.Name })
	}
	m.RegisterOperation(operation.RemoveNode{SrcPath: n.Path, Identifier: n.Identifier})
	m.MarkModified(n.Parent())
	m.logger.Debug("node removed", "path", n.Path, "evicted", len(evicted))
	return nil
}

// MoveNode moves the subtree at src to dst and returns the node at dst.
//
// The moved node and its cached descendants are replaced by new instances
// at their new paths; instances obtained before the move keep their old
// paths and are no longer tracked. Moving within the same parent keeps the
// child's position.
func (m *Manager) MoveNode(ctx context.Context, src, dst string) (*Node, error) {
	if _, err := m.requireWriting("moveNode"); err != nil {
		return nil, err
	}
	m.enter()
	defer m.leave()

	from, err := itempath.Normalize(src)
	if err != nil {
		return nil, err
	}
	to, err := itempath.Normalize(dst)
	if err != nil {
		return nil, err
	}
	if from == itempath.Root {
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "moveNode", from, "root node cannot be moved")
	}
	if itempath.IsSelfOrDescendant(to, from) {
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "moveNode", to, "cannot move %s into its own subtree", from)
	}

	n, err := m.GetNodeByPath(ctx, from)
	if err != nil {
		return nil, err
	}
	dstParent, err := m.GetNodeByPath(ctx, itempath.Parent(to))
	if err != nil {
		return nil, repoerr.Wrap(err, "moveNode", to)
	}
	if exists, err := m.NodeExists(ctx, to); err != nil {
		return nil, err
	} else if exists || dstParent.HasChild(itempath.Name(to)) {
		return nil, repoerr.At(repoerr.CodeItemExists, "moveNode", to, "destination already exists")
	}
	srcParent := m.nodes[n.Parent()]

	for _, old := range m.evict(from) {
		np, _ := itempath.Rebase(old.Path, from, to)
		m.register(old.rebind(np))
	}

	newName := itempath.Name(to)
	if srcParent == dstParent {
		if i := slices.Index(srcParent.Children, n.Name); i >= 0 {
			srcParent.Children[i] = newName
		}
	} else {
		if srcParent != nil {
			srcParent.Children = slices.DeleteFunc(srcParent.Children, func(c string) bool { return c == n.Name })
		}
		dstParent.Children = append(dstParent.Children, newName)
	}

	m.RegisterOperation(operation.MoveNode{SrcPath: from, DstPath: to})
	m.MarkModified(itempath.Parent(from))
	m.MarkModified(dstParent.Path)
	return m.nodes[to], nil
}

// OrderBefore moves child src of parentPath before its sibling dest, or to
// the end when dest is empty. The new order is written immediately, so the
// parent and both children must already be saved.
func (m *Manager) OrderBefore(ctx context.Context, parentPath, src, dest string) error {
	w, err := m.requireWriting("orderBefore")
	if err != nil {
		return err
	}
	m.enter()
	defer m.leave()

	parent, err := m.GetNodeByPath(ctx, parentPath)
	if err != nil {
		return err
	}
	backend, ok := m.log.BackendPath(parent.Path)
	if !ok {
		return repoerr.At(repoerr.CodeInvalidArgument, "orderBefore", parent.Path, "save the node before reordering its children")
	}
	order := slices.Clone(parent.Children)
	i := slices.Index(order, src)
	if i < 0 {
		return repoerr.At(repoerr.CodeItemNotFound, "orderBefore", itempath.Child(parent.Path, src), "no such child")
	}
	if dest != "" && !slices.Contains(order, dest) {
		return repoerr.At(repoerr.CodeItemNotFound, "orderBefore", itempath.Child(parent.Path, dest), "no such child")
	}
	if src == dest {
		return nil
	}
	order = slices.Delete(order, i, i+1)
	if dest == "" {
		order = append(order, src)
	} else {
		j := slices.Index(order, dest)
		order = slices.Insert(order, j, src)
	}

	saved := make([]string, 0, len(order))
	for _, name := range order {
		if _, ok := m.log.BackendPath(itempath.Child(parent.Path, name)); ok {
			saved = append(saved, name)
		} else if name == src || name == dest {
			return repoerr.At(repoerr.CodeInvalidArgument, "orderBefore", itempath.Child(parent.Path, name), "save the node before reordering it")
		}
	}
	if err := w.ReorderChildren(ctx, backend, saved); err != nil {
		return repoerr.Wrap(err, "orderBefore", parent.Path)
	}
	parent.Children = order
	return nil
}

// CopyNode copies the saved subtree at src, read from srcWorkspace when it
// is set, to dst. The copy is written immediately.
func (m *Manager) CopyNode(ctx context.Context, src, dst, srcWorkspace string) (*Node, error) {
	w, err := m.requireWriting("copy")
	if err != nil {
		return nil, err
	}
	m.enter()
	defer m.leave()

	from, err := itempath.Normalize(src)
	if err != nil {
		return nil, err
	}
	to, err := itempath.Normalize(dst)
	if err != nil {
		return nil, err
	}
	if srcWorkspace == "" {
		var ok bool
		if from, ok = m.log.BackendPath(from); !ok {
			return nil, repoerr.At(repoerr.CodeInvalidArgument, "copy", src, "save the node before copying it")
		}
	}
	dstParent, err := m.GetNodeByPath(ctx, itempath.Parent(to))
	if err != nil {
		return nil, repoerr.Wrap(err, "copy", to)
	}
	backendParent, ok := m.log.BackendPath(dstParent.Path)
	if !ok {
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "copy", to, "save the destination parent before copying into it")
	}
	if dstParent.HasChild(itempath.Name(to)) {
		return nil, repoerr.At(repoerr.CodeItemExists, "copy", to, "destination already exists")
	}
	if err := w.CopyNode(ctx, from, itempath.Child(backendParent, itempath.Name(to)), srcWorkspace); err != nil {
		return nil, repoerr.Wrap(err, "copy", to)
	}
	dstParent.Children = append(dstParent.Children, itempath.Name(to))
	return m.GetNodeByPath(ctx, to)
}

// SetPolicy binds an access control policy to the node at path on save.
func (m *Manager) SetPolicy(ctx context.Context, path string, policy operation.Policy) error {
	if m.caps.AccessControl == nil {
		return repoerr.Unsupported("setPolicy", "AccessControl")
	}
	m.enter()
	defer m.leave()

	n, err := m.GetNodeByPath(ctx, path)
	if err != nil {
		return err
	}
	m.RegisterOperation(operation.SetPolicy{SrcPath: n.Path, Policy: policy})
	m.MarkModified(n.Path)
	return nil
}
