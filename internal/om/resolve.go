package om

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strconv"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/operation"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// GetNodeByPath returns the node at path.
//
// Two calls with the same normalized path return the same *Node until the
// node is moved, removed or evicted. Paths under a pending removal, under a
// moved-away source, or under an unsaved node that is not cached fail with
// ItemNotFound without asking the transport.
func (m *Manager) GetNodeByPath(ctx context.Context, path string) (*Node, error) {
	p, err := itempath.Normalize(path)
	if err != nil {
		return nil, err
	}
	if n, ok := m.nodes[p]; ok {
		return n, nil
	}

	backend, ok := m.log.BackendPath(p)
	if !ok {
		return nil, repoerr.At(repoerr.CodeItemNotFound, "getNodeByPath", p, "no node at path")
	}
	rec, err := m.fetch(ctx, backend)
	if err != nil {
		return nil, repoerr.Wrap(err, "getNodeByPath", p)
	}
	return m.load(p, rec)
}

// BackendPath translates a session path to where the item lives in the
// backend, undoing pending moves. It fails with ItemNotFound when the item
// has no persisted counterpart: it is new, removed, or under a node that
// is.
func (m *Manager) BackendPath(path string) (string, error) {
	p, err := itempath.Normalize(path)
	if err != nil {
		return "", err
	}
	if n, ok := m.nodes[p]; ok && n.New {
		return "", repoerr.At(repoerr.CodeItemNotFound, "backendPath", p, "node is not saved")
	}
	backend, ok := m.log.BackendPath(p)
	if !ok {
		return "", repoerr.At(repoerr.CodeItemNotFound, "backendPath", p, "node is not saved")
	}
	return backend, nil
}

// fetch reads the record at a backend path, preferring the prefetch cache.
func (m *Manager) fetch(ctx context.Context, backend string) (*transport.NodeRecord, error) {
	if rec, ok := m.prefetched[backend]; ok {
		delete(m.prefetched, backend)
		return rec, nil
	}
	m.logger.Debug("cache miss", "op", "getNode", "path", backend)
	return m.t.GetNode(ctx, backend)
}

// load builds and registers the node for a record fetched for path p.
func (m *Manager) load(p string, rec *transport.NodeRecord) (*Node, error) {
	if n, ok := m.nodes[p]; ok {
		return n, nil
	}
	m.cachePrefetched(rec)
	n, err := newNode(p, rec)
	if err != nil {
		return nil, err
	}
	if m.log.Len() > 0 {
		n.Children = m.visibleChildren(p, rec.Path, n.Children)
	}
	m.register(n)
	return n, nil
}

// visibleChildren applies pending operations to the child names a backend
// reported for the node at p, read at backend path bp. Children removed or
// moved away are dropped; children added or moved in are appended in
// operation order.
func (m *Manager) visibleChildren(p, bp string, names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if b, ok := m.log.BackendPath(itempath.Child(p, name)); ok && b == itempath.Child(bp, name) {
			out = append(out, name)
		}
	}
	for _, e := range m.log.Entries() {
		var target string
		switch op := e.Op.(type) {
		case operation.AddNode:
			target = op.SrcPath
		case operation.MoveNode:
			target = op.DstPath
		default:
			continue
		}
		cur, ok := m.log.CurrentPath(target, e.Seq)
		if !ok || cur == itempath.Root || itempath.Parent(cur) != p {
			continue
		}
		if name := itempath.Name(cur); !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// NodeExists reports whether a node exists at path. Not-found errors become
// false; every other error is returned.
func (m *Manager) NodeExists(ctx context.Context, path string) (bool, error) {
	_, err := m.GetNodeByPath(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repoerr.ErrItemNotFound), errors.Is(err, repoerr.ErrPathNotFound):
		return false, nil
	}
	return false, err
}

// GetPropertyByPath returns the property at path. A missing property on an
// existing node fails with PathNotFound.
func (m *Manager) GetPropertyByPath(ctx context.Context, path string) (*Property, error) {
	p, err := itempath.Normalize(path)
	if err != nil {
		return nil, err
	}
	if p == itempath.Root {
		return nil, repoerr.At(repoerr.CodePathNotFound, "getPropertyByPath", p, "the root is not a property")
	}
	parent, name := itempath.Split(p)
	n, err := m.GetNodeByPath(ctx, parent)
	if err != nil {
		return nil, repoerr.Wrap(err, "getPropertyByPath", p)
	}
	prop, ok := n.Property(name)
	if !ok {
		return nil, repoerr.At(repoerr.CodePathNotFound, "getPropertyByPath", p, "no property at path")
	}
	return prop, nil
}

// PropertyExists reports whether a property exists at path.
func (m *Manager) PropertyExists(ctx context.Context, path string) (bool, error) {
	_, err := m.GetPropertyByPath(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repoerr.ErrItemNotFound), errors.Is(err, repoerr.ErrPathNotFound):
		return false, nil
	}
	return false, err
}

// GetNode resolves an identifier or a path relative to root. Identifiers
// resolve through the UUID map, asking the transport for the path on first
// use; an identifier unknown to the backend fails with ItemNotFound.
func (m *Manager) GetNode(ctx context.Context, identifierOrPath, root string) (*Node, error) {
	if !itempath.IsIdentifier(identifierOrPath) {
		p, err := itempath.Join(root, identifierOrPath)
		if err != nil {
			return nil, err
		}
		return m.GetNodeByPath(ctx, p)
	}

	id := identifierOrPath
	if p, ok := m.uuids[id]; ok {
		if n, ok := m.nodes[p]; ok {
			return n, nil
		}
	}
	backend, err := m.t.GetNodePathForIdentifier(ctx, id)
	if err != nil {
		return nil, repoerr.Wrap(err, "getNodeByIdentifier", id)
	}
	p, ok := m.log.CurrentPath(backend, 0)
	if !ok {
		return nil, repoerr.At(repoerr.CodeItemNotFound, "getNodeByIdentifier", id, "node was removed")
	}
	n, err := m.GetNodeByPath(ctx, p)
	if err != nil {
		return nil, repoerr.Wrap(err, "getNodeByIdentifier", id)
	}
	if n.Identifier != id {
		return nil, repoerr.At(repoerr.CodeItemNotFound, "getNodeByIdentifier", id, "identifier now belongs to no node at %s", p)
	}
	return n, nil
}

// GetNodesByPath resolves several paths with at most one transport call for
// the misses. Missing nodes are skipped. When nodeTypes is non-empty only
// nodes of at least one of those types are returned: filtering is pushed to
// the transport when it supports NodeTypeFilter and done on the client
// otherwise. The result follows the order of paths.
func (m *Manager) GetNodesByPath(ctx context.Context, paths []string, nodeTypes ...string) ([]*Node, error) {
	found := make(map[string]*Node, len(paths))
	var order []string
	var misses []string
	backendOf := make(map[string]string)

	for _, raw := range paths {
		p, err := itempath.Normalize(raw)
		if err != nil {
			return nil, err
		}
		order = append(order, p)
		if n, ok := m.nodes[p]; ok {
			if m.types.MatchesAny(n.PrimaryType, n.Mixins, nodeTypes) {
				found[p] = n
			}
			continue
		}
		backend, ok := m.log.BackendPath(p)
		if !ok {
			continue
		}
		if rec, ok := m.prefetched[backend]; ok {
			if m.types.MatchesAny(rec.PrimaryType, rec.Mixins, nodeTypes) {
				delete(m.prefetched, backend)
				n, err := m.load(p, rec)
				if err != nil {
					return nil, err
				}
				found[p] = n
			}
			continue
		}
		if _, dup := backendOf[backend]; !dup {
			misses = append(misses, backend)
		}
		backendOf[backend] = p
	}

	if len(misses) > 0 {
		recs, err := m.fetchMany(ctx, misses, nodeTypes)
		if err != nil {
			return nil, err
		}
		for _, backend := range misses {
			rec, ok := recs[backend]
			if !ok {
				continue
			}
			n, err := m.load(backendOf[backend], rec)
			if err != nil {
				return nil, err
			}
			found[n.Path] = n
		}
	}

	out := make([]*Node, 0, len(found))
	for _, p := range order {
		if n, ok := found[p]; ok {
			out = append(out, n)
			delete(found, p)
		}
	}
	return out, nil
}

func (m *Manager) fetchMany(ctx context.Context, backend []string, nodeTypes []string) (map[string]*transport.NodeRecord, error) {
	m.logger.Debug("cache miss", "op", "getNodes", "count", len(backend))
	if len(nodeTypes) == 0 {
		recs, err := m.t.GetNodes(ctx, backend)
		return recs, repoerr.Wrap(err, "getNodes", "")
	}
	if m.caps.NodeTypeFilter != nil {
		recs, err := m.caps.NodeTypeFilter.GetNodesFiltered(ctx, backend, nodeTypes)
		return recs, repoerr.Wrap(err, "getNodesFiltered", "")
	}
	recs, err := m.t.GetNodes(ctx, backend)
	if err != nil {
		return nil, repoerr.Wrap(err, "getNodes", "")
	}
	for p, rec := range recs {
		if !m.types.MatchesAny(rec.PrimaryType, rec.Mixins, nodeTypes) {
			delete(recs, p)
		}
	}
	return recs, nil
}

// GetNodesByIdentifier resolves several identifiers with at most one
// transport call for the misses. Unknown identifiers are skipped. The result
// follows the order of ids.
func (m *Manager) GetNodesByIdentifier(ctx context.Context, ids []string) ([]*Node, error) {
	var misses []string
	for _, id := range ids {
		if p, ok := m.uuids[id]; ok {
			if _, ok := m.nodes[p]; ok {
				continue
			}
		}
		misses = append(misses, id)
	}

	if len(misses) > 0 {
		m.logger.Debug("cache miss", "op", "getNodesByIdentifier", "count", len(misses))
		recs, err := m.t.GetNodesByIdentifier(ctx, misses)
		if err != nil {
			return nil, repoerr.Wrap(err, "getNodesByIdentifier", "")
		}
		for _, id := range misses {
			rec, ok := recs[id]
			if !ok {
				continue
			}
			p, ok := m.log.CurrentPath(rec.Path, 0)
			if !ok {
				continue
			}
			if _, err := m.load(p, rec); err != nil {
				return nil, err
			}
		}
	}

	var out []*Node
	for _, id := range ids {
		p, ok := m.uuids[id]
		if !ok {
			continue
		}
		if n, ok := m.nodes[p]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// OpenBinary opens a binary property value for reading. index selects the
// value of a multi-valued property, starting at 0. Unsaved content is read
// from memory; saved content is streamed from the transport.
func (m *Manager) OpenBinary(ctx context.Context, propPath string, index int) (io.ReadCloser, error) {
	prop, err := m.GetPropertyByPath(ctx, propPath)
	if err != nil {
		return nil, err
	}
	if prop.Type != value.Binary {
		return nil, repoerr.At(repoerr.CodeValueFormat, "getBinary", prop.Path, "property is %s, not Binary", prop.Type)
	}
	if index < 0 || index >= len(prop.Lengths) {
		return nil, repoerr.At(repoerr.CodeItemNotFound, "getBinary", prop.Path, "no value at index %d", index)
	}
	if prop.binaries != nil {
		return io.NopCloser(bytes.NewReader(prop.binaries[index])), nil
	}

	parent, name := itempath.Split(prop.Path)
	backend, ok := m.log.BackendPath(parent)
	if !ok {
		return nil, repoerr.At(repoerr.CodeItemNotFound, "getBinary", prop.Path, "node is not saved")
	}
	target := itempath.Child(backend, name)
	if prop.Multiple {
		target += "[" + strconv.Itoa(index+1) + "]"
	}
	r, err := m.t.GetBinaryStream(ctx, target)
	if err != nil {
		return nil, repoerr.Wrap(err, "getBinary", prop.Path)
	}
	return r, nil
}
