package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// GetNode returns the node at path with its properties and child names.
// With a fetch depth above 1, children arrive as prefetched records.
func (c *Conn) GetNode(ctx context.Context, path string) (*transport.NodeRecord, error) {
	if err := c.Check("getNode"); err != nil {
		return nil, err
	}
	p, err := itempath.Normalize(path)
	if err != nil {
		return nil, err
	}
	rec, err := c.readNode(ctx, c.q(), p, c.fetchDepth)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, repoerr.At(repoerr.CodeItemNotFound, "getNode", p, "no node at path")
	}
	return rec, nil
}

// GetNodes returns the nodes found, keyed by path. Children are not
// prefetched.
func (c *Conn) GetNodes(ctx context.Context, paths []string) (map[string]*transport.NodeRecord, error) {
	if err := c.Check("getNodes"); err != nil {
		return nil, err
	}
	out := make(map[string]*transport.NodeRecord, len(paths))
	for _, path := range paths {
		p, err := itempath.Normalize(path)
		if err != nil {
			return nil, err
		}
		rec, err := c.readNode(ctx, c.q(), p, 1)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out[p] = rec
		}
	}
	return out, nil
}

// GetNodesFiltered is GetNodes keeping only nodes of at least one of
// nodeTypes. The type closure is stored per node, so subtypes and mixins
// match without consulting the registry.
func (c *Conn) GetNodesFiltered(ctx context.Context, paths []string, nodeTypes []string) (map[string]*transport.NodeRecord, error) {
	recs, err := c.GetNodes(ctx, paths)
	if err != nil || len(nodeTypes) == 0 {
		return recs, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(nodeTypes)), ", ")
	query := `SELECT COUNT(*) FROM node_types WHERE workspace = ? AND path = ? AND type IN (` + placeholders + `)`
	for p := range recs {
		args := []any{c.Workspace(), p}
		for _, t := range nodeTypes {
			args = append(args, t)
		}
		var n int
		if err := c.q().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return nil, fmt.Errorf("filter node types: %w", err)
		}
		if n == 0 {
			delete(recs, p)
		}
	}
	return recs, nil
}

// GetNodeByIdentifier resolves a referenceable node.
func (c *Conn) GetNodeByIdentifier(ctx context.Context, id string) (*transport.NodeRecord, error) {
	p, err := c.GetNodePathForIdentifier(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.GetNode(ctx, p)
}

// GetNodesByIdentifier returns the nodes found, keyed by identifier.
func (c *Conn) GetNodesByIdentifier(ctx context.Context, ids []string) (map[string]*transport.NodeRecord, error) {
	if err := c.Check("getNodesByIdentifier"); err != nil {
		return nil, err
	}
	out := make(map[string]*transport.NodeRecord, len(ids))
	for _, id := range ids {
		p, err := c.pathForIdentifier(ctx, c.q(), id)
		if err != nil {
			return nil, err
		}
		if p == "" {
			continue
		}
		rec, err := c.readNode(ctx, c.q(), p, 1)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out[id] = rec
		}
	}
	return out, nil
}

// GetNodePathForIdentifier returns the path of the node with identifier id.
func (c *Conn) GetNodePathForIdentifier(ctx context.Context, id string) (string, error) {
	if err := c.Check("getNodePathForIdentifier"); err != nil {
		return "", err
	}
	p, err := c.pathForIdentifier(ctx, c.q(), id)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", repoerr.At(repoerr.CodeItemNotFound, "getNodeByIdentifier", id, "no node with identifier")
	}
	return p, nil
}

// GetProperty returns the property at path.
func (c *Conn) GetProperty(ctx context.Context, path string) (*transport.PropertyRecord, error) {
	if err := c.Check("getProperty"); err != nil {
		return nil, err
	}
	p, err := itempath.Normalize(path)
	if err != nil {
		return nil, err
	}
	nodePath, name := itempath.Split(p)
	props, err := c.readProperties(ctx, c.q(), c.Workspace(), nodePath, name)
	if err != nil {
		return nil, err
	}
	if len(props) == 0 {
		return nil, repoerr.At(repoerr.CodeItemNotFound, "getProperty", p, "no property at path")
	}
	return &props[0], nil
}

// GetBinaryStream opens a binary value. "<path>[n]" addresses value n of a
// multi-valued property.
func (c *Conn) GetBinaryStream(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := c.Check("getBinaryStream"); err != nil {
		return nil, err
	}
	p, err := itempath.Normalize(path)
	if err != nil {
		return nil, err
	}
	nodePath, segment := itempath.Split(p)
	name, index := itempath.SplitName(segment)

	var data []byte
	err = c.q().QueryRowContext(ctx, `
		SELECT data FROM property_values
		WHERE workspace = ? AND node_path = ? AND name = ? AND idx = ?
	`, c.Workspace(), nodePath, name, index-1).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repoerr.At(repoerr.CodeItemNotFound, "getBinaryStream", path, "no binary at path")
	}
	if err != nil {
		return nil, fmt.Errorf("read binary: %w", err)
	}
	if data == nil {
		return nil, repoerr.At(repoerr.CodeValueFormat, "getBinaryStream", path, "property is not binary")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// GetReferences returns paths of REFERENCE properties pointing at path.
func (c *Conn) GetReferences(ctx context.Context, path, name string) ([]string, error) {
	return c.references(ctx, "getReferences", path, name, value.Reference)
}

// GetWeakReferences returns paths of WEAKREFERENCE properties pointing at
// path.
func (c *Conn) GetWeakReferences(ctx context.Context, path, name string) ([]string, error) {
	return c.references(ctx, "getWeakReferences", path, name, value.WeakReference)
}

func (c *Conn) references(ctx context.Context, op, path, name string, typ value.Type) ([]string, error) {
	if err := c.Check(op); err != nil {
		return nil, err
	}
	p, err := itempath.Normalize(path)
	if err != nil {
		return nil, err
	}
	var id sql.NullString
	err = c.q().QueryRowContext(ctx, `SELECT identifier FROM nodes WHERE workspace = ? AND path = ?`, c.Workspace(), p).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repoerr.At(repoerr.CodeItemNotFound, op, p, "no node at path")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !id.Valid {
		return []string{}, nil
	}

	query := `
		SELECT DISTINCT v.node_path, v.name
		FROM property_values v
		JOIN properties p ON p.workspace = v.workspace AND p.node_path = v.node_path AND p.name = v.name
		WHERE v.workspace = ? AND p.type = ? AND v.value = ?`
	args := []any{c.Workspace(), int(typ), id.String}
	if name != "" {
		query += ` AND v.name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY v.node_path COLLATE BINARY ASC, v.name COLLATE BINARY ASC`

	rows, err := c.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var nodePath, propName string
		if err := rows.Scan(&nodePath, &propName); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, itempath.Child(nodePath, propName))
	}
	return out, rows.Err()
}

// readNode loads one node. It returns nil, nil when there is no node at p.
// depth counts the node itself: depth 2 also loads its children.
func (c *Conn) readNode(ctx context.Context, q querier, p string, depth int) (*transport.NodeRecord, error) {
	ws := c.Workspace()

	var id sql.NullString
	rec := &transport.NodeRecord{Path: p}
	err := q.QueryRowContext(ctx, `
		SELECT identifier, node_type FROM nodes WHERE workspace = ? AND path = ?
	`, ws, p).Scan(&id, &rec.PrimaryType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read node %s: %w", p, err)
	}
	rec.Identifier = id.String

	if rec.Mixins, err = c.readMixins(ctx, q, ws, p); err != nil {
		return nil, err
	}
	if rec.Properties, err = c.readProperties(ctx, q, ws, p, ""); err != nil {
		return nil, err
	}
	names, err := c.childNames(ctx, q, ws, p)
	if err != nil {
		return nil, err
	}
	rec.Children = make([]transport.ChildRecord, len(names))
	for i, name := range names {
		rec.Children[i].Name = name
		if depth > 1 {
			child, err := c.readNode(ctx, q, itempath.Child(p, name), depth-1)
			if err != nil {
				return nil, err
			}
			rec.Children[i].Prefetched = child
		}
	}
	return rec, nil
}

func (c *Conn) readMixins(ctx context.Context, q querier, ws, p string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT type FROM node_types
		WHERE workspace = ? AND path = ? AND is_mixin = 1 AND direct = 1
		ORDER BY type COLLATE BINARY ASC
	`, ws, p)
	if err != nil {
		return nil, fmt.Errorf("read mixins %s: %w", p, err)
	}
	defer rows.Close()

	var mixins []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan mixin: %w", err)
		}
		mixins = append(mixins, t)
	}
	return mixins, rows.Err()
}

func (c *Conn) childNames(ctx context.Context, q querier, ws, p string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name FROM nodes
		WHERE workspace = ? AND parent = ?
		ORDER BY sort_order ASC, path COLLATE BINARY ASC
	`, ws, p)
	if err != nil {
		return nil, fmt.Errorf("read children %s: %w", p, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// readProperties loads the properties of the node at p, or only the one
// called only when it is set.
func (c *Conn) readProperties(ctx context.Context, q querier, ws, p, only string) ([]transport.PropertyRecord, error) {
	query := `
		SELECT p.name, p.type, p.multiple, v.value, length(v.data)
		FROM properties p
		LEFT JOIN property_values v
			ON v.workspace = p.workspace AND v.node_path = p.node_path AND v.name = p.name
		WHERE p.workspace = ? AND p.node_path = ?`
	args := []any{ws, p}
	if only != "" {
		query += ` AND p.name = ?`
		args = append(args, only)
	}
	query += ` ORDER BY p.name COLLATE BINARY ASC, v.idx ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read properties %s: %w", p, err)
	}
	defer rows.Close()

	var props []transport.PropertyRecord
	for rows.Next() {
		var (
			name     string
			typ      int
			multiple bool
			val      sql.NullString
			length   sql.NullInt64
		)
		if err := rows.Scan(&name, &typ, &multiple, &val, &length); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		if len(props) == 0 || props[len(props)-1].Name != name {
			props = append(props, transport.PropertyRecord{Name: name, Type: value.Type(typ), Multiple: multiple})
		}
		prop := &props[len(props)-1]
		if !val.Valid {
			continue // multi-valued property with no values
		}
		if prop.Type == value.Binary {
			prop.Lengths = append(prop.Lengths, length.Int64)
			continue
		}
		prop.Values = append(prop.Values, val.String)
	}
	return props, rows.Err()
}

func (c *Conn) pathForIdentifier(ctx context.Context, q querier, id string) (string, error) {
	var p string
	err := q.QueryRowContext(ctx, `SELECT path FROM nodes WHERE workspace = ? AND identifier = ?`, c.Workspace(), id).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup identifier: %w", err)
	}
	return p, nil
}

func (c *Conn) nodeExists(ctx context.Context, q querier, ws, p string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE workspace = ? AND path = ?`, ws, p).Scan(&n); err != nil {
		return false, fmt.Errorf("node exists %s: %w", p, err)
	}
	return n > 0, nil
}
