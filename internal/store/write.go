package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// Properties derived from node columns. They are written by the store and
// never accepted from callers as ordinary properties.
const (
	propPrimaryType = "jcr:primaryType"
	propMixinTypes  = "jcr:mixinTypes"
	propUUID        = "jcr:uuid"
)

func isDerived(name string) bool {
	return name == propPrimaryType || name == propMixinTypes || name == propUUID
}

// StoreNode creates the node described by rec with its properties. The
// parent must exist. A node that ends up mix:referenceable without an
// identifier gets a fresh one.
func (c *Conn) StoreNode(ctx context.Context, rec *transport.NodeRecord) error {
	if err := c.checkWrite("storeNode"); err != nil {
		return err
	}
	p, err := itempath.Normalize(rec.Path)
	if err != nil {
		return err
	}
	if p == itempath.Root {
		return repoerr.At(repoerr.CodeItemExists, "storeNode", p, "root node always exists")
	}

	return c.write(ctx, func(q querier) error {
		ws := c.Workspace()
		parent, name := itempath.Split(p)

		if ok, err := c.nodeExists(ctx, q, ws, parent); err != nil {
			return err
		} else if !ok {
			return repoerr.At(repoerr.CodeItemNotFound, "storeNode", parent, "parent node does not exist")
		}
		if ok, err := c.nodeExists(ctx, q, ws, p); err != nil {
			return err
		} else if ok {
			return repoerr.At(repoerr.CodeItemExists, "storeNode", p, "node already exists")
		}
		if rec.Identifier != "" {
			existing, err := c.pathForIdentifier(ctx, q, rec.Identifier)
			if err != nil {
				return err
			}
			if existing != "" {
				return repoerr.At(repoerr.CodeItemExists, "storeNode", p, "identifier %s already used by %s", rec.Identifier, existing)
			}
		}

		primary := rec.PrimaryType
		if primary == "" {
			primary = RootNodeType
		}
		order, err := nextSortOrder(ctx, q, ws, parent)
		if err != nil {
			return err
		}
		base, _ := itempath.SplitName(name)
		if _, err := q.ExecContext(ctx, `
			INSERT INTO nodes (workspace, path, parent, name, local_name, depth, sort_order, identifier, node_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, ws, p, parent, name, itempath.LocalName(base), itempath.Depth(p), order, nullable(rec.Identifier), primary); err != nil {
			return fmt.Errorf("store node %s: %w", p, err)
		}

		id, err := c.applyTypes(ctx, q, p, primary, rec.Mixins)
		if err != nil {
			return err
		}
		if err := c.appendEvent(ctx, q, transport.NodeAdded, p, id, primary, nil); err != nil {
			return err
		}

		var props []transport.PropertyRecord
		for _, prop := range rec.Properties {
			if !isDerived(prop.Name) {
				props = append(props, prop)
			}
		}
		props, err = c.stamp(ctx, q, p, props, true)
		if err != nil {
			return err
		}
		for _, prop := range props {
			if err := writeProperty(ctx, q, ws, p, prop); err != nil {
				return err
			}
			if err := c.appendEvent(ctx, q, transport.PropertyAdded, itempath.Child(p, prop.Name), id, primary, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// StoreProperty creates or replaces a property. Setting jcr:primaryType or
// jcr:mixinTypes changes the node's types; jcr:uuid is protected.
func (c *Conn) StoreProperty(ctx context.Context, nodePath string, prop transport.PropertyRecord) error {
	if err := c.checkWrite("storeProperty"); err != nil {
		return err
	}
	p, err := itempath.Normalize(nodePath)
	if err != nil {
		return err
	}
	if err := itempath.ValidateName(prop.Name); err != nil {
		return err
	}
	propPath := itempath.Child(p, prop.Name)

	return c.write(ctx, func(q querier) error {
		ws := c.Workspace()
		var (
			id      sql.NullString
			primary string
		)
		err := q.QueryRowContext(ctx, `SELECT identifier, node_type FROM nodes WHERE workspace = ? AND path = ?`, ws, p).Scan(&id, &primary)
		if errors.Is(err, sql.ErrNoRows) {
			return repoerr.At(repoerr.CodeItemNotFound, "storeProperty", p, "no node at path")
		}
		if err != nil {
			return fmt.Errorf("store property %s: %w", propPath, err)
		}

		existed, err := propertyExists(ctx, q, ws, p, prop.Name)
		if err != nil {
			return err
		}
		evt := transport.PropertyAdded
		if existed {
			evt = transport.PropertyChanged
		}

		switch prop.Name {
		case propUUID:
			return repoerr.At(repoerr.CodeInvalidArgument, "storeProperty", propPath, "property is protected")
		case propPrimaryType:
			if len(prop.Values) != 1 {
				return repoerr.At(repoerr.CodeValueFormat, "storeProperty", propPath, "primary type must be a single name")
			}
			mixins, err := c.readMixins(ctx, q, ws, p)
			if err != nil {
				return err
			}
			primary = prop.Values[0]
			if _, err := c.applyTypes(ctx, q, p, primary, mixins); err != nil {
				return err
			}
		case propMixinTypes:
			if _, err := c.applyTypes(ctx, q, p, primary, prop.Values); err != nil {
				return err
			}
		default:
			if err := writeProperty(ctx, q, ws, p, prop); err != nil {
				return err
			}
		}

		if err := c.appendEvent(ctx, q, evt, propPath, id.String, primary, nil); err != nil {
			return err
		}

		stamps, err := c.stamp(ctx, q, p, nil, false)
		if err != nil {
			return err
		}
		for _, s := range stamps {
			if s.Name == prop.Name {
				continue
			}
			if err := writeProperty(ctx, q, ws, p, s); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteNode removes the node at path and its subtree. It fails with
// ReferentialIntegrity while a REFERENCE from outside the subtree points
// into it.
func (c *Conn) DeleteNode(ctx context.Context, path string) error {
	if err := c.checkWrite("deleteNode"); err != nil {
		return err
	}
	p, err := itempath.Normalize(path)
	if err != nil {
		return err
	}
	if p == itempath.Root {
		return repoerr.At(repoerr.CodeInvalidArgument, "deleteNode", p, "root node cannot be removed")
	}

	return c.write(ctx, func(q querier) error {
		ws := c.Workspace()
		var (
			id      sql.NullString
			primary string
		)
		err := q.QueryRowContext(ctx, `SELECT identifier, node_type FROM nodes WHERE workspace = ? AND path = ?`, ws, p).Scan(&id, &primary)
		if errors.Is(err, sql.ErrNoRows) {
			return repoerr.At(repoerr.CodeItemNotFound, "deleteNode", p, "no node at path")
		}
		if err != nil {
			return fmt.Errorf("delete node %s: %w", p, err)
		}

		inner, innerArgs := subtree("path", p)
		outer, outerArgs := subtree("v.node_path", p)
		args := append([]any{ws, int(value.Reference), ws}, innerArgs...)
		args = append(args, outerArgs...)

		var refNode, refName string
		err = q.QueryRowContext(ctx, `
			SELECT v.node_path, v.name
			FROM property_values v
			JOIN properties pr ON pr.workspace = v.workspace AND pr.node_path = v.node_path AND pr.name = v.name
			WHERE v.workspace = ? AND pr.type = ?
			  AND v.value IN (SELECT identifier FROM nodes WHERE workspace = ? AND identifier IS NOT NULL AND `+inner+`)
			  AND NOT `+outer+`
			ORDER BY v.node_path COLLATE BINARY ASC
			LIMIT 1
		`, args...).Scan(&refNode, &refName)
		switch {
		case err == nil:
			return repoerr.At(repoerr.CodeReferentialIntegrity, "deleteNode", p,
				"node is still referenced by %s", itempath.Child(refNode, refName))
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("delete node %s: check references: %w", p, err)
		}

		cond, condArgs := subtree("path", p)
		if _, err := q.ExecContext(ctx, `DELETE FROM nodes WHERE workspace = ? AND `+cond, append([]any{ws}, condArgs...)...); err != nil {
			return fmt.Errorf("delete node %s: %w", p, err)
		}
		return c.appendEvent(ctx, q, transport.NodeRemoved, p, id.String, primary, nil)
	})
}

// DeleteProperty removes the property at path.
func (c *Conn) DeleteProperty(ctx context.Context, path string) error {
	if err := c.checkWrite("deleteProperty"); err != nil {
		return err
	}
	p, err := itempath.Normalize(path)
	if err != nil {
		return err
	}
	nodePath, name := itempath.Split(p)
	if isDerived(name) {
		return repoerr.At(repoerr.CodeInvalidArgument, "deleteProperty", p, "property is protected")
	}

	return c.write(ctx, func(q querier) error {
		ws := c.Workspace()
		res, err := q.ExecContext(ctx, `DELETE FROM properties WHERE workspace = ? AND node_path = ? AND name = ?`, ws, nodePath, name)
		if err != nil {
			return fmt.Errorf("delete property %s: %w", p, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return repoerr.At(repoerr.CodeItemNotFound, "deleteProperty", p, "no property at path")
		}
		return c.appendEvent(ctx, q, transport.PropertyRemoved, p, "", "", nil)
	})
}

// MoveNode moves the subtree at src to dst. Only src and rows below
// src + "/" are rewritten; properties and types follow through cascades.
func (c *Conn) MoveNode(ctx context.Context, src, dst string) error {
	if err := c.checkWrite("moveNode"); err != nil {
		return err
	}
	from, err := itempath.Normalize(src)
	if err != nil {
		return err
	}
	to, err := itempath.Normalize(dst)
	if err != nil {
		return err
	}
	if from == itempath.Root {
		return repoerr.At(repoerr.CodeInvalidArgument, "moveNode", from, "root node cannot be moved")
	}
	if itempath.IsSelfOrDescendant(to, from) {
		return repoerr.At(repoerr.CodeInvalidArgument, "moveNode", to, "cannot move %s into its own subtree", from)
	}

	return c.write(ctx, func(q querier) error {
		ws := c.Workspace()
		var (
			id      sql.NullString
			primary string
			order   int
		)
		err := q.QueryRowContext(ctx, `SELECT identifier, node_type, sort_order FROM nodes WHERE workspace = ? AND path = ?`, ws, from).Scan(&id, &primary, &order)
		if errors.Is(err, sql.ErrNoRows) {
			return repoerr.At(repoerr.CodeItemNotFound, "moveNode", from, "no node at path")
		}
		if err != nil {
			return fmt.Errorf("move node %s: %w", from, err)
		}

		toParent, toName := itempath.Split(to)
		if ok, err := c.nodeExists(ctx, q, ws, toParent); err != nil {
			return err
		} else if !ok {
			return repoerr.At(repoerr.CodeItemNotFound, "moveNode", toParent, "destination parent does not exist")
		}
		if ok, err := c.nodeExists(ctx, q, ws, to); err != nil {
			return err
		} else if ok {
			return repoerr.At(repoerr.CodeItemExists, "moveNode", to, "destination already exists")
		}
		if toParent != itempath.Parent(from) {
			if order, err = nextSortOrder(ctx, q, ws, toParent); err != nil {
				return err
			}
		}

		// substr offsets count characters, as SQLite does for TEXT.
		rest := utf8.RuneCountInString(from) + 1
		cond, condArgs := subtree("path", from)
		args := []any{to, rest, from, toParent, to, rest, itempath.Depth(to) - itempath.Depth(from), ws}
		if _, err := q.ExecContext(ctx, `
			UPDATE nodes SET
				path = ? || substr(path, ?),
				parent = CASE WHEN path = ? THEN ? ELSE ? || substr(parent, ?) END,
				depth = depth + ?
			WHERE workspace = ? AND `+cond, append(args, condArgs...)...); err != nil {
			return fmt.Errorf("move node %s: %w", from, err)
		}

		base, _ := itempath.SplitName(toName)
		if _, err := q.ExecContext(ctx, `
			UPDATE nodes SET name = ?, local_name = ?, sort_order = ? WHERE workspace = ? AND path = ?
		`, toName, itempath.LocalName(base), order, ws, to); err != nil {
			return fmt.Errorf("move node %s: %w", from, err)
		}

		return c.appendEvent(ctx, q, transport.NodeMoved, to, id.String, primary, map[string]string{
			"srcAbsPath":  from,
			"destAbsPath": to,
		})
	})
}

// CopyNode copies the subtree at src, read from srcWorkspace when set, to
// dst in the session workspace. Copied referenceable nodes get new
// identifiers and references inside the copy follow them.
func (c *Conn) CopyNode(ctx context.Context, src, dst, srcWorkspace string) error {
	if err := c.checkWrite("copyNode"); err != nil {
		return err
	}
	from, err := itempath.Normalize(src)
	if err != nil {
		return err
	}
	to, err := itempath.Normalize(dst)
	if err != nil {
		return err
	}
	ws := c.Workspace()
	if srcWorkspace == "" {
		srcWorkspace = ws
	}
	if from == itempath.Root || to == itempath.Root {
		return repoerr.At(repoerr.CodeInvalidArgument, "copyNode", from, "root node cannot be copied")
	}
	if srcWorkspace == ws && itempath.IsSelfOrDescendant(to, from) {
		return repoerr.At(repoerr.CodeInvalidArgument, "copyNode", to, "cannot copy %s into its own subtree", from)
	}

	return c.write(ctx, func(q querier) error {
		nodes, err := readSubtree(ctx, q, srcWorkspace, from)
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			return repoerr.At(repoerr.CodeItemNotFound, "copyNode", from, "no node at path in workspace %s", srcWorkspace)
		}

		toParent := itempath.Parent(to)
		if ok, err := c.nodeExists(ctx, q, ws, toParent); err != nil {
			return err
		} else if !ok {
			return repoerr.At(repoerr.CodeItemNotFound, "copyNode", toParent, "destination parent does not exist")
		}
		if ok, err := c.nodeExists(ctx, q, ws, to); err != nil {
			return err
		} else if ok {
			return repoerr.At(repoerr.CodeItemExists, "copyNode", to, "destination already exists")
		}
		rootOrder, err := nextSortOrder(ctx, q, ws, toParent)
		if err != nil {
			return err
		}

		ids := map[string]string{}
		for _, n := range nodes {
			if n.identifier != "" {
				ids[n.identifier] = c.newID()
			}
		}

		for _, n := range nodes {
			newPath, _ := itempath.Rebase(n.path, from, to)
			parent, name, order := toParent, itempath.Name(to), rootOrder
			if n.path != from {
				parent, _ = itempath.Rebase(n.parent, from, to)
				name, order = n.name, n.sortOrder
			}
			base, _ := itempath.SplitName(name)
			if _, err := q.ExecContext(ctx, `
				INSERT INTO nodes (workspace, path, parent, name, local_name, depth, sort_order, identifier, node_type)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, ws, newPath, parent, name, itempath.LocalName(base), itempath.Depth(newPath), order, nullable(ids[n.identifier]), n.nodeType); err != nil {
				return fmt.Errorf("copy node %s: %w", n.path, err)
			}
			if _, err := q.ExecContext(ctx, `
				INSERT INTO node_types (workspace, path, type, is_mixin, direct)
				SELECT ?, ?, type, is_mixin, direct FROM node_types WHERE workspace = ? AND path = ?
			`, ws, newPath, srcWorkspace, n.path); err != nil {
				return fmt.Errorf("copy node types %s: %w", n.path, err)
			}
			if err := copyProperties(ctx, q, srcWorkspace, n.path, ws, newPath, ids); err != nil {
				return err
			}
		}

		root := nodes[0]
		return c.appendEvent(ctx, q, transport.NodeAdded, to, ids[root.identifier], root.nodeType, nil)
	})
}

// ReorderChildren puts the named children first, in the given order; the
// rest keep their relative order after them.
func (c *Conn) ReorderChildren(ctx context.Context, parentPath string, order []string) error {
	if err := c.checkWrite("reorderChildren"); err != nil {
		return err
	}
	p, err := itempath.Normalize(parentPath)
	if err != nil {
		return err
	}

	return c.write(ctx, func(q querier) error {
		ws := c.Workspace()
		if ok, err := c.nodeExists(ctx, q, ws, p); err != nil {
			return err
		} else if !ok {
			return repoerr.At(repoerr.CodeItemNotFound, "reorderChildren", p, "no node at path")
		}
		current, err := c.childNames(ctx, q, ws, p)
		if err != nil {
			return err
		}
		for _, name := range order {
			if !slices.Contains(current, name) {
				return repoerr.At(repoerr.CodeItemNotFound, "reorderChildren", itempath.Child(p, name), "no such child")
			}
		}

		final := slices.Clone(order)
		for _, name := range current {
			if !slices.Contains(order, name) {
				final = append(final, name)
			}
		}
		for i, name := range final {
			if _, err := q.ExecContext(ctx, `UPDATE nodes SET sort_order = ? WHERE workspace = ? AND path = ?`,
				i, ws, itempath.Child(p, name)); err != nil {
				return fmt.Errorf("reorder %s: %w", p, err)
			}
		}
		return c.appendEvent(ctx, q, transport.NodeMoved, p, "", "", map[string]string{"order": strings.Join(final, ",")})
	})
}

// applyTypes replaces the type closure of the node at p and the derived
// properties describing it. A node that becomes referenceable without an
// identifier gets one. It returns the node's identifier.
func (c *Conn) applyTypes(ctx context.Context, q querier, p, primary string, mixins []string) (string, error) {
	ws := c.Workspace()
	rows, err := c.typeClosure(primary, mixins)
	if err != nil {
		return "", err
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM node_types WHERE workspace = ? AND path = ?`, ws, p); err != nil {
		return "", fmt.Errorf("apply types %s: %w", p, err)
	}
	for _, r := range rows {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO node_types (workspace, path, type, is_mixin, direct) VALUES (?, ?, ?, ?, ?)
		`, ws, p, r.name, r.mixin, r.direct); err != nil {
			return "", fmt.Errorf("apply types %s: %w", p, err)
		}
	}
	if _, err := q.ExecContext(ctx, `UPDATE nodes SET node_type = ? WHERE workspace = ? AND path = ?`, primary, ws, p); err != nil {
		return "", fmt.Errorf("apply types %s: %w", p, err)
	}

	if err := writeProperty(ctx, q, ws, p, transport.PropertyRecord{
		Name: propPrimaryType, Type: value.Name, Values: []string{primary},
	}); err != nil {
		return "", err
	}
	if len(mixins) > 0 {
		sorted := slices.Sorted(slices.Values(mixins))
		if err := writeProperty(ctx, q, ws, p, transport.PropertyRecord{
			Name: propMixinTypes, Type: value.Name, Multiple: true, Values: slices.Compact(sorted),
		}); err != nil {
			return "", err
		}
	} else if _, err := q.ExecContext(ctx, `DELETE FROM properties WHERE workspace = ? AND node_path = ? AND name = ?`, ws, p, propMixinTypes); err != nil {
		return "", fmt.Errorf("apply types %s: %w", p, err)
	}

	var id sql.NullString
	if err := q.QueryRowContext(ctx, `SELECT identifier FROM nodes WHERE workspace = ? AND path = ?`, ws, p).Scan(&id); err != nil {
		return "", fmt.Errorf("apply types %s: %w", p, err)
	}
	referenceable := slices.ContainsFunc(rows, func(r typeRow) bool { return r.name == "mix:referenceable" })
	if !id.Valid && referenceable {
		id = sql.NullString{String: c.newID(), Valid: true}
		if _, err := q.ExecContext(ctx, `UPDATE nodes SET identifier = ? WHERE workspace = ? AND path = ?`, id.String, ws, p); err != nil {
			return "", fmt.Errorf("assign identifier %s: %w", p, err)
		}
	}
	if id.Valid {
		if err := writeProperty(ctx, q, ws, p, transport.PropertyRecord{
			Name: propUUID, Type: value.String, Values: []string{id.String},
		}); err != nil {
			return "", err
		}
	}
	return id.String, nil
}

type typeRow struct {
	name   string
	mixin  bool
	direct bool
}

// typeClosure lists the primary type, the mixins and all their supertypes.
func (c *Conn) typeClosure(primary string, mixins []string) ([]typeRow, error) {
	def, err := c.types.Get(primary)
	if err != nil {
		return nil, err
	}
	if def.Mixin {
		return nil, repoerr.At(repoerr.CodeInvalidArgument, "setPrimaryType", primary, "mixin cannot be a primary type")
	}

	rows := []typeRow{{name: primary, direct: true}}
	seen := map[string]bool{primary: true}
	for _, m := range mixins {
		if seen[m] {
			continue
		}
		mdef, err := c.types.Get(m)
		if err != nil {
			return nil, err
		}
		if !mdef.Mixin {
			return nil, repoerr.At(repoerr.CodeInvalidArgument, "addMixin", m, "not a mixin type")
		}
		seen[m] = true
		rows = append(rows, typeRow{name: m, mixin: true, direct: true})
	}

	direct := len(rows)
	for _, r := range rows[:direct] {
		for _, s := range c.types.Supertypes(r.name) {
			if !seen[s] {
				seen[s] = true
				rows = append(rows, typeRow{name: s})
			}
		}
	}
	return rows, nil
}

// stamp returns the mix:created and mix:lastModified properties due on the
// node at p, added to props unless props already sets them. Creation stamps
// are only added when created is true.
func (c *Conn) stamp(ctx context.Context, q querier, p string, props []transport.PropertyRecord, created bool) ([]transport.PropertyRecord, error) {
	var types []string
	rows, err := q.QueryContext(ctx, `
		SELECT type FROM node_types WHERE workspace = ? AND path = ? AND type IN ('mix:created', 'mix:lastModified')
	`, c.Workspace(), p)
	if err != nil {
		return nil, fmt.Errorf("stamp %s: %w", p, err)
	}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return nil, fmt.Errorf("stamp %s: %w", p, err)
		}
		types = append(types, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := value.NewDate(c.now()).String()
	add := func(name string, typ value.Type, v string) {
		if slices.ContainsFunc(props, func(pr transport.PropertyRecord) bool { return pr.Name == name }) {
			return
		}
		props = append(props, transport.PropertyRecord{Name: name, Type: typ, Values: []string{v}})
	}
	if created && slices.Contains(types, "mix:created") {
		add("jcr:created", value.Date, now)
		add("jcr:createdBy", value.String, c.UserID())
	}
	if c.autoLastModified && slices.Contains(types, "mix:lastModified") {
		add("jcr:lastModified", value.Date, now)
		add("jcr:lastModifiedBy", value.String, c.UserID())
	}
	return props, nil
}

// writeProperty replaces one property and its values.
func writeProperty(ctx context.Context, q querier, ws, nodePath string, prop transport.PropertyRecord) error {
	propPath := itempath.Child(nodePath, prop.Name)
	if !prop.Type.Valid() || prop.Type == value.Undefined {
		return repoerr.At(repoerr.CodeInvalidArgument, "storeProperty", propPath, "invalid property type %d", int(prop.Type))
	}
	if !prop.Multiple && len(prop.Values)+len(prop.Binaries) != 1 {
		return repoerr.At(repoerr.CodeValueFormat, "storeProperty", propPath, "single-valued property needs exactly one value")
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM properties WHERE workspace = ? AND node_path = ? AND name = ?`, ws, nodePath, prop.Name); err != nil {
		return fmt.Errorf("store property %s: %w", propPath, err)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO properties (workspace, node_path, name, type, multiple) VALUES (?, ?, ?, ?, ?)
	`, ws, nodePath, prop.Name, int(prop.Type), prop.Multiple); err != nil {
		return fmt.Errorf("store property %s: %w", propPath, err)
	}

	insert := `INSERT INTO property_values (workspace, node_path, name, idx, value, num, data) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if prop.Type == value.Binary {
		for i, data := range prop.Binaries {
			if data == nil {
				data = []byte{}
			}
			if _, err := q.ExecContext(ctx, insert, ws, nodePath, prop.Name, i, "", nil, data); err != nil {
				return fmt.Errorf("store property %s: %w", propPath, err)
			}
		}
		return nil
	}

	for i, s := range prop.Values {
		v, err := value.New(prop.Type, s)
		if err != nil {
			return repoerr.Wrap(err, "storeProperty", propPath)
		}
		var num any
		if f, ok := v.Numeric(); ok {
			num = f
		}
		if _, err := q.ExecContext(ctx, insert, ws, nodePath, prop.Name, i, v.String(), num, nil); err != nil {
			return fmt.Errorf("store property %s: %w", propPath, err)
		}
	}
	return nil
}

type subtreeNode struct {
	path       string
	parent     string
	name       string
	sortOrder  int
	identifier string
	nodeType   string
}

// readSubtree lists the node at p and its descendants, parents first.
func readSubtree(ctx context.Context, q querier, ws, p string) ([]subtreeNode, error) {
	cond, args := subtree("path", p)
	rows, err := q.QueryContext(ctx, `
		SELECT path, parent, name, sort_order, identifier, node_type FROM nodes
		WHERE workspace = ? AND `+cond+`
		ORDER BY depth ASC, path COLLATE BINARY ASC
	`, append([]any{ws}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("read subtree %s: %w", p, err)
	}
	defer rows.Close()

	var nodes []subtreeNode
	for rows.Next() {
		var (
			n  subtreeNode
			id sql.NullString
		)
		if err := rows.Scan(&n.path, &n.parent, &n.name, &n.sortOrder, &id, &n.nodeType); err != nil {
			return nil, fmt.Errorf("scan subtree: %w", err)
		}
		n.identifier = id.String
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// copyProperties copies every property of one node, remapping identifier
// values found in ids.
func copyProperties(ctx context.Context, q querier, fromWs, from, toWs, to string, ids map[string]string) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO properties (workspace, node_path, name, type, multiple)
		SELECT ?, ?, name, type, multiple FROM properties WHERE workspace = ? AND node_path = ?
	`, toWs, to, fromWs, from); err != nil {
		return fmt.Errorf("copy properties %s: %w", from, err)
	}

	type row struct {
		name  string
		idx   int
		typ   int
		value string
		num   sql.NullFloat64
		data  []byte
	}
	rows, err := q.QueryContext(ctx, `
		SELECT v.name, v.idx, p.type, v.value, v.num, v.data
		FROM property_values v
		JOIN properties p ON p.workspace = v.workspace AND p.node_path = v.node_path AND p.name = v.name
		WHERE v.workspace = ? AND v.node_path = ?
		ORDER BY v.name, v.idx
	`, fromWs, from)
	if err != nil {
		return fmt.Errorf("copy values %s: %w", from, err)
	}
	var values []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.name, &r.idx, &r.typ, &r.value, &r.num, &r.data); err != nil {
			rows.Close()
			return fmt.Errorf("scan value: %w", err)
		}
		values = append(values, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range values {
		t := value.Type(r.typ)
		if t == value.Reference || t == value.WeakReference || r.name == propUUID {
			if mapped, ok := ids[r.value]; ok {
				r.value = mapped
			}
		}
		var num any
		if r.num.Valid {
			num = r.num.Float64
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO property_values (workspace, node_path, name, idx, value, num, data) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, toWs, to, r.name, r.idx, r.value, num, r.data); err != nil {
			return fmt.Errorf("copy value %s: %w", itempath.Child(to, r.name), err)
		}
	}
	return nil
}

func propertyExists(ctx context.Context, q querier, ws, nodePath, name string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM properties WHERE workspace = ? AND node_path = ? AND name = ?
	`, ws, nodePath, name).Scan(&n); err != nil {
		return false, fmt.Errorf("property exists %s: %w", itempath.Child(nodePath, name), err)
	}
	return n > 0, nil
}

func nextSortOrder(ctx context.Context, q querier, ws, parent string) (int, error) {
	var order int
	if err := q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sort_order), -1) + 1 FROM nodes WHERE workspace = ? AND parent = ?
	`, ws, parent).Scan(&order); err != nil {
		return 0, fmt.Errorf("next sort order %s: %w", parent, err)
	}
	return order, nil
}

// subtree returns a condition matching col at p or below it, with its
// args. Descendants are matched on p + "/" so siblings sharing a prefix
// are excluded.
func subtree(col, p string) (string, []any) {
	prefix := p + "/"
	return "(" + col + " = ? OR substr(" + col + ", 1, ?) = ?)",
		[]any{p, utf8.RuneCountInString(prefix), prefix}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
