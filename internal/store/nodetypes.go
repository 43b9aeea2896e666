package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/crepo/internal/nodetype"
	"github.com/roach88/crepo/internal/repoerr"
)

// loadNodeTypes layers the persisted custom types over the built-ins.
func (c *Conn) loadNodeTypes(ctx context.Context) error {
	rows, err := c.q().QueryContext(ctx, `SELECT definition FROM nodetypes ORDER BY seq ASC, name COLLATE BINARY ASC`)
	if err != nil {
		return fmt.Errorf("load node types: %w", err)
	}
	defer rows.Close()

	var defs []nodetype.Definition
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan node type: %w", err)
		}
		def, err := unmarshalDefinition(raw)
		if err != nil {
			return err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	c.types = nodetype.NewRegistry(nodetype.Builtin())
	return c.types.Register(defs, true)
}

// GetNodeTypes returns definitions for names, or every custom type when
// names is empty.
func (c *Conn) GetNodeTypes(ctx context.Context, names []string) ([]nodetype.Definition, error) {
	if err := c.Check("getNodeTypes"); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		if err := c.loadNodeTypes(ctx); err != nil {
			return nil, err
		}
		builtin := nodetype.Builtin()
		var defs []nodetype.Definition
		for _, n := range c.types.Names() {
			if builtin.Has(n) {
				continue
			}
			def, err := c.types.Get(n)
			if err != nil {
				return nil, err
			}
			defs = append(defs, *def)
		}
		return defs, nil
	}

	defs := make([]nodetype.Definition, 0, len(names))
	for _, n := range names {
		def, err := c.types.Get(n)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

// RegisterNodeTypes validates and persists definitions. Every supertype
// must resolve once the whole batch is registered.
func (c *Conn) RegisterNodeTypes(ctx context.Context, defs []nodetype.Definition, allowUpdate bool) error {
	if err := c.checkWrite("registerNodeTypes"); err != nil {
		return err
	}

	scratch := nodetype.NewRegistry(c.types)
	if err := scratch.Register(defs, allowUpdate); err != nil {
		return err
	}
	for _, def := range defs {
		for _, s := range def.Supertypes {
			if !scratch.Has(s) {
				return repoerr.At(repoerr.CodeNoSuchNodeType, "registerNodeTypes", def.Name, "unknown supertype %s", s)
			}
		}
	}

	err := c.write(ctx, func(q querier) error {
		var seq int
		if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM nodetypes`).Scan(&seq); err != nil {
			return fmt.Errorf("register node types: %w", err)
		}
		for _, def := range defs {
			raw, err := marshalDefinition(def)
			if err != nil {
				return err
			}
			if _, err := q.ExecContext(ctx, `
				INSERT INTO nodetypes (name, definition, seq) VALUES (?, ?, ?)
				ON CONFLICT(name) DO UPDATE SET definition = excluded.definition
			`, def.Name, raw, seq); err != nil {
				return fmt.Errorf("register node type %s: %w", def.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return c.types.Register(defs, true)
}

// UnregisterNodeTypes removes custom types no node uses.
func (c *Conn) UnregisterNodeTypes(ctx context.Context, names []string) error {
	if err := c.checkWrite("unregisterNodeTypes"); err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}

	err := c.write(ctx, func(q querier) error {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
		args := make([]any, len(names))
		for i, n := range names {
			args[i] = n
		}

		var inUse string
		err := q.QueryRowContext(ctx, `
			SELECT COALESCE(MIN(type), '') FROM node_types WHERE type IN (`+placeholders+`)
		`, args...).Scan(&inUse)
		if err != nil {
			return fmt.Errorf("unregister node types: %w", err)
		}
		if inUse != "" {
			return repoerr.At(repoerr.CodeReferentialIntegrity, "unregisterNodeTypes", inUse, "node type is in use")
		}

		res, err := q.ExecContext(ctx, `DELETE FROM nodetypes WHERE name IN (`+placeholders+`)`, args...)
		if err != nil {
			return fmt.Errorf("unregister node types: %w", err)
		}
		if n, _ := res.RowsAffected(); int(n) != len(names) {
			return repoerr.At(repoerr.CodeNoSuchNodeType, "unregisterNodeTypes", strings.Join(names, ","), "not a registered custom node type")
		}
		return nil
	})
	if err != nil {
		return err
	}
	return c.types.Unregister(names)
}
