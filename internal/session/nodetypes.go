package session

import (
	"context"
	"errors"

	"github.com/roach88/crepo/internal/nodetype"
	"github.com/roach88/crepo/internal/repoerr"
)

// NodeType returns the definition of a built-in or registered node type.
func (s *Session) NodeType(name string) (*nodetype.Definition, error) {
	return s.types.Get(name)
}

// NodeTypeNames lists every node type known to the session.
func (s *Session) NodeTypeNames() []string {
	return s.types.Names()
}

// IsNodeType reports whether the node at path is of type name.
func (s *Session) IsNodeType(ctx context.Context, path, name string) (bool, error) {
	n, err := s.Node(ctx, path)
	if err != nil {
		return false, err
	}
	return s.types.IsNodeType(n.PrimaryType, n.Mixins, name), nil
}

// RegisterNodeTypes registers definitions with the backend and makes them
// available to the session.
func (s *Session) RegisterNodeTypes(ctx context.Context, defs []nodetype.Definition, allowUpdate bool) error {
	if err := s.check("registerNodeTypes"); err != nil {
		return err
	}
	ntm := s.caps.NodeTypeManagement
	if ntm == nil {
		return repoerr.Unsupported("registerNodeTypes", "NodeTypeManagement")
	}
	if !allowUpdate {
		for _, d := range defs {
			if s.types.Has(d.Name) {
				return repoerr.At(repoerr.CodeNodeTypeExists, "registerNodeTypes", d.Name, "node type already registered")
			}
		}
	}
	if err := ntm.RegisterNodeTypes(ctx, defs, allowUpdate); err != nil {
		return repoerr.Wrap(err, "registerNodeTypes", "")
	}
	if err := s.types.Register(defs, true); err != nil {
		return err
	}
	s.logger.Info("node types registered", "count", len(defs))
	return nil
}

// RegisterNodeTypesCnd registers node types written in CND.
//
// A backend that accepts CND gets the text as is and the session reloads
// its custom types afterwards. A backend that only accepts definitions gets
// the text parsed by the configured CNDParser. Anything else fails with
// UnsupportedOperation.
func (s *Session) RegisterNodeTypesCnd(ctx context.Context, cnd string, allowUpdate bool) error {
	if err := s.check("registerNodeTypesCnd"); err != nil {
		return err
	}
	if c := s.caps.NodeTypeCndManagement; c != nil {
		if err := c.RegisterNodeTypesCnd(ctx, cnd, allowUpdate); err != nil {
			return repoerr.Wrap(err, "registerNodeTypesCnd", "")
		}
		return s.reloadNodeTypes(ctx)
	}
	if s.caps.NodeTypeManagement == nil {
		return repoerr.Unsupported("registerNodeTypesCnd", "NodeTypeManagement")
	}
	if s.cnd == nil {
		return repoerr.At(repoerr.CodeUnsupportedOperation, "registerNodeTypesCnd", "", "transport needs definitions and no CND parser is configured")
	}
	defs, err := s.cnd.Parse(cnd)
	if err != nil {
		return repoerr.Wrap(err, "registerNodeTypesCnd", "")
	}
	return s.RegisterNodeTypes(ctx, defs, allowUpdate)
}

// UnregisterNodeTypes removes custom node types from the backend and the
// session.
func (s *Session) UnregisterNodeTypes(ctx context.Context, names ...string) error {
	if err := s.check("unregisterNodeTypes"); err != nil {
		return err
	}
	ntm := s.caps.NodeTypeManagement
	if ntm == nil {
		return repoerr.Unsupported("unregisterNodeTypes", "NodeTypeManagement")
	}
	builtin := nodetype.Builtin()
	for _, n := range names {
		if builtin.Has(n) {
			return repoerr.At(repoerr.CodeInvalidArgument, "unregisterNodeTypes", n, "built-in node types cannot be unregistered")
		}
	}
	if err := ntm.UnregisterNodeTypes(ctx, names); err != nil {
		return repoerr.Wrap(err, "unregisterNodeTypes", "")
	}
	for _, n := range names {
		if err := s.types.Unregister([]string{n}); err != nil && !errors.Is(err, repoerr.ErrNoSuchNodeType) {
			return err
		}
	}
	return nil
}

// reloadNodeTypes merges the backend's current custom types into the
// session registry.
func (s *Session) reloadNodeTypes(ctx context.Context) error {
	defs, err := s.t.GetNodeTypes(ctx, nil)
	if err != nil {
		return repoerr.Wrap(err, "getNodeTypes", "")
	}
	if err := s.types.Register(defs, true); err != nil {
		return err
	}
	s.logger.Debug("node types reloaded", "count", len(defs))
	return nil
}
