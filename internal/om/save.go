package om

import (
	"context"
	"slices"
	"strings"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/operation"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// Save writes every pending change to the backend.
//
// Queued operations are replayed in creation order against the paths they
// captured, then changed properties of saved nodes are written at their
// current paths. With a Transactional backend the flush runs inside one
// transaction and is rolled back on any failure. Without one the flush is
// bracketed by PrepareSave and FinishSave, with RollbackSave attempted on
// failure.
//
// On failure the queue and the cached changes are kept so Save can be
// retried. On success both are cleared.
func (m *Manager) Save(ctx context.Context) error {
	w, err := m.requireWriting("save")
	if err != nil {
		return err
	}
	if !m.HasPendingChanges() {
		return nil
	}
	entries := m.log.Entries()
	m.logger.Info("save started", "operations", len(entries))

	if tx := m.caps.Transactional; tx != nil {
		if err := tx.BeginTransaction(ctx); err != nil {
			return repoerr.Wrap(err, "save", "")
		}
		if err := m.flush(ctx, w, entries); err != nil {
			if rbErr := tx.RollbackTransaction(ctx); rbErr != nil {
				m.logger.Error("rollback failed", "error", rbErr)
			}
			m.logger.Error("save rolled back", "error", err)
			return err
		}
		if err := tx.CommitTransaction(ctx); err != nil {
			return repoerr.Wrap(err, "save", "")
		}
	} else {
		m.logger.Warn("saving without transactions: a failure can leave partial writes")
		if err := w.PrepareSave(ctx); err != nil {
			return repoerr.Wrap(err, "save", "")
		}
		if err := m.flush(ctx, w, entries); err != nil {
			if rbErr := w.RollbackSave(ctx); rbErr != nil {
				m.logger.Error("rollback failed", "error", rbErr)
			}
			m.logger.Error("save failed", "error", err)
			return err
		}
		if err := w.FinishSave(ctx); err != nil {
			return repoerr.Wrap(err, "save", "")
		}
	}

	m.saved()
	m.logger.Info("save finished", "operations", len(entries))
	return nil
}

// flush replays the queue, then writes dirty properties of saved nodes.
func (m *Manager) flush(ctx context.Context, w transport.Writing, entries []operation.Entry) error {
	for _, e := range entries {
		if err := m.replay(ctx, w, e); err != nil {
			return repoerr.Wrap(err, "save", e.Op.Path())
		}
	}

	paths := make([]string, 0, len(m.nodes))
	for p, n := range m.nodes {
		if n.Modified && !n.New {
			paths = append(paths, p)
		}
	}
	slices.SortFunc(paths, strings.Compare)
	for _, p := range paths {
		n := m.nodes[p]
		for _, prop := range n.props {
			if !prop.Modified || prop.Name == PropMixinTypes || prop.Name == PropUUID {
				continue
			}
			if err := w.StoreProperty(ctx, p, prop.record()); err != nil {
				return repoerr.Wrap(err, "save", prop.Path)
			}
		}
		if n.mixinsDirty {
			mixins := transport.PropertyRecord{Name: PropMixinTypes, Type: value.Name, Multiple: true, Values: slices.Clone(n.Mixins)}
			if err := w.StoreProperty(ctx, p, mixins); err != nil {
				return repoerr.Wrap(err, "save", itempath.Child(p, PropMixinTypes))
			}
		}
	}
	return nil
}

func (m *Manager) replay(ctx context.Context, w transport.Writing, e operation.Entry) error {
	switch op := e.Op.(type) {
	case operation.AddNode:
		return w.StoreNode(ctx, m.snapshot(op, e.Seq))
	case operation.RemoveNode:
		return w.DeleteNode(ctx, op.SrcPath)
	case operation.RemoveProperty:
		return w.DeleteProperty(ctx, op.SrcPath)
	case operation.MoveNode:
		return w.MoveNode(ctx, op.SrcPath, op.DstPath)
	case operation.SetPolicy:
		if m.caps.AccessControl == nil {
			return repoerr.Unsupported("setPolicy", "AccessControl")
		}
		return m.caps.AccessControl.SetPolicy(ctx, op.SrcPath, op.Policy)
	}
	return repoerr.New(repoerr.CodeRepository, "unknown operation %s", e.Op.Kind())
}

// snapshot builds the record stored for an AddNode. The node's current
// state is written at the path the operation captured; a node removed later
// in the queue is stored bare since its removal follows.
func (m *Manager) snapshot(op operation.AddNode, seq int64) *transport.NodeRecord {
	if p, ok := m.log.CurrentPath(op.SrcPath, seq); ok {
		if n, ok := m.nodes[p]; ok && n.New {
			return n.record(op.SrcPath)
		}
	}
	return &transport.NodeRecord{Path: op.SrcPath, PrimaryType: op.PrimaryType, Identifier: op.Identifier}
}

// saved resets change tracking after a successful flush.
func (m *Manager) saved() {
	m.log.Clear()
	clear(m.prefetched)
	for _, n := range m.nodes {
		n.New = false
		n.Modified = false
		n.mixinsDirty = false
		for _, prop := range n.props {
			prop.New = false
			prop.Modified = false
			prop.binaries = nil
		}
	}
}
