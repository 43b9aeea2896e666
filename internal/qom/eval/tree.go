package eval

import (
	"context"
	"errors"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
)

// TransportTree walks persisted nodes by reading them from a transport.
// Children the transport prefetched are used instead of a second read.
type TransportTree struct {
	t transport.Transport
}

// NewTransportTree creates a tree over t.
func NewTransportTree(t transport.Transport) *TransportTree {
	return &TransportTree{t: t}
}

// Walk visits root and its descendants depth first. A missing root visits
// nothing.
func (w *TransportTree) Walk(ctx context.Context, root string, fn func(*transport.NodeRecord) error) error {
	rec, err := w.t.GetNode(ctx, root)
	if err != nil {
		if errors.Is(err, repoerr.ErrItemNotFound) || errors.Is(err, repoerr.ErrPathNotFound) {
			return nil
		}
		return repoerr.Wrap(err, "query", root)
	}
	return w.walk(ctx, rec, fn)
}

func (w *TransportTree) walk(ctx context.Context, rec *transport.NodeRecord, fn func(*transport.NodeRecord) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	for _, child := range rec.Children {
		next := child.Prefetched
		if next == nil {
			var err error
			next, err = w.t.GetNode(ctx, itempath.Child(rec.Path, child.Name))
			if err != nil {
				return repoerr.Wrap(err, "query", itempath.Child(rec.Path, child.Name))
			}
		}
		if err := w.walk(ctx, next, fn); err != nil {
			return err
		}
	}
	return nil
}
