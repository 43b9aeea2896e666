package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/transport"
)

// appendEvent records one journal entry in the session workspace.
func (c *Conn) appendEvent(ctx context.Context, q querier, typ transport.EventType, path, id, primaryType string, info map[string]string) error {
	infoJSON, err := marshalInfo(info)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO journal (workspace, type, path, identifier, primary_type, user_id, date, info)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Workspace(), int(typ), path, id, primaryType, c.UserID(), c.now().UnixMilli(), infoJSON); err != nil {
		return fmt.Errorf("append %s event: %w", typ, err)
	}
	return nil
}

// GetEvents returns up to limit events after cursor that pass filter, in
// journal order. Events from uncommitted transactions are visible only to
// the connection that wrote them.
func (c *Conn) GetEvents(ctx context.Context, filter transport.EventFilter, after transport.Cursor, limit int) ([]transport.Event, error) {
	if err := c.Check("getEvents"); err != nil {
		return nil, err
	}

	query := `
		SELECT seq, type, path, identifier, primary_type, user_id, date, info
		FROM journal
		WHERE workspace = ? AND seq > ?`
	args := []any{c.Workspace(), int64(after)}
	if filter.Types != 0 {
		query += ` AND (type & ?) != 0`
		args = append(args, int(filter.Types))
	}
	if filter.ExcludeUserID != "" {
		query += ` AND user_id != ?`
		args = append(args, filter.ExcludeUserID)
	}
	if len(filter.Identifiers) > 0 {
		query += ` AND identifier IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(filter.Identifiers)), ", ") + `)`
		for _, id := range filter.Identifiers {
			args = append(args, id)
		}
	}
	query += ` ORDER BY seq ASC`

	rows, err := c.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	events := []transport.Event{}
	for rows.Next() {
		var (
			e       transport.Event
			typ     int
			date    int64
			rawInfo string
		)
		if err := rows.Scan(&e.Cursor, &typ, &e.Path, &e.Identifier, &e.PrimaryType, &e.UserID, &date, &rawInfo); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = transport.EventType(typ)
		e.Date = time.UnixMilli(date).UTC()
		if e.Info, err = unmarshalInfo(rawInfo); err != nil {
			return nil, err
		}

		if !matchesPath(e, filter) || !c.matchesTypes(e, filter) {
			continue
		}
		events = append(events, e)
		if limit > 0 && len(events) == limit {
			break
		}
	}
	return events, rows.Err()
}

// CursorAt returns the cursor just before the first event at or after t.
func (c *Conn) CursorAt(ctx context.Context, t time.Time) (transport.Cursor, error) {
	if err := c.Check("cursorAt"); err != nil {
		return 0, err
	}
	var seq int64
	if err := c.q().QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM journal WHERE workspace = ? AND date < ?
	`, c.Workspace(), t.UnixMilli()).Scan(&seq); err != nil {
		return 0, fmt.Errorf("cursor at %s: %w", t, err)
	}
	return transport.Cursor(seq), nil
}

// LastCursor returns the newest cursor in the session workspace, or zero
// for an empty journal.
func (c *Conn) LastCursor(ctx context.Context) (transport.Cursor, error) {
	if err := c.Check("lastCursor"); err != nil {
		return 0, err
	}
	var seq int64
	if err := c.q().QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM journal WHERE workspace = ?
	`, c.Workspace()).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last cursor: %w", err)
	}
	return transport.Cursor(seq), nil
}

// matchesPath applies the AbsPath filter. Property events match on their
// parent node. Non-deep filters match events on the node itself only.
func matchesPath(e transport.Event, f transport.EventFilter) bool {
	if f.AbsPath == "" {
		return true
	}
	p := e.Path
	if e.Type&(transport.PropertyAdded|transport.PropertyChanged|transport.PropertyRemoved) != 0 {
		p = itempath.Parent(p)
	}
	if f.Deep {
		return itempath.IsSelfOrDescendant(p, f.AbsPath)
	}
	return p == f.AbsPath
}

// matchesTypes applies the NodeTypes filter against the primary type
// recorded with the event.
func (c *Conn) matchesTypes(e transport.Event, f transport.EventFilter) bool {
	if len(f.NodeTypes) == 0 {
		return true
	}
	if e.PrimaryType == "" {
		return false
	}
	return slices.ContainsFunc(f.NodeTypes, func(t string) bool {
		return c.types.IsNodeType(e.PrimaryType, nil, t)
	})
}
