package session

import (
	"context"
	"slices"
	"time"

	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
)

// Journal reads the backend event journal from a cursor.
//
// Next returns events strictly after the cursor and advances past what it
// read. A Journal belongs to its session and is not safe for concurrent
// use.
type Journal struct {
	s      *Session
	o      transport.Observation
	filter transport.EventFilter
	cursor transport.Cursor
}

// Journal opens the event journal at its beginning. Identifier and node
// type restrictions of filter are applied on the client when the backend
// ignores them.
func (s *Session) Journal(filter transport.EventFilter) (*Journal, error) {
	if err := s.check("journal"); err != nil {
		return nil, err
	}
	if s.caps.Observation == nil {
		return nil, repoerr.Unsupported("journal", "Observation")
	}
	return &Journal{s: s, o: s.caps.Observation, filter: filter}, nil
}

// Cursor returns the position after the last event returned.
func (j *Journal) Cursor() transport.Cursor { return j.cursor }

// Next returns up to limit events after the cursor; limit <= 0 means all
// remaining. An empty result means the journal is drained for now.
func (j *Journal) Next(ctx context.Context, limit int) ([]transport.Event, error) {
	if err := j.s.check("journal"); err != nil {
		return nil, err
	}
	out := []transport.Event{}
	for {
		batch, err := j.o.GetEvents(ctx, j.filter, j.cursor, limit)
		if err != nil {
			return nil, repoerr.Wrap(err, "journal", j.filter.AbsPath)
		}
		for _, e := range batch {
			j.cursor = e.Cursor
			if !j.matches(e) {
				continue
			}
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
		if limit <= 0 || len(batch) < limit {
			return out, nil
		}
	}
}

// SkipTo moves the cursor to just before the first event at or after t.
func (j *Journal) SkipTo(ctx context.Context, t time.Time) error {
	c, err := j.o.CursorAt(ctx, t)
	if err != nil {
		return repoerr.Wrap(err, "journal", "")
	}
	j.cursor = c
	return nil
}

func (j *Journal) matches(e transport.Event) bool {
	if ids := j.filter.Identifiers; len(ids) > 0 && !slices.Contains(ids, e.Identifier) {
		return false
	}
	if types := j.filter.NodeTypes; len(types) > 0 && e.PrimaryType != "" {
		return j.s.types.MatchesAny(e.PrimaryType, nil, types)
	}
	return true
}
