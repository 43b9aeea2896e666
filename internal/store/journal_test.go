package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/testutil"
	"github.com/roach88/crepo/internal/transport"
)

func eventTypes(events []transport.Event) []transport.EventType {
	out := make([]transport.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func journalFixture(t *testing.T) *Conn {
	t.Helper()
	c := login(t, createTestStore(t))
	ctx := context.Background()
	storeNode(t, c, "/a", "nt:unstructured", stringProp("p", "1"))
	require.NoError(t, c.StoreProperty(ctx, "/a", stringProp("p", "2")))
	require.NoError(t, c.MoveNode(ctx, "/a", "/b"))
	require.NoError(t, c.DeleteNode(ctx, "/b"))
	return c
}

func TestGetEvents_All(t *testing.T) {
	c := journalFixture(t)

	events, err := c.GetEvents(context.Background(), transport.EventFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []transport.EventType{
		transport.NodeAdded, transport.PropertyAdded, transport.PropertyChanged, transport.NodeMoved, transport.NodeRemoved,
	}, eventTypes(events))

	assert.Equal(t, "/a/p", events[1].Path)
	assert.Equal(t, "admin", events[0].UserID)
	assert.Equal(t, "nt:unstructured", events[0].PrimaryType)
	assert.Equal(t, map[string]string{"srcAbsPath": "/a", "destAbsPath": "/b"}, events[3].Info)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Cursor, events[i-1].Cursor)
		assert.False(t, events[i].Date.Before(events[i-1].Date))
	}
}

func TestGetEvents_Filters(t *testing.T) {
	c := journalFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter transport.EventFilter
		want   []transport.EventType
	}{
		{"types", transport.EventFilter{Types: transport.PropertyAdded | transport.PropertyChanged},
			[]transport.EventType{transport.PropertyAdded, transport.PropertyChanged}},
		{"exact path", transport.EventFilter{AbsPath: "/a"},
			[]transport.EventType{transport.NodeAdded, transport.PropertyAdded, transport.PropertyChanged}},
		{"deep root", transport.EventFilter{AbsPath: "/", Deep: true},
			[]transport.EventType{transport.NodeAdded, transport.PropertyAdded, transport.PropertyChanged, transport.NodeMoved, transport.NodeRemoved}},
		{"exclude own user", transport.EventFilter{ExcludeUserID: "admin"}, []transport.EventType{}},
		{"node type", transport.EventFilter{NodeTypes: []string{"nt:base"}},
			[]transport.EventType{transport.NodeAdded, transport.PropertyAdded, transport.PropertyChanged, transport.NodeMoved, transport.NodeRemoved}},
		{"unmatched node type", transport.EventFilter{NodeTypes: []string{"nt:folder"}}, []transport.EventType{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := c.GetEvents(ctx, tt.filter, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, eventTypes(events))
		})
	}
}

func TestGetEvents_CursorAndLimit(t *testing.T) {
	c := journalFixture(t)
	ctx := context.Background()

	first, err := c.GetEvents(ctx, transport.EventFilter{}, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	rest, err := c.GetEvents(ctx, transport.EventFilter{}, first[1].Cursor, 0)
	require.NoError(t, err)
	assert.Equal(t, []transport.EventType{transport.PropertyChanged, transport.NodeMoved, transport.NodeRemoved}, eventTypes(rest))

	last, err := c.LastCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, rest[len(rest)-1].Cursor, last)

	none, err := c.GetEvents(ctx, transport.EventFilter{}, last, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCursorAt(t *testing.T) {
	s := createTestStore(t)
	clock := testutil.NewFrozenClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	c := login(t, s, WithClock(clock.Now))
	ctx := context.Background()

	storeNode(t, c, "/early", "nt:unstructured")
	clock.Advance(time.Hour)
	boundary := clock.Peek()
	storeNode(t, c, "/late", "nt:unstructured")

	cursor, err := c.CursorAt(ctx, boundary)
	require.NoError(t, err)
	events, err := c.GetEvents(ctx, transport.EventFilter{}, cursor, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "/late", events[0].Path)
	assert.True(t, boundary.Equal(events[0].Date))

	start, err := c.CursorAt(ctx, boundary.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, transport.Cursor(0), start)
}

func TestGetEvents_PersistOnSave(t *testing.T) {
	c := login(t, createTestStore(t))
	ctx := context.Background()

	require.NoError(t, c.PrepareSave(ctx))
	storeNode(t, c, "/a", "nt:unstructured")
	require.NoError(t, c.FinishSave(ctx))

	events, err := c.GetEvents(ctx, transport.EventFilter{Types: transport.Persist}, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "/", events[0].Path)
}
