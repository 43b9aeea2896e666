package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/crepo/internal/testutil"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// login connects to the default workspace as "admin" with a deterministic
// clock and identifiers.
func login(t *testing.T, s *Store, opts ...ConnOption) *Conn {
	t.Helper()
	opts = append([]ConnOption{
		WithClock(testutil.NewClock().Now),
		WithIdentifiers(testutil.NewSequentialIdentifiers().Next),
	}, opts...)
	c := s.Connect(opts...)
	if _, err := c.Login(context.Background(), transport.Credentials{UserID: "admin"}, ""); err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	t.Cleanup(func() { c.Logout(context.Background()) })
	return c
}

// storeNode creates a node, failing the test on error.
func storeNode(t *testing.T, c *Conn, path, primaryType string, props ...transport.PropertyRecord) {
	t.Helper()
	err := c.StoreNode(context.Background(), &transport.NodeRecord{Path: path, PrimaryType: primaryType, Properties: props})
	if err != nil {
		t.Fatalf("StoreNode(%s) failed: %v", path, err)
	}
}

func stringProp(name, v string) transport.PropertyRecord {
	return transport.PropertyRecord{Name: name, Type: value.String, Values: []string{v}}
}

func longProp(name, v string) transport.PropertyRecord {
	return transport.PropertyRecord{Name: name, Type: value.Long, Values: []string{v}}
}
