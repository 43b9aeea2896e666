package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/testutil"
)

func TestNamespaces_EmptyIsNotAnError(t *testing.T) {
	s, _ := open(t, testutil.ProfileReadOnly)

	ns, err := s.Namespaces(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, ns)
	assert.Empty(t, ns)
}

func TestNamespaces_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	s, f := open(t, testutil.ProfileWritable)

	tests := []struct {
		name   string
		prefix string
		uri    string
	}{
		{"reserved jcr", "jcr", "http://example.com/jcr"},
		{"reserved nt", "nt", "http://example.com/nt"},
		{"reserved mix", "mix", "http://example.com/mix"},
		{"reserved sv", "sv", "http://example.com/sv"},
		{"xml prefix", "xmlfoo", "http://example.com/xml"},
		{"xml prefix any case", "XMLbar", "http://example.com/xml"},
		{"empty prefix", "", "http://example.com/"},
		{"empty uri", "app", ""},
		{"colon in prefix", "a:b", "http://example.com/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.RegisterNamespace(ctx, tt.prefix, tt.uri)
			assert.ErrorIs(t, err, repoerr.ErrInvalidArgument)
		})
	}
	assert.Zero(t, f.CallCount("RegisterNamespace"), "validation happens before the transport")
}

func TestNamespaces_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := open(t, testutil.ProfileWritable)

	require.NoError(t, s.RegisterNamespace(ctx, "app", "http://example.com/app"))

	uri, err := s.NamespaceURI(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/app", uri)
	prefix, err := s.NamespacePrefix(ctx, "http://example.com/app")
	require.NoError(t, err)
	assert.Equal(t, "app", prefix)

	require.NoError(t, s.UnregisterNamespace(ctx, "app"))
	_, err = s.NamespaceURI(ctx, "app")
	assert.ErrorIs(t, err, repoerr.ErrItemNotFound)

	assert.ErrorIs(t, s.UnregisterNamespace(ctx, "app"), repoerr.ErrItemNotFound)
	assert.ErrorIs(t, s.UnregisterNamespace(ctx, "jcr"), repoerr.ErrInvalidArgument)
}

func TestNamespaces_RequireWriting(t *testing.T) {
	ctx := context.Background()
	s, _ := open(t, testutil.ProfileReadOnly)

	assert.ErrorIs(t, s.RegisterNamespace(ctx, "app", "http://example.com/app"), repoerr.ErrUnsupportedOperation)
	assert.ErrorIs(t, s.UnregisterNamespace(ctx, "app"), repoerr.ErrUnsupportedOperation)
}
