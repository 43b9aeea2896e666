package session

import (
	"context"
	"strings"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/repoerr"
)

// reservedPrefixes may be neither registered nor unregistered. Any prefix
// starting with "xml", in any case, is reserved as well.
var reservedPrefixes = map[string]bool{
	"jcr": true,
	"nt":  true,
	"mix": true,
	"sv":  true,
}

func isReservedPrefix(prefix string) bool {
	return reservedPrefixes[prefix] || strings.HasPrefix(strings.ToLower(prefix), "xml")
}

// Namespaces returns prefix -> uri for every registered namespace. No
// namespaces is an empty map.
func (s *Session) Namespaces(ctx context.Context) (map[string]string, error) {
	if err := s.check("getNamespaces"); err != nil {
		return nil, err
	}
	ns, err := s.t.GetNamespaces(ctx)
	if err != nil {
		return nil, repoerr.Wrap(err, "getNamespaces", "")
	}
	if ns == nil {
		ns = map[string]string{}
	}
	return ns, nil
}

// NamespaceURI returns the uri registered for prefix.
func (s *Session) NamespaceURI(ctx context.Context, prefix string) (string, error) {
	ns, err := s.Namespaces(ctx)
	if err != nil {
		return "", err
	}
	uri, ok := ns[prefix]
	if !ok {
		return "", repoerr.At(repoerr.CodeItemNotFound, "getNamespaceURI", "", "prefix %q is not registered", prefix)
	}
	return uri, nil
}

// NamespacePrefix returns the prefix registered for uri.
func (s *Session) NamespacePrefix(ctx context.Context, uri string) (string, error) {
	ns, err := s.Namespaces(ctx)
	if err != nil {
		return "", err
	}
	for p, u := range ns {
		if u == uri {
			return p, nil
		}
	}
	return "", repoerr.At(repoerr.CodeItemNotFound, "getNamespacePrefix", "", "uri %q is not registered", uri)
}

// RegisterNamespace maps prefix to uri, replacing any existing mapping for
// prefix.
func (s *Session) RegisterNamespace(ctx context.Context, prefix, uri string) error {
	if err := s.check("registerNamespace"); err != nil {
		return err
	}
	w := s.caps.Writing
	if w == nil {
		return repoerr.Unsupported("registerNamespace", "Writing")
	}
	if prefix == "" || uri == "" {
		return repoerr.At(repoerr.CodeInvalidArgument, "registerNamespace", "", "prefix and uri must not be empty")
	}
	if isReservedPrefix(prefix) {
		return repoerr.At(repoerr.CodeInvalidArgument, "registerNamespace", "", "prefix %q is reserved", prefix)
	}
	if err := itempath.ValidateName(prefix); err != nil || strings.Contains(prefix, ":") {
		return repoerr.At(repoerr.CodeInvalidArgument, "registerNamespace", "", "invalid prefix %q", prefix)
	}
	if err := w.RegisterNamespace(ctx, prefix, uri); err != nil {
		return repoerr.Wrap(err, "registerNamespace", "")
	}
	s.logger.Debug("namespace registered", "prefix", prefix, "uri", uri)
	return nil
}

// UnregisterNamespace removes the mapping for prefix.
func (s *Session) UnregisterNamespace(ctx context.Context, prefix string) error {
	if err := s.check("unregisterNamespace"); err != nil {
		return err
	}
	w := s.caps.Writing
	if w == nil {
		return repoerr.Unsupported("unregisterNamespace", "Writing")
	}
	if isReservedPrefix(prefix) {
		return repoerr.At(repoerr.CodeInvalidArgument, "unregisterNamespace", "", "prefix %q is reserved", prefix)
	}
	ns, err := s.Namespaces(ctx)
	if err != nil {
		return err
	}
	if _, ok := ns[prefix]; !ok {
		return repoerr.At(repoerr.CodeItemNotFound, "unregisterNamespace", "", "prefix %q is not registered", prefix)
	}
	if err := w.UnregisterNamespace(ctx, prefix); err != nil {
		return repoerr.Wrap(err, "unregisterNamespace", "")
	}
	return nil
}
