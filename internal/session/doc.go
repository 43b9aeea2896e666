// Package session is the client API of the repository: login, the item
// API, and the managers for namespaces, node types, queries, observation,
// locks, versions and access control.
//
// A Session wraps one logged-in transport and the object manager over it.
// Every capability the transport lacks either has a client-side fallback
// (queries are evaluated locally, permissions follow from Writing, CND is
// parsed into definitions) or fails with UnsupportedOperation.
//
// Usage:
//
//	s, err := session.Login(ctx, t, transport.Credentials{UserID: "admin"}, "")
//	if err != nil {
//	    return err
//	}
//	defer s.Logout(ctx)
//
//	n, err := s.AddNode(ctx, "/", "docs", "nt:folder")
//	...
//	err = s.Save(ctx)
package session
