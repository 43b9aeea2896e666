package session

import (
	"context"
	"slices"
	"time"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/operation"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
)

// Permission actions.
const (
	ActionRead        = "read"
	ActionAddNode     = "add_node"
	ActionSetProperty = "set_property"
	ActionRemove      = "remove"
)

// HasPermission reports whether the session may perform every action at
// path.
//
// Without a Permission transport reading is always allowed and the write
// actions are allowed exactly when the transport accepts writes.
func (s *Session) HasPermission(ctx context.Context, path string, actions ...string) (bool, error) {
	if err := s.check("hasPermission"); err != nil {
		return false, err
	}
	for _, a := range actions {
		switch a {
		case ActionRead, ActionAddNode, ActionSetProperty, ActionRemove:
		default:
			return false, repoerr.At(repoerr.CodeInvalidArgument, "hasPermission", path, "unknown action %q", a)
		}
	}

	if p := s.caps.Permission; p != nil {
		bp, err := s.permissionPath(path)
		if err != nil {
			return false, err
		}
		granted, err := p.GetPermissions(ctx, bp)
		if err != nil {
			return false, repoerr.Wrap(err, "hasPermission", path)
		}
		for _, a := range actions {
			if !slices.Contains(granted, a) {
				return false, nil
			}
		}
		return true, nil
	}

	for _, a := range actions {
		if a != ActionRead && s.caps.Writing == nil {
			return false, nil
		}
	}
	return true, nil
}

// permissionPath translates path for a permission check. Items that do
// not exist yet are checked at their nearest persisted ancestor.
func (s *Session) permissionPath(path string) (string, error) {
	p, err := itempath.Normalize(path)
	if err != nil {
		return "", err
	}
	for {
		bp, err := s.om.BackendPath(p)
		if err == nil || !repoerr.IsNotFound(err) || p == itempath.Root {
			return bp, err
		}
		p = itempath.Parent(p)
	}
}

// Locking.

// Lock locks the node at path. A zero timeout means no timeout.
func (s *Session) Lock(ctx context.Context, path string, deep, sessionScoped bool, timeout time.Duration) (*transport.LockInfo, error) {
	l := s.caps.Locking
	if l == nil {
		return nil, repoerr.Unsupported("lock", "Locking")
	}
	bp, err := s.backendPath("lock", path)
	if err != nil {
		return nil, err
	}
	info, err := l.Lock(ctx, bp, deep, sessionScoped, timeout, s.userID)
	if err != nil {
		return nil, repoerr.Wrap(err, "lock", path)
	}
	return info, nil
}

// Unlock releases the lock identified by token on the node at path.
func (s *Session) Unlock(ctx context.Context, path, token string) error {
	l := s.caps.Locking
	if l == nil {
		return repoerr.Unsupported("unlock", "Locking")
	}
	bp, err := s.backendPath("unlock", path)
	if err != nil {
		return err
	}
	if err := l.Unlock(ctx, bp, token); err != nil {
		return repoerr.Wrap(err, "unlock", path)
	}
	return nil
}

// IsLocked reports whether the node at path is locked. Without Locking
// nothing is ever locked.
func (s *Session) IsLocked(ctx context.Context, path string) (bool, error) {
	bp, err := s.backendPath("isLocked", path)
	if err != nil {
		return false, err
	}
	l := s.caps.Locking
	if l == nil {
		return false, nil
	}
	locked, err := l.IsLocked(ctx, bp)
	if err != nil {
		return false, repoerr.Wrap(err, "isLocked", path)
	}
	return locked, nil
}

// GetLock returns the lock held on the node at path.
func (s *Session) GetLock(ctx context.Context, path string) (*transport.LockInfo, error) {
	l := s.caps.Locking
	if l == nil {
		return nil, repoerr.Unsupported("getLock", "Locking")
	}
	bp, err := s.backendPath("getLock", path)
	if err != nil {
		return nil, err
	}
	info, err := l.GetLock(ctx, bp)
	if err != nil {
		return nil, repoerr.Wrap(err, "getLock", path)
	}
	return info, nil
}

// Versioning.

// Checkin creates a version of the node at path and returns the version's
// path. The node must not have pending changes.
func (s *Session) Checkin(ctx context.Context, path string) (string, error) {
	v := s.caps.Versioning
	if v == nil {
		return "", repoerr.Unsupported("checkin", "Versioning")
	}
	bp, err := s.backendPath("checkin", path)
	if err != nil {
		return "", err
	}
	if n, ok := s.om.Cached(itempath.MustNormalize(path)); ok && n.Modified {
		return "", repoerr.At(repoerr.CodeInvalidArgument, "checkin", path, "node has pending changes")
	}
	vp, err := v.Checkin(ctx, bp)
	if err != nil {
		return "", repoerr.Wrap(err, "checkin", path)
	}
	return vp, nil
}

// Checkout makes the node at path writable again after a checkin.
func (s *Session) Checkout(ctx context.Context, path string) error {
	v := s.caps.Versioning
	if v == nil {
		return repoerr.Unsupported("checkout", "Versioning")
	}
	bp, err := s.backendPath("checkout", path)
	if err != nil {
		return err
	}
	if err := v.Checkout(ctx, bp); err != nil {
		return repoerr.Wrap(err, "checkout", path)
	}
	return nil
}

// Restore restores the node at path to the version at versionPath. Cached
// state is dropped since the backend tree changed underneath it.
func (s *Session) Restore(ctx context.Context, versionPath, path string, removeExisting bool) error {
	v := s.caps.Versioning
	if v == nil {
		return repoerr.Unsupported("restore", "Versioning")
	}
	bp, err := s.backendPath("restore", path)
	if err != nil {
		return err
	}
	if err := v.Restore(ctx, removeExisting, versionPath, bp); err != nil {
		return repoerr.Wrap(err, "restore", path)
	}
	s.om.Refresh(true)
	return nil
}

// RemoveVersion deletes a version from a version history.
func (s *Session) RemoveVersion(ctx context.Context, versionHistoryPath, versionName string) error {
	if err := s.check("removeVersion"); err != nil {
		return err
	}
	v := s.caps.Versioning
	if v == nil {
		return repoerr.Unsupported("removeVersion", "Versioning")
	}
	if err := v.RemoveVersion(ctx, versionHistoryPath, versionName); err != nil {
		return repoerr.Wrap(err, "removeVersion", versionHistoryPath)
	}
	return nil
}

// Access control.

// SupportedPrivileges lists the privileges that can be granted at path.
func (s *Session) SupportedPrivileges(ctx context.Context, path string) ([]string, error) {
	ac := s.caps.AccessControl
	if ac == nil {
		return nil, repoerr.Unsupported("getSupportedPrivileges", "AccessControl")
	}
	bp, err := s.backendPath("getSupportedPrivileges", path)
	if err != nil {
		return nil, err
	}
	privs, err := ac.GetSupportedPrivileges(ctx, bp)
	if err != nil {
		return nil, repoerr.Wrap(err, "getSupportedPrivileges", path)
	}
	return privs, nil
}

// Policies returns the persisted policies bound at path.
func (s *Session) Policies(ctx context.Context, path string) ([]operation.Policy, error) {
	ac := s.caps.AccessControl
	if ac == nil {
		return nil, repoerr.Unsupported("getPolicies", "AccessControl")
	}
	bp, err := s.backendPath("getPolicies", path)
	if err != nil {
		return nil, err
	}
	policies, err := ac.GetPolicies(ctx, bp)
	if err != nil {
		return nil, repoerr.Wrap(err, "getPolicies", path)
	}
	return policies, nil
}

// SetPolicy binds policy to the node at path. It is written on Save.
func (s *Session) SetPolicy(ctx context.Context, path string, policy operation.Policy) error {
	if err := s.check("setPolicy"); err != nil {
		return err
	}
	if policy.Name == "" {
		return repoerr.At(repoerr.CodeInvalidArgument, "setPolicy", path, "policy name must not be empty")
	}
	return s.om.SetPolicy(ctx, path, policy)
}
