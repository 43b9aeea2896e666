package om

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/nodetype"
	"github.com/roach88/crepo/internal/operation"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
)

// Manager is the identity map and change tracker of one session.
//
// Thread-safety: none. A Manager belongs to exactly one session, which is
// used by one caller at a time.
//
// INVARIANTS:
//   - nodes is keyed by normalized path; a cached path resolves to the same
//     *Node until it is moved, removed, refreshed or evicted
//   - every uuids entry points at a path present in nodes
//   - prefetched records never appear in nodes until a lookup asks for them
type Manager struct {
	t       transport.Transport
	caps    transport.Capabilities
	capsSet bool
	types   *nodetype.Registry
	logger  *slog.Logger

	nodes      map[string]*Node
	uuids      map[string]string                // identifier -> path
	prefetched map[string]*transport.NodeRecord // backend path -> record
	log        *operation.Log

	depth    int      // Nesting of public calls in progress
	deferred []string // Paths to mark modified when the outermost call ends

	newID func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithCapabilities supplies capabilities resolved by the caller, so they
// are detected once per session.
func WithCapabilities(caps transport.Capabilities) Option {
	return func(m *Manager) {
		m.caps = caps
		m.capsSet = true
	}
}

// WithIdentifiers sets the generator of identifiers for new referenceable
// nodes. The default is uuid.NewString.
func WithIdentifiers(next func() string) Option {
	return func(m *Manager) {
		m.newID = next
	}
}

// New creates a Manager over a logged-in transport. types answers node type
// questions for client-side filtering.
func New(t transport.Transport, types *nodetype.Registry, opts ...Option) *Manager {
	m := &Manager{
		t:          t,
		types:      types,
		logger:     slog.Default(),
		nodes:      make(map[string]*Node),
		uuids:      make(map[string]string),
		prefetched: make(map[string]*transport.NodeRecord),
		log:        operation.NewLog(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	if !m.capsSet {
		m.caps = transport.Detect(t)
	}
	m.logger.Debug("object manager ready", "capabilities", m.caps.Names())
	return m
}

// Capabilities returns the transport capabilities resolved at construction.
func (m *Manager) Capabilities() transport.Capabilities { return m.caps }

// Transport returns the underlying transport.
func (m *Manager) Transport() transport.Transport { return m.t }

// Types returns the node type registry.
func (m *Manager) Types() *nodetype.Registry { return m.types }

// HasPendingChanges reports whether save would write anything.
func (m *Manager) HasPendingChanges() bool {
	if m.log.Len() > 0 {
		return true
	}
	for _, n := range m.nodes {
		if n.Modified || n.New {
			return true
		}
	}
	return false
}

// PendingOperations returns the queued operations in creation order.
func (m *Manager) PendingOperations() []operation.Operation {
	entries := m.log.Entries()
	out := make([]operation.Operation, len(entries))
	for i, e := range entries {
		out[i] = e.Op
	}
	return out
}

// RegisterOperation queues op. Callers flag the affected items with
// MarkModified.
func (m *Manager) RegisterOperation(op operation.Operation) operation.Entry {
	m.logger.Debug("operation queued", "op", string(op.Kind()), "path", op.Path())
	return m.log.Append(op)
}

// MarkModified flags the cached node at p and its cached ancestors as
// modified. Marks requested while a Manager call is in progress are applied
// when the outermost call returns.
func (m *Manager) MarkModified(p string) {
	if m.depth > 0 {
		m.deferred = append(m.deferred, p)
		return
	}
	m.mark(p)
}

func (m *Manager) mark(p string) {
	for {
		if n, ok := m.nodes[p]; ok {
			n.Modified = true
		}
		if p == itempath.Root {
			return
		}
		p = itempath.Parent(p)
	}
}

// enter and leave bracket a public call that mutates the cache.
func (m *Manager) enter() { m.depth++ }

func (m *Manager) leave() {
	m.depth--
	if m.depth > 0 {
		return
	}
	for len(m.deferred) > 0 {
		p := m.deferred[0]
		m.deferred = m.deferred[1:]
		m.mark(p)
	}
}

// register adds n to the path map, then its identifier to the UUID map.
func (m *Manager) register(n *Node) {
	m.nodes[n.Path] = n
	if n.Identifier != "" {
		m.uuids[n.Identifier] = n.Path
	}
}

// evict drops the cached node at p and every cached descendant. It returns
// the evicted nodes sorted by path.
func (m *Manager) evict(p string) []*Node {
	var out []*Node
	for path, n := range m.nodes {
		if itempath.IsSelfOrDescendant(path, p) {
			out = append(out, n)
			delete(m.nodes, path)
			if n.Identifier != "" && m.uuids[n.Identifier] == path {
				delete(m.uuids, n.Identifier)
			}
		}
	}
	slices.SortFunc(out, func(a, b *Node) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// cachePrefetched stores the prefetched descendants of rec in the side
// cache, keyed by backend path.
func (m *Manager) cachePrefetched(rec *transport.NodeRecord) {
	for _, c := range rec.Children {
		if c.Prefetched == nil {
			continue
		}
		m.prefetched[c.Prefetched.Path] = c.Prefetched
		m.cachePrefetched(c.Prefetched)
	}
}

// Refresh discards cached state. With keepChanges false the operation log
// and every cached item are dropped. With keepChanges true only unmodified
// items are evicted so pending changes survive.
func (m *Manager) Refresh(keepChanges bool) {
	clear(m.prefetched)
	if !keepChanges {
		m.log.Clear()
		clear(m.nodes)
		clear(m.uuids)
		m.logger.Debug("session refreshed", "keepChanges", false)
		return
	}
	for p, n := range m.nodes {
		if n.New || n.Modified {
			continue
		}
		delete(m.nodes, p)
		if n.Identifier != "" && m.uuids[n.Identifier] == p {
			delete(m.uuids, n.Identifier)
		}
	}
	m.logger.Debug("session refreshed", "keepChanges", true, "kept", len(m.nodes))
}

// Cached returns the cached node at p without loading it.
func (m *Manager) Cached(p string) (*Node, bool) {
	n, ok := m.nodes[p]
	return n, ok
}

func (m *Manager) requireWriting(op string) (transport.Writing, error) {
	if m.caps.Writing == nil {
		return nil, repoerr.Unsupported(op, "Writing")
	}
	return m.caps.Writing, nil
}
