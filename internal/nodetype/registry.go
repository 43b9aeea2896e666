package nodetype

import (
	"slices"

	"github.com/roach88/crepo/internal/repoerr"
)

// Registry resolves node type names to definitions.
//
// A registry may have a parent; lookups fall through to it. The built-in
// registry has no parent and is never mutated after load. Session
// registries are single-threaded like the session that owns them.
type Registry struct {
	parent *Registry
	defs   map[string]*Definition
	names  []string // Own definitions in registration order
}

// NewRegistry creates a registry layered over parent (which may be nil).
func NewRegistry(parent *Registry) *Registry {
	return &Registry{parent: parent, defs: make(map[string]*Definition)}
}

func newRegistry(parent *Registry, defs []Definition) (*Registry, error) {
	r := NewRegistry(parent)
	if err := r.Register(defs, false); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds definitions. Without allowUpdate a name that already
// resolves in this registry or its parents fails with NodeTypeExists.
func (r *Registry) Register(defs []Definition, allowUpdate bool) error {
	for i := range defs {
		def := defs[i]
		if def.Name == "" {
			return repoerr.New(repoerr.CodeInvalidArgument, "node type name must not be empty")
		}
		if !allowUpdate && r.Has(def.Name) {
			return repoerr.At(repoerr.CodeNodeTypeExists, "registerNodeType", def.Name, "node type already registered")
		}
		if _, own := r.defs[def.Name]; !own {
			r.names = append(r.names, def.Name)
		}
		r.defs[def.Name] = &def
	}
	return nil
}

// Has reports whether name resolves.
func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// Get returns the definition for name or fails with NoSuchNodeType.
func (r *Registry) Get(name string) (*Definition, error) {
	for reg := r; reg != nil; reg = reg.parent {
		if def, ok := reg.defs[name]; ok {
			return def, nil
		}
	}
	return nil, repoerr.At(repoerr.CodeNoSuchNodeType, "getNodeType", name, "no such node type")
}

// Names returns every resolvable node type name, parents first.
func (r *Registry) Names() []string {
	var names []string
	if r.parent != nil {
		names = r.parent.Names()
	}
	for _, n := range r.names {
		if !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	return names
}

// Supertypes returns the transitive supertypes of name, nearest first,
// without duplicates. Unknown names contribute nothing.
func (r *Registry) Supertypes(name string) []string {
	var out []string
	seen := map[string]bool{name: true}
	queue := []string{name}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		def, err := r.Get(current)
		if err != nil {
			continue
		}
		supers := def.Supertypes
		if len(supers) == 0 && !def.Mixin && current != "nt:base" {
			supers = []string{"nt:base"}
		}
		for _, s := range supers {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
				queue = append(queue, s)
			}
		}
	}
	return out
}

// IsNodeType reports whether a node with the given primary type and mixins
// is of type name, either directly or through inheritance.
func (r *Registry) IsNodeType(primaryType string, mixins []string, name string) bool {
	for _, t := range append([]string{primaryType}, mixins...) {
		if t == name {
			return true
		}
		if slices.Contains(r.Supertypes(t), name) {
			return true
		}
	}
	return false
}

// MatchesAny reports whether the node is of at least one of the given types.
// An empty type list matches everything.
func (r *Registry) MatchesAny(primaryType string, mixins []string, types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if r.IsNodeType(primaryType, mixins, t) {
			return true
		}
	}
	return false
}

// Unregister removes definitions owned by this registry. Names only known
// to a parent fail with NoSuchNodeType.
func (r *Registry) Unregister(names []string) error {
	for _, n := range names {
		if _, ok := r.defs[n]; !ok {
			return repoerr.At(repoerr.CodeNoSuchNodeType, "unregisterNodeType", n, "node type not registered here")
		}
		delete(r.defs, n)
		r.names = slices.DeleteFunc(r.names, func(s string) bool { return s == n })
	}
	return nil
}
