package om

import (
	"slices"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// Names of the properties derived from a node's type fields.
const (
	PropPrimaryType = "jcr:primaryType"
	PropMixinTypes  = "jcr:mixinTypes"
	PropUUID        = "jcr:uuid"
)

// Node is a cached node. The Manager owns every Node it returns; callers
// read the fields and mutate only through Manager methods. A Node holds no
// reference back to the Manager or its session.
//
// A move produces a new Node at the destination. The old instance keeps its
// old Path and is no longer reachable from the Manager.
type Node struct {
	Path        string
	Name        string // Last path segment including any [n] index
	Index       int    // Same-name-sibling index, starting at 1
	Depth       int
	Identifier  string
	PrimaryType string
	Mixins      []string

	// Children lists child node names in order. Children the transport
	// prefetched are listed by name only.
	Children []string

	New      bool // Not yet saved
	Modified bool

	props       []*Property
	mixinsDirty bool // Mixins changed on a saved node
}

// Parent returns the parent path. The root is its own parent.
func (n *Node) Parent() string { return itempath.Parent(n.Path) }

// Property returns the named property.
func (n *Node) Property(name string) (*Property, bool) {
	for _, p := range n.props {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Properties returns the node's properties in order.
func (n *Node) Properties() []*Property { return slices.Clone(n.props) }

// PropertyNames returns the property names in order.
func (n *Node) PropertyNames() []string {
	names := make([]string, len(n.props))
	for i, p := range n.props {
		names[i] = p.Name
	}
	return names
}

// HasChild reports whether the node lists a child called name.
func (n *Node) HasChild(name string) bool { return slices.Contains(n.Children, name) }

// Property is a cached property.
//
// BINARY properties carry no Values: Lengths holds the size of each binary
// and the data is streamed with Manager.OpenBinary.
type Property struct {
	Path     string
	Name     string
	Type     value.Type
	Multiple bool
	Values   []value.Value
	Lengths  []int64

	New      bool // Not present in the backend
	Modified bool

	binaries [][]byte // Unsaved binary content
}

// Value returns the single value of a non-multiple property.
func (p *Property) Value() (value.Value, error) {
	if p.Multiple {
		return value.Value{}, repoerr.At(repoerr.CodeValueFormat, "getValue", p.Path, "property is multi-valued")
	}
	if p.Type == value.Binary {
		return value.Value{}, repoerr.At(repoerr.CodeNotImplemented, "getValue", p.Path, "binary values are streamed, not held in memory")
	}
	if len(p.Values) == 0 {
		return value.Value{}, repoerr.At(repoerr.CodeValueFormat, "getValue", p.Path, "property has no value")
	}
	return p.Values[0], nil
}

// Strings returns the string form of every value.
func (p *Property) Strings() []string {
	out := make([]string, len(p.Values))
	for i, v := range p.Values {
		out[i] = v.String()
	}
	return out
}

// record converts the property for a transport write.
func (p *Property) record() transport.PropertyRecord {
	rec := transport.PropertyRecord{Name: p.Name, Type: p.Type, Multiple: p.Multiple}
	if p.Type == value.Binary {
		rec.Lengths = slices.Clone(p.Lengths)
		rec.Binaries = p.binaries
		return rec
	}
	rec.Values = p.Strings()
	return rec
}

// newNode builds a Node at path p from a raw record read at the record's
// own path. The record's prefetched children are not attached.
func newNode(p string, rec *transport.NodeRecord) (*Node, error) {
	n := &Node{
		Path:        p,
		Depth:       itempath.Depth(p),
		Identifier:  rec.Identifier,
		PrimaryType: rec.PrimaryType,
		Mixins:      slices.Clone(rec.Mixins),
		Children:    rec.ChildNames(),
	}
	n.Name = itempath.Name(p)
	_, n.Index = itempath.SplitName(n.Name)

	for _, pr := range rec.Properties {
		prop, err := newProperty(itempath.Child(p, pr.Name), pr)
		if err != nil {
			return nil, err
		}
		n.props = append(n.props, prop)
	}
	n.syncDerived()
	return n, nil
}

func newProperty(p string, rec transport.PropertyRecord) (*Property, error) {
	prop := &Property{
		Path:     p,
		Name:     rec.Name,
		Type:     rec.Type,
		Multiple: rec.Multiple,
	}
	if rec.Type == value.Binary {
		prop.Lengths = slices.Clone(rec.Lengths)
		return prop, nil
	}
	for _, s := range rec.Values {
		v, err := value.New(rec.Type, s)
		if err != nil {
			return nil, repoerr.Wrap(err, "readProperty", p)
		}
		prop.Values = append(prop.Values, v)
	}
	return prop, nil
}

// syncDerived makes the derived type properties agree with the node's type
// fields. Transports differ in whether they return them.
func (n *Node) syncDerived() {
	n.setDerived(PropPrimaryType, false, []value.Value{value.NewName(n.PrimaryType)})
	if len(n.Mixins) > 0 {
		vals := make([]value.Value, len(n.Mixins))
		for i, m := range n.Mixins {
			vals[i] = value.NewName(m)
		}
		n.setDerived(PropMixinTypes, true, vals)
	} else {
		n.dropProperty(PropMixinTypes)
	}
	if n.Identifier != "" {
		n.setDerived(PropUUID, false, []value.Value{value.NewString(n.Identifier)})
	}
}

func (n *Node) setDerived(name string, multiple bool, vals []value.Value) {
	if p, ok := n.Property(name); ok {
		p.Values = vals
		p.Multiple = multiple
		return
	}
	typ := value.Name
	if name == PropUUID {
		typ = value.String
	}
	n.props = append(n.props, &Property{
		Path:     itempath.Child(n.Path, name),
		Name:     name,
		Type:     typ,
		Multiple: multiple,
		Values:   vals,
	})
}

// autoCreate adds an auto-created property with its declared defaults.
func (n *Node) autoCreate(name string, typ value.Type, multiple bool, defaults []string) error {
	if _, ok := n.Property(name); ok {
		return nil
	}
	p := itempath.Child(n.Path, name)
	prop := &Property{Path: p, Name: name, Type: typ, Multiple: multiple, New: true, Modified: true}
	if typ == value.Undefined {
		prop.Type = value.String
	}
	for _, s := range defaults {
		v, err := value.New(prop.Type, s)
		if err != nil {
			return repoerr.Wrap(err, "autoCreate", p)
		}
		prop.Values = append(prop.Values, v)
	}
	n.props = append(n.props, prop)
	return nil
}

func (n *Node) dropProperty(name string) {
	n.props = slices.DeleteFunc(n.props, func(p *Property) bool { return p.Name == name })
}

// isDerived reports whether a property mirrors a type field and is written
// through the node record rather than on its own.
func isDerived(name string) bool {
	return name == PropPrimaryType || name == PropMixinTypes || name == PropUUID
}

// record converts the node for a StoreNode call at path p.
func (n *Node) record(p string) *transport.NodeRecord {
	rec := &transport.NodeRecord{
		Path:        p,
		Identifier:  n.Identifier,
		PrimaryType: n.PrimaryType,
		Mixins:      slices.Clone(n.Mixins),
	}
	for _, prop := range n.props {
		if !isDerived(prop.Name) {
			rec.Properties = append(rec.Properties, prop.record())
		}
	}
	return rec
}

// rebind returns a copy of n living at p. Property paths follow.
func (n *Node) rebind(p string) *Node {
	out := *n
	out.Path = p
	out.Name = itempath.Name(p)
	_, out.Index = itempath.SplitName(out.Name)
	out.Depth = itempath.Depth(p)
	out.Mixins = slices.Clone(n.Mixins)
	out.Children = slices.Clone(n.Children)
	out.props = make([]*Property, len(n.props))
	for i, prop := range n.props {
		cp := *prop
		cp.Path = itempath.Child(p, prop.Name)
		out.props[i] = &cp
	}
	return &out
}
