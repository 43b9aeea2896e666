package document

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/session"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// Fixture is a content tree to import.
type Fixture struct {
	Namespaces map[string]string `yaml:"namespaces,omitempty"`
	Nodes      []Node            `yaml:"nodes"`
}

// Node is one node of a fixture. Type may be empty, in which case the
// parent's child definitions choose it.
type Node struct {
	Name       string              `yaml:"name"`
	Type       string              `yaml:"type,omitempty"`
	Mixins     []string            `yaml:"mixins,omitempty"`
	Properties map[string]Property `yaml:"properties,omitempty"`
	Children   []Node              `yaml:"children,omitempty"`
}

// LoadFixture reads and validates a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes and validates fixture YAML.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

// Validate checks node names and property types without touching a
// repository.
func (f *Fixture) Validate() error {
	if len(f.Nodes) == 0 {
		return fmt.Errorf("nodes list is required and must be non-empty")
	}
	return validateNodes("nodes", f.Nodes)
}

func validateNodes(where string, nodes []Node) error {
	for i, n := range nodes {
		at := fmt.Sprintf("%s[%d]", where, i)
		if n.Name == "" {
			return fmt.Errorf("%s: name is required", at)
		}
		if err := itempath.ValidateName(n.Name); err != nil {
			return fmt.Errorf("%s: %w", at, err)
		}
		for name, p := range n.Properties {
			if err := itempath.ValidateName(name); err != nil {
				return fmt.Errorf("%s.properties: %w", at, err)
			}
			if _, err := p.ValueType(); err != nil {
				return fmt.Errorf("%s.properties.%s: %w", at, name, err)
			}
		}
		if err := validateNodes(at+".children", n.Children); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of nodes in the fixture.
func (f *Fixture) Count() int { return countNodes(f.Nodes) }

func countNodes(nodes []Node) int {
	n := len(nodes)
	for _, c := range nodes {
		n += countNodes(c.Children)
	}
	return n
}

// Apply registers the fixture's namespaces and adds its nodes under parent
// as pending changes. The caller saves.
func (f *Fixture) Apply(ctx context.Context, s *session.Session, parent string) error {
	prefixes := make([]string, 0, len(f.Namespaces))
	for p := range f.Namespaces {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, prefix := range prefixes {
		uri := f.Namespaces[prefix]
		got, err := s.NamespaceURI(ctx, prefix)
		if err == nil && got == uri {
			continue
		}
		if err != nil && !repoerr.IsNotFound(err) {
			return err
		}
		if err := s.RegisterNamespace(ctx, prefix, uri); err != nil {
			return err
		}
	}
	return applyNodes(ctx, s, parent, f.Nodes)
}

func applyNodes(ctx context.Context, s *session.Session, parent string, nodes []Node) error {
	for _, n := range nodes {
		added, err := s.AddNode(ctx, parent, n.Name, n.Type)
		if err != nil {
			return err
		}
		for _, mixin := range n.Mixins {
			if err := s.AddMixin(ctx, added.Path, mixin); err != nil {
				return err
			}
		}
		names := make([]string, 0, len(n.Properties))
		for name := range n.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := setProperty(ctx, s, added.Path, name, n.Properties[name]); err != nil {
				return err
			}
		}
		if err := applyNodes(ctx, s, added.Path, n.Children); err != nil {
			return err
		}
	}
	return nil
}

func setProperty(ctx context.Context, s *session.Session, nodePath, name string, p Property) error {
	t, err := p.ValueType()
	if err != nil {
		return err
	}
	if t == value.Binary {
		if len(p.Values) != 1 {
			return repoerr.At(repoerr.CodeInvalidArgument, "import", nodePath, "binary property %s needs exactly one value", name)
		}
		_, err := s.SetBinary(ctx, nodePath, name, []byte(p.Values[0]))
		return err
	}
	_, vals, err := p.Decode()
	if err != nil {
		return repoerr.Wrap(err, "import", nodePath)
	}
	if p.Multiple {
		_, err = s.SetValues(ctx, nodePath, name, t, vals)
	} else {
		_, err = s.SetProperty(ctx, nodePath, name, vals[0])
	}
	return err
}

// Records converts the fixture to backend records rooted at parent, parents
// before children. Referenceable nodes take identifiers from newID. Binary
// properties have no record form and are rejected.
func (f *Fixture) Records(parent string, newID func() string) ([]transport.NodeRecord, error) {
	var out []transport.NodeRecord
	if err := appendRecords(&out, parent, f.Nodes, newID); err != nil {
		return nil, err
	}
	return out, nil
}

func appendRecords(out *[]transport.NodeRecord, parent string, nodes []Node, newID func() string) error {
	for _, n := range nodes {
		rec := transport.NodeRecord{
			Path:        itempath.Child(parent, n.Name),
			PrimaryType: n.Type,
			Mixins:      n.Mixins,
		}
		if rec.PrimaryType == "" {
			rec.PrimaryType = "nt:unstructured"
		}
		if slices.Contains(n.Mixins, "mix:referenceable") {
			rec.Identifier = newID()
		}
		names := make([]string, 0, len(n.Properties))
		for name := range n.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := n.Properties[name]
			t, err := p.ValueType()
			if err != nil {
				return err
			}
			if t == value.Binary {
				return fmt.Errorf("%s: binary property %s cannot be seeded", rec.Path, name)
			}
			// Decode for validation only; records carry the textual form.
			if _, _, err := p.Decode(); err != nil {
				return fmt.Errorf("%s: property %s: %w", rec.Path, name, err)
			}
			rec.Properties = append(rec.Properties, transport.PropertyRecord{
				Name: name, Type: t, Multiple: p.Multiple, Values: slices.Clone(p.Values),
			})
		}
		*out = append(*out, rec)
		if err := appendRecords(out, rec.Path, n.Children, newID); err != nil {
			return err
		}
	}
	return nil
}
