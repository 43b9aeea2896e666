package document

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/roach88/crepo/internal/value"
)

// Property is a property value as written in a document.
//
// A bare scalar is a single STRING value and a bare sequence a multi-valued
// STRING property. The mapping form names the type and uses either value
// (single) or values (multiple).
type Property struct {
	Type     string
	Values   []string
	Multiple bool
}

// UnmarshalYAML accepts the scalar, sequence and mapping forms.
func (p *Property) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		p.Values = []string{n.Value}
		return nil
	case yaml.SequenceNode:
		var vals []string
		if err := n.Decode(&vals); err != nil {
			return err
		}
		p.Values, p.Multiple = vals, true
		return nil
	case yaml.MappingNode:
		var raw struct {
			Type   string   `yaml:"type"`
			Value  *string  `yaml:"value"`
			Values []string `yaml:"values"`
		}
		if err := n.Decode(&raw); err != nil {
			return err
		}
		if raw.Value != nil && raw.Values != nil {
			return fmt.Errorf("line %d: value and values are mutually exclusive", n.Line)
		}
		p.Type = raw.Type
		if raw.Value != nil {
			p.Values = []string{*raw.Value}
		} else {
			p.Values, p.Multiple = raw.Values, true
		}
		return nil
	}
	return fmt.Errorf("line %d: property must be a scalar, sequence or mapping", n.Line)
}

// ValueType resolves the declared type. No type means STRING.
func (p Property) ValueType() (value.Type, error) {
	if p.Type == "" {
		return value.String, nil
	}
	return value.ParseType(p.Type)
}

// Decode converts the textual values to typed values. BINARY properties are
// rejected here: their content is the raw string, see Bytes.
func (p Property) Decode() (value.Type, []value.Value, error) {
	t, err := p.ValueType()
	if err != nil {
		return value.Undefined, nil, err
	}
	if t == value.Binary {
		return t, nil, fmt.Errorf("binary values have no typed form")
	}
	vals := make([]value.Value, len(p.Values))
	for i, s := range p.Values {
		if vals[i], err = value.New(t, s); err != nil {
			return value.Undefined, nil, err
		}
	}
	return t, vals, nil
}

// Single returns the only value of a single-valued property.
func (p Property) Single() (value.Value, error) {
	if p.Multiple || len(p.Values) != 1 {
		return value.Value{}, fmt.Errorf("expected exactly one value, got %d", len(p.Values))
	}
	_, vals, err := p.Decode()
	if err != nil {
		return value.Value{}, err
	}
	return vals[0], nil
}
