package nodetype

import (
	_ "embed"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/value"
)

//go:embed builtin.cue
var builtinCUE string

// builtin is compiled on first use and never modified afterwards.
var builtin = sync.OnceValues(func() (*Registry, error) {
	defs, err := LoadCUE("builtin.cue", builtinCUE)
	if err != nil {
		return nil, err
	}
	return newRegistry(nil, defs)
})

// Builtin returns the process-wide registry of built-in node types.
// It panics if the embedded table is malformed, which is a build defect.
func Builtin() *Registry {
	r, err := builtin()
	if err != nil {
		panic(err)
	}
	return r
}

// cueNodeType mirrors #NodeType in the CUE schema.
type cueNodeType struct {
	Supertypes  []string      `json:"supertypes"`
	Mixin       bool          `json:"mixin"`
	Abstract    bool          `json:"abstract"`
	Orderable   bool          `json:"orderable"`
	Queryable   bool          `json:"queryable"`
	PrimaryItem string        `json:"primaryItem"`
	Properties  []cueProperty `json:"properties"`
	Children    []cueChild    `json:"children"`
}

type cueProperty struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Multiple    bool     `json:"multiple"`
	Mandatory   bool     `json:"mandatory"`
	AutoCreated bool     `json:"autoCreated"`
	Protected   bool     `json:"protected"`
	Defaults    []string `json:"defaults"`
}

type cueChild struct {
	Name             string   `json:"name"`
	RequiredTypes    []string `json:"requiredTypes"`
	DefaultType      string   `json:"defaultType"`
	Mandatory        bool     `json:"mandatory"`
	AutoCreated      bool     `json:"autoCreated"`
	Protected        bool     `json:"protected"`
	SameNameSiblings bool     `json:"sameNameSiblings"`
}

// LoadCUE compiles CUE source declaring a top-level nodeTypes struct into
// definitions, in declaration order.
func LoadCUE(filename, src string) ([]Definition, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	types := v.LookupPath(cue.ParsePath("nodeTypes"))
	if !types.Exists() {
		return nil, repoerr.New(repoerr.CodeInvalidArgument, "%s: nodeTypes is required", filename)
	}

	iter, err := types.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var defs []Definition
	for iter.Next() {
		name := iter.Selector().Unquoted()

		var raw cueNodeType
		if err := iter.Value().Decode(&raw); err != nil {
			return nil, formatCUEError(err)
		}

		def, err := raw.definition(name)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (raw cueNodeType) definition(name string) (Definition, error) {
	def := Definition{
		Name:        name,
		Supertypes:  raw.Supertypes,
		Mixin:       raw.Mixin,
		Abstract:    raw.Abstract,
		Orderable:   raw.Orderable,
		Queryable:   raw.Queryable,
		PrimaryItem: raw.PrimaryItem,
	}

	for _, p := range raw.Properties {
		typ := value.Undefined
		if p.Type != "" {
			t, err := value.ParseType(p.Type)
			if err != nil {
				return Definition{}, repoerr.New(repoerr.CodeInvalidArgument, "node type %s, property %s: %v", name, p.Name, err)
			}
			typ = t
		}
		def.Properties = append(def.Properties, PropertyDefinition{
			Name:         p.Name,
			RequiredType: typ,
			Multiple:     p.Multiple,
			Mandatory:    p.Mandatory,
			AutoCreated:  p.AutoCreated,
			Protected:    p.Protected,
			Defaults:     p.Defaults,
		})
	}

	for _, c := range raw.Children {
		def.Children = append(def.Children, ChildDefinition(c))
	}
	return def, nil
}

// formatCUEError flattens CUE's multi-error into one InvalidArgument error.
func formatCUEError(err error) error {
	return repoerr.New(repoerr.CodeInvalidArgument, "%s", cueerrors.Details(err, nil))
}
