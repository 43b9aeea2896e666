package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/crepo/internal/document"
)

// Scenario is a scripted session run against a recording transport.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Profile picks the transport capabilities: read_only, writable
	// (default), transactional, full or cnd.
	Profile string `yaml:"profile,omitempty"`

	// Seed is content present in the backend before login.
	Seed *document.Fixture `yaml:"seed,omitempty"`

	// Steps run in order against one session.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final call log and session state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one session operation. Which fields apply depends on Op.
type Step struct {
	Op string `yaml:"op"`

	Path     string             `yaml:"path,omitempty"`
	Name     string             `yaml:"name,omitempty"`
	Type     string             `yaml:"type,omitempty"`
	Src      string             `yaml:"src,omitempty"`
	Dst      string             `yaml:"dst,omitempty"`
	Dest     string             `yaml:"dest,omitempty"`
	ID       string             `yaml:"id,omitempty"`
	Prefix   string             `yaml:"prefix,omitempty"`
	URI      string             `yaml:"uri,omitempty"`
	Method   string             `yaml:"method,omitempty"`
	Error    string             `yaml:"error,omitempty"`
	Value    *document.Property `yaml:"value,omitempty"`
	Keep     bool               `yaml:"keep,omitempty"`
	Deep     bool               `yaml:"deep,omitempty"`
	Query    *document.Query    `yaml:"query,omitempty"`
	Selector string             `yaml:"selector,omitempty"`

	// Expect checks the step's outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the expected outcome of a step.
type Expect struct {
	// Error is the expected error code, e.g. ITEM_NOT_FOUND.
	Error string `yaml:"error,omitempty"`

	// Result is compared with the step's output when set.
	Result []string `yaml:"result,omitempty"`
}

// Step operations.
const (
	OpAddNode           = "add_node"
	OpSetProperty       = "set_property"
	OpRemove            = "remove"
	OpAddMixin          = "add_mixin"
	OpRemoveMixin       = "remove_mixin"
	OpMove              = "move"
	OpCopy              = "copy"
	OpOrderBefore       = "order_before"
	OpSave              = "save"
	OpRefresh           = "refresh"
	OpGetNode           = "get_node"
	OpNodeByID          = "node_by_id"
	OpGetProperty       = "get_property"
	OpChildren          = "children"
	OpExists            = "exists"
	OpQuery             = "query"
	OpRegisterNamespace = "register_namespace"
	OpLock              = "lock"
	OpUnlock            = "unlock"
	OpFailOn            = "fail_on"
)

// Assertion validates the run after the last step.
type Assertion struct {
	// Type is one of call_count, call_order, node_exists, property_equals
	// or pending.
	Type string `yaml:"type"`

	// Method and Count are used by call_count.
	Method string `yaml:"method,omitempty"`
	Count  int    `yaml:"count,omitempty"`

	// Methods is the expected relative order for call_order.
	Methods []string `yaml:"methods,omitempty"`

	// Path is the item checked by node_exists and property_equals.
	Path string `yaml:"path,omitempty"`

	// Exists is the expectation for node_exists, Values for
	// property_equals and Pending for pending.
	Exists  *bool    `yaml:"exists,omitempty"`
	Values  []string `yaml:"values,omitempty"`
	Pending *bool    `yaml:"pending,omitempty"`
}

// Assertion type constants.
const (
	AssertCallCount      = "call_count"
	AssertCallOrder      = "call_order"
	AssertNodeExists     = "node_exists"
	AssertPropertyEquals = "property_equals"
	AssertPending        = "pending"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := parseProfile(s.Profile); err != nil {
		return err
	}
	if s.Seed != nil {
		if err := s.Seed.Validate(); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(s Step) error {
	need := func(field, v string) error {
		if v == "" {
			return fmt.Errorf("%s is required for %s", field, s.Op)
		}
		return nil
	}
	switch s.Op {
	case OpAddNode:
		if err := need("path", s.Path); err != nil {
			return err
		}
		return need("name", s.Name)
	case OpSetProperty:
		if err := need("path", s.Path); err != nil {
			return err
		}
		return need("name", s.Name)
	case OpAddMixin, OpRemoveMixin:
		if err := need("path", s.Path); err != nil {
			return err
		}
		return need("type", s.Type)
	case OpMove, OpCopy:
		if err := need("src", s.Src); err != nil {
			return err
		}
		return need("dst", s.Dst)
	case OpOrderBefore:
		if err := need("path", s.Path); err != nil {
			return err
		}
		return need("src", s.Src)
	case OpRemove, OpGetNode, OpGetProperty, OpChildren, OpExists, OpLock, OpUnlock:
		return need("path", s.Path)
	case OpNodeByID:
		return need("id", s.ID)
	case OpRegisterNamespace:
		if err := need("prefix", s.Prefix); err != nil {
			return err
		}
		return need("uri", s.URI)
	case OpFailOn:
		return need("method", s.Method)
	case OpQuery:
		if s.Query == nil {
			return fmt.Errorf("query is required for %s", s.Op)
		}
		return nil
	case OpSave, OpRefresh:
		return nil
	case "":
		return fmt.Errorf("op is required")
	}
	return fmt.Errorf("unknown op %q", s.Op)
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertCallCount:
		if a.Method == "" {
			return fmt.Errorf("method is required for call_count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for call_count")
		}
	case AssertCallOrder:
		if len(a.Methods) == 0 {
			return fmt.Errorf("methods list is required for call_order")
		}
	case AssertNodeExists:
		if a.Path == "" || a.Exists == nil {
			return fmt.Errorf("path and exists are required for node_exists")
		}
	case AssertPropertyEquals:
		if a.Path == "" {
			return fmt.Errorf("path is required for property_equals")
		}
	case AssertPending:
		if a.Pending == nil {
			return fmt.Errorf("pending is required for pending")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
