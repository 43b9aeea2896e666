package transport

import (
	"time"

	"github.com/roach88/crepo/internal/value"
)

// NodeRecord is the raw, untyped representation of one node as a backend
// returns it.
//
// Children lists child names in order. A backend may attach deeper data it
// fetched opportunistically (see FetchDepth) as Prefetched records; the
// engine keeps those out of the visible tree until the caller asks for them.
type NodeRecord struct {
	Path        string
	Identifier  string // Empty unless the node is referenceable
	PrimaryType string
	Mixins      []string
	Properties  []PropertyRecord
	Children    []ChildRecord
}

// ChildRecord names one child of a NodeRecord.
type ChildRecord struct {
	Name       string
	Prefetched *NodeRecord // Optional deeper data, nil when not fetched
}

// PropertyRecord is the raw representation of one property. Type is the
// type marker that tells the engine how to read Values.
//
// For BINARY properties Values is empty: Lengths holds the size of each
// binary and the data is read with GetBinaryStream. On writes, Binaries
// carries the content to store.
type PropertyRecord struct {
	Name     string
	Type     value.Type
	Multiple bool
	Values   []string
	Lengths  []int64
	Binaries [][]byte
}

// Property returns the named property record.
func (r *NodeRecord) Property(name string) (PropertyRecord, bool) {
	for _, p := range r.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyRecord{}, false
}

// ChildNames returns the names of the children in order.
func (r *NodeRecord) ChildNames() []string {
	names := make([]string, len(r.Children))
	for i, c := range r.Children {
		names[i] = c.Name
	}
	return names
}

// Credentials identify the user logging in.
type Credentials struct {
	UserID     string
	Password   string
	Attributes map[string]string
}

// Descriptor keys returned by GetRepositoryDescriptors.
const (
	DescSpecVersion          = "jcr.specification.version"
	DescSpecName             = "jcr.specification.name"
	DescRepositoryVendor     = "jcr.repository.vendor"
	DescRepositoryName       = "jcr.repository.name"
	DescRepositoryVersion    = "jcr.repository.version"
	DescOptionTransactions   = "option.transactions.supported"
	DescOptionLocking        = "option.locking.supported"
	DescOptionVersioning     = "option.versioning.supported"
	DescOptionObservation    = "option.journaled.observation.supported"
	DescOptionAccessControl  = "option.access.control.supported"
	DescOptionNodeTypeManage = "option.node.type.management.supported"
	DescQueryLanguages       = "query.languages"
)

// Query languages known to the engine.
const (
	LanguageSQL2   = "JCR-SQL2"
	LanguageSQLite = "sqlite"
)

// Statement is a query ready for execution by a Query transport.
type Statement struct {
	Language string
	Text     string

	// Args holds positional parameters for languages that use them.
	Args []any

	// Bindings holds bind variable values for languages that reference
	// them by name.
	Bindings map[string]value.Value

	// Selectors lists selector names in source order.
	Selectors []string

	// Columns lists the result column names in order.
	Columns []string

	Limit  int // 0 means no limit
	Offset int
}

// Cell is one column of a query result row.
type Cell struct {
	Value    value.Value // Zero when Null
	Type     value.Type
	Selector string
	Null     bool
}

// Row maps column names to cells. Every selector contributes a
// "<selector>.jcr:path" and "<selector>.jcr:score" column.
type Row map[string]Cell

// PathColumn is the column name carrying the node path for a selector.
func PathColumn(selector string) string { return selector + ".jcr:path" }

// ScoreColumn is the column name carrying the score for a selector.
func ScoreColumn(selector string) string { return selector + ".jcr:score" }

// EventType is a bit in an observation event mask.
type EventType int

const (
	NodeAdded       EventType = 0x1
	NodeRemoved     EventType = 0x2
	PropertyAdded   EventType = 0x4
	PropertyRemoved EventType = 0x8
	PropertyChanged EventType = 0x10
	NodeMoved       EventType = 0x20
	Persist         EventType = 0x40

	AllEvents = NodeAdded | NodeRemoved | PropertyAdded | PropertyRemoved | PropertyChanged | NodeMoved | Persist
)

// String names the event type.
func (t EventType) String() string {
	switch t {
	case NodeAdded:
		return "NODE_ADDED"
	case NodeRemoved:
		return "NODE_REMOVED"
	case PropertyAdded:
		return "PROPERTY_ADDED"
	case PropertyRemoved:
		return "PROPERTY_REMOVED"
	case PropertyChanged:
		return "PROPERTY_CHANGED"
	case NodeMoved:
		return "NODE_MOVED"
	case Persist:
		return "PERSIST"
	}
	return "UNKNOWN"
}

// Cursor is an opaque position in an event journal. The zero Cursor is the
// start of the journal.
type Cursor int64

// Event is one journal entry.
type Event struct {
	Cursor      Cursor
	Type        EventType
	Path        string
	Identifier  string
	PrimaryType string
	UserID      string
	Date        time.Time
	Info        map[string]string // e.g. srcAbsPath/destAbsPath for moves
}

// EventFilter narrows a journal read. Zero fields do not filter.
type EventFilter struct {
	Types         EventType // 0 means all
	AbsPath       string
	Deep          bool
	Identifiers   []string
	NodeTypes     []string
	ExcludeUserID string // Drops events caused by this user ("noLocal")
}

// LockInfo describes a held lock.
type LockInfo struct {
	Path          string
	Token         string
	Owner         string
	Deep          bool
	SessionScoped bool
	Expires       time.Time // Zero means no timeout
}
