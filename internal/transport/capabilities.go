package transport

// Capabilities holds the optional facets of a transport, resolved once.
// A nil field means the backend does not offer that capability.
type Capabilities struct {
	Writing               Writing
	Locking               Locking
	Versioning            Versioning
	Transactional         Transactional
	Observation           Observation
	AccessControl         AccessControl
	Permission            Permission
	Query                 Query
	NodeTypeManagement    NodeTypeManagement
	NodeTypeCndManagement NodeTypeCndManagement
	NodeTypeFilter        NodeTypeFilter
}

// Detect resolves the capabilities of t.
//
// If a backend implements both node type management flavors, the CND one
// is kept and the definition one dropped so exactly one registration path
// is ever used.
func Detect(t Transport) Capabilities {
	var c Capabilities
	c.Writing, _ = t.(Writing)
	c.Locking, _ = t.(Locking)
	c.Versioning, _ = t.(Versioning)
	c.Transactional, _ = t.(Transactional)
	c.Observation, _ = t.(Observation)
	c.AccessControl, _ = t.(AccessControl)
	c.Permission, _ = t.(Permission)
	c.Query, _ = t.(Query)
	c.NodeTypeManagement, _ = t.(NodeTypeManagement)
	c.NodeTypeCndManagement, _ = t.(NodeTypeCndManagement)
	c.NodeTypeFilter, _ = t.(NodeTypeFilter)

	if c.NodeTypeCndManagement != nil {
		c.NodeTypeManagement = nil
	}
	return c
}

// Names lists the capabilities present, in a fixed order. Used for logging.
func (c Capabilities) Names() []string {
	var names []string
	add := func(present bool, name string) {
		if present {
			names = append(names, name)
		}
	}
	add(c.Writing != nil, "Writing")
	add(c.Locking != nil, "Locking")
	add(c.Versioning != nil, "Versioning")
	add(c.Transactional != nil, "Transactional")
	add(c.Observation != nil, "Observation")
	add(c.AccessControl != nil, "AccessControl")
	add(c.Permission != nil, "Permission")
	add(c.Query != nil, "Query")
	add(c.NodeTypeManagement != nil, "NodeTypeManagement")
	add(c.NodeTypeCndManagement != nil, "NodeTypeCndManagement")
	add(c.NodeTypeFilter != nil, "NodeTypeFilter")
	return names
}
