// Package harness runs scripted repository sessions as conformance tests.
//
// A scenario seeds a recording transport, logs a session in through a
// capability profile, runs steps against it and checks the outcome. The
// trace of each run (steps, their results, and the write calls they sent to
// the backend) is compared with a golden snapshot.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: move_then_save
//	description: "A move of an unsaved node is replayed after its add"
//	profile: writable
//	seed:
//	  nodes:
//	    - name: a
//	      properties: {title: x}
//	steps:
//	  - op: add_node
//	    path: /
//	    name: b
//	  - op: move
//	    src: /b
//	    dst: /a/b
//	  - op: save
//	  - op: get_node
//	    path: /b
//	    expect: {error: ITEM_NOT_FOUND}
//	assertions:
//	  - type: call_order
//	    methods: [StoreNode, MoveNode]
//	  - type: pending
//	    pending: false
//
// The seed uses the fixture format of package document. Query steps take a
// query document in their query field.
//
// # Assertion Types
//
//   - call_count: a transport method was called exactly N times
//   - call_order: transport methods were called in the given relative order
//   - node_exists: the session sees (or does not see) a node
//   - property_equals: a property holds the given values
//   - pending: whether the session has unsaved changes
//
// # Deterministic Testing
//
// The transport is a testutil.Fake and identifiers come from
// testutil.SequentialIdentifiers, so the same scenario always produces the
// same trace.
package harness
