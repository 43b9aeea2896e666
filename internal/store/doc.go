// Package store provides a SQLite-backed content repository backend.
//
// A Store owns the database. Each session talks to it through its own Conn,
// which implements transport.Transport together with the Writing,
// Transactional, Query, Observation, NodeTypeManagement, NodeTypeFilter and
// Permission capabilities. Locking, versioning and access control are not
// offered; the engine reports those as unsupported.
//
// # Data Layout
//
//   - nodes: one row per node, keyed by (workspace, path)
//   - node_types: every type a node is, including inherited ones
//   - properties / property_values: one row per property and per value,
//     with a numeric shadow column for ordered comparison
//   - namespaces, nodetypes: repository-wide registries
//   - journal: observation events, seq is the cursor
//
// # Critical Patterns
//
// Subtree Integrity
//   - Moves and deletes update the subtree root and every row whose path
//     starts with root + "/", never a bare string prefix: moving /a leaves
//     /ab untouched
//   - Foreign keys cascade path updates and deletes to types and properties
//
// Deterministic Query Results
//   - All listing queries ORDER BY a stable key ending in path COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
