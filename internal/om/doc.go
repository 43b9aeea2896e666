// Package om is the object manager behind a session: the identity map of
// cached nodes, the queue of pending operations, and the save that replays
// that queue against a transport.
//
// Nodes and properties are plain data owned by the Manager. Reads go
// through the path map first, then the prefetch side cache, then the
// transport. Mutations change the cache immediately and queue an operation
// carrying the paths as they were at that moment; Save replays the queue in
// creation order.
//
// Capabilities the transport lacks are handled here where a fallback
// exists: node type filtering runs on the client, and saves without
// transactions use the PrepareSave/FinishSave hooks.
package om
