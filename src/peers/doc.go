// Package peers defines how nodes of an ACoL fleet are identified and how a
// node describes the peers it knows about.
//
// A node is identified by a JID, a domain-qualified name such as
// fen_ag0@localhost. JIDs are opaque to the rest of the system: they are used
// as map keys, as presence subscription targets, and as transport addresses.
//
// Each node is started with a NeighbourSet. The StarterNeighbours are the
// peers the node proactively subscribes to and exchanges models with. The
// Observers are peers that follow the node's presence (typically the launcher)
// but never take part in training. Both are sets: duplicates are discarded and
// order is irrelevant.
package peers
