// Package presence maintains a node's view of which of its neighbours are
// currently reachable.
//
// Subscription and reachability are decoupled. A neighbour that approved our
// subscription may still be offline, so reachability only follows presence
// events. The Tracker re-subscribes to every unreachable neighbour on each
// Tick and recomputes the reachable set; when it differs from the previous
// one, the new view is persisted as a Snapshot in a Store.
package presence
