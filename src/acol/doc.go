// Package acol wires a configuration into a running fleet.
//
// An ACoL engine creates the transport substrate (an in-memory hub, an
// embedded WAMP router, or a connection to a remote one), one node per agent
// of the topology with its presence store and learner, a launcher observing
// them, and the HTTP service. Run launches the fleet and tears it down when
// it is cancelled, when every agent has finished, or when a client requests
// it through the service.
package acol
