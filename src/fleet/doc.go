// Package fleet starts, monitors and stops a set of agents.
//
// The Launcher starts every agent in its own supervised goroutine and keeps a
// LaunchRecord per agent. A failed launch is logged and recorded, and never
// prevents the other agents from starting. Liveness is event based: an agent
// is alive from a successful launch until its Done channel is closed.
//
// Optionally, the launcher takes part in presence like an agent does. It
// announces itself with the READY2CONS status and tracks every agent as a
// neighbour, which is how agents configured with the launcher as an observer
// see it online.
package fleet
