// Package config defines the configuration of an ACoL fleet.
//
// Regardless of how the fleet is started, directly from Go code or from the
// command line, it uses the Config object defined in this package. On top of
// these options, the fleet relies on a data directory, defined by
// Config.DataDir, where it looks for a few optional files:
//
//	acol.toml     // configuration file, same keys as the command line flags
//	topology.toml // agents, neighbours and observers (see Topology)
//	badger_db/    // presence snapshots, one database per agent (--store)
package config
