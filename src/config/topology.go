package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mosaicnetworks/acol/src/peers"
)

var (
	// ErrInvalidTopology is returned when a topology is inconsistent.
	ErrInvalidTopology = errors.New("invalid topology")
)

// AgentSpec is the description of one agent in a topology file. Observers
// default to the launcher when the key is omitted.
type AgentSpec struct {
	JID        string   `toml:"jid"`
	Neighbours []string `toml:"neighbours"`
	Observers  []string `toml:"observers"`
}

// Topology describes the agents of a fleet and who they know about at
// startup.
//
//	launcher = "fen_launcher@localhost"
//
//	[[agent]]
//	jid = "fen_ag0@localhost"
//	neighbours = ["fen_ag1@localhost"]
//
//	[[agent]]
//	jid = "fen_ag1@localhost"
//	neighbours = ["fen_ag0@localhost"]
//	observers = []
type Topology struct {
	Launcher string      `toml:"launcher"`
	Agents   []AgentSpec `toml:"agent"`
}

// DefaultTopology returns a fully connected topology of n agents named
// <prefix><i>@<domain>, all observed by the launcher.
func DefaultTopology(n int, domain string) *Topology {
	launcher := string(peers.NewJID(DefaultLauncherName, domain))

	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(peers.NewJID(fmt.Sprintf("%s%d", DefaultAgentPrefix, i), domain))
	}

	t := &Topology{
		Launcher: launcher,
		Agents:   make([]AgentSpec, 0, n),
	}

	for i, id := range ids {
		neighbours := make([]string, 0, n-1)
		neighbours = append(neighbours, ids[:i]...)
		neighbours = append(neighbours, ids[i+1:]...)

		t.Agents = append(t.Agents, AgentSpec{
			JID:        id,
			Neighbours: neighbours,
			Observers:  []string{launcher},
		})
	}

	return t
}

// ParseTopology decodes a TOML topology and validates it. domain is used to
// name the launcher when the file does not.
func ParseTopology(data string, domain string) (*Topology, error) {
	t := &Topology{}

	md, err := toml.Decode(data, t)
	if err != nil {
		return nil, err
	}

	return t.complete(md, domain)
}

// LoadTopology reads and validates a TOML topology file.
func LoadTopology(path string, domain string) (*Topology, error) {
	t := &Topology{}

	md, err := toml.DecodeFile(path, t)
	if err != nil {
		return nil, err
	}

	return t.complete(md, domain)
}

func (t *Topology) complete(md toml.MetaData, domain string) (*Topology, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalidTopology, strings.Join(keys, ", "))
	}

	if !md.IsDefined("launcher") {
		t.Launcher = string(peers.NewJID(DefaultLauncherName, domain))
	}

	for i, a := range t.Agents {
		if a.Observers == nil {
			t.Agents[i].Observers = []string{t.Launcher}
		}
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// Validate checks that every JID is well formed, that agents are unique, and
// that neighbours are agents of the topology other than themselves.
func (t *Topology) Validate() error {
	if _, err := peers.ParseJID(t.Launcher); err != nil {
		return fmt.Errorf("%w: launcher: %v", ErrInvalidTopology, err)
	}

	if len(t.Agents) == 0 {
		return fmt.Errorf("%w: no agents", ErrInvalidTopology)
	}

	known := peers.NewSet()
	for _, a := range t.Agents {
		id, err := peers.ParseJID(a.JID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTopology, err)
		}
		if known.Contains(id) {
			return fmt.Errorf("%w: duplicate agent %s", ErrInvalidTopology, id)
		}
		if id == peers.JID(t.Launcher) {
			return fmt.Errorf("%w: agent %s is the launcher", ErrInvalidTopology, id)
		}
		known.Add(id)
	}

	for _, a := range t.Agents {
		for _, n := range a.Neighbours {
			if n == a.JID {
				return fmt.Errorf("%w: %s is its own neighbour", ErrInvalidTopology, a.JID)
			}
			if !known.Contains(peers.JID(n)) {
				return fmt.Errorf("%w: %s has unknown neighbour %s", ErrInvalidTopology, a.JID, n)
			}
		}
		for _, o := range a.Observers {
			if _, err := peers.ParseJID(o); err != nil {
				return fmt.Errorf("%w: %s observer: %v", ErrInvalidTopology, a.JID, err)
			}
		}
	}

	return nil
}

// IDs returns the JIDs of the agents, in the order of the topology.
func (t *Topology) IDs() []peers.JID {
	res := make([]peers.JID, len(t.Agents))
	for i, a := range t.Agents {
		res[i] = peers.JID(a.JID)
	}
	return res
}

// LauncherID returns the JID of the launcher.
func (t *Topology) LauncherID() peers.JID {
	return peers.JID(t.Launcher)
}

// NeighbourSet returns the NeighbourSet of agent id, and false if id is not
// part of the topology.
func (t *Topology) NeighbourSet(id peers.JID) (peers.NeighbourSet, bool) {
	for _, a := range t.Agents {
		if peers.JID(a.JID) != id {
			continue
		}
		return peers.NewNeighbourSet(toJIDs(a.Neighbours), toJIDs(a.Observers)), true
	}
	return peers.NeighbourSet{}, false
}

func toJIDs(s []string) []peers.JID {
	res := make([]peers.JID, len(s))
	for i, v := range s {
		res[i] = peers.JID(v)
	}
	return res
}
