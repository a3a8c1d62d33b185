package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAlgorithm is returned by ParseAlgorithm for unsupported names.
var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// Algorithm describes a collaborative learning algorithm. Only the name is
// used by the fleet, to build the presence status of the agents.
type Algorithm struct {
	Name        string
	Description string
}

// Supported algorithms.
var (
	FLaMAS = Algorithm{Name: "FLaMAS", Description: "Centralized FL with agents."}
	CoL    = Algorithm{Name: "CoL", Description: "Decentralized and synchronous FL with agents."}
	ACoL   = Algorithm{Name: "ACoL", Description: "Decentralized and asynchronous FL with agents."}
	ACoaL  = Algorithm{Name: "ACoaL", Description: "Decentralized and asynchronous FL with agents and coalitions."}
)

// Algorithms lists the supported algorithms.
var Algorithms = []Algorithm{FLaMAS, CoL, ACoL, ACoaL}

// ParseAlgorithm returns the algorithm with the given name, ignoring case.
func ParseAlgorithm(name string) (Algorithm, error) {
	for _, a := range Algorithms {
		if strings.EqualFold(a.Name, name) {
			return a, nil
		}
	}
	return Algorithm{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
}

// Status returns the presence status announced by agents running the
// algorithm, e.g. READY_ACOL.
func (a Algorithm) Status() string {
	return "READY_" + strings.ToUpper(a.Name)
}

func (a Algorithm) String() string {
	return a.Name
}
