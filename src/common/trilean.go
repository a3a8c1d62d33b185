package common

// Trilean is a boolean that can also be undefined. It is used where "no
// information" must be distinguishable from false, for example when querying
// the completeness of a reassembly buffer that does not exist.
type Trilean int

const (
	// Undefined means the value has not been defined yet
	Undefined Trilean = iota
	// True means the value is defined and true
	True
	// False means the value is defined and false
	False
)

var trileans = []string{"Undefined", "True", "False"}

// String returns the string representation of Trilean
func (t Trilean) String() string {
	if t < Undefined || t > False {
		return "Unknown"
	}
	return trileans[t]
}

// FromBool converts a defined boolean into a Trilean.
func FromBool(b bool) Trilean {
	if b {
		return True
	}
	return False
}
