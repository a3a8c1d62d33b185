package peers

import "sort"

// Set is an unordered collection of JIDs without duplicates.
type Set map[JID]struct{}

// NewSet creates a Set containing ids.
func NewSet(ids ...JID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id in the set.
func (s Set) Add(id JID) {
	s[id] = struct{}{}
}

// Remove deletes id from the set.
func (s Set) Remove(id JID) {
	delete(s, id)
}

// Contains reports whether id belongs to the set.
func (s Set) Contains(id JID) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of JIDs in the set.
func (s Set) Len() int {
	return len(s)
}

// Clone returns a copy of the set.
func (s Set) Clone() Set {
	res := make(Set, len(s))
	for id := range s {
		res[id] = struct{}{}
	}
	return res
}

// Union returns a new set with the elements of s and o.
func (s Set) Union(o Set) Set {
	res := s.Clone()
	for id := range o {
		res[id] = struct{}{}
	}
	return res
}

// Difference returns a new set with the elements of s that are not in o.
func (s Set) Difference(o Set) Set {
	res := make(Set)
	for id := range s {
		if !o.Contains(id) {
			res[id] = struct{}{}
		}
	}
	return res
}

// SymmetricDifference returns the elements that belong to exactly one of s and
// o.
func (s Set) SymmetricDifference(o Set) Set {
	res := s.Difference(o)
	for id := range o {
		if !s.Contains(id) {
			res[id] = struct{}{}
		}
	}
	return res
}

// Equal reports whether both sets contain the same elements.
func (s Set) Equal(o Set) bool {
	return len(s) == len(o) && len(s.Difference(o)) == 0
}

// Slice returns the elements of the set sorted in lexical order.
func (s Set) Slice() []JID {
	res := make([]JID, 0, len(s))
	for id := range s {
		res = append(res, id)
	}
	sort.Sort(ByJID(res))
	return res
}

// ByJID implements sort.Interface for a slice of JIDs.
type ByJID []JID

func (a ByJID) Len() int           { return len(a) }
func (a ByJID) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a ByJID) Less(i, j int) bool { return a[i] < a[j] }
