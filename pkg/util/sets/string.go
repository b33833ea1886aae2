// Package sets provides a minimal string set.
package sets

// Empty is the value stored for every set member.
type Empty struct{}

// String is a set of strings implemented as a map.
type String map[string]Empty

// NewString creates a String from a list of values.
func NewString(items ...string) String {
	s := String{}
	s.Insert(items...)
	return s
}

// Insert adds items to the set.
func (s String) Insert(items ...string) String {
	for _, item := range items {
		s[item] = Empty{}
	}
	return s
}

// Delete removes items from the set.
func (s String) Delete(items ...string) String {
	for _, item := range items {
		delete(s, item)
	}
	return s
}

// Has returns true if item is contained in the set.
func (s String) Has(item string) bool {
	_, contained := s[item]
	return contained
}

// HasAny returns true if any of the items are contained in the set.
func (s String) HasAny(items ...string) bool {
	for _, item := range items {
		if s.Has(item) {
			return true
		}
	}
	return false
}

// List returns the contents of the set in unspecified order.
func (s String) List() []string {
	res := make([]string, 0, len(s))
	for key := range s {
		res = append(res, key)
	}
	return res
}

// Len returns the size of the set.
func (s String) Len() int {
	return len(s)
}
