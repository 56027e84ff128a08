package permission

import (
	"sort"
	"strings"
)

// Set is an immutable, sorted collection of permission names.
type Set []string

// NewSet builds a Set from the given names, dropping duplicates and blanks.
func NewSet(names ...string) Set {
	seen := make(map[string]struct{}, len(names))
	out := make(Set, 0, len(names))

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	sort.Strings(out)
	return out
}

// Has reports whether the set contains name.
func (s Set) Has(name string) bool {
	i := sort.SearchStrings(s, name)
	return i < len(s) && s[i] == name
}

// HasAll reports whether the set contains every given name.
func (s Set) HasAll(names ...string) bool {
	for _, name := range names {
		if !s.Has(name) {
			return false
		}
	}
	return true
}

// HasAny reports whether the set contains at least one of the given names.
func (s Set) HasAny(names ...string) bool {
	for _, name := range names {
		if s.Has(name) {
			return true
		}
	}
	return false
}

// Union returns a new Set containing the members of both sets.
func (s Set) Union(other Set) Set {
	return NewSet(append(append([]string{}, s...), other...)...)
}

// Encode serializes the set for storage. Decode reverses it.
func (s Set) Encode() string {
	return strings.Join(s, ",")
}

// Decode parses a storage-edge value produced by Encode.
func Decode(value string) Set {
	if value == "" {
		return nil
	}
	return NewSet(strings.Split(value, ",")...)
}
