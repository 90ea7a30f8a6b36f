package plugin

import "strings"

// ID identifies a plugin. Two IDs are equal when their keys are equal.
type ID struct {
	name string
	key  string
}

// New returns the ID for name. Surrounding whitespace is dropped from the
// display name.
func New(name string) ID {
	trimmed := strings.TrimSpace(name)
	return ID{name: trimmed, key: strings.ToLower(trimmed)}
}

// Names converts plain names into IDs, preserving order and duplicates.
func Names(names ...string) []ID {
	ids := make([]ID, 0, len(names))
	for _, n := range names {
		ids = append(ids, New(n))
	}
	return ids
}

// Strings returns the display names of ids.
func Strings(ids []ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.name
	}
	return out
}

// Name returns the display name.
func (id ID) Name() string { return id.name }

// Key returns the case-insensitive comparison key.
func (id ID) Key() string { return id.key }

// IsZero reports whether the ID has an empty key.
func (id ID) IsZero() bool { return id.key == "" }

// Equal reports whether both IDs share a key.
func (id ID) Equal(other ID) bool { return id.key == other.key }

// String implements fmt.Stringer.
func (id ID) String() string { return id.name }
