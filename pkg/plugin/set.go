package plugin

// Set is an insertion-ordered collection of IDs with unique keys. The zero
// value is an empty set ready to use. Set is not safe for concurrent use.
type Set struct {
	items []ID
	index map[string]int
}

// NewSet builds a set from ids, dropping later duplicates and empty IDs.
func NewSet(ids ...ID) *Set {
	s := &Set{}
	s.Add(ids...)
	return s
}

// Add appends ids that are not already present and reports how many were
// added.
func (s *Set) Add(ids ...ID) int {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	added := 0
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		if _, ok := s.index[id.key]; ok {
			continue
		}
		s.index[id.key] = len(s.items)
		s.items = append(s.items, id)
		added++
	}
	return added
}

// Remove deletes id and reports whether it was present. Order of the
// remaining items is preserved.
func (s *Set) Remove(id ID) bool {
	pos, ok := s.index[id.key]
	if !ok {
		return false
	}
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	delete(s.index, id.key)
	for i := pos; i < len(s.items); i++ {
		s.index[s.items[i].key] = i
	}
	return true
}

// Contains reports whether an ID with the same key is present.
func (s *Set) Contains(id ID) bool {
	if s == nil || s.index == nil {
		return false
	}
	_, ok := s.index[id.key]
	return ok
}

// Len returns the number of items.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Items returns a copy of the items in insertion order.
func (s *Set) Items() []ID {
	if s == nil {
		return nil
	}
	return append([]ID(nil), s.items...)
}

// Without returns the items of s that are not contained in any of the
// excluded sets, in order.
func (s *Set) Without(excluded ...*Set) []ID {
	out := make([]ID, 0, s.Len())
	for _, id := range s.Items() {
		skip := false
		for _, ex := range excluded {
			if ex.Contains(id) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, id)
		}
	}
	return out
}

// Dedupe returns ids with later case-insensitive duplicates removed.
func Dedupe(ids []ID) []ID {
	return NewSet(ids...).Items()
}
