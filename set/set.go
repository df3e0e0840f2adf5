// Package set is a minimal insertion-ordered set.
package set

type Set[T comparable] struct {
	set   map[T]struct{}
	order []T
}

// Insert adds k and reports whether it was new.
func (s *Set[T]) Insert(k T) bool {
	if s.set == nil {
		s.set = make(map[T]struct{})
	}
	if _, ok := s.set[k]; ok {
		return false
	}
	s.set[k] = struct{}{}
	s.order = append(s.order, k)
	return true
}

func (s *Set[T]) Contains(k T) bool {
	_, ok := s.set[k]
	return ok
}

func (s *Set[T]) Len() int {
	return len(s.order)
}

// Values returns the members in insertion order.
func (s *Set[T]) Values() []T {
	out := make([]T, len(s.order))
	copy(out, s.order)
	return out
}
