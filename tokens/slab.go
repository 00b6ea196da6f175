package tokens

import (
	"fmt"
	"iter"

	"github.com/anacrolix/missinggo/v2/panicif"
)

type slabEntry[T any] struct {
	value    T
	gen      uint32
	occupied bool
}

// Slab is a fixed-capacity table of values indexed by Token within one Range. Capacity is set at
// construction and never grows. Freeing a slot bumps its generation, so Tokens issued before the
// free stop resolving even after the slot number is reused.
type Slab[T any] struct {
	r       Range
	entries []slabEntry[T]
	// Stack of vacant slot offsets. The most recently freed slot is reused first.
	vacant []uint32
}

func NewSlab[T any](r Range) *Slab[T] {
	s := &Slab[T]{
		r:       r,
		entries: make([]slabEntry[T], r.Len()),
		vacant:  make([]uint32, 0, r.Len()),
	}
	for i := r.Len() - 1; i >= 0; i-- {
		s.vacant = append(s.vacant, uint32(i))
	}
	return s
}

func (s *Slab[T]) Range() Range {
	return s.r
}

func (s *Slab[T]) Cap() int {
	return len(s.entries)
}

func (s *Slab[T]) Len() int {
	return len(s.entries) - len(s.vacant)
}

func (s *Slab[T]) Insert(v T) (Token, error) {
	if len(s.vacant) == 0 {
		return 0, fmt.Errorf("%w: range %v holds %d", ErrCapacityExceeded, s.r, s.Cap())
	}
	off := s.vacant[len(s.vacant)-1]
	s.vacant = s.vacant[:len(s.vacant)-1]
	e := &s.entries[off]
	panicif.True(e.occupied)
	e.occupied = true
	e.value = v
	return makeToken(s.r.Begin+off, e.gen), nil
}

func (s *Slab[T]) entry(t Token) (*slabEntry[T], error) {
	if !s.r.Contains(t) {
		return nil, fmt.Errorf("%w: %v outside range %v", ErrInvalidToken, t, s.r)
	}
	e := &s.entries[t.Slot()-s.r.Begin]
	if !e.occupied || e.gen != t.Generation() {
		return nil, fmt.Errorf("%w: %v is vacant or stale", ErrInvalidToken, t)
	}
	return e, nil
}

func (s *Slab[T]) Get(t Token) (v T, err error) {
	e, err := s.entry(t)
	if err != nil {
		return
	}
	return e.value, nil
}

func (s *Slab[T]) Contains(t Token) bool {
	_, err := s.entry(t)
	return err == nil
}

// Remove vacates the slot for t and returns the value it held.
func (s *Slab[T]) Remove(t Token) (v T, err error) {
	e, err := s.entry(t)
	if err != nil {
		return
	}
	v = e.value
	var zero T
	e.value = zero
	e.occupied = false
	e.gen++
	s.vacant = append(s.vacant, t.Slot()-s.r.Begin)
	return
}

// All yields occupied slots in slot order. The Slab must not be modified during iteration.
func (s *Slab[T]) All() iter.Seq2[Token, T] {
	return func(yield func(Token, T) bool) {
		for i := range s.entries {
			e := &s.entries[i]
			if !e.occupied {
				continue
			}
			if !yield(makeToken(s.r.Begin+uint32(i), e.gen), e.value) {
				return
			}
		}
	}
}
