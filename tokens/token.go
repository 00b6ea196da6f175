// Package tokens partitions a flat identifier space into fixed ranges, one per connection kind, and
// backs each range with a fixed-capacity slot table.
package tokens

import (
	"errors"
	"fmt"
)

var (
	ErrCapacityExceeded = errors.New("slot table capacity exceeded")
	ErrInvalidToken     = errors.New("invalid token")
)

// A Token identifies one socket for the lifetime of its slot. The low 32 bits are the slot number,
// which alone determines the owning Range. The high 32 bits are the slot generation at allocation
// time, so a Token that outlives its slot no longer resolves.
type Token uint64

func makeToken(slot, gen uint32) Token {
	return Token(uint64(gen)<<32 | uint64(slot))
}

func (t Token) Slot() uint32 {
	return uint32(t)
}

func (t Token) Generation() uint32 {
	return uint32(t >> 32)
}

func (t Token) String() string {
	return fmt.Sprintf("%d.%d", t.Slot(), t.Generation())
}

// A half-open range of slot numbers [Begin, End).
type Range struct {
	Begin, End uint32
}

func (r Range) Contains(t Token) bool {
	s := t.Slot()
	return r.Begin <= s && s < r.End
}

func (r Range) Len() int {
	return int(r.End - r.Begin)
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Begin, r.End)
}
