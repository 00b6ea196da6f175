// Package ringbuf is a fixed-capacity byte ring that exposes its free and filled regions as
// contiguous slices, so non-blocking socket reads and writes can target it without copying.
package ringbuf

import (
	"github.com/anacrolix/missinggo/v2/panicif"
)

type Buffer struct {
	b []byte
	// Offset of the first filled byte.
	head int
	// Number of filled bytes.
	n int
}

func New(capacity int) *Buffer {
	panicif.LessThanOrEqual(capacity, 0)
	return &Buffer{b: make([]byte, capacity)}
}

func (me *Buffer) Cap() int  { return len(me.b) }
func (me *Buffer) Len() int  { return me.n }
func (me *Buffer) Free() int { return len(me.b) - me.n }

func (me *Buffer) Full() bool  { return me.n == len(me.b) }
func (me *Buffer) Empty() bool { return me.n == 0 }

// Unfilled returns the next contiguous run of free space. It is empty only when the buffer is
// full. Call Advance with the number of bytes written into it.
func (me *Buffer) Unfilled() []byte {
	if me.Full() {
		return nil
	}
	tail := (me.head + me.n) % len(me.b)
	if tail < me.head {
		return me.b[tail:me.head]
	}
	return me.b[tail:]
}

func (me *Buffer) Advance(n int) {
	panicif.GreaterThan(n, me.Free())
	me.n += n
}

// Filled returns the next contiguous run of buffered bytes. It is empty only when the buffer is
// empty. Call Consume with the number of bytes taken from it.
func (me *Buffer) Filled() []byte {
	if me.Empty() {
		return nil
	}
	end := me.head + me.n
	if end > len(me.b) {
		end = len(me.b)
	}
	return me.b[me.head:end]
}

func (me *Buffer) Consume(n int) {
	panicif.GreaterThan(n, me.n)
	me.n -= n
	if me.n == 0 {
		// Keep future runs as long as possible.
		me.head = 0
	} else {
		me.head = (me.head + n) % len(me.b)
	}
}

// Peek copies buffered bytes into p without consuming them.
func (me *Buffer) Peek(p []byte) int {
	n := min(len(p), me.n)
	first := copy(p[:n], me.b[me.head:min(me.head+n, len(me.b))])
	copy(p[first:n], me.b)
	return n
}

// Read implements io.Reader over the buffered bytes.
func (me *Buffer) Read(p []byte) (n int, err error) {
	n = me.Peek(p)
	me.Consume(n)
	return
}

// Write appends as much of p as fits and reports how much that was. It never returns an error,
// callers check n.
func (me *Buffer) Write(p []byte) (n int, err error) {
	for len(p) != 0 && !me.Full() {
		m := copy(me.Unfilled(), p)
		me.Advance(m)
		p = p[m:]
		n += m
	}
	return
}

func (me *Buffer) Reset() {
	me.head = 0
	me.n = 0
}
