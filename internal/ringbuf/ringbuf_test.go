package ringbuf

import (
	"testing"

	qt "github.com/go-quicktest/qt"
)

func TestWrapAround(t *testing.T) {
	b := New(8)
	n, _ := b.Write([]byte("abcdef"))
	qt.Assert(t, qt.Equals(n, 6))
	var p [4]byte
	qt.Assert(t, qt.Equals(b.Peek(p[:]), 4))
	qt.Assert(t, qt.Equals(string(p[:]), "abcd"))
	b.Consume(4)
	// Free space is now split: 2 bytes at the end and 4 at the start.
	qt.Assert(t, qt.Equals(len(b.Unfilled()), 2))
	n, _ = b.Write([]byte("ghijkl"))
	qt.Assert(t, qt.Equals(n, 6))
	qt.Assert(t, qt.IsTrue(b.Full()))
	qt.Assert(t, qt.HasLen(b.Unfilled(), 0))
	qt.Assert(t, qt.Equals(string(b.Filled()), "efgh"))
	out := make([]byte, 8)
	qt.Assert(t, qt.Equals(b.Peek(out), 8))
	qt.Assert(t, qt.Equals(string(out), "efghijkl"))
	n, _ = b.Read(out[:3])
	qt.Assert(t, qt.Equals(n, 3))
	qt.Assert(t, qt.Equals(string(out[:3]), "efg"))
	qt.Assert(t, qt.Equals(b.Len(), 5))
}

func TestWriteTruncatesWhenFull(t *testing.T) {
	b := New(3)
	n, err := b.Write([]byte("hello"))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(n, 3))
	n, _ = b.Write([]byte("x"))
	qt.Assert(t, qt.Equals(n, 0))
}

func TestConsumeAllResetsHead(t *testing.T) {
	b := New(4)
	b.Write([]byte("abc"))
	b.Consume(3)
	qt.Assert(t, qt.IsTrue(b.Empty()))
	qt.Assert(t, qt.HasLen(b.Unfilled(), 4))
	qt.Assert(t, qt.HasLen(b.Filled(), 0))
}
