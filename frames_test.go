package peerwire

import (
	"testing"

	"github.com/go-quicktest/qt"

	pp "github.com/anacrolix/torrent/peer_protocol"

	"github.com/anacrolix/peerwire/internal/ringbuf"
)

func TestFramesSpanningRingWrap(t *testing.T) {
	fr := newFrameReader(32)
	buf := ringbuf.New(36)
	// Leave a keepalive at the head, so the next frame wraps around the end of the ring.
	buf.Write(make([]byte, 30))
	buf.Consume(26)
	want := pp.Message{Type: pp.Request, Index: 1, Begin: 2, Length: 3}
	buf.Write(want.MustMarshalBinary())
	var got []pp.Message
	for msg, err := range fr.frames(buf) {
		qt.Assert(t, qt.IsNil(err))
		got = append(got, msg)
	}
	qt.Assert(t, qt.DeepEquals(got, []pp.Message{{Keepalive: true}, want}))
	qt.Check(t, qt.IsTrue(buf.Empty()))
}

func TestFramesStopAtPartial(t *testing.T) {
	fr := newFrameReader(32)
	buf := ringbuf.New(64)
	b := frames(pp.Message{Type: pp.Unchoke}, pp.Message{Keepalive: true}, haveMsg(9))
	buf.Write(b[:len(b)-1])
	var got []pp.Message
	for msg, err := range fr.frames(buf) {
		qt.Assert(t, qt.IsNil(err))
		got = append(got, msg)
	}
	qt.Assert(t, qt.HasLen(got, 2))
	qt.Check(t, qt.Equals(got[0].Type, pp.Unchoke))
	qt.Check(t, qt.IsTrue(got[1].Keepalive))
	qt.Check(t, qt.Equals(buf.Len(), 8))
}

func TestFramesDecodeError(t *testing.T) {
	fr := newFrameReader(32)
	buf := ringbuf.New(64)
	// Have with a truncated index.
	buf.Write([]byte{0, 0, 0, 3, byte(pp.Have), 0, 0})
	var errs []error
	for _, err := range fr.frames(buf) {
		errs = append(errs, err)
	}
	qt.Assert(t, qt.HasLen(errs, 1))
	qt.Check(t, qt.IsNotNil(errs[0]))
	qt.Check(t, qt.IsTrue(buf.Empty()))
}
