package peerwire

import (
	"encoding/binary"
	"testing"

	"github.com/bradfitz/iter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pp "github.com/anacrolix/torrent/peer_protocol"

	"github.com/anacrolix/peerwire/poll"
)

func TestPeerBackToBackFramesInOrder(t *testing.T) {
	e := newTestEnv(t)
	tor := e.addTorrent(t, hashH, 10)
	c, tok := e.connectPeer(t, "1.2.3.4:5", hashH)
	var msgs []pp.Message
	for i := range iter.N(7) {
		msgs = append(msgs, haveMsg(i))
	}
	c.Inbound = frames(msgs...)
	e.r.Ready(tok, poll.Readable)
	require.Len(t, e.read, 7)
	for i, rm := range e.read {
		assert.Equal(t, hashH, rm.infoHash)
		assert.EqualValues(t, i, rm.msg.Index)
	}
	for i := range iter.N(10) {
		assert.Equal(t, i < 7, tor.PieceAvailability(i) == 1, i)
	}
	assert.EqualValues(t, 7, tor.MessagesRead(pp.Have))
	peerStats := e.r.Peers()[0].Stats()
	assert.EqualValues(t, 7, peerStats.MessagesRead.Int64())
}

func TestPeerPartialFrame(t *testing.T) {
	e := newTestEnv(t)
	e.addTorrent(t, hashH, 10)
	c, tok := e.connectPeer(t, "1.2.3.4:5", hashH)
	b := frames(haveMsg(2), pp.Message{Keepalive: true})
	c.Inbound = b[:3]
	e.r.Ready(tok, poll.Readable)
	assert.Empty(t, e.read)
	c.Inbound = b[3:7]
	e.r.Ready(tok, poll.Readable)
	assert.Empty(t, e.read)
	c.Inbound = b[7:]
	e.r.Ready(tok, poll.Readable)
	require.Len(t, e.read, 2)
	assert.Equal(t, pp.Have, e.read[0].msg.Type)
	assert.True(t, e.read[1].msg.Keepalive)
}

func TestPeerFrameTooLarge(t *testing.T) {
	e := newTestEnv(t)
	e.addTorrent(t, hashH, 10)
	c, tok := e.connectPeer(t, "1.2.3.4:5", hashH)
	c.Inbound = binary.BigEndian.AppendUint32(nil, uint32(e.cfg.MaxFrameLength+1))
	e.r.Ready(tok, poll.Readable)
	assert.True(t, c.Closed)
	assert.Equal(t, 0, e.r.NumPeers())
	require.Len(t, e.closed, 1)
	assert.ErrorIs(t, e.closed[0].err, ErrFrameTooLarge)
}

// A read buffer that fills mid-drain is emptied by dispatch and reading continues.
func TestPeerSaturatedReadBuffer(t *testing.T) {
	e := newTestEnv(t, func(cfg *Config) {
		cfg.MaxFrameLength = 16
		cfg.PeerReadBufferSize = 20
	})
	e.addTorrent(t, hashH, 100)
	c, tok := e.connectPeer(t, "1.2.3.4:5", hashH)
	var msgs []pp.Message
	for i := range iter.N(50) {
		msgs = append(msgs, haveMsg(i))
	}
	c.Inbound = frames(msgs...)
	e.r.Ready(tok, poll.Readable)
	assert.Empty(t, c.Inbound)
	assert.Len(t, e.read, 50)
	assert.False(t, c.Closed)
}

func TestPeerCloseDispatchesBufferedFrames(t *testing.T) {
	e := newTestEnv(t)
	tor := e.addTorrent(t, hashH, 10)
	c, tok := e.connectPeer(t, "1.2.3.4:5", hashH)
	c.Inbound = frames(haveMsg(1), haveMsg(2))
	c.RemoteClosed = true
	e.r.Ready(tok, poll.Readable)
	assert.Len(t, e.read, 2)
	assert.True(t, c.Closed)
	assert.Equal(t, 0, e.r.NumPeers())
	require.Len(t, e.closed, 1)
	assert.ErrorIs(t, e.closed[0].err, ErrPeerClosed)
	// The peer's pieces no longer count.
	assert.Equal(t, 0, tor.PieceAvailability(1))
	assert.Equal(t, 0, tor.NumConns())
	torStats := tor.Stats()
	assert.EqualValues(t, 2, torStats.MessagesRead.Int64())
}

func TestPeerBadHaveIndex(t *testing.T) {
	e := newTestEnv(t)
	e.addTorrent(t, hashH, 10)
	c, tok := e.connectPeer(t, "1.2.3.4:5", hashH)
	c.Inbound = frames(haveMsg(10))
	e.r.Ready(tok, poll.Readable)
	assert.True(t, c.Closed)
	assert.Empty(t, e.read)
	require.Len(t, e.closed, 1)
	assert.ErrorIs(t, e.closed[0].err, errBadPieceIndex)
}

func TestPeerBitfieldAvailability(t *testing.T) {
	e := newTestEnv(t)
	tor := e.addTorrent(t, hashH, 10)
	c1, tok1 := e.connectPeer(t, "1.2.3.4:5", hashH)
	c2, tok2 := e.connectPeer(t, "1.2.3.4:6", hashH)
	bf := make([]bool, 16)
	bf[0], bf[3], bf[9] = true, true, true
	c1.Inbound = frames(pp.Message{Type: pp.Bitfield, Bitfield: bf})
	e.r.Ready(tok1, poll.Readable)
	c2.Inbound = frames(haveMsg(3), haveMsg(3), haveMsg(4))
	e.r.Ready(tok2, poll.Readable)
	assert.Equal(t, 1, tor.PieceAvailability(0))
	assert.Equal(t, 2, tor.PieceAvailability(3))
	assert.Equal(t, 1, tor.PieceAvailability(4))
	assert.Equal(t, 1, tor.PieceAvailability(9))

	// Padding bits must be clear.
	bf[12] = true
	c1.Inbound = frames(pp.Message{Type: pp.Bitfield, Bitfield: bf})
	e.r.Ready(tok1, poll.Readable)
	assert.True(t, c1.Closed)
	require.Len(t, e.closed, 1)
	assert.ErrorIs(t, e.closed[0].err, errBadBitfieldLength)
	assert.Equal(t, 0, tor.PieceAvailability(0))
	assert.Equal(t, 1, tor.PieceAvailability(3))
}

// Replies queued while handling a message go out without a writable notification.
func TestPeerPostFlushedAfterDispatch(t *testing.T) {
	e := newTestEnv(t)
	e.addTorrent(t, hashH, 10)
	e.cfg.Callbacks.ReadMessage = func(c *PeerConn, msg *pp.Message) error {
		if msg.Type == pp.Interested {
			return c.Post(pp.Message{Type: pp.Unchoke})
		}
		return nil
	}
	c, tok := e.connectPeer(t, "1.2.3.4:5", hashH)
	c.Outbound = nil
	c.Inbound = frames(pp.Message{Type: pp.Interested})
	e.r.Ready(tok, poll.Readable)
	assert.Equal(t, frames(pp.Message{Type: pp.Unchoke}), c.Outbound)
	peerStats := e.r.Peers()[0].Stats()
	assert.EqualValues(t, 1, peerStats.MessagesWritten.Int64())
}

func TestPeerReadMessageErrorCloses(t *testing.T) {
	e := newTestEnv(t)
	e.addTorrent(t, hashH, 10)
	e.cfg.Callbacks.ReadMessage = func(c *PeerConn, msg *pp.Message) error {
		return ErrBadHandshake
	}
	c, tok := e.connectPeer(t, "1.2.3.4:5", hashH)
	c.Inbound = frames(pp.Message{Type: pp.Choke})
	e.r.Ready(tok, poll.Readable)
	assert.True(t, c.Closed)
}

func TestPeerPostWriteBufferFull(t *testing.T) {
	e := newTestEnv(t, func(cfg *Config) {
		cfg.PeerWriteBufferSize = handshakeLen
	})
	e.addTorrent(t, hashH, 10)
	c, _ := e.connectPeer(t, "1.2.3.4:5", hashH)
	c.WriteBudget = 0
	pc := e.r.Peers()[0]
	// Unchoke is 5 bytes on the wire.
	for range iter.N(handshakeLen / 5) {
		require.NoError(t, pc.Post(pp.Message{Type: pp.Unchoke}))
	}
	assert.Equal(t, handshakeLen/5*5, pc.PendingWrite())
	assert.ErrorIs(t, pc.Post(pp.Message{Type: pp.Unchoke}), ErrWriteBufferFull)
}

func TestSendBitfieldOnPromotion(t *testing.T) {
	e := newTestEnv(t, func(cfg *Config) {
		cfg.SendBitfieldOnPromotion = true
	})
	tor := e.addTorrent(t, hashH, 10)
	require.NoError(t, tor.MarkPieceComplete(1))
	require.NoError(t, tor.MarkPieceComplete(8))
	assert.Equal(t, 2, tor.NumCompletedPieces())
	c, _ := e.connectPeer(t, "1.2.3.4:5", hashH)
	bf := make([]bool, 10)
	bf[1], bf[8] = true, true
	assert.Equal(t,
		append(e.ourHandshake(hashH), frames(pp.Message{Type: pp.Bitfield, Bitfield: bf})...),
		c.Outbound)
}
