package peerwire

import (
	"testing"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pp "github.com/anacrolix/torrent/peer_protocol"

	"github.com/anacrolix/peerwire/internal/polltest"
	"github.com/anacrolix/peerwire/poll"
	"github.com/anacrolix/peerwire/tokens"
)

func TestHandshakePromotes(t *testing.T) {
	e := newTestEnv(t)
	e.addTorrent(t, hashH, 10)
	c, hsTok := e.accept(t, "1.2.3.4:5")
	assert.Equal(t, tokens.KindHandshake, e.r.Space().Classify(hsTok))
	assert.Equal(t, 1, e.r.NumHandshakes())

	c.Inbound = handshakeBytes(hashH, testPeerID)
	e.r.Ready(hsTok, poll.ReadWrite)

	assert.Equal(t, 0, e.r.NumHandshakes())
	require.Equal(t, 1, e.r.NumPeers())
	pc := e.r.Peers()[0]
	assert.Equal(t, hashH, pc.InfoHash())
	assert.Equal(t, testPeerID, string(pc.PeerID[:]))
	tok, ok := e.source.TokenFor(c)
	require.True(t, ok)
	assert.Equal(t, pc.Token(), tok)
	assert.Equal(t, tokens.KindPeer, e.r.Space().Classify(tok))
	assert.Equal(t, e.ourHandshake(hashH), c.Outbound)
	assert.Equal(t, []metainfo.Hash{hashH}, e.completed)
	assert.Equal(t, 1, e.cl.Torrent(hashH).NumConns())
	assert.False(t, c.Closed)
}

func TestHandshakeUnknownTorrent(t *testing.T) {
	e := newTestEnv(t)
	e.addTorrent(t, hashH, 10)
	c, hsTok := e.accept(t, "1.2.3.4:5")
	c.Inbound = handshakeBytes(hashUnknown, testPeerID)
	e.r.Ready(hsTok, poll.Readable)

	assert.Equal(t, 0, e.r.NumHandshakes())
	assert.Equal(t, 0, e.r.NumPeers())
	assert.True(t, c.Closed)
	assert.Empty(t, c.Outbound)
	_, ok := e.source.TokenFor(c)
	assert.False(t, ok)
	require.Len(t, e.closed, 1)
	assert.ErrorIs(t, e.closed[0].err, ErrUnknownTorrent)
	assert.Equal(t, "1.2.3.4:5", e.closed[0].remote)
}

func TestHandshakeBadProtocolFailsEarly(t *testing.T) {
	e := newTestEnv(t)
	e.addTorrent(t, hashH, 10)
	c, hsTok := e.accept(t, "1.2.3.4:5")
	// Far short of a whole handshake.
	c.Inbound = []byte("\x13BitTorrent pro\x00")
	e.r.Ready(hsTok, poll.Readable)
	assert.True(t, c.Closed)
	require.Len(t, e.closed, 1)
	assert.ErrorIs(t, e.closed[0].err, ErrBadHandshake)
}

func TestHandshakeAcrossReads(t *testing.T) {
	e := newTestEnv(t)
	e.addTorrent(t, hashH, 10)
	c, hsTok := e.accept(t, "1.2.3.4:5")
	hs := handshakeBytes(hashH, testPeerID)
	c.ReadChunk = 7
	c.Inbound = hs[:30]
	e.r.Ready(hsTok, poll.Readable)
	assert.Equal(t, 1, e.r.NumHandshakes())
	assert.Equal(t, 0, e.r.NumPeers())
	assert.Empty(t, c.Outbound)
	// Drained to would-block: 5 reads of data, then one that would block.
	assert.Equal(t, 6, c.Reads)

	c.Inbound = hs[30:]
	e.r.Ready(hsTok, poll.Readable)
	assert.Equal(t, 0, e.r.NumHandshakes())
	assert.Equal(t, 1, e.r.NumPeers())
	assert.Equal(t, e.ourHandshake(hashH), c.Outbound)
}

func TestHandshakeClosedMidway(t *testing.T) {
	e := newTestEnv(t)
	e.addTorrent(t, hashH, 10)
	c, hsTok := e.accept(t, "1.2.3.4:5")
	c.Inbound = handshakeBytes(hashH, testPeerID)[:40]
	c.RemoteClosed = true
	e.r.Ready(hsTok, poll.Readable)
	assert.True(t, c.Closed)
	assert.Equal(t, 0, e.r.NumPeers())
	require.Len(t, e.closed, 1)
	assert.ErrorIs(t, e.closed[0].err, ErrPeerClosed)
}

// Reply bytes the socket wouldn't take during the handshake are sent by the PeerConn.
func TestHandshakeReplyCarriedOver(t *testing.T) {
	e := newTestEnv(t)
	e.addTorrent(t, hashH, 10)
	c, hsTok := e.accept(t, "1.2.3.4:5")
	c.Inbound = handshakeBytes(hashH, testPeerID)
	c.WriteBudget = 10
	e.r.Ready(hsTok, poll.ReadWrite)
	require.Equal(t, 1, e.r.NumPeers())
	pc := e.r.Peers()[0]
	assert.Len(t, c.Outbound, 10)
	assert.Equal(t, handshakeLen-10, pc.PendingWrite())

	c.WriteBudget = -1
	e.r.Ready(pc.Token(), poll.Writable)
	assert.Equal(t, e.ourHandshake(hashH), c.Outbound)
	assert.Equal(t, 0, pc.PendingWrite())
}

// Messages sent right behind the handshake are handled without waiting for another notification.
func TestHandshakePipelinedMessages(t *testing.T) {
	e := newTestEnv(t)
	e.addTorrent(t, hashH, 10)
	c, hsTok := e.accept(t, "1.2.3.4:5")
	c.Inbound = append(
		handshakeBytes(hashH, testPeerID),
		frames(pp.Message{Type: pp.Interested}, haveMsg(3))...)
	e.r.Ready(hsTok, poll.Readable)
	require.Equal(t, 1, e.r.NumPeers())
	require.Len(t, e.read, 2)
	assert.Equal(t, pp.Interested, e.read[0].msg.Type)
	assert.Equal(t, pp.Have, e.read[1].msg.Type)
	assert.True(t, e.r.Peers()[0].PeerInterested())
	assert.True(t, e.r.Peers()[0].PeerHasPiece(3))
}

func TestHandshakeIdentifierSetOnce(t *testing.T) {
	e := newTestEnv(t)
	e.addTorrent(t, hashH, 10)
	e.addTorrent(t, hashOther, 10)
	h := newHandshakeConn(e.cfg, polltest.NewConn("1.2.3.4:5"))
	assert.False(t, h.InfoHash().Ok)
	h.ingress.Write(handshakeBytes(hashH, testPeerID))
	require.NoError(t, h.parse(e.cl))
	assert.Equal(t, hashH, h.InfoHash().Unwrap())
	assert.Equal(t, identifierKnown, h.state)
	assert.Panics(t, func() {
		h.ingress.Write(handshakeBytes(hashOther, testPeerID))
		h.parse(e.cl)
	})
}
