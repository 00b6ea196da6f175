package peerwire

import (
	"strings"
	"testing"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/require"

	pp "github.com/anacrolix/torrent/peer_protocol"

	"github.com/anacrolix/peerwire/internal/polltest"
	"github.com/anacrolix/peerwire/poll"
	"github.com/anacrolix/peerwire/tokens"
)

const testPeerID = "-TT0001-abcdefghijkl"

var (
	hashH       = metainfo.NewHashFromHex(strings.Repeat("aa", 20))
	hashOther   = metainfo.NewHashFromHex(strings.Repeat("bb", 20))
	hashUnknown = metainfo.NewHashFromHex(strings.Repeat("cc", 20))
)

func testInfo(numPieces int) *metainfo.Info {
	return &metainfo.Info{
		Name:        "test",
		PieceLength: 4,
		Length:      int64(4 * numPieces),
		Pieces:      make([]byte, 20*numPieces),
	}
}

func handshakeBytes(ih metainfo.Hash, peerID string) []byte {
	b := []byte(pp.Protocol)
	b = append(b, make([]byte, 8)...)
	b = append(b, ih[:]...)
	return append(b, peerID...)
}

func frames(msgs ...pp.Message) (ret []byte) {
	for _, msg := range msgs {
		ret = append(ret, msg.MustMarshalBinary()...)
	}
	return
}

func haveMsg(i int) pp.Message {
	return pp.Message{Type: pp.Have, Index: pp.Integer(i)}
}

type readMessage struct {
	infoHash metainfo.Hash
	msg      pp.Message
}

type closedConn struct {
	remote string
	err    error
}

// A Reactor driven by hand over fake sockets.
type testEnv struct {
	cfg    *Config
	cl     *Client
	ln     *polltest.Listener
	source *polltest.Source
	r      *Reactor

	read      []readMessage
	closed    []closedConn
	completed []metainfo.Hash
}

func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	e := &testEnv{}
	cfg := NewDefaultConfig()
	cfg.MaxFrameLength = 1 << 10
	cfg.PeerReadBufferSize = 1 << 11
	cfg.PeerWriteBufferSize = 1 << 11
	cfg.Callbacks = Callbacks{
		CompletedHandshake: func(c *PeerConn, ih metainfo.Hash) {
			e.completed = append(e.completed, ih)
		},
		ReadMessage: func(c *PeerConn, msg *pp.Message) error {
			e.read = append(e.read, readMessage{c.InfoHash(), *msg})
			return nil
		},
		ConnClosed: func(remote string, err error) {
			e.closed = append(e.closed, closedConn{remote, err})
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cl, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { cl.Close() })
	e.cfg = cfg
	e.cl = cl
	e.ln = polltest.NewListener()
	e.source = polltest.NewSource()
	e.r, err = NewReactor(cl, e.ln, e.source)
	require.NoError(t, err)
	return e
}

func (e *testEnv) addTorrent(t *testing.T, ih metainfo.Hash, numPieces int) *Torrent {
	tor, err := e.cl.AddTorrent(testInfo(numPieces), ih, nil)
	require.NoError(t, err)
	return tor
}

// Queues an inbound connection and delivers the listener's readiness.
func (e *testEnv) accept(t *testing.T, remote string) (*polltest.Conn, tokens.Token) {
	c := polltest.NewConn(remote)
	e.ln.Pending = append(e.ln.Pending, c)
	e.r.Ready(tokens.ListenerToken, poll.Readable)
	tok, ok := e.source.TokenFor(c)
	require.True(t, ok, "accepted connection isn't registered")
	return c, tok
}

// Accepts a connection and completes its handshake for ih, returning the peer token.
func (e *testEnv) connectPeer(t *testing.T, remote string, ih metainfo.Hash) (*polltest.Conn, tokens.Token) {
	c, hsTok := e.accept(t, remote)
	c.Inbound = handshakeBytes(ih, testPeerID)
	e.r.Ready(hsTok, poll.ReadWrite)
	tok, ok := e.source.TokenFor(c)
	require.True(t, ok)
	require.Equal(t, tokens.KindPeer, e.r.Space().Classify(tok))
	return c, tok
}

func (e *testEnv) ourHandshake(ih metainfo.Hash) []byte {
	b := []byte(pp.Protocol)
	b = append(b, e.cfg.Extensions[:]...)
	b = append(b, ih[:]...)
	return append(b, e.cfg.PeerID[:]...)
}
