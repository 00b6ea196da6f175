package peerwire

import (
	"bytes"
	"fmt"
	"net"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/torrent/metainfo"

	pp "github.com/anacrolix/torrent/peer_protocol"

	"github.com/anacrolix/peerwire/internal/ringbuf"
	"github.com/anacrolix/peerwire/nbio"
	"github.com/anacrolix/peerwire/poll"
	"github.com/anacrolix/peerwire/tokens"
)

// Protocol string, reserved bits, infohash, peer ID.
const handshakeLen = len(pp.Protocol) + 8 + 20 + 20

type handshakeState int

const (
	awaitingBytes handshakeState = iota
	// The peer's infohash names a torrent we have, and our reply is queued.
	identifierKnown
	promoted
	failed
)

func (s handshakeState) String() string {
	switch s {
	case awaitingBytes:
		return "awaiting bytes"
	case identifierKnown:
		return "identifier known"
	case promoted:
		return "promoted"
	case failed:
		return "failed"
	default:
		return fmt.Sprintf("handshakeState(%d)", int(s))
	}
}

// An accepted connection that hasn't completed the BitTorrent handshake yet.
type HandshakeConn struct {
	conn  poll.Conn
	token tokens.Token
	state handshakeState

	// Sized to exactly one handshake so nothing beyond it is read from the socket.
	ingress *ringbuf.Buffer
	egress  *ringbuf.Buffer

	infoHash       g.Option[metainfo.Hash]
	peerID         [20]byte
	peerExtensions pp.PeerExtensionBits
	torrent        *Torrent

	stats  ConnStats
	logger log.Logger
}

func newHandshakeConn(cfg *Config, conn poll.Conn) *HandshakeConn {
	h := &HandshakeConn{
		conn:    conn,
		ingress: ringbuf.New(handshakeLen),
		egress:  ringbuf.New(handshakeLen),
	}
	h.logger = cfg.logger().WithNames("handshake").WithValues(h)
	return h
}

func (h *HandshakeConn) String() string {
	return fmt.Sprintf("handshake %v", h.conn.RemoteAddr())
}

func (h *HandshakeConn) RemoteAddr() net.Addr {
	return h.conn.RemoteAddr()
}

// The infohash the remote end asked for, once the handshake has been received.
func (h *HandshakeConn) InfoHash() g.Option[metainfo.Hash] {
	return h.infoHash
}

// Ready advances the handshake. promote is true once the peer's identifier is resolved to a
// Torrent, after which the HandshakeConn must be replaced by a PeerConn.
func (h *HandshakeConn) Ready(cl *Client, ev poll.Events) (promote bool, err error) {
	defer func() {
		if err != nil {
			h.state = failed
		}
	}()
	panicif.True(h.state == promoted || h.state == failed)
	if ev.Readable() && h.state == awaitingBytes {
		err = h.read(cl)
		if err != nil {
			return
		}
	}
	if ev.Writable() || !h.egress.Empty() {
		err = h.flush()
		if err != nil {
			return
		}
	}
	promote = h.state == identifierKnown
	return
}

func (h *HandshakeConn) read(cl *Client) error {
	cont := true
	for cont {
		n, o, err := nbio.DrainRead(h.conn, h.ingress, &cont)
		h.stats.BytesRead.Add(int64(n))
		if err := h.checkProtocol(); err != nil {
			return err
		}
		if h.ingress.Full() {
			return h.parse(cl)
		}
		switch o {
		case nbio.Failed:
			return fmt.Errorf("reading handshake: %w", err)
		case nbio.PeerClosed:
			return fmt.Errorf("%w after %v handshake bytes", ErrPeerClosed, h.ingress.Len())
		}
	}
	return nil
}

// Fails as soon as the buffered prefix diverges from the protocol string.
func (h *HandshakeConn) checkProtocol() error {
	var b [len(pp.Protocol)]byte
	n := h.ingress.Peek(b[:])
	if !bytes.Equal(b[:n], []byte(pp.Protocol)[:n]) {
		return fmt.Errorf("%w: unexpected protocol prefix %q", ErrBadHandshake, b[:n])
	}
	return nil
}

func (h *HandshakeConn) parse(cl *Client) error {
	var b [handshakeLen]byte
	panicif.NotEq(h.ingress.Peek(b[:]), handshakeLen)
	rest := b[len(pp.Protocol):]
	copy(h.peerExtensions[:], rest[:8])
	var ih metainfo.Hash
	copy(ih[:], rest[8:28])
	copy(h.peerID[:], rest[28:48])
	h.ingress.Consume(handshakeLen)
	t := cl.Torrent(ih)
	if t == nil {
		return fmt.Errorf("%w: %v", ErrUnknownTorrent, ih.HexString())
	}
	panicif.True(h.infoHash.Ok)
	h.infoHash = g.Some(ih)
	h.torrent = t
	h.state = identifierKnown
	h.logger.Levelf(log.Debug, "peer %q with extensions %v wants %v", h.peerID[:], h.peerExtensions, ih.HexString())
	return h.queueReply(cl.config, ih)
}

func (h *HandshakeConn) queueReply(cfg *Config, ih metainfo.Hash) error {
	for _, b := range [][]byte{[]byte(pp.Protocol), cfg.Extensions[:], ih[:], cfg.PeerID[:]} {
		if n, _ := h.egress.Write(b); n != len(b) {
			return fmt.Errorf("handshake reply overflowed write buffer")
		}
	}
	return nil
}

func (h *HandshakeConn) flush() error {
	cont := true
	for cont {
		n, o, err := nbio.DrainWrite(h.conn, h.egress, &cont)
		h.stats.BytesWritten.Add(int64(n))
		switch o {
		case nbio.Failed:
			return fmt.Errorf("writing handshake: %w", err)
		case nbio.PeerClosed:
			return fmt.Errorf("%w: zero length write", ErrPeerClosed)
		}
	}
	return nil
}

// Moves unsent reply bytes out of the handshake, for the PeerConn that replaces it.
func (h *HandshakeConn) takeEgress() []byte {
	b := make([]byte, h.egress.Len())
	h.egress.Read(b)
	return b
}
