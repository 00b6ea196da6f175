package peerwire

import (
	"fmt"
	"net"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/log"
	"github.com/anacrolix/torrent/metainfo"

	pp "github.com/anacrolix/torrent/peer_protocol"

	"github.com/anacrolix/peerwire/internal/ringbuf"
	"github.com/anacrolix/peerwire/nbio"
	"github.com/anacrolix/peerwire/poll"
	"github.com/anacrolix/peerwire/tokens"
)

// An established connection for a single torrent, created by promoting a completed handshake.
// Owned by the Reactor goroutine.
type PeerConn struct {
	conn     poll.Conn
	token    tokens.Token
	infoHash metainfo.Hash
	// The Torrent the handshake resolved to.
	torrent *Torrent

	PeerID         [20]byte
	PeerExtensions pp.PeerExtensionBits

	ingress *ringbuf.Buffer
	egress  *ringbuf.Buffer
	frames  *frameReader

	peer   peerState
	closed bool

	stats   ConnStats
	metrics *Metrics
	logger  log.Logger
}

func newPeerConn(cfg *Config, conn poll.Conn, t *Torrent) *PeerConn {
	c := &PeerConn{
		conn:     conn,
		infoHash: t.infoHash,
		torrent:  t,
		ingress:  ringbuf.New(cfg.PeerReadBufferSize),
		egress:   ringbuf.New(cfg.PeerWriteBufferSize),
		frames:   newFrameReader(cfg.MaxFrameLength),
		peer:     newPeerState(t.NumPieces()),
		metrics:  cfg.metrics(),
	}
	c.logger = cfg.logger().WithNames("peer").WithValues(c)
	return c
}

func (c *PeerConn) String() string {
	return fmt.Sprintf("peer %v (%v)", c.RemoteAddr(), c.infoHash.HexString())
}

func (c *PeerConn) InfoHash() metainfo.Hash {
	return c.infoHash
}

func (c *PeerConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *PeerConn) Token() tokens.Token {
	return c.token
}

func (c *PeerConn) Stats() ConnStats {
	return c.stats.Copy()
}

// Whether the peer claims to have the piece.
func (c *PeerConn) PeerHasPiece(piece int) bool {
	return piece >= 0 && c.peer.pieces.Contains(uint32(piece))
}

func (c *PeerConn) PeerChoking() bool {
	return c.peer.choking
}

func (c *PeerConn) PeerInterested() bool {
	return c.peer.interested
}

// Bytes queued for the peer that haven't reached the socket.
func (c *PeerConn) PendingWrite() int {
	return c.egress.Len()
}

// Post queues a message for the peer. It's written the next time the reactor services the
// connection, or immediately if called from within the reactor's handling of this connection.
func (c *PeerConn) Post(msg pp.Message) error {
	// Includes the length prefix.
	b, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshalling %v: %w", messageTypeString(&msg), err)
	}
	if len(b) > c.egress.Free() {
		return fmt.Errorf("%w: %v bytes queued", ErrWriteBufferFull, c.egress.Len())
	}
	c.egress.Write(b)
	c.stats.MessagesWritten.Add(1)
	return nil
}

// Seeds egress with bytes that were queued before the connection was promoted.
func (c *PeerConn) queueRaw(b []byte) {
	n, _ := c.egress.Write(b)
	if n != len(b) {
		panic(fmt.Sprintf("write buffer can't hold %v carried over bytes", len(b)))
	}
}

// Ready services the connection after a readiness notification. A non-nil error means the
// connection must be torn down.
func (c *PeerConn) Ready(cl *Client, ev poll.Events) error {
	if ev.Readable() {
		if err := c.readAndDispatch(cl); err != nil {
			return err
		}
	}
	// Edge-triggered readiness won't repeat for a socket that's still writable, so anything
	// queued while reading is flushed now.
	if ev.Writable() || !c.egress.Empty() {
		if err := c.flush(); err != nil {
			return err
		}
	}
	if c.closed && c.egress.Empty() {
		return ErrPeerClosed
	}
	return nil
}

func (c *PeerConn) readAndDispatch(cl *Client) error {
	cont := true
	for cont {
		n, o, err := nbio.DrainRead(c.conn, c.ingress, &cont)
		c.stats.BytesRead.Add(int64(n))
		c.metrics.BytesRead.Add(float64(n))
		buffered := c.ingress.Len()
		if err := c.dispatch(cl); err != nil {
			return err
		}
		switch o {
		case nbio.Failed:
			return fmt.Errorf("reading: %w", err)
		case nbio.PeerClosed:
			c.closed = true
		case nbio.Saturated:
			if c.ingress.Len() == buffered {
				// Nothing could be extracted from a full buffer.
				return fmt.Errorf("%w: read buffer of %v bytes is full", ErrFrameTooLarge, c.ingress.Cap())
			}
			c.logger.Levelf(log.Debug, "read buffer saturated with %v bytes", buffered)
			cont = true
		}
	}
	return nil
}

// Hands every complete frame to the Client, then applies it to the peer's state.
func (c *PeerConn) dispatch(cl *Client) error {
	for msg, err := range c.frames.frames(c.ingress) {
		if err != nil {
			return err
		}
		c.stats.MessagesRead.Add(1)
		c.metrics.MessagesRead.Inc()
		if msg.Keepalive {
			c.stats.KeepalivesRead.Add(1)
		}
		err = c.peer.check(&msg)
		if err == nil {
			err = cl.handle(c, &msg)
		}
		if err == nil {
			c.peer.handle(&msg)
		}
		c.frames.release(&msg)
		if err != nil {
			return fmt.Errorf("handling %v: %w", messageTypeString(&msg), err)
		}
	}
	return nil
}

func (c *PeerConn) flush() error {
	cont := true
	for cont {
		n, o, err := nbio.DrainWrite(c.conn, c.egress, &cont)
		c.stats.BytesWritten.Add(int64(n))
		c.metrics.BytesWritten.Add(float64(n))
		switch o {
		case nbio.Failed:
			return fmt.Errorf("writing: %w", err)
		case nbio.PeerClosed:
			return fmt.Errorf("%w: zero length write", ErrPeerClosed)
		}
	}
	return nil
}

// Advertises our completed pieces. fast is whether both ends negotiated the fast extension.
func (c *PeerConn) sendBitfield(completed *roaring.Bitmap, fast bool) error {
	if completed.IsEmpty() {
		if fast {
			return c.Post(pp.Message{Type: pp.HaveNone})
		}
		return nil
	}
	bf := make([]bool, c.peer.numPieces)
	for i := range bf {
		bf[i] = completed.Contains(uint32(i))
	}
	return c.Post(pp.Message{Type: pp.Bitfield, Bitfield: bf})
}

func messageTypeString(msg *pp.Message) string {
	if msg.Keepalive {
		return "keepalive"
	}
	return fmt.Sprint(msg.Type)
}
