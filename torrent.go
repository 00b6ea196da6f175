package peerwire

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/log"
	"github.com/anacrolix/torrent/metainfo"

	pp "github.com/anacrolix/torrent/peer_protocol"

	"github.com/anacrolix/peerwire/storage"
)

// Per-torrent state that peer messages are routed to. Only touched from the reactor goroutine.
type Torrent struct {
	infoHash metainfo.Hash
	info     *metainfo.Info
	storage  storage.TorrentImpl

	// Pieces we have.
	completed *roaring.Bitmap
	// How many connected peers claim each piece.
	availability []int
	numConns     int

	// Aggregated over every connection for this torrent.
	connStats ConnStats
	// Messages routed here, by type. Keepalives aren't routed.
	messagesByType map[pp.MessageType]int64

	logger log.Logger
}

func newTorrent(cl *Client, info *metainfo.Info, ih metainfo.Hash, ts storage.TorrentImpl) (*Torrent, error) {
	t := &Torrent{
		infoHash:       ih,
		info:           info,
		storage:        ts,
		completed:      roaring.New(),
		availability:   make([]int, info.NumPieces()),
		messagesByType: make(map[pp.MessageType]int64),
	}
	t.logger = cl.logger.WithNames("torrent").WithValues(t)
	for i := range t.NumPieces() {
		c, err := ts.Completion(i)
		if err != nil {
			return nil, fmt.Errorf("getting completion for piece %v: %w", i, err)
		}
		if c.Ok && c.Complete {
			t.completed.Add(uint32(i))
		}
	}
	return t, nil
}

func (t *Torrent) String() string {
	return t.infoHash.HexString()
}

func (t *Torrent) InfoHash() metainfo.Hash {
	return t.infoHash
}

func (t *Torrent) Info() *metainfo.Info {
	return t.info
}

func (t *Torrent) Name() string {
	return t.info.Name
}

func (t *Torrent) NumPieces() int {
	return t.info.NumPieces()
}

func (t *Torrent) PieceComplete(piece int) bool {
	return t.completed.Contains(uint32(piece))
}

// The number of pieces we have.
func (t *Torrent) NumCompletedPieces() int {
	return int(t.completed.GetCardinality())
}

// MarkPieceComplete records a verified piece in storage and in the Torrent.
func (t *Torrent) MarkPieceComplete(piece int) error {
	if piece < 0 || piece >= t.NumPieces() {
		return fmt.Errorf("%w: %v", errBadPieceIndex, piece)
	}
	if err := t.storage.MarkComplete(piece); err != nil {
		return err
	}
	t.completed.Add(uint32(piece))
	return nil
}

// The number of connected peers that claim to have the piece.
func (t *Torrent) PieceAvailability(piece int) int {
	if piece < 0 || piece >= len(t.availability) {
		return 0
	}
	return t.availability[piece]
}

func (t *Torrent) NumConns() int {
	return t.numConns
}

func (t *Torrent) Stats() ConnStats {
	return t.connStats.Copy()
}

// How many messages of the given type have been routed to the Torrent.
func (t *Torrent) MessagesRead(typ pp.MessageType) int64 {
	return t.messagesByType[typ]
}

func (t *Torrent) addAvailability(bm *roaring.Bitmap, delta int) {
	bm.Iterate(func(i uint32) bool {
		t.availability[i] += delta
		return true
	})
}

func (t *Torrent) handleMessage(c *PeerConn, msg *pp.Message) {
	if msg.Keepalive {
		return
	}
	t.messagesByType[msg.Type]++
	if next := c.peer.piecesAfter(msg); next != nil {
		t.addAvailability(roaring.AndNot(next, c.peer.pieces), 1)
		t.addAvailability(roaring.AndNot(c.peer.pieces, next), -1)
	}
}

func (t *Torrent) peerAdded(c *PeerConn) {
	t.numConns++
}

func (t *Torrent) peerDropped(c *PeerConn) {
	t.numConns--
	t.addAvailability(c.peer.pieces, -1)
	t.connStats.accumulate(&c.stats)
}

func (t *Torrent) close() error {
	return t.storage.Close()
}
