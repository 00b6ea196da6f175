package peerwire

import (
	pp "github.com/anacrolix/torrent/peer_protocol"

	"github.com/anacrolix/torrent/metainfo"
)

// These are called synchronously on the reactor goroutine, and do not pass ownership. nil
// functions are not called.
type Callbacks struct {
	// After a handshake is promoted to a PeerConn.
	CompletedHandshake func(_ *PeerConn, infoHash metainfo.Hash)
	// For every frame the Client routes to a Torrent, before the connection's own bookkeeping.
	// Returning an error closes the connection.
	ReadMessage func(*PeerConn, *pp.Message) error
	// After a connection of any kind is torn down.
	ConnClosed func(remote string, err error)
}
