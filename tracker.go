package peerwire

import (
	"fmt"
	"net"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/anacrolix/peerwire/poll"
	"github.com/anacrolix/peerwire/tokens"
)

// A connection to a tracker on behalf of a Torrent. Announce protocols live elsewhere; the
// reactor only owns the socket and its slot.
type trackerConn struct {
	conn     poll.Conn
	token    tokens.Token
	infoHash metainfo.Hash
	stats    ConnStats
}

func (tc *trackerConn) String() string {
	return fmt.Sprintf("tracker %v (%v)", tc.conn.RemoteAddr(), tc.infoHash.HexString())
}

func (tc *trackerConn) RemoteAddr() net.Addr {
	return tc.conn.RemoteAddr()
}

// Ready accepts every notification without doing anything.
func (tc *trackerConn) Ready(t *Torrent, ev poll.Events) error {
	return nil
}
