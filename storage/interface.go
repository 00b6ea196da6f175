// Package storage is the piece data capability a Torrent holds. Backends are chosen when the
// torrent is opened and are only ever used through TorrentImpl.
package storage

import (
	"errors"
	"fmt"

	"github.com/anacrolix/torrent/metainfo"
)

var ErrPieceBounds = errors.New("piece range out of bounds")

// Represents data storage for an unspecified torrent.
type ClientImpl interface {
	OpenTorrent(info *metainfo.Info, infoHash metainfo.Hash) (TorrentImpl, error)
	Close() error
}

// Data storage bound to a torrent. Offsets are relative to the start of the piece.
type TorrentImpl interface {
	ReadAt(b []byte, piece int, off int64) (int, error)
	WriteAt(b []byte, piece int, off int64) (int, error)
	Completion(piece int) (Completion, error)
	MarkComplete(piece int) error
	MarkNotComplete(piece int) error
	Close() error
}

// Completion state of a piece.
type Completion struct {
	// The state is known or cached.
	Ok bool
	// If Ok, whether the data is correct.
	Complete bool
}

// Converts a piece-relative range to a torrent offset, clamping n to the end of the piece.
func pieceExtent(info *metainfo.Info, piece int, off int64, n int) (torrentOff int64, clamped int, err error) {
	if piece < 0 || piece >= info.NumPieces() {
		err = fmt.Errorf("%w: piece %d of %d", ErrPieceBounds, piece, info.NumPieces())
		return
	}
	p := info.Piece(piece)
	if off < 0 || off > p.Length() {
		err = fmt.Errorf("%w: offset %d in piece %d of length %d", ErrPieceBounds, off, piece, p.Length())
		return
	}
	return p.Offset() + off, int(min(int64(n), p.Length()-off)), nil
}
