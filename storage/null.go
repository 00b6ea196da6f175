package storage

import (
	"errors"

	"github.com/anacrolix/torrent/metainfo"
)

var ErrNullStorage = errors.New("null storage holds no data")

type nullClientImpl struct{}

// Discards writes and has no data to read. Pieces are never complete.
func NewNull() ClientImpl {
	return nullClientImpl{}
}

func (nullClientImpl) OpenTorrent(info *metainfo.Info, infoHash metainfo.Hash) (TorrentImpl, error) {
	return nullTorrentImpl{info}, nil
}

func (nullClientImpl) Close() error { return nil }

type nullTorrentImpl struct {
	info *metainfo.Info
}

func (me nullTorrentImpl) ReadAt(b []byte, piece int, off int64) (int, error) {
	if _, _, err := pieceExtent(me.info, piece, off, len(b)); err != nil {
		return 0, err
	}
	return 0, ErrNullStorage
}

func (me nullTorrentImpl) WriteAt(b []byte, piece int, off int64) (int, error) {
	_, n, err := pieceExtent(me.info, piece, off, len(b))
	return n, err
}

func (nullTorrentImpl) Completion(int) (Completion, error) {
	return Completion{Ok: true}, nil
}

func (nullTorrentImpl) MarkComplete(int) error    { return nil }
func (nullTorrentImpl) MarkNotComplete(int) error { return nil }
func (nullTorrentImpl) Close() error              { return nil }
