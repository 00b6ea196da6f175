package storage

import (
	"github.com/anacrolix/torrent/metainfo"
)

type memoryClientImpl struct {
	pc PieceCompletion
}

// Keeps piece data in memory. Unwritten ranges read as zeroes.
func NewMemory() ClientImpl {
	return &memoryClientImpl{pc: NewMapPieceCompletion()}
}

func (me *memoryClientImpl) OpenTorrent(info *metainfo.Info, infoHash metainfo.Hash) (TorrentImpl, error) {
	return &memoryTorrentImpl{
		info:     info,
		infoHash: infoHash,
		pieces:   make(map[int][]byte),
		pc:       me.pc,
	}, nil
}

func (me *memoryClientImpl) Close() error {
	return me.pc.Close()
}

type memoryTorrentImpl struct {
	info     *metainfo.Info
	infoHash metainfo.Hash
	pieces   map[int][]byte
	pc       PieceCompletion
}

func (me *memoryTorrentImpl) ReadAt(b []byte, piece int, off int64) (int, error) {
	_, n, err := pieceExtent(me.info, piece, off, len(b))
	if err != nil {
		return 0, err
	}
	data := me.pieces[piece]
	if data == nil {
		clear(b[:n])
		return n, nil
	}
	return copy(b[:n], data[off:]), nil
}

func (me *memoryTorrentImpl) WriteAt(b []byte, piece int, off int64) (int, error) {
	_, n, err := pieceExtent(me.info, piece, off, len(b))
	if err != nil {
		return 0, err
	}
	data := me.pieces[piece]
	if data == nil {
		data = make([]byte, me.info.Piece(piece).Length())
		me.pieces[piece] = data
	}
	return copy(data[off:], b[:n]), nil
}

func (me *memoryTorrentImpl) key(piece int) metainfo.PieceKey {
	return metainfo.PieceKey{InfoHash: me.infoHash, Index: piece}
}

func (me *memoryTorrentImpl) Completion(piece int) (Completion, error) {
	return me.pc.Get(me.key(piece))
}

func (me *memoryTorrentImpl) MarkComplete(piece int) error {
	return me.pc.Set(me.key(piece), true)
}

func (me *memoryTorrentImpl) MarkNotComplete(piece int) error {
	return me.pc.Set(me.key(piece), false)
}

func (me *memoryTorrentImpl) Close() error {
	clear(me.pieces)
	return nil
}
