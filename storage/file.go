package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/anacrolix/torrent/metainfo"
)

// File-based storage for torrents, that isn't yet bound to a particular torrent.
type fileClientImpl struct {
	baseDir string
	pc      PieceCompletion
}

// All torrent data stored under baseDir/<infohash>/<name>. Piece completion persists in a bbolt
// database in baseDir.
func NewFile(baseDir string) ClientImpl {
	return &fileClientImpl{
		baseDir: baseDir,
		pc:      pieceCompletionForDir(baseDir),
	}
}

func (me *fileClientImpl) Close() error {
	return me.pc.Close()
}

func (me *fileClientImpl) OpenTorrent(info *metainfo.Info, infoHash metainfo.Hash) (TorrentImpl, error) {
	paths, err := filePaths(filepath.Join(me.baseDir, infoHash.HexString()), info)
	if err != nil {
		return nil, err
	}
	return &fileTorrentImpl{
		info:     info,
		infoHash: infoHash,
		lengths:  fileLengths(info),
		paths:    paths,
		handles:  make(map[int]*os.File),
		pc:       me.pc,
	}, nil
}

type fileTorrentImpl struct {
	info     *metainfo.Info
	infoHash metainfo.Hash
	lengths  []int64
	paths    []string
	handles  map[int]*os.File
	pc       PieceCompletion
}

func (me *fileTorrentImpl) open(file int) (*os.File, error) {
	if f, ok := me.handles[file]; ok {
		return f, nil
	}
	name := me.paths[file]
	if err := os.MkdirAll(filepath.Dir(name), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, err
	}
	me.handles[file] = f
	return f, nil
}

func (me *fileTorrentImpl) ReadAt(b []byte, piece int, off int64) (n int, err error) {
	torrentOff, m, err := pieceExtent(me.info, piece, off, len(b))
	if err != nil {
		return
	}
	err = eachFileSegment(me.lengths, torrentOff, m, func(file int, fileOff int64, lo, hi int) error {
		f, err := me.open(file)
		if err != nil {
			return err
		}
		r, err := f.ReadAt(b[lo:hi], fileOff)
		n += r
		if errors.Is(err, io.EOF) && r < hi-lo {
			// Not yet written.
			return io.ErrUnexpectedEOF
		}
		return err
	})
	return
}

func (me *fileTorrentImpl) WriteAt(b []byte, piece int, off int64) (n int, err error) {
	torrentOff, m, err := pieceExtent(me.info, piece, off, len(b))
	if err != nil {
		return
	}
	err = eachFileSegment(me.lengths, torrentOff, m, func(file int, fileOff int64, lo, hi int) error {
		f, err := me.open(file)
		if err != nil {
			return err
		}
		w, err := f.WriteAt(b[lo:hi], fileOff)
		n += w
		if err != nil {
			return fmt.Errorf("writing %q: %w", me.paths[file], err)
		}
		return nil
	})
	return
}

func (me *fileTorrentImpl) key(piece int) metainfo.PieceKey {
	return metainfo.PieceKey{InfoHash: me.infoHash, Index: piece}
}

func (me *fileTorrentImpl) Completion(piece int) (Completion, error) {
	return me.pc.Get(me.key(piece))
}

func (me *fileTorrentImpl) MarkComplete(piece int) error {
	return me.pc.Set(me.key(piece), true)
}

func (me *fileTorrentImpl) MarkNotComplete(piece int) error {
	return me.pc.Set(me.key(piece), false)
}

func (me *fileTorrentImpl) Close() (err error) {
	for i, f := range me.handles {
		err = errors.Join(err, f.Close())
		delete(me.handles, i)
	}
	return
}
