package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"

	"github.com/anacrolix/torrent/metainfo"
)

type mmapClientImpl struct {
	baseDir string
	pc      PieceCompletion
}

// Maps every torrent file into memory. Files are created at full length when the torrent is
// opened. Completion is not persisted.
func NewMMap(baseDir string) ClientImpl {
	return &mmapClientImpl{
		baseDir: baseDir,
		pc:      NewMapPieceCompletion(),
	}
}

func (s *mmapClientImpl) OpenTorrent(info *metainfo.Info, infoHash metainfo.Hash) (_ TorrentImpl, err error) {
	if info == nil {
		panic("can't open a storage for a nil torrent")
	}
	ts := &mmapTorrentStorage{
		info:     info,
		infoHash: infoHash,
		pc:       s.pc,
	}
	defer func() {
		if err != nil {
			ts.Close()
		}
	}()
	paths, err := filePaths(filepath.Join(s.baseDir, infoHash.HexString()), info)
	if err != nil {
		return
	}
	for i, length := range fileLengths(info) {
		var mm mmap.MMap
		mm, err = mmapFile(paths[i], length)
		if err != nil {
			err = fmt.Errorf("file %q: %w", paths[i], err)
			return
		}
		ts.spans = append(ts.spans, mm)
	}
	return ts, nil
}

func (s *mmapClientImpl) Close() error {
	return s.pc.Close()
}

func mmapFile(name string, size int64) (ret mmap.MMap, err error) {
	if err = os.MkdirAll(filepath.Dir(name), 0o750); err != nil {
		return
	}
	file, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return
	}
	defer file.Close()
	fi, err := file.Stat()
	if err != nil {
		return
	}
	if fi.Size() < size {
		// I think this is necessary on HFS+. Maybe Linux will SIGBUS too if
		// you overmap a file but I'm not sure.
		err = file.Truncate(size)
		if err != nil {
			return
		}
	}
	if size == 0 {
		// Can't mmap() regions with length 0.
		return
	}
	return mmap.MapRegion(file, int(size), mmap.RDWR, 0, 0)
}

type mmapTorrentStorage struct {
	infoHash metainfo.Hash
	info     *metainfo.Info
	// One mapping per file, nil for empty files.
	spans []mmap.MMap
	pc    PieceCompletion
}

func (ts *mmapTorrentStorage) lengths() (ret []int64) {
	for _, s := range ts.spans {
		ret = append(ret, int64(len(s)))
	}
	return
}

func (ts *mmapTorrentStorage) ReadAt(b []byte, piece int, off int64) (n int, err error) {
	torrentOff, m, err := pieceExtent(ts.info, piece, off, len(b))
	if err != nil {
		return
	}
	err = eachFileSegment(ts.lengths(), torrentOff, m, func(file int, fileOff int64, lo, hi int) error {
		n += copy(b[lo:hi], ts.spans[file][fileOff:])
		return nil
	})
	return
}

func (ts *mmapTorrentStorage) WriteAt(b []byte, piece int, off int64) (n int, err error) {
	torrentOff, m, err := pieceExtent(ts.info, piece, off, len(b))
	if err != nil {
		return
	}
	err = eachFileSegment(ts.lengths(), torrentOff, m, func(file int, fileOff int64, lo, hi int) error {
		n += copy(ts.spans[file][fileOff:], b[lo:hi])
		return nil
	})
	return
}

func (ts *mmapTorrentStorage) key(piece int) metainfo.PieceKey {
	return metainfo.PieceKey{InfoHash: ts.infoHash, Index: piece}
}

func (ts *mmapTorrentStorage) Completion(piece int) (Completion, error) {
	return ts.pc.Get(ts.key(piece))
}

func (ts *mmapTorrentStorage) MarkComplete(piece int) error {
	// Flush before the piece is advertised as complete.
	for _, s := range ts.spans {
		if s != nil {
			if err := s.Flush(); err != nil {
				return err
			}
		}
	}
	return ts.pc.Set(ts.key(piece), true)
}

func (ts *mmapTorrentStorage) MarkNotComplete(piece int) error {
	return ts.pc.Set(ts.key(piece), false)
}

func (ts *mmapTorrentStorage) Close() (err error) {
	for _, s := range ts.spans {
		if s != nil {
			err = errors.Join(err, s.Unmap())
		}
	}
	ts.spans = nil
	return
}
