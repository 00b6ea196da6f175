package storage

import (
	"fmt"
	"path/filepath"

	"github.com/anacrolix/torrent/metainfo"
	torrentstorage "github.com/anacrolix/torrent/storage"
)

// Calls each for every file overlapping the n bytes at torrent offset off. lo and hi bound the
// matching part of the caller's buffer.
func eachFileSegment(lengths []int64, off int64, n int, each func(file int, fileOff int64, lo, hi int) error) error {
	pos := 0
	for i, l := range lengths {
		if pos == n {
			break
		}
		if off >= l {
			off -= l
			continue
		}
		m := int(min(int64(n-pos), l-off))
		if err := each(i, off, pos, pos+m); err != nil {
			return err
		}
		pos += m
		off = 0
	}
	return nil
}

func fileLengths(info *metainfo.Info) (ret []int64) {
	for _, fi := range info.UpvertedFiles() {
		ret = append(ret, fi.Length)
	}
	return
}

// Where the files of a torrent live under dir. Paths that would escape dir are rejected.
func filePaths(dir string, info *metainfo.Info) (ret []string, err error) {
	for _, fi := range info.UpvertedFiles() {
		var rel string
		rel, err = torrentstorage.ToSafeFilePath(append([]string{info.Name}, fi.Path...)...)
		if err != nil {
			err = fmt.Errorf("file path %q: %w", fi.Path, err)
			return nil, err
		}
		ret = append(ret, filepath.Join(dir, rel))
	}
	return
}
