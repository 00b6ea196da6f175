package storage

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/log"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/anacrolix/torrent/metainfo"
)

// Implementations track the completion of pieces.
type PieceCompletion interface {
	Get(metainfo.PieceKey) (Completion, error)
	Set(_ metainfo.PieceKey, complete bool) error
	Close() error
}

func pieceCompletionForDir(dir string) (ret PieceCompletion) {
	ret, err := NewBoltPieceCompletion(dir)
	if err != nil {
		log.Levelf(log.Warning, "couldn't open piece completion db in %q: %s", dir, err)
		ret = NewMapPieceCompletion()
	}
	return
}

type mapPieceCompletion struct {
	m map[metainfo.Hash]*roaring.Bitmap
}

// Piece completion held in memory. Every piece is known, and complete only if Set so.
func NewMapPieceCompletion() PieceCompletion {
	return &mapPieceCompletion{m: make(map[metainfo.Hash]*roaring.Bitmap)}
}

func (me *mapPieceCompletion) Get(pk metainfo.PieceKey) (Completion, error) {
	bm, ok := me.m[pk.InfoHash]
	return Completion{Ok: true, Complete: ok && bm.Contains(uint32(pk.Index))}, nil
}

func (me *mapPieceCompletion) Set(pk metainfo.PieceKey, complete bool) error {
	bm, ok := me.m[pk.InfoHash]
	if !ok {
		bm = roaring.New()
		me.m[pk.InfoHash] = bm
	}
	if complete {
		bm.Add(uint32(pk.Index))
	} else {
		bm.Remove(uint32(pk.Index))
	}
	return nil
}

func (me *mapPieceCompletion) Close() error {
	clear(me.m)
	return nil
}

const (
	boltDbCompleteValue   = "c"
	boltDbIncompleteValue = "i"
)

var completionBucketKey = []byte("completion")

type boltPieceCompletion struct {
	db *bbolt.DB
}

func NewBoltPieceCompletion(dir string) (PieceCompletion, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	p := filepath.Join(dir, ".peerwire.bolt.db")
	db, err := bbolt.Open(p, 0o660, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", p)
	}
	db.NoSync = true
	return &boltPieceCompletion{db}, nil
}

func pieceKeyBytes(pk metainfo.PieceKey) (ret [4]byte) {
	binary.BigEndian.PutUint32(ret[:], uint32(pk.Index))
	return
}

func (me boltPieceCompletion) Get(pk metainfo.PieceKey) (cn Completion, err error) {
	err = me.db.View(func(tx *bbolt.Tx) error {
		cb := tx.Bucket(completionBucketKey)
		if cb == nil {
			return nil
		}
		ih := cb.Bucket(pk.InfoHash[:])
		if ih == nil {
			return nil
		}
		key := pieceKeyBytes(pk)
		cn.Ok = true
		switch string(ih.Get(key[:])) {
		case boltDbCompleteValue:
			cn.Complete = true
		case boltDbIncompleteValue:
			cn.Complete = false
		default:
			cn.Ok = false
		}
		return nil
	})
	return
}

func (me boltPieceCompletion) Set(pk metainfo.PieceKey, b bool) error {
	return me.db.Update(func(tx *bbolt.Tx) error {
		c, err := tx.CreateBucketIfNotExists(completionBucketKey)
		if err != nil {
			return err
		}
		ih, err := c.CreateBucketIfNotExists(pk.InfoHash[:])
		if err != nil {
			return err
		}
		key := pieceKeyBytes(pk)
		return ih.Put(key[:], []byte(func() string {
			if b {
				return boltDbCompleteValue
			} else {
				return boltDbIncompleteValue
			}
		}()))
	})
}

func (me boltPieceCompletion) Close() error {
	return me.db.Close()
}
