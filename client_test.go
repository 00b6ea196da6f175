package peerwire

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pp "github.com/anacrolix/torrent/peer_protocol"

	"github.com/anacrolix/peerwire/poll"
	"github.com/anacrolix/peerwire/storage"
)

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, peerIDPrefix, string(cfg.PeerID[:len(peerIDPrefix)]))

	cfg.PeerReadBufferSize = cfg.MaxFrameLength + 3
	assert.Error(t, cfg.Validate())
	cfg.PeerReadBufferSize = cfg.MaxFrameLength + 4
	assert.NoError(t, cfg.Validate())

	cfg.TokenBase = 0
	assert.Error(t, cfg.Validate())

	_, err := NewClient(cfg)
	assert.Error(t, err)
}

func TestAddTorrentTwice(t *testing.T) {
	cl, err := NewClient(nil)
	require.NoError(t, err)
	defer cl.Close()
	_, err = cl.AddTorrent(testInfo(3), hashH, nil)
	require.NoError(t, err)
	_, err = cl.AddTorrent(testInfo(3), hashH, nil)
	assert.ErrorIs(t, err, ErrTorrentExists)
	_, err = cl.AddTorrent(testInfo(3), hashOther, storage.NewNull())
	require.NoError(t, err)

	ts := cl.Torrents()
	require.Len(t, ts, 2)
	assert.Equal(t, hashH, ts[0].InfoHash())
	assert.Equal(t, hashOther, ts[1].InfoHash())

	require.NoError(t, cl.RemoveTorrent(hashH))
	assert.Nil(t, cl.Torrent(hashH))
	assert.ErrorIs(t, cl.RemoveTorrent(hashH), ErrUnknownTorrent)
}

func TestAddTorrentFromFile(t *testing.T) {
	dir := t.TempDir()
	info := metainfo.Info{
		Name:        "data",
		PieceLength: 16,
		Length:      40,
		Pieces:      make([]byte, 3*20),
	}
	mi := metainfo.MetaInfo{InfoBytes: bencode.MustMarshal(info)}
	filename := filepath.Join(dir, "data.torrent")
	f, err := os.Create(filename)
	require.NoError(t, err)
	require.NoError(t, mi.Write(f))
	require.NoError(t, f.Close())

	cl, err := NewClient(nil)
	require.NoError(t, err)
	defer cl.Close()
	tor, err := cl.AddTorrentFromFile(filename, storage.NewMemory())
	require.NoError(t, err)
	assert.Equal(t, mi.HashInfoBytes(), tor.InfoHash())
	assert.Equal(t, "data", tor.Name())
	assert.Equal(t, 3, tor.NumPieces())
	assert.Same(t, tor, cl.Torrent(mi.HashInfoBytes()))
}

// Completion recorded by storage is loaded when the torrent is added again.
func TestTorrentCompletionFromStorage(t *testing.T) {
	dir := t.TempDir()
	ci := storage.NewFile(dir)

	cl, err := NewClient(nil)
	require.NoError(t, err)
	tor, err := cl.AddTorrent(testInfo(5), hashH, ci)
	require.NoError(t, err)
	require.NoError(t, tor.MarkPieceComplete(3))
	assert.Error(t, tor.MarkPieceComplete(5))
	require.NoError(t, cl.Close())
	require.NoError(t, ci.Close())

	ci = storage.NewFile(dir)
	defer ci.Close()
	cl, err = NewClient(nil)
	require.NoError(t, err)
	defer cl.Close()
	tor, err = cl.AddTorrent(testInfo(5), hashH, ci)
	require.NoError(t, err)
	assert.True(t, tor.PieceComplete(3))
	assert.Equal(t, 1, tor.NumCompletedPieces())
}

func TestPieceIndexOutOfRange(t *testing.T) {
	cl, err := NewClient(nil)
	require.NoError(t, err)
	defer cl.Close()
	tor, err := cl.AddTorrent(testInfo(5), hashH, nil)
	require.NoError(t, err)
	for _, piece := range []int{-1, 5, 1 << 20} {
		assert.Zero(t, tor.PieceAvailability(piece), piece)
		assert.ErrorIs(t, tor.MarkPieceComplete(piece), errBadPieceIndex, piece)
		assert.False(t, tor.PieceComplete(piece), piece)
	}
}

// Connections outlive a removed torrent only until they deliver a message.
func TestRemovedTorrentDropsPeers(t *testing.T) {
	e := newTestEnv(t)
	e.addTorrent(t, hashH, 10)
	c, tok := e.connectPeer(t, "1.2.3.4:5", hashH)
	require.NoError(t, e.cl.RemoveTorrent(hashH))
	// Adding it again doesn't revive the old connection.
	tor := e.addTorrent(t, hashH, 10)
	c.Inbound = frames(haveMsg(1))
	e.r.Ready(tok, poll.Readable)
	assert.True(t, c.Closed)
	require.Len(t, e.closed, 1)
	assert.ErrorIs(t, e.closed[0].err, ErrUnknownTorrent)
	assert.Equal(t, 0, tor.PieceAvailability(1))
	assert.Equal(t, 0, tor.NumConns())
	assert.Zero(t, tor.MessagesRead(pp.Have))
}
