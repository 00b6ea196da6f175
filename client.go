package peerwire

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/anacrolix/log"
	"github.com/anacrolix/torrent/metainfo"

	pp "github.com/anacrolix/torrent/peer_protocol"

	"github.com/anacrolix/peerwire/storage"
)

// Client is the torrent registry. Handshakes resolve infohashes through it, and peer connections
// route their messages through it. It isn't safe for concurrent use: once a Reactor is running,
// only the Reactor's goroutine and the callbacks it invokes may touch it.
type Client struct {
	config   *Config
	torrents map[metainfo.Hash]*Torrent
	logger   log.Logger
}

func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &Client{
		config:   cfg,
		torrents: make(map[metainfo.Hash]*Torrent),
		logger:   cfg.logger().WithNames("client"),
	}, nil
}

func (cl *Client) Config() *Config {
	return cl.config
}

// AddTorrent registers a torrent, opening its data with ci. A nil ci keeps the data in memory.
func (cl *Client) AddTorrent(info *metainfo.Info, infoHash metainfo.Hash, ci storage.ClientImpl) (*Torrent, error) {
	if _, ok := cl.torrents[infoHash]; ok {
		return nil, fmt.Errorf("%w: %v", ErrTorrentExists, infoHash.HexString())
	}
	if ci == nil {
		ci = storage.NewMemory()
	}
	ts, err := ci.OpenTorrent(info, infoHash)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	t, err := newTorrent(cl, info, infoHash, ts)
	if err != nil {
		ts.Close()
		return nil, err
	}
	cl.torrents[infoHash] = t
	cl.logger.Levelf(log.Info, "added torrent %q (%v), %v/%v pieces complete",
		t.Name(), infoHash.HexString(), t.NumCompletedPieces(), t.NumPieces())
	return t, nil
}

// AddTorrentFromFile loads a .torrent file and adds it.
func (cl *Client) AddTorrentFromFile(filename string, ci storage.ClientImpl) (*Torrent, error) {
	mi, err := metainfo.LoadFromFile(filename)
	if err != nil {
		return nil, fmt.Errorf("loading metainfo: %w", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("unmarshalling info: %w", err)
	}
	return cl.AddTorrent(&info, mi.HashInfoBytes(), ci)
}

// Returns nil if the infohash isn't registered.
func (cl *Client) Torrent(ih metainfo.Hash) *Torrent {
	return cl.torrents[ih]
}

// Torrents returns the registered torrents ordered by infohash.
func (cl *Client) Torrents() []*Torrent {
	keys := slices.SortedFunc(maps.Keys(cl.torrents), func(a, b metainfo.Hash) int {
		return slices.Compare(a[:], b[:])
	})
	ret := make([]*Torrent, 0, len(keys))
	for _, k := range keys {
		ret = append(ret, cl.torrents[k])
	}
	return ret
}

// RemoveTorrent unregisters the torrent and closes its storage. Connections still carrying its
// infohash are torn down the next time they deliver a message.
func (cl *Client) RemoveTorrent(ih metainfo.Hash) error {
	t, ok := cl.torrents[ih]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownTorrent, ih.HexString())
	}
	delete(cl.torrents, ih)
	return t.close()
}

// Routes a message from a peer connection to the Torrent it's bound to.
func (cl *Client) handle(c *PeerConn, msg *pp.Message) error {
	t := cl.torrents[c.infoHash]
	// The torrent may have been removed, or removed and added again, since the handshake.
	if t == nil || t != c.torrent {
		return fmt.Errorf("%w: %v", ErrUnknownTorrent, c.infoHash.HexString())
	}
	if f := cl.config.Callbacks.ReadMessage; f != nil {
		if err := f(c, msg); err != nil {
			return err
		}
	}
	t.handleMessage(c, msg)
	return nil
}

func (cl *Client) peerAdded(c *PeerConn) {
	c.torrent.peerAdded(c)
}

func (cl *Client) peerClosed(c *PeerConn) {
	c.torrent.peerDropped(c)
}

// Close closes every torrent's storage and empties the registry.
func (cl *Client) Close() error {
	var errs []error
	for ih, t := range cl.torrents {
		if err := t.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %v: %w", ih.HexString(), err))
		}
	}
	clear(cl.torrents)
	return errors.Join(errs...)
}
