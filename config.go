package peerwire

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	pp "github.com/anacrolix/torrent/peer_protocol"

	"github.com/anacrolix/peerwire/tokens"
)

const peerIDPrefix = "-PW0100-"

// Probably not safe to modify this after it's given to a Reactor.
type Config struct {
	// The address to listen for BitTorrent protocol connections on.
	ListenAddr string
	PeerID     [20]byte
	// Reserved bits sent in our handshake.
	Extensions pp.PeerExtensionBits

	// Slot table capacities. They never grow.
	MaxPeers      int
	MaxHandshakes int
	MaxTrackers   int
	// First token of the peer range. The handshake and tracker ranges follow it.
	TokenBase uint32

	// Largest frame accepted from a peer, excluding the 4 byte length prefix.
	MaxFrameLength int
	// Per-connection ring buffer sizes. The read buffer must hold the largest frame.
	PeerReadBufferSize  int
	PeerWriteBufferSize int

	// Limits accepted connections. Excess connections are closed immediately.
	AcceptRateLimiter *rate.Limiter
	// Advertise our completed pieces as soon as a connection is promoted.
	SendBitfieldOnPromotion bool

	// Maximum readiness events handled per wait.
	EventBatchSize int
	// How often Run checks for cancellation when no events arrive.
	PollInterval time.Duration

	Callbacks Callbacks
	Logger    log.Logger
	// Defaults to metrics that aren't registered anywhere.
	Metrics *Metrics
}

func RandomPeerID() (ret [20]byte) {
	n := copy(ret[:], peerIDPrefix)
	rand.Read(ret[n:])
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr:          ":6881",
		PeerID:              RandomPeerID(),
		Extensions:          pp.NewPeerExtensionBytes(pp.ExtensionBitFast),
		MaxPeers:            4096,
		MaxHandshakes:       128,
		MaxTrackers:         128,
		TokenBase:           tokens.DefaultBase,
		MaxFrameLength:      1 << 16,
		PeerReadBufferSize:  1 << 17,
		PeerWriteBufferSize: 1 << 17,
		EventBatchSize:      256,
		PollInterval:        100 * time.Millisecond,
	}
}

func (cfg *Config) Validate() error {
	if cfg.MaxFrameLength <= 0 {
		return fmt.Errorf("max frame length must be positive")
	}
	if need := cfg.MaxFrameLength + 4; cfg.PeerReadBufferSize < need {
		return fmt.Errorf(
			"peer read buffer of %s can't hold a %s frame",
			humanize.IBytes(uint64(cfg.PeerReadBufferSize)),
			humanize.IBytes(uint64(need)))
	}
	if cfg.PeerWriteBufferSize < handshakeLen {
		return fmt.Errorf("peer write buffer must hold at least a handshake")
	}
	if cfg.EventBatchSize <= 0 {
		return fmt.Errorf("event batch size must be positive")
	}
	_, err := cfg.space()
	return err
}

func (cfg *Config) space() (tokens.Space, error) {
	return tokens.NewSpace(cfg.TokenBase, cfg.MaxPeers, cfg.MaxHandshakes, cfg.MaxTrackers)
}

func (cfg *Config) logger() log.Logger {
	if cfg.Logger.IsZero() {
		return log.Default
	}
	return cfg.Logger
}

func (cfg *Config) metrics() *Metrics {
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	return cfg.Metrics
}
