package peerwire

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/torrent/metainfo"

	"github.com/anacrolix/peerwire/nbio"
	"github.com/anacrolix/peerwire/poll"
	"github.com/anacrolix/peerwire/tokens"
)

// Reactor multiplexes the listening socket, handshakes, peer connections and tracker connections
// over a single readiness source. Everything it owns, including the Client, is touched only by
// the goroutine that calls Run, or by the caller of Ready if it drives events itself.
type Reactor struct {
	config   *Config
	cl       *Client
	space    tokens.Space
	listener poll.Listener
	source   poll.Source

	peers      *tokens.Slab[*PeerConn]
	handshakes *tokens.Slab[*HandshakeConn]
	trackers   *tokens.Slab[*trackerConn]

	events []poll.Event
	// The listener is edge-triggered. Set when accepting stopped short of would-block, so the
	// backlog is retried after the next Wait.
	acceptPending bool
	closed        chansync.SetOnce
	metrics *Metrics
	logger  log.Logger
}

// NewReactor takes ownership of listener and source. listener may be nil if no inbound
// connections are wanted.
func NewReactor(cl *Client, listener poll.Listener, source poll.Source) (*Reactor, error) {
	cfg := cl.config
	space, err := cfg.space()
	if err != nil {
		return nil, err
	}
	r := &Reactor{
		config:     cfg,
		cl:         cl,
		space:      space,
		listener:   listener,
		source:     source,
		peers:      tokens.NewSlab[*PeerConn](space.Peers),
		handshakes: tokens.NewSlab[*HandshakeConn](space.Handshakes),
		trackers:   tokens.NewSlab[*trackerConn](space.Trackers),
		events:     make([]poll.Event, cfg.EventBatchSize),
		metrics:    cfg.metrics(),
		logger:     cfg.logger().WithNames("reactor"),
	}
	if listener != nil {
		err = source.Register(listener, tokens.ListenerToken, poll.Readable)
		if err != nil {
			return nil, fmt.Errorf("registering listener: %w", err)
		}
	}
	r.updateLive()
	return r, nil
}

// Listen opens an epoll source and a listener on the Client's configured address.
func Listen(cl *Client) (_ *Reactor, err error) {
	source, err := poll.NewSource()
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			source.Close()
		}
	}()
	l, err := poll.Listen(cl.config.ListenAddr)
	if err != nil {
		return
	}
	r, err := NewReactor(cl, l, source)
	if err != nil {
		l.Close()
		return
	}
	r.logger.Levelf(log.Info, "listening on %v", l.Addr())
	return r, nil
}

func (r *Reactor) Client() *Client {
	return r.cl
}

func (r *Reactor) Space() tokens.Space {
	return r.space
}

func (r *Reactor) NumPeers() int      { return r.peers.Len() }
func (r *Reactor) NumHandshakes() int { return r.handshakes.Len() }
func (r *Reactor) NumTrackers() int   { return r.trackers.Len() }

// Peers returns the established connections.
func (r *Reactor) Peers() (ret []*PeerConn) {
	for _, c := range r.peers.All() {
		ret = append(ret, c)
	}
	return
}

// Run waits for readiness and dispatches it until ctx is done or the Reactor is closed.
func (r *Reactor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-r.closed.Done():
			return nil
		default:
		}
		n, err := r.source.Wait(r.events, r.config.PollInterval)
		if err != nil {
			if r.closed.IsSet() {
				return nil
			}
			return fmt.Errorf("waiting for readiness: %w", err)
		}
		for _, ev := range r.events[:n] {
			r.Ready(ev.Token, ev.Events)
		}
		if r.acceptPending {
			r.acceptAll()
		}
	}
}

// Ready handles one readiness notification. Session errors tear down the session and are
// logged. Nothing here stops the reactor.
func (r *Reactor) Ready(tok tokens.Token, ev poll.Events) {
	switch kind := r.space.Classify(tok); kind {
	case tokens.KindListener:
		r.acceptAll()
	case tokens.KindHandshake:
		h, err := r.handshakes.Get(tok)
		if err != nil {
			r.staleEvent(kind, tok, err)
			return
		}
		r.handshakeReady(tok, h, ev)
	case tokens.KindPeer:
		c, err := r.peers.Get(tok)
		if err != nil {
			r.staleEvent(kind, tok, err)
			return
		}
		r.peerReady(tok, c, ev)
	case tokens.KindTracker:
		tc, err := r.trackers.Get(tok)
		if err != nil {
			r.staleEvent(kind, tok, err)
			return
		}
		r.trackerReady(tok, tc, ev)
	default:
		r.logger.Levelf(log.Warning, "event %v for token outside every range", poll.Event{Token: tok, Events: ev})
	}
}

// Events for a slot that was torn down earlier, possibly earlier in the same batch.
func (r *Reactor) staleEvent(kind tokens.Kind, tok tokens.Token, err error) {
	r.metrics.StaleEvents.Inc()
	r.logger.Levelf(log.Debug, "ignoring %v event: %v", kind, err)
}

func (r *Reactor) acceptAll() {
	if r.listener == nil {
		return
	}
	r.acceptPending = false
	for {
		c, err := r.listener.Accept()
		if errors.Is(err, nbio.ErrWouldBlock) {
			return
		}
		if err != nil {
			// No further edge arrives for connections already in the backlog.
			r.acceptPending = true
			r.logger.Levelf(log.Warning, "accepting: %v", err)
			return
		}
		r.metrics.Accepted.Inc()
		r.addHandshake(c)
	}
}

func (r *Reactor) addHandshake(c poll.Conn) {
	if lim := r.config.AcceptRateLimiter; lim != nil && !lim.Allow() {
		r.reject(c, "rate", errAcceptRateLimited)
		return
	}
	h := newHandshakeConn(r.config, c)
	tok, err := r.handshakes.Insert(h)
	if err != nil {
		r.reject(c, "capacity", err)
		return
	}
	h.token = tok
	err = r.source.Register(c, tok, poll.ReadWrite)
	if err != nil {
		r.handshakes.Remove(tok)
		r.reject(c, "register", err)
		return
	}
	r.updateLive()
	r.logger.Levelf(log.Debug, "accepted %v as %v", c.RemoteAddr(), tok)
}

func (r *Reactor) reject(c poll.Conn, reason string, err error) {
	r.metrics.Rejected.WithLabelValues(reason).Inc()
	r.logger.Levelf(log.Info, "rejecting connection from %v: %v", c.RemoteAddr(), err)
	if err := c.Close(); err != nil {
		r.logger.Levelf(log.Debug, "closing rejected connection: %v", err)
	}
}

func (r *Reactor) handshakeReady(tok tokens.Token, h *HandshakeConn, ev poll.Events) {
	promote, err := h.Ready(r.cl, ev)
	if err == nil && promote {
		err = r.promote(tok, h)
	}
	if err != nil {
		r.removeHandshake(tok, err)
	}
}

// Replaces the handshake with a PeerConn. The peer slot is taken and the socket moved to it
// before the handshake slot is freed. If that fails the handshake is left for the caller to tear
// down.
func (r *Reactor) promote(hsTok tokens.Token, h *HandshakeConn) error {
	c := newPeerConn(r.config, h.conn, h.torrent)
	c.PeerID = h.peerID
	c.PeerExtensions = h.peerExtensions
	c.stats.BytesRead.Add(h.stats.BytesRead.Int64())
	c.stats.BytesWritten.Add(h.stats.BytesWritten.Int64())
	tok, err := r.peers.Insert(c)
	if err != nil {
		return fmt.Errorf("promoting: %w", err)
	}
	c.token = tok
	err = r.source.Reregister(h.conn, tok, poll.ReadWrite)
	if err != nil {
		r.peers.Remove(tok)
		return fmt.Errorf("reregistering promoted connection: %w", err)
	}
	c.queueRaw(h.takeEgress())
	_, err = r.handshakes.Remove(hsTok)
	if err != nil {
		panic(err)
	}
	h.state = promoted
	r.metrics.Promoted.Inc()
	r.updateLive()
	r.cl.peerAdded(c)
	c.logger.Levelf(log.Debug, "promoted from %v to %v", hsTok, tok)
	if f := r.config.Callbacks.CompletedHandshake; f != nil {
		f(c, c.infoHash)
	}
	if r.config.SendBitfieldOnPromotion {
		fast := r.config.Extensions.SupportsFast() && c.PeerExtensions.SupportsFast()
		if err := c.sendBitfield(c.torrent.completed, fast); err != nil {
			r.removePeer(tok, err)
			return nil
		}
	}
	// Bytes the peer pipelined behind its handshake are still in the socket, and the edge
	// that announced them has been consumed.
	r.peerReady(tok, c, poll.ReadWrite)
	return nil
}

func (r *Reactor) peerReady(tok tokens.Token, c *PeerConn, ev poll.Events) {
	if err := c.Ready(r.cl, ev); err != nil {
		r.removePeer(tok, err)
	}
}

func (r *Reactor) trackerReady(tok tokens.Token, tc *trackerConn, ev poll.Events) {
	t := r.cl.Torrent(tc.infoHash)
	if t == nil {
		r.removeTracker(tok, fmt.Errorf("%w: %v", ErrUnknownTorrent, tc.infoHash.HexString()))
		return
	}
	if err := tc.Ready(t, ev); err != nil {
		r.removeTracker(tok, err)
	}
}

// AddTracker registers an outbound tracker connection for a registered torrent.
func (r *Reactor) AddTracker(c poll.Conn, ih metainfo.Hash) (tokens.Token, error) {
	if r.cl.Torrent(ih) == nil {
		return 0, fmt.Errorf("%w: %v", ErrUnknownTorrent, ih.HexString())
	}
	tc := &trackerConn{conn: c, infoHash: ih}
	tok, err := r.trackers.Insert(tc)
	if err != nil {
		return 0, err
	}
	tc.token = tok
	err = r.source.Register(c, tok, poll.ReadWrite)
	if err != nil {
		r.trackers.Remove(tok)
		return 0, fmt.Errorf("registering tracker connection: %w", err)
	}
	r.updateLive()
	return tok, nil
}

func (r *Reactor) removeHandshake(tok tokens.Token, err error) {
	h, rerr := r.handshakes.Remove(tok)
	if rerr != nil {
		panic(rerr)
	}
	h.state = failed
	r.closeConn(tokens.KindHandshake, h.conn, h, err)
}

func (r *Reactor) removePeer(tok tokens.Token, err error) {
	c, rerr := r.peers.Remove(tok)
	if rerr != nil {
		panic(rerr)
	}
	r.cl.peerClosed(c)
	r.closeConn(tokens.KindPeer, c.conn, c, err)
}

func (r *Reactor) removeTracker(tok tokens.Token, err error) {
	tc, rerr := r.trackers.Remove(tok)
	if rerr != nil {
		panic(rerr)
	}
	r.closeConn(tokens.KindTracker, tc.conn, tc, err)
}

// Common teardown once a session's slot has been freed.
func (r *Reactor) closeConn(kind tokens.Kind, c poll.Conn, session fmt.Stringer, err error) {
	if derr := r.source.Deregister(c); derr != nil {
		r.logger.Levelf(log.Debug, "deregistering %v: %v", session, derr)
	}
	if cerr := c.Close(); cerr != nil {
		r.logger.Levelf(log.Debug, "closing %v: %v", session, cerr)
	}
	r.metrics.Closed.WithLabelValues(kind.String()).Inc()
	r.updateLive()
	r.logger.Levelf(teardownLevel(err), "closed %v: %v", session, err)
	if f := r.config.Callbacks.ConnClosed; f != nil {
		f(c.RemoteAddr().String(), err)
	}
}

func (r *Reactor) updateLive() {
	r.metrics.setLive(tokens.KindPeer, r.peers.Len())
	r.metrics.setLive(tokens.KindHandshake, r.handshakes.Len())
	r.metrics.setLive(tokens.KindTracker, r.trackers.Len())
}

// Close closes every connection, the listener and the source. It must not be called
// concurrently with Run or Ready. Run returns once it observes the close.
func (r *Reactor) Close() error {
	if !r.closed.Set() {
		return errReactorClosed
	}
	var errs []error
	for _, tok := range slices.Collect(keys(r.peers.All())) {
		r.removePeer(tok, errReactorClosed)
	}
	for _, tok := range slices.Collect(keys(r.handshakes.All())) {
		r.removeHandshake(tok, errReactorClosed)
	}
	for _, tok := range slices.Collect(keys(r.trackers.All())) {
		r.removeTracker(tok, errReactorClosed)
	}
	if r.listener != nil {
		if err := r.source.Deregister(r.listener); err != nil {
			errs = append(errs, err)
		}
		if err := r.listener.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.source.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func keys[K, V any](seq iter.Seq2[K, V]) iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range seq {
			if !yield(k) {
				return
			}
		}
	}
}
