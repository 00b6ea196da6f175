package tokens

import (
	"fmt"
)

// The kind of connection a Token range is reserved for.
type Kind int

const (
	KindNone Kind = iota
	KindListener
	KindPeer
	KindHandshake
	KindTracker
)

func (k Kind) String() string {
	switch k {
	case KindListener:
		return "listener"
	case KindPeer:
		return "peer"
	case KindHandshake:
		return "handshake"
	case KindTracker:
		return "tracker"
	default:
		return "none"
	}
}

const (
	// Reserved for the listening socket. It lies outside every slot range.
	ListenerToken Token = 0
	// First slot number handed out to connection ranges.
	DefaultBase = 4096
)

// Space lays out the peer, handshake and tracker ranges back to back from a base slot number.
type Space struct {
	Peers      Range
	Handshakes Range
	Trackers   Range
}

func NewSpace(base uint32, peers, handshakes, trackers int) (s Space, err error) {
	if base == 0 {
		err = fmt.Errorf("base slot must not collide with listener token")
		return
	}
	for _, n := range []int{peers, handshakes, trackers} {
		if n <= 0 {
			err = fmt.Errorf("range capacity %d must be positive", n)
			return
		}
	}
	next := func(n int) (r Range) {
		r.Begin = base
		r.End = base + uint32(n)
		base = r.End
		return
	}
	s.Peers = next(peers)
	s.Handshakes = next(handshakes)
	s.Trackers = next(trackers)
	return
}

// Classify determines the range a Token belongs to by comparison alone.
func (s Space) Classify(t Token) Kind {
	switch {
	case t.Slot() == ListenerToken.Slot():
		return KindListener
	case s.Peers.Contains(t):
		return KindPeer
	case s.Handshakes.Contains(t):
		return KindHandshake
	case s.Trackers.Contains(t):
		return KindTracker
	default:
		return KindNone
	}
}
