package peerwire

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"

	pp "github.com/anacrolix/torrent/peer_protocol"
)

// What the remote end of a PeerConn has told us about itself.
type peerState struct {
	numPieces int
	// Pieces the peer claims to have.
	pieces *roaring.Bitmap
	// The peer is choking us.
	choking    bool
	interested bool
	sentHaves  bool
}

func newPeerState(numPieces int) peerState {
	return peerState{
		numPieces: numPieces,
		pieces:    roaring.New(),
		choking:   true,
	}
}

func (ps *peerState) checkPieceIndex(i pp.Integer) error {
	if int64(i) >= int64(ps.numPieces) {
		return fmt.Errorf("%w: %v >= %v", errBadPieceIndex, i, ps.numPieces)
	}
	return nil
}

// Validates messages that refer to pieces.
func (ps *peerState) check(msg *pp.Message) error {
	if msg.Keepalive {
		return nil
	}
	switch msg.Type {
	case pp.Have, pp.Request, pp.Cancel, pp.Piece:
		return ps.checkPieceIndex(msg.Index)
	case pp.Bitfield:
		// The wire form is padded to whole bytes, and the padding must be clear.
		if want := (ps.numPieces + 7) / 8 * 8; len(msg.Bitfield) != want {
			return fmt.Errorf("%w: got %v bits, expected %v", errBadBitfieldLength, len(msg.Bitfield), want)
		}
		for _, b := range msg.Bitfield[ps.numPieces:] {
			if b {
				return fmt.Errorf("%w: spare bits set", errBadBitfieldLength)
			}
		}
		if ps.sentHaves {
			return fmt.Errorf("bitfield after have messages")
		}
	}
	return nil
}

// Returns the peer's piece set after msg is applied, or nil if msg doesn't change it. msg must
// have passed check.
func (ps *peerState) piecesAfter(msg *pp.Message) *roaring.Bitmap {
	if msg.Keepalive {
		return nil
	}
	switch msg.Type {
	case pp.Have:
		if ps.pieces.Contains(uint32(msg.Index)) {
			return nil
		}
		ret := ps.pieces.Clone()
		ret.Add(uint32(msg.Index))
		return ret
	case pp.Bitfield:
		ret := roaring.New()
		for i, have := range msg.Bitfield[:ps.numPieces] {
			if have {
				ret.Add(uint32(i))
			}
		}
		return ret
	case pp.HaveAll:
		ret := roaring.New()
		ret.AddRange(0, uint64(ps.numPieces))
		return ret
	case pp.HaveNone:
		return roaring.New()
	}
	return nil
}

func (ps *peerState) handle(msg *pp.Message) {
	if next := ps.piecesAfter(msg); next != nil {
		ps.pieces = next
	}
	if msg.Keepalive {
		return
	}
	switch msg.Type {
	case pp.Choke:
		ps.choking = true
	case pp.Unchoke:
		ps.choking = false
	case pp.Interested:
		ps.interested = true
	case pp.NotInterested:
		ps.interested = false
	case pp.Have:
		ps.sentHaves = true
	}
}
