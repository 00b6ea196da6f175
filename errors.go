package peerwire

import (
	"errors"
)

var (
	// The remote closed its side and there is nothing left to send. Tearing down is routine.
	ErrPeerClosed = errors.New("peer closed connection")
	// A handshake named an infohash the Client has no Torrent for.
	ErrUnknownTorrent = errors.New("unknown torrent")
	ErrBadHandshake   = errors.New("malformed handshake")
	// A frame's length prefix exceeds the configured maximum, or can never fit the read buffer.
	ErrFrameTooLarge = errors.New("frame too large")
	// Post couldn't fit a message in the write buffer.
	ErrWriteBufferFull   = errors.New("write buffer full")
	ErrTorrentExists     = errors.New("torrent already added")
	errAcceptRateLimited = errors.New("accept rate limited")
	errBadPieceIndex     = errors.New("piece index out of range")
	errBadBitfieldLength = errors.New("bitfield length mismatch")
	errReactorClosed     = errors.New("reactor closed")
)
