package peerwire

import (
	"errors"

	"github.com/anacrolix/log"
)

// Routine disconnects and unwanted peers are noise at normal levels. Anything else a peer can
// cause is worth seeing, but doesn't threaten the reactor.
func teardownLevel(err error) log.Level {
	switch {
	case errors.Is(err, ErrPeerClosed),
		errors.Is(err, ErrUnknownTorrent),
		errors.Is(err, errReactorClosed):
		return log.Debug
	case errors.Is(err, ErrBadHandshake),
		errors.Is(err, ErrFrameTooLarge):
		return log.Info
	default:
		return log.Warning
	}
}
