// Package nbio moves bytes between non-blocking sockets and buffers, reporting each attempt's
// outcome as a value rather than suspending.
package nbio

import (
	"errors"
	"io"
)

// Returned by TryRead and TryWrite when the operation would have to wait.
var ErrWouldBlock = errors.New("operation would block")

type TryReader interface {
	// Reads at most len(p) bytes without waiting. Returns ErrWouldBlock when nothing is available,
	// and io.EOF once the remote end has closed its write side.
	TryRead(p []byte) (int, error)
}

type TryWriter interface {
	// Writes at most len(p) bytes without waiting. Returns ErrWouldBlock when the send buffer is
	// full.
	TryWrite(p []byte) (int, error)
}

// Destination of a read. Implemented by *ringbuf.Buffer.
type MutBuf interface {
	Unfilled() []byte
	Advance(int)
}

// Source of a write. Implemented by *ringbuf.Buffer.
type Buf interface {
	Filled() []byte
	Consume(int)
}

type Outcome int

const (
	// Bytes were moved, try again.
	Transferred Outcome = iota
	// The buffer was full (read) or empty (write). Not an error.
	Saturated
	// The socket had nothing more to give or take.
	WouldBlock
	// The remote end closed.
	PeerClosed
	// The socket returned an error.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Transferred:
		return "transferred"
	case Saturated:
		return "saturated"
	case WouldBlock:
		return "would block"
	case PeerClosed:
		return "peer closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// DrainRead performs one non-blocking read from r into buf. cont is cleared for every outcome except
// Transferred, so callers can loop on it to empty the socket without spinning.
func DrainRead(r TryReader, buf MutBuf, cont *bool) (n int, o Outcome, err error) {
	p := buf.Unfilled()
	if len(p) == 0 {
		*cont = false
		return 0, Saturated, nil
	}
	n, err = r.TryRead(p)
	if n > 0 {
		buf.Advance(n)
	}
	switch {
	case errors.Is(err, ErrWouldBlock):
		err = nil
		if n > 0 {
			// Some platforms report partial progress with the would-block. Keep the bytes and let
			// the next attempt observe the empty socket.
			return n, Transferred, nil
		}
		*cont = false
		return n, WouldBlock, nil
	case errors.Is(err, io.EOF):
		*cont = false
		return n, PeerClosed, nil
	case err != nil:
		*cont = false
		return n, Failed, err
	case n == 0:
		// A zero-length read into a non-empty buffer is end of stream.
		*cont = false
		return 0, PeerClosed, nil
	}
	return n, Transferred, nil
}

// DrainWrite performs one non-blocking write from buf to w. See DrainRead for cont.
func DrainWrite(w TryWriter, buf Buf, cont *bool) (n int, o Outcome, err error) {
	p := buf.Filled()
	if len(p) == 0 {
		*cont = false
		return 0, Saturated, nil
	}
	n, err = w.TryWrite(p)
	if n > 0 {
		buf.Consume(n)
	}
	switch {
	case errors.Is(err, ErrWouldBlock):
		if n > 0 {
			return n, Transferred, nil
		}
		*cont = false
		return n, WouldBlock, nil
	case err != nil:
		*cont = false
		return n, Failed, err
	case n == 0:
		*cont = false
		return 0, PeerClosed, nil
	}
	return n, Transferred, nil
}
