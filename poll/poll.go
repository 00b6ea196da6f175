// Package poll delivers OS socket readiness as (Token, Events) pairs and provides the non-blocking
// sockets those notifications refer to.
package poll

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/anacrolix/peerwire/nbio"
	"github.com/anacrolix/peerwire/tokens"
)

var ErrUnsupported = errors.New("readiness polling is not supported on this platform")

// Readiness of a socket, or interest in it.
type Events uint8

const (
	Readable Events = 1 << iota
	Writable

	ReadWrite = Readable | Writable
)

func (e Events) Readable() bool { return e&Readable != 0 }
func (e Events) Writable() bool { return e&Writable != 0 }

func (e Events) String() string {
	var ss []string
	if e.Readable() {
		ss = append(ss, "r")
	}
	if e.Writable() {
		ss = append(ss, "w")
	}
	if len(ss) == 0 {
		return "-"
	}
	return strings.Join(ss, "")
}

type Event struct {
	Token  tokens.Token
	Events Events
}

func (e Event) String() string {
	return fmt.Sprintf("%v:%v", e.Token, e.Events)
}

// Anything with a file descriptor that can be registered with a Source.
type Handle interface {
	Fd() int
}

// Source is an OS-level readiness notifier. Notifications are edge-triggered: a socket is reported
// again only after it transitions back to ready, so consumers must drain until would-block.
type Source interface {
	Register(h Handle, t tokens.Token, interest Events) error
	// Changes the Token and interest of a registered Handle.
	Reregister(h Handle, t tokens.Token, interest Events) error
	Deregister(h Handle) error
	// Blocks up to timeout for readiness and fills events. A negative timeout waits indefinitely.
	Wait(events []Event, timeout time.Duration) (int, error)
	Close() error
}

// A connected, non-blocking stream socket.
type Conn interface {
	Handle
	nbio.TryReader
	nbio.TryWriter
	RemoteAddr() net.Addr
	Close() error
}

// A non-blocking listening socket. Accept returns nbio.ErrWouldBlock when no connection is pending.
type Listener interface {
	Handle
	Accept() (Conn, error)
	Addr() net.Addr
	Close() error
}
