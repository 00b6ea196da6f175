// Package polltest has in-memory stand-ins for the poll package's sockets and readiness source.
package polltest

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/anacrolix/peerwire/nbio"
	"github.com/anacrolix/peerwire/poll"
	"github.com/anacrolix/peerwire/tokens"
)

var nextFd = 100

func allocFd() int {
	nextFd++
	return nextFd
}

// Conn is a scripted socket. Inbound holds bytes the remote has sent; Outbound collects bytes
// written to it.
type Conn struct {
	fd      int
	Remote  net.Addr
	Inbound []byte
	// Max bytes returned per TryRead, 0 for unlimited.
	ReadChunk int
	// Remaining bytes TryWrite will accept, negative for unlimited.
	WriteBudget int
	Outbound    []byte
	// Report end of stream once Inbound is exhausted.
	RemoteClosed bool
	ReadErr      error
	WriteErr     error
	Closed       bool
	Reads        int
}

func NewConn(remote string) *Conn {
	return &Conn{
		fd:          allocFd(),
		Remote:      net.TCPAddrFromAddrPort(netip.MustParseAddrPort(remote)),
		WriteBudget: -1,
	}
}

func (me *Conn) Fd() int { return me.fd }

func (me *Conn) RemoteAddr() net.Addr { return me.Remote }

func (me *Conn) TryRead(p []byte) (int, error) {
	me.Reads++
	if me.Closed {
		return 0, errors.New("use of closed conn")
	}
	if me.ReadErr != nil {
		return 0, me.ReadErr
	}
	if len(me.Inbound) == 0 {
		if me.RemoteClosed {
			return 0, io.EOF
		}
		return 0, nbio.ErrWouldBlock
	}
	if me.ReadChunk > 0 && len(p) > me.ReadChunk {
		p = p[:me.ReadChunk]
	}
	n := copy(p, me.Inbound)
	me.Inbound = me.Inbound[n:]
	return n, nil
}

func (me *Conn) TryWrite(p []byte) (int, error) {
	if me.Closed {
		return 0, errors.New("use of closed conn")
	}
	if me.WriteErr != nil {
		return 0, me.WriteErr
	}
	if me.WriteBudget == 0 {
		return 0, nbio.ErrWouldBlock
	}
	n := len(p)
	if me.WriteBudget > 0 {
		n = min(n, me.WriteBudget)
		me.WriteBudget -= n
	}
	me.Outbound = append(me.Outbound, p[:n]...)
	return n, nil
}

func (me *Conn) Close() error {
	if me.Closed {
		return errors.New("already closed")
	}
	me.Closed = true
	return nil
}

type Listener struct {
	fd      int
	Pending []*Conn
	Closed  bool
	// Returned by the next Accept when set.
	AcceptErr error
}

func NewListener() *Listener {
	return &Listener{fd: allocFd()}
}

func (me *Listener) Fd() int { return me.fd }

func (me *Listener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6881}
}

func (me *Listener) Accept() (poll.Conn, error) {
	if err := me.AcceptErr; err != nil {
		me.AcceptErr = nil
		return nil, err
	}
	if len(me.Pending) == 0 {
		return nil, nbio.ErrWouldBlock
	}
	c := me.Pending[0]
	me.Pending = me.Pending[1:]
	return c, nil
}

func (me *Listener) Close() error {
	me.Closed = true
	return nil
}

type Registration struct {
	Token    tokens.Token
	Interest poll.Events
}

// Source records registrations and hands out queued events from Wait.
type Source struct {
	Registered map[int]Registration
	Queue      []poll.Event
	Closed     bool
	// Fails the next Register call when set.
	RegisterErr error
}

func NewSource() *Source {
	return &Source{Registered: make(map[int]Registration)}
}

func (me *Source) Register(h poll.Handle, t tokens.Token, interest poll.Events) error {
	if err := me.RegisterErr; err != nil {
		me.RegisterErr = nil
		return err
	}
	if _, ok := me.Registered[h.Fd()]; ok {
		return fmt.Errorf("fd %d already registered", h.Fd())
	}
	me.Registered[h.Fd()] = Registration{t, interest}
	return nil
}

func (me *Source) Reregister(h poll.Handle, t tokens.Token, interest poll.Events) error {
	if _, ok := me.Registered[h.Fd()]; !ok {
		return fmt.Errorf("fd %d not registered", h.Fd())
	}
	me.Registered[h.Fd()] = Registration{t, interest}
	return nil
}

func (me *Source) Deregister(h poll.Handle) error {
	if _, ok := me.Registered[h.Fd()]; !ok {
		return fmt.Errorf("fd %d not registered", h.Fd())
	}
	delete(me.Registered, h.Fd())
	return nil
}

// TokenFor returns the Token h is currently registered under.
func (me *Source) TokenFor(h poll.Handle) (tokens.Token, bool) {
	r, ok := me.Registered[h.Fd()]
	return r.Token, ok
}

func (me *Source) Wait(events []poll.Event, timeout time.Duration) (int, error) {
	if me.Closed {
		return 0, errors.New("source closed")
	}
	n := copy(events, me.Queue)
	me.Queue = me.Queue[n:]
	return n, nil
}

func (me *Source) Close() error {
	me.Closed = true
	return nil
}
