package poll

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/anacrolix/peerwire/tokens"
)

type epoll struct {
	fd  int
	buf []unix.EpollEvent
}

func NewSource() (Source, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epoll{fd: fd}, nil
}

func epollFlags(interest Events) (flags uint32) {
	flags = unix.EPOLLET | unix.EPOLLRDHUP
	if interest.Readable() {
		flags |= unix.EPOLLIN
	}
	if interest.Writable() {
		flags |= unix.EPOLLOUT
	}
	return
}

// The token spans the fd and pad words of the event data union.
func epollEvent(t tokens.Token, interest Events) *unix.EpollEvent {
	return &unix.EpollEvent{
		Events: epollFlags(interest),
		Fd:     int32(uint32(t)),
		Pad:    int32(uint32(t >> 32)),
	}
}

func epollToken(ev *unix.EpollEvent) tokens.Token {
	return tokens.Token(uint64(uint32(ev.Pad))<<32 | uint64(uint32(ev.Fd)))
}

func (me *epoll) ctl(op int, h Handle, ev *unix.EpollEvent) error {
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(me.fd, op, h.Fd(), ev))
}

func (me *epoll) Register(h Handle, t tokens.Token, interest Events) error {
	return me.ctl(unix.EPOLL_CTL_ADD, h, epollEvent(t, interest))
}

func (me *epoll) Reregister(h Handle, t tokens.Token, interest Events) error {
	return me.ctl(unix.EPOLL_CTL_MOD, h, epollEvent(t, interest))
}

func (me *epoll) Deregister(h Handle) error {
	return me.ctl(unix.EPOLL_CTL_DEL, h, nil)
}

func (me *epoll) Wait(events []Event, timeout time.Duration) (int, error) {
	if cap(me.buf) < len(events) {
		me.buf = make([]unix.EpollEvent, len(events))
	}
	buf := me.buf[:len(events)]
	msec := -1
	if timeout >= 0 {
		msec = int(timeout.Milliseconds())
	}
	n, err := unix.EpollWait(me.fd, buf, msec)
	if errors.Is(err, unix.EINTR) {
		return 0, nil
	}
	if err != nil {
		return 0, os.NewSyscallError("epoll_wait", err)
	}
	for i := range buf[:n] {
		ev := &buf[i]
		var e Events
		// Hangups and errors surface through the next read or write.
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			e |= Readable
		}
		if ev.Events&(unix.EPOLLOUT|unix.EPOLLERR) != 0 {
			e |= Writable
		}
		events[i] = Event{Token: epollToken(ev), Events: e}
	}
	return n, nil
}

func (me *epoll) Close() error {
	return os.NewSyscallError("close", unix.Close(me.fd))
}
