package poll

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/anacrolix/peerwire/nbio"
)

const sockFlags = unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC

func sockaddr(addr *net.TCPAddr) (family int, sa unix.Sockaddr) {
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa4 := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			copy(sa4.Addr[:], ip4)
		}
		return unix.AF_INET, sa4
	}
	sa6 := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa6.Addr[:], addr.IP.To16())
	if addr.Zone != "" {
		if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
			sa6.ZoneId = uint32(ifi.Index)
		}
	}
	return unix.AF_INET6, sa6
}

func tcpAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	default:
		return nil
	}
}

func tryAgain(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

type fdListener struct {
	fd   int
	addr net.Addr
}

// Listen opens a non-blocking TCP listening socket.
func Listen(addr string) (_ Listener, err error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return
	}
	family, sa := sockaddr(ta)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|sockFlags, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	defer func() {
		if err != nil {
			unix.Close(fd)
		}
	}()
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, os.NewSyscallError("setsockopt", err)
	}
	if err = unix.Bind(fd, sa); err != nil {
		return nil, fmt.Errorf("binding %v: %w", ta, os.NewSyscallError("bind", err))
	}
	if err = unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return nil, os.NewSyscallError("listen", err)
	}
	lsa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, os.NewSyscallError("getsockname", err)
	}
	return &fdListener{fd: fd, addr: tcpAddr(lsa)}, nil
}

func (me *fdListener) Fd() int { return me.fd }

func (me *fdListener) Addr() net.Addr { return me.addr }

func (me *fdListener) Accept() (Conn, error) {
	for {
		nfd, sa, err := unix.Accept4(me.fd, sockFlags)
		switch {
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		case tryAgain(err):
			return nil, nbio.ErrWouldBlock
		case err != nil:
			return nil, os.NewSyscallError("accept4", err)
		}
		return &fdConn{fd: nfd, remote: tcpAddr(sa)}, nil
	}
}

func (me *fdListener) Close() error {
	return os.NewSyscallError("close", unix.Close(me.fd))
}

type fdConn struct {
	fd     int
	remote net.Addr
}

// Dial starts a non-blocking TCP connect. The returned Conn becomes writable once connected, and
// a failed connect surfaces as an error from the first read or write.
func Dial(addr string) (_ Conn, err error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return
	}
	family, sa := sockaddr(ta)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|sockFlags, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	err = unix.Connect(fd, sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		unix.Close(fd)
		return nil, fmt.Errorf("connecting to %v: %w", ta, os.NewSyscallError("connect", err))
	}
	return &fdConn{fd: fd, remote: ta}, nil
}

func (me *fdConn) Fd() int { return me.fd }

func (me *fdConn) RemoteAddr() net.Addr { return me.remote }

func (me *fdConn) TryRead(p []byte) (int, error) {
	for {
		n, err := unix.Read(me.fd, p)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case tryAgain(err):
			return 0, nbio.ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		case n == 0 && len(p) != 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

func (me *fdConn) TryWrite(p []byte) (int, error) {
	for {
		n, err := unix.Write(me.fd, p)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case tryAgain(err):
			return 0, nbio.ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("write", err)
		}
		return n, nil
	}
}

func (me *fdConn) Close() error {
	return os.NewSyscallError("close", unix.Close(me.fd))
}
