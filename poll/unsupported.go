//go:build !linux

package poll

func NewSource() (Source, error) {
	return nil, ErrUnsupported
}

func Listen(addr string) (Listener, error) {
	return nil, ErrUnsupported
}

func Dial(addr string) (Conn, error) {
	return nil, ErrUnsupported
}
