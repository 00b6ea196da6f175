package peerwire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"iter"
	"sync"

	pp "github.com/anacrolix/torrent/peer_protocol"

	"github.com/anacrolix/peerwire/internal/ringbuf"
)

const frameHeaderLen = 4

// Cuts complete length-prefixed frames out of a ring buffer and decodes them. The decoder only
// ever sees whole frames, so partial frames stay in the ring until more bytes arrive.
type frameReader struct {
	maxLength int
	// Holds one whole frame, header included.
	scratch []byte
	src     bytes.Reader
	dec     pp.Decoder
}

func newFrameReader(maxLength int) *frameReader {
	fr := &frameReader{
		maxLength: maxLength,
		scratch:   make([]byte, frameHeaderLen+maxLength),
	}
	fr.dec = pp.Decoder{
		R: bufio.NewReaderSize(&fr.src, frameHeaderLen+maxLength),
		// Piece payloads are drawn from here. Handlers must not retain them.
		Pool: &sync.Pool{New: func() any {
			b := make([]byte, maxLength)
			return &b
		}},
		MaxLength: pp.Integer(maxLength),
	}
	return fr
}

// Returns ok false if there isn't a complete frame buffered. A complete frame is consumed from buf
// even if it fails to decode.
func (fr *frameReader) next(buf *ringbuf.Buffer) (msg pp.Message, ok bool, err error) {
	var header [frameHeaderLen]byte
	if buf.Peek(header[:]) < frameHeaderLen {
		return
	}
	length := int(binary.BigEndian.Uint32(header[:]))
	if length > fr.maxLength {
		err = fmt.Errorf("%w: length prefix %v exceeds %v", ErrFrameTooLarge, length, fr.maxLength)
		return
	}
	frame := fr.scratch[:frameHeaderLen+length]
	if buf.Peek(frame) < len(frame) {
		return
	}
	buf.Consume(len(frame))
	fr.src.Reset(frame)
	fr.dec.R.Reset(&fr.src)
	err = fr.dec.Decode(&msg)
	if err != nil {
		err = fmt.Errorf("decoding %v byte frame: %w", length, err)
		return
	}
	ok = true
	return
}

func (fr *frameReader) release(msg *pp.Message) {
	if msg.Type == pp.Piece && !msg.Keepalive && msg.Piece != nil {
		b := msg.Piece[:0]
		fr.dec.Pool.Put(&b)
		msg.Piece = nil
	}
}

// Yields each complete frame buffered in buf in arrival order. Stops after the first error.
func (fr *frameReader) frames(buf *ringbuf.Buffer) iter.Seq2[pp.Message, error] {
	return func(yield func(pp.Message, error) bool) {
		for {
			msg, ok, err := fr.next(buf)
			if err != nil {
				yield(msg, err)
				return
			}
			if !ok {
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}
