// Package codec is the bencode decode/encode service used for torrent metadata and tracker
// responses. Decoding is total: any input produces either a value or a *DecodeError.
package codec

import (
	"errors"
	"fmt"

	"github.com/anacrolix/torrent/bencode"
	"github.com/dustin/go-humanize"
)

const (
	// Inputs longer than this are rejected without being parsed.
	MaxInputLen = 1 << 20
	// Maximum nesting of lists and dictionaries.
	MaxDepth = 256
)

// A decoded bencode value: int64, *big.Int, string, []any or map[string]any.
type Value = any

type DecodeError struct {
	// Byte offset the problem was detected at, or -1 if unknown.
	Offset int64
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	s := "bencode decode: " + e.Reason
	if e.Offset >= 0 {
		s += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses b as a single bencoded value.
func Decode(b []byte) (v Value, err error) {
	err = Unmarshal(b, &v)
	if err != nil {
		v = nil
	}
	return
}

// Unmarshal decodes b into v, which must be a non-nil pointer, with the same guarantees as Decode.
func Unmarshal(b []byte, v any) (err error) {
	if len(b) > MaxInputLen {
		return &DecodeError{
			Offset: -1,
			Reason: fmt.Sprintf("input of %s exceeds limit of %s",
				humanize.IBytes(uint64(len(b))), humanize.IBytes(MaxInputLen)),
		}
	}
	if off, ok := withinDepth(b, MaxDepth); !ok {
		return &DecodeError{Offset: off, Reason: fmt.Sprintf("nesting deeper than %d", MaxDepth)}
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err = &DecodeError{Offset: -1, Reason: fmt.Sprintf("decoder panicked: %v", r)}
	}()
	err = bencode.Unmarshal(b, v)
	if err == nil {
		return nil
	}
	de := &DecodeError{Offset: -1, Reason: "malformed input", Err: err}
	var se *bencode.SyntaxError
	if errors.As(err, &se) {
		de.Offset = se.Offset
	}
	return de
}

func Encode(v Value) ([]byte, error) {
	return bencode.Marshal(v)
}

// withinDepth scans the container structure of b without decoding it. Anything it can't follow is
// left for the decoder to reject.
func withinDepth(b []byte, max int) (offset int64, ok bool) {
	depth := 0
	for i := 0; i < len(b); {
		switch c := b[i]; {
		case c == 'l' || c == 'd':
			depth++
			if depth > max {
				return int64(i), false
			}
			i++
		case c == 'e':
			if depth == 0 {
				return 0, true
			}
			depth--
			i++
		case c == 'i':
			j := i + 1
			for j < len(b) && b[j] != 'e' {
				j++
			}
			i = j + 1
		case c >= '0' && c <= '9':
			n := 0
			j := i
			for ; j < len(b) && b[j] >= '0' && b[j] <= '9'; j++ {
				n = n*10 + int(b[j]-'0')
				if n > len(b) {
					return 0, true
				}
			}
			if j >= len(b) || b[j] != ':' {
				return 0, true
			}
			i = j + 1 + n
		default:
			return 0, true
		}
	}
	return 0, true
}
