package peerwire

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

// ConnStats are connection-level counters. At the Torrent level these are aggregates over every
// connection that carried the Torrent's infohash. Bytes are counted on the wire, including
// handshakes and length prefixes.
type ConnStats struct {
	BytesRead    count
	BytesWritten count

	MessagesRead    count
	MessagesWritten count
	// Zero length frames.
	KeepalivesRead count
}

// Copy returns a copy of the connection stats.
func (cs *ConnStats) Copy() (ret ConnStats) {
	for i := 0; i < reflect.TypeOf(ConnStats{}).NumField(); i++ {
		n := reflect.ValueOf(cs).Elem().Field(i).Addr().Interface().(*count).Int64()
		reflect.ValueOf(&ret).Elem().Field(i).Addr().Interface().(*count).Add(n)
	}
	return
}

// Adds every counter in other to cs.
func (cs *ConnStats) accumulate(other *ConnStats) {
	for i := 0; i < reflect.TypeOf(ConnStats{}).NumField(); i++ {
		n := reflect.ValueOf(other).Elem().Field(i).Addr().Interface().(*count).Int64()
		reflect.ValueOf(cs).Elem().Field(i).Addr().Interface().(*count).Add(n)
	}
}

type count struct {
	n int64
}

var _ fmt.Stringer = (*count)(nil)

func (c *count) Add(n int64) {
	atomic.AddInt64(&c.n, n)
}

func (c *count) Int64() int64 {
	return atomic.LoadInt64(&c.n)
}

func (c *count) String() string {
	return fmt.Sprintf("%v", c.Int64())
}
