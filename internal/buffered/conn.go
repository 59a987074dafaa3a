// Package buffered wraps a net.Conn so that two pump goroutines can write to
// it without interleaving partial frames.
package buffered

import (
	"net"
	"sync"
	"time"
)

type Conn struct {
	wMu  sync.Mutex
	conn net.Conn
}

func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

func (c *Conn) Read(b []byte) (n int, err error) {
	return c.conn.Read(b)
}

// Write is serialized: a complete frame sequence handed to one Write call is
// never interleaved with another goroutine's.
func (c *Conn) Write(b []byte) (n int, err error) {
	c.wMu.Lock()
	n, err = c.conn.Write(b)
	c.wMu.Unlock()
	return
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
