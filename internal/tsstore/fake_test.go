package tsstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// fakeConn is a scripted net.Conn. Each Read hands out the next scripted
// chunk; once the script is exhausted Read returns exhausted (io.EOF unless
// set). Close calls are counted.
type fakeConn struct {
	mu        sync.Mutex
	responses []string
	exhausted error
	writeErr  error
	written   bytes.Buffer
	writes    int
	closes    int
}

func newFakeConn(responses ...string) *fakeConn {
	return &fakeConn{responses: responses, exhausted: io.EOF}
}

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closes > 0 {
		return 0, net.ErrClosed
	}
	if len(c.responses) == 0 {
		return 0, c.exhausted
	}
	r := c.responses[0]
	n := copy(p, r)
	if n < len(r) {
		c.responses[0] = r[n:]
	} else {
		c.responses = c.responses[1:]
	}
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closes > 0 {
		return 0, net.ErrClosed
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes++
	return c.written.Write(p)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) sent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.String()
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *fakeConn) LocalAddr() net.Addr                { return fakeAddr{} }
func (c *fakeConn) RemoteAddr() net.Addr               { return fakeAddr{} }
func (c *fakeConn) SetDeadline(_ time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(_ time.Time) error { return nil }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "unix" }
func (fakeAddr) String() string  { return "/tmp/fake.sock" }

// fakeDialer hands out scripted connections in order and counts opens.
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dialErr error
	opened  []*fakeConn
	network string
	address string
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.network = network
	d.address = address
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	if len(d.conns) == 0 {
		return nil, errors.New("fake dialer: no scripted connection")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	d.opened = append(d.opened, conn)
	return conn, nil
}

func (d *fakeDialer) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opened)
}

// unreleased returns the index of every opened connection that was not closed
// exactly once.
func (d *fakeDialer) unreleased() []int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var bad []int
	for i, c := range d.opened {
		if c.closeCount() != 1 {
			bad = append(bad, i)
		}
	}
	return bad
}

// timeoutErr is what a net.Conn returns when a deadline expires.
var errTimeout = os.ErrDeadlineExceeded
