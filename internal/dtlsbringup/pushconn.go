package dtlsbringup

import (
	"errors"
	"net"
	"time"
)

// pushConn adapts the push-driven delivery spec.md §4.4 describes
// ("incoming DTLS records are appended to an inbound queue; outbound
// records are drained to the UDP socket") to the net.Conn interface
// pion/dtls expects, since our real transport is one shared UDP socket
// demultiplexed by address rather than one socket per peer.
type pushConn struct {
	local, remote net.Addr
	in            chan []byte
	send          func([]byte)
	closed        chan struct{}
	pending       []byte
}

func newPushConn(local, remote net.Addr, send func([]byte)) *pushConn {
	return &pushConn{
		local:  local,
		remote: remote,
		in:     make(chan []byte, 32),
		send:   send,
		closed: make(chan struct{}),
	}
}

// feed delivers one inbound DTLS record to the handshake/record layer.
// It drops the record if the connection is already closed or the
// inbound queue is saturated, matching the "best-effort" UDP datapath.
func (c *pushConn) feed(record []byte) {
	buf := make([]byte, len(record))
	copy(buf, record)
	select {
	case <-c.closed:
	case c.in <- buf:
	default:
	}
}

func (c *pushConn) Read(b []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(b, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	select {
	case rec, ok := <-c.in:
		if !ok {
			return 0, errors.New("dtlsbringup: connection closed")
		}
		n := copy(b, rec)
		if n < len(rec) {
			c.pending = rec[n:]
		}
		return n, nil
	case <-c.closed:
		return 0, errors.New("dtlsbringup: connection closed")
	}
}

func (c *pushConn) Write(b []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, errors.New("dtlsbringup: connection closed")
	default:
	}
	c.send(b)
	return len(b), nil
}

func (c *pushConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *pushConn) LocalAddr() net.Addr  { return c.local }
func (c *pushConn) RemoteAddr() net.Addr { return c.remote }

func (c *pushConn) SetDeadline(t time.Time) error     { return nil }
func (c *pushConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *pushConn) SetWriteDeadline(t time.Time) error { return nil }
