package chat

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type fakeFrame struct {
	messageType int
	data        []byte
}

// fakeConn is an in-memory Conn. Inbound frames are fed through push and
// outbound frames are collected on the writes channel.
type fakeConn struct {
	inbound   chan fakeFrame
	writes    chan fakeFrame
	closed    chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	pongHandler func(string) error
	readLimit   int64
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan fakeFrame, 16),
		writes:  make(chan fakeFrame, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) push(data string) {
	c.inbound <- fakeFrame{messageType: websocket.TextMessage, data: []byte(data)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.inbound:
		return f.messageType, f.data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.writes <- fakeFrame{messageType: messageType, data: data}
	return nil
}

func (c *fakeConn) SetReadLimit(limit int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readLimit = limit
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pongHandler = h
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
