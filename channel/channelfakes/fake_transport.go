package channelfakes

import (
	"context"
	"sync"

	"github.com/confscout/go-client/channel"
	"github.com/confscout/go-client/notifications"
)

var _ channel.Transport = (*FakeTransport)(nil)

// FakeTransport records dials and hands out scripted connections.
type FakeTransport struct {
	lock sync.Mutex

	DialErr error

	dials []DialRecord
	conns []*FakeConn
}

// DialRecord captures one Dial invocation.
type DialRecord struct {
	Credential string
	UserID     string
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

func (ft *FakeTransport) Dial(_ context.Context, credential, userID string) (channel.Conn, error) {
	ft.lock.Lock()
	defer ft.lock.Unlock()

	ft.dials = append(ft.dials, DialRecord{Credential: credential, UserID: userID})
	if ft.DialErr != nil {
		return nil, ft.DialErr
	}

	conn := NewFakeConn()
	ft.conns = append(ft.conns, conn)
	return conn, nil
}

// Dials returns every recorded dial.
func (ft *FakeTransport) Dials() []DialRecord {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	return append([]DialRecord(nil), ft.dials...)
}

// LastConn returns the most recently dialed connection, or nil.
func (ft *FakeTransport) LastConn() *FakeConn {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	if len(ft.conns) == 0 {
		return nil
	}
	return ft.conns[len(ft.conns)-1]
}

var _ channel.Conn = (*FakeConn)(nil)

// FakeConn is a scriptable push connection.
type FakeConn struct {
	events chan notifications.Notification
	done   chan struct{}

	lock   sync.Mutex
	err    error
	closed bool
}

func NewFakeConn() *FakeConn {
	return &FakeConn{
		events: make(chan notifications.Notification, 16),
		done:   make(chan struct{}),
	}
}

// Push delivers a notification as if the server sent it.
func (fc *FakeConn) Push(n notifications.Notification) {
	fc.events <- n
}

// Fail terminates the connection with a transport error.
func (fc *FakeConn) Fail(err error) {
	fc.lock.Lock()
	if fc.closed {
		fc.lock.Unlock()
		return
	}
	fc.err = err
	fc.closed = true
	fc.lock.Unlock()

	close(fc.events)
	close(fc.done)
}

func (fc *FakeConn) Events() <-chan notifications.Notification { return fc.events }
func (fc *FakeConn) Done() <-chan struct{}                     { return fc.done }

func (fc *FakeConn) Err() error {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	return fc.err
}

func (fc *FakeConn) Close() error {
	fc.lock.Lock()
	if fc.closed {
		fc.lock.Unlock()
		return nil
	}
	fc.closed = true
	fc.lock.Unlock()

	close(fc.events)
	close(fc.done)
	return nil
}

// Closed reports whether the connection has been closed.
func (fc *FakeConn) Closed() bool {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	return fc.closed
}
