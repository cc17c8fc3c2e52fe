package scribe

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrFakeClosed is returned by a fake conn once closed or dropped.
var ErrFakeClosed = errors.New("scribe: fake conn closed")

// FakeConn scripts one provider connection: tests push inbound messages with
// the Server* helpers and inspect what the session sent via Sent.
type FakeConn struct {
	inbound chan []byte

	mu     sync.Mutex
	sent   [][]byte
	closed chan struct{}
	once   sync.Once

	SendErr error // returned by every Send once set
}

func NewFakeConn() *FakeConn {
	return &FakeConn{
		inbound: make(chan []byte, 32),
		closed:  make(chan struct{}),
	}
}

func (c *FakeConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrFakeClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.sent = append(c.sent, cp)
	return nil
}

func (c *FakeConn) Recv() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, ErrFakeClosed
	}
}

func (c *FakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Drop simulates a transport-level disconnect seen by both stream goroutines.
func (c *FakeConn) Drop() { c.Close() }

// Sent returns copies of everything sent so far.
func (c *FakeConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentTypes returns the message_type of each sent envelope, in order.
func (c *FakeConn) SentTypes() []string {
	var types []string
	for _, data := range c.Sent() {
		var m struct {
			MessageType string `json:"message_type"`
		}
		if json.Unmarshal(data, &m) == nil {
			types = append(types, m.MessageType)
		}
	}
	return types
}

func (c *FakeConn) serverSend(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.inbound <- data
}

func (c *FakeConn) ServerSessionStarted(id string) {
	c.serverSend(map[string]string{"message_type": msgSessionStarted, "session_id": id})
}

func (c *FakeConn) ServerPartial(text string) {
	c.serverSend(map[string]string{"message_type": msgPartial, "text": text})
}

func (c *FakeConn) ServerCommitted(text string, confidence float64) {
	c.serverSend(map[string]any{"message_type": msgCommitted, "text": text, "confidence": confidence})
}

func (c *FakeConn) ServerInputError(message string) {
	c.serverSend(map[string]string{"message_type": msgInputError, "message": message})
}

// FakeDialer hands out scripted connections in order. The first FailFirst
// dials return DialErr instead.
type FakeDialer struct {
	mu        sync.Mutex
	conns     []*FakeConn
	dials     int
	FailFirst int
	DialErr   error
}

func NewFakeDialer(conns ...*FakeConn) *FakeDialer {
	return &FakeDialer{conns: conns}
}

// Queue appends another scripted connection for a later dial.
func (d *FakeDialer) Queue(c *FakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, c)
}

// Dials returns how many dial attempts were made.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *FakeDialer) Dial(_ context.Context, _ string, _ Credential) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.FailFirst {
		err := d.DialErr
		if err == nil {
			err = errors.New("scribe: fake dial failure")
		}
		return nil, err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("scribe: fake dialer exhausted")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}
