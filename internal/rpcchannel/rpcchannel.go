// Package rpcchannel implements the per-child request/response and
// event channel (C4): one connected SOCK_SEQPACKET fd, one reader
// goroutine, typed calls blocked on a one-shot reply channel, and a
// subscriber list for asynchronous events. Grounded on daemon/ctrl's
// single-reader/dispatch-table shape (daemon/ctrl/ctrl.go), adapted
// from its line-oriented text protocol to length-preserving datagram
// envelopes since SOCK_SEQPACKET already gives message framing for
// free.
package rpcchannel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// ErrDisconnected is returned by Request and delivered to any
// in-flight call when the channel is disconnected.
var ErrDisconnected = errors.New("rpcchannel: disconnected")

// Envelope is the wire message: a request, a response, or an event.
type Envelope struct {
	Kind    string          `json:"kind"`    // e.g. "req:SetConfiguration", "resp:SetConfiguration", "event:StateChanged"
	ID      uint64          `json:"id"`      // correlates a response to its request; unused for events
	Payload json.RawMessage `json:"payload"`
}

const maxMessageSize = 64 * 1024

// Channel owns one connected SEQPACKET socket and its reader
// goroutine.
type Channel struct {
	conn net.Conn

	mu      sync.Mutex
	pending map[uint64]chan Envelope
	subs    map[string]map[int]func(json.RawMessage)
	nextSub int

	nextID uint64

	onDisconnected func()

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// New wraps conn in a Channel and starts its reader goroutine.
// onDisconnected, if non-nil, is invoked exactly once when the
// channel closes: from the reader goroutine on peer close, or from the
// caller's goroutine on a local Disconnect. The two causes are not
// distinguished.
func New(conn net.Conn, onDisconnected func()) *Channel {
	c := &Channel{
		conn:           conn,
		pending:        make(map[uint64]chan Envelope),
		subs:           make(map[string]map[int]func(json.RawMessage)),
		onDisconnected: onDisconnected,
		closed:         make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

func (c *Channel) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, maxMessageSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			c.Disconnect()
			return
		}
		var env Envelope
		if jsonErr := json.Unmarshal(buf[:n], &env); jsonErr != nil {
			// A malformed message on a trusted local child is a bug,
			// not a recoverable condition; drop it and keep reading.
			continue
		}
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env Envelope) {
	switch {
	case len(env.Kind) >= 5 && env.Kind[:5] == "resp:":
		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
		}
	case len(env.Kind) >= 6 && env.Kind[:6] == "event:":
		name := env.Kind[6:]
		c.mu.Lock()
		var handlers []func(json.RawMessage)
		for _, h := range c.subs[name] {
			handlers = append(handlers, h)
		}
		c.mu.Unlock()
		for _, h := range handlers {
			h(env.Payload)
		}
	}
}

// Request sends a request envelope of the given method name and
// payload, and blocks for a matching response, decoding its payload
// into result (which may be nil if the response carries no data).
func (c *Channel) Request(method string, payload interface{}, result interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("rpcchannel: encode request: %w", err)
	}

	id := atomic.AddUint64(&c.nextID, 1)
	replyCh := make(chan Envelope, 1)

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return ErrDisconnected
	default:
	}
	c.pending[id] = replyCh
	c.mu.Unlock()

	req := Envelope{Kind: "req:" + method, ID: id, Payload: raw}
	out, err := json.Marshal(req)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("rpcchannel: encode envelope: %w", err)
	}

	if _, err := c.conn.Write(out); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		select {
		case <-c.closed:
			return ErrDisconnected
		default:
		}
		return fmt.Errorf("rpcchannel: write: %w", err)
	}

	select {
	case resp := <-replyCh:
		if result == nil || len(resp.Payload) == 0 {
			return nil
		}
		return json.Unmarshal(resp.Payload, result)
	case <-c.closed:
		return ErrDisconnected
	}
}

// Subscribe registers handler for events of the given name (without
// the "event:" wire prefix), dispatched on the reader goroutine.
// The returned tag is used with Unsubscribe.
func (c *Channel) Subscribe(event string, handler func(payload json.RawMessage)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	tag := c.nextSub
	if c.subs[event] == nil {
		c.subs[event] = make(map[int]func(json.RawMessage))
	}
	c.subs[event][tag] = handler
	return tag
}

// Unsubscribe removes a previously registered handler. Safe to call
// more than once with the same tag.
func (c *Channel) Unsubscribe(event string, tag int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.subs[event]; ok {
		delete(m, tag)
	}
}

// Disconnect closes the channel and releases any in-flight Request
// calls with ErrDisconnected. Idempotent and safe from any goroutine.
func (c *Channel) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
		c.mu.Lock()
		c.pending = make(map[uint64]chan Envelope)
		c.mu.Unlock()
		// Any Request still blocked on its replyCh will see c.closed
		// ready instead (it never receives further), so we don't need
		// to close or signal the abandoned per-call channels directly.
		if c.onDisconnected != nil {
			c.onDisconnected()
		}
	})
}

// Wait blocks until the reader goroutine has exited (i.e. after
// Disconnect, or on peer close).
func (c *Channel) Wait() {
	c.wg.Wait()
}
