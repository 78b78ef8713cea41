// Package controller implements the mutex-guarded client registry
// (C6): the one place in the core where an I/O-thread event (a
// channel disconnecting) and an event-thread call (send_ping_events
// iterating all clients) can race, per spec.md §5. Grounded on
// daemon/ctrl.go's registration table and guarded the same way gone's
// hugorm/daemon packages guard their shared maps: one mutex, no
// nesting into caller-supplied code while held.
package controller

import (
	"net"
	"sync"

	"github.com/rdkcentral/rialto-sub000/internal/apptypes"
	"github.com/rdkcentral/rialto-sub000/internal/rpcchannel"
	"github.com/rdkcentral/rialto-sub000/internal/sessionserverclient"
)

// Controller owns Map<ServerId, *sessionserverclient.Client>.
type Controller struct {
	mu      sync.Mutex
	clients map[apptypes.ServerId]*sessionserverclient.Client
}

// New returns an empty Controller.
func New() *Controller {
	return &Controller{clients: make(map[apptypes.ServerId]*sessionserverclient.Client)}
}

// CreateClient builds a client over conn for id, subscribing its
// events to states/acks. Returns false if id already has a client.
// Takes ownership of conn: on any later removal the client's channel
// (and therefore conn) is closed.
func (c *Controller) CreateClient(id apptypes.ServerId, conn net.Conn, onDisconnected func(), states sessionserverclient.StateObserver, acks sessionserverclient.AckObserver) bool {
	c.mu.Lock()
	if _, exists := c.clients[id]; exists {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	ch := rpcchannel.New(conn, onDisconnected)
	client := sessionserverclient.New(id, ch, states, acks)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.clients[id]; exists {
		// Lost a race with a concurrent CreateClient for the same id;
		// don't leak the channel we just opened.
		client.Disconnect()
		return false
	}
	c.clients[id] = client
	return true
}

// RemoveClient drops and disconnects the client for id. Idempotent.
func (c *Controller) RemoveClient(id apptypes.ServerId) {
	c.mu.Lock()
	client, ok := c.clients[id]
	if ok {
		delete(c.clients, id)
	}
	c.mu.Unlock()
	if ok {
		client.Disconnect()
	}
}

func (c *Controller) get(id apptypes.ServerId) (*sessionserverclient.Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	client, ok := c.clients[id]
	return client, ok
}

// PerformSetConfiguration is false if id is unknown; otherwise the
// client's RPC result.
func (c *Controller) PerformSetConfiguration(id apptypes.ServerId, state apptypes.SessionServerState, socket apptypes.SocketLocation, perm apptypes.SocketPermissions, displayName, appName string, maxPlayback, maxWebAudio int, logLevels apptypes.LoggingLevels) bool {
	client, ok := c.get(id)
	if !ok {
		return false
	}
	return client.PerformSetConfiguration(state, socket, perm, displayName, appName, maxPlayback, maxWebAudio, logLevels)
}

// PerformSetState is false if id is unknown; otherwise the client's
// RPC result.
func (c *Controller) PerformSetState(id apptypes.ServerId, state apptypes.SessionServerState) bool {
	client, ok := c.get(id)
	if !ok {
		return false
	}
	return client.PerformSetState(state)
}

// PerformPing is false if id is unknown; otherwise the client's RPC
// result.
func (c *Controller) PerformPing(id apptypes.ServerId, pingID uint32) bool {
	client, ok := c.get(id)
	if !ok {
		return false
	}
	return client.PerformPing(pingID)
}

// SetLogLevels returns true iff all currently registered clients
// accept the new levels.
func (c *Controller) SetLogLevels(levels apptypes.LoggingLevels) bool {
	c.mu.Lock()
	clients := make([]*sessionserverclient.Client, 0, len(c.clients))
	for _, client := range c.clients {
		clients = append(clients, client)
	}
	c.mu.Unlock()

	ok := true
	for _, client := range clients {
		if !client.SetLogLevels(levels) {
			ok = false
		}
	}
	return ok
}
