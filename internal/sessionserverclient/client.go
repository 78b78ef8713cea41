// Package sessionserverclient is the typed service stub (C5) over a
// rpcchannel.Channel: one client per child, forwarding StateChanged
// and Ack events to the supervisor re-tagged with the local
// ServerId. Grounded on the original C++ source's ipc/Client.cpp
// (subscribe-then-forward pattern) and on gone/daemon/ctrl.go's
// single dispatch goroutine.
package sessionserverclient

import (
	"encoding/json"
	"fmt"

	"github.com/rdkcentral/rialto-sub000/internal/apptypes"
	"github.com/rdkcentral/rialto-sub000/internal/rpcchannel"
)

// StateObserver receives StateChanged events re-tagged with the
// originating ServerId.
type StateObserver interface {
	OnSessionServerStateChanged(id apptypes.ServerId, state apptypes.SessionServerState)
}

// AckObserver receives Ack events re-tagged with the originating
// ServerId.
type AckObserver interface {
	OnAck(id apptypes.ServerId, pingID uint32, success bool)
}

type stateChangedPayload struct {
	State apptypes.SessionServerState `json:"state"`
}

type ackPayload struct {
	PingID  uint32 `json:"pingId"`
	Success bool   `json:"success"`
}

type setConfigurationRequest struct {
	InitialState      apptypes.SessionServerState `json:"initialState"`
	SocketPath        string                      `json:"socketPath,omitempty"`
	SocketFd          int                         `json:"socketFd,omitempty"`
	HasSocketFd       bool                        `json:"hasSocketFd"`
	ClientDisplayName string                      `json:"clientDisplayName"`
	MaxPlaybackSessions int                       `json:"maxPlaybackSessions"`
	MaxWebAudioPlayers  int                       `json:"maxWebAudioPlayers"`
	SocketMode        uint32                      `json:"socketMode"`
	SocketOwner       string                      `json:"socketOwner"`
	SocketGroup       string                      `json:"socketGroup"`
	AppName           string                      `json:"appName"`
	LogLevels         apptypes.LoggingLevels      `json:"logLevels"`
}

type setStateRequest struct {
	State apptypes.SessionServerState `json:"state"`
}

type pingRequest struct {
	PingID uint32 `json:"pingId"`
}

type setLogLevelsRequest struct {
	Levels apptypes.LoggingLevels `json:"levels"`
}

// Client combines an RPC channel with the SessionServer service
// stub. Every RPC method returns true iff the round trip completed
// without a transport error, regardless of the semantic outcome: the
// child reports semantic outcomes asynchronously via StateChanged/Ack.
type Client struct {
	id      apptypes.ServerId
	channel *rpcchannel.Channel
}

// New builds a Client over channel for the given ServerId, subscribes
// to StateChanged and Ack events, and forwards them to the given
// observers re-tagged with id.
func New(id apptypes.ServerId, channel *rpcchannel.Channel, states StateObserver, acks AckObserver) *Client {
	c := &Client{id: id, channel: channel}

	channel.Subscribe("StateChanged", func(raw json.RawMessage) {
		var p stateChangedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		if states != nil {
			states.OnSessionServerStateChanged(id, p.State)
		}
	})
	channel.Subscribe("Ack", func(raw json.RawMessage) {
		var p ackPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		if acks != nil {
			acks.OnAck(id, p.PingID, p.Success)
		}
	})

	return c
}

// ServerId returns the id this client was constructed with.
func (c *Client) ServerId() apptypes.ServerId { return c.id }

// PerformSetConfiguration sends the SetConfiguration request.
func (c *Client) PerformSetConfiguration(state apptypes.SessionServerState, socket apptypes.SocketLocation, perm apptypes.SocketPermissions, displayName, appName string, maxPlayback, maxWebAudio int, logLevels apptypes.LoggingLevels) bool {
	req := setConfigurationRequest{
		InitialState:        state,
		ClientDisplayName:   displayName,
		MaxPlaybackSessions: maxPlayback,
		MaxWebAudioPlayers:  maxWebAudio,
		SocketMode:          perm.Mode(),
		SocketOwner:         perm.User,
		SocketGroup:         perm.Group,
		AppName:             appName,
		LogLevels:           logLevels,
	}
	if socket.HasFd {
		req.HasSocketFd = true
		req.SocketFd = int(socket.Fd)
	} else {
		req.SocketPath = socket.Path
	}
	return c.channel.Request("SetConfiguration", req, nil) == nil
}

// PerformSetState sends the SetState request.
func (c *Client) PerformSetState(state apptypes.SessionServerState) bool {
	return c.channel.Request("SetState", setStateRequest{State: state}, nil) == nil
}

// PerformPing sends a Ping request carrying pingID.
func (c *Client) PerformPing(pingID uint32) bool {
	return c.channel.Request("Ping", pingRequest{PingID: pingID}, nil) == nil
}

// SetLogLevels sends a SetLogLevels request.
func (c *Client) SetLogLevels(levels apptypes.LoggingLevels) bool {
	return c.channel.Request("SetLogLevels", setLogLevelsRequest{Levels: levels}, nil) == nil
}

// Disconnect tears down the underlying channel. Idempotent.
func (c *Client) Disconnect() {
	c.channel.Disconnect()
}

func (c *Client) String() string {
	return fmt.Sprintf("client[%d]", c.id)
}
