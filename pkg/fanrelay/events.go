package fanrelay

import "github.com/bft-labs/fanrelay/pkg/lifecycle"

// State is the lifecycle state of a Relay.
type State = lifecycle.State

const (
	StateStopped  = lifecycle.StateStopped
	StateStarting = lifecycle.StateStarting
	StateRunning  = lifecycle.StateRunning
	StateStopping = lifecycle.StateStopping
	StateCrashed  = lifecycle.StateCrashed
)

// StateChangeEvent reports a lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// ClientEvent reports a client connecting or disconnecting.
type ClientEvent struct {
	ID     string
	Remote string

	// Sent is the number of messages written. Zero on connect.
	Sent uint64
}

// RejectEvent reports a connection refused by admission control.
type RejectEvent struct {
	Remote string
	Reason string
}

// EventHandler receives relay events. Calls are synchronous on relay
// goroutines and must return quickly.
type EventHandler interface {
	OnStateChange(StateChangeEvent)
	OnClientConnected(ClientEvent)
	OnClientDisconnected(ClientEvent)
	OnClientRejected(RejectEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to handle
// a subset of events.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent)   {}
func (BaseEventHandler) OnClientConnected(ClientEvent)    {}
func (BaseEventHandler) OnClientDisconnected(ClientEvent) {}
func (BaseEventHandler) OnClientRejected(RejectEvent)     {}

// eventEmitter adapts EventHandler to the server's collaborator interfaces.
type eventEmitter struct {
	handler EventHandler
}

func (e eventEmitter) OnStateChange(previous, current lifecycle.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{Previous: previous, Current: current, Reason: reason})
}

func (e eventEmitter) OnClientConnected(id, remote string) {
	if e.handler == nil {
		return
	}
	e.handler.OnClientConnected(ClientEvent{ID: id, Remote: remote})
}

func (e eventEmitter) OnClientDisconnected(id, remote string, sent uint64) {
	if e.handler == nil {
		return
	}
	e.handler.OnClientDisconnected(ClientEvent{ID: id, Remote: remote, Sent: sent})
}

func (e eventEmitter) OnClientRejected(remote, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnClientRejected(RejectEvent{Remote: remote, Reason: reason})
}
