package core

import "github.com/vovakirdan/wirerelay/internal/proto"

// Envelope carries one relayed message from the registry to a recipient session.
// Sender is only used to exclude the originator and is never written to the wire.
type Envelope struct {
	Room    string
	Sender  string
	Payload proto.Payload
}

// Member is a room participant as seen by the registry.
type Member interface {
	// ID returns the handle identifier, unique per connection.
	ID() string
	// Deliver hands an envelope to the member. It must not block.
	Deliver(env Envelope) error
}

// Recorder receives relay counters. Implementations must be safe for concurrent use.
type Recorder interface {
	SessionOpened()
	SessionClosed()
	MessageReceived()
	ParseFailed()
	Delivered(n int)
	DeliveryFailed(n int)
}

type nopRecorder struct{}

func (nopRecorder) SessionOpened()     {}
func (nopRecorder) SessionClosed()     {}
func (nopRecorder) MessageReceived()   {}
func (nopRecorder) ParseFailed()       {}
func (nopRecorder) Delivered(int)      {}
func (nopRecorder) DeliveryFailed(int) {}
