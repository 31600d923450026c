package platform

import "time"

// Platform is the capability the host application supplies to the bridge.
// It provides outbound network connections plus the clock and randomness the
// engine needs.
type Platform interface {
	// Connect opens a connection to the given address. The returned
	// Connection is exclusively owned by the caller once opened.
	Connect(address string) (Connection, error)

	// Now returns a monotonic clock reading.
	Now() time.Duration

	// FillRandom fills b with cryptographically-suitable random bytes.
	FillRandom(b []byte)
}

// Direction indicates who opened a substream.
type Direction uint8

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

// Connection is one live transport connection. Events are delivered over the
// single channel returned by Events, one at a time, in the order they
// occurred. After a Reset(nil), or after a ConnectionReset event has been
// delivered, no further event is delivered for this connection and the
// channel is closed. A stream-scoped reset gives the same guarantee for that
// stream only.
//
// Preconditions (Send/CloseSend only while open, stream ids supplied iff the
// connection is multi-stream, CloseSend at most once per stream) are enforced
// by the caller and not re-validated by implementations.
//
// Commands must not block on delivery of the connection's own events: the
// caller issuing a command is typically also the event consumer, so an
// implementation that waits for the event channel to drain inside Send or
// Reset deadlocks it.
type Connection interface {
	Events() <-chan Event

	// Reset abruptly closes the whole connection (stream == nil) or a single
	// substream of a multi-stream connection.
	Reset(stream *uint32)

	// Send queues data on the connection (stream == nil for single-stream).
	Send(data []byte, stream *uint32)

	// CloseSend closes the writing side, after which Send is forbidden.
	CloseSend(stream *uint32)

	// OpenOutSubstream requests a new outbound substream on a multi-stream
	// connection. The result arrives as a StreamOpened event.
	OpenOutSubstream()
}

// Event is a connection-originated notification. The concrete types below
// are the only implementations.
type Event interface{ connectionEvent() }

// Opened reports that the connection handshake finished.
type Opened struct {
	// Multistream is true when the transport multiplexes substreams itself,
	// in which case every subsequent event and command carries a stream id.
	Multistream bool

	// InitialWritableBytes is the initial send window of a single-stream
	// connection. Zero for multi-stream connections.
	InitialWritableBytes uint32
}

// ConnectionReset reports that the remote abruptly closed the connection.
// It is always the last event delivered.
type ConnectionReset struct {
	Message string
}

// StreamOpened reports a new substream on a multi-stream connection.
type StreamOpened struct {
	StreamID             uint32
	Direction            Direction
	InitialWritableBytes uint32
}

// StreamReset reports that a single substream was abruptly closed. No
// further event is delivered for that stream.
type StreamReset struct {
	StreamID uint32
}

// WritableBytes grants additional send window.
type WritableBytes struct {
	NumExtra uint32
	StreamID *uint32
}

// Message carries received data.
type Message struct {
	Data     []byte
	StreamID *uint32
}

func (Opened) connectionEvent()          {}
func (ConnectionReset) connectionEvent() {}
func (StreamOpened) connectionEvent()    {}
func (StreamReset) connectionEvent()     {}
func (WritableBytes) connectionEvent()   {}
func (Message) connectionEvent()         {}
