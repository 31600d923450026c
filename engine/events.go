package engine

// Event is a notification emitted by the engine. The concrete types below
// are the only implementations.
type Event interface{ engineEvent() }

// Crashed reports that the engine hit an unrecoverable error. It is always
// the last event emitted.
type Crashed struct {
	Err error
}

// ShutdownComplete reports that a Shutdown command finished.
type ShutdownComplete struct{}

// Log carries a log line emitted by the engine. Level follows the usual
// convention: 1 error, 2 warn, 3 info, 4 debug, 5 trace.
type Log struct {
	Level   uint32
	Target  string
	Message string
}

// AddChainResult resolves the oldest outstanding AddChain command. Err is
// nil on success, in which case ChainID carries the engine-assigned id.
type AddChainResult struct {
	ChainID uint32
	Err     error
}

// JSONRPCResponsesReady signals that at least one JSON-RPC response became
// available for the chain. Consumers must drain via PeekJSONRPCResponse;
// several responses may be behind a single event.
type JSONRPCResponsesReady struct {
	ChainID uint32
}

// NewConnection asks the host to open a connection to Address and register
// it under ConnID.
type NewConnection struct {
	ConnID  uint32
	Address string
}

// ResetConnection asks the host to abruptly close the whole connection.
type ResetConnection struct {
	ConnID uint32
}

// OpenStream asks the host to open an outbound substream on a multi-stream
// connection.
type OpenStream struct {
	ConnID uint32
}

// ResetStream asks the host to abruptly close one substream.
type ResetStream struct {
	ConnID   uint32
	StreamID uint32
}

// StreamSend asks the host to send data on a connection. StreamID is nil for
// single-stream connections.
type StreamSend struct {
	ConnID   uint32
	Data     []byte
	StreamID *uint32
}

// StreamSendClose asks the host to close the sending side of a connection or
// substream.
type StreamSendClose struct {
	ConnID   uint32
	StreamID *uint32
}

func (Crashed) engineEvent()               {}
func (ShutdownComplete) engineEvent()      {}
func (Log) engineEvent()                   {}
func (AddChainResult) engineEvent()        {}
func (JSONRPCResponsesReady) engineEvent() {}
func (NewConnection) engineEvent()         {}
func (ResetConnection) engineEvent()       {}
func (OpenStream) engineEvent()            {}
func (ResetStream) engineEvent()           {}
func (StreamSend) engineEvent()            {}
func (StreamSendClose) engineEvent()       {}
