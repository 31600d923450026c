package engine

// Status is the result code of a submitted JSON-RPC request.
type Status uint32

const (
	// StatusOK means the request was queued.
	StatusOK Status = 0
	// StatusQueueFull means the chain's request queue is full. The caller
	// may retry once responses have been pulled.
	StatusQueueFull Status = 1
)

// Instance is the opaque execution engine the bridge drives. Commands are
// imperative and must only be called from a single goroutine at a time (the
// bridge's dispatcher); results that are not immediate arrive on the event
// stream returned by Events.
//
// WazeroInstance implements Instance for an engine compiled to WebAssembly
// running in-process. A remote instance would implement the same interface
// over a transport of its choosing.
type Instance interface {
	// AddChain issues a create-chain command. The outcome arrives later as
	// an AddChainResult event; outcomes are emitted in the same order as
	// the commands were issued.
	AddChain(spec, databaseContent string, relayChains []uint32, disableJSONRPC bool, maxPendingRequests, maxSubscriptions uint32)

	// RemoveChain removes a chain previously announced via AddChainResult.
	RemoveChain(id uint32)

	// SendJSONRPC submits a JSON-RPC request for the given chain.
	SendJSONRPC(request string, chain uint32) Status

	// PeekJSONRPCResponse pops the oldest queued JSON-RPC response of the
	// given chain, if any. Despite the name this consumes the response;
	// "peek" refers to the non-blocking nature of the call.
	PeekJSONRPCResponse(chain uint32) (string, bool)

	// Connection lifecycle notifications, fed back in response to the
	// connection events the engine emitted.
	ConnectionOpened(id uint32, multistream bool, initialWritableBytes uint32)
	ConnectionReset(id uint32, message string)
	StreamOpened(connID, streamID uint32, outbound bool, initialWritableBytes uint32)
	StreamReset(connID, streamID uint32)
	StreamWritableBytes(connID uint32, numExtra uint32, stream *uint32)
	StreamMessage(connID uint32, data []byte, stream *uint32)

	// Shutdown asks the engine to terminate. Completion is signalled by a
	// ShutdownComplete event.
	Shutdown()

	// Events returns the engine's event stream. Events are delivered one at
	// a time, in emission order. The channel is closed after the final
	// event (Crashed, or ShutdownComplete followed by teardown).
	Events() <-chan Event
}
