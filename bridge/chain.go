package bridge

import (
	"context"
)

// Chain is the opaque handle of one chain hosted by the engine instance.
// The handle carries no mutable state of its own; the client's registry
// holds the only mapping from handle to engine-assigned chain id. After
// Remove, the handle is permanently detached: every further operation fails
// with an already-removed error even if the engine recycles the id.
type Chain struct {
	client *Client
}

// SendJSONRPC submits a JSON-RPC request for this chain.
//
// It fails with an already-removed error after Remove, a jsonrpc-disabled
// error when the chain was added with DisableJSONRPC, the terminal error
// once the instance is destroyed, and a retryable queue-full error when the
// engine's request queue is saturated.
func (ch *Chain) SendJSONRPC(request string) error {
	c := ch.client
	reply := make(chan error, 1)
	if !c.post(sendRPCMsg{chain: ch, request: request, reply: reply}) {
		return c.terminalErr()
	}
	// A successful post guarantees the handler runs and replies; racing the
	// reply against destruction here could misreport an accepted request.
	return <-reply
}

// NextJSONRPCResponse returns the next JSON-RPC response or notification for
// this chain, suspending while none is queued. Responses are delivered in
// the order the engine produced them, each exactly once.
//
// The loop below is what guarantees that: every pass pops at most one
// response from the engine's queue; when the queue is empty the caller
// registers as a waiter and suspends until the dispatcher wakes it, then
// re-polls. A wake carries no payload, so several responses arriving behind
// one wake are drained by successive calls, never lost or duplicated.
func (ch *Chain) NextJSONRPCResponse(ctx context.Context) (string, error) {
	c := ch.client
	for {
		reply := make(chan pollReply, 1)
		if !c.post(pollRPCMsg{chain: ch, reply: reply}) {
			return "", c.terminalErr()
		}
		r := <-reply

		if r.err != nil {
			return "", r.err
		}
		if r.ok {
			return r.response, nil
		}

		select {
		case <-r.wake:
			// Woken: at least one response may be available, or the chain
			// is gone; the next poll decides.
		case <-c.done:
			return "", c.terminalErr()
		case <-ctx.Done():
			// Deregister so the dispatcher does not accumulate dead
			// waiters; best effort, destruction clears them anyway.
			c.post(dropWaiterMsg{chain: ch, wake: r.wake})
			return "", ctx.Err()
		}
	}
}

// Remove removes the chain from the engine instance. Suspended
// NextJSONRPCResponse calls settle with an already-removed error. Removing
// twice fails with the same error.
func (ch *Chain) Remove() error {
	c := ch.client
	reply := make(chan error, 1)
	if !c.post(removeMsg{chain: ch, reply: reply}) {
		return c.terminalErr()
	}
	return <-reply
}
