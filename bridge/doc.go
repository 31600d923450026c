// Package bridge is the coordinating layer between an opaque execution
// engine instance and the host application.
//
// A Client owns all shared state: the instance lifecycle, the set of live
// network connections, the registry of logical chains, and the FIFO ledger
// matching add-chain outcomes to their callers. All of it is mutated by a
// single dispatcher goroutine; facade operations and engine events are both
// delivered over its inbox and processed strictly one at a time, so no two
// handlers ever run concurrently.
//
// Callers obtain an opaque Chain handle from AddChain and interact with the
// engine exclusively through it: SendJSONRPC submits a request,
// NextJSONRPCResponse pulls responses one at a time (suspending while the
// queue is empty), and Remove releases the chain.
package bridge
