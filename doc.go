// Package enginebridge connects a host application to an opaque, long-lived
// execution engine instance that communicates through imperative commands
// and a discrete event stream.
//
// The library is split along that boundary:
//
//   - bridge is the coordinating core: it owns the instance lifecycle, the
//     chain registry, the outstanding-request ledger, and all live network
//     connections, serialized behind a single dispatcher.
//   - engine defines the command surface and event types of the instance,
//     and runs engines compiled to WebAssembly in-process via wazero.
//   - platform is the capability the host supplies: network connections,
//     a monotonic clock, and a secure random source. platform/wsnet is a
//     WebSocket implementation of it.
//
// A typical setup:
//
//	plat := wsnet.New()
//	client, err := bridge.New(ctx, bridge.Config{
//	    Start: func(ctx context.Context) (engine.Instance, error) {
//	        return engine.NewWazeroInstance(ctx, wasmBytes, engine.Config{Platform: plat})
//	    },
//	    Platform: plat,
//	})
//	chain, err := client.AddChain(ctx, bridge.AddChainOptions{ChainSpec: spec})
//	err = chain.SendJSONRPC(`{"jsonrpc":"2.0","id":1,"method":"system_name","params":[]}`)
//	response, err := chain.NextJSONRPCResponse(ctx)
package enginebridge
