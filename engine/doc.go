// Package engine defines the boundary to the opaque execution engine: a
// small imperative command surface (Instance) and a typed event stream
// (Event).
//
// The bridge never looks inside the engine. It issues commands and reacts to
// events; everything the engine wants from the outside world (network
// connections, randomness, time) flows back through the bridge and the
// platform capability.
//
// WazeroInstance runs an engine compiled to WebAssembly in-process. Remote
// engines plug in by implementing Instance over whatever transport suits
// them.
package engine
