// Package platform defines the capability a host application supplies to the
// bridge: opening network connections, a monotonic clock, and a secure random
// source.
//
// Connection implementations translate their transport's callbacks into the
// explicit Event types of this package, delivered over a single channel so
// that consumers observe at most one event at a time, in order. The wsnet
// subpackage provides a WebSocket-backed implementation.
package platform
