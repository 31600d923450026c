package bridge

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lightmesh/enginebridge/engine"
	"github.com/lightmesh/enginebridge/platform"
)

// connAdapter wraps one platform connection on behalf of the engine. The
// dispatcher is the only caller of its methods; preconditions (send only
// while open, stream ids iff multi-stream, close-send once) are guaranteed by
// the engine's command discipline and not re-validated here.
type connAdapter struct {
	id   uint32
	conn platform.Connection
}

func (a *connAdapter) reset(stream *uint32) { a.conn.Reset(stream) }
func (a *connAdapter) resetStream(id uint32) {
	s := id
	a.conn.Reset(&s)
}
func (a *connAdapter) send(data []byte, stream *uint32) { a.conn.Send(data, stream) }
func (a *connAdapter) closeSend(stream *uint32)         { a.conn.CloseSend(stream) }
func (a *connAdapter) openOutSubstream()                { a.conn.OpenOutSubstream() }

// handleNewConnection opens a platform connection for the engine's request
// and wires its events back into the dispatcher. A failed dial is reported
// to the engine as an immediate reset of the connection it asked for.
func (c *Client) handleNewConnection(ev engine.NewConnection) {
	if _, exists := c.conns[ev.ConnID]; exists {
		panic(fmt.Sprintf("bridge: engine reused live connection id %d", ev.ConnID))
	}

	conn, err := c.plat.Connect(ev.Address)
	if err != nil {
		c.log.Debug("dial failed",
			zap.Uint32("conn", ev.ConnID),
			zap.String("address", ev.Address),
			zap.Error(err))
		c.connTombstones[ev.ConnID] = struct{}{}
		c.eng.ConnectionReset(ev.ConnID, err.Error())
		return
	}

	c.conns[ev.ConnID] = &connAdapter{id: ev.ConnID, conn: conn}

	go func() {
		for ev2 := range conn.Events() {
			if !c.post(connEventMsg{connID: ev.ConnID, ev: ev2}) {
				return
			}
		}
	}()
}

// handleConnEvent forwards one connection-originated event into the engine.
// Events for a connection that was since reset are dropped: the platform
// guarantees none is *emitted* after a reset, but ones already in flight
// through the inbox can still arrive.
func (c *Client) handleConnEvent(connID uint32, ev platform.Event) {
	if _, ok := c.conns[connID]; !ok {
		return
	}
	if c.state != statusReady {
		// Connections are force-reset during destruction, so this is only
		// reachable for events queued before the teardown.
		return
	}

	switch ev := ev.(type) {
	case platform.Opened:
		c.eng.ConnectionOpened(connID, ev.Multistream, ev.InitialWritableBytes)
	case platform.ConnectionReset:
		// The remote closed the connection; the adapter's event channel
		// closes right after this event. The engine must not be told about
		// this connection again.
		delete(c.conns, connID)
		c.connTombstones[connID] = struct{}{}
		c.eng.ConnectionReset(connID, ev.Message)
	case platform.StreamOpened:
		c.eng.StreamOpened(connID, ev.StreamID, ev.Direction == platform.DirectionOutbound, ev.InitialWritableBytes)
	case platform.StreamReset:
		c.eng.StreamReset(connID, ev.StreamID)
	case platform.WritableBytes:
		c.eng.StreamWritableBytes(connID, ev.NumExtra, ev.StreamID)
	case platform.Message:
		c.eng.StreamMessage(connID, ev.Data, ev.StreamID)
	default:
		panic(fmt.Sprintf("bridge: unknown connection event %T", ev))
	}
}

// lookupConn resolves a connection referenced by an engine command. A
// reference to an id that was never assigned is an internal fault; a
// reference to a recently-reset connection is a benign ordering artifact
// (the engine emitted the command before learning about the reset) and
// yields nil.
func (c *Client) lookupConn(connID uint32, op string) *connAdapter {
	if adapter, ok := c.conns[connID]; ok {
		return adapter
	}
	if _, wasReset := c.connTombstones[connID]; wasReset {
		return nil
	}
	panic(fmt.Sprintf("bridge: engine %s command for unknown connection %d", op, connID))
}

// dropConn removes a connection the engine asked to reset.
func (c *Client) dropConn(connID uint32) {
	delete(c.conns, connID)
	c.connTombstones[connID] = struct{}{}
}
