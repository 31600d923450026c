package bridge

import (
	"errors"
	"strings"
	"testing"

	"github.com/lightmesh/enginebridge/engine"
	"github.com/lightmesh/enginebridge/platform"
)

func hasConnOp(ops []string, want string) bool {
	for _, op := range ops {
		if op == want {
			return true
		}
	}
	return false
}

func TestConnection_OpenSendReceive(t *testing.T) {
	c, eng, plat := newTestClient(t)
	mustAddChain(t, c, eng, 1, AddChainOptions{ChainSpec: "{}"})

	eng.emit(engine.NewConnection{ConnID: 8, Address: "addr-8"})
	waitFor(t, "connection dialed", func() bool { return plat.conn("addr-8") != nil })
	conn := plat.conn("addr-8")

	// Handshake completion flows back to the engine.
	conn.emit(platform.Opened{InitialWritableBytes: 1024})
	waitFor(t, "engine notified of open", func() bool {
		return hasConnOp(eng.connOpsSnapshot(), "opened")
	})

	// Engine-commanded send reaches the platform connection.
	eng.emit(engine.StreamSend{ConnID: 8, Data: []byte("hello")})
	waitFor(t, "data sent", func() bool { return len(conn.sentData()) == 1 })
	if got := string(conn.sentData()[0]); got != "hello" {
		t.Errorf("sent %q, want %q", got, "hello")
	}

	// Received data flows back to the engine.
	conn.emit(platform.Message{Data: []byte("world")})
	waitFor(t, "engine received message", func() bool {
		return hasConnOp(eng.connOpsSnapshot(), "message:world")
	})
}

func TestConnection_EngineReset(t *testing.T) {
	c, eng, plat := newTestClient(t)
	mustAddChain(t, c, eng, 1, AddChainOptions{ChainSpec: "{}"})

	eng.emit(engine.NewConnection{ConnID: 2, Address: "addr-2"})
	waitFor(t, "connection dialed", func() bool { return plat.conn("addr-2") != nil })
	conn := plat.conn("addr-2")

	eng.emit(engine.ResetConnection{ConnID: 2})
	waitFor(t, "connection reset", func() bool { return conn.resetCount() == 1 })

	// A send command the engine emitted before learning about the reset is
	// dropped, not a fault; the dispatcher stays healthy.
	eng.emit(engine.StreamSend{ConnID: 2, Data: []byte("stale")})
	chain := mustAddChain(t, c, eng, 99, AddChainOptions{ChainSpec: "{}"})
	if err := chain.SendJSONRPC("alive"); err != nil {
		t.Errorf("dispatcher unhealthy after stale send: %v", err)
	}
	if len(conn.sentData()) != 0 {
		t.Errorf("data sent on a reset connection")
	}
}

func TestConnection_RemoteReset(t *testing.T) {
	c, eng, plat := newTestClient(t)
	mustAddChain(t, c, eng, 1, AddChainOptions{ChainSpec: "{}"})

	eng.emit(engine.NewConnection{ConnID: 3, Address: "addr-3"})
	waitFor(t, "connection dialed", func() bool { return plat.conn("addr-3") != nil })
	conn := plat.conn("addr-3")

	conn.emit(platform.ConnectionReset{Message: "peer gone"})
	conn.closeOnce.Do(func() { close(conn.events) })

	waitFor(t, "engine notified of remote reset", func() bool {
		return hasConnOp(eng.connOpsSnapshot(), "reset:peer gone")
	})

	// Engine commands referencing the torn-down connection are tolerated.
	eng.emit(engine.StreamSend{ConnID: 3, Data: []byte("stale")})
	chain := mustAddChain(t, c, eng, 42, AddChainOptions{ChainSpec: "{}"})
	if err := chain.SendJSONRPC("alive"); err != nil {
		t.Errorf("dispatcher unhealthy after stale send: %v", err)
	}
}

func TestConnection_DialFailureReportsReset(t *testing.T) {
	c, eng, plat := newTestClient(t)
	mustAddChain(t, c, eng, 1, AddChainOptions{ChainSpec: "{}"})

	plat.mu.Lock()
	plat.dialErr = errors.New("connection refused")
	plat.mu.Unlock()

	eng.emit(engine.NewConnection{ConnID: 4, Address: "addr-4"})
	waitFor(t, "dial failure reported as reset", func() bool {
		for _, op := range eng.connOpsSnapshot() {
			if strings.HasPrefix(op, "reset:") && strings.Contains(op, "connection refused") {
				return true
			}
		}
		return false
	})
}

func TestConnection_MultistreamCommands(t *testing.T) {
	c, eng, plat := newTestClient(t)
	mustAddChain(t, c, eng, 1, AddChainOptions{ChainSpec: "{}"})

	eng.emit(engine.NewConnection{ConnID: 6, Address: "addr-6"})
	waitFor(t, "connection dialed", func() bool { return plat.conn("addr-6") != nil })
	conn := plat.conn("addr-6")

	conn.emit(platform.Opened{Multistream: true})
	conn.emit(platform.StreamOpened{StreamID: 11, Direction: platform.DirectionInbound, InitialWritableBytes: 256})
	waitFor(t, "stream open forwarded", func() bool {
		return hasConnOp(eng.connOpsSnapshot(), "stream-opened")
	})

	conn.emit(platform.WritableBytes{NumExtra: 64, StreamID: u32(11)})
	waitFor(t, "writable bytes forwarded", func() bool {
		return hasConnOp(eng.connOpsSnapshot(), "writable")
	})

	conn.emit(platform.StreamReset{StreamID: 11})
	waitFor(t, "stream reset forwarded", func() bool {
		return hasConnOp(eng.connOpsSnapshot(), "stream-reset")
	})
}

func u32(v uint32) *uint32 { return &v }
