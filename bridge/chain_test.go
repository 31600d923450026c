package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lightmesh/enginebridge/engine"
	berrors "github.com/lightmesh/enginebridge/errors"
)

type nextResult struct {
	response string
	err      error
}

func startNext(ch *Chain) chan nextResult {
	res := make(chan nextResult, 1)
	go func() {
		response, err := ch.NextJSONRPCResponse(context.Background())
		res <- nextResult{response: response, err: err}
	}()
	return res
}

func expectPending(t *testing.T, desc string, res chan nextResult) {
	t.Helper()
	select {
	case r := <-res:
		t.Fatalf("%s settled early: %+v", desc, r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNextJSONRPCResponse_DeliversExactlyOnceThenSuspends(t *testing.T) {
	c, eng, _ := newTestClient(t)
	chain := mustAddChain(t, c, eng, 7, AddChainOptions{ChainSpec: "{}"})

	if err := chain.SendJSONRPC("ping"); err != nil {
		t.Fatalf("SendJSONRPC: %v", err)
	}

	eng.queueResponse(7, "pong")
	eng.emit(engine.JSONRPCResponsesReady{ChainID: 7})

	response, err := chain.NextJSONRPCResponse(context.Background())
	if err != nil {
		t.Fatalf("NextJSONRPCResponse: %v", err)
	}
	if response != "pong" {
		t.Errorf("response = %q, want %q", response, "pong")
	}

	// The queue is drained: the next call suspends until another response
	// becomes available.
	res := startNext(chain)
	expectPending(t, "second NextJSONRPCResponse", res)

	eng.queueResponse(7, "pong2")
	eng.emit(engine.JSONRPCResponsesReady{ChainID: 7})
	if r := <-res; r.err != nil || r.response != "pong2" {
		t.Fatalf("second response = %+v, want pong2", r)
	}
}

func TestNextJSONRPCResponse_SingleWakeDrainsMultipleResponses(t *testing.T) {
	c, eng, _ := newTestClient(t)
	chain := mustAddChain(t, c, eng, 3, AddChainOptions{ChainSpec: "{}"})

	res := startNext(chain)
	expectPending(t, "NextJSONRPCResponse with empty queue", res)

	// Two responses behind one availability signal; both must be pulled, in
	// order, by successive calls.
	eng.queueResponse(3, "first")
	eng.queueResponse(3, "second")
	eng.emit(engine.JSONRPCResponsesReady{ChainID: 3})

	if r := <-res; r.err != nil || r.response != "first" {
		t.Fatalf("first pull = %+v", r)
	}
	response, err := chain.NextJSONRPCResponse(context.Background())
	if err != nil || response != "second" {
		t.Fatalf("second pull = %q, %v", response, err)
	}
}

func TestNextJSONRPCResponse_ContextCancel(t *testing.T) {
	c, eng, _ := newTestClient(t)
	chain := mustAddChain(t, c, eng, 3, AddChainOptions{ChainSpec: "{}"})

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan nextResult, 1)
	go func() {
		response, err := chain.NextJSONRPCResponse(ctx)
		res <- nextResult{response: response, err: err}
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case r := <-res:
		if !errors.Is(r.err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("NextJSONRPCResponse did not settle on cancellation")
	}
}

func TestSendJSONRPC_QueueFullIsRetryable(t *testing.T) {
	c, eng, _ := newTestClient(t)
	chain := mustAddChain(t, c, eng, 2, AddChainOptions{ChainSpec: "{}"})

	eng.mu.Lock()
	eng.sendStatus = engine.StatusQueueFull
	eng.mu.Unlock()
	if err := chain.SendJSONRPC("req"); !errors.Is(err, berrors.ErrQueueFull) {
		t.Fatalf("err = %v, want queue_full", err)
	}

	eng.mu.Lock()
	eng.sendStatus = engine.StatusOK
	eng.mu.Unlock()
	if err := chain.SendJSONRPC("req"); err != nil {
		t.Fatalf("retry after queue_full failed: %v", err)
	}
}

func TestSendJSONRPC_AcceptedJustBeforeCrashReportsSuccess(t *testing.T) {
	c, eng, _ := newTestClient(t)
	chain := mustAddChain(t, c, eng, 4, AddChainOptions{ChainSpec: "{}"})

	cause := errors.New("died right after accepting")
	eng.mu.Lock()
	eng.crashOnSend = cause
	eng.mu.Unlock()

	// The engine accepts the request and crashes immediately afterwards. The
	// accepted send reports success; only operations issued after the crash
	// observe the terminal error.
	if err := chain.SendJSONRPC("req"); err != nil {
		t.Fatalf("accepted send reported %v", err)
	}

	<-c.done
	if err := chain.SendJSONRPC("late"); !errors.Is(err, cause) {
		t.Errorf("post-crash send = %v, want the crash error", err)
	}
}

func TestJSONRPCDisabledChain(t *testing.T) {
	c, eng, _ := newTestClient(t)
	chain := mustAddChain(t, c, eng, 2, AddChainOptions{ChainSpec: "{}", DisableJSONRPC: true})

	if err := chain.SendJSONRPC("req"); !errors.Is(err, berrors.ErrJSONRPCDisabled) {
		t.Errorf("SendJSONRPC = %v, want jsonrpc_disabled", err)
	}
	if _, err := chain.NextJSONRPCResponse(context.Background()); !errors.Is(err, berrors.ErrJSONRPCDisabled) {
		t.Errorf("NextJSONRPCResponse = %v, want jsonrpc_disabled", err)
	}

	rec := eng.lastAddChain()
	if !rec.disableJSONRPC {
		t.Errorf("disable flag not forwarded to the engine")
	}
}

func TestRemove_SettlesWaitersAndIsTerminalForHandle(t *testing.T) {
	c, eng, _ := newTestClient(t)
	chain := mustAddChain(t, c, eng, 9, AddChainOptions{ChainSpec: "{}"})

	res := startNext(chain)
	expectPending(t, "NextJSONRPCResponse before removal", res)

	if err := chain.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	// The suspended waiter re-polls, observes the removal, and settles.
	select {
	case r := <-res:
		if !errors.Is(r.err, berrors.ErrAlreadyRemoved) {
			t.Fatalf("waiter settled with %v, want already_removed", r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("waiter did not settle after removal")
	}

	if err := chain.Remove(); !errors.Is(err, berrors.ErrAlreadyRemoved) {
		t.Errorf("second Remove = %v, want already_removed", err)
	}
	if err := chain.SendJSONRPC("late"); !errors.Is(err, berrors.ErrAlreadyRemoved) {
		t.Errorf("SendJSONRPC after removal = %v, want already_removed", err)
	}
	if _, err := chain.NextJSONRPCResponse(context.Background()); !errors.Is(err, berrors.ErrAlreadyRemoved) {
		t.Errorf("NextJSONRPCResponse after removal = %v, want already_removed", err)
	}

	eng.mu.Lock()
	removed := append([]uint32(nil), eng.removed...)
	eng.mu.Unlock()
	if len(removed) != 1 || removed[0] != 9 {
		t.Errorf("remove-chain commands = %v, want [9]", removed)
	}

	// A stale responses-available signal for the removed id must be inert;
	// the dispatcher keeps serving afterwards.
	eng.emit(engine.JSONRPCResponsesReady{ChainID: 9})
	replacement := mustAddChain(t, c, eng, 10, AddChainOptions{ChainSpec: "{}"})
	if err := replacement.SendJSONRPC("alive"); err != nil {
		t.Errorf("dispatcher unhealthy after stale wake: %v", err)
	}
}

func TestCrash_SettlesEverything(t *testing.T) {
	c, eng, plat := newTestClient(t)
	chain := mustAddChain(t, c, eng, 5, AddChainOptions{ChainSpec: "{}"})

	// One suspended response waiter.
	res := startNext(chain)
	expectPending(t, "NextJSONRPCResponse before crash", res)

	// One outstanding add-chain request.
	pendingAdd := startAddChain(t, c, eng, AddChainOptions{ChainSpec: "{}"})

	// One live connection.
	eng.emit(engine.NewConnection{ConnID: 1, Address: "addr-1"})
	waitFor(t, "connection dialed", func() bool { return plat.conn("addr-1") != nil })
	conn := plat.conn("addr-1")

	cause := errors.New("segfault in consensus")
	eng.emit(engine.Crashed{Err: cause})

	// Every suspended caller settles with the crash as terminal error.
	select {
	case r := <-res:
		if !errors.Is(r.err, berrors.ErrCrashed) || !errors.Is(r.err, cause) {
			t.Errorf("waiter settled with %v, want the crash error", r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("response waiter hung after crash")
	}
	select {
	case r := <-pendingAdd:
		if !errors.Is(r.err, berrors.ErrCrashed) {
			t.Errorf("pending AddChain settled with %v, want crashed", r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("pending AddChain hung after crash")
	}

	// Connections are force-reset exactly once and removed.
	waitFor(t, "connection reset", func() bool { return conn.resetCount() == 1 })
	if n := conn.resetCount(); n != 1 {
		t.Errorf("connection reset %d times, want exactly once", n)
	}

	// Future operations observe the same terminal error.
	if err := chain.SendJSONRPC("late"); !errors.Is(err, cause) {
		t.Errorf("SendJSONRPC after crash = %v, want the crash error", err)
	}
	if _, err := c.AddChain(context.Background(), AddChainOptions{ChainSpec: "{}"}); !errors.Is(err, cause) {
		t.Errorf("AddChain after crash = %v, want the crash error", err)
	}
	if err := c.Terminate(context.Background()); !errors.Is(err, cause) {
		t.Errorf("Terminate after crash = %v, want the crash error", err)
	}
}
