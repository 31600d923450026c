package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lightmesh/enginebridge/engine"
	berrors "github.com/lightmesh/enginebridge/errors"
	"github.com/lightmesh/enginebridge/platform"
)

// message is anything delivered to the dispatcher's inbox. The concrete
// types below are the only implementations: facade requests, the engine
// construction outcome, wrapped engine events, and wrapped connection
// events.
type message interface{ dispatchMessage() }

type initDoneMsg struct {
	eng engine.Instance
	err error
}

type engineEventMsg struct {
	ev engine.Event
}

type connEventMsg struct {
	connID uint32
	ev     platform.Event
}

type addChainMsg struct {
	params addChainParams
	reply  chan<- addChainReply
}

type addChainReply struct {
	chain *Chain
	err   error
}

type sendRPCMsg struct {
	chain   *Chain
	request string
	reply   chan<- error
}

type pollRPCMsg struct {
	chain *Chain
	reply chan<- pollReply
}

// pollReply is one pass of the NextJSONRPCResponse loop: either a response
// (ok), a wake channel to suspend on, or a failure.
type pollReply struct {
	response string
	ok       bool
	wake     <-chan struct{}
	err      error
}

type dropWaiterMsg struct {
	chain *Chain
	wake  <-chan struct{}
}

type removeMsg struct {
	chain *Chain
	reply chan<- error
}

type terminateMsg struct {
	reply chan<- error
}

func (initDoneMsg) dispatchMessage()    {}
func (engineEventMsg) dispatchMessage() {}
func (connEventMsg) dispatchMessage()   {}
func (addChainMsg) dispatchMessage()    {}
func (sendRPCMsg) dispatchMessage()     {}
func (pollRPCMsg) dispatchMessage()     {}
func (dropWaiterMsg) dispatchMessage()  {}
func (removeMsg) dispatchMessage()      {}
func (terminateMsg) dispatchMessage()   {}

// dispatch is the single thread of control. It owns every piece of shared
// state and processes exactly one message at a time; engine events are
// forwarded into the inbox by pumpEvents in emission order.
func (c *Client) dispatch() {
	pumpDone := make(chan struct{})
	pumpStarted := false

	for {
		select {
		case m := <-c.inbox:
			if started := c.handle(m, pumpDone); started {
				pumpStarted = true
			}
		case <-pumpDone:
			pumpDone = nil
		}

		// The dispatcher exits once the instance is destroyed and the
		// event pump has drained; post() then fails over to the terminal
		// error for any remaining caller.
		if c.state == statusDestroyed && (!pumpStarted || pumpDone == nil) {
			return
		}
	}
}

func (c *Client) pumpEvents(events <-chan engine.Event, pumpDone chan<- struct{}) {
	for ev := range events {
		if !c.post(engineEventMsg{ev: ev}) {
			break
		}
	}
	close(pumpDone)
}

// handle processes one message. It reports whether it started the event
// pump (true exactly once, on successful initialization).
func (c *Client) handle(m message, pumpDone chan struct{}) bool {
	switch m := m.(type) {
	case initDoneMsg:
		return c.handleInitDone(m, pumpDone)
	case engineEventMsg:
		c.handleEngineEvent(m.ev)
	case connEventMsg:
		c.handleConnEvent(m.connID, m.ev)
	case addChainMsg:
		c.handleAddChain(m)
	case sendRPCMsg:
		m.reply <- c.handleSendRPC(m)
	case pollRPCMsg:
		m.reply <- c.handlePollRPC(m)
	case dropWaiterMsg:
		c.handleDropWaiter(m)
	case removeMsg:
		m.reply <- c.handleRemove(m)
	case terminateMsg:
		c.handleTerminate(m)
	default:
		panic(fmt.Sprintf("bridge: unknown dispatcher message %T", m))
	}
	return false
}

func (c *Client) handleInitDone(m initDoneMsg, pumpDone chan struct{}) bool {
	if c.state == statusDestroyed {
		// A crash won the race against a late construction success; the
		// terminal error must not be clobbered.
		if m.eng != nil {
			c.closeEngine(m.eng)
		}
		return false
	}
	if c.state != statusInitializing {
		panic(fmt.Sprintf("bridge: engine initialized twice (state %d)", c.state))
	}

	if m.err != nil {
		c.destroy(berrors.Wrap(berrors.PhaseInit, berrors.KindCrashed, m.err, "engine initialization failed"))
		return false
	}

	c.eng = m.eng
	c.state = statusReady
	close(c.ready)
	go c.pumpEvents(m.eng.Events(), pumpDone)
	return true
}

func (c *Client) handleEngineEvent(ev engine.Event) {
	switch ev := ev.(type) {
	case engine.Crashed:
		c.handleCrash(ev)
	case engine.ShutdownComplete:
		c.handleShutdownComplete()
	case engine.Log:
		c.forwardLog(ev)
	case engine.AddChainResult:
		c.handleAddChainResult(ev)
	case engine.JSONRPCResponsesReady:
		c.wakeChainWaiters(ev.ChainID)
	case engine.NewConnection:
		c.handleNewConnection(ev)
	case engine.ResetConnection:
		if conn := c.lookupConn(ev.ConnID, "reset-connection"); conn != nil {
			conn.reset(nil)
			c.dropConn(ev.ConnID)
		}
	case engine.OpenStream:
		if conn := c.lookupConn(ev.ConnID, "open-stream"); conn != nil {
			conn.openOutSubstream()
		}
	case engine.ResetStream:
		if conn := c.lookupConn(ev.ConnID, "reset-stream"); conn != nil {
			conn.resetStream(ev.StreamID)
		}
	case engine.StreamSend:
		if conn := c.lookupConn(ev.ConnID, "stream-send"); conn != nil {
			conn.send(ev.Data, ev.StreamID)
		}
	case engine.StreamSendClose:
		if conn := c.lookupConn(ev.ConnID, "stream-send-close"); conn != nil {
			conn.closeSend(ev.StreamID)
		}
	default:
		panic(fmt.Sprintf("bridge: unknown engine event %T", ev))
	}
}

// handleCrash moves the instance to Destroyed with the crash's error. The
// crash error always wins: a concurrently-completing termination must not
// overwrite it.
func (c *Client) handleCrash(ev engine.Crashed) {
	if c.state == statusDestroyed {
		return
	}
	c.log.Error("engine crashed", zap.Error(ev.Err))

	reply := c.shutdownReply
	c.shutdownReply = nil

	c.destroy(berrors.Crashed(ev.Err))

	// One-shot shutdown-or-crash callback: a caller suspended in Terminate
	// settles now and observes the crash error on its next operation.
	if reply != nil {
		reply <- nil
	}
}

// handleShutdownComplete settles the terminate caller. The state transition
// happens here on the terminate path rather than when the command was
// issued, so that a crash arriving in between keeps precedence.
func (c *Client) handleShutdownComplete() {
	reply := c.shutdownReply
	c.shutdownReply = nil
	if reply == nil {
		c.log.Warn("engine reported shutdown completion with no termination in flight")
		return
	}
	if c.state == statusReady {
		c.destroy(berrors.AlreadyDestroyed())
	}
	reply <- nil
}

func (c *Client) handleTerminate(m terminateMsg) {
	if c.state != statusReady {
		m.reply <- c.terminalForState()
		return
	}
	if c.shutdownReply != nil {
		m.reply <- berrors.Wrap(berrors.PhaseShutdown, berrors.KindInvalidInput, nil,
			"termination already in progress")
		return
	}
	c.shutdownReply = m.reply
	c.eng.Shutdown()
}

func (c *Client) handleAddChain(m addChainMsg) {
	if c.state != statusReady {
		m.reply <- addChainReply{err: c.terminalForState()}
		return
	}

	// Relay-chain handles that no longer resolve to a live chain are
	// dropped from the list rather than causing an error.
	relayIDs := make([]uint32, 0, len(m.params.relayChains))
	for _, h := range m.params.relayChains {
		if id, ok := c.handleIDs[h]; ok {
			relayIDs = append(relayIDs, id)
		}
	}

	c.pending = append(c.pending, pendingAddChain{
		reply:          m.reply,
		disableJSONRPC: m.params.disableJSONRPC,
	})
	c.eng.AddChain(m.params.spec, m.params.databaseContent, relayIDs,
		m.params.disableJSONRPC, m.params.maxPending, m.params.maxSubscriptions)
}

// handleAddChainResult pops the oldest ledger entry. The engine emits
// outcomes in issuance order, so matching is positional; the event's chain
// id identifies the new chain, not the request.
func (c *Client) handleAddChainResult(ev engine.AddChainResult) {
	if len(c.pending) == 0 {
		panic("bridge: add-chain outcome with an empty ledger")
	}
	req := c.pending[0]
	c.pending = c.pending[1:]

	if ev.Err != nil {
		req.reply <- addChainReply{err: berrors.AddChainFailed(ev.Err.Error())}
		return
	}
	if _, exists := c.chains[ev.ChainID]; exists {
		panic(fmt.Sprintf("bridge: engine reused live chain id %d", ev.ChainID))
	}

	handle := &Chain{client: c}
	c.handleIDs[handle] = ev.ChainID
	c.chains[ev.ChainID] = &chainState{jsonRPCEnabled: !req.disableJSONRPC}
	req.reply <- addChainReply{chain: handle}
}

func (c *Client) handleSendRPC(m sendRPCMsg) error {
	if c.state != statusReady {
		return c.terminalForState()
	}
	id, ok := c.handleIDs[m.chain]
	if !ok {
		return berrors.AlreadyRemoved(berrors.PhaseRPC)
	}
	if !c.chains[id].jsonRPCEnabled {
		return berrors.JSONRPCDisabled()
	}

	switch st := c.eng.SendJSONRPC(m.request, id); st {
	case engine.StatusOK:
		return nil
	case engine.StatusQueueFull:
		return berrors.QueueFull(id)
	default:
		panic(fmt.Sprintf("bridge: unknown JSON-RPC send status %d for chain %d", st, id))
	}
}

func (c *Client) handlePollRPC(m pollRPCMsg) pollReply {
	if c.state != statusReady {
		return pollReply{err: c.terminalForState()}
	}
	id, ok := c.handleIDs[m.chain]
	if !ok {
		return pollReply{err: berrors.AlreadyRemoved(berrors.PhaseRPC)}
	}
	state := c.chains[id]
	if !state.jsonRPCEnabled {
		return pollReply{err: berrors.JSONRPCDisabled()}
	}

	if response, ok := c.eng.PeekJSONRPCResponse(id); ok {
		return pollReply{response: response, ok: true}
	}

	wake := make(chan struct{})
	state.waiters = append(state.waiters, wake)
	return pollReply{wake: wake}
}

func (c *Client) handleDropWaiter(m dropWaiterMsg) {
	id, ok := c.handleIDs[m.chain]
	if !ok {
		return
	}
	state := c.chains[id]
	for i, w := range state.waiters {
		if w == m.wake {
			state.waiters = append(state.waiters[:i], state.waiters[i+1:]...)
			return
		}
	}
}

func (c *Client) handleRemove(m removeMsg) error {
	if c.state != statusReady {
		return c.terminalForState()
	}
	id, ok := c.handleIDs[m.chain]
	if !ok {
		return berrors.AlreadyRemoved(berrors.PhaseDispatch)
	}

	// Detach the handle first: waiters woken here re-poll, observe the
	// detachment, and settle with already-removed.
	delete(c.handleIDs, m.chain)
	c.wakeChainWaiters(id)
	delete(c.chains, id)
	c.eng.RemoveChain(id)
	return nil
}

// wakeChainWaiters wakes and clears every waiter of the chain. Waiters
// receive no payload; each re-polls and drains the response queue in pull
// fashion.
func (c *Client) wakeChainWaiters(chainID uint32) {
	state, ok := c.chains[chainID]
	if !ok {
		// The chain can be gone by the time a responses-available event
		// queued behind a removal is delivered.
		c.log.Debug("responses-available for unknown chain", zap.Uint32("chain", chainID))
		return
	}
	for _, w := range state.waiters {
		close(w)
	}
	state.waiters = nil
}

// destroy performs the terminal transition. It runs at most once; the
// terminal error is stored before done is closed and never replaced.
func (c *Client) destroy(terminal error) {
	if c.state == statusDestroyed {
		panic("bridge: destroy on an already-destroyed instance")
	}
	eng := c.eng
	c.state = statusDestroyed
	c.eng = nil
	c.terminal = terminal

	// Force-reset every connection exactly once; a connection that reached
	// this point never emits or receives anything again.
	for id, conn := range c.conns {
		conn.reset(nil)
		c.connTombstones[id] = struct{}{}
		delete(c.conns, id)
	}

	for _, req := range c.pending {
		req.reply <- addChainReply{err: terminal}
	}
	c.pending = nil

	for id, state := range c.chains {
		for _, w := range state.waiters {
			close(w)
		}
		state.waiters = nil
		delete(c.chains, id)
	}
	c.handleIDs = make(map[*Chain]uint32)

	close(c.done)

	if eng != nil {
		c.closeEngine(eng)
	}
}

// closeEngine releases engine resources when the implementation supports
// it. The local wazero instance does; a test fake may not.
func (c *Client) closeEngine(eng engine.Instance) {
	if closer, ok := eng.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(context.Background()); err != nil {
			c.log.Warn("closing engine", zap.Error(err))
		}
	}
}

// terminalForState maps a non-Ready state observed by an operation to its
// error. Initializing cannot be observed here: facade operations wait for
// readiness before posting, so reaching a handler in Initializing is a bug.
func (c *Client) terminalForState() error {
	switch c.state {
	case statusDestroyed:
		return c.terminal
	default:
		panic(fmt.Sprintf("bridge: operation dispatched in state %d", c.state))
	}
}

// forwardLog relays an engine log line to the configured logger. Level
// mapping follows the engine convention (1 error .. 5 trace); trace maps
// onto zap debug.
func (c *Client) forwardLog(ev engine.Log) {
	var level zapcore.Level
	switch ev.Level {
	case 1:
		level = zapcore.ErrorLevel
	case 2:
		level = zapcore.WarnLevel
	case 3:
		level = zapcore.InfoLevel
	default:
		level = zapcore.DebugLevel
	}
	if ce := c.log.Check(level, ev.Message); ce != nil {
		ce.Write(zap.String("target", ev.Target))
	}
}
