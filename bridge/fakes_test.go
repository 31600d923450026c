package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/lightmesh/enginebridge/engine"
	"github.com/lightmesh/enginebridge/platform"
)

// fakeEngine is a scriptable engine.Instance. Tests emit events through
// emit() and inspect the commands the dispatcher issued.
type fakeEngine struct {
	events    chan engine.Event
	closeOnce sync.Once

	mu         sync.Mutex
	addChains  []recordedAddChain
	removed    []uint32
	sent       []recordedSend
	sendStatus engine.Status
	responses  map[uint32][]string
	connOps    []string
	shutdowns  int

	// crashOnSend makes SendJSONRPC accept the request and then emit a crash.
	crashOnSend error

	// autoShutdownComplete emits ShutdownComplete from Shutdown.
	autoShutdownComplete bool
}

type recordedAddChain struct {
	spec           string
	database       string
	relay          []uint32
	disableJSONRPC bool
	maxPending     uint32
	maxSubs        uint32
}

type recordedSend struct {
	request string
	chain   uint32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		events:    make(chan engine.Event, 128),
		responses: make(map[uint32][]string),
	}
}

func (f *fakeEngine) emit(ev engine.Event) { f.events <- ev }

func (f *fakeEngine) Events() <-chan engine.Event { return f.events }

func (f *fakeEngine) Close(context.Context) error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeEngine) AddChain(spec, databaseContent string, relayChains []uint32, disableJSONRPC bool, maxPendingRequests, maxSubscriptions uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addChains = append(f.addChains, recordedAddChain{
		spec:           spec,
		database:       databaseContent,
		relay:          append([]uint32(nil), relayChains...),
		disableJSONRPC: disableJSONRPC,
		maxPending:     maxPendingRequests,
		maxSubs:        maxSubscriptions,
	})
}

func (f *fakeEngine) RemoveChain(id uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
}

func (f *fakeEngine) SendJSONRPC(request string, chain uint32) engine.Status {
	f.mu.Lock()
	f.sent = append(f.sent, recordedSend{request: request, chain: chain})
	status := f.sendStatus
	crash := f.crashOnSend
	f.mu.Unlock()
	if crash != nil {
		f.emit(engine.Crashed{Err: crash})
	}
	return status
}

func (f *fakeEngine) PeekJSONRPCResponse(chain uint32) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.responses[chain]
	if len(queue) == 0 {
		return "", false
	}
	f.responses[chain] = queue[1:]
	return queue[0], true
}

// queueResponse makes a response available without signalling; pair with
// emit(engine.JSONRPCResponsesReady{...}) to wake waiters.
func (f *fakeEngine) queueResponse(chain uint32, response string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[chain] = append(f.responses[chain], response)
}

func (f *fakeEngine) ConnectionOpened(id uint32, multistream bool, initialWritableBytes uint32) {
	f.recordConnOp("opened")
}
func (f *fakeEngine) ConnectionReset(id uint32, message string) {
	f.recordConnOp("reset:" + message)
}
func (f *fakeEngine) StreamOpened(connID, streamID uint32, outbound bool, initialWritableBytes uint32) {
	f.recordConnOp("stream-opened")
}
func (f *fakeEngine) StreamReset(connID, streamID uint32) {
	f.recordConnOp("stream-reset")
}
func (f *fakeEngine) StreamWritableBytes(connID uint32, numExtra uint32, stream *uint32) {
	f.recordConnOp("writable")
}
func (f *fakeEngine) StreamMessage(connID uint32, data []byte, stream *uint32) {
	f.recordConnOp("message:" + string(data))
}

func (f *fakeEngine) recordConnOp(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connOps = append(f.connOps, op)
}

func (f *fakeEngine) connOpsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connOps...)
}

func (f *fakeEngine) Shutdown() {
	f.mu.Lock()
	f.shutdowns++
	auto := f.autoShutdownComplete
	f.mu.Unlock()
	if auto {
		f.emit(engine.ShutdownComplete{})
	}
}

func (f *fakeEngine) addChainCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.addChains)
}

func (f *fakeEngine) lastAddChain() recordedAddChain {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addChains[len(f.addChains)-1]
}

// fakePlatform hands out fakeConns keyed by address.
type fakePlatform struct {
	mu      sync.Mutex
	conns   map[string]*fakeConn
	dialErr error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{conns: make(map[string]*fakeConn)}
}

func (p *fakePlatform) Connect(address string) (platform.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dialErr != nil {
		return nil, p.dialErr
	}
	c := &fakeConn{events: make(chan platform.Event, 16)}
	p.conns[address] = c
	return c, nil
}

func (p *fakePlatform) Now() time.Duration { return 0 }
func (p *fakePlatform) FillRandom(b []byte) {
	for i := range b {
		b[i] = 0x42
	}
}

func (p *fakePlatform) conn(address string) *fakeConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[address]
}

type fakeConn struct {
	events    chan platform.Event
	closeOnce sync.Once

	mu     sync.Mutex
	resets int
	sent   [][]byte
	closes int
}

func (c *fakeConn) Events() <-chan platform.Event { return c.events }

func (c *fakeConn) emit(ev platform.Event) { c.events <- ev }

func (c *fakeConn) Reset(stream *uint32) {
	c.mu.Lock()
	c.resets++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.events) })
}

func (c *fakeConn) Send(data []byte, stream *uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), data...))
}

func (c *fakeConn) CloseSend(stream *uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
}

func (c *fakeConn) OpenOutSubstream() {}

func (c *fakeConn) resetCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

func (c *fakeConn) sentData() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}
