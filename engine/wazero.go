package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/lightmesh/enginebridge/platform"
)

// Config holds configuration for local instance creation
type Config struct {
	// Platform supplies the monotonic clock and random bytes the engine
	// imports. Required.
	Platform platform.Platform

	// MaxLogLevel limits guest-side log emission (1 error .. 5 trace).
	// 0 disables guest logging entirely.
	MaxLogLevel uint32

	// MemoryLimitPages sets the maximum memory in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32
}

// hostModule is the import namespace the engine binary links against.
const hostModule = "bridge"

// requiredExports are the functions every engine binary must export, beside
// its linear memory and allocator.
var requiredExports = []string{
	"init",
	"advance_execution",
	"add_chain",
	"remove_chain",
	"json_rpc_send",
	"json_rpc_responses_peek",
	"json_rpc_responses_pop",
	"connection_opened",
	"connection_reset",
	"stream_opened",
	"stream_reset",
	"stream_writable_bytes",
	"stream_message",
	"shutdown",
}

// WazeroInstance runs an engine compiled to WebAssembly in-process using
// wazero. It implements Instance.
//
// All wasm calls are serialized on a single goroutine: commands are handed
// over as closures, and the execution loop advances the engine whenever the
// guest signals readiness. Host imports called back from inside those wasm
// calls push onto an unbounded event queue, never blocking.
type WazeroInstance struct {
	ctx   context.Context
	rt    wazero.Runtime
	mod   api.Module
	queue *eventQueue

	calls chan func()
	poke  chan struct{}
	stop  chan struct{}

	stopOnce sync.Once
	dead     atomic.Bool

	plat platform.Platform

	panicMu  sync.Mutex
	panicMsg string
}

// NewWazeroInstance compiles and instantiates the engine binary and starts
// driving it. The returned instance is live until it crashes or the bridge
// tears it down.
func NewWazeroInstance(ctx context.Context, wasmBytes []byte, cfg Config) (*WazeroInstance, error) {
	if cfg.Platform == nil {
		return nil, fmt.Errorf("engine: Config.Platform is required")
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	e := &WazeroInstance{
		ctx:   ctx,
		rt:    rt,
		queue: newEventQueue(),
		calls: make(chan func()),
		poke:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		plat:  cfg.Platform,
	}

	if err := e.instantiateHost(ctx); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}

	mod, err := rt.InstantiateWithConfig(ctx, wasmBytes,
		wazero.NewModuleConfig().WithName("engine").WithStartFunctions())
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate engine: %w", err)
	}
	e.mod = mod

	for _, name := range requiredExports {
		if mod.ExportedFunction(name) == nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("engine binary does not export %q", name)
		}
	}
	if mod.ExportedFunction("alloc") == nil || mod.Memory() == nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("engine binary does not export alloc/memory")
	}

	if _, err := mod.ExportedFunction("init").Call(ctx, uint64(cfg.MaxLogLevel)); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("init engine: %w", err)
	}

	go e.runLoop()
	return e, nil
}

func (e *WazeroInstance) instantiateHost(ctx context.Context) error {
	u32ptr := func(stream uint32, hasStream uint32) *uint32 {
		if hasStream == 0 {
			return nil
		}
		s := stream
		return &s
	}

	_, err := e.rt.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
			msg := readString(mod, ptr, length)
			e.panicMu.Lock()
			e.panicMsg = msg
			e.panicMu.Unlock()
			panic(msg)
		}).Export("panic").
		NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, level, tPtr, tLen, mPtr, mLen uint32) {
			e.queue.push(Log{
				Level:   level,
				Target:  readString(mod, tPtr, tLen),
				Message: readString(mod, mPtr, mLen),
			})
		}).Export("log").
		NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, chainID, ok, errPtr, errLen uint32) {
			var resErr error
			if ok == 0 {
				resErr = fmt.Errorf("%s", readString(mod, errPtr, errLen))
			}
			e.queue.push(AddChainResult{ChainID: chainID, Err: resErr})
		}).Export("add_chain_result").
		NewFunctionBuilder().WithFunc(func(_ context.Context, chainID uint32) {
			e.queue.push(JSONRPCResponsesReady{ChainID: chainID})
		}).Export("json_rpc_responses_non_empty").
		NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, connID, addrPtr, addrLen uint32) {
			e.queue.push(NewConnection{ConnID: connID, Address: readString(mod, addrPtr, addrLen)})
		}).Export("new_connection").
		NewFunctionBuilder().WithFunc(func(_ context.Context, connID uint32) {
			e.queue.push(ResetConnection{ConnID: connID})
		}).Export("connection_reset").
		NewFunctionBuilder().WithFunc(func(_ context.Context, connID uint32) {
			e.queue.push(OpenStream{ConnID: connID})
		}).Export("connection_stream_open").
		NewFunctionBuilder().WithFunc(func(_ context.Context, connID, streamID uint32) {
			e.queue.push(ResetStream{ConnID: connID, StreamID: streamID})
		}).Export("connection_stream_reset").
		NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, connID, ptr, length, stream, hasStream uint32) {
			data := make([]byte, length)
			copy(data, readBytes(mod, ptr, length))
			e.queue.push(StreamSend{ConnID: connID, Data: data, StreamID: u32ptr(stream, hasStream)})
		}).Export("stream_send").
		NewFunctionBuilder().WithFunc(func(_ context.Context, connID, stream, hasStream uint32) {
			e.queue.push(StreamSendClose{ConnID: connID, StreamID: u32ptr(stream, hasStream)})
		}).Export("stream_send_close").
		NewFunctionBuilder().WithFunc(func(_ context.Context) {
			e.queue.push(ShutdownComplete{})
		}).Export("shutdown_complete").
		NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
			buf := make([]byte, length)
			e.plat.FillRandom(buf)
			if !mod.Memory().Write(ptr, buf) {
				panic(fmt.Sprintf("engine: random_get out of range: ptr=%d len=%d", ptr, length))
			}
		}).Export("random_get").
		NewFunctionBuilder().WithFunc(func(_ context.Context) float64 {
			return float64(e.plat.Now().Milliseconds())
		}).Export("monotonic_ms").
		NewFunctionBuilder().WithFunc(func(_ context.Context) {
			select {
			case e.poke <- struct{}{}:
			default:
			}
		}).Export("execution_ready").
		Instantiate(ctx)
	return err
}

// runLoop is the only goroutine that touches the wasm instance after
// construction. Commands arrive as closures; pokes from the guest trigger
// advance_execution.
func (e *WazeroInstance) runLoop() {
	for {
		select {
		case fn := <-e.calls:
			fn()
		case <-e.poke:
			e.invoke("advance_execution")
		case <-e.stop:
			return
		}
	}
}

// do runs fn on the runLoop goroutine and waits for it. After teardown it
// returns without running fn.
func (e *WazeroInstance) do(fn func()) {
	done := make(chan struct{})
	select {
	case e.calls <- func() { fn(); close(done) }:
		<-done
	case <-e.stop:
	}
}

// invoke calls an exported function, treating any trap as a crash of the
// whole instance.
func (e *WazeroInstance) invoke(name string, args ...uint64) []uint64 {
	if e.dead.Load() {
		return nil
	}
	res, err := e.mod.ExportedFunction(name).Call(e.ctx, args...)
	if err != nil {
		e.crash(name, err)
		return nil
	}
	return res
}

func (e *WazeroInstance) crash(during string, err error) {
	if !e.dead.CompareAndSwap(false, true) {
		return
	}
	e.panicMu.Lock()
	msg := e.panicMsg
	e.panicMu.Unlock()
	if msg != "" {
		err = fmt.Errorf("engine panic: %s", msg)
	} else {
		err = fmt.Errorf("trap in %s: %w", during, err)
	}
	Logger().Error("engine crashed", zap.String("during", during), zap.Error(err))
	e.queue.push(Crashed{Err: err})
	e.queue.close()
	e.stopOnce.Do(func() { close(e.stop) })
}

// Close releases the wasm runtime. Call after the instance is no longer
// driven and its events are no longer consumed; undelivered events are
// dropped and the event channel closes.
func (e *WazeroInstance) Close(ctx context.Context) error {
	e.dead.Store(true)
	e.stopOnce.Do(func() { close(e.stop) })
	e.queue.stop()
	return e.rt.Close(ctx)
}

func (e *WazeroInstance) Events() <-chan Event { return e.queue.out }

func (e *WazeroInstance) AddChain(spec, databaseContent string, relayChains []uint32, disableJSONRPC bool, maxPendingRequests, maxSubscriptions uint32) {
	e.do(func() {
		specPtr := e.writeBytes([]byte(spec))
		dbPtr := e.writeBytes([]byte(databaseContent))
		relay := make([]byte, 4*len(relayChains))
		for i, id := range relayChains {
			binary.LittleEndian.PutUint32(relay[i*4:], id)
		}
		relayPtr := e.writeBytes(relay)
		var flags uint64
		if disableJSONRPC {
			flags = 1
		}
		e.invoke("add_chain",
			uint64(specPtr), uint64(len(spec)),
			uint64(dbPtr), uint64(len(databaseContent)),
			flags,
			uint64(relayPtr), uint64(len(relayChains)),
			uint64(maxPendingRequests), uint64(maxSubscriptions))
	})
}

func (e *WazeroInstance) RemoveChain(id uint32) {
	e.do(func() { e.invoke("remove_chain", uint64(id)) })
}

func (e *WazeroInstance) SendJSONRPC(request string, chain uint32) Status {
	status := StatusOK
	e.do(func() {
		ptr := e.writeBytes([]byte(request))
		res := e.invoke("json_rpc_send", uint64(ptr), uint64(len(request)), uint64(chain))
		if len(res) > 0 {
			status = Status(uint32(res[0]))
		}
	})
	return status
}

func (e *WazeroInstance) PeekJSONRPCResponse(chain uint32) (string, bool) {
	var (
		response string
		ok       bool
	)
	e.do(func() {
		// json_rpc_responses_peek returns a pointer to a {ptr u32, len u32}
		// pair; a zero length means the queue is empty.
		res := e.invoke("json_rpc_responses_peek", uint64(chain))
		if len(res) == 0 {
			return
		}
		pair := readBytes(e.mod, uint32(res[0]), 8)
		ptr := binary.LittleEndian.Uint32(pair[0:4])
		length := binary.LittleEndian.Uint32(pair[4:8])
		if length == 0 {
			return
		}
		response = readString(e.mod, ptr, length)
		ok = true
		e.invoke("json_rpc_responses_pop", uint64(chain))
	})
	return response, ok
}

func (e *WazeroInstance) ConnectionOpened(id uint32, multistream bool, initialWritableBytes uint32) {
	var ms uint64
	if multistream {
		ms = 1
	}
	e.do(func() {
		e.invoke("connection_opened", uint64(id), ms, uint64(initialWritableBytes))
	})
}

func (e *WazeroInstance) ConnectionReset(id uint32, message string) {
	e.do(func() {
		ptr := e.writeBytes([]byte(message))
		e.invoke("connection_reset", uint64(id), uint64(ptr), uint64(len(message)))
	})
}

func (e *WazeroInstance) StreamOpened(connID, streamID uint32, outbound bool, initialWritableBytes uint32) {
	var out uint64
	if outbound {
		out = 1
	}
	e.do(func() {
		e.invoke("stream_opened", uint64(connID), uint64(streamID), out, uint64(initialWritableBytes))
	})
}

func (e *WazeroInstance) StreamReset(connID, streamID uint32) {
	e.do(func() { e.invoke("stream_reset", uint64(connID), uint64(streamID)) })
}

func (e *WazeroInstance) StreamWritableBytes(connID uint32, numExtra uint32, stream *uint32) {
	sid, has := streamArg(stream)
	e.do(func() {
		e.invoke("stream_writable_bytes", uint64(connID), uint64(numExtra), sid, has)
	})
}

func (e *WazeroInstance) StreamMessage(connID uint32, data []byte, stream *uint32) {
	sid, has := streamArg(stream)
	e.do(func() {
		ptr := e.writeBytes(data)
		e.invoke("stream_message", uint64(connID), uint64(ptr), uint64(len(data)), sid, has)
	})
}

func (e *WazeroInstance) Shutdown() {
	e.do(func() { e.invoke("shutdown") })
}

// writeBytes copies data into guest memory via the exported allocator and
// returns the guest pointer. Must run on the runLoop goroutine.
func (e *WazeroInstance) writeBytes(data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}
	res := e.invoke("alloc", uint64(len(data)))
	if len(res) == 0 {
		return 0
	}
	ptr := uint32(res[0])
	if !e.mod.Memory().Write(ptr, data) {
		e.crash("alloc", fmt.Errorf("allocator returned out-of-range pointer %d", ptr))
		return 0
	}
	return ptr
}

func streamArg(stream *uint32) (sid, has uint64) {
	if stream == nil {
		return 0, 0
	}
	return uint64(*stream), 1
}

func readBytes(mod api.Module, ptr, length uint32) []byte {
	if length == 0 {
		return nil
	}
	buf, ok := mod.Memory().Read(ptr, length)
	if !ok {
		panic(fmt.Sprintf("engine: memory read out of range: ptr=%d len=%d", ptr, length))
	}
	return buf
}

func readString(mod api.Module, ptr, length uint32) string {
	return string(readBytes(mod, ptr, length))
}
